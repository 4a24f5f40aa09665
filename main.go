// The main package for the site-summarizer executable.
package main

import (
	"github.com/JakeFAU/site-summarizer/cmd"
)

func main() {
	cmd.Execute()
}
