package extract

import (
	"testing"

	"github.com/stretchr/testify/require"
)

const page = `<!doctype html>
<html>
<head><title> Acme Pricing </title><style>body{color:red}</style></head>
<body>
  <nav><a href="/about">About</a> <a href="https://other.org/x">Other</a></nav>
  <h1>Plans</h1>
  <p>Starter   costs
     nothing.</p>
  <script>window.track()</script>
  <a href="pricing#team">Team</a>
  <a href="">empty</a>
</body>
</html>`

func TestText(t *testing.T) {
	t.Parallel()

	text, err := Text(page)
	require.NoError(t, err)
	require.Equal(t, "Acme Pricing\nAbout Other Plans Starter costs nothing. Team empty", text)
}

func TestTextWithoutBody(t *testing.T) {
	t.Parallel()

	text, err := Text("just words")
	require.NoError(t, err)
	require.Equal(t, "just words", text)
}

func TestLinks(t *testing.T) {
	t.Parallel()

	links, err := Links(page, "https://acme.test/plans/")
	require.NoError(t, err)
	require.Equal(t, []string{
		"https://acme.test/about",
		"https://other.org/x",
		"https://acme.test/plans/pricing#team",
	}, links)
}

func TestLinksHonorsBaseElement(t *testing.T) {
	t.Parallel()

	links, err := Links(`<html><head><base href="https://cdn.acme.test/docs/"></head><body><a href="intro">x</a></body></html>`, "https://acme.test/")
	require.NoError(t, err)
	require.Equal(t, []string{"https://cdn.acme.test/docs/intro"}, links)
}
