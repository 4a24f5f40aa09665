package pipeline

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/JakeFAU/site-summarizer/internal/scrape"
)

// FallbackTitle is recorded when a summarizer answer cannot be parsed.
const FallbackTitle = "Error parsing content"

var (
	fencedBlock = regexp.MustCompile("(?s)```[A-Za-z]*\\s*(.*?)\\s*```")

	errEmptyAnswer = errors.New("empty summarizer answer")
)

// ParseDigest decodes a {title, description} object from a raw model answer,
// stripping a surrounding fenced code block first. Both fields must be strings.
func ParseDigest(raw string) (scrape.Digest, error) {
	text := strings.TrimSpace(raw)
	if text == "" {
		return scrape.Digest{}, errEmptyAnswer
	}
	if match := fencedBlock.FindStringSubmatch(text); match != nil {
		text = strings.TrimSpace(match[1])
	}
	var payload struct {
		Title       *string `json:"title"`
		Description *string `json:"description"`
	}
	if err := json.Unmarshal([]byte(text), &payload); err != nil {
		return scrape.Digest{}, fmt.Errorf("decode digest: %w", err)
	}
	if payload.Title == nil || payload.Description == nil {
		return scrape.Digest{}, errors.New("digest must contain title and description")
	}
	return scrape.Digest{Title: *payload.Title, Description: *payload.Description}, nil
}

// FallbackDigest builds the placeholder digest for an unparsable answer.
func FallbackDigest(content string, descriptionChars int) scrape.Digest {
	return scrape.Digest{
		Title:       FallbackTitle,
		Description: Truncate(content, descriptionChars),
	}
}

// Truncate returns at most maxChars runes of s.
func Truncate(s string, maxChars int) string {
	if maxChars <= 0 {
		return ""
	}
	if utf8.RuneCountInString(s) <= maxChars {
		return s
	}
	count := 0
	for i := range s {
		if count == maxChars {
			return s[:i]
		}
		count++
	}
	return s
}
