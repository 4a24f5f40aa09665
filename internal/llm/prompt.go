// Package llm holds the text-generation clients behind the summarizer
// capability.
package llm

import (
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/JakeFAU/site-summarizer/internal/scrape"
)

// Provider names accepted by New.
const (
	ProviderGemini = "gemini"
	ProviderOpenAI = "openai"
)

const defaultTimeout = 60 * time.Second

const promptTemplate = `Analyze the provided information and generate a summarized output using the specified structure.

### Content:
%s

### Structured JSON Output (MUST be valid JSON):
{
    "title": "A short title summarizing the topic",
    "description": "A 2/3 lines summary of the first couple of paragraphs of the content."
}

Return ONLY the JSON object, nothing else.`

// Prompt wraps page content in the summarization instructions.
func Prompt(content string) string {
	return fmt.Sprintf(promptTemplate, content)
}

// Config selects and configures a provider.
type Config struct {
	Provider string
	Endpoint string
	APIKey   string
	Model    string
	Timeout  time.Duration
}

// New builds the summarizer for cfg.Provider.
func New(cfg Config) (scrape.Summarizer, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Provider)) {
	case ProviderGemini, "":
		return NewGeminiClient(cfg)
	case ProviderOpenAI:
		return NewChatClient(cfg)
	default:
		return nil, fmt.Errorf("unknown summarizer provider %q: %w", cfg.Provider, scrape.ErrInvalidConfiguration)
	}
}

func newHTTPClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &http.Client{Timeout: timeout}
}

func responseError(provider string, resp *http.Response) error {
	payload, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
	return fmt.Errorf("%s error %s: %s", provider, resp.Status, strings.TrimSpace(string(payload)))
}
