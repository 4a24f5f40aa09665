package pipeline

import (
	"fmt"

	"github.com/JakeFAU/site-summarizer/internal/scrape"
)

// Plan splits urls into ordered batches of at most batchSize entries. The
// concatenation of the batches equals urls; nothing is reordered or removed.
func Plan(urls []string, batchSize int) ([][]string, error) {
	if batchSize <= 0 {
		return nil, fmt.Errorf("%w: batch size must be > 0, got %d", scrape.ErrInvalidConfiguration, batchSize)
	}
	if len(urls) == 0 {
		return nil, nil
	}
	batches := make([][]string, 0, (len(urls)+batchSize-1)/batchSize)
	for start := 0; start < len(urls); start += batchSize {
		end := min(start+batchSize, len(urls))
		batch := make([]string, end-start)
		copy(batch, urls[start:end])
		batches = append(batches, batch)
	}
	return batches, nil
}
