// Package chunker provides the fixed-size sliding-window splitter used to
// turn page text into retrievable chunks.
package chunker

import (
	"strings"

	"github.com/google/uuid"

	"healthq/internal/model"
)

// DefaultChunkSize is the default number of characters per chunk.
const DefaultChunkSize = 500

// DefaultChunkOverlap is the default number of overlapping characters.
const DefaultChunkOverlap = 50

type Chunker struct {
	size    int
	overlap int
}

// Option configures the chunker.
type Option func(*Chunker)

// WithChunkSize sets the window size in characters.
func WithChunkSize(size int) Option {
	return func(c *Chunker) {
		if size > 0 {
			c.size = size
		}
	}
}

// WithOverlap sets the overlap between neighbouring windows in characters.
func WithOverlap(overlap int) Option {
	return func(c *Chunker) {
		if overlap >= 0 {
			c.overlap = overlap
		}
	}
}

func New(opts ...Option) *Chunker {
	c := &Chunker{
		size:    DefaultChunkSize,
		overlap: DefaultChunkOverlap,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.overlap >= c.size {
		c.overlap = 0
	}
	return c
}

func (c *Chunker) Size() int { return c.size }

func (c *Chunker) Overlap() int { return c.overlap }

// Split windows every page independently, so no chunk spans two pages (and
// therefore never two documents). Blank pages produce no chunks.
func (c *Chunker) Split(pages []model.PageRecord) []model.Chunk {
	var chunks []model.Chunk
	for _, page := range pages {
		for i, text := range c.SplitText(page.Text) {
			chunks = append(chunks, model.Chunk{
				ID:         uuid.NewString(),
				DocumentID: page.DocumentID,
				Source:     page.Source,
				PageIndex:  page.PageIndex,
				Position:   i,
				Text:       text,
			})
		}
	}
	return chunks
}

// SplitText windows text by rune count. A text of n runes yields
// max(1, ceil((n-overlap)/(size-overlap))) windows; the last window always
// ends at the end of the text.
func (c *Chunker) SplitText(text string) []string {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	runes := []rune(text)
	step := c.size - c.overlap

	var windows []string
	for start := 0; ; start += step {
		end := start + c.size
		if end > len(runes) {
			end = len(runes)
		}
		windows = append(windows, string(runes[start:end]))
		if end == len(runes) {
			break
		}
	}
	return windows
}

// ExpectedCount is the closed form of len(SplitText(text)) for a non-blank
// text of n runes.
func (c *Chunker) ExpectedCount(n int) int {
	if n <= 0 {
		return 0
	}
	rest := n - c.overlap
	if rest < 0 {
		rest = 0
	}
	step := c.size - c.overlap
	count := (rest + step - 1) / step
	if count < 1 {
		count = 1
	}
	return count
}
