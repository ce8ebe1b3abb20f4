// Package tokens counts model tokens for chunk sizing and rate-limit budgets.
package tokens

import (
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/pkoukk/tiktoken-go"
	"golang.org/x/sync/singleflight"
)

const (
	defaultEncoding = "cl100k_base"

	// CharsPerToken is the heuristic used when no tokenizer is available
	CharsPerToken = 4
)

// Counter counts tokens in a text.
type Counter interface {
	Count(text string) int
}

// Estimate counts tokens as bytes / 4, rounded up.
type Estimate struct{}

// Count implements Counter.
func (Estimate) Count(text string) int {
	if text == "" {
		return 0
	}
	return (len(text) + CharsPerToken - 1) / CharsPerToken
}

type tiktokenCounter struct {
	encoder *tiktoken.Tiktoken
}

func (c *tiktokenCounter) Count(text string) int {
	return len(c.encoder.Encode(text, nil, nil))
}

var (
	counters sync.Map
	builds   singleflight.Group
)

// ForModel returns a cached tiktoken counter for model, falling back to the
// cl100k_base encoding and finally to Estimate when no encoding can be loaded.
func ForModel(model string) Counter {
	key := strings.TrimSpace(model)
	if cached, ok := counters.Load(key); ok {
		return cached.(Counter)
	}
	v, err, _ := builds.Do(key, func() (any, error) {
		enc, err := resolveEncoder(key)
		if err != nil {
			return nil, err
		}
		return &tiktokenCounter{encoder: enc}, nil
	})
	var c Counter = Estimate{}
	if err != nil {
		slog.Warn("tokenizer unavailable, using estimate", "model", key, "error", err)
	} else {
		c = v.(Counter)
	}
	counters.Store(key, c)
	return c
}

func resolveEncoder(model string) (*tiktoken.Tiktoken, error) {
	if model != "" {
		if enc, err := tiktoken.EncodingForModel(model); err == nil {
			return enc, nil
		}
	}
	enc, err := tiktoken.GetEncoding(defaultEncoding)
	if err != nil {
		return nil, fmt.Errorf("get default encoding: %w", err)
	}
	return enc, nil
}
