// Package tokens counts model-relevant units in text.
//
// A Counter must be deterministic: the window builder re-counts stored
// messages on every request and expects the same answer it got when the
// message was saved.
package tokens

import (
	"fmt"
	"math"
	"unicode/utf8"

	"github.com/pkoukk/tiktoken-go"
	tiktoken_loader "github.com/pkoukk/tiktoken-go-loader"

	"github.com/comigor/calmchat/internal/config"
)

// Counter maps text to a non-negative token count. Count("") is 0.
type Counter interface {
	Count(text string) int
}

// CounterFunc adapts a function to Counter.
type CounterFunc func(text string) int

func (f CounterFunc) Count(text string) int { return f(text) }

// Tiktoken counts BPE tokens with a tiktoken encoding. The BPE ranks are
// compiled into the binary, so no network access is needed.
type Tiktoken struct {
	encoding *tiktoken.Tiktoken
}

// NewTiktoken loads the named encoding (e.g. "cl100k_base").
func NewTiktoken(encoding string) (*Tiktoken, error) {
	tiktoken.SetBpeLoader(tiktoken_loader.NewOfflineLoader())
	enc, err := tiktoken.GetEncoding(encoding)
	if err != nil {
		return nil, fmt.Errorf("load encoding %s: %w", encoding, err)
	}
	return &Tiktoken{encoding: enc}, nil
}

func (t *Tiktoken) Count(text string) int {
	if text == "" {
		return 0
	}
	// Special-token markers in user text are counted as ordinary text.
	return len(t.encoding.Encode(text, nil, nil))
}

// CharEstimator approximates tokens from the rune count. It overestimates
// for English prose at the default ratio, which keeps windows inside budget.
type CharEstimator struct {
	CharsPerToken float64
}

const defaultCharsPerToken = 4.0

func (e CharEstimator) Count(text string) int {
	runes := utf8.RuneCountInString(text)
	if runes == 0 {
		return 0
	}
	ratio := e.CharsPerToken
	if ratio <= 0 {
		ratio = defaultCharsPerToken
	}
	return int(math.Ceil(float64(runes) / ratio))
}

// New returns the Counter selected by cfg.
func New(cfg config.TokenizerConfig) (Counter, error) {
	switch cfg.Kind {
	case config.TokenizerChars:
		return CharEstimator{CharsPerToken: cfg.CharsPerToken}, nil
	case config.TokenizerTiktoken, "":
		encoding := cfg.Encoding
		if encoding == "" {
			encoding = "cl100k_base"
		}
		return NewTiktoken(encoding)
	default:
		return nil, fmt.Errorf("unknown tokenizer %q", cfg.Kind)
	}
}
