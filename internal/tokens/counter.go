// Package tokens counts transcript tokens so long conversations can be trimmed
// to the assistant's context budget before each exchange.
package tokens

import (
	"fmt"
	"strings"
	"sync"

	"github.com/tiktoken-go/tokenizer"
)

// Counter counts tokens in plain text.
type Counter interface {
	CountText(text string) int
}

// TiktokenCounter counts tokens with the tiktoken encoding of a model family.
type TiktokenCounter struct {
	codec tokenizer.Codec
}

var (
	codecCache   = make(map[tokenizer.Encoding]tokenizer.Codec)
	codecCacheMu sync.RWMutex
)

// NewTiktokenCounter returns a counter for model, falling back to the
// encoding family when tiktoken does not know the exact model name.
func NewTiktokenCounter(model string) (*TiktokenCounter, error) {
	if codec, err := tokenizer.ForModel(tokenizer.Model(strings.ToLower(model))); err == nil {
		return &TiktokenCounter{codec: codec}, nil
	}

	encoding := modelToEncoding(model)

	codecCacheMu.RLock()
	cached, ok := codecCache[encoding]
	codecCacheMu.RUnlock()
	if ok {
		return &TiktokenCounter{codec: cached}, nil
	}

	codec, err := tokenizer.Get(encoding)
	if err != nil {
		return nil, fmt.Errorf("failed to get tokenizer encoding: %w", err)
	}

	codecCacheMu.Lock()
	codecCache[encoding] = codec
	codecCacheMu.Unlock()

	return &TiktokenCounter{codec: codec}, nil
}

// CountText implements Counter.
func (c *TiktokenCounter) CountText(text string) int {
	ids, _, err := c.codec.Encode(text)
	if err != nil {
		return estimate(text, defaultCharsPerToken)
	}
	return len(ids)
}

// modelToEncoding maps model names to encoding names.
//
// Encoding reference:
// - O200kBase: GPT-5, GPT-4.1, GPT-4o, O-series and newer models
// - Cl100kBase: GPT-4, GPT-3.5-turbo
func modelToEncoding(model string) tokenizer.Encoding {
	model = strings.ToLower(model)

	switch {
	case strings.HasPrefix(model, "gpt-5"),
		strings.HasPrefix(model, "gpt-4.1"),
		strings.HasPrefix(model, "gpt-4o"),
		strings.HasPrefix(model, "o1"), strings.HasPrefix(model, "o3"), strings.HasPrefix(model, "o4"):
		return tokenizer.O200kBase
	case strings.HasPrefix(model, "gpt-4"), strings.HasPrefix(model, "gpt-3.5"):
		return tokenizer.Cl100kBase
	default:
		return tokenizer.O200kBase
	}
}

const defaultCharsPerToken = 4.0

// Estimator approximates token counts from character length. It is the
// fallback when no tokenizer is available.
type Estimator struct {
	// CharsPerToken is the average characters per token (default: 4)
	CharsPerToken float64
}

// NewEstimator creates a new token estimator.
func NewEstimator() *Estimator {
	return &Estimator{CharsPerToken: defaultCharsPerToken}
}

// CountText implements Counter.
func (e *Estimator) CountText(text string) int {
	return estimate(text, e.CharsPerToken)
}

func estimate(text string, charsPerToken float64) int {
	if charsPerToken <= 0 {
		charsPerToken = defaultCharsPerToken
	}
	n := len([]rune(text))
	if n == 0 {
		return 0
	}
	return int(float64(n)/charsPerToken) + 1
}
