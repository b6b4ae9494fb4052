// Package tokens provides character-ratio token estimation. It backs the
// model.TokenCodec capability so the budgeter never depends on a concrete
// tokenizer.
package tokens

import (
	"sync"
	"unicode"
)

const (
	// defaultLatinCharsPerToken is conservative for Latin text; BPE
	// tokenizers average 3.5-4.5 characters per token.
	defaultLatinCharsPerToken = 4.0
	// defaultCJKCharsPerToken reflects that CJK text tokenizes close to
	// one-and-a-half characters per token.
	defaultCJKCharsPerToken = 1.5
	// smoothingFactor is the EMA weight given to a new observation when
	// calibrating against real provider usage.
	smoothingFactor = 0.3
)

// CharEstimator estimates token counts from character counts, with
// separate ratios for Latin and CJK runes. RecordUsage calibrates the
// overall scale from actual provider token usage via an exponential
// moving average, so estimates converge toward the real tokenizer's
// behavior for the content this service processes.
type CharEstimator struct {
	mu sync.RWMutex

	latinRatio float64
	cjkRatio   float64
	// scale multiplies the raw estimate; calibrated over time.
	scale        float64
	observations int
}

func NewCharEstimator() *CharEstimator {
	return &CharEstimator{
		latinRatio: defaultLatinCharsPerToken,
		cjkRatio:   defaultCJKCharsPerToken,
		scale:      1.0,
	}
}

func isCJK(r rune) bool {
	return unicode.Is(unicode.Han, r) ||
		unicode.Is(unicode.Hiragana, r) ||
		unicode.Is(unicode.Katakana, r) ||
		unicode.Is(unicode.Hangul, r)
}

// Count returns the estimated token count for text. Always rounds up;
// overestimating triggers truncation slightly early rather than risking
// context overflow at the provider.
func (e *CharEstimator) Count(text string) int {
	if text == "" {
		return 0
	}
	e.mu.RLock()
	latinRatio, cjkRatio, scale := e.latinRatio, e.cjkRatio, e.scale
	e.mu.RUnlock()

	var latin, cjk int
	for _, r := range text {
		if isCJK(r) {
			cjk++
		} else {
			latin++
		}
	}
	est := (float64(latin)/latinRatio + float64(cjk)/cjkRatio) * scale
	return int(est) + 1
}

// Truncate cuts text down so that its estimated token count does not
// exceed maxTokens. The cut is rune-safe and appends an ellipsis when
// anything was removed.
func (e *CharEstimator) Truncate(text string, maxTokens int) string {
	if maxTokens <= 0 {
		return ""
	}
	if e.Count(text) <= maxTokens {
		return text
	}

	runes := []rune(text)
	// Binary search the longest prefix that fits.
	lo, hi := 0, len(runes)
	for lo < hi {
		mid := (lo + hi + 1) / 2
		if e.Count(string(runes[:mid])) <= maxTokens {
			lo = mid
		} else {
			hi = mid - 1
		}
	}
	if lo >= len(runes) {
		return text
	}
	return string(runes[:lo]) + "..."
}

// RecordUsage calibrates the estimator from the actual prompt token
// count reported by the provider for the given text volume. The first
// observation replaces the default scale outright; later ones blend via
// EMA to smooth variation between turns.
func (e *CharEstimator) RecordUsage(estimated, actual int) {
	if actual <= 0 || estimated <= 0 {
		return
	}
	observed := float64(actual) / float64(estimated)

	e.mu.Lock()
	defer e.mu.Unlock()
	e.observations++
	if e.observations == 1 {
		e.scale = observed
		return
	}
	e.scale = smoothingFactor*observed + (1-smoothingFactor)*e.scale
}
