// Package styles detects tattoo styles by comparing embeddings against
// labeled seed embeddings.
package styles

import (
	"sort"

	"github.com/inkdex/search-go/models"
	"github.com/inkdex/search-go/vector"
)

// Options bounds what Match returns.
type Options struct {
	MaxStyles     int
	MinConfidence float64
}

// DefaultOptions is shared by query classification and image retagging.
func DefaultOptions() Options {
	return Options{MaxStyles: 3, MinConfidence: 0.35}
}

// Match scores embedding against every seed and returns the styles at or above
// MinConfidence, highest first, ties broken by style name, at most MaxStyles.
func Match(embedding []float32, seeds []models.StyleSeed, opts Options) []models.StyleMatch {
	matches := make([]models.StyleMatch, 0, len(seeds))
	for _, seed := range seeds {
		c := vector.Cosine(embedding, seed.Embedding)
		if c >= opts.MinConfidence {
			matches = append(matches, models.StyleMatch{Style: seed.StyleName, Confidence: c})
		}
	}
	sort.SliceStable(matches, func(i, j int) bool {
		if matches[i].Confidence != matches[j].Confidence {
			return matches[i].Confidence > matches[j].Confidence
		}
		return matches[i].Style < matches[j].Style
	})
	if opts.MaxStyles > 0 && len(matches) > opts.MaxStyles {
		matches = matches[:opts.MaxStyles]
	}
	return matches
}

// Names returns the style names of matches in order.
func Names(matches []models.StyleMatch) []string {
	out := make([]string, len(matches))
	for i, m := range matches {
		out[i] = m.Style
	}
	return out
}
