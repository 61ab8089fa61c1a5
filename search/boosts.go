package search

import (
	"fmt"
	"slices"
)

const (
	maxTierBoost = 0.10
	maxBonus     = 0.05
)

// Boosts are the ranking adjustments applied on top of raw similarity.
//
// boosted = similarity * (1 + Pro + Featured) + Style + Color
//
// Pro and Featured only apply to artists with that tier, Style only when the
// artist's dominant style is among the query's detected styles, and Color only
// when the matched image's colour agrees with a known query colour.
type Boosts struct {
	Pro      float64
	Featured float64
	Style    float64
	Color    float64
}

func DefaultBoosts() Boosts {
	return Boosts{Pro: 0.05, Featured: 0.02, Style: 0.03, Color: 0.01}
}

// Validate keeps every boost non-negative and within its bound.
func (b Boosts) Validate() error {
	for _, f := range []struct {
		name  string
		value float64
		max   float64
	}{
		{"pro boost", b.Pro, maxTierBoost},
		{"featured boost", b.Featured, maxTierBoost},
		{"style bonus", b.Style, maxBonus},
		{"color bonus", b.Color, maxBonus},
	} {
		if f.value < 0 || f.value > f.max {
			return fmt.Errorf("%s %g out of range [0, %g]", f.name, f.value, f.max)
		}
	}
	return nil
}

// MaxBoost is the largest amount a candidate with similarity <= 1 can gain.
// A candidate whose similarity trails another's by more than this can never
// outrank it.
func (b Boosts) MaxBoost() float64 {
	return b.Pro + b.Featured + b.Style + b.Color
}

// Score computes the boosted score of c for a query with the given detected
// styles and colour.
func (b Boosts) Score(c Candidate, queryStyles []string, queryColor *bool) float64 {
	multiplier := 1.0
	if c.Artist.IsPro {
		multiplier += b.Pro
	}
	if c.Artist.IsFeatured {
		multiplier += b.Featured
	}
	score := c.Similarity * multiplier
	if c.Artist.DominantStyle != "" && slices.Contains(queryStyles, c.Artist.DominantStyle) {
		score += b.Style
	}
	if queryColor != nil && c.IsColor != nil && *queryColor == *c.IsColor {
		score += b.Color
	}
	return score
}
