package styles

import (
	"context"
	"sync"

	"github.com/inkdex/search-go/models"
	"github.com/inkdex/search-go/vector"
	"github.com/sirupsen/logrus"
)

// SeedSource loads the labeled style seed embeddings.
type SeedSource interface {
	StyleSeeds(ctx context.Context) ([]models.StyleSeed, error)
}

// Classifier tags query embeddings with styles. Seeds are loaded once and
// kept for the life of the process.
type Classifier struct {
	source SeedSource
	opts   Options

	mu    sync.Mutex
	seeds []models.StyleSeed
}

func NewClassifier(source SeedSource, opts Options) *Classifier {
	return &Classifier{source: source, opts: opts}
}

// Classify never fails: any problem is logged and yields no styles.
func (c *Classifier) Classify(ctx context.Context, embedding []float32) []models.StyleMatch {
	if err := vector.Validate(embedding); err != nil {
		logrus.WithError(err).Warn("style classification skipped")
		return []models.StyleMatch{}
	}
	seeds, err := c.loadSeeds(ctx)
	if err != nil {
		logrus.WithError(err).Warn("style seeds unavailable, skipping classification")
		return []models.StyleMatch{}
	}
	return Match(embedding, seeds, c.opts)
}

func (c *Classifier) loadSeeds(ctx context.Context) ([]models.StyleSeed, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.seeds != nil {
		return c.seeds, nil
	}
	seeds, err := c.source.StyleSeeds(ctx)
	if err != nil {
		return nil, err
	}
	valid := make([]models.StyleSeed, 0, len(seeds))
	for _, s := range seeds {
		if err := vector.Validate(s.Embedding); err != nil {
			logrus.WithField("style", s.StyleName).WithError(err).Warn("ignoring style seed")
			continue
		}
		valid = append(valid, s)
	}
	logrus.WithField("seeds", len(valid)).Info("style seeds loaded")
	// an empty set is retried on the next call, seeding may not have run yet
	if len(valid) > 0 {
		c.seeds = valid
	}
	return valid, nil
}
