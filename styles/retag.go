package styles

import (
	"context"
	"fmt"

	"github.com/inkdex/search-go/models"
	"github.com/sirupsen/logrus"
)

const retagBatchSize = 50

// ImageTagStore reads images missing style tags and writes new ones.
type ImageTagStore interface {
	// UntaggedImages returns active, embedded images without tags whose ID
	// sorts after afterID, ordered by ID.
	UntaggedImages(ctx context.Context, afterID string, limit int) ([]models.PortfolioImage, error)
	WriteImageTags(ctx context.Context, tags []models.ImageStyleTag) error
}

// RetagResult summarizes one backfill run.
type RetagResult struct {
	Processed   int            `json:"processed"`
	Tagged      int            `json:"tagged"`
	NoStyles    int            `json:"noStyles"`
	StyleCounts map[string]int `json:"styleCounts"`
}

// Retagger backfills style tags with the same scoring as query classification.
type Retagger struct {
	store ImageTagStore
	seeds SeedSource
	opts  Options
}

func NewRetagger(store ImageTagStore, seeds SeedSource, opts Options) *Retagger {
	return &Retagger{store: store, seeds: seeds, opts: opts}
}

// Run tags up to limit untagged images in batches.
func (r *Retagger) Run(ctx context.Context, limit int) (RetagResult, error) {
	res := RetagResult{StyleCounts: map[string]int{}}
	seeds, err := r.seeds.StyleSeeds(ctx)
	if err != nil {
		return res, fmt.Errorf("load style seeds: %w", err)
	}

	after := ""
	for res.Processed < limit {
		n := min(retagBatchSize, limit-res.Processed)
		images, err := r.store.UntaggedImages(ctx, after, n)
		if err != nil {
			return res, fmt.Errorf("load untagged images: %w", err)
		}
		if len(images) == 0 {
			break
		}

		var tags []models.ImageStyleTag
		for _, img := range images {
			res.Processed++
			matches := Match(img.Embedding, seeds, r.opts)
			if len(matches) == 0 {
				res.NoStyles++
				continue
			}
			res.Tagged++
			for _, m := range matches {
				tags = append(tags, models.ImageStyleTag{ImageID: img.ID, Style: m.Style, Confidence: m.Confidence})
				res.StyleCounts[m.Style]++
			}
		}
		if len(tags) > 0 {
			if err := r.store.WriteImageTags(ctx, tags); err != nil {
				return res, fmt.Errorf("write style tags: %w", err)
			}
		}
		after = images[len(images)-1].ID

		logrus.WithFields(logrus.Fields{
			"processed": res.Processed,
			"tagged":    res.Tagged,
			"no_styles": res.NoStyles,
		}).Info("retag batch complete")

		if len(images) < n {
			break
		}
	}
	return res, nil
}
