// Package search ranks artists by the visual similarity of their portfolio
// images to one or more query embeddings.
package search

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/inkdex/search-go/models"
	"github.com/inkdex/search-go/vector"
	"github.com/sirupsen/logrus"
)

const (
	DefaultLimit         = 20
	MaxLimit             = 100
	DefaultCandidatePool = 2000
	DefaultMinSimilarity = 0.15
)

// Candidate is one portfolio image returned by the index together with the
// artist fields ranking and display need.
type Candidate struct {
	ImageID      string
	Similarity   float64
	IsColor      *bool
	ThumbnailURL string
	Artist       models.Artist
}

// CandidateQuery is a single pre-filtered nearest-neighbour lookup. The index
// only returns active, embedded, tattoo images of non-deleted artists.
type CandidateQuery struct {
	Embedding       []float32
	Location        models.LocationFilter
	Style           string
	ExcludeArtistID string
	MinSimilarity   float64
	Limit           int
}

// Index retrieves nearest portfolio images ordered by similarity descending.
type Index interface {
	Candidates(ctx context.Context, q CandidateQuery) ([]Candidate, error)
}

// Params describes one ranked search.
type Params struct {
	Embeddings      [][]float32
	Location        models.LocationFilter
	Style           string
	Limit           int
	Offset          int
	ExcludeArtistID string
	QueryStyles     []string
	IsColor         *bool
}

// Page is one page of ranked artists. Total counts every deduplicated artist.
type Page struct {
	Results []Ranked
	Total   int
	Limit   int
	Offset  int
}

// Ranked is an artist with its best image and scores.
type Ranked struct {
	Candidate
	BoostedScore float64
}

// Result converts r to its API form.
func (r Ranked) Result() models.ArtistResult {
	return models.ArtistResult{
		ArtistID:      r.Artist.ID,
		Name:          r.Artist.Name,
		Handle:        r.Artist.InstagramHandle,
		City:          r.Artist.City,
		State:         r.Artist.State,
		CountryCode:   r.Artist.CountryCode,
		ImageID:       r.ImageID,
		ThumbnailURL:  r.ThumbnailURL,
		Similarity:    r.Similarity,
		BoostedScore:  r.BoostedScore,
		IsPro:         r.Artist.IsPro,
		IsFeatured:    r.Artist.IsFeatured,
		FollowerCount: r.Artist.FollowerCount,
	}
}

// Config tunes an Engine. A zero CandidatePool or MinSimilarity selects the default.
type Config struct {
	Boosts        Boosts
	CandidatePool int
	MinSimilarity float64
}

// Engine ranks artists over an Index. It never writes.
type Engine struct {
	index  Index
	boosts Boosts
	pool   int
	minSim float64
}

func NewEngine(index Index, cfg Config) (*Engine, error) {
	if err := cfg.Boosts.Validate(); err != nil {
		return nil, err
	}
	if cfg.CandidatePool <= 0 {
		cfg.CandidatePool = DefaultCandidatePool
	}
	if cfg.MinSimilarity == 0 {
		cfg.MinSimilarity = DefaultMinSimilarity
	}
	return &Engine{index: index, boosts: cfg.Boosts, pool: cfg.CandidatePool, minSim: cfg.MinSimilarity}, nil
}

// Boosts returns the engine's ranking adjustments.
func (e *Engine) Boosts() Boosts {
	return e.boosts
}

// CheckPage validates a requested page window. A zero limit means DefaultLimit.
func CheckPage(limit, offset int) error {
	if limit != 0 && (limit < 1 || limit > MaxLimit) {
		return models.NewValidationError("limit", "must be between 1 and %d", MaxLimit)
	}
	if offset < 0 {
		return models.NewValidationError("offset", "must not be negative")
	}
	return nil
}

func (p *Params) normalize() error {
	if err := CheckPage(p.Limit, p.Offset); err != nil {
		return err
	}
	if p.Limit == 0 {
		p.Limit = DefaultLimit
	}
	if len(p.Embeddings) == 0 {
		return fmt.Errorf("%w: no query embedding", models.ErrEmbeddingInvalid)
	}
	for _, emb := range p.Embeddings {
		if err := vector.Validate(emb); err != nil {
			return err
		}
	}
	return nil
}

// Search retrieves candidates, keeps each artist's best image, ranks by
// boosted score and returns the requested page.
func (e *Engine) Search(ctx context.Context, p Params) (*Page, error) {
	if err := p.normalize(); err != nil {
		return nil, err
	}

	best := make(map[string]Candidate)
	for _, emb := range p.Embeddings {
		cands, err := e.index.Candidates(ctx, CandidateQuery{
			Embedding:       emb,
			Location:        p.Location,
			Style:           p.Style,
			ExcludeArtistID: p.ExcludeArtistID,
			MinSimilarity:   e.minSim,
			Limit:           e.pool,
		})
		if err != nil {
			if errors.Is(err, models.ErrSearchBackendUnavailable) {
				return nil, err
			}
			return nil, fmt.Errorf("%w: %w", models.ErrSearchBackendUnavailable, err)
		}
		for _, c := range cands {
			if prev, ok := best[c.ImageID]; !ok || c.Similarity > prev.Similarity {
				best[c.ImageID] = c
			}
		}
	}

	ranked := e.rank(dedupeByArtist(best, p.ExcludeArtistID), p.QueryStyles, p.IsColor)

	page := &Page{Total: len(ranked), Limit: p.Limit, Offset: p.Offset, Results: []Ranked{}}
	if p.Offset < len(ranked) {
		end := min(p.Offset+p.Limit, len(ranked))
		page.Results = ranked[p.Offset:end]
	}

	logrus.WithFields(logrus.Fields{
		"queries":    len(p.Embeddings),
		"candidates": len(best),
		"artists":    page.Total,
		"returned":   len(page.Results),
	}).Debug("search ranked")
	return page, nil
}

// dedupeByArtist keeps each artist's highest-similarity image, the lower
// image ID on ties.
func dedupeByArtist(images map[string]Candidate, exclude string) []Candidate {
	byArtist := make(map[string]Candidate)
	for _, c := range images {
		if c.Artist.ID == "" || c.Artist.ID == exclude {
			continue
		}
		prev, ok := byArtist[c.Artist.ID]
		if !ok || c.Similarity > prev.Similarity || (c.Similarity == prev.Similarity && c.ImageID < prev.ImageID) {
			byArtist[c.Artist.ID] = c
		}
	}
	out := make([]Candidate, 0, len(byArtist))
	for _, c := range byArtist {
		out = append(out, c)
	}
	return out
}

func (e *Engine) rank(cands []Candidate, queryStyles []string, queryColor *bool) []Ranked {
	ranked := make([]Ranked, len(cands))
	for i, c := range cands {
		ranked[i] = Ranked{Candidate: c, BoostedScore: e.boosts.Score(c, queryStyles, queryColor)}
	}
	sort.Slice(ranked, func(i, j int) bool {
		a, b := ranked[i], ranked[j]
		if a.BoostedScore != b.BoostedScore {
			return a.BoostedScore > b.BoostedScore
		}
		if a.Similarity != b.Similarity {
			return a.Similarity > b.Similarity
		}
		return a.Artist.ID < b.Artist.ID
	})
	return ranked
}
