// Package service runs the search pipeline: normalize, embed, classify,
// rank, persist and track.
package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/inkdex/search-go/embedding"
	"github.com/inkdex/search-go/models"
	"github.com/inkdex/search-go/normalize"
	"github.com/inkdex/search-go/records"
	"github.com/inkdex/search-go/search"
	"github.com/inkdex/search-go/styles"
	"github.com/inkdex/search-go/vector"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// images embedded at once for scraped profiles
const embedConcurrency = 4

// Filters narrow the ranked artists without changing the query.
type Filters struct {
	Location models.LocationFilter
	Style    string
}

// Page selects a window of the ranked artists. Zero Limit means the default.
type Page struct {
	Limit  int
	Offset int
}

// Request is one search submission.
type Request struct {
	Input   normalize.Input
	Filters Filters
	Page    Page
}

type Searcher struct {
	normalizer *normalize.Normalizer
	embedder   *embedding.Client
	classifier *styles.Classifier
	engine     *search.Engine
	records    *records.Store
}

func NewSearcher(n *normalize.Normalizer, e *embedding.Client, c *styles.Classifier, engine *search.Engine, r *records.Store) *Searcher {
	return &Searcher{normalizer: n, embedder: e, classifier: c, engine: engine, records: r}
}

// Submit ranks a new search, stores it and returns the requested page.
// Nothing is stored when ranking fails.
func (s *Searcher) Submit(ctx context.Context, req Request) (*models.SearchResponse, error) {
	start := time.Now()
	if err := search.CheckPage(req.Page.Limit, req.Page.Offset); err != nil {
		return nil, err
	}

	prepared, err := s.normalizer.Normalize(ctx, req.Input)
	if err != nil {
		return nil, err
	}
	q := prepared.Query
	log := logrus.WithField("query_type", q.Type)

	if q.Embedding, err = s.embed(ctx, prepared); err != nil {
		log.WithError(err).Error("embedding failed")
		return nil, err
	}
	q.DetectedStyles = s.classifier.Classify(ctx, q.Embedding)

	page, err := s.engine.Search(ctx, params(q.Embedding, q.ArtistIDSource, q.DetectedStyles, q.IsColor, req.Filters, req.Page))
	if err != nil {
		log.WithError(err).Error("ranking failed")
		return nil, err
	}

	searchID, err := s.records.Save(ctx, q)
	if err != nil {
		return nil, err
	}
	log = log.WithField("search_id", searchID)
	s.track(ctx, searchID, page)

	log.WithFields(logrus.Fields{
		"styles":     styles.Names(q.DetectedStyles),
		"total":      page.Total,
		"latency_ms": time.Since(start).Milliseconds(),
	}).Info("search completed")

	return response(searchID, q.Type, q.DetectedStyles, q.SearchedArtist, page), nil
}

// Results ranks a stored search again, so it can be revisited, shared and
// paged with different filters.
func (s *Searcher) Results(ctx context.Context, searchID string, f Filters, p Page) (*models.SearchResponse, error) {
	rec, err := s.records.Get(ctx, searchID)
	if err != nil {
		return nil, err
	}
	page, err := s.engine.Search(ctx, params(rec.Embedding, rec.ArtistIDSource, rec.DetectedStyles, rec.IsColor, f, p))
	if err != nil {
		return nil, err
	}
	s.track(ctx, rec.ID, page)

	logrus.WithFields(logrus.Fields{
		"search_id":  rec.ID,
		"query_type": rec.QueryType,
		"offset":     page.Offset,
		"total":      page.Total,
	}).Info("search results served")

	return response(rec.ID, rec.QueryType, rec.DetectedStyles, rec.SearchedArtist, page), nil
}

// Query is a stateless text search: nothing is stored or tracked.
func (s *Searcher) Query(ctx context.Context, text string, f Filters, p Page) (*models.SearchResponse, error) {
	prepared, err := s.normalizer.Normalize(ctx, normalize.Input{Type: models.QueryText, Text: text})
	if err != nil {
		return nil, err
	}
	emb, err := s.embed(ctx, prepared)
	if err != nil {
		return nil, err
	}
	matches := s.classifier.Classify(ctx, emb)
	page, err := s.engine.Search(ctx, params(emb, "", matches, nil, f, p))
	if err != nil {
		return nil, err
	}
	return response("", models.QueryText, matches, nil, page), nil
}

// Warmup wakes the embedding providers in the background.
func (s *Searcher) Warmup(ctx context.Context) bool {
	return s.embedder.Warmup(ctx)
}

func (s *Searcher) Health(ctx context.Context) embedding.HealthReport {
	return s.embedder.CheckHealth(ctx)
}

func (s *Searcher) embed(ctx context.Context, p *normalize.Prepared) ([]float32, error) {
	switch {
	case p.Embedding != nil:
		return p.Embedding, nil
	case p.EmbedText != "":
		return s.embedder.EmbedText(ctx, p.EmbedText)
	case len(p.Images) == 1:
		return s.embedder.EmbedImage(ctx, p.Images[0])
	case len(p.Images) > 1:
		return s.embedImages(ctx, p.Images)
	default:
		return nil, fmt.Errorf("%w: nothing to embed", models.ErrEmbeddingInvalid)
	}
}

// embedImages embeds every image and averages the results. Individual
// failures are skipped as long as one image embeds.
func (s *Searcher) embedImages(ctx context.Context, images [][]byte) ([]float32, error) {
	var (
		mu      sync.Mutex
		vectors [][]float32
		errs    []error
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(embedConcurrency)
	for i, img := range images {
		g.Go(func() error {
			emb, err := s.embedder.EmbedImage(gctx, img)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				logrus.WithError(err).WithField("image", i).Warn("skipping image that failed to embed")
				errs = append(errs, err)
				return nil
			}
			vectors = append(vectors, emb)
			return nil
		})
	}
	_ = g.Wait()

	if len(vectors) == 0 {
		return nil, errors.Join(errs...)
	}
	return vector.Centroid(vectors)
}

func params(emb []float32, exclude string, matches []models.StyleMatch, isColor *bool, f Filters, p Page) search.Params {
	return search.Params{
		Embeddings:      [][]float32{emb},
		Location:        f.Location,
		Style:           f.Style,
		Limit:           p.Limit,
		Offset:          p.Offset,
		ExcludeArtistID: exclude,
		QueryStyles:     styles.Names(matches),
		IsColor:         isColor,
	}
}

func (s *Searcher) track(ctx context.Context, searchID string, page *search.Page) {
	apps := make([]models.SearchAppearance, len(page.Results))
	for i, r := range page.Results {
		apps[i] = models.SearchAppearance{
			SearchID:        searchID,
			ArtistID:        r.Artist.ID,
			ImageID:         r.ImageID,
			Rank:            page.Offset + i + 1,
			SimilarityScore: r.Similarity,
			BoostedScore:    r.BoostedScore,
		}
	}
	s.records.TrackAppearances(ctx, apps)
}

func response(searchID string, qt models.QueryType, matches []models.StyleMatch, searched *models.SearchedArtist, page *search.Page) *models.SearchResponse {
	results := make([]models.ArtistResult, len(page.Results))
	for i, r := range page.Results {
		results[i] = r.Result()
	}
	if matches == nil {
		matches = []models.StyleMatch{}
	}
	return &models.SearchResponse{
		SearchID:       searchID,
		QueryType:      qt,
		Results:        results,
		DetectedStyles: matches,
		Total:          page.Total,
		Limit:          page.Limit,
		Offset:         page.Offset,
		SearchedArtist: searched,
	}
}
