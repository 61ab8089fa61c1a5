package storage

import (
	"context"
	"errors"
	"math"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/inkdex/search-go/models"
	"github.com/inkdex/search-go/records"
	"github.com/inkdex/search-go/search"
)

// along returns a unit vector whose cosine with the first axis is sim.
func along(sim float64) []float32 {
	v := make([]float32, models.EmbeddingDim)
	v[0] = float32(sim)
	v[1] = float32(math.Sqrt(1 - sim*sim))
	return v
}

func axis() []float32 { return along(1) }

func boolPtr(b bool) *bool { return &b }

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "search.db"))
	if err != nil {
		t.Fatalf("NewSQLiteStore failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func seedCatalog(t *testing.T, s *SQLiteStore) {
	t.Helper()
	ctx := context.Background()
	deleted := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	artists := []models.Artist{
		{ID: "a1", Name: "Ada", InstagramHandle: "ada.ink", City: "Austin", State: "TX", CountryCode: "US", IsPro: true},
		{ID: "a2", Name: "Bo", InstagramHandle: "bo_tattoo", City: "Berlin", CountryCode: "DE"},
		{ID: "a3", Name: "Cy", InstagramHandle: "cy", City: "Austin", State: "TX", CountryCode: "US", DeletedAt: &deleted},
	}
	for _, a := range artists {
		if err := s.PutArtist(ctx, a); err != nil {
			t.Fatalf("PutArtist(%s) failed: %v", a.ID, err)
		}
	}
	images := []models.PortfolioImage{
		{ID: "i1", ArtistID: "a1", Embedding: along(0.9), IsColor: boolPtr(true), Styles: []string{"traditional"}},
		{ID: "i2", ArtistID: "a1", Embedding: along(0.5)},
		{ID: "i3", ArtistID: "a2", Embedding: along(0.8), Styles: []string{"blackwork"}},
		{ID: "i4", ArtistID: "a2", Embedding: along(0.95), IsTattoo: boolPtr(false)},
		{ID: "i5", ArtistID: "a2", Embedding: along(0.99), Status: models.ImagePending},
		{ID: "i6", ArtistID: "a3", Embedding: along(0.97)},
		{ID: "i7", ArtistID: "a2", Embedding: along(0.1)},
		{ID: "i8", ArtistID: "a1"},
	}
	for _, img := range images {
		if err := s.PutImage(ctx, img); err != nil {
			t.Fatalf("PutImage(%s) failed: %v", img.ID, err)
		}
	}
	if err := s.PutStyleProfile(ctx, "a1", "traditional", 70); err != nil {
		t.Fatal(err)
	}
	if err := s.PutStyleProfile(ctx, "a1", "japanese", 30); err != nil {
		t.Fatal(err)
	}
}

func imageIDs(cands []search.Candidate) []string {
	ids := make([]string, len(cands))
	for i, c := range cands {
		ids[i] = c.ImageID
	}
	return ids
}

func sameIDs(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestCandidatesFiltersAndOrders(t *testing.T) {
	s := newTestStore(t)
	seedCatalog(t, s)
	ctx := context.Background()

	tests := []struct {
		name  string
		query search.CandidateQuery
		want  []string
	}{
		{
			name:  "only searchable images above threshold",
			query: search.CandidateQuery{MinSimilarity: 0.15, Limit: 100},
			want:  []string{"i1", "i3", "i2"},
		},
		{
			name:  "limit",
			query: search.CandidateQuery{MinSimilarity: 0.15, Limit: 2},
			want:  []string{"i1", "i3"},
		},
		{
			name:  "city filter is case insensitive",
			query: search.CandidateQuery{Location: models.LocationFilter{City: "austin"}, MinSimilarity: 0.15, Limit: 100},
			want:  []string{"i1", "i2"},
		},
		{
			name:  "country filter",
			query: search.CandidateQuery{Location: models.LocationFilter{CountryCode: "de"}, MinSimilarity: 0.15, Limit: 100},
			want:  []string{"i3"},
		},
		{
			name:  "style filter",
			query: search.CandidateQuery{Style: "blackwork", MinSimilarity: 0.15, Limit: 100},
			want:  []string{"i3"},
		},
		{
			name:  "excluded artist",
			query: search.CandidateQuery{ExcludeArtistID: "a1", MinSimilarity: 0.15, Limit: 100},
			want:  []string{"i3"},
		},
		{
			name:  "low threshold admits weak matches",
			query: search.CandidateQuery{MinSimilarity: 0.05, Limit: 100},
			want:  []string{"i1", "i3", "i2", "i7"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.query.Embedding = axis()
			got, err := s.Candidates(ctx, tt.query)
			if err != nil {
				t.Fatalf("Candidates failed: %v", err)
			}
			if ids := imageIDs(got); !sameIDs(ids, tt.want) {
				t.Errorf("expected %v, got %v", tt.want, ids)
			}
		})
	}
}

func TestCandidatesCarryArtistFields(t *testing.T) {
	s := newTestStore(t)
	seedCatalog(t, s)

	got, err := s.Candidates(context.Background(), search.CandidateQuery{Embedding: axis(), MinSimilarity: 0.85, Limit: 10})
	if err != nil {
		t.Fatalf("Candidates failed: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected 1 candidate, got %d", len(got))
	}
	c := got[0]
	if math.Abs(c.Similarity-0.9) > 1e-4 {
		t.Errorf("expected similarity 0.9, got %f", c.Similarity)
	}
	if c.Artist.ID != "a1" || !c.Artist.IsPro || c.Artist.DominantStyle != "traditional" {
		t.Errorf("unexpected artist fields: %+v", c.Artist)
	}
	if c.IsColor == nil || !*c.IsColor {
		t.Error("expected is_color to round-trip")
	}

	if _, err := s.Candidates(context.Background(), search.CandidateQuery{Embedding: []float32{1}}); !errors.Is(err, models.ErrEmbeddingInvalid) {
		t.Errorf("expected ErrEmbeddingInvalid, got %v", err)
	}
}

func TestEngineOverSQLite(t *testing.T) {
	s := newTestStore(t)
	seedCatalog(t, s)

	engine, err := search.NewEngine(s, search.Config{})
	if err != nil {
		t.Fatal(err)
	}
	page, err := engine.Search(context.Background(), search.Params{Embeddings: [][]float32{axis()}})
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if page.Total != 2 {
		t.Fatalf("expected 2 deduplicated artists, got %d", page.Total)
	}
	if page.Results[0].Artist.ID != "a1" || page.Results[0].ImageID != "i1" {
		t.Errorf("expected a1 via i1 first, got %s via %s", page.Results[0].Artist.ID, page.Results[0].ImageID)
	}
}

func TestArtistLookups(t *testing.T) {
	s := newTestStore(t)
	seedCatalog(t, s)
	ctx := context.Background()

	a, err := s.ArtistByHandle(ctx, "ADA.INK")
	if err != nil {
		t.Fatalf("ArtistByHandle failed: %v", err)
	}
	if a.ID != "a1" || a.City != "Austin" {
		t.Errorf("unexpected artist %+v", a)
	}
	if _, err := s.ArtistByID(ctx, "a3"); !errors.Is(err, models.ErrNotFound) {
		t.Errorf("deleted artist: expected ErrNotFound, got %v", err)
	}
	if _, err := s.ArtistByID(ctx, "missing"); !errors.Is(err, models.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}

	images, err := s.ArtistImages(ctx, "a1")
	if err != nil {
		t.Fatalf("ArtistImages failed: %v", err)
	}
	if len(images) != 2 {
		t.Fatalf("expected 2 embedded images, got %d", len(images))
	}
	if len(images[0].Embedding) != models.EmbeddingDim {
		t.Errorf("expected decoded embedding, got %d values", len(images[0].Embedding))
	}
}

func TestStyleSeedsAndTags(t *testing.T) {
	s := newTestStore(t)
	seedCatalog(t, s)
	ctx := context.Background()

	if err := s.PutStyleSeed(ctx, models.StyleSeed{StyleName: "traditional", Embedding: axis()}); err != nil {
		t.Fatalf("PutStyleSeed failed: %v", err)
	}
	if err := s.PutStyleSeed(ctx, models.StyleSeed{StyleName: "broken", Embedding: []float32{1}}); err == nil {
		t.Error("expected invalid seed embedding to be rejected")
	}
	seeds, err := s.StyleSeeds(ctx)
	if err != nil {
		t.Fatalf("StyleSeeds failed: %v", err)
	}
	if len(seeds) != 1 || seeds[0].DisplayName != "traditional" {
		t.Errorf("unexpected seeds %+v", seeds)
	}

	untagged, err := s.UntaggedImages(ctx, "", 10)
	if err != nil {
		t.Fatalf("UntaggedImages failed: %v", err)
	}
	// i4 (non-tattoo) is still retagged, pending i5 and unembedded i8 are not
	var ids []string
	for _, img := range untagged {
		ids = append(ids, img.ID)
	}
	if !sameIDs(ids, []string{"i2", "i4", "i6", "i7"}) {
		t.Errorf("unexpected untagged images %v", ids)
	}

	after, err := s.UntaggedImages(ctx, "i4", 1)
	if err != nil || len(after) != 1 || after[0].ID != "i6" {
		t.Errorf("expected keyset page [i6], got %v (%v)", after, err)
	}

	tags := []models.ImageStyleTag{{ImageID: "i2", Style: "japanese", Confidence: 0.4}}
	if err := s.WriteImageTags(ctx, tags); err != nil {
		t.Fatalf("WriteImageTags failed: %v", err)
	}
	tags[0].Confidence = 0.5
	if err := s.WriteImageTags(ctx, tags); err != nil {
		t.Fatalf("WriteImageTags must upsert: %v", err)
	}
	untagged, _ = s.UntaggedImages(ctx, "", 10)
	for _, img := range untagged {
		if img.ID == "i2" {
			t.Error("tagged image still reported as untagged")
		}
	}
}

func TestSearchRecordRoundTrip(t *testing.T) {
	s := newTestStore(t)
	store := records.NewStore(s)
	ctx := context.Background()

	handle := "ada.ink"
	id, err := store.Save(ctx, models.Query{
		Type:              models.QueryInstagramProfile,
		QueryText:         "Artists similar to @" + handle,
		Embedding:         axis(),
		DetectedStyles:    []models.StyleMatch{{Style: "traditional", Confidence: 0.5}},
		IsColor:           boolPtr(false),
		InstagramUsername: handle,
		SearchedArtist:    &models.SearchedArtist{InstagramHandle: handle, Name: "Ada", Images: []string{"https://cdn/1.jpg"}},
	})
	if err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	rec, err := store.Get(ctx, id)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if rec.QueryType != models.QueryInstagramProfile || rec.InstagramUsername != handle {
		t.Errorf("unexpected record %+v", rec)
	}
	if rec.PrimaryStyle != "traditional" || len(rec.DetectedStyles) != 1 {
		t.Errorf("expected style metadata, got %q %v", rec.PrimaryStyle, rec.DetectedStyles)
	}
	if rec.IsColor == nil || *rec.IsColor {
		t.Error("expected is_color false")
	}
	if rec.SearchedArtist == nil || rec.SearchedArtist.Name != "Ada" {
		t.Errorf("expected searched artist snapshot, got %+v", rec.SearchedArtist)
	}
	if len(rec.Embedding) != models.EmbeddingDim {
		t.Errorf("expected stored embedding, got %d values", len(rec.Embedding))
	}

	if _, err := store.Get(ctx, uuid.NewString()); !errors.Is(err, models.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestSearchRecordOnStaleSchema(t *testing.T) {
	s, err := openSQLite(filepath.Join(t.TempDir(), "stale.db"), 1)
	if err != nil {
		t.Fatalf("openSQLite failed: %v", err)
	}
	defer s.Close()

	rec := &models.SearchRecord{ID: uuid.NewString(), QueryType: models.QueryText, Embedding: axis(), CreatedAt: time.Now()}
	if err := s.InsertSearch(context.Background(), rec, true); !errors.Is(err, records.ErrMissingColumn) {
		t.Fatalf("expected ErrMissingColumn, got %v", err)
	}

	store := records.NewStore(s)
	id, err := store.Save(context.Background(), models.Query{
		Type:           models.QueryText,
		QueryText:      "fine line rose",
		Embedding:      axis(),
		DetectedStyles: []models.StyleMatch{{Style: "fine-line", Confidence: 0.6}},
	})
	if err != nil {
		t.Fatalf("Save must degrade on a stale schema: %v", err)
	}
	got, err := store.Get(context.Background(), id)
	if err != nil {
		t.Fatalf("Get failed on stale schema: %v", err)
	}
	if got.QueryText != "fine line rose" || got.PrimaryStyle != "" {
		t.Errorf("unexpected record %+v", got)
	}
}

func TestAppearances(t *testing.T) {
	s := newTestStore(t)
	store := records.NewStore(s)
	ctx := context.Background()

	id, err := store.Save(ctx, models.Query{Type: models.QueryText, QueryText: "koi", Embedding: axis()})
	if err != nil {
		t.Fatal(err)
	}
	store.TrackAppearances(ctx, []models.SearchAppearance{
		{SearchID: id, ArtistID: "a2", ImageID: "i3", Rank: 2, SimilarityScore: 0.8, BoostedScore: 0.8},
		{SearchID: id, ArtistID: "a1", ImageID: "i1", Rank: 1, SimilarityScore: 0.9, BoostedScore: 0.945},
	})
	store.Wait()

	apps, err := s.Appearances(ctx, id)
	if err != nil {
		t.Fatalf("Appearances failed: %v", err)
	}
	if len(apps) != 2 || apps[0].ArtistID != "a1" || apps[1].Rank != 2 {
		t.Errorf("unexpected appearances %+v", apps)
	}
}

func TestIndexPoints(t *testing.T) {
	s := newTestStore(t)
	seedCatalog(t, s)

	points, err := s.IndexPoints(context.Background(), "", 100)
	if err != nil {
		t.Fatalf("IndexPoints failed: %v", err)
	}
	// every embedded image is exported, searchable or not
	if len(points) != 7 {
		t.Fatalf("expected 7 points, got %d", len(points))
	}
	byID := map[string]IndexPoint{}
	for _, p := range points {
		byID[p.ImageID] = p
	}
	if !byID["i1"].Searchable || len(byID["i1"].Styles) != 1 || byID["i1"].Styles[0] != "traditional" {
		t.Errorf("unexpected point i1: searchable=%v styles=%v", byID["i1"].Searchable, byID["i1"].Styles)
	}
	if locs := byID["i1"].Locations; len(locs) != 1 || locs[0].City != "Austin" {
		t.Errorf("expected i1 exported with its artist's location, got %v", locs)
	}
	for _, id := range []string{"i4", "i5", "i6"} {
		if byID[id].Searchable {
			t.Errorf("%s must not be searchable", id)
		}
	}

	page, _ := s.IndexPoints(context.Background(), "i5", 100)
	if len(page) != 2 || page[0].ImageID != "i6" {
		t.Errorf("expected keyset page starting at i6, got %d points", len(page))
	}
}
