package normalize

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"image"
	"image/color"
	"image/png"
	"hash/crc32"
	"strings"
	"testing"

	"github.com/inkdex/search-go/instagram"
	"github.com/inkdex/search-go/models"
)

func encodePNG(t *testing.T, c color.Color) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 32, 32))
	for y := 0; y < 32; y++ {
		for x := 0; x < 32; x++ {
			img.Set(x, y, c)
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	return buf.Bytes()
}

// pngHeader returns a PNG that declares w x h grayscale pixels but carries
// only the IHDR chunk, enough for DecodeConfig.
func pngHeader(w, h uint32) []byte {
	ihdr := make([]byte, 13)
	binary.BigEndian.PutUint32(ihdr[0:], w)
	binary.BigEndian.PutUint32(ihdr[4:], h)
	ihdr[8] = 8 // bit depth, color type 0 (gray)

	var buf bytes.Buffer
	buf.WriteString("\x89PNG\r\n\x1a\n")
	binary.Write(&buf, binary.BigEndian, uint32(len(ihdr)))
	chunk := append([]byte("IHDR"), ihdr...)
	buf.Write(chunk)
	binary.Write(&buf, binary.BigEndian, crc32.ChecksumIEEE(chunk))
	return buf.Bytes()
}

func embedding(i int) []float32 {
	v := make([]float32, models.EmbeddingDim)
	v[i] = 1
	return v
}

const artistID = "3f2b8c1e-9a4d-4e6f-8b7a-1c2d3e4f5a6b"

type fakeArtists struct {
	artists map[string]*models.Artist
	images  map[string][]models.PortfolioImage
}

func (f *fakeArtists) ArtistByID(ctx context.Context, id string) (*models.Artist, error) {
	if a, ok := f.artists[id]; ok {
		return a, nil
	}
	return nil, models.ErrNotFound
}

func (f *fakeArtists) ArtistByHandle(ctx context.Context, handle string) (*models.Artist, error) {
	for _, a := range f.artists {
		if a.InstagramHandle == handle {
			return a, nil
		}
	}
	return nil, models.ErrNotFound
}

func (f *fakeArtists) ArtistImages(ctx context.Context, id string) ([]models.PortfolioImage, error) {
	return f.images[id], nil
}

type fakeFetcher struct {
	post    *instagram.Post
	profile *instagram.Profile
	images  map[string][]byte
	err     error
}

func (f *fakeFetcher) FetchPost(ctx context.Context, id string) (*instagram.Post, error) {
	return f.post, f.err
}

func (f *fakeFetcher) FetchProfileImages(ctx context.Context, username string, limit int) (*instagram.Profile, error) {
	return f.profile, f.err
}

func (f *fakeFetcher) Download(ctx context.Context, url string) ([]byte, error) {
	if b, ok := f.images[url]; ok {
		return b, nil
	}
	return nil, instagram.ErrFetchFailed
}

func portfolio(n int, colorEvery int) []models.PortfolioImage {
	var out []models.PortfolioImage
	for i := 0; i < n; i++ {
		c := colorEvery > 0 && i%colorEvery == 0
		out = append(out, models.PortfolioImage{
			ID:           string(rune('a' + i)),
			ArtistID:     artistID,
			Embedding:    embedding(i),
			Status:       models.ImageActive,
			LikesCount:   i,
			IsColor:      &c,
			ThumbnailURL: "https://cdn.inkdex.io/thumb/" + string(rune('a'+i)),
		})
	}
	return out
}

func TestNormalizeText(t *testing.T) {
	n := New(&fakeArtists{}, nil)
	p, err := n.Normalize(context.Background(), Input{Type: models.QueryText, Text: "  traditional japanese  "})
	if err != nil {
		t.Fatalf("Normalize failed: %v", err)
	}
	if p.Query.QueryText != "traditional japanese" {
		t.Errorf("expected trimmed text, got %q", p.Query.QueryText)
	}
	if p.EmbedText != "traditional japanese tattoo" {
		t.Errorf("expected enhanced text, got %q", p.EmbedText)
	}

	p, _ = n.Normalize(context.Background(), Input{Text: "fine line Tattoo"})
	if p.EmbedText != "fine line Tattoo" {
		t.Errorf("text already mentioning tattoo must not change, got %q", p.EmbedText)
	}

	for _, bad := range []string{"ab", "   a  ", strings.Repeat("x", 201)} {
		if _, err := n.Normalize(context.Background(), Input{Type: models.QueryText, Text: bad}); !errors.Is(err, models.ErrValidation) {
			t.Errorf("expected validation error for %q, got %v", bad, err)
		}
	}
}

func TestNormalizeImage(t *testing.T) {
	n := New(&fakeArtists{}, nil)

	red := encodePNG(t, color.RGBA{R: 220, G: 30, B: 30, A: 255})
	p, err := n.Normalize(context.Background(), Input{Type: models.QueryImage, Image: red})
	if err != nil {
		t.Fatalf("Normalize failed: %v", err)
	}
	if p.Query.IsColor == nil || !*p.Query.IsColor {
		t.Error("expected red image detected as colour")
	}
	if len(p.Images) != 1 {
		t.Errorf("expected one image to embed, got %d", len(p.Images))
	}

	grey := encodePNG(t, color.Gray{Y: 120})
	p, _ = n.Normalize(context.Background(), Input{Image: grey})
	if p.Query.IsColor == nil || *p.Query.IsColor {
		t.Error("expected grey image detected as black and grey")
	}

	tests := map[string][]byte{
		"empty":           nil,
		"not image":       []byte("hello, this is plain text and not an image"),
		"truncated":       red[:20],
		"too large":       append([]byte("\x89PNG\r\n\x1a\n"), make([]byte, MaxImageBytes)...),
		"too many pixels": pngHeader(16000, 16000),
	}
	for name, data := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := n.Normalize(context.Background(), Input{Type: models.QueryImage, Image: data})
			if !errors.Is(err, models.ErrPayloadInvalid) {
				t.Errorf("expected ErrPayloadInvalid, got %v", err)
			}
		})
	}
}

func TestImagePixelBudget(t *testing.T) {
	if _, err := ValidateImage(pngHeader(4000, 3000)); err != nil {
		t.Errorf("expected 12 MP header accepted, got %v", err)
	}
	if _, err := ValidateImage(pngHeader(8000, 8000)); !errors.Is(err, models.ErrPayloadInvalid) {
		t.Errorf("expected 64 MP header rejected, got %v", err)
	}
	if c := IsColor(pngHeader(16000, 16000)); c != nil {
		t.Errorf("expected no colour verdict for oversized image, got %v", *c)
	}
}

func TestNormalizeSimilarArtist(t *testing.T) {
	artists := &fakeArtists{
		artists: map[string]*models.Artist{artistID: {ID: artistID, Name: "Jane Ink", InstagramHandle: "janeink"}},
		images:  map[string][]models.PortfolioImage{artistID: portfolio(4, 1)},
	}
	n := New(artists, nil)

	p, err := n.Normalize(context.Background(), Input{Type: models.QuerySimilarArtist, ArtistID: artistID})
	if err != nil {
		t.Fatalf("Normalize failed: %v", err)
	}
	if p.Query.ArtistIDSource != artistID {
		t.Errorf("expected artist recorded as source, got %q", p.Query.ArtistIDSource)
	}
	if len(p.Embedding) != models.EmbeddingDim {
		t.Fatalf("expected aggregated embedding, got %d dims", len(p.Embedding))
	}
	if p.Query.IsColor == nil || !*p.Query.IsColor {
		t.Error("expected all-colour portfolio to yield colour query")
	}

	if _, err := n.Normalize(context.Background(), Input{Type: models.QuerySimilarArtist, ArtistID: "not-a-uuid"}); !errors.Is(err, models.ErrValidation) {
		t.Errorf("expected validation error, got %v", err)
	}
	missing := "00000000-0000-4000-8000-000000000000"
	if _, err := n.Normalize(context.Background(), Input{Type: models.QuerySimilarArtist, ArtistID: missing}); !errors.Is(err, models.ErrNotFound) {
		t.Errorf("expected not found, got %v", err)
	}

	artists.images[artistID] = portfolio(2, 1)
	if _, err := n.Normalize(context.Background(), Input{Type: models.QuerySimilarArtist, ArtistID: artistID}); !errors.Is(err, models.ErrValidation) {
		t.Errorf("expected validation error for small portfolio, got %v", err)
	}
}

func TestRepresentatives(t *testing.T) {
	one, two := 1, 2
	images := []models.PortfolioImage{
		{ID: "a", LikesCount: 5},
		{ID: "b", LikesCount: 50},
		{ID: "c", IsPinned: true, PinnedPosition: &two},
		{ID: "d", IsPinned: true, PinnedPosition: &one},
		{ID: "e", LikesCount: 50},
	}
	got := Representatives(images)
	want := []string{"d", "c", "b", "e", "a"}
	for i, id := range want {
		if got[i].ID != id {
			t.Fatalf("position %d: expected %s, got %s", i, id, got[i].ID)
		}
	}
	if len(Representatives(portfolio(20, 0))) != MaxRepresentatives {
		t.Errorf("expected at most %d representatives", MaxRepresentatives)
	}
}

func TestNormalizeProfileFromIndex(t *testing.T) {
	artists := &fakeArtists{
		artists: map[string]*models.Artist{artistID: {
			ID: artistID, Name: "Jane Ink", InstagramHandle: "janeink",
			City: "Austin", VerificationStatus: "claimed", IsPro: true,
		}},
		images: map[string][]models.PortfolioImage{artistID: portfolio(5, 0)},
	}
	n := New(artists, &fakeFetcher{err: errors.New("must not be called")})

	p, err := n.Normalize(context.Background(), Input{InstagramRef: "https://instagram.com/JaneInk"})
	if err != nil {
		t.Fatalf("Normalize failed: %v", err)
	}
	if p.Query.Type != models.QueryInstagramProfile || p.Embedding == nil {
		t.Fatalf("expected DB-path profile query, got %+v", p.Query)
	}
	sa := p.Query.SearchedArtist
	if sa == nil || *sa.ID != artistID || !sa.IsVerified || !sa.IsPro || len(sa.Images) != 3 {
		t.Errorf("unexpected snapshot %+v", sa)
	}
	if err := sa.Validate(); err != nil {
		t.Errorf("snapshot must validate: %v", err)
	}
	if p.Query.IsColor == nil || *p.Query.IsColor {
		t.Error("expected black and grey portfolio")
	}
	if p.Query.ArtistIDSource != "" {
		t.Error("profile searches do not exclude the artist")
	}
}

func TestNormalizeProfileFromInstagram(t *testing.T) {
	red := encodePNG(t, color.RGBA{R: 200, G: 20, B: 20, A: 255})
	fetcher := &fakeFetcher{
		profile: &instagram.Profile{
			Username: "newartist",
			Bio:      "Austin TX",
			Posts: []instagram.PostMeta{
				{Shortcode: "a", DisplayURL: "u1"},
				{Shortcode: "b", DisplayURL: "u2"},
				{Shortcode: "c", DisplayURL: "broken"},
			},
		},
		images: map[string][]byte{"u1": red, "u2": red},
	}
	n := New(&fakeArtists{}, fetcher)

	p, err := n.Normalize(context.Background(), Input{Type: models.QueryInstagramProfile, InstagramRef: "@newartist"})
	if err != nil {
		t.Fatalf("Normalize failed: %v", err)
	}
	if len(p.Images) != 2 {
		t.Errorf("expected 2 usable images, got %d", len(p.Images))
	}
	if p.Query.SearchedArtist.ID != nil {
		t.Error("unknown artist must have no ID")
	}
	if p.Query.IsColor == nil || !*p.Query.IsColor {
		t.Error("expected colour profile")
	}
}

func TestNormalizeInstagramPost(t *testing.T) {
	red := encodePNG(t, color.RGBA{R: 200, G: 20, B: 20, A: 255})
	fetcher := &fakeFetcher{
		post:   &instagram.Post{ImageURL: "img", Username: "janeink"},
		images: map[string][]byte{"img": red},
	}
	n := New(&fakeArtists{}, fetcher)

	p, err := n.Normalize(context.Background(), Input{InstagramRef: "https://www.instagram.com/p/CxYz123abc/"})
	if err != nil {
		t.Fatalf("Normalize failed: %v", err)
	}
	if p.Query.Type != models.QueryInstagramPost || p.Query.InstagramPostID != "CxYz123abc" {
		t.Errorf("unexpected query %+v", p.Query)
	}

	if _, err := n.Normalize(context.Background(), Input{Type: models.QueryInstagramPost, InstagramRef: "https://example.com/x"}); !errors.Is(err, models.ErrValidation) {
		t.Errorf("expected validation error, got %v", err)
	}

	fetcher.err = instagram.ErrPrivate
	if _, err := n.Normalize(context.Background(), Input{Type: models.QueryInstagramPost, InstagramRef: "instagram.com/p/CxYz123abc"}); !errors.Is(err, models.ErrValidation) {
		t.Errorf("expected private account as validation error, got %v", err)
	}
	fetcher.err = instagram.ErrFetchFailed
	if _, err := n.Normalize(context.Background(), Input{Type: models.QueryInstagramPost, InstagramRef: "instagram.com/p/CxYz123abc"}); !errors.Is(err, models.ErrUpstreamUnavailable) {
		t.Errorf("expected upstream unavailable, got %v", err)
	}
}
