// Package normalize turns raw search input into an embeddable query.
package normalize

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/inkdex/search-go/instagram"
	"github.com/inkdex/search-go/models"
	"github.com/inkdex/search-go/vector"
	"github.com/sirupsen/logrus"
)

const (
	MinTextLength = 3
	MaxTextLength = 200

	// artists need this many active embedded images to be searched from the DB
	MinArtistImages = 3
	// representative images aggregated into an artist's query vector
	MaxRepresentatives = 12
	// recent images scraped when a profile is not in the DB
	MaxProfileImages = 12
	snapshotImages   = 3
)

// ArtistSource reads artists and their indexed portfolio images.
type ArtistSource interface {
	// ArtistByID and ArtistByHandle return models.ErrNotFound for unknown or deleted artists.
	ArtistByID(ctx context.Context, id string) (*models.Artist, error)
	ArtistByHandle(ctx context.Context, handle string) (*models.Artist, error)
	// ArtistImages returns the artist's active images that have an embedding.
	ArtistImages(ctx context.Context, artistID string) ([]models.PortfolioImage, error)
}

// Input is a raw search submission.
type Input struct {
	Type         models.QueryType
	Text         string
	Image        []byte
	InstagramRef string
	ArtistID     string
}

// Prepared is a normalized query. Exactly one of EmbedText, Images or
// Embedding is set.
type Prepared struct {
	Query models.Query
	// EmbedText is the text sent to the embedder, enhanced for CLIP.
	EmbedText string
	// Images must each be embedded and then aggregated.
	Images [][]byte
	// Embedding is already known from stored portfolio images.
	Embedding []float32
}

// Normalizer validates input and resolves Instagram and artist references.
// It never writes.
type Normalizer struct {
	artists ArtistSource
	fetcher instagram.Fetcher
}

func New(artists ArtistSource, fetcher instagram.Fetcher) *Normalizer {
	return &Normalizer{artists: artists, fetcher: fetcher}
}

// Normalize dispatches on in.Type. An empty type is inferred from the fields set.
func (n *Normalizer) Normalize(ctx context.Context, in Input) (*Prepared, error) {
	if in.Type == "" {
		in.Type = inferType(in)
	}
	switch in.Type {
	case models.QueryText:
		return normalizeText(in.Text)
	case models.QueryImage:
		return normalizeImage(in.Image)
	case models.QueryInstagramPost:
		return n.instagramPost(ctx, in.InstagramRef)
	case models.QueryInstagramProfile:
		return n.instagramProfile(ctx, in.InstagramRef)
	case models.QuerySimilarArtist:
		return n.similarArtist(ctx, in.ArtistID)
	default:
		return nil, models.NewValidationError("type", "must be one of image, text, instagram_post, instagram_profile, similar_artist")
	}
}

func inferType(in Input) models.QueryType {
	switch {
	case len(in.Image) > 0:
		return models.QueryImage
	case in.ArtistID != "":
		return models.QuerySimilarArtist
	case in.InstagramRef != "":
		if ref, ok := instagram.Detect(in.InstagramRef); ok && ref.Type == instagram.RefPost {
			return models.QueryInstagramPost
		}
		return models.QueryInstagramProfile
	default:
		return models.QueryText
	}
}

func normalizeText(raw string) (*Prepared, error) {
	text := strings.TrimSpace(raw)
	n := utf8.RuneCountInString(text)
	if n < MinTextLength {
		return nil, models.NewValidationError("text", "must be at least %d characters", MinTextLength)
	}
	if n > MaxTextLength {
		return nil, models.NewValidationError("text", "must be at most %d characters", MaxTextLength)
	}
	return &Prepared{
		Query:     models.Query{Type: models.QueryText, RawInput: raw, QueryText: text},
		EmbedText: EnhanceText(text),
	}, nil
}

// EnhanceText anchors a query in the tattoo domain for CLIP.
func EnhanceText(text string) string {
	if strings.Contains(strings.ToLower(text), "tattoo") {
		return text
	}
	return text + " tattoo"
}

func normalizeImage(data []byte) (*Prepared, error) {
	if _, err := ValidateImage(data); err != nil {
		return nil, err
	}
	return &Prepared{
		Query:  models.Query{Type: models.QueryImage, IsColor: IsColor(data)},
		Images: [][]byte{data},
	}, nil
}

func (n *Normalizer) instagramPost(ctx context.Context, raw string) (*Prepared, error) {
	ref, ok := instagram.Detect(raw)
	if !ok || ref.Type != instagram.RefPost {
		return nil, models.NewValidationError("instagram_url", "must be an Instagram post or reel URL")
	}
	if n.fetcher == nil {
		return nil, fmt.Errorf("%w: instagram fetching is not configured", models.ErrUpstreamUnavailable)
	}

	post, err := n.fetcher.FetchPost(ctx, ref.ID)
	if err != nil {
		return nil, instagramError(err)
	}
	data, err := n.fetcher.Download(ctx, post.ImageURL)
	if err != nil {
		return nil, instagramError(err)
	}
	if _, err := ValidateImage(data); err != nil {
		return nil, err
	}

	return &Prepared{
		Query: models.Query{
			Type:              models.QueryInstagramPost,
			RawInput:          raw,
			QueryText:         "Instagram post by @" + post.Username,
			IsColor:           IsColor(data),
			InstagramUsername: post.Username,
			InstagramPostID:   ref.ID,
		},
		Images: [][]byte{data},
	}, nil
}

func (n *Normalizer) instagramProfile(ctx context.Context, raw string) (*Prepared, error) {
	ref, ok := instagram.DetectProfile(raw)
	if !ok {
		return nil, models.NewValidationError("instagram_url", "must be an Instagram profile URL or @username")
	}
	username := strings.ToLower(ref.ID)
	log := logrus.WithField("instagram_username", username)

	artist, err := n.artists.ArtistByHandle(ctx, username)
	if err != nil && !errors.Is(err, models.ErrNotFound) {
		return nil, fmt.Errorf("%w: %w", models.ErrSearchBackendUnavailable, err)
	}
	if artist != nil {
		images, err := n.artists.ArtistImages(ctx, artist.ID)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", models.ErrSearchBackendUnavailable, err)
		}
		if len(images) >= MinArtistImages {
			log.WithField("images", len(images)).Info("profile found in index, using stored embeddings")
			return profileFromIndex(raw, username, artist, images)
		}
	}

	log.Info("profile not indexed, fetching recent images")
	return n.profileFromInstagram(ctx, raw, username, artist)
}

func profileFromIndex(raw, username string, artist *models.Artist, images []models.PortfolioImage) (*Prepared, error) {
	emb, err := aggregate(images)
	if err != nil {
		return nil, err
	}
	return &Prepared{
		Query: models.Query{
			Type:              models.QueryInstagramProfile,
			RawInput:          raw,
			QueryText:         "Artists similar to @" + username,
			IsColor:           artistColorProfile(images),
			InstagramUsername: username,
			SearchedArtist:    snapshot(artist, username, images),
		},
		Embedding: emb,
	}, nil
}

func (n *Normalizer) profileFromInstagram(ctx context.Context, raw, username string, artist *models.Artist) (*Prepared, error) {
	if n.fetcher == nil {
		return nil, fmt.Errorf("%w: instagram fetching is not configured", models.ErrUpstreamUnavailable)
	}
	profile, err := n.fetcher.FetchProfileImages(ctx, username, MaxProfileImages)
	if err != nil {
		return nil, instagramError(err)
	}

	var images [][]byte
	var urls []string
	colorCount, known := 0, 0
	for _, post := range profile.Posts {
		data, err := n.fetcher.Download(ctx, post.DisplayURL)
		if err == nil {
			_, err = ValidateImage(data)
		}
		if err != nil {
			logrus.WithError(err).WithField("shortcode", post.Shortcode).Warn("skipping profile image")
			continue
		}
		images = append(images, data)
		urls = append(urls, post.DisplayURL)
		if c := IsColor(data); c != nil {
			known++
			if *c {
				colorCount++
			}
		}
	}
	if len(images) == 0 {
		return nil, models.NewValidationError("instagram_url", "profile has no usable public images")
	}

	sa := &models.SearchedArtist{
		InstagramHandle: username,
		Name:            username,
		FollowerCount:   profile.FollowerCount,
		Images:          urls[:min(snapshotImages, len(urls))],
	}
	if profile.FullName != "" {
		sa.Name = profile.FullName
	}
	if artist != nil {
		sa.ID = &artist.ID
		sa.Name = artist.Name
	}
	if profile.ProfileImageURL != "" {
		sa.ProfileImageURL = &profile.ProfileImageURL
	}
	if profile.Bio != "" {
		sa.Bio = &profile.Bio
	}

	return &Prepared{
		Query: models.Query{
			Type:              models.QueryInstagramProfile,
			RawInput:          raw,
			QueryText:         "Artists similar to @" + username,
			IsColor:           colorProfile(colorCount, known, 0.6, 0.4),
			InstagramUsername: username,
			SearchedArtist:    sa,
		},
		Images: images,
	}, nil
}

func (n *Normalizer) similarArtist(ctx context.Context, artistID string) (*Prepared, error) {
	if _, err := uuid.Parse(artistID); err != nil {
		return nil, models.NewValidationError("artist_id", "must be a UUID")
	}
	artist, err := n.artists.ArtistByID(ctx, artistID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil, fmt.Errorf("artist %s: %w", artistID, models.ErrNotFound)
		}
		return nil, fmt.Errorf("%w: %w", models.ErrSearchBackendUnavailable, err)
	}
	images, err := n.artists.ArtistImages(ctx, artist.ID)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", models.ErrSearchBackendUnavailable, err)
	}
	if len(images) < MinArtistImages {
		return nil, models.NewValidationError("artist_id", "artist must have at least %d portfolio images", MinArtistImages)
	}
	emb, err := aggregate(images)
	if err != nil {
		return nil, err
	}
	return &Prepared{
		Query: models.Query{
			Type:           models.QuerySimilarArtist,
			RawInput:       artistID,
			QueryText:      "Artists similar to " + artist.Name,
			IsColor:        artistColorProfile(images),
			ArtistIDSource: artist.ID,
		},
		Embedding: emb,
	}, nil
}

// Representatives orders images pinned first (by position), then most liked,
// then by ID, and keeps at most MaxRepresentatives.
func Representatives(images []models.PortfolioImage) []models.PortfolioImage {
	sorted := make([]models.PortfolioImage, len(images))
	copy(sorted, images)
	sort.SliceStable(sorted, func(i, j int) bool {
		a, b := sorted[i], sorted[j]
		if a.IsPinned != b.IsPinned {
			return a.IsPinned
		}
		if a.IsPinned {
			pa, pb := pinnedPos(a), pinnedPos(b)
			if pa != pb {
				return pa < pb
			}
		}
		if a.LikesCount != b.LikesCount {
			return a.LikesCount > b.LikesCount
		}
		return a.ID < b.ID
	})
	if len(sorted) > MaxRepresentatives {
		sorted = sorted[:MaxRepresentatives]
	}
	return sorted
}

func pinnedPos(img models.PortfolioImage) int {
	if img.PinnedPosition == nil {
		return int(^uint(0) >> 1)
	}
	return *img.PinnedPosition
}

func aggregate(images []models.PortfolioImage) ([]float32, error) {
	reps := Representatives(images)
	vectors := make([][]float32, 0, len(reps))
	for _, img := range reps {
		if err := vector.Validate(img.Embedding); err != nil {
			logrus.WithField("image_id", img.ID).WithError(err).Warn("skipping stored embedding")
			continue
		}
		vectors = append(vectors, img.Embedding)
	}
	return vector.Centroid(vectors)
}

func artistColorProfile(images []models.PortfolioImage) *bool {
	colorCount, known := 0, 0
	for _, img := range images {
		if img.IsColor == nil {
			continue
		}
		known++
		if *img.IsColor {
			colorCount++
		}
	}
	return colorProfile(colorCount, known, 0.7, 0.3)
}

func snapshot(artist *models.Artist, username string, images []models.PortfolioImage) *models.SearchedArtist {
	sa := &models.SearchedArtist{
		ID:              &artist.ID,
		InstagramHandle: username,
		Name:            artist.Name,
		IsPro:           artist.IsPro,
		IsFeatured:      artist.IsFeatured,
		IsVerified:      artist.IsVerified(),
		Images:          []string{},
	}
	if artist.ProfileImageURL != "" {
		sa.ProfileImageURL = &artist.ProfileImageURL
	}
	if artist.Bio != "" {
		sa.Bio = &artist.Bio
	}
	if artist.FollowerCount > 0 {
		fc := artist.FollowerCount
		sa.FollowerCount = &fc
	}
	if artist.City != "" {
		sa.City = &artist.City
	}
	for _, img := range Representatives(images) {
		if len(sa.Images) == snapshotImages {
			break
		}
		if img.ThumbnailURL != "" {
			sa.Images = append(sa.Images, img.ThumbnailURL)
		}
	}
	return sa
}

func instagramError(err error) error {
	switch {
	case errors.Is(err, instagram.ErrNotFound):
		return fmt.Errorf("%w: %v", models.ErrNotFound, err)
	case errors.Is(err, instagram.ErrPrivate):
		return models.NewValidationError("instagram_url", "this Instagram account is private")
	default:
		return fmt.Errorf("%w: %w", models.ErrUpstreamUnavailable, err)
	}
}
