package models

import "time"

// EmbeddingDim is the CLIP ViT-L/14 vector size used for every stored and compared embedding.
const EmbeddingDim = 768

// QueryType identifies how a search was submitted.
type QueryType string

const (
	QueryImage            QueryType = "image"
	QueryText             QueryType = "text"
	QueryInstagramPost    QueryType = "instagram_post"
	QueryInstagramProfile QueryType = "instagram_profile"
	QuerySimilarArtist    QueryType = "similar_artist"
)

// Valid reports whether t is one of the five supported query types.
func (t QueryType) Valid() bool {
	switch t {
	case QueryImage, QueryText, QueryInstagramPost, QueryInstagramProfile, QuerySimilarArtist:
		return true
	}
	return false
}

// StyleMatch is a detected style with its cosine confidence.
type StyleMatch struct {
	Style      string  `json:"style_name"`
	Confidence float64 `json:"confidence"`
}

// Query is the normalized, embedded form of a search before it is persisted.
type Query struct {
	Type              QueryType       `json:"type"`
	RawInput          string          `json:"raw_input,omitempty"`
	QueryText         string          `json:"query_text,omitempty"`
	Embedding         []float32       `json:"-"`
	DetectedStyles    []StyleMatch    `json:"detected_styles"`
	IsColor           *bool           `json:"is_color"`
	InstagramUsername string          `json:"instagram_username,omitempty"`
	InstagramPostID   string          `json:"instagram_post_id,omitempty"`
	ArtistIDSource    string          `json:"artist_id_source,omitempty"`
	SearchedArtist    *SearchedArtist `json:"searched_artist,omitempty"`
}

// StyleSeed is a labeled reference embedding for one tattoo style.
type StyleSeed struct {
	StyleName   string    `json:"style_name"`
	DisplayName string    `json:"display_name"`
	Description string    `json:"description,omitempty"`
	Embedding   []float32 `json:"-"`
}

// ImageStatus is the lifecycle state of a portfolio image.
type ImageStatus string

const (
	ImageActive  ImageStatus = "active"
	ImagePending ImageStatus = "pending"
	ImageDeleted ImageStatus = "deleted"
)

// PortfolioImage is one artist image. A nil Embedding means not yet indexed.
type PortfolioImage struct {
	ID             string      `json:"id"`
	ArtistID       string      `json:"artist_id"`
	Embedding      []float32   `json:"-"`
	Status         ImageStatus `json:"status"`
	LikesCount     int         `json:"likes_count"`
	IsTattoo       *bool       `json:"is_tattoo"`
	IsColor        *bool       `json:"is_color"`
	IsPinned       bool        `json:"is_pinned"`
	PinnedPosition *int        `json:"pinned_position"`
	ThumbnailURL   string      `json:"thumbnail_url"`
	Styles         []string    `json:"styles,omitempty"`
}

// Artist is a ranking target. Its relevance comes from its best-matching image.
type Artist struct {
	ID                 string     `json:"id"`
	Name               string     `json:"name"`
	InstagramHandle    string     `json:"instagram_handle"`
	City               string     `json:"city"`
	State              string     `json:"state"`
	CountryCode        string     `json:"country_code"`
	FollowerCount      int        `json:"follower_count"`
	IsPro              bool       `json:"is_pro"`
	IsFeatured         bool       `json:"is_featured"`
	VerificationStatus string     `json:"verification_status"`
	ProfileImageURL    string     `json:"profile_image_url,omitempty"`
	Bio                string     `json:"bio,omitempty"`
	DominantStyle      string     `json:"dominant_style,omitempty"`
	DeletedAt          *time.Time `json:"deleted_at,omitempty"`
}

// IsVerified reports whether the artist has been verified or claimed.
func (a Artist) IsVerified() bool {
	return a.VerificationStatus == "verified" || a.VerificationStatus == "claimed"
}

// SearchRecord is the persisted, shareable form of a Query.
type SearchRecord struct {
	ID                string          `json:"id"`
	QueryType         QueryType       `json:"query_type"`
	QueryText         string          `json:"query_text,omitempty"`
	Embedding         []float32       `json:"-"`
	DetectedStyles    []StyleMatch    `json:"detected_styles"`
	PrimaryStyle      string          `json:"primary_style,omitempty"`
	IsColor           *bool           `json:"is_color"`
	InstagramUsername string          `json:"instagram_username,omitempty"`
	InstagramPostID   string          `json:"instagram_post_id,omitempty"`
	ArtistIDSource    string          `json:"artist_id_source,omitempty"`
	SearchedArtist    *SearchedArtist `json:"searched_artist,omitempty"`
	CreatedAt         time.Time       `json:"created_at"`
}

// SearchAppearance records that an artist surfaced at a rank for a search.
type SearchAppearance struct {
	SearchID        string  `json:"search_id"`
	ArtistID        string  `json:"artist_id"`
	ImageID         string  `json:"image_id"`
	Rank            int     `json:"rank"`
	SimilarityScore float64 `json:"similarity_score"`
	BoostedScore    float64 `json:"boosted_score"`
}

// LocationFilter narrows a search to a city, state and/or country. Empty fields are ignored.
type LocationFilter struct {
	City        string `json:"city,omitempty"`
	State       string `json:"state,omitempty"`
	CountryCode string `json:"country,omitempty"`
}

// SearchRequest represents the search submission body
type SearchRequest struct {
	Type         QueryType `json:"type"`
	Text         string    `json:"text,omitempty"`
	ImageBytes   []byte    `json:"-"`
	InstagramRef string    `json:"instagram_url,omitempty"`
	ArtistID     string    `json:"artist_id,omitempty"`
	City         string    `json:"city,omitempty"`
	State        string    `json:"state,omitempty"`
	Country      string    `json:"country,omitempty"`
	Style        string    `json:"style,omitempty"`
	Limit        int       `json:"limit,omitempty"`
	Offset       int       `json:"offset,omitempty"`
}

// ArtistResult represents a single ranked artist
type ArtistResult struct {
	ArtistID      string  `json:"artistId"`
	Name          string  `json:"name"`
	Handle        string  `json:"handle"`
	City          string  `json:"city"`
	State         string  `json:"state,omitempty"`
	CountryCode   string  `json:"countryCode,omitempty"`
	ImageID       string  `json:"imageId"`
	ThumbnailURL  string  `json:"thumbnailUrl"`
	Similarity    float64 `json:"similarity"`
	BoostedScore  float64 `json:"boostedScore"`
	IsPro         bool    `json:"isPro"`
	IsFeatured    bool    `json:"isFeatured"`
	FollowerCount int     `json:"followerCount,omitempty"`
}

// SearchResponse represents the search response body
type SearchResponse struct {
	SearchID       string          `json:"searchId,omitempty"`
	QueryType      QueryType       `json:"queryType"`
	Results        []ArtistResult  `json:"results"`
	DetectedStyles []StyleMatch    `json:"detectedStyles"`
	Total          int             `json:"total"`
	Limit          int             `json:"limit"`
	Offset         int             `json:"offset"`
	SearchedArtist *SearchedArtist `json:"searchedArtist,omitempty"`
}

// ImageStyleTag links a portfolio image to a detected style.
type ImageStyleTag struct {
	ImageID    string  `json:"image_id"`
	Style      string  `json:"style_name"`
	Confidence float64 `json:"confidence"`
}
