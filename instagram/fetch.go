package instagram

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const (
	MaxImageBytes   = 10 << 20
	downloadTimeout = 5 * time.Second
	fetchTimeout    = 2 * time.Minute
)

var (
	ErrNotFound    = errors.New("instagram content not found")
	ErrPrivate     = errors.New("instagram account is private")
	ErrFetchFailed = errors.New("instagram fetch failed")
)

// DefaultTrustedHosts are the CDN domains images may be downloaded from.
var DefaultTrustedHosts = []string{"cdninstagram.com", "instagram.com", "fbcdn.net"}

// Post is a single resolved post.
type Post struct {
	ImageURL     string `json:"image_url"`
	Username     string `json:"username"`
	Caption      string `json:"caption,omitempty"`
	ThumbnailURL string `json:"thumbnail_url,omitempty"`
}

// PostMeta describes one post of a profile.
type PostMeta struct {
	Shortcode  string `json:"shortcode"`
	DisplayURL string `json:"display_url"`
	Caption    string `json:"caption,omitempty"`
	Timestamp  string `json:"timestamp,omitempty"`
	LikesCount *int   `json:"likes_count,omitempty"`
}

// Profile is a scraped profile with its recent posts.
type Profile struct {
	Username        string     `json:"username"`
	FullName        string     `json:"full_name,omitempty"`
	FollowerCount   *int       `json:"follower_count,omitempty"`
	ProfileImageURL string     `json:"profile_image_url,omitempty"`
	Bio             string     `json:"bio,omitempty"`
	Posts           []PostMeta `json:"posts"`
}

// Fetcher resolves Instagram references to images.
type Fetcher interface {
	FetchPost(ctx context.Context, postID string) (*Post, error)
	FetchProfileImages(ctx context.Context, username string, limit int) (*Profile, error)
	Download(ctx context.Context, imageURL string) ([]byte, error)
}

// HTTPFetcher talks to a scraping proxy exposing
// GET /posts/{id} and GET /profiles/{username}?limit=N.
type HTTPFetcher struct {
	baseURL      string
	apiKey       string
	trustedHosts []string
	client       *http.Client
}

func NewHTTPFetcher(baseURL, apiKey string, trustedHosts []string) *HTTPFetcher {
	if len(trustedHosts) == 0 {
		trustedHosts = DefaultTrustedHosts
	}
	return &HTTPFetcher{
		baseURL:      strings.TrimRight(baseURL, "/"),
		apiKey:       apiKey,
		trustedHosts: trustedHosts,
		client:       &http.Client{},
	}
}

func (f *HTTPFetcher) FetchPost(ctx context.Context, postID string) (*Post, error) {
	if !IsValidPostID(postID) {
		return nil, fmt.Errorf("%w: invalid post id %q", ErrNotFound, postID)
	}
	var post Post
	if err := f.getJSON(ctx, "/posts/"+url.PathEscape(postID), &post); err != nil {
		return nil, err
	}
	if post.ImageURL == "" {
		return nil, fmt.Errorf("%w: post %s has no image", ErrNotFound, postID)
	}
	return &post, nil
}

func (f *HTTPFetcher) FetchProfileImages(ctx context.Context, username string, limit int) (*Profile, error) {
	if !IsValidUsername(username) {
		return nil, fmt.Errorf("%w: invalid username %q", ErrNotFound, username)
	}
	path := "/profiles/" + url.PathEscape(strings.ToLower(username)) + "?limit=" + strconv.Itoa(limit)
	var profile Profile
	if err := f.getJSON(ctx, path, &profile); err != nil {
		return nil, err
	}
	if len(profile.Posts) > limit {
		profile.Posts = profile.Posts[:limit]
	}
	return &profile, nil
}

func (f *HTTPFetcher) getJSON(ctx context.Context, path string, out any) error {
	ctx, cancel := context.WithTimeout(ctx, fetchTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrFetchFailed, err)
	}
	if f.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+f.apiKey)
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrFetchFailed, err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		return ErrNotFound
	case http.StatusForbidden:
		return ErrPrivate
	default:
		return fmt.Errorf("%w: status %d", ErrFetchFailed, resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: decode: %w", ErrFetchFailed, err)
	}
	return nil
}

// Download fetches an image from a trusted CDN host, at most MaxImageBytes.
func (f *HTTPFetcher) Download(ctx context.Context, imageURL string) ([]byte, error) {
	u, err := url.Parse(imageURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return nil, fmt.Errorf("%w: unsupported image URL", ErrFetchFailed)
	}
	if !f.trusted(u.Hostname()) {
		return nil, fmt.Errorf("%w: untrusted image host %s", ErrFetchFailed, u.Hostname())
	}

	ctx, cancel := context.WithTimeout(ctx, downloadTimeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, imageURL, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrFetchFailed, err)
	}
	req.Header.Set("User-Agent", "Mozilla/5.0 (compatible; InkdexBot/1.0)")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrFetchFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: download status %d", ErrFetchFailed, resp.StatusCode)
	}
	if !strings.HasPrefix(resp.Header.Get("Content-Type"), "image/") {
		return nil, fmt.Errorf("%w: URL did not return an image", ErrFetchFailed)
	}
	if resp.ContentLength > MaxImageBytes {
		return nil, fmt.Errorf("%w: image too large", ErrFetchFailed)
	}

	var buf bytes.Buffer
	n, err := io.Copy(&buf, io.LimitReader(resp.Body, MaxImageBytes+1))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrFetchFailed, err)
	}
	if n > MaxImageBytes {
		return nil, fmt.Errorf("%w: image too large", ErrFetchFailed)
	}
	return buf.Bytes(), nil
}

func (f *HTTPFetcher) trusted(host string) bool {
	host = strings.ToLower(host)
	for _, d := range f.trustedHosts {
		if host == d || strings.HasSuffix(host, "."+d) {
			return true
		}
	}
	return false
}
