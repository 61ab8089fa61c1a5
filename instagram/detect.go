// Package instagram recognizes Instagram references and fetches their images
// through a scraping proxy.
package instagram

import (
	"regexp"
	"strings"
)

// RefType is the kind of Instagram reference.
type RefType string

const (
	RefPost    RefType = "post"
	RefProfile RefType = "profile"
)

// Ref is a detected post or profile. ID is the post shortcode or the username.
type Ref struct {
	Type RefType
	ID   string
	URL  string
}

var (
	postPattern    = regexp.MustCompile(`(?i)^(?:https?://)?(?:www\.)?instagram\.com/(?:p|reel)/([a-zA-Z0-9_-]+)`)
	profilePattern = regexp.MustCompile(`(?i)^(?:https?://)?(?:www\.)?instagram\.com/([a-zA-Z0-9._]+)/?(?:\?.*)?$`)
	usernameChars  = regexp.MustCompile(`^[a-zA-Z0-9._]+$`)
	postIDChars    = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)
)

var reservedPaths = map[string]bool{
	"p": true, "reel": true, "tv": true, "stories": true, "explore": true,
	"accounts": true, "direct": true, "reels": true, "tagged": true,
}

// Detect recognizes post and reel URLs, profile URLs and @handles.
// It returns false for anything else, including bare usernames.
func Detect(input string) (Ref, bool) {
	s := strings.TrimSpace(input)
	if s == "" {
		return Ref{}, false
	}

	if strings.HasPrefix(s, "@") {
		username := s[1:]
		if !IsValidUsername(username) {
			return Ref{}, false
		}
		return Ref{Type: RefProfile, ID: username, URL: "https://instagram.com/" + username}, true
	}

	if m := postPattern.FindStringSubmatch(s); m != nil {
		return Ref{Type: RefPost, ID: m[1], URL: normalizeURL(s)}, true
	}

	if m := profilePattern.FindStringSubmatch(s); m != nil {
		username := m[1]
		if reservedPaths[strings.ToLower(username)] || !IsValidUsername(username) {
			return Ref{}, false
		}
		return Ref{Type: RefProfile, ID: username, URL: normalizeURL(s)}, true
	}
	return Ref{}, false
}

// DetectProfile is Detect restricted to profiles, also accepting a bare username.
func DetectProfile(input string) (Ref, bool) {
	if ref, ok := Detect(input); ok {
		return ref, ref.Type == RefProfile
	}
	username := strings.TrimSpace(input)
	if IsValidUsername(username) && !reservedPaths[strings.ToLower(username)] {
		return Ref{Type: RefProfile, ID: username, URL: "https://instagram.com/" + username}, true
	}
	return Ref{}, false
}

// IsValidUsername checks Instagram's username rules: 1-30 letters, digits,
// dots or underscores, not ending in a dot.
func IsValidUsername(username string) bool {
	if len(username) < 1 || len(username) > 30 {
		return false
	}
	return usernameChars.MatchString(username) && !strings.HasSuffix(username, ".")
}

// IsValidPostID checks a post shortcode: 8-15 URL-safe characters.
func IsValidPostID(id string) bool {
	if len(id) < 8 || len(id) > 15 {
		return false
	}
	return postIDChars.MatchString(id)
}

func normalizeURL(raw string) string {
	u := strings.TrimSpace(raw)
	switch {
	case strings.HasPrefix(u, "http://"):
		u = "https://" + strings.TrimPrefix(u, "http://")
	case !strings.HasPrefix(u, "https://"):
		u = "https://" + u
	}
	return strings.TrimSuffix(u, "/")
}
