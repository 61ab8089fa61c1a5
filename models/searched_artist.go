package models

import (
	"fmt"
	"unicode/utf8"

	"github.com/google/uuid"
)

// SearchedArtist is the denormalized artist card stored with profile searches.
// It is rendered back to users, so it must pass Validate before it is persisted.
type SearchedArtist struct {
	ID              *string  `json:"id"`
	InstagramHandle string   `json:"instagram_handle"`
	Name            string   `json:"name"`
	ProfileImageURL *string  `json:"profile_image_url"`
	Bio             *string  `json:"bio"`
	FollowerCount   *int     `json:"follower_count"`
	City            *string  `json:"city"`
	Images          []string `json:"images"`
	IsPro           bool     `json:"is_pro,omitempty"`
	IsFeatured      bool     `json:"is_featured,omitempty"`
	IsVerified      bool     `json:"is_verified,omitempty"`
}

// Validate checks the snapshot against its storage schema.
func (a *SearchedArtist) Validate() error {
	if a.ID != nil {
		if _, err := uuid.Parse(*a.ID); err != nil {
			return &ValidationError{Field: "searched_artist.id", Message: "must be a UUID"}
		}
	}
	if err := lengthBetween("searched_artist.instagram_handle", a.InstagramHandle, 1, 30); err != nil {
		return err
	}
	if err := lengthBetween("searched_artist.name", a.Name, 1, 100); err != nil {
		return err
	}
	if a.Bio != nil && utf8.RuneCountInString(*a.Bio) > 2000 {
		return &ValidationError{Field: "searched_artist.bio", Message: "must be at most 2000 characters"}
	}
	if a.FollowerCount != nil && *a.FollowerCount < 0 {
		return &ValidationError{Field: "searched_artist.follower_count", Message: "must not be negative"}
	}
	if a.City != nil && utf8.RuneCountInString(*a.City) > 100 {
		return &ValidationError{Field: "searched_artist.city", Message: "must be at most 100 characters"}
	}
	if len(a.Images) > 10 {
		return &ValidationError{Field: "searched_artist.images", Message: "must contain at most 10 entries"}
	}
	for i, img := range a.Images {
		if img == "" {
			return &ValidationError{Field: fmt.Sprintf("searched_artist.images[%d]", i), Message: "must not be empty"}
		}
	}
	return nil
}

func lengthBetween(field, s string, min, max int) error {
	n := utf8.RuneCountInString(s)
	if n < min || n > max {
		return &ValidationError{Field: field, Message: fmt.Sprintf("must be %d-%d characters", min, max)}
	}
	return nil
}
