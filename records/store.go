// Package records persists searches so results can be revisited and shared,
// and logs which artists appeared in them.
package records

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/inkdex/search-go/models"
	"github.com/inkdex/search-go/vector"
	"github.com/sirupsen/logrus"
)

const trackTimeout = 5 * time.Second

// ErrMissingColumn is returned by a Repository whose schema lacks the style
// metadata columns.
var ErrMissingColumn = errors.New("missing column")

// Repository is the storage behind Store.
type Repository interface {
	// InsertSearch writes rec. With withStyles false, detected_styles,
	// primary_style and is_color are left out.
	InsertSearch(ctx context.Context, rec *models.SearchRecord, withStyles bool) error
	// GetSearch returns models.ErrNotFound for unknown IDs.
	GetSearch(ctx context.Context, id string) (*models.SearchRecord, error)
	InsertAppearances(ctx context.Context, apps []models.SearchAppearance) error
}

type Store struct {
	repo Repository
	now  func() time.Time
	wg   sync.WaitGroup
}

func NewStore(repo Repository) *Store {
	return &Store{repo: repo, now: time.Now}
}

// Save persists q and returns the new search ID.
func (s *Store) Save(ctx context.Context, q models.Query) (string, error) {
	if err := vector.Validate(q.Embedding); err != nil {
		return "", err
	}

	rec := &models.SearchRecord{
		ID:                uuid.NewString(),
		QueryType:         q.Type,
		QueryText:         q.QueryText,
		Embedding:         q.Embedding,
		DetectedStyles:    q.DetectedStyles,
		IsColor:           q.IsColor,
		InstagramUsername: q.InstagramUsername,
		InstagramPostID:   q.InstagramPostID,
		ArtistIDSource:    q.ArtistIDSource,
		CreatedAt:         s.now().UTC(),
	}
	if rec.DetectedStyles == nil {
		rec.DetectedStyles = []models.StyleMatch{}
	}
	if len(rec.DetectedStyles) > 0 {
		rec.PrimaryStyle = rec.DetectedStyles[0].Style
	}
	if q.SearchedArtist != nil {
		if err := q.SearchedArtist.Validate(); err != nil {
			logrus.WithError(err).WithField("instagram_username", q.InstagramUsername).
				Warn("dropping invalid searched artist snapshot")
		} else {
			rec.SearchedArtist = q.SearchedArtist
		}
	}

	err := s.repo.InsertSearch(ctx, rec, true)
	if errors.Is(err, ErrMissingColumn) {
		logrus.WithError(fmt.Errorf("%w: %w", models.ErrPersistenceDegraded, err)).
			WithField("search_id", rec.ID).
			Warn("style columns missing, saving search without style metadata")
		err = s.repo.InsertSearch(ctx, rec, false)
	}
	if err != nil {
		return "", fmt.Errorf("%w: save search: %w", models.ErrSearchBackendUnavailable, err)
	}
	return rec.ID, nil
}

// Get loads a saved search.
func (s *Store) Get(ctx context.Context, id string) (*models.SearchRecord, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, fmt.Errorf("search %q: %w", id, models.ErrNotFound)
	}
	rec, err := s.repo.GetSearch(ctx, id)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: load search: %w", models.ErrSearchBackendUnavailable, err)
	}
	return rec, nil
}

// TrackAppearances records apps in the background. It never blocks the
// caller and failures are only logged.
func (s *Store) TrackAppearances(ctx context.Context, apps []models.SearchAppearance) {
	if len(apps) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), trackTimeout)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer cancel()
		if err := s.repo.InsertAppearances(ctx, apps); err != nil {
			logrus.WithError(fmt.Errorf("%w: %w", models.ErrPersistenceDegraded, err)).
				WithFields(logrus.Fields{"search_id": apps[0].SearchID, "appearances": len(apps)}).
				Warn("failed to track search appearances")
		}
	}()
}

// Wait blocks until in-flight appearance tracking finishes.
func (s *Store) Wait() {
	s.wg.Wait()
}
