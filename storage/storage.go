// Package storage holds the datastore backends: PostgreSQL with pgvector,
// SQLite for local and test deployments, and Qdrant as an alternative
// vector index.
package storage

import (
	"encoding/json"

	"github.com/inkdex/search-go/models"
)

func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func decodeRecordJSON(rec *models.SearchRecord, styles, searched []byte) error {
	rec.DetectedStyles = []models.StyleMatch{}
	if len(styles) > 0 {
		if err := json.Unmarshal(styles, &rec.DetectedStyles); err != nil {
			return err
		}
	}
	if len(searched) > 0 && string(searched) != "null" {
		rec.SearchedArtist = &models.SearchedArtist{}
		if err := json.Unmarshal(searched, rec.SearchedArtist); err != nil {
			return err
		}
	}
	return nil
}
