package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/inkdex/search-go/models"
	"github.com/inkdex/search-go/records"
	"github.com/inkdex/search-go/search"
	"github.com/inkdex/search-go/vector"
	"github.com/sirupsen/logrus"
	_ "modernc.org/sqlite"
)

// SQLiteStore keeps embeddings as little-endian float32 blobs and scores
// candidates in process. It suits local development and tests; production
// deployments use PostgresStore.
type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(path string) (*SQLiteStore, error) {
	return openSQLite(path, len(sqliteMigrations))
}

func openSQLite(path string, target int) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path+"?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// a single writer avoids SQLITE_BUSY under concurrent appearance tracking
	db.SetMaxOpenConns(1)
	s := &SQLiteStore{db: db}
	if err := s.migrate(target); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

type migration struct {
	version int
	name    string
	stmts   []string
}

var sqliteMigrations = []migration{
	{version: 1, name: "initial_schema", stmts: []string{
		`CREATE TABLE IF NOT EXISTS artists (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			instagram_handle TEXT,
			city TEXT,
			state TEXT,
			country_code TEXT,
			follower_count INTEGER NOT NULL DEFAULT 0,
			is_pro INTEGER NOT NULL DEFAULT 0,
			is_featured INTEGER NOT NULL DEFAULT 0,
			verification_status TEXT NOT NULL DEFAULT 'unclaimed',
			profile_image_url TEXT,
			bio TEXT,
			deleted_at TEXT
		)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_artists_handle ON artists(lower(instagram_handle))`,
		`CREATE TABLE IF NOT EXISTS portfolio_images (
			id TEXT PRIMARY KEY,
			artist_id TEXT NOT NULL REFERENCES artists(id),
			embedding BLOB,
			status TEXT NOT NULL DEFAULT 'pending',
			likes_count INTEGER NOT NULL DEFAULT 0,
			is_tattoo INTEGER,
			is_color INTEGER,
			is_pinned INTEGER NOT NULL DEFAULT 0,
			pinned_position INTEGER,
			thumbnail_url TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_images_artist ON portfolio_images(artist_id)`,
		`CREATE TABLE IF NOT EXISTS image_style_tags (
			image_id TEXT NOT NULL REFERENCES portfolio_images(id),
			style_name TEXT NOT NULL,
			confidence REAL NOT NULL,
			PRIMARY KEY (image_id, style_name)
		)`,
		`CREATE TABLE IF NOT EXISTS artist_style_profiles (
			artist_id TEXT NOT NULL REFERENCES artists(id),
			style_name TEXT NOT NULL,
			percentage REAL NOT NULL,
			PRIMARY KEY (artist_id, style_name)
		)`,
		`CREATE TABLE IF NOT EXISTS style_seeds (
			style_name TEXT PRIMARY KEY,
			display_name TEXT,
			description TEXT,
			embedding BLOB NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS searches (
			id TEXT PRIMARY KEY,
			query_type TEXT NOT NULL,
			query_text TEXT,
			embedding BLOB NOT NULL,
			instagram_username TEXT,
			instagram_post_id TEXT,
			artist_id_source TEXT,
			created_at TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS search_appearances (
			search_id TEXT NOT NULL REFERENCES searches(id),
			artist_id TEXT NOT NULL,
			image_id TEXT NOT NULL,
			rank_position INTEGER NOT NULL,
			similarity_score REAL NOT NULL,
			boosted_score REAL NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_appearances_artist ON search_appearances(artist_id)`,
	}},
	{version: 2, name: "search_style_metadata", stmts: []string{
		`ALTER TABLE searches ADD COLUMN detected_styles TEXT`,
		`ALTER TABLE searches ADD COLUMN primary_style TEXT`,
		`ALTER TABLE searches ADD COLUMN is_color INTEGER`,
		`ALTER TABLE searches ADD COLUMN searched_artist TEXT`,
	}},
}

// migrate applies pending migrations up to and including target.
func (s *SQLiteStore) migrate(target int) error {
	if _, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			name TEXT NOT NULL,
			applied_at TEXT NOT NULL DEFAULT (datetime('now'))
		)
	`); err != nil {
		return fmt.Errorf("create schema_migrations: %w", err)
	}

	var current int
	if err := s.db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&current); err != nil {
		return err
	}

	for _, m := range sqliteMigrations {
		if m.version <= current || m.version > target {
			continue
		}
		logrus.WithFields(logrus.Fields{"version": m.version, "name": m.name}).Info("running migration")
		tx, err := s.db.Begin()
		if err != nil {
			return err
		}
		for _, stmt := range m.stmts {
			if _, err := tx.Exec(stmt); err != nil {
				tx.Rollback()
				return fmt.Errorf("migration %d failed: %w", m.version, err)
			}
		}
		if _, err := tx.Exec("INSERT INTO schema_migrations (version, name) VALUES (?, ?)", m.version, m.name); err != nil {
			tx.Rollback()
			return err
		}
		if err := tx.Commit(); err != nil {
			return err
		}
	}
	return nil
}

func nullBool(b sql.NullBool) *bool {
	if !b.Valid {
		return nil
	}
	v := b.Bool
	return &v
}

func (s *SQLiteStore) Candidates(ctx context.Context, q search.CandidateQuery) ([]search.Candidate, error) {
	if err := vector.Validate(q.Embedding); err != nil {
		return nil, err
	}

	conditions := []string{
		"pi.status = 'active'",
		"pi.embedding IS NOT NULL",
		"(pi.is_tattoo IS NULL OR pi.is_tattoo = 1)",
		"a.deleted_at IS NULL",
	}
	var args []any
	if q.ExcludeArtistID != "" {
		conditions = append(conditions, "a.id <> ?")
		args = append(args, q.ExcludeArtistID)
	}
	if q.Location.City != "" {
		conditions = append(conditions, "lower(a.city) = lower(?)")
		args = append(args, q.Location.City)
	}
	if q.Location.State != "" {
		conditions = append(conditions, "lower(a.state) = lower(?)")
		args = append(args, q.Location.State)
	}
	if q.Location.CountryCode != "" {
		conditions = append(conditions, "upper(a.country_code) = upper(?)")
		args = append(args, q.Location.CountryCode)
	}
	if q.Style != "" {
		conditions = append(conditions, "EXISTS (SELECT 1 FROM image_style_tags t WHERE t.image_id = pi.id AND t.style_name = ?)")
		args = append(args, q.Style)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT
			pi.id, pi.embedding, pi.is_color, COALESCE(pi.thumbnail_url, ''),
			a.id, a.name, COALESCE(a.instagram_handle, ''),
			COALESCE(a.city, ''), COALESCE(a.state, ''), COALESCE(a.country_code, ''),
			a.follower_count, a.is_pro, a.is_featured, a.verification_status,
			COALESCE((
				SELECT sp.style_name FROM artist_style_profiles sp
				WHERE sp.artist_id = a.id
				ORDER BY sp.percentage DESC, sp.style_name
				LIMIT 1
			), '')
		FROM portfolio_images pi
		JOIN artists a ON a.id = pi.artist_id
		WHERE `+strings.Join(conditions, " AND "), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []search.Candidate
	for rows.Next() {
		var (
			c       search.Candidate
			blob    []byte
			isColor sql.NullBool
		)
		err := rows.Scan(
			&c.ImageID, &blob, &isColor, &c.ThumbnailURL,
			&c.Artist.ID, &c.Artist.Name, &c.Artist.InstagramHandle,
			&c.Artist.City, &c.Artist.State, &c.Artist.CountryCode,
			&c.Artist.FollowerCount, &c.Artist.IsPro, &c.Artist.IsFeatured, &c.Artist.VerificationStatus,
			&c.Artist.DominantStyle,
		)
		if err != nil {
			return nil, err
		}
		emb, err := vector.DecodeBlob(blob)
		if err != nil {
			logrus.WithError(err).WithField("image_id", c.ImageID).Warn("skipping image with corrupt embedding")
			continue
		}
		c.Similarity = vector.Cosine(q.Embedding, emb)
		if c.Similarity < q.MinSimilarity {
			continue
		}
		c.IsColor = nullBool(isColor)
		results = append(results, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].Similarity != results[j].Similarity {
			return results[i].Similarity > results[j].Similarity
		}
		return results[i].ImageID < results[j].ImageID
	})
	if q.Limit > 0 && len(results) > q.Limit {
		results = results[:q.Limit]
	}
	return results, nil
}

func (s *SQLiteStore) StyleSeeds(ctx context.Context) ([]models.StyleSeed, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT style_name, COALESCE(display_name, style_name), COALESCE(description, ''), embedding
		FROM style_seeds
		ORDER BY style_name
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var seeds []models.StyleSeed
	for rows.Next() {
		var seed models.StyleSeed
		var blob []byte
		if err := rows.Scan(&seed.StyleName, &seed.DisplayName, &seed.Description, &blob); err != nil {
			return nil, err
		}
		if seed.Embedding, err = vector.DecodeBlob(blob); err != nil {
			return nil, fmt.Errorf("style seed %s: %w", seed.StyleName, err)
		}
		seeds = append(seeds, seed)
	}
	return seeds, rows.Err()
}

func (s *SQLiteStore) artist(ctx context.Context, where string, arg any) (*models.Artist, error) {
	var a models.Artist
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, COALESCE(instagram_handle, ''),
			COALESCE(city, ''), COALESCE(state, ''), COALESCE(country_code, ''),
			follower_count, is_pro, is_featured, verification_status,
			COALESCE(profile_image_url, ''), COALESCE(bio, '')
		FROM artists
		WHERE deleted_at IS NULL AND `+where, arg).Scan(
		&a.ID, &a.Name, &a.InstagramHandle,
		&a.City, &a.State, &a.CountryCode,
		&a.FollowerCount, &a.IsPro, &a.IsFeatured, &a.VerificationStatus,
		&a.ProfileImageURL, &a.Bio,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func (s *SQLiteStore) ArtistByID(ctx context.Context, id string) (*models.Artist, error) {
	return s.artist(ctx, "id = ?", id)
}

func (s *SQLiteStore) ArtistByHandle(ctx context.Context, handle string) (*models.Artist, error) {
	return s.artist(ctx, "lower(instagram_handle) = lower(?)", handle)
}

const sqliteImageColumns = `
	id, artist_id, embedding, status, likes_count, is_tattoo, is_color,
	is_pinned, pinned_position, COALESCE(thumbnail_url, '')
`

func scanSQLiteImages(rows *sql.Rows) ([]models.PortfolioImage, error) {
	defer rows.Close()
	var images []models.PortfolioImage
	for rows.Next() {
		var (
			img               models.PortfolioImage
			blob              []byte
			status            string
			isTattoo, isColor sql.NullBool
			pinnedPos         sql.NullInt64
		)
		err := rows.Scan(&img.ID, &img.ArtistID, &blob, &status, &img.LikesCount,
			&isTattoo, &isColor, &img.IsPinned, &pinnedPos, &img.ThumbnailURL)
		if err != nil {
			return nil, err
		}
		img.Status = models.ImageStatus(status)
		img.IsTattoo = nullBool(isTattoo)
		img.IsColor = nullBool(isColor)
		if pinnedPos.Valid {
			p := int(pinnedPos.Int64)
			img.PinnedPosition = &p
		}
		if blob != nil {
			if img.Embedding, err = vector.DecodeBlob(blob); err != nil {
				return nil, fmt.Errorf("image %s: %w", img.ID, err)
			}
		}
		images = append(images, img)
	}
	return images, rows.Err()
}

func (s *SQLiteStore) ArtistImages(ctx context.Context, artistID string) ([]models.PortfolioImage, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT "+sqliteImageColumns+`
		FROM portfolio_images
		WHERE artist_id = ? AND status = 'active' AND embedding IS NOT NULL
		ORDER BY id
	`, artistID)
	if err != nil {
		return nil, err
	}
	return scanSQLiteImages(rows)
}

func (s *SQLiteStore) UntaggedImages(ctx context.Context, afterID string, limit int) ([]models.PortfolioImage, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT "+sqliteImageColumns+`
		FROM portfolio_images pi
		WHERE status = 'active'
			AND embedding IS NOT NULL
			AND id > ?
			AND NOT EXISTS (SELECT 1 FROM image_style_tags t WHERE t.image_id = pi.id)
		ORDER BY id
		LIMIT ?
	`, afterID, limit)
	if err != nil {
		return nil, err
	}
	return scanSQLiteImages(rows)
}

func (s *SQLiteStore) WriteImageTags(ctx context.Context, tags []models.ImageStyleTag) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	for _, t := range tags {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO image_style_tags (image_id, style_name, confidence) VALUES (?, ?, ?)
			ON CONFLICT (image_id, style_name) DO UPDATE SET confidence = excluded.confidence
		`, t.ImageID, t.Style, t.Confidence)
		if err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *SQLiteStore) InsertSearch(ctx context.Context, rec *models.SearchRecord, withStyles bool) error {
	cols := []string{"id", "query_type", "query_text", "embedding", "instagram_username", "instagram_post_id", "artist_id_source", "created_at"}
	args := []any{rec.ID, string(rec.QueryType), nullString(rec.QueryText), vector.EncodeBlob(rec.Embedding),
		nullString(rec.InstagramUsername), nullString(rec.InstagramPostID), nullString(rec.ArtistIDSource),
		rec.CreatedAt.UTC().Format(time.RFC3339Nano)}

	if withStyles {
		styles, err := json.Marshal(rec.DetectedStyles)
		if err != nil {
			return err
		}
		var searched any
		if rec.SearchedArtist != nil {
			b, err := json.Marshal(rec.SearchedArtist)
			if err != nil {
				return err
			}
			searched = string(b)
		}
		cols = append(cols, "detected_styles", "primary_style", "is_color", "searched_artist")
		args = append(args, string(styles), nullString(rec.PrimaryStyle), rec.IsColor, searched)
	}

	query := fmt.Sprintf("INSERT INTO searches (%s) VALUES (%s)",
		strings.Join(cols, ", "), strings.TrimSuffix(strings.Repeat("?, ", len(cols)), ", "))
	_, err := s.db.ExecContext(ctx, query, args...)
	if err != nil && strings.Contains(err.Error(), "no column named") {
		return fmt.Errorf("%w: %v", records.ErrMissingColumn, err)
	}
	return err
}

func (s *SQLiteStore) GetSearch(ctx context.Context, id string) (*models.SearchRecord, error) {
	const base = `id, query_type, query_text, embedding, instagram_username, instagram_post_id, artist_id_source, created_at`
	var (
		rec                                          = &models.SearchRecord{}
		queryType, createdAt                         string
		queryText, username, postID, source, primary sql.NullString
		styles, searched                             sql.NullString
		isColor                                      sql.NullBool
		blob                                         []byte
	)
	dest := []any{&rec.ID, &queryType, &queryText, &blob, &username, &postID, &source, &createdAt}

	row := s.db.QueryRowContext(ctx, "SELECT "+base+", detected_styles, primary_style, is_color, searched_artist FROM searches WHERE id = ?", id)
	err := row.Scan(append(dest, &styles, &primary, &isColor, &searched)...)
	if err != nil && strings.Contains(err.Error(), "no such column") {
		err = s.db.QueryRowContext(ctx, "SELECT "+base+" FROM searches WHERE id = ?", id).Scan(dest...)
	}
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	rec.QueryType = models.QueryType(queryType)
	rec.QueryText = queryText.String
	rec.InstagramUsername = username.String
	rec.InstagramPostID = postID.String
	rec.ArtistIDSource = source.String
	rec.PrimaryStyle = primary.String
	rec.IsColor = nullBool(isColor)
	if rec.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
		return nil, err
	}
	if rec.Embedding, err = vector.DecodeBlob(blob); err != nil {
		return nil, err
	}
	if err := decodeRecordJSON(rec, []byte(styles.String), []byte(searched.String)); err != nil {
		return nil, err
	}
	return rec, nil
}

func (s *SQLiteStore) InsertAppearances(ctx context.Context, apps []models.SearchAppearance) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO search_appearances (search_id, artist_id, image_id, rank_position, similarity_score, boosted_score)
		VALUES (?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return err
	}
	defer stmt.Close()
	for _, a := range apps {
		if _, err := stmt.ExecContext(ctx, a.SearchID, a.ArtistID, a.ImageID, a.Rank, a.SimilarityScore, a.BoostedScore); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// Appearances lists the recorded appearances of a search in rank order.
func (s *SQLiteStore) Appearances(ctx context.Context, searchID string) ([]models.SearchAppearance, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT search_id, artist_id, image_id, rank_position, similarity_score, boosted_score
		FROM search_appearances
		WHERE search_id = ?
		ORDER BY rank_position
	`, searchID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var apps []models.SearchAppearance
	for rows.Next() {
		var a models.SearchAppearance
		if err := rows.Scan(&a.SearchID, &a.ArtistID, &a.ImageID, &a.Rank, &a.SimilarityScore, &a.BoostedScore); err != nil {
			return nil, err
		}
		apps = append(apps, a)
	}
	return apps, rows.Err()
}

// PutArtist inserts or replaces an artist row.
func (s *SQLiteStore) PutArtist(ctx context.Context, a models.Artist) error {
	var deletedAt any
	if a.DeletedAt != nil {
		deletedAt = a.DeletedAt.UTC().Format(time.RFC3339Nano)
	}
	status := a.VerificationStatus
	if status == "" {
		status = "unclaimed"
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO artists (id, name, instagram_handle, city, state, country_code,
			follower_count, is_pro, is_featured, verification_status, profile_image_url, bio, deleted_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, a.ID, a.Name, nullString(a.InstagramHandle), nullString(a.City), nullString(a.State), nullString(a.CountryCode),
		a.FollowerCount, a.IsPro, a.IsFeatured, status, nullString(a.ProfileImageURL), nullString(a.Bio), deletedAt)
	return err
}

// PutImage inserts or replaces a portfolio image and tags it with img.Styles.
func (s *SQLiteStore) PutImage(ctx context.Context, img models.PortfolioImage) error {
	var blob []byte
	if img.Embedding != nil {
		blob = vector.EncodeBlob(img.Embedding)
	}
	status := img.Status
	if status == "" {
		status = models.ImageActive
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO portfolio_images (id, artist_id, embedding, status, likes_count,
			is_tattoo, is_color, is_pinned, pinned_position, thumbnail_url)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, img.ID, img.ArtistID, blob, string(status), img.LikesCount,
		img.IsTattoo, img.IsColor, img.IsPinned, img.PinnedPosition, nullString(img.ThumbnailURL))
	if err != nil {
		return err
	}
	if len(img.Styles) == 0 {
		return nil
	}
	tags := make([]models.ImageStyleTag, len(img.Styles))
	for i, style := range img.Styles {
		tags[i] = models.ImageStyleTag{ImageID: img.ID, Style: style, Confidence: 1}
	}
	return s.WriteImageTags(ctx, tags)
}

func (s *SQLiteStore) PutStyleSeed(ctx context.Context, seed models.StyleSeed) error {
	if err := vector.Validate(seed.Embedding); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO style_seeds (style_name, display_name, description, embedding)
		VALUES (?, ?, ?, ?)
	`, seed.StyleName, nullString(seed.DisplayName), nullString(seed.Description), vector.EncodeBlob(seed.Embedding))
	return err
}

func (s *SQLiteStore) PutStyleProfile(ctx context.Context, artistID, style string, percentage float64) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO artist_style_profiles (artist_id, style_name, percentage) VALUES (?, ?, ?)
	`, artistID, style, percentage)
	return err
}

func (s *SQLiteStore) IndexPoints(ctx context.Context, afterID string, limit int) ([]IndexPoint, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT
			pi.id, pi.embedding, pi.is_color, COALESCE(pi.thumbnail_url, ''),
			pi.status = 'active' AND (pi.is_tattoo IS NULL OR pi.is_tattoo = 1) AND a.deleted_at IS NULL,
			COALESCE((SELECT group_concat(t.style_name) FROM image_style_tags t WHERE t.image_id = pi.id), ''),
			a.id, a.name, COALESCE(a.instagram_handle, ''),
			COALESCE(a.city, ''), COALESCE(a.state, ''), COALESCE(a.country_code, ''),
			a.follower_count, a.is_pro, a.is_featured, a.verification_status,
			COALESCE((
				SELECT sp.style_name FROM artist_style_profiles sp
				WHERE sp.artist_id = a.id
				ORDER BY sp.percentage DESC, sp.style_name
				LIMIT 1
			), '')
		FROM portfolio_images pi
		JOIN artists a ON a.id = pi.artist_id
		WHERE pi.embedding IS NOT NULL AND pi.id > ?
		ORDER BY pi.id
		LIMIT ?
	`, afterID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var points []IndexPoint
	for rows.Next() {
		var (
			p       IndexPoint
			blob    []byte
			isColor sql.NullBool
			styles  string
		)
		err := rows.Scan(
			&p.ImageID, &blob, &isColor, &p.ThumbnailURL, &p.Searchable, &styles,
			&p.Artist.ID, &p.Artist.Name, &p.Artist.InstagramHandle,
			&p.Artist.City, &p.Artist.State, &p.Artist.CountryCode,
			&p.Artist.FollowerCount, &p.Artist.IsPro, &p.Artist.IsFeatured, &p.Artist.VerificationStatus,
			&p.Artist.DominantStyle,
		)
		if err != nil {
			return nil, err
		}
		if p.Embedding, err = vector.DecodeBlob(blob); err != nil {
			return nil, fmt.Errorf("image %s: %w", p.ImageID, err)
		}
		p.IsColor = nullBool(isColor)
		if styles != "" {
			p.Styles = strings.Split(styles, ",")
		}
		if a := p.Artist; a.City != "" || a.State != "" || a.CountryCode != "" {
			p.Locations = []models.LocationFilter{{City: a.City, State: a.State, CountryCode: a.CountryCode}}
		}
		points = append(points, p)
	}
	return points, rows.Err()
}
