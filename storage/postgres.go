package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/inkdex/search-go/models"
	"github.com/inkdex/search-go/records"
	"github.com/inkdex/search-go/search"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
	pgxvec "github.com/pgvector/pgvector-go/pgx"
)

// undefined_column
const pgUndefinedColumn = "42703"

type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(ctx context.Context, dbURL string) (*PostgresStore, error) {
	config, err := pgxpool.ParseConfig(dbURL)
	if err != nil {
		return nil, err
	}
	config.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		return pgxvec.RegisterTypes(ctx, conn)
	}
	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return &PostgresStore{pool: pool}, nil
}

func (s *PostgresStore) Close() {
	s.pool.Close()
}

// Candidates runs the filtered cosine k-NN scan over portfolio images.
// pgvector's <=> is cosine distance, so similarity is 1 - distance.
func (s *PostgresStore) Candidates(ctx context.Context, q search.CandidateQuery) ([]search.Candidate, error) {
	query := `
		SELECT
			pi.id::text,
			1 - (pi.embedding <=> $1) AS similarity,
			pi.is_color,
			COALESCE(pi.storage_thumb_640, ''),
			a.id::text,
			a.name,
			COALESCE(a.instagram_handle, ''),
			COALESCE(loc.city, ''),
			COALESCE(loc.region, ''),
			COALESCE(loc.country_code, ''),
			COALESCE(a.follower_count, 0),
			COALESCE(a.is_pro, false),
			COALESCE(a.is_featured, false),
			COALESCE(a.verification_status, ''),
			COALESCE(dom.style_name, ''),
			ARRAY(
				SELECT concat_ws(E'\x1f', COALESCE(l.city, ''), COALESCE(l.region, ''), COALESCE(l.country_code, ''))
				FROM artist_locations l WHERE l.artist_id = a.id
			)
		FROM portfolio_images pi
		JOIN artists a ON a.id = pi.artist_id
		LEFT JOIN LATERAL (
			SELECT city, region, country_code FROM artist_locations al
			WHERE al.artist_id = a.id
			ORDER BY al.is_primary DESC
			LIMIT 1
		) loc ON true
		LEFT JOIN LATERAL (
			SELECT style_name FROM artist_style_profiles sp
			WHERE sp.artist_id = a.id
			ORDER BY sp.percentage DESC, sp.style_name
			LIMIT 1
		) dom ON true
		WHERE %s
		ORDER BY pi.embedding <=> $1, pi.id
		LIMIT $2
	`

	args := []any{pgvector.NewVector(q.Embedding), q.Limit}
	param := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	conditions := []string{
		"pi.status = 'active'",
		"pi.embedding IS NOT NULL",
		"pi.is_tattoo IS NOT FALSE",
		"a.deleted_at IS NULL",
		fmt.Sprintf("1 - (pi.embedding <=> $1) >= %s", param(q.MinSimilarity)),
	}
	if q.ExcludeArtistID != "" {
		conditions = append(conditions, fmt.Sprintf("a.id::text <> %s", param(q.ExcludeArtistID)))
	}
	if loc := q.Location; loc.City != "" || loc.State != "" || loc.CountryCode != "" {
		var locConds []string
		if loc.City != "" {
			locConds = append(locConds, fmt.Sprintf("lower(fl.city) = lower(%s)", param(loc.City)))
		}
		if loc.State != "" {
			locConds = append(locConds, fmt.Sprintf("lower(fl.region) = lower(%s)", param(loc.State)))
		}
		if loc.CountryCode != "" {
			locConds = append(locConds, fmt.Sprintf("upper(fl.country_code) = upper(%s)", param(loc.CountryCode)))
		}
		conditions = append(conditions, fmt.Sprintf(
			"EXISTS (SELECT 1 FROM artist_locations fl WHERE fl.artist_id = a.id AND %s)",
			strings.Join(locConds, " AND ")))
	}
	if q.Style != "" {
		conditions = append(conditions, fmt.Sprintf(
			"EXISTS (SELECT 1 FROM image_style_tags t WHERE t.image_id = pi.id AND t.style_name = %s)", param(q.Style)))
	}

	rows, err := s.pool.Query(ctx, fmt.Sprintf(query, strings.Join(conditions, " AND ")), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []search.Candidate
	for rows.Next() {
		var c search.Candidate
		err := rows.Scan(
			&c.ImageID,
			&c.Similarity,
			&c.IsColor,
			&c.ThumbnailURL,
			&c.Artist.ID,
			&c.Artist.Name,
			&c.Artist.InstagramHandle,
			&c.Artist.City,
			&c.Artist.State,
			&c.Artist.CountryCode,
			&c.Artist.FollowerCount,
			&c.Artist.IsPro,
			&c.Artist.IsFeatured,
			&c.Artist.VerificationStatus,
			&c.Artist.DominantStyle,
		)
		if err != nil {
			return nil, err
		}
		results = append(results, c)
	}
	return results, rows.Err()
}

func (s *PostgresStore) StyleSeeds(ctx context.Context) ([]models.StyleSeed, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT style_name, COALESCE(display_name, style_name), COALESCE(description, ''), embedding
		FROM style_seeds
		WHERE embedding IS NOT NULL
		ORDER BY style_name
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var seeds []models.StyleSeed
	for rows.Next() {
		var seed models.StyleSeed
		var emb pgvector.Vector
		if err := rows.Scan(&seed.StyleName, &seed.DisplayName, &seed.Description, &emb); err != nil {
			return nil, err
		}
		seed.Embedding = emb.Slice()
		seeds = append(seeds, seed)
	}
	return seeds, rows.Err()
}

const artistColumns = `
	a.id::text, a.name, COALESCE(a.instagram_handle, ''),
	COALESCE(loc.city, ''), COALESCE(loc.region, ''), COALESCE(loc.country_code, ''),
	COALESCE(a.follower_count, 0), COALESCE(a.is_pro, false), COALESCE(a.is_featured, false),
	COALESCE(a.verification_status, ''), COALESCE(a.profile_image_url, ''), COALESCE(a.bio, '')
	FROM artists a
	LEFT JOIN LATERAL (
		SELECT city, region, country_code FROM artist_locations al
		WHERE al.artist_id = a.id
		ORDER BY al.is_primary DESC
		LIMIT 1
	) loc ON true
`

func (s *PostgresStore) artist(ctx context.Context, where string, arg any) (*models.Artist, error) {
	var a models.Artist
	err := s.pool.QueryRow(ctx, "SELECT "+artistColumns+" WHERE a.deleted_at IS NULL AND "+where, arg).Scan(
		&a.ID, &a.Name, &a.InstagramHandle,
		&a.City, &a.State, &a.CountryCode,
		&a.FollowerCount, &a.IsPro, &a.IsFeatured,
		&a.VerificationStatus, &a.ProfileImageURL, &a.Bio,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func (s *PostgresStore) ArtistByID(ctx context.Context, id string) (*models.Artist, error) {
	return s.artist(ctx, "a.id::text = $1", id)
}

func (s *PostgresStore) ArtistByHandle(ctx context.Context, handle string) (*models.Artist, error) {
	return s.artist(ctx, "lower(a.instagram_handle) = lower($1)", handle)
}

const imageColumns = `
	pi.id::text, pi.artist_id::text, pi.embedding, pi.status, COALESCE(pi.likes_count, 0),
	pi.is_tattoo, pi.is_color, COALESCE(pi.is_pinned, false), pi.pinned_position,
	COALESCE(pi.storage_thumb_640, '')
`

func scanImages(rows pgx.Rows) ([]models.PortfolioImage, error) {
	defer rows.Close()
	var images []models.PortfolioImage
	for rows.Next() {
		var img models.PortfolioImage
		var emb pgvector.Vector
		err := rows.Scan(
			&img.ID, &img.ArtistID, &emb, &img.Status, &img.LikesCount,
			&img.IsTattoo, &img.IsColor, &img.IsPinned, &img.PinnedPosition,
			&img.ThumbnailURL,
		)
		if err != nil {
			return nil, err
		}
		img.Embedding = emb.Slice()
		images = append(images, img)
	}
	return images, rows.Err()
}

func (s *PostgresStore) ArtistImages(ctx context.Context, artistID string) ([]models.PortfolioImage, error) {
	rows, err := s.pool.Query(ctx, "SELECT "+imageColumns+`
		FROM portfolio_images pi
		WHERE pi.artist_id::text = $1 AND pi.status = 'active' AND pi.embedding IS NOT NULL
		ORDER BY pi.id
	`, artistID)
	if err != nil {
		return nil, err
	}
	return scanImages(rows)
}

func (s *PostgresStore) UntaggedImages(ctx context.Context, afterID string, limit int) ([]models.PortfolioImage, error) {
	rows, err := s.pool.Query(ctx, "SELECT "+imageColumns+`
		FROM portfolio_images pi
		WHERE pi.status = 'active'
			AND pi.embedding IS NOT NULL
			AND pi.id::text > $1
			AND NOT EXISTS (SELECT 1 FROM image_style_tags t WHERE t.image_id = pi.id)
		ORDER BY pi.id::text
		LIMIT $2
	`, afterID, limit)
	if err != nil {
		return nil, err
	}
	return scanImages(rows)
}

func (s *PostgresStore) WriteImageTags(ctx context.Context, tags []models.ImageStyleTag) error {
	batch := &pgx.Batch{}
	for _, t := range tags {
		batch.Queue(`
			INSERT INTO image_style_tags (image_id, style_name, confidence)
			VALUES ($1::uuid, $2, $3)
			ON CONFLICT (image_id, style_name) DO UPDATE SET confidence = EXCLUDED.confidence
		`, t.ImageID, t.Style, t.Confidence)
	}
	return s.pool.SendBatch(ctx, batch).Close()
}

func (s *PostgresStore) InsertSearch(ctx context.Context, rec *models.SearchRecord, withStyles bool) error {
	cols := []string{"id", "query_type", "query_text", "embedding", "instagram_username", "instagram_post_id", "artist_id_source", "created_at"}
	args := []any{rec.ID, string(rec.QueryType), nullString(rec.QueryText), pgvector.NewVector(rec.Embedding),
		nullString(rec.InstagramUsername), nullString(rec.InstagramPostID), nullString(rec.ArtistIDSource), rec.CreatedAt}

	if withStyles {
		styles, err := json.Marshal(rec.DetectedStyles)
		if err != nil {
			return err
		}
		var searched []byte
		if rec.SearchedArtist != nil {
			if searched, err = json.Marshal(rec.SearchedArtist); err != nil {
				return err
			}
		}
		cols = append(cols, "detected_styles", "primary_style", "is_color", "searched_artist")
		args = append(args, styles, nullString(rec.PrimaryStyle), rec.IsColor, searched)
	}

	placeholders := make([]string, len(cols))
	for i := range cols {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
	}
	query := fmt.Sprintf("INSERT INTO searches (%s) VALUES (%s)", strings.Join(cols, ", "), strings.Join(placeholders, ", "))

	_, err := s.pool.Exec(ctx, query, args...)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgUndefinedColumn {
		return fmt.Errorf("%w: %s", records.ErrMissingColumn, pgErr.Message)
	}
	return err
}

func (s *PostgresStore) GetSearch(ctx context.Context, id string) (*models.SearchRecord, error) {
	rec := &models.SearchRecord{}
	var (
		queryType                                   string
		queryText, username, postID, source, primary *string
		styles, searched                            []byte
		emb                                         pgvector.Vector
	)
	err := s.pool.QueryRow(ctx, `
		SELECT id::text, query_type, query_text, embedding, detected_styles, primary_style, is_color,
			instagram_username, instagram_post_id, artist_id_source::text, searched_artist, created_at
		FROM searches
		WHERE id::text = $1
	`, id).Scan(&rec.ID, &queryType, &queryText, &emb, &styles, &primary, &rec.IsColor,
		&username, &postID, &source, &searched, &rec.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	rec.QueryType = models.QueryType(queryType)
	rec.Embedding = emb.Slice()
	rec.QueryText = deref(queryText)
	rec.PrimaryStyle = deref(primary)
	rec.InstagramUsername = deref(username)
	rec.InstagramPostID = deref(postID)
	rec.ArtistIDSource = deref(source)
	if err := decodeRecordJSON(rec, styles, searched); err != nil {
		return nil, err
	}
	return rec, nil
}

func (s *PostgresStore) InsertAppearances(ctx context.Context, apps []models.SearchAppearance) error {
	rows := make([][]any, len(apps))
	for i, a := range apps {
		rows[i] = []any{a.SearchID, a.ArtistID, a.ImageID, a.Rank, a.SimilarityScore, a.BoostedScore}
	}
	_, err := s.pool.CopyFrom(ctx,
		pgx.Identifier{"search_appearances"},
		[]string{"search_id", "artist_id", "image_id", "rank_position", "similarity_score", "boosted_score"},
		pgx.CopyFromRows(rows),
	)
	return err
}

func (s *PostgresStore) IndexPoints(ctx context.Context, afterID string, limit int) ([]IndexPoint, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT
			pi.id::text, pi.embedding, pi.is_color, COALESCE(pi.storage_thumb_640, ''),
			pi.status = 'active' AND pi.is_tattoo IS NOT FALSE AND a.deleted_at IS NULL,
			ARRAY(SELECT t.style_name FROM image_style_tags t WHERE t.image_id = pi.id ORDER BY t.style_name),
			a.id::text, a.name, COALESCE(a.instagram_handle, ''),
			COALESCE(loc.city, ''), COALESCE(loc.region, ''), COALESCE(loc.country_code, ''),
			COALESCE(a.follower_count, 0), COALESCE(a.is_pro, false), COALESCE(a.is_featured, false),
			COALESCE(a.verification_status, ''),
			COALESCE(dom.style_name, '')
		FROM portfolio_images pi
		JOIN artists a ON a.id = pi.artist_id
		LEFT JOIN LATERAL (
			SELECT city, region, country_code FROM artist_locations al
			WHERE al.artist_id = a.id
			ORDER BY al.is_primary DESC
			LIMIT 1
		) loc ON true
		LEFT JOIN LATERAL (
			SELECT style_name FROM artist_style_profiles sp
			WHERE sp.artist_id = a.id
			ORDER BY sp.percentage DESC, sp.style_name
			LIMIT 1
		) dom ON true
		WHERE pi.embedding IS NOT NULL AND pi.id::text > $1
		ORDER BY pi.id::text
		LIMIT $2
	`, afterID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var points []IndexPoint
	for rows.Next() {
		var p IndexPoint
		var emb pgvector.Vector
		var locs []string
		err := rows.Scan(
			&p.ImageID, &emb, &p.IsColor, &p.ThumbnailURL, &p.Searchable, &p.Styles,
			&p.Artist.ID, &p.Artist.Name, &p.Artist.InstagramHandle,
			&p.Artist.City, &p.Artist.State, &p.Artist.CountryCode,
			&p.Artist.FollowerCount, &p.Artist.IsPro, &p.Artist.IsFeatured,
			&p.Artist.VerificationStatus, &p.Artist.DominantStyle, &locs,
		)
		if err != nil {
			return nil, err
		}
		p.Embedding = emb.Slice()
		for _, l := range locs {
			parts := strings.SplitN(l, "\x1f", 3)
			if len(parts) == 3 {
				p.Locations = append(p.Locations, models.LocationFilter{City: parts[0], State: parts[1], CountryCode: parts[2]})
			}
		}
		points = append(points, p)
	}
	return points, rows.Err()
}
