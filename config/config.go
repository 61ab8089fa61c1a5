// Package config loads service settings from the environment, optionally
// seeded from a .env file for local development.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds every runtime setting of the search service.
type Config struct {
	Port     string
	LogLevel string

	// Storage
	StoreDriver string // postgres | sqlite
	DatabaseURL string
	SQLitePath  string

	// Vector index
	IndexDriver      string // store | qdrant
	QdrantHost       string
	QdrantPort       int
	QdrantCollection string

	// Embedding providers
	LocalClipURL    string
	ClipAPIKey      string
	LocalTimeout    time.Duration
	RemoteClipURL   string
	RemoteTimeout   time.Duration
	EnableFallback  bool
	PreferLocalClip bool

	// Instagram fetch collaborator
	InstagramFetchURL    string
	InstagramFetchAPIKey string

	// Ranking
	ProBoost      float64
	FeaturedBoost float64
	StyleBonus    float64
	ColorBonus    float64
	CandidatePool int

	CORSOrigins []string
}

// Load reads optional .env files and parses the environment into a Config.
// Variables already set in the environment are never overridden.
func Load(envFiles ...string) (*Config, error) {
	if len(envFiles) == 0 {
		envFiles = []string{".env"}
	}
	// each file is optional; earlier files win
	for _, f := range envFiles {
		_ = godotenv.Load(f)
	}
	return FromEnv(os.Getenv)
}

// FromEnv builds a Config using getenv as the variable source.
func FromEnv(getenv func(string) string) (*Config, error) {
	p := parser{getenv: getenv}
	cfg := &Config{
		Port:     p.str("PORT", "8080"),
		LogLevel: p.str("LOG_LEVEL", "info"),

		StoreDriver: strings.ToLower(p.str("STORE_DRIVER", "postgres")),
		DatabaseURL: normalizeDatabaseURL(p.str("DATABASE_URL", "")),
		SQLitePath:  p.str("SQLITE_PATH", "inkdex.db"),

		IndexDriver:      strings.ToLower(p.str("INDEX_DRIVER", "store")),
		QdrantHost:       p.str("QDRANT_HOST", "localhost"),
		QdrantPort:       p.intRange("QDRANT_PORT", 6334, 1, 65535),
		QdrantCollection: p.str("QDRANT_COLLECTION", "portfolio_images"),

		LocalClipURL:    strings.TrimRight(p.str("LOCAL_CLIP_URL", ""), "/"),
		ClipAPIKey:      p.str("CLIP_API_KEY", ""),
		LocalTimeout:    p.millis("LOCAL_CLIP_TIMEOUT", 5000),
		RemoteClipURL:   strings.TrimRight(p.str("REMOTE_CLIP_URL", ""), "/"),
		RemoteTimeout:   p.millis("REMOTE_CLIP_TIMEOUT", 30000),
		EnableFallback:  p.boolean("ENABLE_REMOTE_FALLBACK", true),
		PreferLocalClip: p.boolean("PREFER_LOCAL_CLIP", true),

		InstagramFetchURL:    strings.TrimRight(p.str("INSTAGRAM_FETCH_URL", ""), "/"),
		InstagramFetchAPIKey: p.str("INSTAGRAM_FETCH_API_KEY", ""),

		ProBoost:      p.floatRange("RANK_PRO_BOOST", 0.05, 0, 0.10),
		FeaturedBoost: p.floatRange("RANK_FEATURED_BOOST", 0.02, 0, 0.10),
		StyleBonus:    p.floatRange("RANK_STYLE_BONUS", 0.03, 0, 0.05),
		ColorBonus:    p.floatRange("RANK_COLOR_BONUS", 0.01, 0, 0.05),
		CandidatePool: p.intRange("SEARCH_CANDIDATE_POOL", 2000, 100, 10000),

		CORSOrigins: p.list("CORS_ORIGINS", []string{"*"}),
	}
	if p.err != nil {
		return nil, p.err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks cross-field constraints.
func (c *Config) Validate() error {
	switch c.StoreDriver {
	case "postgres":
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required when STORE_DRIVER=postgres")
		}
	case "sqlite":
		if c.SQLitePath == "" {
			return fmt.Errorf("SQLITE_PATH is required when STORE_DRIVER=sqlite")
		}
	default:
		return fmt.Errorf("invalid STORE_DRIVER %q: must be postgres or sqlite", c.StoreDriver)
	}
	switch c.IndexDriver {
	case "store", "qdrant":
	default:
		return fmt.Errorf("invalid INDEX_DRIVER %q: must be store or qdrant", c.IndexDriver)
	}
	if c.LocalClipURL == "" && c.RemoteClipURL == "" {
		return fmt.Errorf("at least one of LOCAL_CLIP_URL or REMOTE_CLIP_URL must be set")
	}
	return nil
}

// normalizeDatabaseURL rewrites SQLAlchemy-style schemes shared with the Python workers.
func normalizeDatabaseURL(dbURL string) string {
	const sqlalchemy = "postgresql+psycopg:"
	if strings.HasPrefix(dbURL, sqlalchemy) {
		return "postgres:" + dbURL[len(sqlalchemy):]
	}
	return dbURL
}

type parser struct {
	getenv func(string) string
	err    error
}

func (p *parser) str(key, def string) string {
	if v := strings.TrimSpace(p.getenv(key)); v != "" {
		return v
	}
	return def
}

func (p *parser) fail(key, raw, want string) {
	if p.err == nil {
		p.err = fmt.Errorf("invalid %s: must be %s, got %q", key, want, raw)
	}
}

func (p *parser) intRange(key string, def, min, max int) int {
	raw := strings.TrimSpace(p.getenv(key))
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < min || n > max {
		p.fail(key, raw, fmt.Sprintf("an integer in %d-%d", min, max))
		return def
	}
	return n
}

func (p *parser) millis(key string, def int) time.Duration {
	return time.Duration(p.intRange(key, def, 0, 60000)) * time.Millisecond
}

func (p *parser) floatRange(key string, def, min, max float64) float64 {
	raw := strings.TrimSpace(p.getenv(key))
	if raw == "" {
		return def
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil || f < min || f > max {
		p.fail(key, raw, fmt.Sprintf("a number in %g-%g", min, max))
		return def
	}
	return f
}

func (p *parser) boolean(key string, def bool) bool {
	raw := strings.TrimSpace(p.getenv(key))
	if raw == "" {
		return def
	}
	b, err := strconv.ParseBool(raw)
	if err != nil {
		p.fail(key, raw, "true or false")
		return def
	}
	return b
}

func (p *parser) list(key string, def []string) []string {
	raw := strings.TrimSpace(p.getenv(key))
	if raw == "" {
		return def
	}
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if s := strings.TrimSpace(part); s != "" {
			out = append(out, s)
		}
	}
	return out
}
