package main

import (
	"context"
	"fmt"

	"github.com/inkdex/search-go/config"
	"github.com/inkdex/search-go/embedding"
	"github.com/inkdex/search-go/instagram"
	"github.com/inkdex/search-go/normalize"
	"github.com/inkdex/search-go/records"
	"github.com/inkdex/search-go/search"
	"github.com/inkdex/search-go/service"
	"github.com/inkdex/search-go/storage"
	"github.com/inkdex/search-go/styles"
	"github.com/sirupsen/logrus"
)

// backend is what either datastore provides to the pipeline.
type backend interface {
	search.Index
	styles.SeedSource
	styles.ImageTagStore
	normalize.ArtistSource
	records.Repository
	storage.IndexSource
}

type app struct {
	cfg      *config.Config
	store    backend
	embedder *embedding.Client
	records  *records.Store
	searcher *service.Searcher
	closers  []func()
}

func setupLogging(level string) {
	logrus.SetFormatter(&logrus.JSONFormatter{})
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		logrus.WithField("log_level", level).Warn("unknown log level, using info")
		lvl = logrus.InfoLevel
	}
	logrus.SetLevel(lvl)
}

func openBackend(ctx context.Context, cfg *config.Config) (backend, func(), error) {
	switch cfg.StoreDriver {
	case "sqlite":
		s, err := storage.NewSQLiteStore(cfg.SQLitePath)
		if err != nil {
			return nil, nil, err
		}
		return s, func() { s.Close() }, nil
	default:
		s, err := storage.NewPostgresStore(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, err
		}
		return s, s.Close, nil
	}
}

func newEmbeddingClient(cfg *config.Config) *embedding.Client {
	var local, remote embedding.Provider
	if cfg.LocalClipURL != "" {
		local = embedding.NewHTTPProvider("local", cfg.LocalClipURL, cfg.ClipAPIKey, cfg.LocalTimeout)
	}
	if cfg.RemoteClipURL != "" {
		remote = embedding.NewHTTPProvider("remote", cfg.RemoteClipURL, cfg.ClipAPIKey, cfg.RemoteTimeout)
	}
	return embedding.NewClient(local, remote, embedding.Options{
		PreferPrimary:  cfg.PreferLocalClip,
		EnableFallback: cfg.EnableFallback,
		PrimaryTimeout: cfg.LocalTimeout,
	})
}

func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	a := &app{cfg: cfg}

	store, closeStore, err := openBackend(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s store: %w", cfg.StoreDriver, err)
	}
	a.store = store
	a.closers = append(a.closers, closeStore)

	var index search.Index = store
	if cfg.IndexDriver == "qdrant" {
		q, err := storage.NewQdrantIndex(ctx, cfg.QdrantHost, cfg.QdrantPort, cfg.QdrantCollection)
		if err != nil {
			a.Close()
			return nil, err
		}
		index = q
		a.closers = append(a.closers, func() { q.Close() })
	}

	engine, err := search.NewEngine(index, search.Config{
		Boosts: search.Boosts{
			Pro:      cfg.ProBoost,
			Featured: cfg.FeaturedBoost,
			Style:    cfg.StyleBonus,
			Color:    cfg.ColorBonus,
		},
		CandidatePool: cfg.CandidatePool,
	})
	if err != nil {
		a.Close()
		return nil, err
	}

	var fetcher instagram.Fetcher
	if cfg.InstagramFetchURL != "" {
		fetcher = instagram.NewHTTPFetcher(cfg.InstagramFetchURL, cfg.InstagramFetchAPIKey, nil)
	} else {
		logrus.Warn("INSTAGRAM_FETCH_URL not set, Instagram searches are limited to indexed artists")
	}

	a.embedder = newEmbeddingClient(cfg)
	a.records = records.NewStore(store)
	a.searcher = service.NewSearcher(
		normalize.New(store, fetcher),
		a.embedder,
		styles.NewClassifier(store, styles.DefaultOptions()),
		engine,
		a.records,
	)

	logrus.WithFields(logrus.Fields{
		"store":          cfg.StoreDriver,
		"index":          cfg.IndexDriver,
		"local_clip":     cfg.LocalClipURL != "",
		"remote_clip":    cfg.RemoteClipURL != "",
		"prefer_local":   cfg.PreferLocalClip,
		"fallback":       cfg.EnableFallback,
		"candidate_pool": cfg.CandidatePool,
	}).Info("search pipeline ready")
	return a, nil
}

// Close drains background work, then releases connections.
func (a *app) Close() {
	if a.records != nil {
		a.records.Wait()
	}
	if a.embedder != nil {
		a.embedder.Wait()
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}
