package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/inkdex/search-go/api"
	"github.com/inkdex/search-go/config"
	"github.com/inkdex/search-go/models"
	"github.com/inkdex/search-go/storage"
	"github.com/inkdex/search-go/styles"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

func main() {
	rootCmd := &cobra.Command{
		Use:           "inkdex-search",
		Short:         "Visual similarity search for tattoo artists",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.AddCommand(newServeCmd(), newRetagCmd(), newHealthCmd(), newSyncIndexCmd())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		logrus.WithError(err).Error("command failed")
		os.Exit(1)
	}
}

func loadConfig() (*config.Config, error) {
	// .env from the repo root, optional for local dev
	cfg, err := config.Load("../../.env", ".env")
	if err != nil {
		return nil, err
	}
	setupLogging(cfg.LogLevel)
	return cfg, nil
}

func newServeCmd() *cobra.Command {
	var port string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the search HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if port != "" {
				cfg.Port = port
			}

			ctx := cmd.Context()
			a, err := newApp(ctx, cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			r := chi.NewRouter()
			r.Use(middleware.RequestID)
			r.Use(middleware.RealIP)
			r.Use(middleware.Logger)
			r.Use(middleware.Recoverer)
			r.Use(cors.Handler(cors.Options{
				AllowedOrigins: cfg.CORSOrigins,
				AllowedMethods: []string{"GET", "POST", "OPTIONS"},
				AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
				ExposedHeaders: []string{"Retry-After", "X-RateLimit-Limit", "X-RateLimit-Remaining"},
			}))
			api.NewHandler(a.searcher).Register(r)

			server := &http.Server{
				Addr:              ":" + cfg.Port,
				Handler:           r,
				ReadHeaderTimeout: 10 * time.Second,
			}

			errCh := make(chan error, 1)
			go func() {
				logrus.WithField("port", cfg.Port).Info("search service running")
				if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					errCh <- err
				}
				close(errCh)
			}()

			select {
			case err := <-errCh:
				return fmt.Errorf("server error: %w", err)
			case <-ctx.Done():
			}

			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := server.Shutdown(shutdownCtx); err != nil {
				logrus.WithError(err).Error("server shutdown error")
			}
			logrus.Info("server stopped")
			return nil
		},
	}
	cmd.Flags().StringVar(&port, "port", "", "listen port (overrides PORT)")
	return cmd
}

func newRetagCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "retag",
		Short: "Backfill style tags for untagged portfolio images",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			store, closeStore, err := openBackend(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer closeStore()

			if limit <= 0 {
				limit = math.MaxInt
			}
			start := time.Now()
			res, err := styles.NewRetagger(store, store, styles.DefaultOptions()).Run(cmd.Context(), limit)
			logrus.WithFields(logrus.Fields{
				"processed":    res.Processed,
				"tagged":       res.Tagged,
				"no_styles":    res.NoStyles,
				"style_counts": res.StyleCounts,
				"duration_ms":  time.Since(start).Milliseconds(),
			}).Info("retag finished")
			return err
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 0, "maximum images to process (0 = all)")
	return cmd
}

func newHealthCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Probe the embedding providers and print a report",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			report := newEmbeddingClient(cfg).CheckHealth(cmd.Context())
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			if err := enc.Encode(report); err != nil {
				return err
			}
			if !report.AnyHealthy() {
				return fmt.Errorf("%w: no healthy embedding provider", models.ErrEmbeddingUnavailable)
			}
			return nil
		},
	}
}

func newSyncIndexCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sync-index",
		Short: "Copy embedded portfolio images from the store into the Qdrant collection",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			store, closeStore, err := openBackend(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer closeStore()

			idx, err := storage.NewQdrantIndex(cmd.Context(), cfg.QdrantHost, cfg.QdrantPort, cfg.QdrantCollection)
			if err != nil {
				return err
			}
			defer idx.Close()

			if err := idx.EnsureCollection(cmd.Context(), models.EmbeddingDim); err != nil {
				return err
			}
			n, err := idx.Sync(cmd.Context(), store)
			logrus.WithFields(logrus.Fields{"collection_name": cfg.QdrantCollection, "points": n}).Info("qdrant sync finished")
			return err
		},
	}
}
