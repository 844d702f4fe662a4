package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/jusunglee/jishobot/internal/db"
	"github.com/jusunglee/jishobot/internal/db/dbopen"
	"github.com/jusunglee/jishobot/internal/dictionary"
	"github.com/jusunglee/jishobot/internal/kana"
	"github.com/jusunglee/jishobot/internal/logger"
	"github.com/jusunglee/jishobot/internal/metrics"
	"github.com/jusunglee/jishobot/internal/web"
	"github.com/jusunglee/jishobot/internal/web/middleware"
	"github.com/peterbourgon/ff/v4"
	"github.com/peterbourgon/ff/v4/ffhelp"
)

func main() {
	if err := mainE(); err != nil {
		slog.Error("fatal", "error", err)
		os.Exit(1)
	}
	slog.Info("exiting without error")
}

func mainE() error {
	_ = godotenv.Load()

	fs := ff.NewFlagSet("jishobot-web")
	var (
		port              = fs.Int64Long("port", 3000, "HTTP server port")
		databaseURL       = fs.StringLong("database-url", "./jishobot.db", "SQLite path or PostgreSQL connection URL")
		treeFile          = fs.StringLong("tree-file", "", "Transliteration tree document (.json or .yaml); built-in patterns when empty")
		unresolvedPolicy  = fs.StringEnumLong("unresolved-policy", "What to do with romaji that does not form a syllable", "literal", "fail")
		glossLanguage     = fs.StringLong("gloss-language", dictionary.DefaultLanguage, "Gloss language to show (ISO 639-2)")
		maxEntries        = fs.Int64Long("max-entries", dictionary.DefaultMaxEntries, "Maximum entries per lookup")
		redisURL          = fs.StringLong("redis-url", "", "Redis URL for the lookup cache; no cache when empty")
		cacheTTL          = fs.DurationLong("cache-ttl", dictionary.DefaultCacheTTL, "Lookup cache TTL")
		allowedOrigins    = fs.StringLong("allowed-origins", "", "Comma-separated list of allowed CORS origins")
		requestsPerMinute = fs.Int64Long("requests-per-minute", 30, "Lookups allowed per client IP per minute")
	)

	if err := ff.Parse(fs, os.Args[1:], ff.WithEnvVars()); err != nil {
		fmt.Printf("%s\n", ffhelp.Flags(fs))
		return fmt.Errorf("parsing flags: %w", err)
	}

	policy, err := kana.ParsePolicy(*unresolvedPolicy)
	if err != nil {
		return err
	}

	log := logger.New()
	ctx, cancel := context.WithCancelCause(context.Background())
	defer cancel(nil)

	tree, err := kana.Open(*treeFile)
	if err != nil {
		return fmt.Errorf("loading transliteration tree: %w", err)
	}
	log.InfoContext(ctx, "loaded transliteration tree", "nodes", tree.Stats().Nodes, "policy", policy)
	conv := kana.NewConverter(tree, kana.WithPolicy(policy))

	repo, err := dbopen.Open(ctx, *databaseURL)
	if err != nil {
		return err
	}
	defer repo.Close()
	log.InfoContext(ctx, "connected to database", "postgres", db.IsPostgresURL(*databaseURL))

	go exportPoolStats(ctx, repo)

	var lookuper dictionary.Lookuper = dictionary.NewService(repo, log, dictionary.Config{
		Language:   *glossLanguage,
		MaxEntries: int32(*maxEntries),
	})
	if *redisURL != "" {
		client, err := dictionary.NewRedisClient(*redisURL)
		if err != nil {
			return fmt.Errorf("parsing redis-url: %w", err)
		}
		defer client.Close()
		lookuper = dictionary.NewCachedService(lookuper, client, log, *glossLanguage, dictionary.WithTTL(*cacheTTL))
		log.InfoContext(ctx, "lookup cache enabled", "ttl", *cacheTTL)
	}

	router := web.NewRouter(conv, dictionary.NewResolver(conv, lookuper), log, web.Config{
		AllowedOrigins:    middleware.ParseOrigins(*allowedOrigins),
		RequestsPerMinute: int(*requestsPerMinute),
	})

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", *port),
		Handler:           router.Handler(ctx),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		sig := <-sigChan
		log.InfoContext(ctx, "received signal, shutting down gracefully", "signal", sig)
		cancel(errors.New("signal received"))

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			log.ErrorContext(ctx, "server shutdown error", "error", err)
		}
	}()

	log.InfoContext(ctx, "starting web server", "port", *port)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}

// exportPoolStats periodically copies pgxpool stats into Prometheus gauges.
func exportPoolStats(ctx context.Context, repo db.Repository) {
	pooled, ok := repo.(interface{ PoolStats() *pgxpool.Stat })
	if !ok {
		return
	}
	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s := pooled.PoolStats()
			metrics.DBPoolTotalConns.Set(float64(s.TotalConns()))
			metrics.DBPoolIdleConns.Set(float64(s.IdleConns()))
			metrics.DBPoolAcquiredConns.Set(float64(s.AcquiredConns()))
			metrics.DBPoolMaxConns.Set(float64(s.MaxConns()))
		case <-ctx.Done():
			return
		}
	}
}
