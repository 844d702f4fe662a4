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

	"github.com/bwmarrin/discordgo"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/jusunglee/jishobot/internal/bot"
	"github.com/jusunglee/jishobot/internal/db"
	"github.com/jusunglee/jishobot/internal/db/dbopen"
	"github.com/jusunglee/jishobot/internal/dictionary"
	"github.com/jusunglee/jishobot/internal/envsetup"
	"github.com/jusunglee/jishobot/internal/health"
	"github.com/jusunglee/jishobot/internal/kana"
	"github.com/jusunglee/jishobot/internal/logger"
	"github.com/jusunglee/jishobot/internal/metrics"
	"github.com/mattn/go-isatty"
	"github.com/peterbourgon/ff/v4"
	"github.com/peterbourgon/ff/v4/ffhelp"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"
)

const envFile = ".env"

func main() {
	if err := mainE(); err != nil {
		slog.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func mainE() error {
	if envsetup.NeedsSetup(envFile) && isatty.IsTerminal(os.Stdin.Fd()) {
		completed, err := envsetup.Run(envFile)
		if err != nil {
			return fmt.Errorf("running setup wizard: %w", err)
		}
		if !completed {
			return errors.New("setup cancelled")
		}
	}
	_ = godotenv.Load(envFile)

	fs := ff.NewFlagSet("jishobot")
	var (
		discordToken     = fs.StringLong("discord-token", "", "Discord bot token")
		guildID          = fs.StringLong("guild-id", "", "Register commands in this guild only")
		databaseURL      = fs.StringLong("database-url", envsetup.DefaultDatabaseURL, "SQLite path or PostgreSQL connection URL")
		treeFile         = fs.StringLong("tree-file", "", "Transliteration tree document (.json or .yaml); built-in patterns when empty")
		unresolvedPolicy = fs.StringEnumLong("unresolved-policy", "What to do with romaji that does not form a syllable", "literal", "fail")
		glossLanguage    = fs.StringLong("gloss-language", dictionary.DefaultLanguage, "Gloss language to show (ISO 639-2)")
		maxEntries       = fs.Int64Long("max-entries", dictionary.DefaultMaxEntries, "Maximum entries per reply")
		redisURL         = fs.StringLong("redis-url", "", "Redis URL for the lookup cache; no cache when empty")
		cacheTTL         = fs.DurationLong("cache-ttl", dictionary.DefaultCacheTTL, "Lookup cache TTL")
		healthPort       = fs.Int64Long("health-port", 8080, "Health check port")
		metricsPort      = fs.Int64Long("metrics-port", 9090, "Prometheus metrics port")
		commandPrefix    = fs.StringLong("command-prefix", bot.DefaultCommandPrefix, "Text command prefix")
		welcome          = fs.BoolLong("welcome", "Greet members who join a guild")
	)

	if err := ff.Parse(fs, os.Args[1:], ff.WithEnvVars()); err != nil {
		fmt.Printf("%s\n", ffhelp.Flags(fs))
		return fmt.Errorf("parsing flags: %w", err)
	}

	if *discordToken == "" {
		return errors.New("discord-token is required")
	}
	policy, err := kana.ParsePolicy(*unresolvedPolicy)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancelCause(context.Background())
	defer cancel(nil)
	log := logger.New()

	tree, err := kana.Open(*treeFile)
	if err != nil {
		return fmt.Errorf("loading transliteration tree: %w", err)
	}
	stats := tree.Stats()
	log.InfoContext(ctx, "loaded transliteration tree", "nodes", stats.Nodes, "root_entries", stats.RootEntries, "policy", policy)

	repo, err := dbopen.Open(ctx, *databaseURL)
	if err != nil {
		return err
	}
	defer repo.Close()
	log.InfoContext(ctx, "connected to database", "postgres", db.IsPostgresURL(*databaseURL))

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
	resolver := dictionary.NewResolver(kana.NewConverter(tree, kana.WithPolicy(policy)), lookuper)

	dg, err := discordgo.New("Bot " + *discordToken)
	if err != nil {
		return fmt.Errorf("creating Discord session: %w", err)
	}
	dg.Identify.Intents = discordgo.IntentsGuilds |
		discordgo.IntentsGuildMessages |
		discordgo.IntentsDirectMessages |
		discordgo.IntentsMessageContent |
		discordgo.IntentsGuildMembers

	b := bot.New(
		bot.NewLogger(log),
		bot.NewDiscordSession(dg),
		resolver,
		repo,
		bot.NewRateLimiter(bot.DefaultLookupsPerWindow, bot.DefaultLookupWindow),
		bot.Config{
			GuildID:       *guildID,
			CommandPrefix: *commandPrefix,
			Welcome:       *welcome,
		},
	)

	healthServer := health.New(int(*healthPort), repo, stats.Nodes)
	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", promhttp.Handler())
	metricsServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", *metricsPort),
		Handler:           metricsMux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		select {
		case sig := <-sigChan:
			log.Info("received signal, shutting down", "signal", sig)
			cancel(errors.New("signal received"))
		case <-ctx.Done():
		}
	}()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return b.Run(gctx)
	})
	g.Go(func() error {
		log.InfoContext(gctx, "starting health server", "port", *healthPort)
		return healthServer.Start()
	})
	g.Go(func() error {
		log.InfoContext(gctx, "starting metrics server", "addr", metricsServer.Addr)
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("metrics server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		exportPoolStats(gctx, repo)
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		return errors.Join(
			healthServer.Shutdown(shutdownCtx),
			metricsServer.Shutdown(shutdownCtx),
		)
	})

	if err := g.Wait(); err != nil {
		return err
	}
	log.Info("stopped", "cause", context.Cause(ctx))
	return nil
}

// exportPoolStats periodically copies pgxpool stats into Prometheus gauges.
// SQLite repositories have no pool and are skipped.
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
