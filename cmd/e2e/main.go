package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/jusunglee/jishobot/internal/db/sqlite"
	"github.com/jusunglee/jishobot/internal/dictionary"
	"github.com/jusunglee/jishobot/internal/jmdict"
	"github.com/jusunglee/jishobot/internal/kana"
	"github.com/jusunglee/jishobot/internal/logger"
	"github.com/jusunglee/jishobot/internal/web"
)

// Romaji queries every JMdict release can answer, with the kana they must be
// looked up as.
var queries = []struct {
	romaji string
	kana   string
}{
	{"neko", "ねこ"},
	{"sushi", "すし"},
	{"kitte", "きって"},
	{"nihon'", "にほん"},
	{"konnichiha", "こんにちは"},
}

func main() {
	if err := run(); err != nil {
		slog.Error("E2E FAILED", "error", err)
		os.Exit(1)
	}
	slog.Info("E2E PASSED")
}

func run() error {
	_ = godotenv.Load()

	jmdictFile := requireEnv("E2E_JMDICT_FILE")
	redisURL := os.Getenv("E2E_REDIS_URL")

	log := logger.New()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Phase 1: Import JMdict into a throwaway database
	log.Info("Phase 1: Importing JMdict...", "file", jmdictFile)
	dbPath := fmt.Sprintf("/tmp/jishobot-e2e-%d.db", time.Now().UnixNano())
	defer os.Remove(dbPath)

	repo, err := sqlite.New(ctx, dbPath)
	if err != nil {
		return fmt.Errorf("creating temp SQLite: %w", err)
	}
	defer repo.Close()

	rc, err := jmdict.Open(jmdictFile)
	if err != nil {
		return err
	}
	n, err := jmdict.NewImporter(repo, log, jmdict.DefaultBatchSize).Import(ctx, jmdict.NewReader(rc))
	rc.Close()
	if err != nil {
		return fmt.Errorf("importing: %w", err)
	}
	log.Info("imported entries", "count", n)

	// Phase 2: Serve the API on a random port
	log.Info("Phase 2: Starting web server...")
	tree, err := kana.DefaultTree()
	if err != nil {
		return fmt.Errorf("building tree: %w", err)
	}
	conv := kana.NewConverter(tree)

	var lookuper dictionary.Lookuper = dictionary.NewService(repo, log, dictionary.Config{})
	if redisURL != "" {
		client, err := dictionary.NewRedisClient(redisURL)
		if err != nil {
			return fmt.Errorf("parsing E2E_REDIS_URL: %w", err)
		}
		defer client.Close()
		lookuper = dictionary.NewCachedService(lookuper, client, log, dictionary.DefaultLanguage,
			dictionary.WithPrefix(fmt.Sprintf("jishobot-e2e-%d:", time.Now().UnixNano())),
			dictionary.WithTTL(time.Minute))
		log.Info("lookup cache enabled")
	}

	router := web.NewRouter(conv, dictionary.NewResolver(conv, lookuper), log, web.Config{RequestsPerMinute: 1000})
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return fmt.Errorf("listening: %w", err)
	}
	server := &http.Server{Handler: router.Handler(ctx), ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server error", "error", err)
		}
	}()
	defer server.Close()
	baseURL := "http://" + listener.Addr().String()

	// Phase 3: Look up romaji queries over HTTP
	log.Info("Phase 3: Looking up romaji queries...", "count", len(queries))
	client := &http.Client{Timeout: 10 * time.Second}
	for _, q := range queries {
		// twice, so the second answer comes from the cache when one is configured
		for range 2 {
			var ans dictionary.Answer
			if err := getJSON(ctx, client, baseURL+"/api/v1/lookup?q="+url.QueryEscape(q.romaji), &ans); err != nil {
				return fmt.Errorf("looking up %q: %w", q.romaji, err)
			}
			if !ans.Converted || ans.LookupQuery != q.kana {
				return fmt.Errorf("%q was looked up as %q (converted=%v), want %q", q.romaji, ans.LookupQuery, ans.Converted, q.kana)
			}
			if !ans.Found {
				return fmt.Errorf("%q (%s) not found in dictionary", q.romaji, q.kana)
			}
		}
		log.Info("lookup verified", "query", q.romaji, "kana", q.kana)
	}

	// Phase 4: Verify the convert endpoint agrees with the converter
	log.Info("Phase 4: Verifying convert endpoint...")
	var conversion struct {
		Output string `json:"output"`
		OK     bool   `json:"ok"`
	}
	if err := getJSON(ctx, client, baseURL+"/api/v1/convert?q=ra-men'", &conversion); err != nil {
		return fmt.Errorf("converting: %w", err)
	}
	if !conversion.OK || conversion.Output != "らーめん" {
		return fmt.Errorf("convert returned %+v", conversion)
	}

	log.Info("all verifications passed", "entries", n, "queries", len(queries), "cache", redisURL != "")
	return nil
}

func getJSON(ctx context.Context, client *http.Client, u string, v any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return err
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %s", resp.Status)
	}
	return json.NewDecoder(resp.Body).Decode(v)
}

func requireEnv(key string) string {
	val := os.Getenv(key)
	if val == "" {
		slog.Error("required environment variable not set", "key", key)
		os.Exit(1)
	}
	return val
}
