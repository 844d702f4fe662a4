package web

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/jusunglee/jishobot/internal/web/handlers"
	"github.com/jusunglee/jishobot/internal/web/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Config struct {
	AllowedOrigins []string
	// RequestsPerMinute is the per-IP limit on lookups.
	RequestsPerMinute int
}

type Router struct {
	conv     handlers.ChunkConverter
	resolver handlers.Resolver
	log      *slog.Logger
	config   Config
}

func NewRouter(conv handlers.ChunkConverter, resolver handlers.Resolver, log *slog.Logger, config Config) *Router {
	if config.RequestsPerMinute <= 0 {
		config.RequestsPerMinute = 30
	}
	return &Router{
		conv:     conv,
		resolver: resolver,
		log:      log,
		config:   config,
	}
}

// Handler builds the API mux. ctx bounds the rate limiter's sweeper.
func (r *Router) Handler(ctx context.Context) http.Handler {
	mux := http.NewServeMux()

	convertHandler := handlers.NewConvertHandler(r.conv, r.log)
	lookupHandler := handlers.NewLookupHandler(r.resolver, r.log)

	rateLimiter := middleware.NewRateLimiter(ctx, r.config.RequestsPerMinute, time.Minute)

	// conversion is a pure function of the query
	mux.Handle("GET /api/v1/convert",
		middleware.Chain(
			http.HandlerFunc(convertHandler.Convert),
			middleware.PrometheusMetrics(),
			middleware.RequestLogger(r.log),
			middleware.CacheControl("public, max-age=3600"),
		),
	)

	mux.Handle("GET /api/v1/lookup",
		middleware.Chain(
			http.HandlerFunc(lookupHandler.Lookup),
			middleware.PrometheusMetrics(),
			middleware.RequestLogger(r.log),
			middleware.RateLimit(rateLimiter),
			middleware.CacheControl("public, s-maxage=60, max-age=0"),
		),
	)

	mux.Handle("GET /metrics", promhttp.Handler())

	return middleware.CORS(r.config.AllowedOrigins)(mux)
}
