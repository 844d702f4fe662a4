package dictionary

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/jusunglee/jishobot/internal/metrics"
	backend "github.com/redis/go-redis/v9"
)

const (
	DefaultCachePrefix = "jishobot:lookup:"
	DefaultCacheTTL    = 24 * time.Hour
)

// CachedService caches lookup results in Redis. Cache failures are logged
// and the lookup falls through to the wrapped Lookuper.
type CachedService struct {
	next     Lookuper
	client   *backend.Client
	log      *slog.Logger
	language string
	prefix   string
	ttl      time.Duration
	encode   func(v any) ([]byte, error)
}

type CacheOption func(*CachedService)

func WithTTL(ttl time.Duration) CacheOption {
	return func(c *CachedService) {
		c.ttl = ttl
	}
}

func WithPrefix(prefix string) CacheOption {
	return func(c *CachedService) {
		c.prefix = prefix
	}
}

// NewCachedService wraps next. language is part of every key so that
// instances configured for different gloss languages can share a server.
func NewCachedService(next Lookuper, client *backend.Client, log *slog.Logger, language string, opts ...CacheOption) *CachedService {
	c := &CachedService{
		next:     next,
		client:   client,
		log:      log,
		language: language,
		prefix:   DefaultCachePrefix,
		ttl:      DefaultCacheTTL,
		encode:   json.Marshal,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// NewRedisClient parses a redis:// URL.
func NewRedisClient(redisURL string) (*backend.Client, error) {
	opts, err := backend.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}
	return backend.NewClient(opts), nil
}

func (c *CachedService) key(query string) string {
	return c.prefix + c.language + ":" + query
}

func (c *CachedService) Lookup(ctx context.Context, query string) (Result, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return Result{}, ErrEmptyQuery
	}
	key := c.key(query)

	data, err := c.client.Get(ctx, key).Bytes()
	switch {
	case err == nil:
		var res Result
		decodeErr := json.Unmarshal(data, &res)
		if decodeErr == nil {
			metrics.CacheRequestsTotal.WithLabelValues("hit").Inc()
			return res, nil
		}
		c.log.WarnContext(ctx, "discarding undecodable cache entry", "key", key, "error", decodeErr)
		metrics.CacheRequestsTotal.WithLabelValues("error").Inc()
	case errors.Is(err, backend.Nil):
		metrics.CacheRequestsTotal.WithLabelValues("miss").Inc()
	default:
		c.log.WarnContext(ctx, "reading lookup cache", "key", key, "error", err)
		metrics.CacheRequestsTotal.WithLabelValues("error").Inc()
	}

	res, err := c.next.Lookup(ctx, query)
	if err != nil {
		return Result{}, err
	}

	data, err = c.encode(res)
	if err != nil {
		c.log.WarnContext(ctx, "encoding lookup cache entry", "key", key, "error", err)
		return res, nil
	}
	if err := c.client.Set(ctx, key, data, c.ttl).Err(); err != nil {
		c.log.WarnContext(ctx, "writing lookup cache", "key", key, "error", err)
	}
	return res, nil
}
