package dictionary

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	backend "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockLookuper struct {
	mock.Mock
}

func (m *MockLookuper) Lookup(ctx context.Context, query string) (Result, error) {
	ret := m.Called(ctx, query)
	return ret.Get(0).(Result), ret.Error(1)
}

func newTestCache(t *testing.T, next Lookuper, opts ...CacheOption) (*CachedService, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := backend.NewClient(&backend.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewCachedService(next, client, discardLogger(), "eng", opts...), mr
}

func TestCachedServiceStoresResults(t *testing.T) {
	next := new(MockLookuper)
	want := Result{Query: "ねこ", Text: "(猫)\n[ねこ]\ncat", Found: true}
	next.On("Lookup", mock.Anything, "ねこ").Return(want, nil).Once()

	cache, mr := newTestCache(t, next, WithTTL(time.Hour))
	ctx := context.Background()

	got, err := cache.Lookup(ctx, "ねこ")
	require.NoError(t, err)
	assert.Equal(t, want, got)

	// second call is served from redis
	got, err = cache.Lookup(ctx, " ねこ ")
	require.NoError(t, err)
	assert.Equal(t, want, got)
	next.AssertExpectations(t)

	key := "jishobot:lookup:eng:ねこ"
	assert.True(t, mr.Exists(key))
	assert.Equal(t, time.Hour, mr.TTL(key))

	mr.FastForward(2 * time.Hour)
	assert.False(t, mr.Exists(key))
}

func TestCachedServicePrefix(t *testing.T) {
	next := new(MockLookuper)
	next.On("Lookup", mock.Anything, "いぬ").Return(Result{Query: "いぬ", Text: NotFoundMessage("いぬ")}, nil)

	cache, mr := newTestCache(t, next, WithPrefix("test:"))
	_, err := cache.Lookup(context.Background(), "いぬ")
	require.NoError(t, err)
	assert.True(t, mr.Exists("test:eng:いぬ"))
}

func TestCachedServiceDoesNotCacheErrors(t *testing.T) {
	next := new(MockLookuper)
	errDown := errors.New("database is down")
	next.On("Lookup", mock.Anything, "ねこ").Return(Result{}, errDown).Twice()

	cache, mr := newTestCache(t, next)
	for range 2 {
		_, err := cache.Lookup(context.Background(), "ねこ")
		assert.ErrorIs(t, err, errDown)
	}
	assert.Empty(t, mr.Keys())
	next.AssertExpectations(t)
}

func TestCachedServiceFallsThroughWhenRedisIsDown(t *testing.T) {
	next := new(MockLookuper)
	want := Result{Query: "ねこ", Text: "cat", Found: true}
	next.On("Lookup", mock.Anything, "ねこ").Return(want, nil)

	cache, mr := newTestCache(t, next)
	mr.Close()

	got, err := cache.Lookup(context.Background(), "ねこ")
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestCachedServiceIgnoresCorruptEntries(t *testing.T) {
	next := new(MockLookuper)
	want := Result{Query: "ねこ", Text: "cat", Found: true}
	next.On("Lookup", mock.Anything, "ねこ").Return(want, nil).Once()

	cache, mr := newTestCache(t, next)
	require.NoError(t, mr.Set("jishobot:lookup:eng:ねこ", "{not json"))

	got, err := cache.Lookup(context.Background(), "ねこ")
	require.NoError(t, err)
	assert.Equal(t, want, got)
	next.AssertExpectations(t)
}

func TestCachedServiceLogsEncodeFailure(t *testing.T) {
	next := new(MockLookuper)
	want := Result{Query: "ねこ", Text: "cat", Found: true}
	next.On("Lookup", mock.Anything, "ねこ").Return(want, nil)

	var logs bytes.Buffer
	mr := miniredis.RunT(t)
	client := backend.NewClient(&backend.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	cache := NewCachedService(next, client, slog.New(slog.NewTextHandler(&logs, nil)), "eng")
	cache.encode = func(any) ([]byte, error) { return nil, errors.New("unsupported value") }

	got, err := cache.Lookup(context.Background(), "ねこ")
	require.NoError(t, err)
	assert.Equal(t, want, got)
	assert.Empty(t, mr.Keys())
	assert.Contains(t, logs.String(), "level=WARN")
	assert.Contains(t, logs.String(), "encoding lookup cache entry")
	assert.Contains(t, logs.String(), "unsupported value")
}

func TestCachedServiceEmptyQuery(t *testing.T) {
	cache, _ := newTestCache(t, new(MockLookuper))
	_, err := cache.Lookup(context.Background(), "")
	assert.ErrorIs(t, err, ErrEmptyQuery)
}

func TestNewRedisClient(t *testing.T) {
	client, err := NewRedisClient("redis://localhost:6379/2")
	require.NoError(t, err)
	defer client.Close()
	assert.Equal(t, 2, client.Options().DB)

	_, err = NewRedisClient("http://localhost")
	assert.Error(t, err)
}
