package fetcher

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockCacheClient struct {
	mock.Mock
}

func (m *MockCacheClient) Get(ctx context.Context, key string) *redis.StringCmd {
	args := m.Called(ctx, key)
	return args.Get(0).(*redis.StringCmd)
}

func (m *MockCacheClient) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd {
	args := m.Called(ctx, key, value, expiration)
	return args.Get(0).(*redis.StatusCmd)
}

func countingFetcher(html string, err error) (Fetcher, *int) {
	calls := 0
	return Func(func(context.Context, string) (string, error) {
		calls++
		return html, err
	}), &calls
}

func TestCachedFetcher_Hit(t *testing.T) {
	const url = "https://listado.mercadolibre.com.mx/bocina"
	cache := new(MockCacheClient)
	cache.On("Get", mock.Anything, CacheKey(url)).Return(redis.NewStringResult("<html>cached</html>", nil))

	next, calls := countingFetcher("<html>fresh</html>", nil)
	html, err := NewCachedFetcher(next, cache, time.Hour, nil).Fetch(context.Background(), url)

	require.NoError(t, err)
	assert.Equal(t, "<html>cached</html>", html)
	assert.Equal(t, 0, *calls)
	cache.AssertNotCalled(t, "Set", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestCachedFetcher_MissStores(t *testing.T) {
	const url = "https://listado.mercadolibre.com.mx/bocina"
	cache := new(MockCacheClient)
	cache.On("Get", mock.Anything, CacheKey(url)).Return(redis.NewStringResult("", redis.Nil))
	cache.On("Set", mock.Anything, CacheKey(url), "<html>fresh</html>", 15*time.Minute).
		Return(redis.NewStatusResult("OK", nil))

	next, calls := countingFetcher("<html>fresh</html>", nil)
	html, err := NewCachedFetcher(next, cache, 15*time.Minute, nil).Fetch(context.Background(), url)

	require.NoError(t, err)
	assert.Equal(t, "<html>fresh</html>", html)
	assert.Equal(t, 1, *calls)
	cache.AssertExpectations(t)
}

func TestCachedFetcher_CacheDownStillFetches(t *testing.T) {
	cache := new(MockCacheClient)
	cache.On("Get", mock.Anything, mock.Anything).Return(redis.NewStringResult("", errors.New("connection refused")))
	cache.On("Set", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(redis.NewStatusResult("", errors.New("connection refused")))

	next, _ := countingFetcher("<html>fresh</html>", nil)
	html, err := NewCachedFetcher(next, cache, time.Minute, nil).Fetch(context.Background(), "https://x")

	require.NoError(t, err)
	assert.Equal(t, "<html>fresh</html>", html)
}

func TestCachedFetcher_FetchErrorNotCached(t *testing.T) {
	cache := new(MockCacheClient)
	cache.On("Get", mock.Anything, mock.Anything).Return(redis.NewStringResult("", redis.Nil))

	next, _ := countingFetcher("", &FetchError{URL: "https://x", Kind: KindNotFound, Err: ErrNotFound})
	_, err := NewCachedFetcher(next, cache, time.Minute, nil).Fetch(context.Background(), "https://x")

	assert.ErrorIs(t, err, ErrNotFound)
	cache.AssertNotCalled(t, "Set", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestCacheKey(t *testing.T) {
	a := CacheKey("https://a")
	assert.Equal(t, a, CacheKey("https://a"))
	assert.NotEqual(t, a, CacheKey("https://b"))
	assert.Len(t, a, len(cacheKeyPrefix)+64)
}
