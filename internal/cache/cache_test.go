package cache_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/ldawatch/internal/cache"
	"github.com/kiranshivaraju/ldawatch/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

// setupRedis spins up a Redis container and returns a connected RedisCache + cleanup.
func setupRedis(t *testing.T) *cache.RedisCache {
	t.Helper()
	return connect(t, startRedis(t))
}

// connect opens another RedisCache, as a separate process would.
func connect(t *testing.T, redisURL string) *cache.RedisCache {
	t.Helper()
	rc, err := cache.NewRedisCache(redisURL)
	require.NoError(t, err)
	t.Cleanup(func() { rc.Close() })
	return rc
}

// startRedis runs a Redis container and returns its URL.
func startRedis(t *testing.T) string {
	t.Helper()
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "redis:7-alpine",
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor:   wait.ForLog("Ready to accept connections").WithStartupTimeout(30 * time.Second),
	}
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, container.Terminate(ctx)) })

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "6379")
	require.NoError(t, err)

	return "redis://" + host + ":" + port.Port()
}

// --- Ping ---

func TestPing(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	rc := setupRedis(t)
	assert.NoError(t, rc.Ping(context.Background()))
}

// --- Set / Get ---

func TestSetGet_Roundtrip(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	rc := setupRedis(t)
	ctx := context.Background()

	require.NoError(t, rc.Set(ctx, "test:key", []byte("hello"), 10*time.Second))

	val, found, err := rc.Get(ctx, "test:key")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, []byte("hello"), val)
}

func TestGet_NotFound(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	rc := setupRedis(t)

	val, found, err := rc.Get(context.Background(), "nonexistent:key")
	require.NoError(t, err)
	assert.False(t, found)
	assert.Nil(t, val)
}

// --- Progress snapshots ---

func TestSetGetProgress(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	rc := setupRedis(t)
	ctx := context.Background()

	p := &models.Progress{Percent: 42, Description: "coherence", AppName: "topic-model-42"}
	require.NoError(t, rc.SetProgress(ctx, "topic-model-42", p, 10*time.Second))

	got, found, err := rc.GetProgress(ctx, "topic-model-42")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, p, got)
}

func TestGetProgress_NotFound(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	rc := setupRedis(t)

	got, found, err := rc.GetProgress(context.Background(), "missing")
	require.NoError(t, err)
	assert.False(t, found)
	assert.Nil(t, got)
}

func TestSetProgress_TTLExpiry(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	rc := setupRedis(t)
	ctx := context.Background()

	require.NoError(t, rc.SetProgress(ctx, "job", &models.Progress{Percent: 1}, time.Second))
	time.Sleep(1500 * time.Millisecond)

	_, found, err := rc.GetProgress(ctx, "job")
	require.NoError(t, err)
	assert.False(t, found)
}

// --- Launch lock ---

func TestAcquireLaunch_Exclusive(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	rc := setupRedis(t)
	ctx := context.Background()
	jobID := "job-" + uuid.NewString()[:8]

	ok, err := rc.AcquireLaunch(ctx, jobID, 10*time.Second)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = rc.AcquireLaunch(ctx, jobID, 10*time.Second)
	require.NoError(t, err)
	assert.False(t, ok, "second acquire must fail while held")

	released, err := rc.ReleaseLaunch(ctx, jobID)
	require.NoError(t, err)
	assert.True(t, released)

	ok, err = rc.AcquireLaunch(ctx, jobID, 10*time.Second)
	require.NoError(t, err)
	assert.True(t, ok, "acquire after release must succeed")
}

func TestLaunchLock_OnlyHolderRefreshesOrReleases(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	redisURL := startRedis(t)
	owner, other := connect(t, redisURL), connect(t, redisURL)
	ctx := context.Background()
	jobID := "job-" + uuid.NewString()[:8]

	ok, err := owner.AcquireLaunch(ctx, jobID, 10*time.Second)
	require.NoError(t, err)
	require.True(t, ok)

	refreshed, err := other.RefreshLaunch(ctx, jobID, 10*time.Second)
	require.NoError(t, err)
	assert.False(t, refreshed)

	released, err := other.ReleaseLaunch(ctx, jobID)
	require.NoError(t, err)
	assert.False(t, released, "a non-holder must not delete the lock")

	ok, err = other.AcquireLaunch(ctx, jobID, 10*time.Second)
	require.NoError(t, err)
	assert.False(t, ok, "lock must still be held by its owner")

	refreshed, err = owner.RefreshLaunch(ctx, jobID, 10*time.Second)
	require.NoError(t, err)
	assert.True(t, refreshed)
}

func TestLaunchLock_ExpiredHolderCannotReleaseNewLock(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	redisURL := startRedis(t)
	first, second := connect(t, redisURL), connect(t, redisURL)
	ctx := context.Background()
	jobID := "job-" + uuid.NewString()[:8]

	ok, err := first.AcquireLaunch(ctx, jobID, time.Second)
	require.NoError(t, err)
	require.True(t, ok)

	time.Sleep(1500 * time.Millisecond)

	ok, err = second.AcquireLaunch(ctx, jobID, 10*time.Second)
	require.NoError(t, err)
	require.True(t, ok)

	refreshed, err := first.RefreshLaunch(ctx, jobID, 10*time.Second)
	require.NoError(t, err)
	assert.False(t, refreshed)

	released, err := first.ReleaseLaunch(ctx, jobID)
	require.NoError(t, err)
	assert.False(t, released)

	ok, err = first.AcquireLaunch(ctx, jobID, 10*time.Second)
	require.NoError(t, err)
	assert.False(t, ok, "second process must still hold the lock")
}

func TestAcquireLaunch_ExpiresWithoutRefresh(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	rc := setupRedis(t)
	ctx := context.Background()

	ok, err := rc.AcquireLaunch(ctx, "job", time.Second)
	require.NoError(t, err)
	require.True(t, ok)

	time.Sleep(1500 * time.Millisecond)

	ok, err = rc.AcquireLaunch(ctx, "job", time.Second)
	require.NoError(t, err)
	assert.True(t, ok)
}

// --- IncrWithExpiry ---

func TestIncrWithExpiry(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	rc := setupRedis(t)
	ctx := context.Background()
	key := "ratelimit:test:" + uuid.NewString()[:8]

	for want := int64(1); want <= 3; want++ {
		val, err := rc.IncrWithExpiry(ctx, key, 10*time.Second)
		require.NoError(t, err)
		assert.Equal(t, want, val)
	}
}

// --- Cache Key Builders ---

func TestProgressKey(t *testing.T) {
	assert.Equal(t, "progress:topic-model-42", cache.ProgressKey("topic-model-42"))
	assert.Equal(t, "progress:a%20b%2Fc", cache.ProgressKey("a b/c"))
}

func TestLaunchKey(t *testing.T) {
	assert.Equal(t, "launch:topic-model-42", cache.LaunchKey("topic-model-42"))
}

func TestRateLimitKey(t *testing.T) {
	assert.Equal(t, "ratelimit:127.0.0.1", cache.RateLimitKey("127.0.0.1"))
}

func TestKeyBuilders_NonColliding(t *testing.T) {
	keys := map[string]bool{
		cache.ProgressKey("job"):  true,
		cache.LaunchKey("job"):    true,
		cache.RateLimitKey("job"): true,
	}
	assert.Len(t, keys, 3, "all keys should be unique")
}
