package realtime

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestPresence(t *testing.T) *Presence {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewPresence(client)
}

func TestPresenceConnectionCounts(t *testing.T) {
	p := newTestPresence(t)
	ctx := context.Background()

	count, err := p.AddConnection(ctx, "usr1", "con_a")
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)

	count, err = p.AddConnection(ctx, "usr1", "con_b")
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)

	online, err := p.IsOnline(ctx, "usr1")
	require.NoError(t, err)
	assert.True(t, online)

	count, err = p.RemoveConnection(ctx, "usr1", "con_a")
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)

	count, err = p.RemoveConnection(ctx, "usr1", "con_b")
	require.NoError(t, err)
	assert.Equal(t, int64(0), count)

	online, err = p.IsOnline(ctx, "usr1")
	require.NoError(t, err)
	assert.False(t, online)
}

func TestPresenceDuplicateConnectionID(t *testing.T) {
	p := newTestPresence(t)
	ctx := context.Background()

	_, err := p.AddConnection(ctx, "usr1", "con_a")
	require.NoError(t, err)
	count, err := p.AddConnection(ctx, "usr1", "con_a")
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}

func TestPresenceIsOnlineMany(t *testing.T) {
	p := newTestPresence(t)
	ctx := context.Background()

	_, err := p.AddConnection(ctx, "usr1", "con_a")
	require.NoError(t, err)

	online, err := p.IsOnlineMany(ctx, []string{"usr1", "usr2"})
	require.NoError(t, err)
	assert.True(t, online["usr1"])
	assert.False(t, online["usr2"])
}

func TestPresenceDegradedFallback(t *testing.T) {
	p := newTestPresence(t)
	ctx := context.Background()

	p.degrade("SAdd", errors.New("READONLY You can't write against a read only replica."))
	require.True(t, p.Degraded())

	count, err := p.AddConnection(ctx, "usr1", "con_a")
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)

	online, err := p.IsOnline(ctx, "usr1")
	require.NoError(t, err)
	assert.True(t, online)

	count, err = p.RemoveConnection(ctx, "usr1", "con_a")
	require.NoError(t, err)
	assert.Equal(t, int64(0), count)

	online, err = p.IsOnline(ctx, "usr1")
	require.NoError(t, err)
	assert.False(t, online)
}

func TestIsReadOnlyErr(t *testing.T) {
	assert.True(t, isReadOnlyErr(errors.New("READONLY You can't write against a read only replica.")))
	assert.False(t, isReadOnlyErr(errors.New("connection refused")))
	assert.False(t, isReadOnlyErr(nil))
}
