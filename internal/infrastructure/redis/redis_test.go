package redis

import (
	"context"
	"errors"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nerrad567/growrack-core/internal/infrastructure/config"
)

func TestConnect(t *testing.T) {
	mr := miniredis.RunT(t)

	client, err := Connect(context.Background(), config.RedisConfig{
		Addr:      mr.Addr(),
		KeyPrefix: "growrack:cooldown:",
	})
	require.NoError(t, err)
	defer client.Close()

	assert.Equal(t, "growrack:cooldown:", client.KeyPrefix())
	assert.NoError(t, client.HealthCheck(context.Background()))

	require.NoError(t, client.Set(context.Background(), "k", "v", 0).Err())
	got, err := mr.Get("k")
	require.NoError(t, err)
	assert.Equal(t, "v", got)
}

func TestConnect_Unreachable(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	_, err := Connect(context.Background(), config.RedisConfig{Addr: addr})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrConnectionFailed))
}

func TestHealthCheck_ServerGone(t *testing.T) {
	mr := miniredis.RunT(t)
	client, err := Connect(context.Background(), config.RedisConfig{Addr: mr.Addr()})
	require.NoError(t, err)
	defer client.Close()

	mr.Close()
	assert.Error(t, client.HealthCheck(context.Background()))
}

func TestNilClient(t *testing.T) {
	var c *Client
	assert.ErrorIs(t, c.HealthCheck(context.Background()), ErrNotConnected)
	assert.NoError(t, c.Close())
}
