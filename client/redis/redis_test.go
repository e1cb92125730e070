package redis

import (
	"context"
	"io"
	"log/slog"
	"net"
	"testing"

	"corsgate/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitRedisUnreachable(t *testing.T) {
	// Reserve a port and close it so nothing listens there.
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	host, port, _ := net.SplitHostPort(l.Addr().String())
	l.Close()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	client, err := InitRedis(logger, config.RedisConfig{Enabled: true, Host: host, Port: port})
	assert.Nil(t, client)
	assert.ErrorContains(t, err, "connect to redis at")
}

func TestInitRedisAndHealthCheck(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	client, err := InitRedis(logger, config.RedisConfig{Enabled: true, Host: "localhost", Port: "6379"})
	if err != nil {
		t.Skipf("redis not available: %v", err)
	}
	defer client.Close()

	assert.NoError(t, RedisHealthCheck(context.Background(), client))
}
