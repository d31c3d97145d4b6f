package database

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/redbco/redb-storage/pkg/config"
)

func TestRedisFromJournalConfig(t *testing.T) {
	rc := RedisFromJournalConfig(config.JournalConfig{RedisAddr: "cache:6380", RedisPassword: "pw", RedisDB: 2})
	assert.Equal(t, "cache:6380", rc.Addr)
	assert.Equal(t, "pw", rc.Password)
	assert.Equal(t, 2, rc.DB)
	assert.Equal(t, 3, rc.MaxRetries)

	assert.Equal(t, "localhost:6379", RedisFromJournalConfig(config.JournalConfig{}).Addr)
}

func TestNewRedis(t *testing.T) {
	mr := miniredis.NewMiniRedis()
	require.NoError(t, mr.Start())
	defer mr.Close()

	cfg := DefaultRedisConfig()
	cfg.Addr = mr.Addr()
	r, err := NewRedis(context.Background(), cfg)
	require.NoError(t, err)
	defer r.Close()

	require.NoError(t, r.Ping(context.Background()))
	require.NoError(t, r.Client().Set(context.Background(), "k", "v", 0).Err())
	assert.True(t, mr.Exists("k"))
}

func TestNewRedisUnreachable(t *testing.T) {
	mr := miniredis.NewMiniRedis()
	require.NoError(t, mr.Start())
	addr := mr.Addr()
	mr.Close()

	cfg := DefaultRedisConfig()
	cfg.Addr = addr
	cfg.MaxRetries = -1
	cfg.DialTimeout = 200 * time.Millisecond
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	_, err := NewRedis(ctx, cfg)
	assert.Error(t, err)
	assert.NoError(t, (*Redis)(nil).Close())
}
