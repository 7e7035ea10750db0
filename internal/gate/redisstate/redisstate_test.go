package redisstate

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"klinemirror/internal/store"
	"klinemirror/internal/store/storetest"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Set KLINEMIRROR_TEST_REDIS_ADDR to run against a live redis.
func TestRedisRefreshStateContract(t *testing.T) {
	addr := os.Getenv("KLINEMIRROR_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("KLINEMIRROR_TEST_REDIS_ADDR not set")
	}
	storetest.RunRefreshState(t, func(t *testing.T) store.RefreshStateRepository {
		client := redis.NewClient(&redis.Options{Addr: addr})
		t.Cleanup(func() { _ = client.Close() })
		prefix := fmt.Sprintf("klinemirror:test:%d:", time.Now().UnixNano())
		return New(client, prefix)
	})
}

func TestNewDefaultsPrefix(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:0"})
	defer client.Close()
	assert.Equal(t, DefaultPrefix, New(client, " ").prefix)
}

func TestDialFailsFast(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, err := Dial(ctx, "127.0.0.1:1", "", 0, "")
	require.Error(t, err)
}
