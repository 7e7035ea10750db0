// Package redisstate keeps refresh timestamps in redis so several mirror
// processes share one gate.
package redisstate

import (
	"context"
	"errors"
	"strings"

	"klinemirror/internal/store"

	"github.com/redis/go-redis/v9"
)

const DefaultPrefix = "klinemirror:refresh:"

// casScript swaps KEYS[1] from ARGV[1] to ARGV[2]; a missing key reads as 0.
var casScript = redis.NewScript(`
local cur = tonumber(redis.call('GET', KEYS[1]) or '0')
if cur ~= tonumber(ARGV[1]) then
	return 0
end
redis.call('SET', KEYS[1], ARGV[2])
return 1
`)

type Store struct {
	client redis.UniversalClient
	prefix string
}

var _ store.RefreshStateRepository = (*Store)(nil)

func New(client redis.UniversalClient, prefix string) *Store {
	if strings.TrimSpace(prefix) == "" {
		prefix = DefaultPrefix
	}
	return &Store{client: client, prefix: prefix}
}

// Dial connects to addr and checks the connection.
func Dial(ctx context.Context, addr, password string, db int, prefix string) (*Store, error) {
	client := redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, err
	}
	return New(client, prefix), nil
}

func (s *Store) Close() error {
	return s.client.Close()
}

func (s *Store) LastRefreshed(ctx context.Context, key string) (int64, error) {
	v, err := s.client.Get(ctx, s.prefix+key).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	return v, err
}

func (s *Store) CompareAndSwapRefreshed(ctx context.Context, key string, old, next int64) (bool, error) {
	n, err := casScript.Run(ctx, s.client, []string{s.prefix + key}, old, next).Int()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}
