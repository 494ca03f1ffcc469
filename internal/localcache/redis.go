package localcache

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"

	"github.com/matheus3301/wppcrm/internal/unread"
)

// Redis stores each mapping as a hash named "<instance>:<key>".
type Redis struct {
	rdb      redis.UniversalClient
	instance string
}

// NewRedis creates a Redis-backed cache namespaced by instance.
func NewRedis(rdb redis.UniversalClient, instance string) *Redis {
	return &Redis{rdb: rdb, instance: instance}
}

func (r *Redis) key(name string) string {
	return r.instance + ":" + name
}

// Load reads both hashes. Fields that are not integers are skipped.
func (r *Redis) Load(ctx context.Context) (unread.State, error) {
	s := unread.NewState()

	pipe := r.rdb.Pipeline()
	countsCmd := pipe.HGetAll(ctx, r.key(KeyUnreadCounts))
	seenCmd := pipe.HGetAll(ctx, r.key(KeyLastSeen))
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return unread.State{}, fmt.Errorf("redis load: %w", err)
	}

	for jid, v := range countsCmd.Val() {
		if n, err := strconv.Atoi(v); err == nil {
			s.Counts[jid] = n
		}
	}
	for jid, v := range seenCmd.Val() {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			s.LastSeen[jid] = n
		}
	}
	return s, nil
}

// Save replaces both hashes in one transaction.
func (r *Redis) Save(ctx context.Context, s unread.State) error {
	_, err := r.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, r.key(KeyUnreadCounts), r.key(KeyLastSeen))
		if len(s.Counts) > 0 {
			fields := make(map[string]any, len(s.Counts))
			for jid, n := range s.Counts {
				fields[jid] = n
			}
			pipe.HSet(ctx, r.key(KeyUnreadCounts), fields)
		}
		if len(s.LastSeen) > 0 {
			fields := make(map[string]any, len(s.LastSeen))
			for jid, ts := range s.LastSeen {
				fields[jid] = ts
			}
			pipe.HSet(ctx, r.key(KeyLastSeen), fields)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis save: %w", err)
	}
	return nil
}
