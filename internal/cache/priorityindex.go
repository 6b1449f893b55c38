/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package cache

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// indexInsertScript adds an entry to the pending index and returns its
// 1-based rank in the same invocation, which makes the reported position
// linearizable with respect to concurrent inserts.
var indexInsertScript = redis.NewScript(`
redis.call('ZADD', KEYS[1], ARGV[1], ARGV[2])
return redis.call('ZRANK', KEYS[1], ARGV[2]) + 1
`)

// reconcileBatchSize bounds the argument list of one ZADD during reconciliation.
const reconcileBatchSize = 512

// RedisPriorityIndex implements PriorityIndex on one global sorted set keyed
// by (score = 10 - priority, member = created-at nanos + ":" + id), so rank
// order equals (priority DESC, created_at ASC, id ASC).
type RedisPriorityIndex struct {
	client *redis.Client
}

var _ PriorityIndex = (*RedisPriorityIndex)(nil)

// NewRedisPriorityIndex creates a Redis-backed priority index.
func NewRedisPriorityIndex(client *redis.Client) *RedisPriorityIndex {
	return &RedisPriorityIndex{client: client}
}

// Insert implements PriorityIndex.
func (i *RedisPriorityIndex) Insert(ctx context.Context, e IndexEntry) (int64, error) {
	position, err := indexInsertScript.Run(ctx, i.client,
		[]string{indexKey},
		indexScore(e.Priority), indexMember(e.CreatedAt, e.ID),
	).Int64()
	if err != nil {
		return 0, fmt.Errorf("priority index insert: %w", err)
	}
	return position, nil
}

// Remove implements PriorityIndex.
func (i *RedisPriorityIndex) Remove(ctx context.Context, e IndexEntry) error {
	return i.client.ZRem(ctx, indexKey, indexMember(e.CreatedAt, e.ID)).Err()
}

// Reconcile implements PriorityIndex. Entries are added in batches on top of
// whatever the index already holds; ZADD overwrites duplicates, so replaying
// a snapshot over live inserts is safe.
func (i *RedisPriorityIndex) Reconcile(ctx context.Context, entries []IndexEntry) error {
	for start := 0; start < len(entries); start += reconcileBatchSize {
		end := start + reconcileBatchSize
		if end > len(entries) {
			end = len(entries)
		}
		members := make([]redis.Z, 0, end-start)
		for _, e := range entries[start:end] {
			members = append(members, redis.Z{Score: indexScore(e.Priority), Member: indexMember(e.CreatedAt, e.ID)})
		}
		if err := i.client.ZAdd(ctx, indexKey, members...).Err(); err != nil {
			return fmt.Errorf("priority index reconcile: %w", err)
		}
	}
	return nil
}

// Len implements PriorityIndex.
func (i *RedisPriorityIndex) Len(ctx context.Context) (int64, error) {
	return i.client.ZCard(ctx, indexKey).Result()
}
