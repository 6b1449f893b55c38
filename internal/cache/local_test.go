/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package cache

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func TestLocalWindowAdmitterSequential(t *testing.T) {
	admitter, err := NewLocalWindowAdmitter(100)
	require.NoError(t, err)

	ctx := context.Background()
	key := WindowKey("account-a")
	window := time.Minute
	now := time.Now().UTC()

	res, err := admitter.Admit(ctx, key, 2, window, now)
	require.NoError(t, err)
	require.True(t, res.Allowed)
	require.Equal(t, 2, res.Limit)
	require.Equal(t, 1, res.Remaining)
	require.Equal(t, now.Add(window), res.ResetAt)

	res, err = admitter.Admit(ctx, key, 2, window, now.Add(time.Second))
	require.NoError(t, err)
	require.True(t, res.Allowed)
	require.Equal(t, 0, res.Remaining)

	res, err = admitter.Admit(ctx, key, 2, window, now.Add(2*time.Second))
	require.NoError(t, err)
	require.False(t, res.Allowed)
	require.Equal(t, 0, res.Remaining)
	require.Greater(t, res.RetryAfter, time.Duration(0))
	// The oldest event leaves the window at now+window.
	require.Equal(t, now.Add(window), res.ResetAt)
}

func TestLocalWindowAdmitterHalfOpenBoundary(t *testing.T) {
	admitter, err := NewLocalWindowAdmitter(100)
	require.NoError(t, err)

	ctx := context.Background()
	key := WindowKey("account-b")
	window := time.Minute
	now := time.Now().UTC()

	res, err := admitter.Admit(ctx, key, 1, window, now)
	require.NoError(t, err)
	require.True(t, res.Allowed)

	// An event at t' counts at t iff t-window < t' <= t: exactly one window
	// later the first event is out of scope again.
	res, err = admitter.Admit(ctx, key, 1, window, now.Add(window))
	require.NoError(t, err)
	require.True(t, res.Allowed)
}

func TestLocalWindowAdmitterKeysAreIndependent(t *testing.T) {
	admitter, err := NewLocalWindowAdmitter(100)
	require.NoError(t, err)

	ctx := context.Background()
	now := time.Now().UTC()

	res, err := admitter.Admit(ctx, WindowKey("account-a"), 1, time.Minute, now)
	require.NoError(t, err)
	require.True(t, res.Allowed)

	res, err = admitter.Admit(ctx, WindowKey("account-b"), 1, time.Minute, now)
	require.NoError(t, err)
	require.True(t, res.Allowed)
}

func TestLocalWindowAdmitterConcurrentSoundness(t *testing.T) {
	admitter, err := NewLocalWindowAdmitter(100)
	require.NoError(t, err)

	const workers = 100
	const maxRequests = 10

	ctx := context.Background()
	key := WindowKey("account-c")

	var wg sync.WaitGroup
	var mu sync.Mutex
	var allowed int
	var errs []error
	remainingSeen := make(map[int]bool)

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, admitErr := admitter.Admit(ctx, key, maxRequests, time.Minute, time.Now().UTC())
			mu.Lock()
			defer mu.Unlock()
			if admitErr != nil {
				errs = append(errs, admitErr)
				return
			}
			if res.Allowed {
				allowed++
				remainingSeen[res.Remaining] = true
			}
		}()
	}
	wg.Wait()

	require.Empty(t, errs)
	require.Equal(t, maxRequests, allowed)
	// Each admission claims exactly one slot: remaining values are all distinct.
	require.Len(t, remainingSeen, maxRequests)
	for i := 0; i < maxRequests; i++ {
		require.True(t, remainingSeen[i], "remaining=%d was never reported", i)
	}
}

func TestLocalPriorityIndexOrdering(t *testing.T) {
	index := NewLocalPriorityIndex()
	ctx := context.Background()
	now := time.Now().UTC()

	// First admission on an empty index.
	pos, err := index.Insert(ctx, IndexEntry{Priority: 0, CreatedAt: now, ID: uuid.New()})
	require.NoError(t, err)
	require.Equal(t, int64(1), pos)

	// A later, higher-priority admission goes to the front.
	highPriority := IndexEntry{Priority: 9, CreatedAt: now.Add(time.Second), ID: uuid.New()}
	pos, err = index.Insert(ctx, highPriority)
	require.NoError(t, err)
	require.Equal(t, int64(1), pos)

	// Same priority, later timestamp: FIFO within the priority.
	pos, err = index.Insert(ctx, IndexEntry{Priority: 9, CreatedAt: now.Add(2 * time.Second), ID: uuid.New()})
	require.NoError(t, err)
	require.Equal(t, int64(2), pos)

	// The priority-0 entry is now behind both priority-9 entries.
	pos, err = index.Insert(ctx, IndexEntry{Priority: 0, CreatedAt: now.Add(3 * time.Second), ID: uuid.New()})
	require.NoError(t, err)
	require.Equal(t, int64(4), pos)

	length, err := index.Len(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(4), length)

	require.NoError(t, index.Remove(ctx, highPriority))
	length, err = index.Len(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(3), length)
}

func TestLocalPriorityIndexEqualTimestampsBreakTiesByID(t *testing.T) {
	index := NewLocalPriorityIndex()
	ctx := context.Background()
	now := time.Now().UTC()

	idA := uuid.MustParse("00000000-0000-0000-0000-000000000001")
	idB := uuid.MustParse("00000000-0000-0000-0000-000000000002")

	pos, err := index.Insert(ctx, IndexEntry{Priority: 5, CreatedAt: now, ID: idB})
	require.NoError(t, err)
	require.Equal(t, int64(1), pos)

	// Identical (priority, created_at): the smaller identifier orders first.
	pos, err = index.Insert(ctx, IndexEntry{Priority: 5, CreatedAt: now, ID: idA})
	require.NoError(t, err)
	require.Equal(t, int64(1), pos)
}

func TestLocalPriorityIndexReconcile(t *testing.T) {
	index := NewLocalPriorityIndex()
	ctx := context.Background()
	now := time.Now().UTC()

	snapshot := []IndexEntry{
		{Priority: 0, CreatedAt: now, ID: uuid.New()},
		{Priority: 10, CreatedAt: now.Add(time.Second), ID: uuid.New()},
		{Priority: 5, CreatedAt: now.Add(2 * time.Second), ID: uuid.New()},
	}
	require.NoError(t, index.Reconcile(ctx, snapshot))

	length, err := index.Len(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(3), length)

	// Replaying the same snapshot must not create duplicates.
	require.NoError(t, index.Reconcile(ctx, snapshot))
	length, err = index.Len(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(3), length)

	// A new low-priority entry lands behind the whole snapshot.
	pos, err := index.Insert(ctx, IndexEntry{Priority: 0, CreatedAt: now.Add(3 * time.Second), ID: uuid.New()})
	require.NoError(t, err)
	require.Equal(t, int64(4), pos)
}

func TestIndexMemberOrder(t *testing.T) {
	now := time.Now().UTC()
	id := uuid.New()

	earlier := indexMember(now, id)
	later := indexMember(now.Add(time.Nanosecond), id)
	require.Less(t, earlier, later)

	idA := uuid.MustParse("00000000-0000-0000-0000-00000000000a")
	idB := uuid.MustParse("00000000-0000-0000-0000-00000000000b")
	require.Less(t, indexMember(now, idA), indexMember(now, idB))
}

func TestIndexScoreOrdersHigherPriorityFirst(t *testing.T) {
	require.Less(t, indexScore(10), indexScore(0))
	require.Less(t, indexScore(9), indexScore(8))
}
