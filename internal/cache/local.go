/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package cache

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/acronis/go-appkit/lrucache"
)

// localWindow is the in-process counterpart of the Redis sorted-set window:
// an ordered log of event timestamps trimmed on every admit.
type localWindow struct {
	mu     sync.Mutex
	events []time.Time
}

func (w *localWindow) admit(maxRequests int, window time.Duration, now time.Time) AdmitResult {
	w.mu.Lock()
	defer w.mu.Unlock()

	cutoff := now.Add(-window)
	trimmed := w.events[:0]
	for _, t := range w.events {
		if t.After(cutoff) {
			trimmed = append(trimmed, t)
		}
	}
	w.events = trimmed

	if len(w.events) >= maxRequests {
		resetAt := now.Add(window)
		if len(w.events) > 0 {
			resetAt = w.events[0].Add(window)
		}
		return AdmitResult{
			Allowed:    false,
			Limit:      maxRequests,
			Remaining:  0,
			ResetAt:    resetAt,
			RetryAfter: resetAt.Sub(now),
		}
	}

	w.events = append(w.events, now)
	return AdmitResult{
		Allowed:   true,
		Limit:     maxRequests,
		Remaining: maxRequests - len(w.events),
		ResetAt:   w.events[0].Add(window),
	}
}

// LocalWindowAdmitter implements WindowAdmitter in process memory.
// It keeps per-key windows in an LRU store, one window per key.
// Suitable for tests and single-replica runs; a horizontally scaled
// deployment needs the Redis-backed admitter.
type LocalWindowAdmitter struct {
	getWindow func(key string) *localWindow
}

var _ WindowAdmitter = (*LocalWindowAdmitter)(nil)

// NewLocalWindowAdmitter creates a local admitter holding at most maxKeys windows.
func NewLocalWindowAdmitter(maxKeys int) (*LocalWindowAdmitter, error) {
	store, err := lrucache.New[string, *localWindow](maxKeys, nil)
	if err != nil {
		return nil, fmt.Errorf("new LRU in-memory store for keys: %w", err)
	}
	return &LocalWindowAdmitter{
		getWindow: func(key string) *localWindow {
			w, _ := store.GetOrAdd(key, func() *localWindow { return &localWindow{} })
			return w
		},
	}, nil
}

// Admit implements WindowAdmitter.
func (a *LocalWindowAdmitter) Admit(
	_ context.Context, key string, maxRequests int, window time.Duration, now time.Time,
) (AdmitResult, error) {
	return a.getWindow(key).admit(maxRequests, window, now), nil
}

type localIndexEntry struct {
	score  float64
	member string
}

// LocalPriorityIndex implements PriorityIndex in process memory, keeping the
// pending entries sorted by (score ASC, member ASC) exactly like the sorted set.
type LocalPriorityIndex struct {
	mu      sync.Mutex
	entries []localIndexEntry
}

var _ PriorityIndex = (*LocalPriorityIndex)(nil)

// NewLocalPriorityIndex creates an empty local priority index.
func NewLocalPriorityIndex() *LocalPriorityIndex {
	return &LocalPriorityIndex{}
}

func (i *LocalPriorityIndex) searchLocked(e localIndexEntry) int {
	return sort.Search(len(i.entries), func(n int) bool {
		if i.entries[n].score != e.score {
			return i.entries[n].score >= e.score
		}
		return i.entries[n].member >= e.member
	})
}

// Insert implements PriorityIndex.
func (i *LocalPriorityIndex) Insert(_ context.Context, e IndexEntry) (int64, error) {
	entry := localIndexEntry{score: indexScore(e.Priority), member: indexMember(e.CreatedAt, e.ID)}

	i.mu.Lock()
	defer i.mu.Unlock()
	pos := i.searchLocked(entry)
	if pos < len(i.entries) && i.entries[pos] == entry {
		return int64(pos) + 1, nil
	}
	i.entries = append(i.entries, localIndexEntry{})
	copy(i.entries[pos+1:], i.entries[pos:])
	i.entries[pos] = entry
	return int64(pos) + 1, nil
}

// Remove implements PriorityIndex.
func (i *LocalPriorityIndex) Remove(_ context.Context, e IndexEntry) error {
	entry := localIndexEntry{score: indexScore(e.Priority), member: indexMember(e.CreatedAt, e.ID)}

	i.mu.Lock()
	defer i.mu.Unlock()
	pos := i.searchLocked(entry)
	if pos < len(i.entries) && i.entries[pos] == entry {
		i.entries = append(i.entries[:pos], i.entries[pos+1:]...)
	}
	return nil
}

// Reconcile implements PriorityIndex.
func (i *LocalPriorityIndex) Reconcile(ctx context.Context, entries []IndexEntry) error {
	for _, e := range entries {
		if _, err := i.Insert(ctx, e); err != nil {
			return err
		}
	}
	return nil
}

// Len implements PriorityIndex.
func (i *LocalPriorityIndex) Len(_ context.Context) (int64, error) {
	i.mu.Lock()
	defer i.mu.Unlock()
	return int64(len(i.entries)), nil
}
