// Package keylock provides per-key exclusive sections for account mutations.
package keylock

import (
	"context"
	"sort"
	"sync"
)

type Table struct {
	mu    sync.Mutex
	locks map[string]*slot
}

type slot struct {
	ch   chan struct{}
	refs int
}

func New() *Table {
	return &Table{locks: make(map[string]*slot)}
}

// Acquire locks every key in lexicographic order so that callers locking
// overlapping sets can never deadlock. It gives up when ctx is done.
func (t *Table) Acquire(ctx context.Context, keys ...string) (func(), error) {
	ordered := dedupe(keys)
	held := make([]*slot, 0, len(ordered))
	heldKeys := make([]string, 0, len(ordered))
	unlock := func() {
		for i := len(held) - 1; i >= 0; i-- {
			<-held[i].ch
			t.unref(heldKeys[i])
		}
	}
	for _, key := range ordered {
		s := t.ref(key)
		select {
		case s.ch <- struct{}{}:
			held = append(held, s)
			heldKeys = append(heldKeys, key)
		case <-ctx.Done():
			t.unref(key)
			unlock()
			return nil, ctx.Err()
		}
	}
	var once sync.Once
	return func() { once.Do(unlock) }, nil
}

func (t *Table) ref(key string) *slot {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.locks[key]
	if !ok {
		s = &slot{ch: make(chan struct{}, 1)}
		t.locks[key] = s
	}
	s.refs++
	return s
}

func (t *Table) unref(key string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.locks[key]
	if !ok {
		return
	}
	s.refs--
	if s.refs == 0 {
		delete(t.locks, key)
	}
}

func dedupe(keys []string) []string {
	out := make([]string, 0, len(keys))
	seen := make(map[string]struct{}, len(keys))
	for _, k := range keys {
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
