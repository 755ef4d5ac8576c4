// Package statecache persists the latest state per subject so a restarted
// node can serve first-attach snapshots and resets without waiting for the
// producer to publish again. Only the current state is stored — never an
// update history.
package statecache

import (
	"errors"
	"fmt"

	"github.com/zhongdj/reactiveservices/internal/dialect"
	pebblestore "github.com/zhongdj/reactiveservices/internal/storage/pebble"
	"github.com/zhongdj/reactiveservices/internal/streamstate"
	"github.com/zhongdj/reactiveservices/internal/subject"
)

var keyPrefix = []byte("state/")

// Cache is a pebble-backed state cache. It satisfies service.StateCache.
type Cache struct {
	db *pebblestore.DB
}

// Open creates or opens the cache at dir. The cache holds reconstructible
// data, so the store runs without forced WAL syncs.
func Open(dir string) (*Cache, error) {
	db, err := pebblestore.Open(pebblestore.Options{DataDir: dir, Fsync: pebblestore.FsyncModeNever})
	if err != nil {
		return nil, fmt.Errorf("statecache: open %q: %w", dir, err)
	}
	return &Cache{db: db}, nil
}

// Close releases the underlying store.
func (c *Cache) Close() error { return c.db.Close() }

func cacheKey(subj subject.Subject) []byte {
	k := make([]byte, 0, len(keyPrefix)+len(subj.Key()))
	k = append(k, keyPrefix...)
	k = append(k, subj.Key()...)
	return k
}

// Put stores the subject's latest state, replacing any previous one.
func (c *Cache) Put(subj subject.Subject, s streamstate.State) error {
	val, err := dialect.EncodeState(s)
	if err != nil {
		return fmt.Errorf("statecache: encode %q: %w", subj.Key(), err)
	}
	return c.db.Set(cacheKey(subj), val)
}

// Load returns the subject's cached state, if any.
func (c *Cache) Load(subj subject.Subject) (streamstate.State, bool, error) {
	val, err := c.db.Get(cacheKey(subj))
	if errors.Is(err, pebblestore.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	s, err := dialect.DecodeState(val)
	if err != nil {
		return nil, false, fmt.Errorf("statecache: decode %q: %w", subj.Key(), err)
	}
	return s, true, nil
}

// Drop removes the subject's cached state.
func (c *Cache) Drop(subj subject.Subject) error {
	return c.db.Delete(cacheKey(subj))
}
