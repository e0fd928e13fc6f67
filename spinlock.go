package expgram

import "sync/atomic"

// spinlock is a short-held mutual exclusion primitive used for the
// vocabulary's in-memory hash and the shards of its prefix/suffix/digits
// caches (§4.1, §5 "Shared-resource policy"). It is never held across I/O; callers
// that need to do I/O must copy data out while holding the lock and release
// it before touching the filesystem. Modeled on original_source's
// utils/spinlock.hpp (a plain compare-and-swap spin loop).
type spinlock struct {
	held atomic.Bool
}

func (s *spinlock) Lock() {
	for !s.held.CompareAndSwap(false, true) {
		// busy-spin: critical sections are a handful of map operations.
	}
}

func (s *spinlock) Unlock() {
	s.held.Store(false)
}

// cachedWord is a single-word (64-bit) atomic slot pairing a word id with
// a result id, so a reader never sees one store's key with another's
// value (§9 "single-word atomic update of a (id, word-id) pair per cache
// slot"). The prefix/suffix/digits caches in vocab.go do not use it; they
// keep spinlock-guarded maps (prefixCache).
type cachedWord struct {
	pair  atomic.Uint64 // key<<32 | value
	valid atomic.Bool
}

func (c *cachedWord) load(key WordID) (WordID, bool) {
	if !c.valid.Load() {
		return 0, false
	}
	p := c.pair.Load()
	if WordID(p>>32) != key {
		return 0, false
	}
	return WordID(uint32(p)), true
}

func (c *cachedWord) store(key, value WordID) {
	c.pair.Store(uint64(key)<<32 | uint64(value))
	c.valid.Store(true)
}
