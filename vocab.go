package expgram

import (
	"bufio"
	"os"
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/golang/glog"
)

// WordID is a model-local, dense, 32-bit word identifier (spec §3). Ids are
// assigned in insertion order within one namespace (disk then memory) and
// are not portable across models.
type WordID uint32

// Reserved identifiers (spec §2, §3). EmptyID is the empty token; the
// remaining four are fixed per the original expgram's Vocab.cpp, which also
// reserves NoneID ("no such word") distinctly from UnkID ("observed OOV at
// scoring time") — see SPEC_FULL.md "Supplemented features".
const (
	EmptyID WordID = 0
	UnkID   WordID = 1
	BOSID   WordID = 2
	EOSID   WordID = 3
	NoneID  WordID = 4

	numReserved = 5
)

var reservedStrings = [numReserved]string{
	EmptyID: "",
	UnkID:   "<unk>",
	BOSID:   "<s>",
	EOSID:   "</s>",
	NoneID:  "<none>",
}

const (
	cacheShards = 64
	cacheSlots  = 4096
)

// prefixCache memoizes prefix(word, k), suffix(word, k) and digits(word)
// results. Per spec §9, the source's process-wide caches become explicit
// sharded maps with a small spinlock per shard rather than a general
// eviction cache (see DESIGN.md for why a generic LRU/S3-FIFO library from
// the retrieved pack was not a fit).
type prefixCache struct {
	shards [cacheShards]struct {
		lock spinlock
		m    map[uint64]WordID
	}
}

func newPrefixCache() *prefixCache {
	c := &prefixCache{}
	for i := range c.shards {
		c.shards[i].m = make(map[uint64]WordID, cacheSlots)
	}
	return c
}

func (c *prefixCache) shardFor(h uint64) *struct {
	lock spinlock
	m    map[uint64]WordID
} {
	return &c.shards[h%cacheShards]
}

func (c *prefixCache) get(h uint64) (WordID, bool) {
	s := c.shardFor(h)
	s.lock.Lock()
	v, ok := s.m[h]
	s.lock.Unlock()
	return v, ok
}

func (c *prefixCache) put(h uint64, v WordID) {
	s := c.shardFor(h)
	s.lock.Lock()
	if len(s.m) < cacheSlots*2 {
		s.m[h] = v
	}
	s.lock.Unlock()
}

// mix64 is a small avalanching mixer used to fold (op, k, word-hash) into a
// single cache key; not required to be cryptographically strong.
func mix64(x uint64) uint64 {
	x ^= x >> 33
	x *= 0xff51afd7ed558ccd
	x ^= x >> 33
	x *= 0xc4ceb9fe1a85ec53
	x ^= x >> 33
	return x
}

// Vocab is the bijection between byte strings and WordIDs (spec §4.1). It
// is made of two tiers: an optional on-disk succinct string table (searched
// first, read-only) and an in-memory hash for words not yet on disk. Ids in
// the memory tier are offset by the disk table's size so the overall id
// space stays dense. Must be constructed with NewVocab.
type Vocab struct {
	lock spinlock // guards diskWords/memWords/memIndex; never held across I/O.

	// diskWords is the on-disk succinct string table: a sorted slice of
	// words whose index plus numReserved is the WordID. Sorted so lookup
	// is O(log n) and,
	// combined with the cheap length check, effectively O(|word|) for the
	// comparisons that matter.
	diskWords []string

	// memWords/memIndex is the append-only in-memory delta.
	memWords []string
	memIndex map[string]WordID

	prefixCache *prefixCache
	suffixCache *prefixCache
	digitsCache *prefixCache

	readOnly bool // true once loaded from a model directory for scoring only.
}

// NewVocab creates an empty, writable vocabulary with the reserved ids
// already populated. The reserved words never occupy a disk/memory slot:
// Insert and Lookup special-case them via reservedLookup before touching
// either tier, so the dense id space starts clean at numReserved.
func NewVocab() *Vocab {
	return &Vocab{
		memIndex:    make(map[string]WordID),
		prefixCache: newPrefixCache(),
		suffixCache: newPrefixCache(),
		digitsCache: newPrefixCache(),
	}
}

var reservedLookup = buildReservedLookup()

func buildReservedLookup() map[string]WordID {
	m := make(map[string]WordID, numReserved)
	for id := WordID(0); id < numReserved; id++ {
		m[reservedStrings[id]] = id
	}
	return m
}

// Bound returns one past the largest WordID currently assigned.
func (v *Vocab) Bound() WordID {
	v.lock.Lock()
	defer v.lock.Unlock()
	return WordID(numReserved + len(v.diskWords) + len(v.memWords))
}

// Insert looks up word, adding it if absent. Idempotent and thread-safe.
// When the vocabulary was loaded read-only, only the on-disk table is
// consulted (§4.1): insertion into a read-only vocabulary for a word that
// is genuinely new returns UnkID rather than mutating anything.
func (v *Vocab) Insert(word string) WordID {
	if word == "" {
		return EmptyID
	}
	if id, ok := reservedLookup[word]; ok {
		return id
	}
	v.lock.Lock()
	defer v.lock.Unlock()
	if id, ok := v.lookupDiskLocked(word); ok {
		return id
	}
	if id, ok := v.memIndex[word]; ok {
		return id
	}
	if v.readOnly {
		return UnkID
	}
	id := WordID(numReserved + len(v.diskWords) + len(v.memWords))
	v.memWords = append(v.memWords, word)
	v.memIndex[word] = id
	return id
}

// Lookup returns word's id, or UnkID if word is not present: a binary
// search of the on-disk table, then a hash lookup in the memory tier.
// Never mutates the vocabulary.
func (v *Vocab) Lookup(word string) WordID {
	if word == "" {
		return EmptyID
	}
	if id, ok := reservedLookup[word]; ok {
		return id
	}
	v.lock.Lock()
	defer v.lock.Unlock()
	if id, ok := v.lookupDiskLocked(word); ok {
		return id
	}
	if id, ok := v.memIndex[word]; ok {
		return id
	}
	return UnkID
}

func (v *Vocab) lookupDiskLocked(word string) (WordID, bool) {
	n := len(v.diskWords)
	i := sort.SearchStrings(v.diskWords, word)
	if i < n && v.diskWords[i] == word {
		return WordID(numReserved + i), true
	}
	return 0, false
}

// StringOf recovers the string for an id. Only valid for ids that are
// reserved or were returned by Insert/Lookup for this vocabulary instance.
func (v *Vocab) StringOf(id WordID) string {
	if id < numReserved {
		return reservedStrings[id]
	}
	v.lock.Lock()
	defer v.lock.Unlock()
	idx := int(id) - numReserved
	if idx < len(v.diskWords) {
		return v.diskWords[idx]
	}
	idx -= len(v.diskWords)
	return v.memWords[idx]
}

// Write merges any in-memory additions into the on-disk table and
// atomically replaces path (spec §4.1 "write"). I/O errors are returned
// wrapped as *StorageError and are fatal for the Vocab instance the caller
// should treat write failures as unrecoverable, per §7.
func (v *Vocab) Write(path string) error {
	v.lock.Lock()
	merged := make([]string, 0, len(v.diskWords)+len(v.memWords))
	merged = append(merged, v.diskWords...)
	merged = append(merged, v.memWords...)
	v.lock.Unlock()

	sort.Strings(merged)
	merged = dedupSorted(merged)

	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return &StorageError{Path: tmp, Err: err}
	}
	w := bufio.NewWriter(f)
	for _, s := range merged {
		if _, err := w.WriteString(s); err != nil {
			f.Close()
			return &StorageError{Path: tmp, Err: err}
		}
		if err := w.WriteByte('\n'); err != nil {
			f.Close()
			return &StorageError{Path: tmp, Err: err}
		}
	}
	if err := w.Flush(); err != nil {
		f.Close()
		return &StorageError{Path: tmp, Err: err}
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return &StorageError{Path: tmp, Err: err}
	}
	if err := f.Close(); err != nil {
		return &StorageError{Path: tmp, Err: err}
	}
	if err := os.Rename(tmp, path); err != nil {
		return &StorageError{Path: path, Err: err}
	}

	v.lock.Lock()
	v.diskWords = merged
	v.memWords = nil
	v.memIndex = make(map[string]WordID)
	v.lock.Unlock()
	return nil
}

func dedupSorted(words []string) []string {
	out := words[:0]
	var prev string
	first := true
	for _, w := range words {
		if first || w != prev {
			out = append(out, w)
			prev = w
			first = false
		}
	}
	return out
}

// LoadVocab opens the on-disk succinct string table at path read-only
// (spec §6 "vocab/"). The returned Vocab answers Insert with UnkID for any
// word not already present, per §4.1.
func LoadVocab(path string) (*Vocab, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, &ModelIntegrityError{Path: path, Reason: err.Error()}
	}
	defer f.Close()

	var words []string
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for sc.Scan() {
		words = append(words, sc.Text())
	}
	if err := sc.Err(); err != nil {
		return nil, &ModelIntegrityError{Path: path, Reason: err.Error()}
	}
	if !sort.StringsAreSorted(words) {
		return nil, &ModelIntegrityError{Path: path, Reason: "vocabulary table is not sorted"}
	}
	return &Vocab{
		diskWords:   words,
		memIndex:    make(map[string]WordID),
		prefixCache: newPrefixCache(),
		suffixCache: newPrefixCache(),
		digitsCache: newPrefixCache(),
		readOnly:    true,
	}, nil
}

func isBracketed(s string) bool {
	return strings.HasPrefix(s, "<") && strings.HasSuffix(s, ">") && len(s) >= 2
}

// Prefix returns the id of the length-k Unicode-codepoint prefix of the
// string named by id, adding it to the vocabulary if new (spec §4.1).
// Bracketed tokens ("<...>") pass through unchanged. Memoized per k.
func (v *Vocab) Prefix(id WordID, k int) WordID {
	s := v.StringOf(id)
	if isBracketed(s) {
		return id
	}
	if runeLen(s) <= k {
		// The whole word already fits within k codepoints: its own id
		// is its prefix, and there's no need to allocate a []rune just
		// to discover that.
		return id
	}
	h := mix64(uint64(id)<<20 ^ uint64(k)<<1 ^ 1)
	if cached, ok := v.prefixCache.get(h); ok {
		return cached
	}
	r := []rune(s)
	out := v.Insert(string(r[:k]))
	v.prefixCache.put(h, out)
	return out
}

// Suffix is the mirror of Prefix: the length-k Unicode-codepoint suffix.
func (v *Vocab) Suffix(id WordID, k int) WordID {
	s := v.StringOf(id)
	if isBracketed(s) {
		return id
	}
	if runeLen(s) <= k {
		return id
	}
	h := mix64(uint64(id)<<20 ^ uint64(k)<<1 ^ 2)
	if cached, ok := v.suffixCache.get(h); ok {
		return cached
	}
	r := []rune(s)
	out := v.Insert(string(r[len(r)-k:]))
	v.suffixCache.put(h, out)
	return out
}

// Digits replaces every decimal digit in the string named by id with '#',
// a common feature-extraction normalization for numeric tokens. Bracketed
// tokens pass through unchanged. Memoized.
func (v *Vocab) Digits(id WordID) WordID {
	s := v.StringOf(id)
	if isBracketed(s) {
		return id
	}
	h := mix64(uint64(id)<<20 ^ 3)
	if cached, ok := v.digitsCache.get(h); ok {
		return cached
	}
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if unicode.IsDigit(r) {
			b.WriteRune('#')
		} else {
			b.WriteRune(r)
		}
	}
	out := v.Insert(b.String())
	v.digitsCache.put(h, out)
	return out
}

// runeLen returns the number of Unicode codepoints in s without
// allocating a []rune, letting Prefix/Suffix skip straight to "the word
// is its own prefix/suffix" when k already covers the whole word.
func runeLen(s string) int {
	n := 0
	for i := 0; i < len(s); {
		_, size := utf8.DecodeRuneInString(s[i:])
		i += size
		n++
	}
	return n
}

func init() {
	// Fatal at build time, not at scoring time, if the reserved table is
	// ever edited inconsistently; mirrors the teacher's NewVocab panic on
	// a malformed reserved-token configuration.
	seen := map[string]bool{}
	for _, s := range reservedStrings {
		if s == "" {
			continue
		}
		if seen[s] {
			glog.Fatalf("vocab: reserved token %q duplicated", s)
		}
		seen[s] = true
	}
}
