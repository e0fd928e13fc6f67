package expgram

import "math/bits"

// BitVector is a read-only, rank/select-augmented bitvector: the succinct
// structure backing the trie's "positions" column (spec §4.2). No library
// in the retrieved pack exposes the select-by-zero-count primitives
// children_range/parent need (see DESIGN.md); this is a from-scratch,
// word-blocked implementation.
//
// Rank is O(1) (a per-word prefix count plus one popcount). Select is
// O(log w) in the number of 64-bit words rather than the textbook O(1)
// (which needs an additional two-level sampling structure on top of this
// one); for the shard sizes this toolkit targets (single shards, not the
// full vocabulary) the word-level binary search is
// effectively constant in practice, and is considerably simpler to get
// right than full Jacobson rank/select with o(n)-bit sampling overhead.
type BitVector struct {
	words    []uint64
	nbits    int
	wordRank []int32 // wordRank[i] = number of 1-bits in words[0:i]
	built    bool
}

// NewBitVectorBuilder returns an empty, appendable bitvector.
func NewBitVectorBuilder() *BitVector {
	return &BitVector{}
}

// NewBitVectorFromWords wraps an already-populated, memory-mapped word
// array (the on-disk "positions" column, spec §6 "index.<shard>/") as a
// ready-to-query BitVector. nbits is the logical bit count; trailing bits
// in the last word beyond nbits are ignored by Rank/Select.
func NewBitVectorFromWords(words []uint64, nbits int) *BitVector {
	b := &BitVector{words: words, nbits: nbits}
	b.Build()
	return b
}

// Append adds one bit. Must not be called after Build.
func (b *BitVector) Append(bit bool) {
	if b.built {
		panic("bitvector: Append after Build")
	}
	wordIdx := b.nbits / 64
	if wordIdx >= len(b.words) {
		b.words = append(b.words, 0)
	}
	if bit {
		b.words[wordIdx] |= 1 << uint(b.nbits%64)
	}
	b.nbits++
}

// Build finalizes the bitvector, computing the word-level rank index.
// Must be called exactly once before Rank/Select are used.
func (b *BitVector) Build() {
	if b.built {
		return
	}
	b.wordRank = make([]int32, len(b.words)+1)
	var total int32
	for i, w := range b.words {
		b.wordRank[i] = total
		total += int32(bits.OnesCount64(w))
	}
	b.wordRank[len(b.words)] = total
	b.built = true
}

// Len returns the number of bits.
func (b *BitVector) Len() int { return b.nbits }

// Get returns the bit at position i.
func (b *BitVector) Get(i int) bool {
	return b.words[i/64]&(1<<uint(i%64)) != 0
}

// Rank1 returns the number of 1-bits among the first i bits, i.e. in
// [0, i). i may range over [0, Len()]; Rank1(-1) (used by children_range's
// "virtual zeroth zero" convention) returns 0.
func (b *BitVector) Rank1(i int) int {
	if i <= 0 {
		return 0
	}
	if i > b.nbits {
		i = b.nbits
	}
	wordIdx := i / 64
	rank := int(b.wordRank[wordIdx])
	if rem := i % 64; rem != 0 {
		mask := uint64(1)<<uint(rem) - 1
		rank += bits.OnesCount64(b.words[wordIdx] & mask)
	}
	return rank
}

// Rank0 returns the number of 0-bits among the first i bits.
func (b *BitVector) Rank0(i int) int {
	if i < 0 {
		return 0
	}
	if i > b.nbits {
		i = b.nbits
	}
	return i - b.Rank1(i)
}

// Select1 returns the bit position of the k-th 1-bit (k is 1-indexed).
// Select1(0) returns -1 by convention. Panics if k exceeds the number of
// 1-bits (a model-integrity condition the caller should have precluded).
func (b *BitVector) Select1(k int) int {
	return b.selectBit(k, true)
}

// Select0 is the mirror of Select1 for 0-bits.
func (b *BitVector) Select0(k int) int {
	return b.selectBit(k, false)
}

func (b *BitVector) selectBit(k int, one bool) int {
	if k <= 0 {
		return -1
	}
	rankAt := func(wordIdx int) int {
		r := int(b.wordRank[wordIdx])
		if !one {
			r = wordIdx*64 - r
		}
		return r
	}
	numWords := len(b.words)
	// Binary search for the last word whose cumulative rank is < k.
	lo, hi := 0, numWords
	for lo < hi {
		mid := (lo + hi) / 2
		if rankAt(mid+1) < k {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	wordIdx := lo
	need := k - rankAt(wordIdx)
	w := b.words[wordIdx]
	if !one {
		w = ^w
	}
	// Clear bits beyond the bitvector's logical length in the final word.
	if wordIdx == numWords-1 {
		if rem := b.nbits % 64; rem != 0 {
			w &= uint64(1)<<uint(rem) - 1
		}
	}
	pos := wordIdx*64 + selectWithinWord(w, need)
	return pos
}

// selectWithinWord returns the bit offset (0-based) of the need-th set bit
// in w (need is 1-indexed). Panics if w has fewer than need set bits.
func selectWithinWord(w uint64, need int) int {
	for i := 0; i < 64; i++ {
		if w&1 != 0 {
			need--
			if need == 0 {
				return i
			}
		}
		w >>= 1
	}
	panic("bitvector: select out of range")
}
