package expgram

import (
	"bytes"
	"encoding/gob"
	"fmt"
	"os"
	"path/filepath"
)

// shardMeta is the small gob-encoded header stored in each shard's index
// directory (spec §6 "index.<shard>/ ... backward flag, order"). It is
// intentionally separate from the bulk positions/ids/offsets arrays so
// that those stay raw, mmap-friendly byte arrays.
type shardMeta struct {
	Backward bool
	Order    int
	NBits    int
}

// Shard is one shard's loaded, memory-mapped trie plus its columns (spec
// §3 "Trie node", §4.3 "Shard columns"). Shard 0 additionally carries the
// globally-shared unigram range that shards >0 redirect to.
type Shard struct {
	Index int
	Trie  *Trie

	LogProb  FloatColumn
	Backoff  FloatColumn
	LogBound FloatColumn
	Count    *CountColumn // nil unless the model directory has a count.<shard> file
	Modified *CountColumn // nil until the modify pipeline has run

	mapped []*MappedFile
}

// Close unmaps every file backing this shard.
func (s *Shard) Close() error {
	var first error
	for _, m := range s.mapped {
		if err := m.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// Model is a loaded, sharded n-gram language model (spec §2 "Vocabulary",
// "Shard data columns"). Scoring never mutates a Model; pipelines replace
// individual shard files and reload.
type Model struct {
	Dir      string
	Manifest *Manifest
	Vocab    *Vocab
	Shards   []*Shard
}

// Close unmaps every shard's files.
func (m *Model) Close() error {
	var first error
	for _, s := range m.Shards {
		if err := s.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// LoadModel opens a model directory read-only: manifest, vocabulary, then
// every shard's index and columns, memory-mapped (spec §6).
func LoadModel(dir string) (*Model, error) {
	manifest, err := LoadManifest(filepath.Join(dir, "manifest"))
	if err != nil {
		return nil, err
	}
	vocab, err := LoadVocab(filepath.Join(dir, "vocab"))
	if err != nil {
		return nil, err
	}
	m := &Model{Dir: dir, Manifest: manifest, Vocab: vocab}
	shards := make([]*Shard, manifest.ShardCount)
	for i := 0; i < manifest.ShardCount; i++ {
		s, err := loadShard(dir, manifest, i)
		if err != nil {
			for _, loaded := range shards[:i] {
				if loaded != nil {
					loaded.Close()
				}
			}
			return nil, err
		}
		shards[i] = s
	}
	m.Shards = shards
	return m, nil
}

func loadShard(dir string, manifest *Manifest, idx int) (*Shard, error) {
	idxDir := filepath.Join(dir, fmt.Sprintf("index.%d", idx))
	s := &Shard{Index: idx}

	metaPath := filepath.Join(idxDir, "meta")
	metaBytes, err := os.ReadFile(metaPath)
	if err != nil {
		return nil, &StorageError{Path: metaPath, Err: err}
	}
	var meta shardMeta
	if err := gob.NewDecoder(bytes.NewReader(metaBytes)).Decode(&meta); err != nil {
		return nil, &ModelIntegrityError{Path: metaPath, Reason: err.Error()}
	}
	if meta.Backward != manifest.Backward || meta.Order != manifest.Order {
		return nil, &ModelIntegrityError{Path: metaPath, Reason: "shard orientation/order does not match manifest"}
	}

	positionsPath := filepath.Join(idxDir, "positions")
	positionsFile, err := OpenMapped(positionsPath)
	if err != nil {
		return nil, err
	}
	s.mapped = append(s.mapped, positionsFile)
	words, err := reinterpret[uint64](positionsPath, positionsFile.Bytes())
	if err != nil {
		return nil, err
	}
	bv := NewBitVectorFromWords(words, meta.NBits)

	idsPath := filepath.Join(idxDir, "ids")
	idsFile, err := OpenMapped(idsPath)
	if err != nil {
		return nil, err
	}
	s.mapped = append(s.mapped, idsFile)
	ids, err := WordIDColumn(idsPath, idsFile.Bytes())
	if err != nil {
		return nil, err
	}

	offsetsPath := filepath.Join(idxDir, "offsets")
	offsetsFile, err := OpenMapped(offsetsPath)
	if err != nil {
		return nil, err
	}
	s.mapped = append(s.mapped, offsetsFile)
	offsets, err := Uint32Column(offsetsPath, offsetsFile.Bytes())
	if err != nil {
		return nil, err
	}

	s.Trie = &Trie{
		Backward:  meta.Backward,
		Order:     meta.Order,
		Offsets:   offsets,
		Positions: bv,
		IDs:       ids,
	}

	// The shared unigram range lives only on shard 0; shards > 0 address
	// their float/count columns starting at Offsets[1] and redirect
	// anything below that back to shard 0 (spec §4.3).
	colOffset := Pos(1)
	if idx > 0 && len(offsets) > 1 {
		colOffset = Pos(offsets[1])
	}

	var err2 error
	s.LogProb, err2 = loadFloatColumn(dir, "logprob", idx, colOffset, manifest, s)
	if err2 != nil {
		return nil, err2
	}
	s.Backoff, err2 = loadFloatColumn(dir, "backoff", idx, colOffset, manifest, s)
	if err2 != nil {
		return nil, err2
	}
	s.LogBound, err2 = loadFloatColumn(dir, "logbound", idx, colOffset, manifest, s)
	if err2 != nil {
		return nil, err2
	}

	if countPath := filepath.Join(dir, fmt.Sprintf("count.%d", idx)); fileExists(countPath) {
		f, err := OpenMapped(countPath)
		if err != nil {
			return nil, err
		}
		s.mapped = append(s.mapped, f)
		vals, err := Uint64Column(countPath, f.Bytes())
		if err != nil {
			return nil, err
		}
		s.Count = NewCountColumn(colOffset, vals)
	}
	if modifiedPath := filepath.Join(dir, fmt.Sprintf("modified.%d", idx)); fileExists(modifiedPath) {
		f, err := OpenMapped(modifiedPath)
		if err != nil {
			return nil, err
		}
		s.mapped = append(s.mapped, f)
		vals, err := Uint64Column(modifiedPath, f.Bytes())
		if err != nil {
			return nil, err
		}
		s.Modified = NewCountColumn(colOffset, vals)
	}

	return s, nil
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// loadFloatColumn opens column name for shard idx, either as a raw float
// array or, if the manifest marks it quantized, as a byte column plus its
// codebook (spec §4.3, §4.5.4). The trie's own Offsets double as the
// per-order boundaries the codebook decode needs.
func loadFloatColumn(dir, name string, idx int, offset Pos, manifest *Manifest, s *Shard) (FloatColumn, error) {
	path := filepath.Join(dir, fmt.Sprintf("%s.%d", name, idx))
	f, err := OpenMapped(path)
	if err != nil {
		return nil, err
	}
	s.mapped = append(s.mapped, f)

	if !manifest.IsQuantized(name) {
		values, err := WeightColumn(path, f.Bytes())
		if err != nil {
			return nil, err
		}
		return NewRawFloatColumn(offset, values), nil
	}

	codebookPath := path + ".codebook"
	codebookBytes, err := os.ReadFile(codebookPath)
	if err != nil {
		return nil, &StorageError{Path: codebookPath, Err: err}
	}
	var codebook Codebook
	if err := gob.NewDecoder(bytes.NewReader(codebookBytes)).Decode(&codebook); err != nil {
		return nil, &ModelIntegrityError{Path: codebookPath, Reason: err.Error()}
	}
	return NewQuantizedFloatColumn(offset, f.Bytes(), &codebook), nil
}

// resolveFloat picks the column value at pos for the given shard, routing
// anything below the shard's stored offset to shard 0's copy (spec §4.3
// "a subtle contract: positions below offset are served from shard 0's
// copy, never the local file"). Each shard's TrieBuilder packs its own
// depth-1 (unigram-ancestor) nodes densely from position 1, independently
// of every other shard, so a shard k>0 position below the offset does NOT
// generally name the same word as that position on shard 0 (the two
// shards' depth-1 ranges enumerate different, unrelated subsets of the
// vocabulary). The redirect must therefore go by word id, not by raw
// position: look up the id the local shard's trie has on that edge, then
// re-resolve it against shard 0's own root.
func (m *Model) resolveFloat(pick func(*Shard) FloatColumn, shardIdx int, pos Pos, order int) Weight {
	shard := m.Shards[shardIdx]
	col := pick(shard)
	if pos < col.Offset() && shardIdx != 0 {
		id := shard.Trie.IDs[pos]
		shard0 := m.Shards[0]
		pos0 := shard0.Trie.Next(0, id)
		if pos0 == NonePos {
			return LogProbMin
		}
		return pick(shard0).Value(pos0, order)
	}
	return col.Value(pos, order)
}

// LogProb returns the log-probability column value at (shard, pos).
func (m *Model) LogProb(shardIdx int, pos Pos, order int) Weight {
	return m.resolveFloat(func(s *Shard) FloatColumn { return s.LogProb }, shardIdx, pos, order)
}

// Backoff returns the back-off weight column value at (shard, pos).
func (m *Model) Backoff(shardIdx int, pos Pos, order int) Weight {
	return m.resolveFloat(func(s *Shard) FloatColumn { return s.Backoff }, shardIdx, pos, order)
}

// LogBound returns the upper-bound log-probability column value at
// (shard, pos). The top order's logbound is always treated as the
// "absent" sentinel (spec §9's open-question decision, recorded in
// DESIGN.md).
func (m *Model) LogBound(shardIdx int, pos Pos, order int) Weight {
	if order >= m.Manifest.Order {
		return LogProbMin
	}
	return m.resolveFloat(func(s *Shard) FloatColumn { return s.LogBound }, shardIdx, pos, order)
}

// WriteShardIndex atomically installs a shard's trie (positions, ids,
// offsets, meta) under dir/index.<idx>/ (spec §6). Pipelines call this
// once they've rebuilt a shard's trie in memory.
func WriteShardIndex(dir string, idx int, t *Trie) error {
	idxDir := filepath.Join(dir, fmt.Sprintf("index.%d", idx))
	if err := os.MkdirAll(idxDir, 0o755); err != nil {
		return &StorageError{Path: idxDir, Err: err}
	}

	if err := writeAtomic(filepath.Join(idxDir, "positions"), bytesOf(t.Positions.words)); err != nil {
		return err
	}
	if err := writeAtomic(filepath.Join(idxDir, "ids"), bytesOf(t.IDs)); err != nil {
		return err
	}
	if err := writeAtomic(filepath.Join(idxDir, "offsets"), bytesOf(t.Offsets)); err != nil {
		return err
	}

	meta := shardMeta{Backward: t.Backward, Order: t.Order, NBits: t.Positions.Len()}
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(meta); err != nil {
		return &StorageError{Path: idxDir, Err: err}
	}
	return writeAtomic(filepath.Join(idxDir, "meta"), buf.Bytes())
}

// WriteFloatColumn atomically installs a raw float column.
func WriteFloatColumn(path string, values []Weight) error {
	return writeAtomic(path, bytesOf(values))
}

// WriteQuantizedColumn atomically installs a byte column and its codebook.
func WriteQuantizedColumn(path string, codes []byte, codebook *Codebook) error {
	if err := writeAtomic(path, codes); err != nil {
		return err
	}
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(codebook); err != nil {
		return &StorageError{Path: path + ".codebook", Err: err}
	}
	return writeAtomic(path+".codebook", buf.Bytes())
}

// WriteCountColumn atomically installs a packed 64-bit count column.
func WriteCountColumn(path string, values []uint64) error {
	return writeAtomic(path, bytesOf(values))
}
