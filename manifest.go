package expgram

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
)

// quantizableColumns are the columns that may be stored as a byte column
// plus codebook instead of raw floats (spec §6 manifest keys
// "quantized-{logprob,backoff,logbound}").
var quantizableColumns = []string{"logprob", "backoff", "logbound"}

// Manifest is the model-level key-value metadata written alongside a
// model's shard directories (spec §6 "manifest — key-value: order,
// shard-count, backward, quantized-{...}, smooth").
type Manifest struct {
	Order      int
	ShardCount int
	Backward   bool
	Quantized  map[string]bool // column name -> quantized
	Smooth     string          // e.g. "kneser-ney", "katz"
}

// NewManifest returns a manifest with no columns quantized.
func NewManifest(order, shardCount int, backward bool, smooth string) *Manifest {
	return &Manifest{
		Order:      order,
		ShardCount: shardCount,
		Backward:   backward,
		Quantized:  make(map[string]bool),
		Smooth:     smooth,
	}
}

// IsQuantized reports whether column is stored as a byte column.
func (m *Manifest) IsQuantized(column string) bool { return m.Quantized[column] }

// WriteManifest serializes m as sorted "key value" lines and installs it
// atomically (write-temp, fsync, rename — the same sequence vocab.go uses
// for the word list, spec §4.5 "Finalize").
func WriteManifest(path string, m *Manifest) error {
	lines := []string{
		fmt.Sprintf("order %d", m.Order),
		fmt.Sprintf("shard-count %d", m.ShardCount),
		fmt.Sprintf("backward %t", m.Backward),
		fmt.Sprintf("smooth %s", m.Smooth),
	}
	for _, col := range quantizableColumns {
		lines = append(lines, fmt.Sprintf("quantized-%s %t", col, m.Quantized[col]))
	}

	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".manifest-*.tmp")
	if err != nil {
		return &StorageError{Path: path, Err: err}
	}
	tmpPath := tmp.Name()
	w := bufio.NewWriter(tmp)
	for _, line := range lines {
		if _, err := fmt.Fprintln(w, line); err != nil {
			tmp.Close()
			os.Remove(tmpPath)
			return &StorageError{Path: path, Err: err}
		}
	}
	if err := w.Flush(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return &StorageError{Path: path, Err: err}
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return &StorageError{Path: path, Err: err}
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return &StorageError{Path: path, Err: err}
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return &StorageError{Path: path, Err: err}
	}
	return nil
}

// LoadManifest parses a manifest previously written by WriteManifest.
func LoadManifest(path string) (*Manifest, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, &StorageError{Path: path, Err: err}
	}
	defer f.Close()

	m := NewManifest(0, 0, false, "")
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		key, value, ok := strings.Cut(line, " ")
		if !ok && key != "smooth" {
			// An empty smooth value is written as "smooth " and trimmed
			// to the bare key above.
			return nil, &ParseError{Line: line, Err: fmt.Errorf("manifest: expected \"key value\"")}
		}
		switch {
		case key == "order":
			n, err := strconv.Atoi(value)
			if err != nil {
				return nil, &ParseError{Line: line, Err: err}
			}
			m.Order = n
		case key == "shard-count":
			n, err := strconv.Atoi(value)
			if err != nil {
				return nil, &ParseError{Line: line, Err: err}
			}
			m.ShardCount = n
		case key == "backward":
			b, err := strconv.ParseBool(value)
			if err != nil {
				return nil, &ParseError{Line: line, Err: err}
			}
			m.Backward = b
		case key == "smooth":
			m.Smooth = value
		case strings.HasPrefix(key, "quantized-"):
			b, err := strconv.ParseBool(value)
			if err != nil {
				return nil, &ParseError{Line: line, Err: err}
			}
			m.Quantized[strings.TrimPrefix(key, "quantized-")] = b
		default:
			return nil, &ParseError{Line: line, Err: fmt.Errorf("manifest: unknown key %q", key)}
		}
	}
	if err := sc.Err(); err != nil {
		return nil, &StorageError{Path: path, Err: err}
	}
	if m.Order <= 0 {
		return nil, &ModelIntegrityError{Path: path, Reason: "missing or non-positive order"}
	}
	if m.ShardCount <= 0 {
		return nil, &ModelIntegrityError{Path: path, Reason: "missing or non-positive shard-count"}
	}
	return m, nil
}

// QuantizedColumnNames returns the manifest's quantized column names in a
// stable order, for the dump/diff CLIs.
func (m *Manifest) QuantizedColumnNames() []string {
	names := make([]string, 0, len(m.Quantized))
	for k, v := range m.Quantized {
		if v {
			names = append(names, k)
		}
	}
	sort.Strings(names)
	return names
}
