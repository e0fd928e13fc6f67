package expgram

import (
	"os"
	"unsafe"

	"github.com/edsrzf/mmap-go"
)

// MappedFile is a read-only memory-mapped file backing one shard column or
// trie array (spec §4.2 "memory-mapped", §9 "pointer-heavy node structures
// ... replaced by (shard, position) pairs into columnar arrays"). The
// kernel pages the backing file in on demand; Go never copies it onto the
// heap.
type MappedFile struct {
	file *os.File
	data mmap.MMap
}

// OpenMapped memory-maps path read-only. The caller must Close it when the
// shard is unloaded (swapped for a newer generation, or the process exits).
func OpenMapped(path string) (*MappedFile, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, &StorageError{Path: path, Err: err}
	}
	data, err := mmap.Map(f, mmap.RDONLY, 0)
	if err != nil {
		f.Close()
		return nil, &StorageError{Path: path, Err: err}
	}
	return &MappedFile{file: f, data: data}, nil
}

// Bytes returns the raw mapped region.
func (m *MappedFile) Bytes() []byte { return m.data }

// Close unmaps the file and closes the descriptor.
func (m *MappedFile) Close() error {
	if err := m.data.Unmap(); err != nil {
		return &StorageError{Path: m.file.Name(), Err: err}
	}
	return m.file.Close()
}

// reinterpret reinterprets b, a byte slice over a memory-mapped region, as
// a []T without copying (the same unsafe-slice-over-mmap technique used
// throughout the pack's mmap-backed readers). It returns a
// ModelIntegrityError rather than panicking when b's length isn't a whole
// number of elements, since a truncated file is an on-disk corruption, not
// a programming bug.
func reinterpret[T any](path string, b []byte) ([]T, error) {
	var zero T
	size := int(unsafe.Sizeof(zero))
	if size == 0 || len(b)%size != 0 {
		return nil, &ModelIntegrityError{Path: path, Reason: "column length is not a whole number of elements"}
	}
	if len(b) == 0 {
		return nil, nil
	}
	return unsafe.Slice((*T)(unsafe.Pointer(&b[0])), len(b)/size), nil
}

// Uint32Column reinterprets a mapped byte slice as an offset column
// (spec §4.2 "offsets table").
func Uint32Column(path string, b []byte) ([]uint32, error) { return reinterpret[uint32](path, b) }

// WordIDColumn reinterprets a mapped byte slice as a trie id column
// (spec §4.2 "packed id column").
func WordIDColumn(path string, b []byte) ([]WordID, error) { return reinterpret[WordID](path, b) }

// Uint64Column reinterprets a mapped byte slice as a count column
// (spec §6 "count.<shard>, modified.<shard> ... packed 64-bit integer
// columns").
func Uint64Column(path string, b []byte) ([]uint64, error) { return reinterpret[uint64](path, b) }

// WeightColumn reinterprets a mapped byte slice as a raw float column
// (spec §4.3 "Floats use IEEE-754 single precision").
func WeightColumn(path string, b []byte) ([]Weight, error) { return reinterpret[Weight](path, b) }
