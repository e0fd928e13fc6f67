package expgram

import (
	"os"
	"path/filepath"
	"unsafe"
)

// TempDir returns the directory pipelines should stage scratch files in
// (spec §6 "Environment: TMPDIR_SPEC overrides the temporary
// directory"), falling back to the process default when unset.
func TempDir() string {
	if dir := os.Getenv("TMPDIR_SPEC"); dir != "" {
		return dir
	}
	return os.TempDir()
}

// writeAtomic writes data to path via write-temp/fsync/rename, the same
// sequence vocab.go and manifest.go use for their own files and that the
// pipelines rely on for "Finalize" (spec §4.5 "writes the new column to a
// temporary file, fsyncs, opens it memory-mapped, and atomically swaps the
// in-memory handle").
func writeAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return &StorageError{Path: path, Err: err}
	}
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return &StorageError{Path: path, Err: err}
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
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

// bytesOf reinterprets a typed slice as its backing bytes, the write-side
// mirror of reinterpret in mmapfile.go.
func bytesOf[T any](s []T) []byte {
	if len(s) == 0 {
		return nil
	}
	var zero T
	size := int(unsafe.Sizeof(zero))
	return unsafe.Slice((*byte)(unsafe.Pointer(&s[0])), len(s)*size)
}
