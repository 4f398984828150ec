package ingestion

import (
	"fmt"
	"io"
	"os"
	"reflect"
)

// FileInfo is the part of a stat result the tailer relies on.
type FileInfo struct {
	Size int64
	Ino  uint64 // inode on Unix, file index on Windows, 0 when unknown
}

// Stat returns the size and identity of the file at path.
func Stat(path string) (FileInfo, error) {
	info, err := os.Stat(path)
	if err != nil {
		return FileInfo{}, err
	}
	return FileInfo{Size: info.Size(), Ino: fileInode(info)}, nil
}

// ReadRange reads the half-open byte range [start, end) of a file. Fewer
// bytes are returned when the file is shorter than end.
func ReadRange(path string, start, end int64) ([]byte, error) {
	if end <= start {
		return nil, nil
	}

	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	buf := make([]byte, end-start)
	n, err := file.ReadAt(buf, start)
	if err != nil && err != io.EOF {
		return nil, fmt.Errorf("failed to read %s at %d: %w", path, start, err)
	}
	return buf[:n], nil
}

// fileInode returns a stable identifier for the file using reflection to access system-specific inode
// This works across platforms (Linux, macOS, Windows) without build tags
func fileInode(info os.FileInfo) uint64 {
	sys := info.Sys()
	if sys == nil {
		return 0
	}

	v := reflect.ValueOf(sys)
	if v.Kind() == reflect.Ptr {
		v = v.Elem()
	}
	if v.Kind() != reflect.Struct {
		return 0
	}

	// Unix/Linux/macOS
	if ino := v.FieldByName("Ino"); ino.IsValid() && ino.CanUint() {
		return ino.Uint()
	}

	// Windows exposes the file index in two halves
	if high := v.FieldByName("FileIndexHigh"); high.IsValid() && high.CanUint() {
		low := uint64(0)
		if f := v.FieldByName("FileIndexLow"); f.IsValid() && f.CanUint() {
			low = f.Uint()
		}
		return high.Uint()<<32 | low
	}

	// Without an inode, rotation is only detected by truncation
	return 0
}
