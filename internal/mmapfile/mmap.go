// Package mmapfile provides a memory-mapped view over a single growable
// file, used as the substrate for the paged storage engine.
package mmapfile

// Map is a memory-mapped region backed by an open file descriptor.
type Map struct {
	data     []byte
	fd       int
	size     int64
	writable bool
}

// Data returns the mapped byte slice.
func (m *Map) Data() []byte {
	return m.data
}

// Size returns the current mapped length in bytes.
func (m *Map) Size() int64 {
	return m.size
}

// Error wraps a failure from an mmap-family syscall.
type Error struct {
	Op  string
	Err error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return "mmapfile: " + e.Op + ": " + e.Err.Error()
	}
	return "mmapfile: " + e.Op
}

func (e *Error) Unwrap() error {
	return e.Err
}

var (
	ErrInvalidSize = &Error{Op: "invalid size"}
	ErrNotMapped   = &Error{Op: "not mapped"}
)
