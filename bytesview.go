package ordkv

import (
	"encoding/binary"
	"unsafe"
)

// PageId is a 32-bit page identifier, serialized little-endian wherever
// it appears inline in a record.
type PageId uint32

// putUint32 and getUint32 centralize the little-endian encoding used
// throughout the on-disk formats, so the byte order is fixed in one
// place.
func putUint32(b []byte, v uint32) { binary.LittleEndian.PutUint32(b, v) }
func getUint32(b []byte) uint32    { return binary.LittleEndian.Uint32(b) }

func putPageId(b []byte, id PageId) { putUint32(b, uint32(id)) }
func getPageId(b []byte) PageId     { return PageId(getUint32(b)) }

// asRecord reinterprets the first sizeof(T) bytes of b as *T. It is the
// only place in the package that casts raw page bytes to a record, and it
// rejects both a too-short region and a misaligned one (§4.2) rather
// than trusting the caller.
func asRecord[T any](b []byte) (*T, error) {
	var zero T
	size := int(unsafe.Sizeof(zero))
	if len(b) < size {
		return nil, newError(KindCorrupted, "byte region too short for record")
	}
	if uintptr(unsafe.Pointer(&b[0]))%unsafe.Alignof(zero) != 0 {
		return nil, newError(KindCorrupted, "byte region misaligned for record")
	}
	return (*T)(unsafe.Pointer(&b[0])), nil
}

// splitRecord reinterprets the prefix of b as *T and returns the
// remaining bytes after it.
func splitRecord[T any](b []byte) (*T, []byte, error) {
	var zero T
	size := int(unsafe.Sizeof(zero))
	rec, err := asRecord[T](b)
	if err != nil {
		return nil, nil, err
	}
	return rec, b[size:], nil
}
