//go:build unix && !linux

package mmapfile

import "errors"

// tryMremap has no portable equivalent outside Linux; callers fall back
// to unmap-then-remap.
func (m *Map) tryMremap(newSize int) ([]byte, error) {
	return nil, errors.New("mremap unsupported on this platform")
}
