package ordkv

import (
	"os"
	"path/filepath"

	"github.com/ordkv/ordkv/internal/mmapfile"
)

// pagedFile is the memory-mapped file substrate (§4.1): it grows the
// backing file, maps a single contiguous window, and can flush that
// window to disk.
type pagedFile struct {
	f        *os.File
	m        *mmapfile.Map
	pageSize int
}

func openPagedFile(path string, pageSize int) (*pagedFile, bool, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, false, wrapError(KindIO, "create parent directory", err)
		}
	}

	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, false, wrapError(KindIO, "open file", err)
	}

	fi, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, false, wrapError(KindIO, "stat file", err)
	}

	created := fi.Size() == 0
	pf := &pagedFile{f: f, pageSize: pageSize}

	initialLen := fi.Size()
	if initialLen == 0 {
		initialLen = int64(pageSize)
	}
	if err := pf.allocate(int(initialLen)); err != nil {
		f.Close()
		return nil, false, err
	}

	return pf, created, nil
}

// allocate ensures the mapped window covers at least n bytes, growing
// the backing file and remapping as needed. Growth starts from the
// current length (or n if there is no mapping yet), doubling up to
// maxGrowthStep per step, aligned up to the page size and capped at
// MaxFileSize.
func (pf *pagedFile) allocate(n int) error {
	if pf.m != nil && int64(n) <= pf.m.Size() {
		return nil
	}

	cur := int64(0)
	if pf.m != nil {
		cur = pf.m.Size()
	}
	target := cur
	if target == 0 {
		target = int64(n)
	}
	for target < int64(n) {
		step := target
		if step > maxGrowthStep {
			step = maxGrowthStep
		}
		if step == 0 {
			step = int64(pf.pageSize)
		}
		target += step
	}

	ps := int64(pf.pageSize)
	target = ((target + ps - 1) / ps) * ps
	if target > MaxFileSize {
		target = MaxFileSize
	}
	if target < int64(n) {
		return newError(KindIO, "cannot grow file beyond MaxFileSize")
	}

	if err := pf.f.Truncate(target); err != nil {
		return wrapError(KindIO, "truncate file", err)
	}

	if pf.m == nil {
		m, err := mmapfile.New(int(pf.f.Fd()), int(target), true)
		if err != nil {
			return wrapError(KindIO, "map file", err)
		}
		pf.m = m
		return nil
	}

	if err := pf.m.Remap(target); err != nil {
		return wrapError(KindIO, "remap file", err)
	}
	return nil
}

func (pf *pagedFile) data() []byte {
	return pf.m.Data()
}

func (pf *pagedFile) sync() error {
	if err := pf.m.Sync(); err != nil {
		return wrapError(KindIO, "sync mapping", err)
	}
	return nil
}

func (pf *pagedFile) close() error {
	var firstErr error
	if pf.m != nil {
		if err := pf.m.Close(); err != nil && firstErr == nil {
			firstErr = wrapError(KindIO, "unmap file", err)
		}
	}
	if err := pf.f.Close(); err != nil && firstErr == nil {
		firstErr = wrapError(KindIO, "close file", err)
	}
	return firstErr
}
