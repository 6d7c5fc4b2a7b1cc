package ordkv

// pageStore addresses the mapped file as fixed-size pages by id (§4.3).
type pageStore struct {
	pf       *pagedFile
	pageSize int
}

func newPageStore(pf *pagedFile, pageSize int) *pageStore {
	return &pageStore{pf: pf, pageSize: pageSize}
}

// page returns the raw slice for id within the current mapping. The
// slice aliases the mmap'd region directly; callers on the read path
// must not mutate it, and callers on the write path must only mutate
// pages they have exclusive access to during commit.
func (ps *pageStore) page(id PageId) []byte {
	off := int64(id) * int64(ps.pageSize)
	return ps.pf.data()[off : off+int64(ps.pageSize)]
}

// ensurePages grows the backing file so that page ids up to (but not
// including) next are addressable.
func (ps *pageStore) ensurePages(next PageId) error {
	return ps.pf.allocate(int(next) * ps.pageSize)
}
