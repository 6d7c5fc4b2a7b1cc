package ordkv

import (
	"unsafe"

	"github.com/ordkv/ordkv/internal/fastmap"
)

// dirtyEntry is what a write transaction's dirty-page map points at: a
// pool-allocated buffer for a page this transaction owns, or a
// tombstone marking a clean on-disk page to be freed at commit.
type dirtyEntry struct {
	buf       []byte
	tombstone bool
}

// Reader is a snapshot read transaction (§4.10, §5): it pins the root
// page id current at construction and never observes a concurrent
// writer's uncommitted pages.
type Reader struct {
	db     *DB
	rootID PageId
	closed bool
}

func (r *Reader) pageSize() int          { return r.db.pageSize }
func (r *Reader) read(id PageId) []byte  { return r.db.ps.page(id) }
func (r *Reader) root() PageId           { return r.rootID }

// Contains reports whether key is present.
func (r *Reader) Contains(key []byte) (bool, error) {
	return btreeContains(r, key)
}

// Get returns the value stored for key, if any.
func (r *Reader) Get(key []byte) ([]byte, bool, error) {
	return btreeGet(r, key)
}

// FirstCursor positions a cursor at the smallest key.
func (r *Reader) FirstCursor() (*Cursor, error) { return newCursor(r).first() }

// LastCursor positions a cursor at the largest key.
func (r *Reader) LastCursor() (*Cursor, error) { return newCursor(r).last() }

// CursorFrom positions a cursor at the smallest key >= key.
func (r *Reader) CursorFrom(key []byte) (*Cursor, error) { return newCursor(r).seekFrom(key) }

// Close releases the reader's shared hold on the storage lock.
func (r *Reader) Close() error {
	if r.closed {
		return nil
	}
	r.closed = true
	r.db.storageLock.RUnlock()
	return nil
}

// Writer is a copy-on-write transaction (§4.10): every page it touches
// is shadowed into a pool-allocated buffer before modification, and
// nothing reaches the file until Commit runs the shadow-paging
// protocol.
type Writer struct {
	db           *DB
	rootID       PageId
	nextID       PageId
	freelistHead PageId // snapshot value; becomes the new head at commit
	freelist     *freeBitmap
	dirty        *fastmap.Uint32Map
	pool         *memPool

	poisoned        bool
	committed       bool
	closed          bool
	sharedHeld      bool
}

func (w *Writer) pageSize() int { return w.db.pageSize }

func (w *Writer) read(id PageId) []byte {
	if ptr := w.dirty.Get(uint32(id)); ptr != nil {
		e := (*dirtyEntry)(ptr)
		if !e.tombstone {
			return e.buf
		}
	}
	return w.db.ps.page(id)
}

func (w *Writer) root() PageId      { return w.rootID }
func (w *Writer) setRoot(id PageId) { w.rootID = id }

// allocID returns a reusable page id from the freelist, or extends the
// next-page cursor.
func (w *Writer) allocID() PageId {
	if id, ok := w.freelist.take1(); ok {
		return id
	}
	id := w.nextID
	w.nextID++
	return id
}

// alloc obtains a zeroed page-sized buffer and a fresh page id for it.
func (w *Writer) alloc() (PageId, []byte) {
	buf := w.pool.obtain()
	id := w.allocID()
	w.dirty.Set(uint32(id), unsafe.Pointer(&dirtyEntry{buf: buf}))
	return id, buf
}

// free marks id as no longer owned by the tree (§4.10 Context.delete):
// an id this transaction itself allocated is simply un-allocated and
// returned to the in-memory freelist; a clean on-disk id is tombstoned
// so it is only freed once this transaction commits.
func (w *Writer) free(id PageId) {
	if ptr := w.dirty.Get(uint32(id)); ptr != nil {
		e := (*dirtyEntry)(ptr)
		if !e.tombstone {
			w.dirty.Delete(uint32(id))
			w.freelist.free(id, 1)
			w.pool.release(e.buf)
			return
		}
	}
	w.dirty.Set(uint32(id), unsafe.Pointer(&dirtyEntry{tombstone: true}))
}

// shadow returns a mutable copy of page id, allocating a new id for it
// if it isn't already a dirty-allocated buffer owned by this
// transaction. The caller must rewrite whatever parent pointer held id
// to the returned id, whether or not it changed.
func (w *Writer) shadow(id PageId) (PageId, []byte) {
	if ptr := w.dirty.Get(uint32(id)); ptr != nil {
		e := (*dirtyEntry)(ptr)
		if !e.tombstone {
			return id, e.buf
		}
	}
	clean := w.db.ps.page(id)
	newID, newBuf := w.alloc()
	copy(newBuf, clean)
	w.free(id)
	return newID, newBuf
}

// Contains reports whether key is present, reflecting this
// transaction's own uncommitted writes.
func (w *Writer) Contains(key []byte) (bool, error) {
	if w.poisoned {
		return false, newError(KindCorrupted, "writer is poisoned by a previous error")
	}
	return btreeContains(w, key)
}

// Get returns the value for key, reflecting this transaction's own
// uncommitted writes.
func (w *Writer) Get(key []byte) ([]byte, bool, error) {
	if w.poisoned {
		return nil, false, newError(KindCorrupted, "writer is poisoned by a previous error")
	}
	return btreeGet(w, key)
}

// Put inserts or overwrites key with value.
func (w *Writer) Put(key, value []byte) error {
	if w.poisoned {
		return newError(KindCorrupted, "writer is poisoned by a previous error")
	}
	if len(key) > MaxKeyLen {
		return newError(KindInputInvalid, "key exceeds maximum length")
	}
	if len(value) > MaxValueLen {
		return newError(KindInputInvalid, "value exceeds maximum length")
	}
	if err := btreePut(w, key, value); err != nil {
		w.poisoned = true
		return err
	}
	return nil
}

// Delete removes key, if present; deleting an absent key is a no-op.
func (w *Writer) Delete(key []byte) error {
	if w.poisoned {
		return newError(KindCorrupted, "writer is poisoned by a previous error")
	}
	if err := btreeDelete(w, key); err != nil {
		w.poisoned = true
		return err
	}
	return nil
}

// Commit runs the shadow-paging commit protocol (§4.10 steps 1-11). A
// transaction with no dirty pages commits as a no-op.
func (w *Writer) Commit() error {
	if w.closed {
		return newError(KindCorrupted, "writer already closed")
	}
	if w.poisoned {
		w.rollbackLocked()
		return newError(KindCorrupted, "cannot commit a poisoned writer")
	}
	defer w.finish()

	if w.dirty.Len() == 0 {
		return nil
	}

	// Step 1: upper bound on the new freelist's serialized length.
	freelistLen := len(w.freelist.serialize())
	if b := bytesLenForStoringPage(w.nextID - 1); b > freelistLen {
		freelistLen = b
	}

	// Step 2: reserve pages for the new freelist chain.
	numPages := overflowChunkCount(freelistLen, w.pageSize())
	type reservedPage struct {
		id  PageId
		buf []byte
	}
	reserved := make([]reservedPage, numPages)
	for i := range reserved {
		id, buf := w.alloc()
		reserved[i] = reservedPage{id: id, buf: buf}
	}

	// Step 3: tombstone the old freelist chain's pages.
	deleteOverflowChain(w.freelistHead, w.read, w.free)

	// Step 4: point the context at the new chain.
	w.freelistHead = reserved[0].id

	// Step 5: upgrade to an exclusive storage lock.
	w.db.storageLock.RUnlock()
	w.sharedHeld = false
	w.db.storageLock.Lock()
	defer w.db.storageLock.Unlock()

	// Step 6: grow the backing file if needed.
	if err := w.db.ps.ensurePages(w.nextID); err != nil {
		return err
	}

	// Step 7: flush dirty buffers, collecting newly freed ids.
	w.dirty.ForEach(func(id uint32, ptr unsafe.Pointer) {
		e := (*dirtyEntry)(ptr)
		if e.tombstone {
			w.freelist.free(PageId(id), 1)
			return
		}
		copy(w.db.ps.page(PageId(id)), e.buf)
	})

	// Step 8: pad the freelist out to the length reserved in step 1 (its
	// actual bitmap may have grown fewer words than that upper bound),
	// then serialize and write the chain into the reserved pages.
	w.freelist.resize(freelistLen)
	payload := w.freelist.serialize()
	payloadCap := w.pageSize() - overflowHeaderSize
	offset := 0
	for i, rp := range reserved {
		remaining := len(payload) - offset
		if i < len(reserved)-1 {
			putUint32(rp.buf[0:4], overflowFull)
			putPageId(rp.buf[4:8], reserved[i+1].id)
			copy(rp.buf[overflowHeaderSize:], payload[offset:offset+payloadCap])
			offset += payloadCap
		} else {
			putUint32(rp.buf[0:4], uint32(remaining))
			copy(rp.buf[overflowHeaderSize:], payload[offset:offset+remaining])
		}
		copy(w.db.ps.page(rp.id), rp.buf)
	}

	// Step 9: optional pre-meta sync.
	if w.db.options.ForceSync {
		if err := w.db.pf.sync(); err != nil {
			return err
		}
	}

	// Step 10: install the new meta page.
	newMeta := metaPage{
		magic:    Magic,
		version:  DataVersion,
		pageSize: uint32(w.pageSize()),
		root:     w.rootID,
		freelist: w.freelistHead,
		next:     w.nextID,
	}
	newMeta.checksum = newMeta.computeChecksum()
	newMeta.encode(w.db.ps.page(metaPageID))

	// Step 11: optional post-meta sync.
	if w.db.options.ForceSync {
		if err := w.db.pf.sync(); err != nil {
			return err
		}
	}

	w.db.setMeta(newMeta)
	w.committed = true
	w.db.options.logDebug("commit completed")
	return nil
}

// Close aborts the transaction if it was never committed, discarding
// every shadow buffer; the file is left exactly as it was.
func (w *Writer) Close() error {
	if w.closed {
		return nil
	}
	if !w.committed {
		w.rollbackLocked()
	}
	w.finish()
	return nil
}

func (w *Writer) rollbackLocked() {
	// Nothing was written to the file; dropping the dirty map and
	// releasing the pool references is enough.
}

func (w *Writer) finish() {
	if w.closed {
		return
	}
	w.closed = true
	w.dirty.ForEach(func(id uint32, ptr unsafe.Pointer) {
		e := (*dirtyEntry)(ptr)
		if !e.tombstone {
			w.pool.release(e.buf)
		}
	})
	if w.sharedHeld {
		w.db.storageLock.RUnlock()
	}
	w.db.writerMu.Unlock()
}
