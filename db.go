package ordkv

import (
	"sync"
	"sync/atomic"

	"github.com/ordkv/ordkv/internal/fastmap"
)

// DB is a single open store file (§4.9). It is safe for concurrent use
// by multiple readers and one writer at a time.
type DB struct {
	pf      *pagedFile
	ps      *pageStore
	options Options

	pageSize int

	// storageLock guards the mapped storage itself: readers hold it
	// shared for their whole lifetime; a writer holds it shared while
	// preparing and upgrades to exclusive only to flush and publish a
	// commit (§5).
	storageLock sync.RWMutex

	// writerMu serializes writers; only one BeginWriter may be
	// outstanding at a time.
	writerMu sync.Mutex

	meta atomic.Pointer[metaPage]

	// pool is shared across successive write transactions (§4.11);
	// writerMu already serializes access to it.
	pool *memPool
}

// Open opens path, creating it if it does not exist (§4.9).
func Open(path string, opts Options) (*DB, error) {
	pageSize := opts.pageSize()
	if pageSize < MinPageSize {
		return nil, newError(KindInputInvalid, "page size below MinPageSize")
	}
	if pageSize < MinPageSizeForMerge {
		return nil, newError(KindInputInvalid, "page size below MinPageSizeForMerge")
	}

	pf, created, err := openPagedFile(path, pageSize)
	if err != nil {
		return nil, err
	}

	db := &DB{pf: pf, options: opts}

	if created {
		db.pageSize = pageSize
		db.pool = newMemPool(opts.mempoolCapacity(), pageSize)
		db.ps = newPageStore(pf, pageSize)
		if err := db.ps.ensurePages(firstFreePage + 1); err != nil {
			pf.close()
			return nil, err
		}

		initLeafNode(db.ps.page(rootPageID))

		freelistBuf := db.ps.page(freelistPageID)
		empty := newFreeBitmap()
		payload := empty.serialize()
		putUint32(freelistBuf[0:4], uint32(len(payload)))
		putPageId(freelistBuf[4:8], 0)
		copy(freelistBuf[overflowHeaderSize:], payload)

		initial := newInitialMeta(uint32(pageSize))
		initial.encode(db.ps.page(metaPageID))
		db.meta.Store(&initial)

		if opts.ForceSync {
			if err := pf.sync(); err != nil {
				pf.close()
				return nil, err
			}
		}
		db.options.logDebug("created new store")
		return db, nil
	}

	rawMeta, err := decodeMeta(pf.data()[:metaSize])
	if err != nil {
		pf.close()
		return nil, err
	}
	if err := rawMeta.validate(); err != nil {
		db.options.logWarn("meta page failed validation on open", err)
		pf.close()
		return nil, err
	}

	db.pageSize = int(rawMeta.pageSize)
	db.pool = newMemPool(opts.mempoolCapacity(), db.pageSize)
	db.ps = newPageStore(pf, db.pageSize)
	if err := db.ps.ensurePages(rawMeta.next); err != nil {
		pf.close()
		return nil, err
	}
	db.meta.Store(&rawMeta)
	db.options.logDebug("opened existing store")
	return db, nil
}

func (db *DB) currentMeta() metaPage { return *db.meta.Load() }
func (db *DB) setMeta(m metaPage)    { db.meta.Store(&m) }

// BeginReader starts a snapshot read transaction pinned to the root
// current at this call.
func (db *DB) BeginReader() (*Reader, error) {
	db.storageLock.RLock()
	return &Reader{db: db, rootID: db.currentMeta().root}, nil
}

// BeginWriter starts a copy-on-write write transaction. Only one
// writer may be outstanding at a time.
func (db *DB) BeginWriter() (*Writer, error) {
	db.writerMu.Lock()
	db.storageLock.RLock()

	meta := db.currentMeta()
	freelistBytes, err := readOverflowChain(meta.freelist, db.ps.page)
	if err != nil {
		db.storageLock.RUnlock()
		db.writerMu.Unlock()
		return nil, err
	}

	w := &Writer{
		db:           db,
		rootID:       meta.root,
		nextID:       meta.next,
		freelistHead: meta.freelist,
		freelist:     deserializeFreeBitmap(freelistBytes),
		dirty:        &fastmap.Uint32Map{},
		pool:         db.pool,
		sharedHeld:   true,
	}
	return w, nil
}

// Contains reports whether key is present.
func (db *DB) Contains(key []byte) (bool, error) {
	r, err := db.BeginReader()
	if err != nil {
		return false, err
	}
	defer r.Close()
	return r.Contains(key)
}

// Get returns the value stored for key, if any.
func (db *DB) Get(key []byte) ([]byte, bool, error) {
	r, err := db.BeginReader()
	if err != nil {
		return nil, false, err
	}
	defer r.Close()
	return r.Get(key)
}

// Put inserts or overwrites key with value in its own transaction.
func (db *DB) Put(key, value []byte) error {
	w, err := db.BeginWriter()
	if err != nil {
		return err
	}
	if err := w.Put(key, value); err != nil {
		w.Close()
		return err
	}
	return w.Commit()
}

// Delete removes key, if present, in its own transaction.
func (db *DB) Delete(key []byte) error {
	w, err := db.BeginWriter()
	if err != nil {
		return err
	}
	if err := w.Delete(key); err != nil {
		w.Close()
		return err
	}
	return w.Commit()
}

// FirstCursor opens a reader pinned for the cursor's lifetime and
// positions it at the smallest key.
func (db *DB) FirstCursor() (*Cursor, error) {
	r, err := db.BeginReader()
	if err != nil {
		return nil, err
	}
	c, err := newCursor(r).first()
	if err != nil {
		r.Close()
		return nil, err
	}
	c.owned = r
	return c, nil
}

// LastCursor opens a reader pinned for the cursor's lifetime and
// positions it at the largest key.
func (db *DB) LastCursor() (*Cursor, error) {
	r, err := db.BeginReader()
	if err != nil {
		return nil, err
	}
	c, err := newCursor(r).last()
	if err != nil {
		r.Close()
		return nil, err
	}
	c.owned = r
	return c, nil
}

// CursorFrom opens a reader pinned for the cursor's lifetime and
// positions it at the smallest key >= key.
func (db *DB) CursorFrom(key []byte) (*Cursor, error) {
	r, err := db.BeginReader()
	if err != nil {
		return nil, err
	}
	c, err := newCursor(r).seekFrom(key)
	if err != nil {
		r.Close()
		return nil, err
	}
	c.owned = r
	return c, nil
}

// Stat reports basic introspection counters for the current snapshot,
// in the spirit of a tree's depth/key-count stats.
type Stat struct {
	PageSize  int
	KeyCount  int
	NextPage  PageId
	RootPage  PageId
	TreeDepth int
}

// Stat walks the current snapshot and reports summary counters.
func (db *DB) Stat() (Stat, error) {
	r, err := db.BeginReader()
	if err != nil {
		return Stat{}, err
	}
	defer r.Close()

	meta := db.currentMeta()
	s := Stat{PageSize: db.pageSize, NextPage: meta.next, RootPage: meta.root}

	id := meta.root
	for {
		n := newNode(r.read(id))
		s.TreeDepth++
		if n.isLeaf() {
			break
		}
		id = n.branchChild(0)
	}

	count, err := countKeys(r, meta.root)
	if err != nil {
		return Stat{}, err
	}
	s.KeyCount = count
	return s, nil
}

func countKeys(r *Reader, id PageId) (int, error) {
	n := newNode(r.read(id))
	if n.isLeaf() {
		return n.count(), nil
	}
	total := 0
	for i := 0; i < n.count(); i++ {
		c, err := countKeys(r, n.branchChild(i))
		if err != nil {
			return 0, err
		}
		total += c
	}
	return total, nil
}

// Close closes the underlying file. It does not wait for outstanding
// transactions to finish; callers must close those first.
func (db *DB) Close() error {
	return db.pf.close()
}
