package ordkv

import (
	"bytes"
	"errors"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"sort"
	"testing"
)

func tempDBPath(t *testing.T) string {
	t.Helper()
	dir, err := os.MkdirTemp("", "ordkv-test-*")
	if err != nil {
		t.Fatalf("MkdirTemp: %v", err)
	}
	t.Cleanup(func() { os.RemoveAll(dir) })
	return filepath.Join(dir, "data.ordkv")
}

func openTestDB(t *testing.T, opts Options) *DB {
	t.Helper()
	path := tempDBPath(t)
	db, err := Open(path, opts)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

// S1: put/put/get returns the last value written.
func TestOverwriteReturnsLastValue(t *testing.T) {
	db := openTestDB(t, Options{PageSize: 4096})

	if err := db.Put([]byte("foo"), []byte("bar")); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := db.Put([]byte("foo"), []byte("baz")); err != nil {
		t.Fatalf("Put: %v", err)
	}
	v, ok, err := db.Get([]byte("foo"))
	if err != nil || !ok {
		t.Fatalf("Get: %v, ok=%v", err, ok)
	}
	if !bytes.Equal(v, []byte("baz")) {
		t.Fatalf("got %q, want %q", v, "baz")
	}
}

// S2: insert a range, delete a prefix, check survivors.
func TestRangeInsertThenDelete(t *testing.T) {
	db := openTestDB(t, Options{PageSize: 4096})

	val := bytes.Repeat([]byte("x"), 64)
	for i := 1; i <= 500; i++ {
		key := []byte(fmt.Sprintf("%03d", i))
		if err := db.Put(key, val); err != nil {
			t.Fatalf("Put(%s): %v", key, err)
		}
	}
	for i := 1; i <= 200; i++ {
		key := []byte(fmt.Sprintf("%03d", i))
		if err := db.Delete(key); err != nil {
			t.Fatalf("Delete(%s): %v", key, err)
		}
	}

	ok, err := db.Contains([]byte("150"))
	if err != nil {
		t.Fatalf("Contains: %v", err)
	}
	if ok {
		t.Fatalf("expected 150 to be absent")
	}

	ok, err = db.Contains([]byte("250"))
	if err != nil || !ok {
		t.Fatalf("Contains(250): ok=%v err=%v", ok, err)
	}

	v, ok, err := db.Get([]byte("250"))
	if err != nil || !ok {
		t.Fatalf("Get(250): ok=%v err=%v", ok, err)
	}
	if len(v) != 64 {
		t.Fatalf("value length = %d, want 64", len(v))
	}
}

// S3: an overflow value round-trips across reopen.
func TestOverflowValueSurvivesReopen(t *testing.T) {
	path := tempDBPath(t)
	db, err := Open(path, Options{PageSize: 4096, ForceSync: true})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	value := make([]byte, 1<<20)
	if _, err := rand.New(rand.NewSource(1)).Read(value); err != nil {
		t.Fatalf("rand: %v", err)
	}
	if err := db.Put([]byte("k"), value); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := db.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	db2, err := Open(path, Options{PageSize: 4096})
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer db2.Close()

	got, ok, err := db2.Get([]byte("k"))
	if err != nil || !ok {
		t.Fatalf("Get after reopen: ok=%v err=%v", ok, err)
	}
	if !bytes.Equal(got, value) {
		t.Fatalf("value mismatch after reopen")
	}
}

// S5: a file with a bad header is rejected as FileUnexpected.
func TestOpenRejectsBadHeader(t *testing.T) {
	path := tempDBPath(t)
	if err := os.WriteFile(path, []byte("ABCD1234"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	_, err := Open(path, Options{PageSize: 4096})
	if err == nil {
		t.Fatal("expected an error opening a malformed file")
	}
	var oerr *Error
	if !errors.As(err, &oerr) {
		t.Fatalf("expected *Error, got %T", err)
	}
	if oerr.Kind != KindFileUnexpected {
		t.Fatalf("got kind %v, want KindFileUnexpected", oerr.Kind)
	}
}

// S6: oversized keys and values are rejected as InputInvalid.
func TestPutRejectsOversizedInput(t *testing.T) {
	db := openTestDB(t, Options{PageSize: 4096})

	bigKey := bytes.Repeat([]byte("k"), 256)
	err := db.Put(bigKey, []byte(""))
	assertInputInvalid(t, err)

	bigValue := make([]byte, MaxValueLen+1)
	err = db.Put([]byte("k"), bigValue)
	assertInputInvalid(t, err)
}

func assertInputInvalid(t *testing.T, err error) {
	t.Helper()
	if err == nil {
		t.Fatal("expected an error")
	}
	var oerr *Error
	if !errors.As(err, &oerr) {
		t.Fatalf("expected *Error, got %T", err)
	}
	if oerr.Kind != KindInputInvalid {
		t.Fatalf("got kind %v, want KindInputInvalid", oerr.Kind)
	}
}

// Idempotent delete: deleting twice leaves the store equivalent to
// deleting once.
func TestDeleteIsIdempotent(t *testing.T) {
	db := openTestDB(t, Options{PageSize: 4096})

	if err := db.Put([]byte("k"), []byte("v")); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := db.Delete([]byte("k")); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if err := db.Delete([]byte("k")); err != nil {
		t.Fatalf("second Delete: %v", err)
	}
	ok, err := db.Contains([]byte("k"))
	if err != nil {
		t.Fatalf("Contains: %v", err)
	}
	if ok {
		t.Fatal("key should be absent after delete")
	}
}

// Cursor enumeration: forward and backward traversal over random keys
// matches a sorted copy of what was inserted.
func TestCursorEnumerationMatchesSortedInsertion(t *testing.T) {
	db := openTestDB(t, Options{PageSize: 4096})

	rng := rand.New(rand.NewSource(42))
	keys := make([]string, 0, 500)
	seen := make(map[string]bool)
	for len(keys) < 500 {
		k := fmt.Sprintf("key-%06d", rng.Intn(1_000_000))
		if seen[k] {
			continue
		}
		seen[k] = true
		keys = append(keys, k)
		if err := db.Put([]byte(k), []byte(k)); err != nil {
			t.Fatalf("Put: %v", err)
		}
	}

	sorted := append([]string(nil), keys...)
	sort.Strings(sorted)

	c, err := db.FirstCursor()
	if err != nil {
		t.Fatalf("FirstCursor: %v", err)
	}
	defer c.Close()

	var forward []string
	if k, ok := c.Key(); ok {
		forward = append(forward, string(k))
	}
	for c.Next() {
		k, ok := c.Key()
		if !ok {
			t.Fatal("Next returned true but Key has nothing")
		}
		forward = append(forward, string(k))
	}
	if len(forward) != len(sorted) {
		t.Fatalf("forward enumeration length %d, want %d", len(forward), len(sorted))
	}
	for i := range sorted {
		if forward[i] != sorted[i] {
			t.Fatalf("forward[%d] = %q, want %q", i, forward[i], sorted[i])
		}
	}

	c2, err := db.LastCursor()
	if err != nil {
		t.Fatalf("LastCursor: %v", err)
	}
	defer c2.Close()

	var backward []string
	if k, ok := c2.Key(); ok {
		backward = append(backward, string(k))
	}
	for c2.Prev() {
		k, ok := c2.Key()
		if !ok {
			t.Fatal("Prev returned true but Key has nothing")
		}
		backward = append(backward, string(k))
	}
	if len(backward) != len(sorted) {
		t.Fatalf("backward enumeration length %d, want %d", len(backward), len(sorted))
	}
	for i := range sorted {
		if backward[i] != sorted[len(sorted)-1-i] {
			t.Fatalf("backward[%d] = %q, want %q", i, backward[i], sorted[len(sorted)-1-i])
		}
	}
}

// CursorFrom positions at the smallest key >= the search key, and
// continuing Next yields a strictly increasing sequence.
func TestCursorFromSeeksToLowerBound(t *testing.T) {
	db := openTestDB(t, Options{PageSize: 4096})

	for _, k := range []string{"b", "d", "f", "h"} {
		if err := db.Put([]byte(k), []byte(k)); err != nil {
			t.Fatalf("Put(%s): %v", k, err)
		}
	}

	c, err := db.CursorFrom([]byte("c"))
	if err != nil {
		t.Fatalf("CursorFrom: %v", err)
	}
	defer c.Close()

	k, ok := c.Key()
	if !ok || string(k) != "d" {
		t.Fatalf("CursorFrom(c) = %q, ok=%v, want d", k, ok)
	}

	var prev = string(k)
	for c.Next() {
		nk, _ := c.Key()
		if string(nk) <= prev {
			t.Fatalf("non-increasing sequence: %q after %q", nk, prev)
		}
		prev = string(nk)
	}
}

// Overflow round-trip at exact boundary sizes.
func TestOverflowBoundarySizes(t *testing.T) {
	const pageSize = 4096
	db := openTestDB(t, Options{PageSize: pageSize})

	sizes := []int{pageSize, pageSize + 1, 10 * pageSize, MaxValueLen}
	rng := rand.New(rand.NewSource(7))
	for _, size := range sizes {
		key := []byte(fmt.Sprintf("key-%d", size))
		value := make([]byte, size)
		rng.Read(value)
		if err := db.Put(key, value); err != nil {
			t.Fatalf("Put size %d: %v", size, err)
		}
		got, ok, err := db.Get(key)
		if err != nil || !ok {
			t.Fatalf("Get size %d: ok=%v err=%v", size, ok, err)
		}
		if !bytes.Equal(got, value) {
			t.Fatalf("size %d: value mismatch", size)
		}
	}
}

// Freelist conservation: after a random run of committed puts and
// deletes, every page id below next is accounted for by the tree, the
// freelist, or the freelist chain itself.
func TestFreelistConservation(t *testing.T) {
	db := openTestDB(t, Options{PageSize: 4096})

	rng := rand.New(rand.NewSource(99))
	for i := 0; i < 300; i++ {
		key := []byte(fmt.Sprintf("k-%04d", rng.Intn(200)))
		value := make([]byte, rng.Intn(200))
		if rng.Intn(4) == 0 {
			if err := db.Delete(key); err != nil {
				t.Fatalf("Delete: %v", err)
			}
			continue
		}
		if err := db.Put(key, value); err != nil {
			t.Fatalf("Put: %v", err)
		}
	}

	meta := db.currentMeta()
	reader, err := db.BeginReader()
	if err != nil {
		t.Fatalf("BeginReader: %v", err)
	}
	defer reader.Close()

	referenced := make(map[PageId]bool)
	if err := collectTreePages(reader, meta.root, referenced); err != nil {
		t.Fatalf("collectTreePages: %v", err)
	}

	freelistBytes, err := readOverflowChain(meta.freelist, reader.read)
	if err != nil {
		t.Fatalf("readOverflowChain(freelist): %v", err)
	}
	bm := deserializeFreeBitmap(freelistBytes)

	freeIDs := make(map[PageId]bool)
	for w, word := range bm.words {
		for bit := 0; bit < 64; bit++ {
			if word&(1<<uint(bit)) != 0 {
				freeIDs[PageId(uint32(w)*64+uint32(bit))] = true
			}
		}
	}

	var id PageId
	accountedCount := 0
	for id = firstFreePage; id < meta.next; id++ {
		if referenced[id] {
			accountedCount++
			if freeIDs[id] {
				t.Fatalf("page %d is both referenced and free", id)
			}
			continue
		}
		if freeIDs[id] {
			accountedCount++
			continue
		}
	}
	// Every page from firstFreePage up to (but not including) next must
	// be accounted for: either reachable from the tree or in the
	// freelist. The freelist chain's own pages are not reached by the
	// tree walk (they are addressed via meta.freelist, not the tree);
	// account for them directly.
	freelistChainIDs := chainPageIDs(reader, meta.freelist)
	for _, fid := range freelistChainIDs {
		if !referenced[fid] && !freeIDs[fid] {
			accountedCount++
		}
	}
	total := int(meta.next) - firstFreePage
	if accountedCount < total {
		t.Fatalf("accounted %d of %d pages below next", accountedCount, total)
	}
}

func chainPageIDs(r *Reader, head PageId) []PageId {
	var ids []PageId
	id := head
	for {
		ids = append(ids, id)
		buf := r.read(id)
		length := getUint32(buf[0:4])
		if length != overflowFull {
			return ids
		}
		id = getPageId(buf[4:8])
	}
}

func collectTreePages(r *Reader, id PageId, out map[PageId]bool) error {
	out[id] = true
	n := newNode(r.read(id))
	if n.isLeaf() {
		for i := 0; i < n.count(); i++ {
			if n.leafValueKind(i) == valueOverflow {
				for _, pid := range chainPageIDs(r, n.leafOverflowPage(i)) {
					out[pid] = true
				}
			}
		}
		return nil
	}
	for i := 0; i < n.count(); i++ {
		if err := collectTreePages(r, n.branchChild(i), out); err != nil {
			return err
		}
	}
	return nil
}

// Slotted split/merge duality: splitting then merging the same two
// pages without intervening mutation reconstructs the original record
// sequence.
func TestSlottedSplitMergeDuality(t *testing.T) {
	const bodyLen = 512
	body := make([]byte, bodyLen)
	page := newSlottedPage(body)
	page.init()

	var originals [][]byte
	for i := 0; i < 10; i++ {
		rec := bytes.Repeat([]byte{byte('a' + i)}, 20)
		buf, ok := page.insert(i, len(rec))
		if !ok {
			t.Fatalf("insert %d failed", i)
		}
		copy(buf, rec)
		originals = append(originals, rec)
	}

	otherBody := make([]byte, bodyLen)
	other := newSlottedPage(otherBody)
	other.init()

	mid := page.split(other)
	if mid <= 0 || mid >= len(originals) {
		t.Fatalf("split returned degenerate mid %d", mid)
	}

	if ok := page.merge(other, true); !ok {
		t.Fatalf("merge after split failed")
	}

	if page.count() != len(originals) {
		t.Fatalf("merged count %d, want %d", page.count(), len(originals))
	}
	for i, want := range originals {
		got := page.get(i)
		if !bytes.Equal(got, want) {
			t.Fatalf("record %d mismatch after split/merge: got %v want %v", i, got, want)
		}
	}
}

// Round-trip across a large random workload, verifying every key maps
// to the last value written to it.
func TestRandomWorkloadRoundTrip(t *testing.T) {
	db := openTestDB(t, Options{PageSize: 4096})

	rng := rand.New(rand.NewSource(1234))
	model := make(map[string][]byte)
	keys := make([]string, 0, 50)
	for i := 0; i < 50; i++ {
		keys = append(keys, fmt.Sprintf("k%03d", i))
	}

	for i := 0; i < 2000; i++ {
		k := keys[rng.Intn(len(keys))]
		if rng.Intn(5) == 0 {
			delete(model, k)
			if err := db.Delete([]byte(k)); err != nil {
				t.Fatalf("Delete: %v", err)
			}
			continue
		}
		v := make([]byte, rng.Intn(300))
		rng.Read(v)
		model[k] = v
		if err := db.Put([]byte(k), v); err != nil {
			t.Fatalf("Put: %v", err)
		}
	}

	for k, want := range model {
		got, ok, err := db.Get([]byte(k))
		if err != nil {
			t.Fatalf("Get(%s): %v", k, err)
		}
		if !ok {
			t.Fatalf("key %s missing, want present", k)
		}
		if !bytes.Equal(got, want) {
			t.Fatalf("key %s: got %v, want %v", k, got, want)
		}
	}
	for _, k := range keys {
		if _, present := model[k]; present {
			continue
		}
		ok, err := db.Contains([]byte(k))
		if err != nil {
			t.Fatalf("Contains(%s): %v", k, err)
		}
		if ok {
			t.Fatalf("key %s present, want absent", k)
		}
	}
}

// Durability: a force-synced commit survives a reopen of the file.
func TestDurabilityAcrossReopen(t *testing.T) {
	path := tempDBPath(t)
	db, err := Open(path, Options{PageSize: 4096, ForceSync: true})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	for i := 0; i < 100; i++ {
		key := []byte(fmt.Sprintf("k%03d", i))
		if err := db.Put(key, key); err != nil {
			t.Fatalf("Put: %v", err)
		}
	}
	if err := db.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	db2, err := Open(path, Options{PageSize: 4096})
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer db2.Close()

	for i := 0; i < 100; i++ {
		key := []byte(fmt.Sprintf("k%03d", i))
		got, ok, err := db2.Get(key)
		if err != nil || !ok {
			t.Fatalf("Get(%s) after reopen: ok=%v err=%v", key, ok, err)
		}
		if !bytes.Equal(got, key) {
			t.Fatalf("value mismatch for %s after reopen", key)
		}
	}
}

// An aborted writer leaves the file exactly as it was.
func TestAbortedWriterLeavesNoTrace(t *testing.T) {
	db := openTestDB(t, Options{PageSize: 4096})

	if err := db.Put([]byte("a"), []byte("1")); err != nil {
		t.Fatalf("Put: %v", err)
	}

	w, err := db.BeginWriter()
	if err != nil {
		t.Fatalf("BeginWriter: %v", err)
	}
	if err := w.Put([]byte("b"), []byte("2")); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close (rollback): %v", err)
	}

	ok, err := db.Contains([]byte("b"))
	if err != nil {
		t.Fatalf("Contains: %v", err)
	}
	if ok {
		t.Fatal("uncommitted key b should not be visible")
	}

	ok, err = db.Contains([]byte("a"))
	if err != nil || !ok {
		t.Fatalf("Contains(a): ok=%v err=%v", ok, err)
	}
}

// A reader's snapshot is unaffected by a writer that commits after the
// reader started. The commit runs on its own goroutine: §5's deadlock
// rule forbids holding a read transaction open on the same goroutine
// that starts a write transaction, since commit upgrades to an
// exclusive storage lock that would never see this reader's shared
// hold released.
func TestReaderSnapshotIsolation(t *testing.T) {
	db := openTestDB(t, Options{PageSize: 4096})

	if err := db.Put([]byte("a"), []byte("1")); err != nil {
		t.Fatalf("Put: %v", err)
	}

	r, err := db.BeginReader()
	if err != nil {
		t.Fatalf("BeginReader: %v", err)
	}

	committed := make(chan error, 1)
	go func() { committed <- db.Put([]byte("a"), []byte("2")) }()

	v, ok, err := r.Get([]byte("a"))
	if err != nil || !ok {
		t.Fatalf("Get on snapshot: ok=%v err=%v", ok, err)
	}
	if !bytes.Equal(v, []byte("1")) {
		t.Fatalf("snapshot reader saw %q, want %q (pre-commit value)", v, "1")
	}
	if err := r.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	if err := <-committed; err != nil {
		t.Fatalf("concurrent Put: %v", err)
	}

	v2, ok, err := db.Get([]byte("a"))
	if err != nil || !ok {
		t.Fatalf("Get after commit: ok=%v err=%v", ok, err)
	}
	if !bytes.Equal(v2, []byte("2")) {
		t.Fatalf("post-commit reader saw %q, want %q", v2, "2")
	}
}

// Open validates the page-size invariants from §4.9/§9.
func TestOpenValidatesPageSize(t *testing.T) {
	path := tempDBPath(t)
	_, err := Open(path, Options{PageSize: 100})
	if err == nil {
		t.Fatal("expected an error for an undersized page")
	}
	var oerr *Error
	if !errors.As(err, &oerr) || oerr.Kind != KindInputInvalid {
		t.Fatalf("got %v, want KindInputInvalid", err)
	}
}

func TestStatReportsKeyCount(t *testing.T) {
	db := openTestDB(t, Options{PageSize: 4096})
	for i := 0; i < 50; i++ {
		key := []byte(fmt.Sprintf("k%03d", i))
		if err := db.Put(key, key); err != nil {
			t.Fatalf("Put: %v", err)
		}
	}
	stat, err := db.Stat()
	if err != nil {
		t.Fatalf("Stat: %v", err)
	}
	if stat.KeyCount != 50 {
		t.Fatalf("KeyCount = %d, want 50", stat.KeyCount)
	}
	if stat.TreeDepth < 1 {
		t.Fatalf("TreeDepth = %d, want >= 1", stat.TreeDepth)
	}
}
