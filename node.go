package ordkv

import "bytes"

// nodeHeaderSize is the node_type tag plus padding to a 4-byte aligned
// body, per §3.
const nodeHeaderSize = 4

// node is a B+ tree node page: a node_type tag over a slotted body.
// Leaf and branch record formats differ (§4.5); the methods below are
// grouped by which kind of record they assume.
type node struct {
	typ     nodeType
	slotted slottedPage
}

func newNode(pageBytes []byte) node {
	return node{typ: nodeType(pageBytes[0]), slotted: newSlottedPage(pageBytes[nodeHeaderSize:])}
}

func initLeafNode(pageBytes []byte) node {
	pageBytes[0] = byte(nodeTypeLeaf)
	n := node{typ: nodeTypeLeaf, slotted: newSlottedPage(pageBytes[nodeHeaderSize:])}
	n.slotted.init()
	return n
}

func initBranchNode(pageBytes []byte) node {
	pageBytes[0] = byte(nodeTypeBranch)
	n := node{typ: nodeTypeBranch, slotted: newSlottedPage(pageBytes[nodeHeaderSize:])}
	n.slotted.init()
	return n
}

func (n node) isLeaf() bool   { return n.typ == nodeTypeLeaf }
func (n node) isBranch() bool { return n.typ == nodeTypeBranch }
func (n node) count() int     { return n.slotted.count() }
func (n node) fillRate() float64 { return n.slotted.fillRate() }

// --- leaf records: {key_len:u8, key, value_kind:u8, payload} ---

func encodeLeafRecord(key []byte, kind valueKind, payload []byte) []byte {
	rec := make([]byte, 1+len(key)+1+len(payload))
	rec[0] = byte(len(key))
	copy(rec[1:], key)
	rec[1+len(key)] = byte(kind)
	copy(rec[2+len(key):], payload)
	return rec
}

func (n node) leafKey(i int) []byte {
	rec := n.slotted.get(i)
	return rec[1 : 1+int(rec[0])]
}

func (n node) leafValueKind(i int) valueKind {
	rec := n.slotted.get(i)
	return valueKind(rec[1+int(rec[0])])
}

// leafPayload returns the inline value bytes, or the 4-byte PageId
// encoding if leafValueKind(i) == valueOverflow.
func (n node) leafPayload(i int) []byte {
	rec := n.slotted.get(i)
	return rec[2+int(rec[0]):]
}

func (n node) leafOverflowPage(i int) PageId {
	return getPageId(n.leafPayload(i))
}

// leafSearch returns the slot index of key if present, and whether it
// was found; otherwise the index is the correct insertion point.
func (n node) leafSearch(key []byte) (int, bool) {
	lo, hi := 0, n.slotted.count()
	for lo < hi {
		mid := (lo + hi) / 2
		cmp := bytes.Compare(n.leafKey(mid), key)
		switch {
		case cmp == 0:
			return mid, true
		case cmp < 0:
			lo = mid + 1
		default:
			hi = mid
		}
	}
	return lo, false
}

// leafPut writes (key, kind, payload) at slot i, overwriting if found is
// true or inserting otherwise.
func (n node) leafPut(i int, found bool, key []byte, kind valueKind, payload []byte) bool {
	rec := encodeLeafRecord(key, kind, payload)
	var buf []byte
	var ok bool
	if found {
		buf, ok = n.slotted.set(i, len(rec))
	} else {
		buf, ok = n.slotted.insert(i, len(rec))
	}
	if !ok {
		return false
	}
	copy(buf, rec)
	return true
}

func (n node) leafDelete(i int) {
	n.slotted.remove(i)
}

// leafSplitPut splits n into n/other and then writes (key, kind,
// payload) into whichever half now holds index i, returning the key
// promoted to the parent (other's first key after the split).
func (n node) leafSplitPut(other node, i int, found bool, key []byte, kind valueKind, payload []byte) ([]byte, bool) {
	mid := n.slotted.split(other.slotted)
	target, targetIdx := n, i
	if i >= mid {
		target, targetIdx = other, i-mid
	}
	if !target.leafPut(targetIdx, found, key, kind, payload) {
		return nil, false
	}
	midKey := append([]byte(nil), other.leafKey(0)...)
	return midKey, true
}

// --- branch records: {key_len:u8, key, child:PageId} ---

func encodeBranchRecord(key []byte, child PageId) []byte {
	rec := make([]byte, 1+len(key)+4)
	rec[0] = byte(len(key))
	copy(rec[1:], key)
	putPageId(rec[1+len(key):], child)
	return rec
}

func (n node) branchKey(i int) []byte {
	rec := n.slotted.get(i)
	return rec[1 : 1+int(rec[0])]
}

func (n node) branchChild(i int) PageId {
	rec := n.slotted.get(i)
	return getPageId(rec[1+int(rec[0]):])
}

func (n node) branchSetChild(i int, id PageId) {
	rec := n.slotted.get(i)
	putPageId(rec[1+int(rec[0]):], id)
}

// branchSearch returns the index of the child to descend into: the
// highest slot i >= 1 with key >= branchKey(i), or 0 (the leftmost
// pointer) if no such slot exists.
func (n node) branchSearch(key []byte) int {
	count := n.slotted.count()
	lo, hi, res := 1, count, 0
	for lo < hi {
		mid := (lo + hi) / 2
		if bytes.Compare(key, n.branchKey(mid)) >= 0 {
			res = mid
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	return res
}

// initRoot writes a fresh two-child root: slot 0 is the empty-key
// leftmost pointer, slot 1 separates left from right at key.
func (n node) initRoot(key []byte, left, right PageId) {
	n.slotted.init()
	rec0 := encodeBranchRecord(nil, left)
	buf0, _ := n.slotted.insert(0, len(rec0))
	copy(buf0, rec0)
	rec1 := encodeBranchRecord(key, right)
	buf1, _ := n.slotted.insert(1, len(rec1))
	copy(buf1, rec1)
}

func (n node) branchPut(i int, key []byte, child PageId) bool {
	rec := encodeBranchRecord(key, child)
	buf, ok := n.slotted.insert(i, len(rec))
	if !ok {
		return false
	}
	copy(buf, rec)
	return true
}

func (n node) branchDelete(i int) {
	n.slotted.remove(i)
}

// branchSplitPut splits n into n/other, restores other's slot-0
// separator (captured as the returned mid key) to the empty-key
// leftmost-pointer form, and inserts (key, child) into n when i <= mid
// (a record at the boundary follows n's last separator) and into other
// otherwise, so other's slot 0 stays the leftmost pointer.
func (n node) branchSplitPut(other node, i int, key []byte, child PageId) ([]byte, bool) {
	mid := n.slotted.split(other.slotted)

	midKey := append([]byte(nil), other.branchKey(0)...)
	leftmost := other.branchChild(0)
	emptyRec := encodeBranchRecord(nil, leftmost)
	buf, ok := other.slotted.set(0, len(emptyRec))
	if !ok {
		return nil, false
	}
	copy(buf, emptyRec)

	target, targetIdx := n, i
	if i > mid {
		target, targetIdx = other, i-mid
	}
	if !target.branchPut(targetIdx, key, child) {
		return nil, false
	}
	return midKey, true
}

// branchMerge joins other into n (withNext: other follows n's records;
// otherwise it precedes them), first restoring midKey as the real
// separator key of whichever side is the right half, since slot 0 of
// a branch never stores its own separator.
func (n node) branchMerge(midKey []byte, other node, withNext bool) bool {
	right := n
	if withNext {
		right = other
	}
	child := right.branchChild(0)
	rec := encodeBranchRecord(midKey, child)
	buf, ok := right.slotted.set(0, len(rec))
	if !ok {
		return false
	}
	copy(buf, rec)
	return n.slotted.merge(other.slotted, withNext)
}

func (n node) leafMerge(other node, withNext bool) bool {
	return n.slotted.merge(other.slotted, withNext)
}

// normalizeLeftmost restores the empty-key leftmost-pointer invariant
// on slot 0 after a deletion shifted a real separator into that slot.
func (n node) normalizeLeftmost() {
	if n.slotted.count() == 0 {
		return
	}
	rec := n.slotted.get(0)
	if rec[0] == 0 {
		return
	}
	child := n.branchChild(0)
	emptyRec := encodeBranchRecord(nil, child)
	if buf, ok := n.slotted.set(0, len(emptyRec)); ok {
		copy(buf, emptyRec)
	}
}
