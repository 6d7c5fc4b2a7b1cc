package ordkv

// slottedPage implements the slotted page body layout from §4.4: a
// header, a forward-growing pointer array, and a backward-growing
// record area. It is a thin view over a byte slice; the caller decides
// what that slice is a view of (here, everything past the node-type tag
// of a B+ tree node page).
type slottedPage struct {
	body []byte
}

const (
	slottedHeaderSize = 8
	slotEntrySize      = 8
)

func newSlottedPage(body []byte) slottedPage {
	return slottedPage{body: body}
}

// init zeroes the slot count and marks the whole body free.
func (p slottedPage) init() {
	p.setCount(0)
	p.setFreeEnd(uint32(len(p.body)))
}

func (p slottedPage) count() int        { return int(getUint32(p.body[0:4])) }
func (p slottedPage) setCount(n int)    { putUint32(p.body[0:4], uint32(n)) }
func (p slottedPage) freeEnd() uint32   { return getUint32(p.body[4:8]) }
func (p slottedPage) setFreeEnd(v uint32) { putUint32(p.body[4:8], v) }

func (p slottedPage) slotOffset(i int) int { return slottedHeaderSize + i*slotEntrySize }

func (p slottedPage) slot(i int) (offset, length uint32) {
	so := p.slotOffset(i)
	return getUint32(p.body[so : so+4]), getUint32(p.body[so+4 : so+8])
}

func (p slottedPage) setSlot(i int, offset, length uint32) {
	so := p.slotOffset(i)
	putUint32(p.body[so:so+4], offset)
	putUint32(p.body[so+4:so+8], length)
}

func (p slottedPage) pointerAreaEnd() int { return slottedHeaderSize + p.count()*slotEntrySize }

// freeSpace is the number of bytes available for a new pointer entry
// plus its record.
func (p slottedPage) freeSpace() int {
	return int(p.freeEnd()) - p.pointerAreaEnd()
}

func (p slottedPage) fillRate() float64 {
	used := p.pointerAreaEnd() + (len(p.body) - int(p.freeEnd()))
	return float64(used) / float64(len(p.body))
}

// get returns the byte slice for record i. Callers must not mutate it.
func (p slottedPage) get(i int) []byte {
	off, ln := p.slot(i)
	return p.body[off : off+ln]
}

func (p slottedPage) collectRecords(n int) [][]byte {
	out := make([][]byte, n)
	for i := 0; i < n; i++ {
		off, ln := p.slot(i)
		buf := make([]byte, ln)
		copy(buf, p.body[off:off+ln])
		out[i] = buf
	}
	return out
}

// rebuild lays records out contiguously from the end of the body
// backward, in order, and updates the pointer array and free_end to
// match. len(records) must already equal the current slot count.
func (p slottedPage) rebuild(records [][]byte) {
	end := uint32(len(p.body))
	for i, rec := range records {
		ln := uint32(len(rec))
		off := end - ln
		copy(p.body[off:off+ln], rec)
		p.setSlot(i, off, ln)
		end = off
	}
	p.setFreeEnd(end)
}

// insert makes room for a new length-byte record at index i and
// returns it for the caller to fill in. i must be in [0, count()].
func (p slottedPage) insert(i, length int) ([]byte, bool) {
	if p.freeSpace() < length+slotEntrySize {
		return nil, false
	}
	n := p.count()
	records := p.collectRecords(n)
	newRecords := make([][]byte, 0, n+1)
	newRecords = append(newRecords, records[:i]...)
	newRecords = append(newRecords, make([]byte, length))
	newRecords = append(newRecords, records[i:]...)
	p.setCount(n + 1)
	p.rebuild(newRecords)
	off, _ := p.slot(i)
	return p.body[off : off+length], true
}

// set resizes record i to newLen in place, preserving its existing
// prefix (or all of it, if shrinking), and returns the resized record
// for the caller to overwrite.
func (p slottedPage) set(i, newLen int) ([]byte, bool) {
	n := p.count()
	oldOff, oldLen := p.slot(i)
	records := p.collectRecords(n)

	buf := make([]byte, newLen)
	copyLen := int(oldLen)
	if newLen < copyLen {
		copyLen = newLen
	}
	copy(buf, p.body[oldOff:oldOff+uint32(copyLen)])
	records[i] = buf

	total := p.pointerAreaEnd()
	for _, r := range records {
		total += len(r)
	}
	if total > len(p.body) {
		return nil, false
	}
	p.rebuild(records)
	off, _ := p.slot(i)
	return p.body[off : off+newLen], true
}

// remove deletes record i, compacting the pointer and record arrays.
func (p slottedPage) remove(i int) {
	n := p.count()
	records := p.collectRecords(n)
	newRecords := make([][]byte, 0, n-1)
	newRecords = append(newRecords, records[:i]...)
	newRecords = append(newRecords, records[i+1:]...)
	p.setCount(n - 1)
	p.rebuild(newRecords)
}

// merge appends other's records after (withNext) or before this page's
// records, and returns false without modifying either page if the
// combined records would not fit in this page's body.
func (p slottedPage) merge(other slottedPage, withNext bool) bool {
	rec1 := p.collectRecords(p.count())
	rec2 := other.collectRecords(other.count())

	var combined [][]byte
	if withNext {
		combined = append(append([][]byte{}, rec1...), rec2...)
	} else {
		combined = append(append([][]byte{}, rec2...), rec1...)
	}

	total := slottedHeaderSize + len(combined)*slotEntrySize
	for _, r := range combined {
		total += len(r)
	}
	if total > len(p.body) {
		return false
	}
	p.setCount(len(combined))
	p.rebuild(combined)
	return true
}

func absInt(x int) int {
	if x < 0 {
		return -x
	}
	return x
}

// split moves this page's trailing records one at a time into the empty
// page other, stopping as soon as moving one more would make the
// free-space imbalance between the two pages worse than leaving it
// (§4.4, §9's split-heuristic open question). Each step moves the
// current last record; the loop therefore converges on whichever split
// point minimizes |free_space(p) - free_space(other)|, not a fixed
// half-the-bytes target. Returns the count of records left in p.
func (p slottedPage) split(other slottedPage) int {
	for p.count() > 0 {
		lastIdx := p.count() - 1
		last := p.get(lastIdx)
		recordSpaceLen := slotEntrySize + len(last)
		freeDiff := p.freeSpace() - other.freeSpace()
		if absInt(freeDiff) <= absInt(freeDiff+2*recordSpaceLen) {
			break
		}

		rec := append([]byte(nil), last...)
		buf, ok := other.insert(other.count(), len(rec))
		if !ok {
			break
		}
		copy(buf, rec)
		p.remove(lastIdx)
	}

	other.reverseOrder()
	return p.count()
}

// reverseOrder reverses the logical order of other's records in place.
// split appends moved records in descending original order (the last
// record moved ends up first); reversing restores ascending key order.
func (p slottedPage) reverseOrder() {
	n := p.count()
	records := p.collectRecords(n)
	for i, j := 0, n-1; i < j; i, j = i+1, j-1 {
		records[i], records[j] = records[j], records[i]
	}
	p.rebuild(records)
}
