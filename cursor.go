package ordkv

// trackEntry is one (page_id, slot_index) hop of a cursor's root-to-leaf
// path (§4.6 Cursor, GLOSSARY Track).
type trackEntry struct {
	id   PageId
	slot int
}

// Cursor supports ordered traversal over a snapshot. It is positioned
// by First/Last/CursorFrom and advanced with Next/Prev.
type Cursor struct {
	pr        pageReader
	owned     *Reader
	track     []trackEntry
	exhausted bool
}

func newCursor(pr pageReader) *Cursor {
	return &Cursor{pr: pr}
}

func (c *Cursor) descendEdge(id PageId, first bool) {
	for {
		n := newNode(c.pr.read(id))
		slot := 0
		if !first {
			slot = n.count() - 1
		}
		c.track = append(c.track, trackEntry{id: id, slot: slot})
		if n.isLeaf() {
			if n.count() == 0 {
				c.exhausted = true
			}
			return
		}
		id = n.branchChild(slot)
	}
}

func (c *Cursor) first() (*Cursor, error) {
	c.track = c.track[:0]
	c.exhausted = false
	c.descendEdge(c.pr.root(), true)
	return c, nil
}

func (c *Cursor) last() (*Cursor, error) {
	c.track = c.track[:0]
	c.exhausted = false
	c.descendEdge(c.pr.root(), false)
	return c, nil
}

// seekFrom positions the cursor at the smallest key >= key, or leaves
// it empty if no such key exists. seekFrom only reports an exact match
// through Key(); callers that need "is this an exact match" must
// compare the returned key to the one they asked for (§9 open
// questions).
func (c *Cursor) seekFrom(key []byte) (*Cursor, error) {
	c.track = c.track[:0]
	c.exhausted = false
	id := c.pr.root()
	for {
		n := newNode(c.pr.read(id))
		if n.isLeaf() {
			i, _ := n.leafSearch(key)
			c.track = append(c.track, trackEntry{id: id, slot: i})
			if i >= n.count() {
				if !c.stepForwardFromPastEnd() {
					c.exhausted = true
				}
			}
			return c, nil
		}
		idx := n.branchSearch(key)
		c.track = append(c.track, trackEntry{id: id, slot: idx})
		id = n.branchChild(idx)
	}
}

func (c *Cursor) stepForwardFromPastEnd() bool {
	return c.step(true)
}

// step advances the leaf slot if the current leaf has a neighbor in the
// given direction; otherwise it pops ancestors until one has a sibling
// child in that direction, then descends through first/last slots back
// down to a leaf.
func (c *Cursor) step(forward bool) bool {
	if len(c.track) == 0 {
		return false
	}
	leafIdx := len(c.track) - 1
	leaf := &c.track[leafIdx]
	n := newNode(c.pr.read(leaf.id))
	if forward {
		if leaf.slot+1 < n.count() {
			leaf.slot++
			return true
		}
	} else if leaf.slot-1 >= 0 {
		leaf.slot--
		return true
	}

	for i := leafIdx - 1; i >= 0; i-- {
		anc := &c.track[i]
		ancNode := newNode(c.pr.read(anc.id))
		if forward {
			if anc.slot+1 < ancNode.count() {
				anc.slot++
				child := ancNode.branchChild(anc.slot)
				c.track = c.track[:i+1]
				c.descendEdge(child, true)
				return true
			}
		} else if anc.slot-1 >= 0 {
			anc.slot--
			child := ancNode.branchChild(anc.slot)
			c.track = c.track[:i+1]
			c.descendEdge(child, false)
			return true
		}
	}
	return false
}

func (c *Cursor) valid() bool { return !c.exhausted && len(c.track) > 0 }

// Key returns the current key, if the cursor is positioned on one.
func (c *Cursor) Key() ([]byte, bool) {
	if !c.valid() {
		return nil, false
	}
	leaf := c.track[len(c.track)-1]
	n := newNode(c.pr.read(leaf.id))
	return append([]byte(nil), n.leafKey(leaf.slot)...), true
}

// Value returns the current value, resolving an overflow chain if
// needed.
func (c *Cursor) Value() ([]byte, bool, error) {
	if !c.valid() {
		return nil, false, nil
	}
	leaf := c.track[len(c.track)-1]
	n := newNode(c.pr.read(leaf.id))
	if n.leafValueKind(leaf.slot) == valueInline {
		return append([]byte(nil), n.leafPayload(leaf.slot)...), true, nil
	}
	data, err := readOverflowChain(n.leafOverflowPage(leaf.slot), c.pr.read)
	return data, true, err
}

// KeyValue returns both the current key and value.
func (c *Cursor) KeyValue() ([]byte, []byte, bool, error) {
	key, ok := c.Key()
	if !ok {
		return nil, nil, false, nil
	}
	value, _, err := c.Value()
	return key, value, true, err
}

// Next advances to the next key in ascending order, reporting whether
// a key remains.
func (c *Cursor) Next() bool {
	if c.exhausted {
		return false
	}
	if !c.step(true) {
		c.exhausted = true
		return false
	}
	return true
}

// Prev advances to the previous key in descending order.
func (c *Cursor) Prev() bool {
	if c.exhausted {
		return false
	}
	if !c.step(false) {
		c.exhausted = true
		return false
	}
	return true
}

// Close releases the cursor's reader, if it opened one itself.
func (c *Cursor) Close() error {
	if c.owned != nil {
		return c.owned.Close()
	}
	return nil
}
