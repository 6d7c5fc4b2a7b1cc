package ordkv

// pageReader is the read-only capability a B+ tree traversal needs: it
// is satisfied by both Reader and Writer, so contains/get/cursor logic
// doesn't care which kind of transaction is driving it.
type pageReader interface {
	pageSize() int
	read(id PageId) []byte
	root() PageId
}

// txnAccess is the additional capability only a Writer has: allocating
// and shadowing pages, and retargeting the tree root.
type txnAccess interface {
	pageReader
	alloc() (PageId, []byte)
	shadow(id PageId) (PageId, []byte)
	free(id PageId)
	setRoot(id PageId)
}

func btreeContains(pr pageReader, key []byte) (bool, error) {
	id := pr.root()
	for {
		n := newNode(pr.read(id))
		if n.isLeaf() {
			_, found := n.leafSearch(key)
			return found, nil
		}
		id = n.branchChild(n.branchSearch(key))
	}
}

func btreeGet(pr pageReader, key []byte) ([]byte, bool, error) {
	id := pr.root()
	for {
		n := newNode(pr.read(id))
		if n.isLeaf() {
			i, found := n.leafSearch(key)
			if !found {
				return nil, false, nil
			}
			if n.leafValueKind(i) == valueInline {
				v := n.leafPayload(i)
				return append([]byte(nil), v...), true, nil
			}
			data, err := readOverflowChain(n.leafOverflowPage(i), pr.read)
			if err != nil {
				return nil, false, err
			}
			return data, true, nil
		}
		id = n.branchChild(n.branchSearch(key))
	}
}

// promotion is what a split along the insertion path hands back to its
// parent: a separator key and the id of the new right sibling.
type promotion struct {
	key       []byte
	siblingID PageId
}

func btreePut(w txnAccess, key, value []byte) error {
	var kind valueKind
	var payload []byte
	if float64(len(value))/float64(w.pageSize()) > overflowRatio {
		kind = valueOverflow
		head := writeOverflowChain(value, w.pageSize(), w.alloc)
		payload = make([]byte, 4)
		putPageId(payload, head)
	} else {
		kind = valueInline
		payload = value
	}

	newRoot, promo, err := putRecurse(w, w.root(), key, kind, payload)
	if err != nil {
		return err
	}
	if promo == nil {
		w.setRoot(newRoot)
		return nil
	}
	newRootID, buf := w.alloc()
	root := initBranchNode(buf)
	root.initRoot(promo.key, newRoot, promo.siblingID)
	w.setRoot(newRootID)
	return nil
}

// putRecurse descends to the target leaf, shadowing every page along
// the way, and returns the (possibly new) id of pageID plus a
// promotion if this level had to split. Parents always rewrite their
// child pointer, whether or not the id actually changed (§9).
func putRecurse(w txnAccess, pageID PageId, key []byte, kind valueKind, payload []byte) (PageId, *promotion, error) {
	shadowID, buf := w.shadow(pageID)
	n := newNode(buf)

	if n.isLeaf() {
		i, found := n.leafSearch(key)
		if found && n.leafValueKind(i) == valueOverflow {
			deleteOverflowChain(n.leafOverflowPage(i), w.read, w.free)
		}
		if n.leafPut(i, found, key, kind, payload) {
			return shadowID, nil, nil
		}
		newID, newBuf := w.alloc()
		sibling := initLeafNode(newBuf)
		midKey, ok := n.leafSplitPut(sibling, i, found, key, kind, payload)
		if !ok {
			return 0, nil, newError(KindCorrupted, "leaf split could not place record")
		}
		return shadowID, &promotion{key: midKey, siblingID: newID}, nil
	}

	idx := n.branchSearch(key)
	childID := n.branchChild(idx)
	newChildID, childPromo, err := putRecurse(w, childID, key, kind, payload)
	if err != nil {
		return 0, nil, err
	}
	n.branchSetChild(idx, newChildID)
	if childPromo == nil {
		return shadowID, nil, nil
	}

	if n.branchPut(idx+1, childPromo.key, childPromo.siblingID) {
		return shadowID, nil, nil
	}
	newID, newBuf := w.alloc()
	sibling := initBranchNode(newBuf)
	midKey, ok := n.branchSplitPut(sibling, idx+1, childPromo.key, childPromo.siblingID)
	if !ok {
		return 0, nil, newError(KindCorrupted, "branch split could not place record")
	}
	return shadowID, &promotion{key: midKey, siblingID: newID}, nil
}

func btreeDelete(w txnAccess, key []byte) error {
	newRoot, _, err := deleteRecurse(w, w.root(), key)
	if err != nil {
		return err
	}
	for {
		n := newNode(w.read(newRoot))
		if !n.isBranch() || n.count() != 1 {
			break
		}
		child := n.branchChild(0)
		w.free(newRoot)
		newRoot = child
	}
	w.setRoot(newRoot)
	return nil
}

// deleteRecurse descends to key's leaf, shadowing the path, deletes it
// if present, and on the way back up merges any child whose fill rate
// dropped to or below the underflow threshold with a sibling that is
// also at or below threshold (merge only, never borrow, previous
// sibling preferred).
func deleteRecurse(w txnAccess, pageID PageId, key []byte) (PageId, bool, error) {
	shadowID, buf := w.shadow(pageID)
	n := newNode(buf)

	if n.isLeaf() {
		i, found := n.leafSearch(key)
		if !found {
			return shadowID, false, nil
		}
		if n.leafValueKind(i) == valueOverflow {
			deleteOverflowChain(n.leafOverflowPage(i), w.read, w.free)
		}
		n.leafDelete(i)
		return shadowID, true, nil
	}

	idx := n.branchSearch(key)
	childID := n.branchChild(idx)
	newChildID, found, err := deleteRecurse(w, childID, key)
	if err != nil {
		return 0, false, err
	}
	n.branchSetChild(idx, newChildID)
	if !found {
		return shadowID, false, nil
	}
	return shadowID, true, mergeUnderflowingChild(w, n, idx)
}

// mergeUnderflowingChild checks the child at idx after a deletion and,
// if it underflowed, merges it with an eligible sibling or drops it if
// it is now empty with no eligible partner.
func mergeUnderflowingChild(w txnAccess, n node, idx int) error {
	childID := n.branchChild(idx)
	if newNode(w.read(childID)).fillRate() > underflowThreshold {
		return nil
	}

	// The child is about to be merged into, merged away, or dropped in
	// every branch below, so shadow it now rather than mutating the
	// clean on-disk/mmap'd page in place.
	childShadowID, childBuf := w.shadow(childID)
	child := newNode(childBuf)
	n.branchSetChild(idx, childShadowID)

	count := n.count()
	merged := false

	// A previous sibling is only eligible when idx > 1: idx-1 == 0 would
	// be the leftmost pointer slot, which never donates to or absorbs an
	// underflow merge as the "previous" side.
	if idx > 1 {
		prevID := n.branchChild(idx - 1)
		prevShadowID, prevBuf := w.shadow(prevID)
		prev := newNode(prevBuf)
		n.branchSetChild(idx-1, prevShadowID)
		if prev.fillRate() <= underflowThreshold {
			ok := mergeSiblings(n, prev, child, idx, true)
			if ok {
				n.branchDelete(idx)
				w.free(childShadowID)
				merged = true
			}
		}
	}

	if !merged && idx+1 < count {
		nextID := n.branchChild(idx + 1)
		nextShadowID, nextBuf := w.shadow(nextID)
		next := newNode(nextBuf)
		n.branchSetChild(idx+1, nextShadowID)
		if next.fillRate() <= underflowThreshold {
			ok := mergeSiblings(n, child, next, idx+1, true)
			if ok {
				n.branchDelete(idx + 1)
				w.free(nextShadowID)
				merged = true
			}
		}
	}

	if !merged && child.count() == 0 {
		n.branchDelete(idx)
		w.free(childShadowID)
		if idx == 0 {
			n.normalizeLeftmost()
		}
	}

	return nil
}

// mergeSiblings merges right into left (withNext=true keeps left's id),
// using the separator key stored in n at childSlot when the nodes are
// branches.
func mergeSiblings(n, left, right node, childSlot int, withNext bool) bool {
	if left.isLeaf() {
		return left.leafMerge(right, withNext)
	}
	midKey := append([]byte(nil), n.branchKey(childSlot)...)
	return left.branchMerge(midKey, right, withNext)
}
