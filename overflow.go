package ordkv

const overflowHeaderSize = 8 // len:u32 + next:PageId

const overflowFull uint32 = 0xFFFFFFFF

// rawOverflowHeader is the fixed-layout view of an overflow chunk's
// len/next header, reinterpreted via bytesview's splitRecord (§4.2)
// rather than decoded field by field.
type rawOverflowHeader struct {
	Len  uint32
	Next PageId
}

// writeOverflowChain writes value across one or more pages obtained
// from alloc, returning the id of the first page. Each page holds up to
// pageSize-overflowHeaderSize payload bytes; a page that is entirely
// full sets its len sentinel and chains to another page via alloc.
func writeOverflowChain(value []byte, pageSize int, alloc func() (PageId, []byte)) PageId {
	payloadCap := pageSize - overflowHeaderSize
	first := PageId(0)
	firstSet := false
	offset := 0

	var prevBuf []byte
	for {
		id, buf := alloc()
		if !firstSet {
			first = id
			firstSet = true
		}
		if prevBuf != nil {
			putPageId(prevBuf[4:8], id)
		}

		remaining := len(value) - offset
		if remaining > payloadCap {
			putUint32(buf[0:4], overflowFull)
			copy(buf[overflowHeaderSize:], value[offset:offset+payloadCap])
			offset += payloadCap
			prevBuf = buf
			continue
		}

		putUint32(buf[0:4], uint32(remaining))
		copy(buf[overflowHeaderSize:], value[offset:offset+remaining])
		break
	}
	return first
}

// readOverflowChain walks the chain starting at id and concatenates
// every page's payload.
func readOverflowChain(id PageId, obtain func(PageId) []byte) ([]byte, error) {
	var out []byte
	for {
		hdr, payload, err := splitRecord[rawOverflowHeader](obtain(id))
		if err != nil {
			return nil, newError(KindCorrupted, "overflow page too short")
		}
		if hdr.Len == overflowFull {
			out = append(out, payload...)
			id = hdr.Next
			continue
		}
		out = append(out, payload[:hdr.Len]...)
		return out, nil
	}
}

// deleteOverflowChain frees every page in the chain starting at id.
func deleteOverflowChain(id PageId, obtain func(PageId) []byte, free func(PageId)) {
	for {
		hdr, _, err := splitRecord[rawOverflowHeader](obtain(id))
		if err != nil {
			return
		}
		next := hdr.Next
		length := hdr.Len
		free(id)
		if length != overflowFull {
			return
		}
		id = next
	}
}

// overflowChunkCount returns the number of pages a totalLen-byte chain
// requires. The caller must not invoke this with totalLen == 0; callers
// that need an empty chain (e.g. freelist serialization) pad to at
// least one word so the length is never zero.
func overflowChunkCount(totalLen, pageSize int) int {
	payloadCap := pageSize - overflowHeaderSize
	return (totalLen + payloadCap - 1) / payloadCap
}
