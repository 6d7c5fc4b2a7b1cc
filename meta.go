package ordkv

import "hash/crc32"

// metaSize is the encoded size of the meta page's fixed fields:
// magic, version, page_size, root, freelist, next, checksum.
const metaSize = 4*6 + 4

// metaPage is page 0 (§3, §4.9): the single atomic commit point.
type metaPage struct {
	magic     uint32
	version   uint32
	pageSize  uint32
	root      PageId
	freelist  PageId
	next      PageId
	checksum  uint32
}

func newInitialMeta(pageSize uint32) metaPage {
	m := metaPage{
		magic:    Magic,
		version:  DataVersion,
		pageSize: pageSize,
		root:     rootPageID,
		freelist: freelistPageID,
		next:     firstFreePage,
	}
	m.checksum = m.computeChecksum()
	return m
}

func (m metaPage) computeChecksum() uint32 {
	buf := make([]byte, metaSize-4)
	m.encodeFields(buf)
	return crc32.ChecksumIEEE(buf)
}

func (m metaPage) encodeFields(buf []byte) {
	putUint32(buf[0:4], m.magic)
	putUint32(buf[4:8], m.version)
	putUint32(buf[8:12], m.pageSize)
	putPageId(buf[12:16], m.root)
	putPageId(buf[16:20], m.freelist)
	putPageId(buf[20:24], m.next)
}

func (m metaPage) encode(buf []byte) {
	m.encodeFields(buf)
	putUint32(buf[24:28], m.checksum)
}

// rawMetaRecord is the fixed-layout view of the meta page's fields,
// reinterpreted directly from the mapped bytes via bytesview's asRecord
// rather than field-by-field decoding (§4.2).
type rawMetaRecord struct {
	Magic    uint32
	Version  uint32
	PageSize uint32
	Root     PageId
	Freelist PageId
	Next     PageId
	Checksum uint32
}

func decodeMeta(buf []byte) (metaPage, error) {
	rec, err := asRecord[rawMetaRecord](buf)
	if err != nil {
		return metaPage{}, newError(KindCorrupted, "meta page too short")
	}
	m := metaPage{
		magic:    rec.Magic,
		version:  rec.Version,
		pageSize: rec.PageSize,
		root:     rec.Root,
		freelist: rec.Freelist,
		next:     rec.Next,
		checksum: rec.Checksum,
	}
	return m, nil
}

// validate checks magic, version, checksum, and the invariants §3
// requires of an initialized file.
func (m metaPage) validate() error {
	if m.magic != Magic {
		return newError(KindFileUnexpected, "magic mismatch")
	}
	if m.version != DataVersion {
		return newError(KindFileUnexpected, "version mismatch")
	}
	if m.computeChecksum() != m.checksum {
		return newError(KindFileUnexpected, "checksum mismatch")
	}
	if int(m.pageSize) < metaSize {
		return newError(KindFileUnexpected, "page size smaller than meta record")
	}
	if m.next < firstFreePage {
		return newError(KindFileUnexpected, "next page cursor not initialized")
	}
	return nil
}
