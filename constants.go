package ordkv

// On-disk format constants.
const (
	// Magic identifies an ordkv file.
	Magic uint32 = 0xDB314159

	// DataVersion is the on-disk format version.
	DataVersion uint32 = 1

	// MinPageSize is the smallest page size accepted at open.
	MinPageSize = 4096

	// MinPageSizeForMerge is the lower bound on page size required for
	// the underflow/merge invariant in §4.6 to hold given MaxKeyLen.
	MinPageSizeForMerge = 510

	// MaxFileSize caps the backing file at 4 GiB.
	MaxFileSize = 4 << 30

	// maxGrowthStep is the largest single increment added while growing
	// the backing file toward a target size.
	maxGrowthStep = 4 << 20
)

// Record limits.
const (
	// MaxKeyLen is the largest key accepted by put, in bytes.
	MaxKeyLen = 255

	// MaxValueLen is the largest value accepted by put, in bytes (10 MiB).
	MaxValueLen = 10 * 1024 * 1024

	// overflowRatio is the fraction of a page a value must exceed, as
	// len(value)/pageSize, before it is stored out of line.
	overflowRatio = 0.25

	// underflowThreshold is the fill rate at or below which a node becomes
	// a merge candidate.
	underflowThreshold = 0.35
)

// Page identifiers reserved by the initial layout.
const (
	metaPageID     PageId = 0
	rootPageID     PageId = 1
	freelistPageID PageId = 2
	firstFreePage  PageId = 3
)

// Node type tag stored in the first byte of a B+ tree node page.
type nodeType uint8

const (
	nodeTypeBranch nodeType = 0
	nodeTypeLeaf   nodeType = 1
)

// Leaf value kind tag.
type valueKind uint8

const (
	valueInline   valueKind = 0
	valueOverflow valueKind = 1
)
