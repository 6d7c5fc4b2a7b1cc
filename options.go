package ordkv

import (
	"os"

	"github.com/rs/zerolog"
)

// Options configures Open. A zero PageSize or MempoolCapacity selects
// the same default DefaultOptions uses.
type Options struct {
	// PageSize is the fixed page size for a newly created file. When
	// opening an existing file, the page size read from the meta page is
	// used for page addressing, but this field is still validated. Zero
	// means the OS page size. Must be >= MinPageSize and
	// >= MinPageSizeForMerge.
	PageSize int

	// ForceSync syncs the mapping after writing dirty pages and again
	// after installing the new meta page, at the cost of commit latency.
	ForceSync bool

	// MempoolCapacity bounds the number of page-sized buffers kept
	// around between write transactions.
	MempoolCapacity int

	// Logger receives lifecycle diagnostics (store created or opened, a
	// meta page that fails validation on open, a completed commit). Nil
	// disables all logging; the engine never logs on the
	// get/put/delete hot path regardless.
	Logger *zerolog.Logger
}

// DefaultOptions returns the options used when a caller supplies none.
func DefaultOptions() Options {
	return Options{
		PageSize:        os.Getpagesize(),
		ForceSync:       false,
		MempoolCapacity: 4,
	}
}

func (o Options) logDebug(msg string) {
	if o.Logger == nil {
		return
	}
	o.Logger.Debug().Msg(msg)
}

func (o Options) logWarn(msg string, err error) {
	if o.Logger == nil {
		return
	}
	o.Logger.Warn().Err(err).Msg(msg)
}

func (o Options) pageSize() int {
	if o.PageSize <= 0 {
		return os.Getpagesize()
	}
	return o.PageSize
}

func (o Options) mempoolCapacity() int {
	if o.MempoolCapacity <= 0 {
		return 4
	}
	return o.MempoolCapacity
}
