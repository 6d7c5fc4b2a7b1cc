// Package ordkv implements an embedded, single-file, ordered key-value
// store over a memory-mapped B+ tree with shadow-paging commits.
//
// It exposes point lookup, ordered traversal, insert/update, and delete
// over opaque byte keys and values, with snapshot isolation between a
// single writer and any number of concurrent readers. A committed write
// is durable; an aborted writer leaves the file untouched.
//
// Basic usage:
//
//	h, err := ordkv.Open("/path/to/data.ordkv", ordkv.DefaultOptions())
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer h.Close()
//
//	if err := h.Put([]byte("k"), []byte("v")); err != nil {
//		log.Fatal(err)
//	}
//	v, ok, err := h.Get([]byte("k"))
package ordkv
