package ordkv

import (
	"encoding/binary"
	"math/bits"
)

// freeBitmap tracks reusable page ids (§4.8): bit i of word w represents
// page id w*64+i. Allocation scans from the high end so low page ids
// stay stable and frees cluster toward the file tail.
type freeBitmap struct {
	words []uint64
}

func newFreeBitmap() *freeBitmap {
	return &freeBitmap{}
}

func (b *freeBitmap) ensureWords(n int) {
	if n <= len(b.words) {
		return
	}
	grown := make([]uint64, n)
	copy(grown, b.words)
	b.words = grown
}

// free marks count consecutive page ids starting at id as reusable.
func (b *freeBitmap) free(id PageId, count int) {
	for i := 0; i < count; i++ {
		pid := uint32(id) + uint32(i)
		word, bit := pid/64, pid%64
		b.ensureWords(int(word) + 1)
		b.words[word] |= 1 << bit
	}
}

// take1 returns and clears the highest free page id, or false if none
// is free.
func (b *freeBitmap) take1() (PageId, bool) {
	for w := len(b.words) - 1; w >= 0; w-- {
		if b.words[w] == 0 {
			continue
		}
		bit := bits.Len64(b.words[w]) - 1
		b.words[w] &^= 1 << uint(bit)
		b.truncate()
		return PageId(uint32(w)*64 + uint32(bit)), true
	}
	return 0, false
}

// takeN returns and clears n consecutive free page ids, returning the
// lowest id in the run, or false if no such run exists. Scans from the
// highest bit down so runs found first are as close to the tail as
// possible.
func (b *freeBitmap) takeN(n int) (PageId, bool) {
	if n == 1 {
		return b.take1()
	}
	total := len(b.words) * 64
	runLen := 0
	runHigh := -1
	for i := total - 1; i >= 0; i-- {
		word, bit := i/64, i%64
		if b.words[word]&(1<<uint(bit)) != 0 {
			if runLen == 0 {
				runHigh = i
			}
			runLen++
			if runLen == n {
				for j := i; j <= runHigh; j++ {
					w, bb := j/64, j%64
					b.words[w] &^= 1 << uint(bb)
				}
				b.truncate()
				return PageId(uint32(i)), true
			}
		} else {
			runLen = 0
		}
	}
	return 0, false
}

// resize pads or truncates the bitmap to exactly byteLen bytes (rounded
// down to a whole word), matching whatever chunk capacity the caller
// has already reserved for serialize's output.
func (b *freeBitmap) resize(byteLen int) {
	words := byteLen / 8
	if words <= len(b.words) {
		b.words = b.words[:words]
		return
	}
	grown := make([]uint64, words)
	copy(grown, b.words)
	b.words = grown
}

// truncate drops trailing all-zero words.
func (b *freeBitmap) truncate() {
	for len(b.words) > 0 && b.words[len(b.words)-1] == 0 {
		b.words = b.words[:len(b.words)-1]
	}
}

func bytesLenForStoringPage(id PageId) int {
	words := (uint32(id) + 1 + 63) / 64
	return int(words) * 8
}

// serialize encodes the bitmap as little-endian 64-bit words. An empty
// bitmap still serializes to one zero word: Chunk::count(0, P) is
// undefined for a zero-length chain, so the freelist is never written
// as a genuinely empty chain.
func (b *freeBitmap) serialize() []byte {
	n := len(b.words)
	if n == 0 {
		n = 1
	}
	buf := make([]byte, n*8)
	for i, w := range b.words {
		binary.LittleEndian.PutUint64(buf[i*8:], w)
	}
	return buf
}

func deserializeFreeBitmap(buf []byte) *freeBitmap {
	n := len(buf) / 8
	words := make([]uint64, n)
	for i := 0; i < n; i++ {
		words[i] = binary.LittleEndian.Uint64(buf[i*8:])
	}
	bm := &freeBitmap{words: words}
	bm.truncate()
	return bm
}
