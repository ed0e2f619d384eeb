package vplic

import (
	"math/bits"
	"sync"
)

const irqSetWords = (NumSources + 63) / 64

// irqBits is a fixed-capacity bitmap with one bit per interrupt source.
// It is not safe for concurrent use; irqSet pairs it with a lock.
type irqBits [irqSetWords]uint64

func (b *irqBits) get(id int) bool {
	if id < 0 || id >= NumSources {
		return false
	}
	return b[id/64]&(1<<(uint(id)%64)) != 0
}

// set updates the bit for id and reports whether it changed.
// Out of range ids are ignored.
func (b *irqBits) set(id int, value bool) bool {
	if id < 0 || id >= NumSources {
		return false
	}
	mask := uint64(1) << (uint(id) % 64)
	word := &b[id/64]
	old := *word&mask != 0
	if value {
		*word |= mask
	} else {
		*word &^= mask
	}
	return old != value
}

// first returns the lowest set id, or -1 if the bitmap is empty.
func (b *irqBits) first() int {
	for i, word := range b {
		if word != 0 {
			return i*64 + bits.TrailingZeros64(word)
		}
	}
	return -1
}

func (b *irqBits) empty() bool {
	return b.first() < 0
}

func (b *irqBits) count() int {
	n := 0
	for _, word := range b {
		n += bits.OnesCount64(word)
	}
	return n
}

// word32 returns the 32 source bits starting at source index*32.
func (b *irqBits) word32(index int) uint32 {
	start := index * sourcesPerWord
	if start < 0 || start >= NumSources {
		return 0
	}
	return uint32(b[start/64] >> (uint(start) % 64))
}

func (b *irqBits) ids() []int {
	var out []int
	for i, word := range b {
		for word != 0 {
			bit := bits.TrailingZeros64(word)
			out = append(out, i*64+bit)
			word &^= 1 << uint(bit)
		}
	}
	return out
}

// irqSet is an independently lockable irqBits.
type irqSet struct {
	mu   sync.Mutex
	bits irqBits
}

func (s *irqSet) lock() *irqBits {
	s.mu.Lock()
	return &s.bits
}

func (s *irqSet) unlock() {
	s.mu.Unlock()
}

func (s *irqSet) get(id int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.bits.get(id)
}

func (s *irqSet) set(id int, value bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.bits.set(id, value)
}

func (s *irqSet) empty() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.bits.empty()
}

func (s *irqSet) snapshot() irqBits {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.bits
}

func (s *irqSet) store(b irqBits) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bits = b
}
