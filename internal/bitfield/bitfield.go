// Package bitfield wraps willf/bitset behind the narrow interface the peer
// wire protocol's Bitfield/Have messages need: a
// thread-safe has/set-piece bitmap, the way uber-kraken's scheduler/dispatch
// package wraps the same library in its syncBitfield type.
package bitfield

import (
	"sync"

	"github.com/willf/bitset"
)

// Bitfield is a thread-safe, fixed-size bitmap indexed by piece index.
type Bitfield struct {
	mu  sync.RWMutex
	set *bitset.BitSet
}

// New returns a Bitfield with numPieces bits, all clear.
func New(numPieces int) *Bitfield {
	return &Bitfield{set: bitset.New(uint(numPieces))}
}

// FromWire decodes the packed-bits payload of a peer's Bitfield message
// into a Bitfield sized to numPieces. Trailing spare bits (padding to a byte
// boundary) are ignored.
func FromWire(payload []byte, numPieces int) *Bitfield {
	bf := New(numPieces)
	for i := 0; i < numPieces; i++ {
		byteIndex := i / 8
		if byteIndex >= len(payload) {
			break
		}
		offset := uint(i % 8)
		if payload[byteIndex]>>(7-offset)&1 != 0 {
			bf.set.Set(uint(i))
		}
	}
	return bf
}

// Has reports whether piece index is set.
func (b *Bitfield) Has(index int) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.set.Test(uint(index))
}

// Set marks piece index as present.
func (b *Bitfield) Set(index int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.set.Set(uint(index))
}

// Len returns the number of bits the Bitfield was sized to.
func (b *Bitfield) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return int(b.set.Len())
}
