// Package peerid generates the client's 20-byte BitTorrent peer id.
package peerid

import (
	"math/rand"
)

const prefix = "-PC0001-"

// Generate returns a fresh peer id: the literal prefix "-PC0001-" followed
// by 12 ASCII decimal digits. It is constant for the lifetime of the
// process; callers generate it once at startup.
func Generate() [20]byte {
	var id [20]byte
	copy(id[:], prefix)
	for i := len(prefix); i < 20; i++ {
		id[i] = byte('0' + rand.Intn(10))
	}
	return id
}
