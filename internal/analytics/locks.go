package analytics

import (
	"encoding/binary"
	"sync"

	"github.com/zeebo/blake3"
)

const farmerLockStripes = 64

// stripedLocks serializes updates per farmer without a lock per address.
// Addresses are spread over the stripes by their blake3 digest.
type stripedLocks struct {
	stripes [farmerLockStripes]sync.Mutex
}

func (l *stripedLocks) index(address string) int {
	sum := blake3.Sum256([]byte(address))
	return int(binary.LittleEndian.Uint64(sum[:8]) % farmerLockStripes)
}

// lock acquires the stripe for address and returns its unlock func
func (l *stripedLocks) lock(address string) func() {
	m := &l.stripes[l.index(address)]
	m.Lock()
	return m.Unlock
}
