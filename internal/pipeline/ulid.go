package pipeline

import (
	"crypto/rand"
	"encoding/binary"
	"sync"
	"time"
)

// Run IDs are ULIDs: 26-character Crockford Base32 strings with a
// millisecond timestamp prefix, so run listings sort chronologically.

var (
	ulidMu  sync.Mutex
	lastTS  uint64
	lastSeq uint16
)

const crockford = "0123456789ABCDEFGHJKMNPQRSTVWXYZ"

func generateULID() string {
	ulidMu.Lock()
	defer ulidMu.Unlock()

	ts := uint64(time.Now().UnixMilli())
	if ts == lastTS {
		lastSeq++
	} else {
		lastTS = ts
		lastSeq = 0
	}

	var b [16]byte
	// Timestamp in the first 6 bytes (big-endian 48-bit).
	for i := 0; i < 6; i++ {
		b[i] = byte(ts >> (40 - 8*i))
	}
	rand.Read(b[6:])
	// The sequence counter in bytes 6-7 keeps IDs unique within one ms.
	binary.BigEndian.PutUint16(b[6:8], lastSeq)

	return encodeULID(b)
}

// encodeULID renders 128 bits as 26 Crockford Base32 characters, MSB
// first. 26 characters hold 130 bits; the value is padded with 2 zero
// bits in front, so the first character carries only 3 data bits.
func encodeULID(b [16]byte) string {
	var out [26]byte
	for i := range out {
		start := i*5 - 2
		var v byte
		for j := 0; j < 5; j++ {
			bit := start + j
			v <<= 1
			if bit < 0 {
				continue
			}
			if b[bit/8]&(1<<(7-bit%8)) != 0 {
				v |= 1
			}
		}
		out[i] = crockford[v]
	}
	return string(out[:])
}
