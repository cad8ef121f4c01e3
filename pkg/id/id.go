// Package id issues ULID identifiers for snapshot versions and locally
// generated order ids. Versions are compared lexically in the journal, so
// ids must stay ordered even within a single millisecond.
package id

import (
	cryptoRand "crypto/rand"
	"encoding/binary"
	"io"
	"math/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

var (
	mu      sync.Mutex
	entropy io.Reader = newEntropy()
)

// newEntropy builds the monotonic entropy source, seeded from crypto/rand.
// Monotonicity is what lets LatestSnapshot take the lexical max as the
// newest version.
func newEntropy() io.Reader {
	var seed int64
	_ = binary.Read(cryptoRand.Reader, binary.LittleEndian, &seed)
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return ulid.Monotonic(rand.New(rand.NewSource(seed)), 0)
}

// New returns a fresh ULID string. Successive calls yield strictly
// increasing ids, so snapshot versions sort by generation time.
func New() string {
	mu.Lock()
	defer mu.Unlock()

	v, err := ulid.New(ulid.Timestamp(time.Now().UTC()), entropy)
	if err != nil {
		panic(err)
	}
	return v.String()
}
