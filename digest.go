package mapreduce

import (
	"encoding/binary"

	"github.com/cespare/xxhash/v2"
)

// digestSeed is the xxhash seed for the second of the two 64-bit sums
// that make up a Digest (the first uses seed 0), so the two halves are
// not simply the same hash repeated.
const digestSeed = 0x9e3779b97f4a7c15

// Digest is a 128-bit content digest over serialized value bytes, used
// by DedupTable to collapse byte-equal payloads to a single spill
// offset. It is not a cryptographic digest; it only
// requires a fixed-width function whose collisions are acceptably rare
// for deduplication.
type Digest [16]byte

// sumDigest computes the Digest of p by combining two xxhash64 sums
// taken at distinct seeds into one 128-bit value.
func sumDigest(p []byte) Digest {
	var d Digest
	binary.BigEndian.PutUint64(d[0:8], xxhash.Sum64(p))

	h := xxhash.NewWithSeed(digestSeed)
	h.Write(p) //nolint:errcheck // hash.Hash.Write never returns an error
	binary.BigEndian.PutUint64(d[8:16], h.Sum64())

	return d
}
