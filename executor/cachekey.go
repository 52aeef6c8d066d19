package executor

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"
)

// CacheKey is a composite key updated over {statement id, offset, limit,
// SQL text, each parameter value, environment id} (spec.md §4.H), exposed
// as a plain comparable string so it can key both LocalCache and any
// gobatis.CacheRegion map.
type CacheKey string

// NewCacheKey hashes its update sequence with sha256 over a
// length-prefixed encoding of each part's fmt.Sprintf("%v") text, so
// cache-key stability (spec.md §8 property 5) holds for any comparable or
// printable parameter value without requiring it to implement a specific
// hashing interface.
func NewCacheKey(statementID string, offset, limit int, sql string, params []interface{}, environmentID string) CacheKey {
	h := sha256.New()
	writePart(h, statementID)
	writePart(h, fmt.Sprintf("%d:%d", offset, limit))
	writePart(h, sql)
	for _, p := range params {
		writePart(h, fmt.Sprintf("%v", p))
	}
	writePart(h, environmentID)
	return CacheKey(fmt.Sprintf("%x", h.Sum(nil)))
}

func writePart(h interface{ Write([]byte) (int, error) }, s string) {
	var lenBuf [8]byte
	binary.BigEndian.PutUint64(lenBuf[:], uint64(len(s)))
	h.Write(lenBuf[:])
	h.Write([]byte(s))
}
