package cache

import (
	"github.com/cespare/xxhash/v2"
)

// Key hashes a question name and type. Names compare case-insensitively
// and with or without the trailing dot.
func Key(qname string, qtype uint16) uint64 {
	var kb [2 + 256]byte
	buf := kb[:0]

	// Format: [qtype:2][qname:variable]
	buf = append(buf, byte(qtype>>8), byte(qtype))

	for i := 0; i < len(qname); i++ {
		c := qname[i]
		if c >= 'A' && c <= 'Z' {
			c += 'a' - 'A'
		}
		buf = append(buf, c)
	}
	if len(qname) == 0 || qname[len(qname)-1] != '.' {
		buf = append(buf, '.')
	}

	return xxhash.Sum64(buf)
}
