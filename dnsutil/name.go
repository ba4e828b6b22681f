package dnsutil

import (
	"encoding/binary"
	"strings"
)

// ExpandName reads the possibly compressed name at off. It returns the
// name in presentation form with a trailing dot and the number of bytes
// the name occupies at off.
//
// Every pointer must point before the segment that contains it, so
// forward pointers and loops are rejected without a hop counter.
func ExpandName(msg []byte, off int) (string, int, error) {
	var sb strings.Builder

	pos := off
	segment := off
	consumed := -1
	wire := 0

	for {
		if pos >= len(msg) {
			return "", 0, ErrTruncated
		}

		c := int(msg[pos])
		switch c & 0xc0 {
		case 0x00:
			if c == 0 {
				wire++
				if wire > MaxNameLen {
					return "", 0, ErrNameTooLong
				}
				if consumed < 0 {
					consumed = pos + 1 - off
				}
				if sb.Len() == 0 {
					sb.WriteByte('.')
				}
				return sb.String(), consumed, nil
			}
			if pos+1+c > len(msg) {
				return "", 0, ErrTruncated
			}
			wire += c + 1
			if wire >= MaxNameLen {
				return "", 0, ErrNameTooLong
			}
			writeLabel(&sb, msg[pos+1:pos+1+c])
			sb.WriteByte('.')
			pos += 1 + c
		case 0xc0:
			if pos+2 > len(msg) {
				return "", 0, ErrTruncated
			}
			ptr := int(binary.BigEndian.Uint16(msg[pos:]) & 0x3fff)
			if ptr >= segment {
				return "", 0, ErrCompression
			}
			if consumed < 0 {
				consumed = pos + 2 - off
			}
			pos, segment = ptr, ptr
		default:
			return "", 0, ErrCompression
		}
	}
}

// SkipName returns the number of bytes the name at off occupies without
// building its presentation form.
func SkipName(msg []byte, off int) (int, error) {
	pos := off
	for {
		if pos >= len(msg) {
			return 0, ErrTruncated
		}
		c := int(msg[pos])
		switch c & 0xc0 {
		case 0x00:
			if c == 0 {
				return pos + 1 - off, nil
			}
			pos += 1 + c
		case 0xc0:
			if pos+2 > len(msg) {
				return 0, ErrTruncated
			}
			return pos + 2 - off, nil
		default:
			return 0, ErrCompression
		}
	}
}

func writeLabel(sb *strings.Builder, label []byte) {
	for _, b := range label {
		switch {
		case b == '.' || b == '\\':
			sb.WriteByte('\\')
			sb.WriteByte(b)
		case b < '!' || b > '~':
			sb.WriteByte('\\')
			sb.WriteByte('0' + b/100)
			sb.WriteByte('0' + b/10%10)
			sb.WriteByte('0' + b%10)
		default:
			sb.WriteByte(b)
		}
	}
}

func lower(c byte) byte {
	if c >= 'A' && c <= 'Z' {
		return c + 'a' - 'A'
	}
	return c
}

// EqualNames compares two names ignoring ASCII case and a trailing dot.
func EqualNames(a, b string) bool {
	return EqualFold(strings.TrimSuffix(a, "."), strings.TrimSuffix(b, "."))
}

// HasPrefixFold reports whether s begins with prefix ignoring ASCII case.
func HasPrefixFold(s, prefix string) bool {
	return len(s) >= len(prefix) && EqualFold(s[:len(prefix)], prefix)
}

// EqualFold compares two strings ignoring ASCII case only.
func EqualFold(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := 0; i < len(a); i++ {
		if lower(a[i]) != lower(b[i]) {
			return false
		}
	}
	return true
}

// LowerName returns the name in lower case with a trailing dot.
func LowerName(name string) string {
	b := []byte(name)
	for i, c := range b {
		b[i] = lower(c)
	}
	if len(b) == 0 || b[len(b)-1] != '.' {
		b = append(b, '.')
	}
	return string(b)
}
