package dnsutil

import "encoding/binary"

// Question is a decoded question entry.
type Question struct {
	Name  string
	Type  uint16
	Class uint16
}

// RR is a decoded resource record. Data is a view into the message.
type RR struct {
	Name  string
	Type  uint16
	Class uint16
	TTL   uint32
	Data  []byte

	// DataOffset is the offset of Data within the message.
	DataOffset int
	ttlOffset  int
}

// DecodeQuestion decodes the question at off and returns the bytes consumed.
func DecodeQuestion(msg []byte, off int) (Question, int, error) {
	name, n, err := ExpandName(msg, off)
	if err != nil {
		return Question{}, 0, err
	}
	p := off + n
	if p+4 > len(msg) {
		return Question{}, 0, ErrTruncated
	}
	return Question{
		Name:  name,
		Type:  binary.BigEndian.Uint16(msg[p:]),
		Class: binary.BigEndian.Uint16(msg[p+2:]),
	}, n + 4, nil
}

// FirstQuestion decodes the question following the header.
func FirstQuestion(p Packet) (Question, error) {
	if !p.Valid() {
		return Question{}, ErrTruncated
	}
	q, _, err := DecodeQuestion(p, HeaderSize)
	return q, err
}

// DecodeRR decodes the resource record at off and returns the bytes consumed.
func DecodeRR(msg []byte, off int) (RR, int, error) {
	name, n, err := ExpandName(msg, off)
	if err != nil {
		return RR{}, 0, err
	}
	return decodeRRAfterName(msg, off, n, name)
}

func decodeRRAfterName(msg []byte, off, n int, name string) (RR, int, error) {
	p := off + n
	if p+10 > len(msg) {
		return RR{}, 0, ErrTruncated
	}
	rdlen := int(binary.BigEndian.Uint16(msg[p+8:]))
	if p+10+rdlen > len(msg) {
		return RR{}, 0, ErrTruncated
	}
	return RR{
		Name:       name,
		Type:       binary.BigEndian.Uint16(msg[p:]),
		Class:      binary.BigEndian.Uint16(msg[p+2:]),
		TTL:        binary.BigEndian.Uint32(msg[p+4:]),
		Data:       msg[p+10 : p+10+rdlen],
		DataOffset: p + 10,
		ttlOffset:  p + 4,
	}, n + 10 + rdlen, nil
}

// skipRR decodes a record without expanding its owner name.
func skipRR(msg []byte, off int) (RR, int, error) {
	n, err := SkipName(msg, off)
	if err != nil {
		return RR{}, 0, err
	}
	return decodeRRAfterName(msg, off, n, "")
}
