package cache

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/nonamed-dns/nonamed/dnsutil"
)

// Magic starts every cache snapshot.
var Magic = [4]byte{'N', 'N', 'D', 3}

// recordSize is the fixed part of a snapshot record:
// inserted unix seconds (8), flags (1), reserved (1), packet size (4), usage (4).
const recordSize = 18

// ErrCorrupt is returned when a snapshot does not parse.
var ErrCorrupt = errors.New("cache snapshot corrupt")

// WriteTo writes a snapshot of every unexpired entry, oldest first.
func (c *Cache) WriteTo(w io.Writer) (int64, error) {
	bw := bufio.NewWriter(w)
	written := int64(0)

	n, err := bw.Write(Magic[:])
	written += int64(n)
	if err != nil {
		return written, err
	}

	now := c.Now()
	var rec [recordSize]byte
	for el := c.lru.Back(); el != nil; el = el.Prev() {
		e := el.Value.(*Entry)
		if c.Expired(e, now) {
			continue
		}

		binary.BigEndian.PutUint64(rec[0:], uint64(e.Inserted.Unix()))
		rec[8] = e.Flags
		rec[9] = 0
		binary.BigEndian.PutUint32(rec[10:], uint32(len(e.Packet)))
		binary.BigEndian.PutUint32(rec[14:], uint32(e.Usage))

		n, err = bw.Write(rec[:])
		written += int64(n)
		if err != nil {
			return written, err
		}
		n, err = bw.Write(e.Packet)
		written += int64(n)
		if err != nil {
			return written, err
		}
	}

	return written, bw.Flush()
}

// ReadFrom loads a snapshot. Entries are inserted as most recently used in
// file order. On a bad magic or a truncated record everything loaded is
// discarded and ErrCorrupt is returned.
func (c *Cache) ReadFrom(r io.Reader) (int64, error) {
	br := bufio.NewReader(r)
	read := int64(0)

	var magic [4]byte
	n, err := io.ReadFull(br, magic[:])
	read += int64(n)
	if err != nil || magic != Magic {
		return read, c.corrupt(err)
	}

	var rec [recordSize]byte
	for {
		n, err = io.ReadFull(br, rec[:])
		read += int64(n)
		if err == io.EOF {
			return read, nil
		}
		if err != nil {
			return read, c.corrupt(err)
		}

		size := int(binary.BigEndian.Uint32(rec[10:]))
		if size < dnsutil.HeaderSize || size > dnsutil.MaxMessageSize {
			return read, c.corrupt(nil)
		}

		pkt := make(dnsutil.Packet, size)
		n, err = io.ReadFull(br, pkt)
		read += int64(n)
		if err != nil {
			return read, c.corrupt(err)
		}

		minttl := dnsutil.MinimumTTL(pkt, 0)
		if minttl == 0 {
			continue
		}
		q, err := dnsutil.FirstQuestion(pkt)
		if err != nil {
			continue
		}

		inserted := time.Unix(int64(binary.BigEndian.Uint64(rec[0:])), 0)
		e := &Entry{
			Packet:   pkt,
			Inserted: inserted,
			Stale:    inserted.Add(time.Duration(minttl) * time.Second),
			Usage:    uint16(binary.BigEndian.Uint32(rec[14:])),
			Flags:    rec[8],
			Name:     q.Name,
			Type:     q.Type,
			key:      Key(q.Name, q.Type),
		}
		if e.Flags&FlagRefresh != 0 {
			c.refresh = true
		}
		c.Put(e)
	}
}

func (c *Cache) corrupt(err error) error {
	c.Clear()
	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
		return fmt.Errorf("%w: %w", ErrCorrupt, err)
	}
	return ErrCorrupt
}

// Save writes a snapshot to the store.
func (c *Cache) Save(s Store) error {
	var buf bytes.Buffer
	if _, err := c.WriteTo(&buf); err != nil {
		return err
	}
	return s.Save(buf.Bytes())
}

// Restore loads a snapshot from the store. A missing snapshot is not an error.
func (c *Cache) Restore(s Store) error {
	data, err := s.Load()
	if err != nil {
		return err
	}
	if data == nil {
		return nil
	}
	_, err = c.ReadFrom(bytes.NewReader(data))
	return err
}
