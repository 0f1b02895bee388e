package pogg

import (
	"encoding/binary"

	"github.com/pkg/errors"
)

const (
	pageHeaderSize = 27
	maxLacingBytes = 255
	// MaxPageSize is the largest a single Ogg page can be: the fixed header,
	// a full 255-byte lacing table, and 255 segments of 255 bytes each.
	MaxPageSize = pageHeaderSize + maxLacingBytes + maxLacingBytes*maxLacingBytes
)

var capturePattern = [4]byte{'O', 'g', 'g', 'S'}

const (
	flagContinued byte = 1 << 0
	flagBOS       byte = 1 << 1
	flagEOS       byte = 1 << 2
)

// Page is a single Ogg framing unit: header fields, lacing table, and body.
// See spec.md §3 "Page" / §6 wire format table.
//
// A Page returned by ParsePage with copy=false borrows its Body and Lacing
// slices from the SyncBuffer that produced it; those slices are invalid
// after the buffer's next Reserve or Reset. Call Copy to obtain an owning
// value safe to retain.
type Page struct {
	Continued bool
	BOS       bool
	EOS       bool
	Granule   int64
	Serial    uint32
	Sequence  uint32
	Lacing    []byte
	Body      []byte
}

// Copy returns a Page with its own private backing arrays, safe to retain
// past the lifetime of whatever produced the receiver.
func (p Page) Copy() Page {
	out := p
	out.Lacing = append([]byte(nil), p.Lacing...)
	out.Body = append([]byte(nil), p.Body...)
	return out
}

// Packets reports how many packets are completable on this page: the count
// of lacing entries whose value is < 255 (each such entry terminates a
// packet). A trailing run of 255s that never terminates does not count.
func (p Page) Packets() int {
	n := 0
	for _, l := range p.Lacing {
		if l < 255 {
			n++
		}
	}
	return n
}

// flags packs Continued/BOS/EOS into the header type byte.
func (p Page) flags() byte {
	var f byte
	if p.Continued {
		f |= flagContinued
	}
	if p.BOS {
		f |= flagBOS
	}
	if p.EOS {
		f |= flagEOS
	}
	return f
}

// headerLen is the size of the fixed header plus lacing table, before the body.
func (p Page) headerLen() int {
	return pageHeaderSize + len(p.Lacing)
}

// byteLen is the total wire size of the page.
func (p Page) byteLen() int {
	return p.headerLen() + len(p.Body)
}

// Marshal serializes the page to its wire representation, computing and
// embedding the CRC32 per spec.md §4.1. The body length must equal the sum
// of the lacing table; the lacing table must not exceed 255 entries.
func (p Page) Marshal() ([]byte, error) {
	if len(p.Lacing) > maxLacingBytes {
		return nil, errors.WithStack(ErrSegmentTableTooLarge)
	}
	buf := make([]byte, p.byteLen())
	copy(buf[0:4], capturePattern[:])
	buf[4] = 0 // version
	buf[5] = p.flags()
	binary.LittleEndian.PutUint64(buf[6:14], uint64(p.Granule))
	binary.LittleEndian.PutUint32(buf[14:18], p.Serial)
	binary.LittleEndian.PutUint32(buf[18:22], p.Sequence)
	// buf[22:26] (CRC) left zero until computed below.
	buf[26] = byte(len(p.Lacing))
	copy(buf[27:27+len(p.Lacing)], p.Lacing)
	copy(buf[p.headerLen():], p.Body)

	crc := pageChecksumFresh(buf)
	binary.LittleEndian.PutUint32(buf[22:26], crc)
	return buf, nil
}

// pageChecksumFresh computes the checksum of a freshly built buffer whose
// CRC field is already zero (as opposed to pageChecksum, which must save and
// restore a non-zero field for re-verification).
func pageChecksumFresh(buf []byte) uint32 {
	return crcInit().updateMany(buf).finalize()
}

// ParsePage validates and decodes a single page from the front of buf.
// buf must contain at least one complete page; ParsePage never reads past
// the page it parses. If copy is false, the returned Page's Lacing and Body
// slices alias buf; if true, they are freshly allocated.
//
// Fail conditions, per spec.md §4.2: ErrTruncated if buf is too short to
// contain a full page, ErrBadVersion if the version byte isn't 0,
// ErrChecksum if the embedded CRC doesn't match. The capture pattern is
// assumed already verified by the caller (the sync buffer locates it); this
// function still checks it defensively and returns ErrBadCapturePattern.
func ParsePage(buf []byte, copyOut bool) (Page, int, error) {
	if len(buf) < pageHeaderSize {
		return Page{}, 0, errors.WithStack(ErrTruncated)
	}
	if buf[0] != capturePattern[0] || buf[1] != capturePattern[1] ||
		buf[2] != capturePattern[2] || buf[3] != capturePattern[3] {
		return Page{}, 0, errors.WithStack(ErrBadCapturePattern)
	}
	if buf[4] != 0 {
		return Page{}, 0, errors.WithStack(ErrBadVersion)
	}
	nsegs := int(buf[26])
	if len(buf) < pageHeaderSize+nsegs {
		return Page{}, 0, errors.WithStack(ErrTruncated)
	}
	lacing := buf[pageHeaderSize : pageHeaderSize+nsegs]
	bodyLen := 0
	for _, l := range lacing {
		bodyLen += int(l)
	}
	total := pageHeaderSize + nsegs + bodyLen
	if len(buf) < total {
		return Page{}, 0, errors.WithStack(ErrTruncated)
	}

	region := buf[:total]
	expected := binary.LittleEndian.Uint32(region[22:26])
	got := pageChecksum(append([]byte(nil), region...))
	if got != expected {
		return Page{}, 0, errors.WithStack(ErrChecksum)
	}

	flags := region[5]
	p := Page{
		Continued: flags&flagContinued != 0,
		BOS:       flags&flagBOS != 0,
		EOS:       flags&flagEOS != 0,
		Granule:   int64(binary.LittleEndian.Uint64(region[6:14])),
		Serial:    binary.LittleEndian.Uint32(region[14:18]),
		Sequence:  binary.LittleEndian.Uint32(region[18:22]),
		Lacing:    region[pageHeaderSize : pageHeaderSize+nsegs],
		Body:      region[pageHeaderSize+nsegs : total],
	}
	if copyOut {
		p = p.Copy()
	}
	return p, total, nil
}
