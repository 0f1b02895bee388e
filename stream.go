package pogg

import (
	"io"

	"github.com/pkg/errors"
)

// Stream is a logical bitstream handle, per spec.md §4.7 and §9's
// back-reference design note: a lightweight value holding a non-owning
// reference to its physical Decoder plus its serial number. Its lifetime is
// scoped by Decoder.Open/Close.
type Stream struct {
	dec    *Decoder
	serial uint32
}

// Serial returns the logical stream's serial number.
func (s *Stream) Serial() uint32 {
	return s.serial
}

// ReadPage returns the next physical page belonging to this serial,
// delegating to the owning Decoder, per spec.md §4.7.
func (s *Stream) ReadPage() (Page, error) {
	return s.dec.nextPageForSerial(s.serial)
}

// ReadPacket returns the next reassembled packet for this serial. It loops:
// attempt PacketOut on the demultiplexer; on NeedMore, pull the next page
// for this serial and feed it in; repeat. It returns io.EOF once ReadPage
// does, per spec.md §4.7.
//
// Returns ErrClosedResource if this stream (or its owning Decoder) was
// already closed, rather than dereferencing the now-absent demultiplexer.
func (s *Stream) ReadPacket() (Packet, error) {
	dm, ok := s.dec.demuxers[s.serial]
	if !ok {
		return Packet{}, errors.WithStack(ErrClosedResource)
	}
	for {
		if pkt, ok := dm.PacketOut(); ok {
			return pkt, nil
		}
		p, err := s.ReadPage()
		if err != nil {
			return Packet{}, err
		}
		if err := dm.PageIn(p); err != nil {
			return Packet{}, err
		}
	}
}

// ReadHeaders reads up to max leading packets, invoking fn with each one's
// ordinal and bytes. fn returns false to stop early. Mirrors
// iLya2IK-googg's SetOnReadHeader/ReadHeaders callback shape.
func (s *Stream) ReadHeaders(max int, fn func(id int, data []byte) (bool, error)) error {
	for i := 0; i < max; i++ {
		pkt, err := s.ReadPacket()
		if err != nil {
			return err
		}
		cont, err := fn(i, pkt.Data)
		if err != nil {
			return err
		}
		if !cont {
			break
		}
	}
	return nil
}

// EachPage returns a pull-based, single-pass, finite iterator over this
// stream's remaining pages. It is not restartable without a seek, per
// spec.md §4.7.
func (s *Stream) EachPage() func() (Page, bool, error) {
	done := false
	return func() (Page, bool, error) {
		if done {
			return Page{}, false, nil
		}
		p, err := s.ReadPage()
		if err != nil {
			done = true
			if err == io.EOF {
				return Page{}, false, nil
			}
			return Page{}, false, err
		}
		return p, true, nil
	}
}

// EachPacket returns a pull-based, single-pass, finite iterator over this
// stream's remaining packets.
func (s *Stream) EachPacket() func() (Packet, bool, error) {
	done := false
	return func() (Packet, bool, error) {
		if done {
			return Packet{}, false, nil
		}
		pkt, err := s.ReadPacket()
		if err != nil {
			done = true
			if err == io.EOF {
				return Packet{}, false, nil
			}
			return Packet{}, false, err
		}
		return pkt, true, nil
	}
}

// Close releases this stream's demultiplexer state and page queue, via the
// owning Decoder.
func (s *Stream) Close() {
	s.dec.Close(s.serial)
}
