package pogg

import (
	"io"
	"math/rand"
	"sort"
	"time"

	"github.com/go-kit/log"
	"github.com/pkg/errors"
)

// Encoder is the physical encoder of spec.md §4.9: it owns a Muxer per
// logical stream and a single byte sink, and serializes whatever pages each
// Muxer emits directly to it. Per spec.md's Non-goals, it does not
// interleave writes from multiple producing goroutines — callers drive it
// from one goroutine, one packet at a time.
type Encoder struct {
	sink    io.Writer
	ownSink bool

	muxers     map[uint32]*Muxer
	usedSerial map[uint32]bool
	rng        *rand.Rand

	closed bool
	logger log.Logger
}

// EncoderOption configures an Encoder at construction time.
type EncoderOption func(*Encoder)

// WithEncoderLogger attaches a structured logger to the encoder.
func WithEncoderLogger(logger log.Logger) EncoderOption {
	return func(e *Encoder) { e.logger = logger }
}

// OwnSink marks the byte sink as owned: if it implements io.Closer,
// Encoder.Close will close it too.
func OwnSink() EncoderOption {
	return func(e *Encoder) { e.ownSink = true }
}

// NewEncoder constructs a physical encoder writing to w. Serial numbers for
// AddStream are drawn from a private math/rand source seeded once here,
// rather than iLya2IK-googg's NewEncoder, which reseeds on every call via
// rand.Int63n(time.Now().UnixMilli()) and can panic once that argument is
// non-positive.
func NewEncoder(w io.Writer, opts ...EncoderOption) *Encoder {
	e := &Encoder{
		sink:       w,
		muxers:     make(map[uint32]*Muxer),
		usedSerial: make(map[uint32]bool),
		rng:        rand.New(rand.NewSource(time.Now().UnixNano())),
		logger:     log.NewNopLogger(),
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

func (e *Encoder) allocateSerial() uint32 {
	for {
		s := e.rng.Uint32()
		if s != 0 && !e.usedSerial[s] {
			e.usedSerial[s] = true
			return s
		}
	}
}

// AddStream opens a new logical stream with a freshly allocated serial
// number and returns it, per spec.md §4.9.
func (e *Encoder) AddStream() uint32 {
	serial := e.allocateSerial()
	e.muxers[serial] = NewMuxer(serial, e.logger)
	return serial
}

// Header writes data as a header packet of serial's stream and forces it
// onto its own page immediately, per spec.md §4.5's rule that header
// packets (granule 0) are never coalesced onto a page with other packets.
func (e *Encoder) Header(serial uint32, data []byte) error {
	m, ok := e.muxers[serial]
	if !ok {
		return errors.WithStack(ErrUnknownStream)
	}
	if err := e.drainFlush(m); err != nil {
		return err
	}
	m.PacketIn(data, 0, false)
	return e.drainFlush(m)
}

// Packet writes one data packet to serial's stream with the given granule
// position. last marks it as the stream's final packet, which forces an
// immediate flush of every page the stream still has pending so its EOS
// page is written without waiting on the size threshold.
func (e *Encoder) Packet(serial uint32, data []byte, granule int64, last bool) error {
	m, ok := e.muxers[serial]
	if !ok {
		return errors.WithStack(ErrUnknownStream)
	}
	m.PacketIn(data, granule, last)
	if last {
		return e.drainFlush(m)
	}
	return e.drain(m)
}

// Flush forces out whatever is pending for serial, irrespective of the
// page-emission threshold.
func (e *Encoder) Flush(serial uint32) error {
	m, ok := e.muxers[serial]
	if !ok {
		return errors.WithStack(ErrUnknownStream)
	}
	return e.drainFlush(m)
}

// CloseStream flushes and discards serial's Muxer. Use between chained
// links: fully flush and close every stream of one link before opening the
// next link's BOS pages, since chaining is sequential, never interleaved,
// per spec.md's Non-goals.
func (e *Encoder) CloseStream(serial uint32) error {
	m, ok := e.muxers[serial]
	if !ok {
		return nil
	}
	if err := e.drainFlush(m); err != nil {
		return err
	}
	delete(e.muxers, serial)
	return nil
}

// NextLink flushes and closes every currently open stream, leaving the
// Encoder ready for AddStream calls that begin a new chained physical
// stream.
func (e *Encoder) NextLink() error {
	for serial := range e.muxers {
		if err := e.CloseStream(serial); err != nil {
			return err
		}
	}
	return nil
}

// Close flushes every remaining open stream and, if the sink was marked
// owned via OwnSink, closes it too.
func (e *Encoder) Close() error {
	if e.closed {
		return nil
	}
	e.closed = true
	if err := e.NextLink(); err != nil {
		return err
	}
	if e.ownSink {
		if c, ok := e.sink.(io.Closer); ok {
			return c.Close()
		}
	}
	return nil
}

// Write is the higher-level operation of spec.md §4.9 and §6: given every
// serial's packets and parallel granule positions, it feeds each packet
// through PacketIn (last=true on a serial's final packet), flushing
// immediately whenever a packet's granule is 0 and otherwise draining
// whatever pages are ready, then flushes each serial to empty before moving
// to the next. Serials are processed in ascending order, one fully drained
// before the next begins — chained sequentially, never interleaved.
func (e *Encoder) Write(packetsBySerial map[uint32][][]byte, granulesBySerial map[uint32][]int64) error {
	serials := make([]uint32, 0, len(packetsBySerial))
	for serial := range packetsBySerial {
		serials = append(serials, serial)
	}
	sort.Slice(serials, func(i, j int) bool { return serials[i] < serials[j] })

	for _, serial := range serials {
		m, ok := e.muxers[serial]
		if !ok {
			return errors.WithStack(ErrUnknownStream)
		}
		packets := packetsBySerial[serial]
		granules := granulesBySerial[serial]
		for i, data := range packets {
			last := i == len(packets)-1
			granule := granules[i]
			m.PacketIn(data, granule, last)
			if granule == 0 {
				if err := e.drainFlush(m); err != nil {
					return err
				}
				continue
			}
			if err := e.drain(m); err != nil {
				return err
			}
		}
		if err := e.drainFlush(m); err != nil {
			return err
		}
	}
	return nil
}

func (e *Encoder) drain(m *Muxer) error {
	for {
		p := m.PageOut()
		if p == nil {
			return nil
		}
		if err := e.writePage(p); err != nil {
			return err
		}
	}
}

func (e *Encoder) drainFlush(m *Muxer) error {
	for {
		p := m.Flush()
		if p == nil {
			return nil
		}
		if err := e.writePage(p); err != nil {
			return err
		}
	}
}

func (e *Encoder) writePage(p *Page) error {
	buf, err := p.Marshal()
	if err != nil {
		return errors.Wrap(err, "pogg: marshal page")
	}
	if _, err := e.sink.Write(buf); err != nil {
		return errors.Wrap(err, "pogg: writing page")
	}
	return nil
}
