package pogg

import (
	"io"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/pkg/errors"
)

// readChunk is the fixed refill size the physical decoder requests from its
// byte source each time the sync buffer needs more data, per spec.md §4.6.
const readChunk = 4096

// Decoder is the physical decoder of spec.md §4.6: it owns the byte source,
// the sync buffer, the set of known logical streams discovered via BOS
// pages, and their per-stream page queues.
type Decoder struct {
	source    io.Reader
	ownSource bool

	sync *SyncBuffer

	bosPrequeue []Page
	knownSerial map[uint32]bool // serial -> true once opened (false: known but closed)

	demuxers map[uint32]*Demuxer
	queues   map[uint32][]Page

	copyPages bool
	closed    bool

	logger log.Logger
}

// DecoderOption configures a Decoder at construction time.
type DecoderOption func(*Decoder)

// WithLogger attaches a structured logger to the decoder.
func WithLogger(logger log.Logger) DecoderOption {
	return func(d *Decoder) { d.logger = logger }
}

// WithZeroCopy makes page reads alias the internal sync buffer instead of
// copying out of it. Zero-copy pages are only valid until the next read;
// see spec.md §5 and §9.
func WithZeroCopy() DecoderOption {
	return func(d *Decoder) { d.copyPages = false }
}

// OwnSource marks the byte source as owned: if it implements io.Closer,
// Decoder.Close will close it too.
func OwnSource() DecoderOption {
	return func(d *Decoder) { d.ownSource = true }
}

// NewDecoder constructs a physical decoder over r and immediately performs
// BOS discovery: it reads pages until the first non-BOS page, recording
// every BOS page's serial as a known logical stream, and buffers every page
// read (including that first non-BOS page) so no data is lost, per spec.md
// §4.6.
func NewDecoder(r io.Reader, opts ...DecoderOption) (*Decoder, error) {
	d := &Decoder{
		source:      r,
		sync:        NewSyncBuffer(nil),
		knownSerial: make(map[uint32]bool),
		demuxers:    make(map[uint32]*Demuxer),
		queues:      make(map[uint32][]Page),
		copyPages:   true,
		logger:      log.NewNopLogger(),
	}
	for _, o := range opts {
		o(d)
	}
	d.sync = NewSyncBuffer(d.logger)

	if err := d.discoverLink(); err != nil && err != io.EOF {
		return nil, err
	}
	return d, nil
}

// discoverLink runs the BOS preamble scan described in spec.md §4.6 and §3
// ("Physical Stream (link)"). It populates knownSerial and bosPrequeue.
func (d *Decoder) discoverLink() error {
	d.knownSerial = make(map[uint32]bool)
	d.bosPrequeue = nil

	for {
		p, err := d.rawNextPage()
		if err != nil {
			return err
		}
		d.bosPrequeue = append(d.bosPrequeue, p)
		if p.BOS {
			d.knownSerial[p.Serial] = false
			level.Debug(d.logger).Log("event", "bos_discovered", "serial", p.Serial)
			continue
		}
		break
	}
	return nil
}

// NextLink re-runs BOS discovery from the next unconsumed byte, per the
// chaining resolution in spec.md §9 ("after all opened streams emit EOS,
// re-run BOS discovery from the next unconsumed byte"). It clears all
// per-serial page queues and demultiplexer state; callers should Open fresh
// Stream handles for the new link's serials.
func (d *Decoder) NextLink() error {
	if d.closed {
		return errors.WithStack(ErrClosedResource)
	}
	for serial := range d.demuxers {
		d.demuxers[serial].Reset()
	}
	d.queues = make(map[uint32][]Page)
	d.demuxers = make(map[uint32]*Demuxer)
	return d.discoverLink()
}

// KnownSerials returns the serials discovered in the current link's BOS
// preamble.
func (d *Decoder) KnownSerials() []uint32 {
	out := make([]uint32, 0, len(d.knownSerial))
	for s := range d.knownSerial {
		out = append(out, s)
	}
	return out
}

// rawNextPage pulls the next page directly from the sync buffer, refilling
// from the byte source in fixed chunks as needed. Returns io.EOF once the
// source is exhausted and the sync buffer has nothing left to yield.
func (d *Decoder) rawNextPage() (Page, error) {
	for {
		p, status, skipped := d.sync.PageOut(d.copyPages)
		switch status {
		case syncOK:
			return p, nil
		case syncResync:
			level.Warn(d.logger).Log("event", "resync", "skipped_bytes", skipped)
			if d.sync.Unsynced() {
				// Bytes were skipped but no page followed them yet.
				continue
			}
			return p, nil
		case syncNeedMore:
			buf := d.sync.Reserve(readChunk)
			n, err := d.source.Read(buf)
			if n > 0 {
				d.sync.Wrote(n)
				continue
			}
			if err != nil {
				if err == io.EOF {
					return Page{}, io.EOF
				}
				return Page{}, errors.Wrap(err, "pogg: reading byte source")
			}
		}
	}
}

// NextPage returns the next page of the physical stream, in physical order,
// per spec.md §4.6's serial-less readpage(). BOS-preamble pages buffered
// during discovery are drained first.
func (d *Decoder) NextPage() (Page, error) {
	if d.closed {
		return Page{}, errors.WithStack(ErrClosedResource)
	}
	if len(d.bosPrequeue) > 0 {
		p := d.bosPrequeue[0]
		d.bosPrequeue = d.bosPrequeue[1:]
		return p, nil
	}
	return d.rawNextPage()
}

// nextPageForSerial implements spec.md §4.6's readpage(serial): pages
// belonging to other opened serials are queued; pages of unknown or
// unopened serials are silently discarded.
func (d *Decoder) nextPageForSerial(serial uint32) (Page, error) {
	if q := d.queues[serial]; len(q) > 0 {
		p := q[0]
		d.queues[serial] = q[1:]
		return p, nil
	}
	for {
		p, err := d.NextPage()
		if err != nil {
			return Page{}, err
		}
		if p.Serial == serial {
			return p, nil
		}
		if _, opened := d.demuxers[p.Serial]; opened {
			d.queues[p.Serial] = append(d.queues[p.Serial], p)
			continue
		}
		// Unknown or known-but-unopened: discarded per spec.md §3's
		// "Per-Serial Page Queue" invariant.
	}
}

// Open transitions serial from known-but-closed to open, per spec.md §4.6,
// and returns a logical stream handle for it. Opening an unknown serial, or
// one already open, is an error.
func (d *Decoder) Open(serial uint32) (*Stream, error) {
	if d.closed {
		return nil, errors.WithStack(ErrClosedResource)
	}
	opened, known := d.knownSerial[serial]
	if !known {
		return nil, errors.WithStack(ErrUnknownSerialOnOpen)
	}
	if opened {
		return nil, errors.WithStack(ErrDoubleOpen)
	}
	d.knownSerial[serial] = true
	d.demuxers[serial] = NewDemuxer(serial, d.logger)
	d.queues[serial] = []Page{}
	return &Stream{dec: d, serial: serial}, nil
}

// Close releases serial's demultiplexer state and queue, per spec.md §4.6.
func (d *Decoder) Close(serial uint32) {
	delete(d.demuxers, serial)
	delete(d.queues, serial)
	if _, known := d.knownSerial[serial]; known {
		d.knownSerial[serial] = false
	}
}

// CloseAll releases the decoder's own resources: the sync buffer and, if
// the source was marked owned via OwnSource, the byte source itself (if it
// implements io.Closer). Closing propagates to every still-open logical
// stream, per spec.md §9's resource-scoping design note.
func (d *Decoder) CloseAll() error {
	if d.closed {
		return nil
	}
	d.closed = true
	d.demuxers = nil
	d.queues = nil
	d.sync.Reset()
	if d.ownSource {
		if c, ok := d.source.(io.Closer); ok {
			return c.Close()
		}
	}
	return nil
}

// LastPage scans the last MaxPageSize bytes of a seekable source for the
// final page of the physical stream, per spec.md §6's "last_page helper".
// Grounded on iLya2IK-googg's parseAllStream/oggGetNextPage tail walk,
// adapted to a bounded backward scan.
func (d *Decoder) LastPage() (Page, error) {
	s, ok := d.source.(io.Seeker)
	if !ok {
		return Page{}, errors.WithStack(ErrSeekUnsupported)
	}
	end, err := s.Seek(0, io.SeekEnd)
	if err != nil {
		return Page{}, err
	}
	start := end - MaxPageSize
	if start < 0 {
		start = 0
	}
	if _, err := s.Seek(start, io.SeekStart); err != nil {
		return Page{}, err
	}

	buf := make([]byte, end-start)
	if _, err := io.ReadFull(d.source, buf); err != nil {
		return Page{}, err
	}

	var best Page
	found := false
	off := 0
	for off < len(buf) {
		p, n, err := ParsePage(buf[off:], true)
		if err != nil {
			off++
			continue
		}
		best = p
		found = true
		off += n
	}
	if !found {
		return Page{}, errors.New("pogg: no valid page found in tail of stream")
	}
	return best, nil
}
