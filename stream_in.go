package pogg

import (
	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/pkg/errors"
)

// Demuxer reassembles the pages of one logical bitstream (one serial) back
// into packets. See spec.md §4.4.
type Demuxer struct {
	serial   uint32
	haveSerial bool

	acc       []byte // bytes of the in-progress packet
	accGranule int64
	continuing bool // trailing lacing byte of the last page seen was 255

	nextPacketno int64
	sawAnyPacket bool

	havePageSeq bool
	lastPageSeq uint32

	queue []Packet

	logger log.Logger
}

// NewDemuxer constructs a Demuxer bound to a specific serial number.
func NewDemuxer(serial uint32, logger log.Logger) *Demuxer {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	return &Demuxer{serial: serial, haveSerial: true, accGranule: -1, logger: logger}
}

// Reset clears all accumulator and sequence state, per spec.md §4.4. Used on
// seek: whatever packet was mid-assembly is abandoned.
func (d *Demuxer) Reset() {
	d.acc = nil
	d.accGranule = -1
	d.continuing = false
	d.nextPacketno = 0
	d.sawAnyPacket = false
	d.havePageSeq = false
	d.queue = nil
}

// PageIn feeds one page belonging to this serial into the demultiplexer,
// splitting its body into segments per the lacing table and emitting any
// packets that complete. Completed packets become available via PacketOut.
func (d *Demuxer) PageIn(p Page) error {
	if d.haveSerial && p.Serial != d.serial {
		return errors.Errorf("pogg: page for serial %d fed to demuxer for serial %d", p.Serial, d.serial)
	}

	if d.havePageSeq {
		expected := d.lastPageSeq + 1
		if p.Sequence != expected {
			level.Warn(d.logger).Log("event", "page_sequence_gap", "serial", p.Serial,
				"expected", expected, "got", p.Sequence)
			d.acc = nil
			d.accGranule = -1
			d.continuing = false
		}
	}
	d.lastPageSeq = p.Sequence
	d.havePageSeq = true

	if p.BOS && d.continuing {
		level.Warn(d.logger).Log("event", "bos_with_pending_continuation", "serial", p.Serial)
		d.acc = nil
		d.accGranule = -1
		d.continuing = false
	}

	off := 0
	completableOnPage := p.Packets()
	emittedOnPage := 0
	for _, segLen := range p.Lacing {
		seg := p.Body[off : off+int(segLen)]
		off += int(segLen)
		d.acc = append(d.acc, seg...)

		if segLen < 255 {
			emittedOnPage++
			isLastCompletableOnPage := emittedOnPage == completableOnPage
			granule := int64(-1)
			if isLastCompletableOnPage {
				granule = p.Granule
			}
			data := d.acc
			if data == nil {
				// A zero-length packet still yields a non-nil, empty Data.
				data = []byte{}
			}
			pkt := Packet{
				Data:     data,
				Granule:  granule,
				Packetno: d.nextPacketno,
				BOS:      d.nextPacketno == 0,
				EOS:      p.EOS && isLastCompletableOnPage,
			}
			d.nextPacketno++
			d.sawAnyPacket = true
			d.queue = append(d.queue, pkt)
			d.acc = nil
			d.continuing = false
		} else {
			d.continuing = true
		}
	}

	if p.EOS && len(d.acc) > 0 {
		level.Warn(d.logger).Log("event", "eos_page_left_incomplete_packet", "serial", p.Serial)
	}

	return nil
}

// PacketOut returns the next completed packet, if any, per spec.md §4.4.
func (d *Demuxer) PacketOut() (Packet, bool) {
	if len(d.queue) == 0 {
		return Packet{}, false
	}
	pkt := d.queue[0]
	d.queue = d.queue[1:]
	return pkt, true
}
