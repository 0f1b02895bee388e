package pogg

import (
	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
)

// Reference page-emission policy, per spec.md §4.5 and §9 ("reasonable
// amount of data... flush when body >= 4KiB or lacing table would overflow
// 255"). Exposed as named constants rather than tunables: spec.md does not
// ask for the policy to be overridable.
const (
	flushBodyThreshold = 4096
	maxLacingEntries   = 255
)

// Muxer accumulates packets for one logical bitstream (one serial) and
// emits pages under the size/latency policy above. See spec.md §4.5.
type Muxer struct {
	serial uint32

	bodyAcc []byte
	lacing  []byte
	granule []int64 // parallel to lacing; the packet's granule if this entry terminates a packet, else -1

	pageSeq    uint32
	bosWritten bool
	eosPending bool
	continued  bool // true if the packet at the front of the pending data is a continuation of a packet begun on a previous page

	logger log.Logger
}

// NewMuxer constructs a Muxer for the given serial number.
func NewMuxer(serial uint32, logger log.Logger) *Muxer {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	return &Muxer{serial: serial, logger: logger}
}

// PacketIn appends one packet's bytes to the pending lacing table and body,
// per spec.md §4.5. last marks this as the stream's final packet; the
// stream will not report itself drained (EOS) until all pending bytes have
// been emitted as pages after that point.
func (m *Muxer) PacketIn(data []byte, granule int64, last bool) {
	n := len(data)
	for n >= 255 {
		m.lacing = append(m.lacing, 255)
		m.granule = append(m.granule, -1)
		m.bodyAcc = append(m.bodyAcc, data[:255]...)
		data = data[255:]
		n -= 255
	}
	m.lacing = append(m.lacing, byte(n))
	m.granule = append(m.granule, granule)
	m.bodyAcc = append(m.bodyAcc, data...)

	if last {
		m.eosPending = true
	}
}

// Pending reports whether any bytes remain to be emitted as pages.
func (m *Muxer) Pending() bool {
	return len(m.lacing) > 0
}

// PageOut emits a page once the pending lacing table has reached the policy
// threshold, or nil if not yet. See spec.md §4.5.
func (m *Muxer) PageOut() *Page {
	return m.tryEmit(false)
}

// Flush emits whatever is pending as one or more pages, irrespective of
// thresholds, until nothing remains. Call repeatedly until it returns nil.
func (m *Muxer) Flush() *Page {
	return m.tryEmit(true)
}

func (m *Muxer) tryEmit(force bool) *Page {
	if len(m.lacing) == 0 {
		return nil
	}

	cut := 0
	body := 0
	for cut < len(m.lacing) && cut < maxLacingEntries {
		body += int(m.lacing[cut])
		cut++
		if body >= flushBodyThreshold {
			break
		}
	}
	if !force && cut < maxLacingEntries && body < flushBodyThreshold {
		return nil
	}
	if cut == maxLacingEntries && body < flushBodyThreshold {
		level.Warn(m.logger).Log("event", "encoder_overflow", "serial", m.serial, "entries", cut)
	}

	lacing := append([]byte(nil), m.lacing[:cut]...)
	bodyBytes := append([]byte(nil), m.bodyAcc[:body]...)

	pageGranule := int64(-1)
	for _, g := range m.granule[:cut] {
		if g != -1 {
			pageGranule = g
		}
	}

	remaining := len(m.lacing) - cut
	drainedCompletely := remaining == 0
	trailingContinues := cut > 0 && m.lacing[cut-1] == 255

	p := Page{
		Continued: m.continued,
		BOS:       !m.bosWritten,
		EOS:       m.eosPending && drainedCompletely,
		Granule:   pageGranule,
		Serial:    m.serial,
		Sequence:  m.pageSeq,
		Lacing:    lacing,
		Body:      bodyBytes,
	}

	m.bosWritten = true
	m.continued = trailingContinues
	m.pageSeq++
	m.lacing = m.lacing[cut:]
	m.granule = m.granule[cut:]
	m.bodyAcc = m.bodyAcc[body:]

	return &p
}
