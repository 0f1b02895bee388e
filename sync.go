package pogg

import (
	"bytes"
	stderrors "errors"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
)

// pageOutStatus classifies the result of SyncBuffer.PageOut, per spec.md §4.3.
type pageOutStatus int

const (
	// syncNeedMore means not enough bytes are buffered to complete a page;
	// the caller should Reserve/Wrote more and retry.
	syncNeedMore pageOutStatus = iota
	// syncOK means a page was returned.
	syncOK
	// syncResync means one or more bytes were skipped before a page (or
	// end-of-buffer) was reached, recovering from corruption or an
	// unaligned start position.
	syncResync
)

// SyncBuffer is a growable byte reservoir that resynchronizes on the Ogg
// capture pattern and extracts pages one at a time. See spec.md §3 "Sync
// Buffer" and §4.3.
//
// A Page returned by PageOut with copy=false aliases SyncBuffer's internal
// storage and is valid only until the next call to Reserve or Reset.
type SyncBuffer struct {
	buf      []byte
	readPos  int
	writePos int
	unsynced bool

	logger log.Logger
}

// NewSyncBuffer constructs an empty sync buffer.
func NewSyncBuffer(logger log.Logger) *SyncBuffer {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	return &SyncBuffer{logger: logger}
}

// Reserve guarantees at least n bytes of writable space at the tail,
// compacting already-consumed bytes out or growing the backing array as
// needed. It returns the writable region; the caller fills some prefix of
// it and calls Wrote with that count.
func (s *SyncBuffer) Reserve(n int) []byte {
	if s.readPos > 0 {
		copy(s.buf, s.buf[s.readPos:s.writePos])
		s.writePos -= s.readPos
		s.readPos = 0
	}
	need := s.writePos + n
	if cap(s.buf) < need {
		grown := make([]byte, need, need*2+pageHeaderSize)
		copy(grown, s.buf[:s.writePos])
		s.buf = grown
	} else {
		s.buf = s.buf[:cap(s.buf)]
	}
	return s.buf[s.writePos:need]
}

// Wrote advances the write index by n, committing bytes the caller placed in
// the region returned by the preceding Reserve.
func (s *SyncBuffer) Wrote(n int) {
	s.writePos += n
	if s.buf == nil {
		s.buf = []byte{}
	}
}

// Reset drops all buffered bytes and clears the unsynced flag, per spec.md
// §4.3. Used after a seek: the byte stream position has jumped, so whatever
// was buffered is no longer contiguous with what comes next.
func (s *SyncBuffer) Reset() {
	s.readPos = 0
	s.writePos = 0
	s.unsynced = false
}

// Unsynced reports whether the buffer is known to be misaligned with a page
// boundary (set when PageOut skips bytes, cleared once a page is
// successfully extracted and by Reset).
func (s *SyncBuffer) Unsynced() bool {
	return s.unsynced
}

// PageOut scans from the read index for the capture pattern and attempts to
// extract one page, per spec.md §4.3. The third return value is the number
// of bytes skipped during this call. On a complete, valid page it advances
// the read index past the page and returns it with syncOK (or syncResync if
// bytes were skipped first). Bytes that cannot start a page (no capture
// pattern, bad version, bad checksum) are skipped. If the rest of the buffer
// holds no capture-pattern byte at all, it is consumed and syncResync is
// returned with no page (Unsynced then reports true). If scanning stops at
// a candidate page that is not yet complete, it returns syncNeedMore; bytes
// skipped before that candidate stay consumed and are counted in the third
// value.
func (s *SyncBuffer) PageOut(copyOut bool) (Page, pageOutStatus, int) {
	skipped := 0
	for {
		avail := s.writePos - s.readPos
		if avail < pageHeaderSize {
			return Page{}, syncNeedMore, skipped
		}

		window := s.buf[s.readPos:s.writePos]
		if !bytes.HasPrefix(window, capturePattern[:]) {
			idx := bytes.IndexByte(window[1:], capturePattern[0])
			if idx < 0 {
				adv := avail
				s.readPos += adv
				skipped += adv
				s.unsynced = true
				if skipped > 0 {
					level.Warn(s.logger).Log("event", "resync", "skipped", skipped)
				}
				return Page{}, syncResync, skipped
			}
			s.readPos += 1 + idx
			skipped += 1 + idx
			s.unsynced = true
			continue
		}

		page, n, err := ParsePage(window, copyOut)
		if err != nil {
			if stderrors.Is(err, ErrTruncated) {
				return Page{}, syncNeedMore, skipped
			}
			// Bad version or checksum: this wasn't really a page start,
			// even though it matched the capture pattern. Skip past the
			// 'O' and keep scanning.
			s.readPos++
			skipped++
			s.unsynced = true
			continue
		}

		s.readPos += n
		if skipped > 0 {
			level.Warn(s.logger).Log("event", "resync", "skipped", skipped)
			s.unsynced = false
			return page, syncResync, skipped
		}
		s.unsynced = false
		return page, syncOK, 0
	}
}
