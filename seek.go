package pogg

import (
	"io"

	"github.com/go-kit/log/level"
	"github.com/pkg/errors"
)

// seekBisectLinear is the cutoff below which the bisection in SeekToGranule
// stops narrowing and accepts minpos as the answer, per spec.md §4.8 step 2.
const seekBisectLinear = 4096

// Seek forwards to the byte source and resets the sync buffer and every
// open logical stream's demultiplexer/queue, per spec.md §4.6.
func (d *Decoder) Seek(offset int64, whence int) error {
	if d.closed {
		return errors.WithStack(ErrClosedResource)
	}
	seeker, ok := d.source.(io.Seeker)
	if !ok {
		return errors.WithStack(ErrSeekUnsupported)
	}
	if _, err := seeker.Seek(offset, whence); err != nil {
		return err
	}
	d.resetAfterSeek()
	return nil
}

// SeekStart seeks to the beginning of the byte source.
func (d *Decoder) SeekStart() error { return d.Seek(0, io.SeekStart) }

// SeekEnd seeks to the end of the byte source.
func (d *Decoder) SeekEnd() error { return d.Seek(0, io.SeekEnd) }

// Skip advances the byte source by n bytes relative to its current position.
func (d *Decoder) Skip(n int64) error { return d.Seek(n, io.SeekCurrent) }

func (d *Decoder) resetAfterSeek() {
	d.sync.Reset()
	d.bosPrequeue = nil
	for _, dm := range d.demuxers {
		dm.Reset()
	}
	for serial := range d.queues {
		d.queues[serial] = nil
	}
}

// readPageTracking reads pages from r into buf, tracking the absolute byte
// offset in *pos, for use by the seek bisection below (spec.md §4.8 step
// 2b). It returns io.EOF both on genuine source exhaustion and when *pos
// has advanced past maxpos without yielding a page — either way, the
// bisection step must abandon this window and narrow maxpos to mid.
func readPageTracking(buf *SyncBuffer, r io.Reader, pos *int64, maxpos int64) (Page, error) {
	for {
		p, status, _ := buf.PageOut(true)
		if status == syncOK || (status == syncResync && !buf.Unsynced()) {
			return p, nil
		}
		if *pos > maxpos {
			return Page{}, io.EOF
		}
		chunk := buf.Reserve(readChunk)
		n, err := r.Read(chunk)
		if n > 0 {
			buf.Wrote(n)
			*pos += int64(n)
			continue
		}
		if err != nil {
			return Page{}, io.EOF
		}
	}
}

// SeekToGranule performs the granule-position bisection of spec.md §4.8: it
// narrows a [minpos, maxpos) byte-offset window until it is within
// seekBisectLinear bytes wide, seeks to its start, and resets all
// demultiplexer/queue state. The byte source must be seekable.
//
// Postcondition, per spec.md §4.8: from the returned position, the next
// decodable packet whose granule >= target can be reached by forward
// reading; the located page's granule is strictly less than target.
func (s *Stream) SeekToGranule(target int64) error {
	d := s.dec
	if d.closed {
		return errors.WithStack(ErrClosedResource)
	}
	seeker, ok := d.source.(io.Seeker)
	if !ok {
		return errors.WithStack(ErrSeekUnsupported)
	}

	maxpos, err := seeker.Seek(0, io.SeekEnd)
	if err != nil {
		return err
	}
	var minpos int64

	for maxpos-minpos > seekBisectLinear {
		mid := minpos + (maxpos-minpos)/2
		if _, err := seeker.Seek(mid, io.SeekStart); err != nil {
			return err
		}
		tmp := NewSyncBuffer(d.logger)
		pos := mid

		var page Page
		usable := false
		for {
			p, err := readPageTracking(tmp, d.source, &pos, maxpos)
			if err == io.EOF {
				maxpos = mid
				break
			}
			if err != nil {
				return err
			}
			if p.Granule == -1 || p.Serial != s.serial {
				continue
			}
			page = p
			usable = true
			break
		}

		if usable {
			level.Debug(d.logger).Log("event", "seek_bisect", "mid", mid, "granule", page.Granule, "target", target)
			if page.Granule >= target {
				maxpos = mid - 1
			} else {
				minpos = mid
			}
		}
	}

	if _, err := seeker.Seek(minpos, io.SeekStart); err != nil {
		return err
	}
	d.resetAfterSeek()
	return nil
}

// SyncToGranule drains buffered packets until one with a known granule
// position is found, else reads pages (feeding the demultiplexer) until a
// page with a known granule has been folded in and all its completable
// packets drained, per spec.md §4.8. It reports false at EOF.
func (s *Stream) SyncToGranule() (int64, bool) {
	dm := s.dec.demuxers[s.serial]
	for {
		pkt, ok := dm.PacketOut()
		if !ok {
			break
		}
		if pkt.Granule != -1 {
			return pkt.Granule, true
		}
	}

	for {
		p, err := s.ReadPage()
		if err != nil {
			return 0, false
		}
		if err := dm.PageIn(p); err != nil {
			return 0, false
		}
		if p.Granule != -1 {
			for {
				if _, ok := dm.PacketOut(); !ok {
					break
				}
			}
			return p.Granule, true
		}
	}
}
