package pogg

import (
	"bytes"
	"encoding/binary"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"
)

// samplesPerPacket is the fixed per-packet sample count spec.md §8 scenario 5
// describes: each packet carries this many little-endian int64 samples, and
// its granule position is the running total sample count after the packet.
const samplesPerPacket = 100

// encodeSamplePacket returns samplesPerPacket little-endian int64 samples
// whose values are the global sample index (1-based): the packet starting
// after `base` samples have already been written holds samples
// base+1..base+samplesPerPacket.
func encodeSamplePacket(base int64) []byte {
	buf := make([]byte, 8*samplesPerPacket)
	for i := 0; i < samplesPerPacket; i++ {
		binary.LittleEndian.PutUint64(buf[i*8:], uint64(base+int64(i)+1))
	}
	return buf
}

// decodeSamples parses a packet payload built by encodeSamplePacket back into
// its int64 samples.
func decodeSamples(data []byte) []int64 {
	out := make([]int64, len(data)/8)
	for i := range out {
		out[i] = int64(binary.LittleEndian.Uint64(data[i*8:]))
	}
	return out
}

// buildSeekableFixture writes a single logical stream of n data packets
// with strictly increasing granule positions (each packet advancing the
// running sample count by samplesPerPacket). The encoder packs them into
// pages of about 4 KiB, so each page holds several packets and packets
// straddle page boundaries; the bisection in SeekToGranule has many pages to
// narrow across and forward reads can be checked for sample-exact content.
func buildSeekableFixture(t *testing.T, n int) (uint32, []byte, int64) {
	t.Helper()
	var buf bytes.Buffer
	enc := NewEncoder(&buf)
	serial := enc.AddStream()
	require.NoError(t, enc.Header(serial, []byte("fixture-header")))

	var maxGranule int64
	for i := 0; i < n; i++ {
		base := int64(i) * samplesPerPacket
		g := base + samplesPerPacket
		maxGranule = g
		require.NoError(t, enc.Packet(serial, encodeSamplePacket(base), g, i == n-1))
	}
	require.NoError(t, enc.Close())
	return serial, buf.Bytes(), maxGranule
}

func TestSeekToGranuleBisection(t *testing.T) {
	serial, raw, maxGranule := buildSeekableFixture(t, 400)
	require.True(t, len(raw) > 4*seekBisectLinear, "fixture must be large enough to exercise more than one bisection step")

	src := bytes.NewReader(raw)
	dec, err := NewDecoder(src)
	require.NoError(t, err)
	s, err := dec.Open(serial)
	require.NoError(t, err)

	rng := rand.New(rand.NewSource(1))
	for i := 0; i < 50; i++ {
		target := rng.Int63n(maxGranule + 200)

		require.NoError(t, s.SeekToGranule(target))
		g, ok := s.SyncToGranule()
		require.True(t, ok, "target %d: expected a reachable page after seek", target)

		// The bisection narrows to a byte offset from which forward reading
		// reaches a page whose granule is below target (see seek.go); the
		// one degenerate case is target <= the very first page's granule,
		// where no narrowing ever happens and minpos stays at the start.
		require.LessOrEqualf(t, g, target, "target %d produced granule %d past it", target, g)

		// spec.md §8 scenario 5's actual postcondition: read forward from the
		// sync point until a packet's granule reaches or passes target, then
		// check the sample at that packet's (current-target)-from-the-end
		// offset is exactly target. Since every packet's samples are its own
		// global sample index, this is also a check that forward decoding
		// resumes at the correct packet rather than skipping or repeating one.
		// Targets beyond the fixture's last granule have no such packet to
		// reach (the random draw intentionally ranges past maxGranule to
		// exercise that edge), so the forward-read check only applies when
		// the target is actually reachable.
		if target > maxGranule {
			continue
		}
		var pkt Packet
		for {
			p, err := s.ReadPacket()
			require.NoErrorf(t, err, "target %d: ran out of packets before reaching it", target)
			pkt = p
			if pkt.Granule >= target {
				break
			}
		}
		offset := pkt.Granule - target
		require.GreaterOrEqual(t, offset, int64(0))
		if offset >= int64(samplesPerPacket) {
			// Degenerate case: target fell at or before the granule of the
			// page SyncToGranule consumed while establishing the sync point
			// (e.g. target 0, satisfied by the already-drained header page's
			// granule of 0), so the first packet this loop can still read is
			// more than one packet past target. No sample-bearing packet
			// remains to check exactness against.
			continue
		}

		samples := decodeSamples(pkt.Data)
		require.Equal(t, target, samples[int64(len(samples))-1-offset],
			"target %d: sample at offset %d from packet end should equal target exactly", target, offset)
	}
}

func TestSeekToGranuleUnsupportedSource(t *testing.T) {
	serial, raw, _ := buildSeekableFixture(t, 2)

	// bytes.Reader implements io.Seeker, so wrap it in a type that only
	// exposes io.Reader to force the unsupported path.
	r := onlyReader{bytes.NewReader(raw)}
	dec, err := NewDecoder(r)
	require.NoError(t, err)
	s, err := dec.Open(serial)
	require.NoError(t, err)

	err = s.SeekToGranule(100)
	require.ErrorIs(t, err, ErrSeekUnsupported)
}

type onlyReader struct {
	r *bytes.Reader
}

func (o onlyReader) Read(p []byte) (int, error) { return o.r.Read(p) }
