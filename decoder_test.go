package pogg

import (
	"bytes"
	stderrors "errors"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// encodeSingleStream builds a minimal one-logical-stream Ogg byte sequence
// with a header packet and the given data packets, returning the bytes and
// the serial number the Encoder allocated.
func encodeSingleStream(t *testing.T, header []byte, packets [][]byte) (uint32, []byte) {
	t.Helper()
	var buf bytes.Buffer
	enc := NewEncoder(&buf)
	serial := enc.AddStream()
	require.NoError(t, enc.Header(serial, header))
	for i, data := range packets {
		last := i == len(packets)-1
		require.NoError(t, enc.Packet(serial, data, int64((i+1)*1000), last))
	}
	require.NoError(t, enc.Close())
	return serial, buf.Bytes()
}

func TestDecoderDiscoversKnownSerial(t *testing.T) {
	serial, raw := encodeSingleStream(t, []byte("hdr"), [][]byte{[]byte("p1"), []byte("p2")})

	dec, err := NewDecoder(bytes.NewReader(raw))
	require.NoError(t, err)
	assert.Contains(t, dec.KnownSerials(), serial)
}

func TestDecoderOpenUnknownSerial(t *testing.T) {
	_, raw := encodeSingleStream(t, []byte("hdr"), [][]byte{[]byte("p1")})
	dec, err := NewDecoder(bytes.NewReader(raw))
	require.NoError(t, err)

	_, err = dec.Open(0xFFFFFFFF)
	assert.True(t, stderrors.Is(err, ErrUnknownSerialOnOpen))
}

func TestDecoderDoubleOpen(t *testing.T) {
	serial, raw := encodeSingleStream(t, []byte("hdr"), [][]byte{[]byte("p1")})
	dec, err := NewDecoder(bytes.NewReader(raw))
	require.NoError(t, err)

	_, err = dec.Open(serial)
	require.NoError(t, err)
	_, err = dec.Open(serial)
	assert.True(t, stderrors.Is(err, ErrDoubleOpen))
}

func TestDecoderReadHeaderThenPackets(t *testing.T) {
	packets := [][]byte{[]byte("alpha"), []byte("beta"), []byte("gamma")}
	serial, raw := encodeSingleStream(t, []byte("header-data"), packets)

	dec, err := NewDecoder(bytes.NewReader(raw))
	require.NoError(t, err)
	s, err := dec.Open(serial)
	require.NoError(t, err)

	hdr, err := s.ReadPacket()
	require.NoError(t, err)
	assert.Equal(t, []byte("header-data"), hdr.Data)
	assert.True(t, hdr.BOS)

	for _, want := range packets {
		pkt, err := s.ReadPacket()
		require.NoError(t, err)
		assert.Equal(t, want, pkt.Data)
	}

	_, err = s.ReadPacket()
	assert.Equal(t, io.EOF, err)
}

func TestDecoderThreeInterleavedStreams(t *testing.T) {
	var buf bytes.Buffer
	enc := NewEncoder(&buf)
	serials := [3]uint32{}
	data := [3][]byte{[]byte("stream-A-payload"), []byte("stream-B-payload"), []byte("stream-C-payload")}

	for i := range serials {
		serials[i] = enc.AddStream()
		require.NoError(t, enc.Header(serials[i], []byte("hdr")))
	}
	for i := range serials {
		require.NoError(t, enc.Packet(serials[i], data[i], int64(i+1), true))
	}
	require.NoError(t, enc.Close())

	dec, err := NewDecoder(bytes.NewReader(buf.Bytes()))
	require.NoError(t, err)

	for i := range serials {
		assert.Contains(t, dec.KnownSerials(), serials[i])
	}

	// Open every stream before draining any: pages of a serial that is not
	// yet open are discarded while another stream is being read.
	streams := [3]*Stream{}
	for i := range serials {
		s, err := dec.Open(serials[i])
		require.NoError(t, err)
		streams[i] = s
	}

	for i, s := range streams {
		hdr, err := s.ReadPacket()
		require.NoError(t, err)
		assert.Equal(t, []byte("hdr"), hdr.Data)

		pkt, err := s.ReadPacket()
		require.NoError(t, err)
		assert.Equal(t, data[i], pkt.Data)
		assert.True(t, pkt.EOS)
	}
}

// drainStream reads s to completion (stopping at the first EOS packet or at
// io.EOF) and returns every packet read, in order.
func drainStream(t *testing.T, s *Stream) []Packet {
	t.Helper()
	var out []Packet
	for {
		pkt, err := s.ReadPacket()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		out = append(out, pkt)
		if pkt.EOS {
			break
		}
	}
	return out
}

func TestDecoderInterleaveOrderIndependence(t *testing.T) {
	var buf bytes.Buffer
	enc := NewEncoder(&buf)
	serialA := enc.AddStream()
	require.NoError(t, enc.Header(serialA, []byte("hdrA")))
	serialB := enc.AddStream()
	require.NoError(t, enc.Header(serialB, []byte("hdrB")))
	require.NoError(t, enc.Packet(serialA, []byte("A-payload"), 10, true))
	require.NoError(t, enc.Packet(serialB, []byte("B-payload"), 20, true))
	require.NoError(t, enc.Close())
	raw := buf.Bytes()

	// Forward order: both streams opened up front (per spec.md §3's
	// Per-Serial Page Queue invariant), then A drained fully before B.
	decForward, err := NewDecoder(bytes.NewReader(raw))
	require.NoError(t, err)
	sAf, err := decForward.Open(serialA)
	require.NoError(t, err)
	sBf, err := decForward.Open(serialB)
	require.NoError(t, err)
	forwardA := drainStream(t, sAf)
	forwardB := drainStream(t, sBf)

	// Reverse order: same physical bytes, same up-front opens, but B drained
	// fully before A.
	decReverse, err := NewDecoder(bytes.NewReader(raw))
	require.NoError(t, err)
	sAr, err := decReverse.Open(serialA)
	require.NoError(t, err)
	sBr, err := decReverse.Open(serialB)
	require.NoError(t, err)
	reverseB := drainStream(t, sBr)
	reverseA := drainStream(t, sAr)

	require.NotEmpty(t, forwardA)
	require.NotEmpty(t, forwardB)
	require.Len(t, reverseA, len(forwardA))
	require.Len(t, reverseB, len(forwardB))
	assert.Equal(t, forwardA[0].Data, reverseA[0].Data, "serial A's first packet must not depend on drain order")
	assert.Equal(t, forwardB[0].Data, reverseB[0].Data, "serial B's first packet must not depend on drain order")
}

func TestDecoderChaining(t *testing.T) {
	_, link1 := encodeSingleStream(t, []byte("h1"), [][]byte{[]byte("a")})
	serial2, link2 := encodeSingleStream(t, []byte("h2"), [][]byte{[]byte("b")})

	dec, err := NewDecoder(bytes.NewReader(append(append([]byte(nil), link1...), link2...)))
	require.NoError(t, err)

	firstLinkSerials := dec.KnownSerials()
	require.Len(t, firstLinkSerials, 1)

	s, err := dec.Open(firstLinkSerials[0])
	require.NoError(t, err)
	next := s.EachPacket()
	for {
		pkt, ok, err := next()
		require.NoError(t, err)
		require.True(t, ok, "stream ended without an EOS packet")
		if pkt.EOS {
			break
		}
	}

	require.NoError(t, dec.NextLink())
	assert.Contains(t, dec.KnownSerials(), serial2)
}

func TestDecoderLastPage(t *testing.T) {
	packets := [][]byte{[]byte("one"), []byte("two"), []byte("three")}
	_, raw := encodeSingleStream(t, []byte("hdr"), packets)

	dec, err := NewDecoder(bytes.NewReader(raw))
	require.NoError(t, err)

	last, err := dec.LastPage()
	require.NoError(t, err)
	assert.True(t, last.EOS)
}

func TestStreamReadPacketAfterStreamClose(t *testing.T) {
	serial, raw := encodeSingleStream(t, []byte("hdr"), [][]byte{[]byte("p1")})
	dec, err := NewDecoder(bytes.NewReader(raw))
	require.NoError(t, err)

	s, err := dec.Open(serial)
	require.NoError(t, err)
	s.Close()

	_, err = s.ReadPacket()
	assert.True(t, stderrors.Is(err, ErrClosedResource))
}

func TestStreamReadPacketAfterCloseAll(t *testing.T) {
	serial, raw := encodeSingleStream(t, []byte("hdr"), [][]byte{[]byte("p1")})
	dec, err := NewDecoder(bytes.NewReader(raw))
	require.NoError(t, err)

	s, err := dec.Open(serial)
	require.NoError(t, err)
	require.NoError(t, dec.CloseAll())

	_, err = s.ReadPacket()
	assert.True(t, stderrors.Is(err, ErrClosedResource))
}

func TestDecoderSurvivesPrependedGarbage(t *testing.T) {
	_, raw := encodeSingleStream(t, []byte("hdr"), [][]byte{[]byte("payload")})
	garbage := bytes.Repeat([]byte{0x00}, 17)

	dec, err := NewDecoder(bytes.NewReader(append(garbage, raw...)))
	require.NoError(t, err)
	assert.NotEmpty(t, dec.KnownSerials())
}
