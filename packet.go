package pogg

// Packet is a codec-visible unit reassembled from one or more page segments.
// See spec.md §3 "Packet". Unlike the teacher's IOGGPacket (a getter/setter
// interface over a C struct), this is a plain value type: Go idiom favors
// exported fields over accessors when there's no C struct to proxy.
type Packet struct {
	Data     []byte
	Granule  int64 // -1 if this packet does not end a page
	Packetno int64
	BOS      bool
	EOS      bool
}

// Copy returns a Packet with its own private backing array.
func (p Packet) Copy() Packet {
	out := p
	out.Data = append([]byte(nil), p.Data...)
	return out
}
