package pogg

// Ogg's CRC32: polynomial 0x04C11DB7, non-reflected, initial value 0, no
// final XOR, bytes shifted into the high end of the accumulator. This is NOT
// the polynomial hash/crc32 implements (IEEE/Castagnoli are both reflected),
// so there is no stdlib or ecosystem shortcut here; every pack example that
// touches Ogg framing hand-rolls the same table.
const crcPoly uint32 = 0x04c11db7

var crcTable [256]uint32

func init() {
	for i := range crcTable {
		r := uint32(i) << 24
		for j := 0; j < 8; j++ {
			if r&0x80000000 != 0 {
				r = (r << 1) ^ crcPoly
			} else {
				r <<= 1
			}
		}
		crcTable[i] = r
	}
}

// crcState is an incremental CRC32 accumulator.
type crcState uint32

func crcInit() crcState {
	return 0
}

func (c crcState) update(b byte) crcState {
	return crcState(crcTable[byte(uint32(c)>>24)^b]) ^ (c << 8)
}

func (c crcState) updateMany(p []byte) crcState {
	for _, b := range p {
		c = c.update(b)
	}
	return c
}

func (c crcState) finalize() uint32 {
	return uint32(c)
}

// pageChecksum computes the Ogg CRC32 of a fully serialized page with the
// checksum field (header bytes 22..25) masked to zero, per spec.md §4.1 and
// §6. buf must be the complete header+lacing+body region.
func pageChecksum(buf []byte) uint32 {
	saved := [4]byte{buf[22], buf[23], buf[24], buf[25]}
	buf[22], buf[23], buf[24], buf[25] = 0, 0, 0, 0
	c := crcInit().updateMany(buf)
	buf[22], buf[23], buf[24], buf[25] = saved[0], saved[1], saved[2], saved[3]
	return c.finalize()
}
