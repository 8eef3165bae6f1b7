package codec

// The recorder firmware checksums varstruct spans with a CRC-32 that is not
// the IEEE polynomial layout hash/crc32 implements: it feeds bytes MSB-first
// against poly 0x04C11DB7 with zero init, bit-reverses the register, and
// applies a final XOR. Table-driven over one byte at a time.

const crcPoly = 0x04C11DB7

var crcTable = makeCRCTable()

func makeCRCTable() [256]uint32 {
	var t [256]uint32
	for i := 0; i < 256; i++ {
		crc := uint32(i) << 24
		for b := 0; b < 8; b++ {
			if crc&0x80000000 != 0 {
				crc = (crc << 1) ^ crcPoly
			} else {
				crc <<= 1
			}
		}
		t[i] = crc
	}
	return t
}

// Checksum computes the firmware CRC-32 over data.
func Checksum(data []byte) uint32 {
	var crc uint32
	for _, b := range data {
		crc = (crc << 8) ^ crcTable[byte(crc>>24)^b]
	}
	return bitReverse32(crc) ^ 0xFFFFFFFF
}

func bitReverse32(v uint32) uint32 {
	var r uint32
	for i := 0; i < 32; i++ {
		r = (r << 1) | (v & 1)
		v >>= 1
	}
	return r
}
