package modbus

// crc computes the modbus variant of CRC16 (seed 0xffff, reflected
// polynomial 0xa001, no final xor) incrementally.
type crc struct {
	crc uint16
}

// crcTable is generated once at package load and shared by the one-shot
// crc16() helper, which the resynchronizer calls on every candidate frame
// and therefore wants cheaper than the bitwise loop.
var crcTable [256]uint16

func init() {
	var i, j uint
	var v uint16

	for i = 0; i < 256; i++ {
		v = uint16(i)
		for j = 0; j < 8; j++ {
			if v&0x0001 != 0 {
				v = (v >> 1) ^ 0xa001
			} else {
				v >>= 1
			}
		}
		crcTable[i] = v
	}
}

// Sets the crc to its initial value.
func (c *crc) init() {
	c.crc = 0xffff

	return
}

// Feeds bytes into the crc.
func (c *crc) add(buf []byte) {
	var b byte

	for _, b = range buf {
		c.crc = (c.crc >> 8) ^ crcTable[byte(c.crc)^b]
	}

	return
}

// Returns the 2 bytes of the crc, in little-endian (wire) order.
func (c *crc) value() (res []byte) {
	res = []byte{byte(c.crc & 0xff), byte(c.crc >> 8)}

	return
}

// Compares the crc register against 2 bytes in little-endian (wire) order.
func (c *crc) isEqual(low byte, high byte) (equal bool) {
	equal = c.crc == (uint16(high)<<8)|uint16(low)

	return
}

// Computes the modbus CRC16 of buf in one shot.
// A zero-length buf yields the seed value (0xffff).
func crc16(buf []byte) (value uint16) {
	var c crc

	c.init()
	c.add(buf)
	value = c.crc

	return
}
