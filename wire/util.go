package wire

func readInt32(b []byte) int32 {
	return (int32(b[0])) |
		(int32(b[1]) << 8) |
		(int32(b[2]) << 16) |
		(int32(b[3]) << 24)
}

func encodeInt32(i int32) []byte {
	buf := make([]byte, 4)
	buf[0] = byte(i)
	buf[1] = byte(i >> 8)
	buf[2] = byte(i >> 16)
	buf[3] = byte(i >> 24)
	return buf
}

// EncodeSize renders a frame length prefix.
func EncodeSize(size int) []byte { return encodeInt32(int32(size)) }
