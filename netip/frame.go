package netip

import "encoding/binary"

// VariableLenHeaderSize is the header length used by VariableLenFrame and
// MakeVariableLenMsg: a 2-byte big-endian body length.
const VariableLenHeaderSize = 2

// VariableLenFrame returns a framer for messages carrying a 2-byte
// big-endian body-length prefix. Use it with StartIO and an initial read
// size of VariableLenHeaderSize. Delivered messages include the header; an
// empty body yields a header-only message.
func VariableLenFrame() FrameFunc {
	return func(accum []byte) int {
		if len(accum) == VariableLenHeaderSize {
			return int(binary.BigEndian.Uint16(accum))
		}
		return 0
	}
}

// MakeVariableLenMsg prepends the 2-byte big-endian length header to body.
// It panics if body exceeds 65535 bytes.
func MakeVariableLenMsg(body []byte) []byte {
	if len(body) > 0xffff {
		panic("netip: variable len msg body too large")
	}
	msg := make([]byte, VariableLenHeaderSize+len(body))
	binary.BigEndian.PutUint16(msg, uint16(len(body)))
	copy(msg[VariableLenHeaderSize:], body)
	return msg
}

// VariableLenBody strips the length header from a message delivered under
// VariableLenFrame.
func VariableLenBody(msg []byte) []byte {
	if len(msg) < VariableLenHeaderSize {
		return nil
	}
	return msg[VariableLenHeaderSize:]
}
