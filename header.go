package asyncnet

import "encoding/binary"

// HeaderSize is the fixed size, in bytes, of the frame header preceding
// every payload on the wire: a single little-endian uint32 payload
// length. Grounded on xtaci/smux's fixed-size rawHeader byte array,
// trimmed from smux's four-field header down to length-only.
const HeaderSize = 4

// encodeHeader writes the payload length into the first HeaderSize
// bytes of dst. dst must have length >= HeaderSize.
func encodeHeader(dst []byte, payloadLength uint32) {
	binary.LittleEndian.PutUint32(dst[:HeaderSize], payloadLength)
}

// decodeHeader reads the payload length out of the first HeaderSize
// bytes of src and validates it against maxPayload. A zero length is
// rejected: the wire format has no use for empty frames (see spec S3).
func decodeHeader(src []byte, maxPayload uint32) (uint32, error) {
	length := binary.LittleEndian.Uint32(src[:HeaderSize])
	if length == 0 {
		return 0, ErrMalformedHeader
	}
	if length > maxPayload {
		return 0, ErrMalformedHeader
	}
	return length, nil
}

// totalFrameSize returns the number of bytes a frame with the given
// payload length occupies on the wire, header included.
func totalFrameSize(payloadLength uint32) int {
	return HeaderSize + int(payloadLength)
}
