package asyncnet

import "net"

// TransmissionResult is the value surfaced by synchronous writer
// operations: bytes transferred, the peer endpoint involved, and a
// view over the bytes that were transferred (spec.md §4.H).
type TransmissionResult struct {
	BytesTransferred int
	Peer             net.Addr
	Buffer           []byte
}
