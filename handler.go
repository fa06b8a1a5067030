package asyncnet

import "net"

// RequestHandler is the sole extension point of the reader side
// (spec.md §4.G). It is invoked on the completion worker handling the
// connection and holds that worker until it returns; it must not block
// indefinitely. request has exactly requestLen meaningful bytes;
// response has packet_buffer_size bytes available and the handler fills
// a prefix of it, reporting how many bytes of that prefix are
// meaningful via responseLen (spec.md's own signature omits this; a
// handler that "fills a prefix" of a fixed-size buffer cannot otherwise
// tell the engine where that prefix ends, so this is the Open Question
// resolution recorded in DESIGN.md). sendResponse reports whether a
// response should be sent at all (false means fire-and-forget).
type RequestHandler func(peer net.Addr, request []byte, requestLen int, response []byte) (responseLen int, sendResponse bool)

// EchoHandler is a trivial handler that copies the request into the
// response and always replies. Used by tests and the example CLI
// drivers (spec.md §8 "Echo handler").
func EchoHandler(_ net.Addr, request []byte, requestLen int, response []byte) (int, bool) {
	n := copy(response, request[:requestLen])
	return n, true
}
