package asyncnet

import (
	"errors"
	"io"
	"net"
	"syscall"

	pkgerrors "github.com/pkg/errors"
)

// Sentinel errors making up the engine's error taxonomy. Use errors.Is
// to test for these across wrapping.
var (
	// ErrInvalidConfig is returned when a construction-time argument is
	// out of range.
	ErrInvalidConfig = errors.New("asyncnet: invalid construction argument")

	// ErrBufferTooLarge is returned when a caller-supplied buffer exceeds
	// the configured max message size.
	ErrBufferTooLarge = errors.New("asyncnet: buffer exceeds max message size")

	// ErrMalformedHeader is returned when a decoded frame header is
	// zero-length where forbidden, or exceeds the configured maximum.
	ErrMalformedHeader = errors.New("asyncnet: malformed frame header")

	// ErrPeerClosed is returned when a read or write observed zero bytes
	// transferred.
	ErrPeerClosed = errors.New("asyncnet: peer closed connection")

	// ErrCancelled is returned when cooperative cancellation was
	// observed before an operation completed.
	ErrCancelled = errors.New("asyncnet: operation cancelled")

	// ErrShutdown is returned when an endpoint is stopping and the
	// requested operation was never started. A writer with no
	// established connection also reports it from Write and Read.
	ErrShutdown = errors.New("asyncnet: endpoint is shutting down")
)

// TransportError wraps an arbitrary OS socket error that doesn't map to
// one of the named sentinels above.
type TransportError struct {
	Err error
}

func (e *TransportError) Error() string {
	return "asyncnet: transport error: " + e.Err.Error()
}

func (e *TransportError) Unwrap() error { return e.Err }

// mapIOError translates a raw net/syscall error observed during a read
// or write into the engine's error taxonomy. A nil input yields a nil
// output, and an error that already is one of the sentinels above is
// returned unchanged. io.EOF, ECONNRESET and EPIPE become ErrPeerClosed;
// use-of-closed-network-connection and ECONNABORTED become ErrCancelled
// when shuttingDown is true (cooperative cancellation); anything else
// is returned as a TransportError.
func mapIOError(err error, shuttingDown bool) error {
	if err == nil {
		return nil
	}

	switch err {
	case ErrInvalidConfig, ErrBufferTooLarge, ErrMalformedHeader, ErrPeerClosed, ErrCancelled, ErrShutdown:
		return err
	}

	if shuttingDown && isOperationAborted(err) {
		return ErrCancelled
	}

	if errors.Is(err, io.EOF) {
		return ErrPeerClosed
	}

	var errno syscall.Errno
	if errors.As(err, &errno) {
		switch errno {
		case syscall.ECONNRESET, syscall.EPIPE:
			return ErrPeerClosed
		}
	}

	if ne, ok := err.(net.Error); ok && ne.Timeout() {
		return pkgerrors.Wrap(&TransportError{Err: err}, "i/o timeout")
	}

	return &TransportError{Err: err}
}

// isOperationAborted reports whether err is the shape of error produced
// by closing a net.Conn/net.Listener out from under a blocked Read,
// Write, or Accept call — the closest Go analogue of the spec's
// OperationAborted.
func isOperationAborted(err error) bool {
	if errors.Is(err, net.ErrClosed) {
		return true
	}
	var errno syscall.Errno
	if errors.As(err, &errno) {
		return errno == syscall.ECONNABORTED
	}
	return false
}
