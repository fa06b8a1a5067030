package asyncnet

import (
	"errors"
	"net"

	"golang.org/x/sys/unix"
)

// socketTuning are the low-level socket options applied to dialed and
// accepted TCP sockets (spec.md SPEC_FULL §4.N). Grounded on
// xtaci/kcptun/server/main.go's per-listener socket tuning
// (SetDSCP/SetReadBuffer/SetWriteBuffer on a KCP listener), translated
// to golang.org/x/sys/unix raw socket options for a plain TCP socket.
type socketTuning struct {
	noDelay   bool
	sendBuf   int // 0 means leave at OS default
	recvBuf   int
	reuseAddr bool
}

var defaultSocketTuning = socketTuning{noDelay: true}

// tuneConn applies t to conn via its raw syscall.Conn, best-effort: a
// failure to set any one option is reported but does not prevent the
// others from being attempted.
func tuneConn(conn *net.TCPConn, t socketTuning) error {
	raw, err := conn.SyscallConn()
	if err != nil {
		return &TransportError{Err: err}
	}

	var firstErr error
	setOpt := func(level, opt, value int) {
		if value == 0 {
			return
		}
		cerr := raw.Control(func(fd uintptr) {
			if e := unix.SetsockoptInt(int(fd), level, opt, value); e != nil && firstErr == nil {
				firstErr = e
			}
		})
		if cerr != nil && firstErr == nil {
			firstErr = cerr
		}
	}

	if t.noDelay {
		setOpt(unix.IPPROTO_TCP, unix.TCP_NODELAY, 1)
	}
	if t.sendBuf > 0 {
		setOpt(unix.SOL_SOCKET, unix.SO_SNDBUF, t.sendBuf)
	}
	if t.recvBuf > 0 {
		setOpt(unix.SOL_SOCKET, unix.SO_RCVBUF, t.recvBuf)
	}

	if firstErr != nil {
		return &TransportError{Err: firstErr}
	}
	return nil
}

// tuneListener applies SO_REUSEADDR to a listening socket, grounded on
// the same kcptun listener-tuning call sites.
func tuneListener(l *net.TCPListener, reuseAddr bool) error {
	if !reuseAddr {
		return nil
	}
	raw, err := l.SyscallConn()
	if err != nil {
		return &TransportError{Err: err}
	}
	var firstErr error
	cerr := raw.Control(func(fd uintptr) {
		if e := unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); e != nil {
			firstErr = e
		}
	})
	if cerr != nil {
		return &TransportError{Err: cerr}
	}
	if firstErr != nil {
		return &TransportError{Err: firstErr}
	}
	return nil
}

// socketBinding is the thin ownership wrapper of spec.md §2 component D:
// it owns exactly one dialed or accepted net.Conn and is exclusively
// responsible for closing it. It does not hold listeners and does not
// apply socket options; tuneConn and tuneListener do that.
type socketBinding struct {
	conn net.Conn
}

func (b *socketBinding) Peer() net.Addr {
	if b.conn == nil {
		return nil
	}
	return b.conn.RemoteAddr()
}

func (b *socketBinding) Close() error {
	if b.conn == nil {
		return nil
	}
	return b.conn.Close()
}

// isClosedConnErr reports whether err is the shape net.Conn operations
// produce after the socket has been closed out from under them.
func isClosedConnErr(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, net.ErrClosed)
}
