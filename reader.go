package asyncnet

import (
	"errors"
	"io"
	"net"
	"sync"
	"syscall"
)

// NetworkReader is the server-side acceptor of spec.md §4.F: listen,
// accept loop, and a per-connection
// accept -> receive-header -> receive-body -> invoke handler -> send-response -> receive-header
// state machine tolerant of OS-level short reads/writes, over pooled
// completion state objects and pooled transmission buffers.
type NetworkReader struct {
	listener *net.TCPListener
	handler  RequestHandler

	defaultEndpoint net.Addr
	cfg             config

	bufPool   *bufferPool
	statePool *statePool[completionState]
	shutdown  *shutdownSignal

	wg      sync.WaitGroup
	started bool
	mu      sync.Mutex
}

// NewNetworkReader constructs a reader around a bound-and-listening TCP
// socket. handler must not be nil.
func NewNetworkReader(listener *net.TCPListener, handler RequestHandler, defaultEndpoint net.Addr, opts ...Option) (*NetworkReader, error) {
	if handler == nil {
		return nil, ErrInvalidConfig
	}
	cfg, err := buildConfig(opts)
	if err != nil {
		return nil, err
	}
	if cfg.defaultEndpoint != nil {
		defaultEndpoint = cfg.defaultEndpoint
	}

	r := &NetworkReader{
		listener:        listener,
		handler:         handler,
		defaultEndpoint: defaultEndpoint,
		cfg:             cfg,
		bufPool:         newBufferPool(cfg.pooledBuffersPerBkt),
		statePool:       newCompletionStatePool(cfg.preallocatedStates),
		shutdown:        newShutdownSignal(),
	}
	return r, nil
}

// Bind only checks that local is non-nil; it stores nothing. TCP
// listeners already carry their bound address, so there is nothing
// further to do once constructed from a *net.TCPListener.
func (r *NetworkReader) Bind(local net.Addr) error {
	if local == nil {
		return ErrInvalidConfig
	}
	return nil
}

// Start dispatches concurrentAccepts outstanding accept goroutines on
// the listening socket, per spec.md §4.F's per-accept-parallelism
// requirement. Grounded on xtaci/kcptun/server/main.go's per-listener
// accept loop, generalized from "one loop" to "N outstanding accepts".
func (r *NetworkReader) Start(concurrentAccepts uint16) error {
	if concurrentAccepts == 0 {
		return ErrInvalidConfig
	}
	r.mu.Lock()
	if r.started {
		r.mu.Unlock()
		return ErrInvalidConfig
	}
	r.started = true
	r.mu.Unlock()

	if err := tuneListener(r.listener, r.cfg.tuning.reuseAddr); err != nil {
		r.cfg.logger.Printf("asyncnet: listener tuning failed: %v", err)
	}

	for i := uint16(0); i < concurrentAccepts; i++ {
		r.wg.Add(1)
		go r.acceptLoop()
	}
	return nil
}

// acceptLoop keeps exactly one outstanding Accept call in flight on
// this goroutine, spawning off a dedicated goroutine per accepted
// connection and immediately re-arming accept, so the total number of
// acceptLoop goroutines equals Start's concurrentAccepts the whole
// time the reader is running (spec.md §4.F).
func (r *NetworkReader) acceptLoop() {
	defer r.wg.Done()
	for {
		if r.shutdown.IsSet() {
			return
		}

		conn, err := r.listener.AcceptTCP()
		if err != nil {
			if r.shutdown.IsSet() || isOperationAborted(err) {
				return
			}
			if isConnReset(err) {
				// Tolerate half-open SYN scans: simply re-arm accept.
				continue
			}
			r.cfg.logger.Printf("asyncnet: accept error: %v", err)
			continue
		}

		if err := tuneConn(conn, r.cfg.tuning); err != nil {
			r.cfg.logger.Printf("asyncnet: socket tuning failed for %v: %v", conn.RemoteAddr(), err)
		}

		r.wg.Add(1)
		go r.serveConn(conn)
		// Loop back to Accept immediately: this *is* the replacement
		// accept, issued without waiting on the spawned connection.
	}
}

// serveConn runs the per-connection receive-dispatch-send loop until
// the connection is closed, a protocol error occurs, or shutdown is
// observed.
func (r *NetworkReader) serveConn(conn *net.TCPConn) {
	defer r.wg.Done()
	defer conn.Close()

	// Close the socket as soon as shutdown is signalled, so that a Read
	// blocked waiting for the next header returns and this goroutine
	// can exit.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-r.shutdown.Done():
			conn.Close()
		case <-done:
		}
	}()

	for {
		if r.shutdown.IsSet() {
			return
		}
		if !r.serveOneFrame(conn) {
			return
		}
	}
}

// serveOneFrame implements one iteration of spec.md §4.F's per-connection
// state diagram: StartReceive -> decode header -> receive payload ->
// Dispatch -> optional send-response -> back to StartReceive. Returns
// false when the connection should be closed (peer gone, protocol
// error, handler panic, or shutdown).
func (r *NetworkReader) serveOneFrame(conn *net.TCPConn) bool {
	state := r.statePool.Rent()
	state.kind = opReceive
	state.peer = conn.RemoteAddr()

	frameCap := totalFrameSize(uint32(r.cfg.maxMessageSize))
	buf, err := r.bufPool.Rent(frameCap)
	if err != nil {
		r.statePool.Return(state)
		r.cfg.logger.Printf("asyncnet: buffer pool exhausted for %v: %v", conn.RemoteAddr(), err)
		return false
	}
	state.rented = buf

	header := buf[:HeaderSize]
	if _, err := r.readFull(conn, header); err != nil {
		r.releaseState(state)
		if err != io.EOF {
			r.cfg.logger.Printf("asyncnet: header read error from %v: %v", conn.RemoteAddr(), err)
		}
		return false
	}

	length, herr := decodeHeader(header, uint32(r.cfg.maxMessageSize))
	if herr != nil {
		r.releaseState(state)
		r.cfg.logger.Printf("asyncnet: malformed header from %v: %v", conn.RemoteAddr(), herr)
		return false
	}

	payload := buf[HeaderSize : HeaderSize+int(length)]
	if _, err := r.readFull(conn, payload); err != nil {
		r.releaseState(state)
		r.cfg.logger.Printf("asyncnet: payload read error from %v: %v", conn.RemoteAddr(), err)
		return false
	}

	respCap := totalFrameSize(uint32(r.cfg.maxMessageSize))
	respBuf, err := r.bufPool.Rent(respCap)
	if err != nil {
		r.releaseState(state)
		r.cfg.logger.Printf("asyncnet: response buffer pool exhausted for %v: %v", conn.RemoteAddr(), err)
		return false
	}

	responseLen, sendResponse, panicked := r.dispatch(conn.RemoteAddr(), payload, int(length), respBuf[HeaderSize:HeaderSize+r.cfg.maxMessageSize])
	r.releaseState(state)

	if panicked {
		r.bufPool.Return(respBuf, false)
		return false
	}
	if !sendResponse {
		r.bufPool.Return(respBuf, false)
		return true
	}
	if responseLen < 0 || responseLen > r.cfg.maxMessageSize {
		r.bufPool.Return(respBuf, false)
		r.cfg.logger.Printf("asyncnet: handler for %v reported out-of-range responseLen %d", conn.RemoteAddr(), responseLen)
		return false
	}

	frame := respBuf[:totalFrameSize(uint32(responseLen))]
	encodeHeader(frame, uint32(responseLen))
	sendState := r.statePool.Rent()
	sendState.kind = opSend
	sendState.peer = conn.RemoteAddr()
	sendState.rented = respBuf
	sendState.buf = frame
	sendState.serverXmit = serverTransmissionToken{total: 0}

	ok := r.sendFrame(conn, sendState)
	r.releaseState(sendState)
	return ok
}

// dispatch invokes the user handler, recovering from panics so a
// misbehaving handler cannot take down the reader or another
// connection (spec.md §4.F "Handler panics / throws -> close that
// connection; do not propagate"). panicked is reported separately from
// sendResponse so that a legitimate fire-and-forget reply (sendResponse
// false, no panic) keeps the connection open while a panic always
// closes it.
func (r *NetworkReader) dispatch(peer net.Addr, request []byte, requestLen int, response []byte) (responseLen int, sendResponse bool, panicked bool) {
	defer func() {
		if rec := recover(); rec != nil {
			r.cfg.logger.Printf("asyncnet: handler panic from %v: %v", peer, rec)
			panicked = true
		}
	}()
	responseLen, sendResponse = r.handler(peer, request, requestLen, response)
	return responseLen, sendResponse, false
}

// readFull loops reading into buf until it is full, an error occurs,
// or shutdown is observed, tolerating OS-level short reads per
// spec.md §3's partial-I/O continuation requirement.
func (r *NetworkReader) readFull(conn *net.TCPConn, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		if r.shutdown.IsSet() {
			return total, ErrShutdown
		}
		n, err := conn.Read(buf[total:])
		total += n
		if err != nil {
			return total, err
		}
		if n == 0 {
			return total, io.EOF
		}
	}
	return total, nil
}

// sendFrame loops writing sendState.buf until fully sent or an error
// occurs, mirroring the writer's continuation loop but tracking
// progress in the reader-only serverTransmissionToken (spec.md §3:
// "the reader never surfaces per-message completion sinks outward").
func (r *NetworkReader) sendFrame(conn *net.TCPConn, state *completionState) bool {
	tok := &state.serverXmit
	for tok.total < len(state.buf) {
		if r.shutdown.IsSet() {
			return false
		}
		n, err := conn.Write(state.buf[tok.total:])
		if err != nil {
			r.cfg.logger.Printf("asyncnet: response write error to %v: %v", state.peer, err)
			return false
		}
		if n == 0 {
			return false
		}
		tok.total += n
	}
	return true
}

func (r *NetworkReader) releaseState(state *completionState) {
	if state.rented != nil {
		r.bufPool.Return(state.rented, false)
	}
	r.statePool.Return(state)
}

// isConnReset reports whether err is the ECONNRESET shape produced when
// accepting a socket that was already torn down by the peer (e.g. a
// half-open SYN scan): spec.md §4.F says this "is not an error to
// surface", only to retry accept on.
func isConnReset(err error) bool {
	var errno syscall.Errno
	return errors.As(err, &errno) && errno == syscall.ECONNRESET
}

// Stop signals shutdown, closes the listener so any blocked Accept call
// fails with an aborted-operation error, and waits for every in-flight
// accept/connection goroutine to observe the signal and close its
// socket before returning, per spec.md §4.I and the DESIGN NOTES
// "close the listening socket first" guidance.
func (r *NetworkReader) Stop() error {
	r.shutdown.Trigger()
	err := r.listener.Close()
	r.wg.Wait()
	if err != nil {
		return mapIOError(err, true)
	}
	return nil
}

// Shutdown is an alias of Stop kept to match spec.md §6's
// shutdown(how) entry in the external-interface table.
func (r *NetworkReader) Shutdown() error { return r.Stop() }

// Dispose releases the reader's pools. Call after Stop has returned.
func (r *NetworkReader) Dispose() {
	r.shutdown.Trigger()
	r.statePool.Dispose()
}
