package asyncnet

import (
	"context"
	"net"
	"sync"

	pkgerrors "github.com/pkg/errors"
	"github.com/sagernet/sing/common/bufio"
)

// maxInlineDepth caps the number of continuations a single async
// operation may chain synchronously on the calling goroutine before
// escalating to a freshly scheduled goroutine, per spec.md §9's
// "implementation-chosen depth limit (e.g., 16)".
const maxInlineDepth = 16

// NetworkWriter is the client-side bidirectional messenger of spec.md
// §4.E: connect / disconnect / framed write / framed read over a
// single owned TCP socket, using pooled completion state objects and
// pooled transmission buffers.
type NetworkWriter struct {
	mu   sync.Mutex // guards conn
	conn *net.TCPConn

	defaultEndpoint net.Addr
	cfg             config

	bufPool   *bufferPool
	statePool *statePool[completionState]
	shutdown  *shutdownSignal

	// writeMu/readMu serialize operations of each direction on this
	// socket: spec.md §4.E "idempotent re-entry is forbidden while one
	// is in flight on the same socket".
	writeMu sync.Mutex
	readMu  sync.Mutex
}

// NewNetworkWriter constructs a writer around an already-bound (and
// possibly already-connected) TCP socket. conn may be nil, in which
// case Connect/ConnectAsync must be called before Write/Read.
func NewNetworkWriter(conn *net.TCPConn, defaultEndpoint net.Addr, opts ...Option) (*NetworkWriter, error) {
	cfg, err := buildConfig(opts)
	if err != nil {
		return nil, err
	}
	if cfg.defaultEndpoint != nil {
		defaultEndpoint = cfg.defaultEndpoint
	}

	w := &NetworkWriter{
		conn:            conn,
		defaultEndpoint: defaultEndpoint,
		cfg:             cfg,
		bufPool:         newBufferPool(cfg.pooledBuffersPerBkt),
		statePool:       newCompletionStatePool(cfg.preallocatedStates),
		shutdown:        newShutdownSignal(),
	}
	if conn != nil {
		if err := tuneConn(conn, cfg.tuning); err != nil {
			return nil, wrapConfigErr(err, "tune writer socket")
		}
	}
	return w, nil
}

func (w *NetworkWriter) getConn() *net.TCPConn {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.conn
}

func (w *NetworkWriter) setConn(c *net.TCPConn) {
	w.mu.Lock()
	w.conn = c
	w.mu.Unlock()
}

// Bind only checks that local is non-nil; it stores nothing, and
// Connect does not use it. TCP sockets bind implicitly on connect, so
// there is nothing else to do here.
func (w *NetworkWriter) Bind(local net.Addr) error {
	if local == nil {
		return ErrInvalidConfig
	}
	return nil
}

// Connect establishes the outgoing TCP connection synchronously.
func (w *NetworkWriter) Connect(ctx context.Context, endpoint net.Addr) error {
	if w.shutdown.IsSet() {
		return ErrShutdown
	}
	var d net.Dialer
	c, err := d.DialContext(ctx, "tcp", endpoint.String())
	if err != nil {
		if ctx.Err() != nil {
			return ErrCancelled
		}
		return mapIOError(err, w.shutdown.IsSet())
	}
	tcpConn := c.(*net.TCPConn)
	if err := tuneConn(tcpConn, w.cfg.tuning); err != nil {
		tcpConn.Close()
		return err
	}
	w.setConn(tcpConn)
	return nil
}

// ConnectAsync initiates the connect and returns a future resolved on
// completion.
func (w *NetworkWriter) ConnectAsync(endpoint net.Addr) *future {
	f := newFuture()
	go func() {
		err := w.Connect(context.Background(), endpoint)
		f.resolve(TransmissionResult{Peer: endpoint}, err)
	}()
	return f
}

// Disconnect performs a graceful half-close. reuseSocket=true shuts
// down the write side and leaves the connection in place; a later
// Connect dials a new socket and does not reuse it. reuseSocket=false
// fully closes and clears the connection.
func (w *NetworkWriter) Disconnect(reuseSocket bool) error {
	w.mu.Lock()
	conn := w.conn
	if conn == nil {
		w.mu.Unlock()
		return nil
	}
	if !reuseSocket {
		w.conn = nil
	}
	w.mu.Unlock()

	if reuseSocket {
		return mapIOError(conn.CloseWrite(), w.shutdown.IsSet())
	}
	return mapIOError(conn.Close(), w.shutdown.IsSet())
}

// DisconnectAsync is the async variant of Disconnect.
func (w *NetworkWriter) DisconnectAsync(reuseSocket bool) *future {
	f := newFuture()
	go func() {
		err := w.Disconnect(reuseSocket)
		f.resolve(TransmissionResult{}, err)
	}()
	return f
}

// Write sends exactly len(src) bytes, framed via the header codec, and
// blocks until the send completes.
func (w *NetworkWriter) Write(endpoint net.Addr, src []byte) (TransmissionResult, error) {
	return w.WriteAsync(endpoint, src).Wait()
}

// WriteAsync is the async state machine of spec.md §4.E: rent state and
// buffer, frame the payload, send it to completion handling partial
// writes, and resolve the returned future.
func (w *NetworkWriter) WriteAsync(endpoint net.Addr, src []byte) *future {
	f := newFuture()

	if len(src) > w.cfg.maxMessageSize {
		f.resolve(TransmissionResult{}, ErrBufferTooLarge)
		return f
	}
	if w.shutdown.IsSet() {
		f.resolve(TransmissionResult{}, ErrShutdown)
		return f
	}
	conn := w.getConn()
	if conn == nil {
		f.resolve(TransmissionResult{}, ErrShutdown)
		return f
	}
	if endpoint == nil {
		endpoint = w.defaultEndpoint
	}

	frameLen := totalFrameSize(uint32(len(src)))
	rented, err := w.bufPool.Rent(frameLen)
	if err != nil {
		f.resolve(TransmissionResult{}, err)
		return f
	}
	frame := rented[:frameLen]
	encodeHeader(frame, uint32(len(src)))
	copy(frame[HeaderSize:], src)

	state := w.statePool.Rent()
	state.kind = opSend
	state.peer = endpoint
	state.rented = rented
	state.buf = frame
	state.write = writeToken{sink: f, totalWritten: 0}

	go func() {
		w.writeMu.Lock()
		w.driveWrite(conn, state, 0)
	}()
	return f
}

// driveWrite issues one OS send call and continues inline (up to
// maxInlineDepth) or via a new goroutine, mirroring spec.md §4.E's
// continuation state machine and §9's inline-completion guard.
func (w *NetworkWriter) driveWrite(conn *net.TCPConn, state *completionState, depth int) {
	if w.shutdown.IsSet() {
		w.finishWrite(state, ErrCancelled)
		return
	}

	tok := &state.write
	remaining := state.buf[tok.totalWritten:]
	n, err := w.writeChunk(conn, remaining, tok.totalWritten == 0)
	if err != nil {
		w.finishWrite(state, err)
		return
	}
	if n == 0 {
		w.finishWrite(state, ErrPeerClosed)
		return
	}
	tok.totalWritten += n
	if tok.totalWritten >= len(state.buf) {
		w.finishWrite(state, nil)
		return
	}

	if depth+1 >= maxInlineDepth {
		go w.driveWrite(conn, state, 0)
		return
	}
	w.driveWrite(conn, state, depth+1)
}

// writeChunk issues a single OS send. On the first call of a frame it
// prefers a vectorised gather-write of the still-separate header and
// payload slices (grounded on SagerNet-smux's sendLoop), avoiding a
// contiguous copy; later continuation calls fall back to a plain
// net.Conn.Write of the remaining bytes.
func (w *NetworkWriter) writeChunk(conn *net.TCPConn, b []byte, first bool) (int, error) {
	if first && len(b) > HeaderSize {
		if vw, ok := bufio.CreateVectorisedWriter(conn); ok {
			return bufio.WriteVectorised(vw, [][]byte{b[:HeaderSize], b[HeaderSize:]})
		}
	}
	return conn.Write(b)
}

func (w *NetworkWriter) finishWrite(state *completionState, rawErr error) {
	mapped := mapIOError(rawErr, w.shutdown.IsSet())
	var result TransmissionResult
	if mapped == nil {
		payload := state.buf[HeaderSize:]
		result = TransmissionResult{BytesTransferred: len(payload), Peer: state.peer, Buffer: payload}
	}
	sink := state.write.sink

	w.bufPool.Return(state.rented, false)
	w.statePool.Return(state)
	w.writeMu.Unlock()

	sink.resolve(result, mapped)
}

// Read receives a framed response into dst and blocks until the read
// completes (or fails).
func (w *NetworkWriter) Read(endpoint net.Addr, dst []byte) (TransmissionResult, error) {
	return w.ReadAsync(endpoint, dst).Wait()
}

// ReadAsync is the read-side mirror of WriteAsync: receive a header,
// decode the payload length, then receive exactly that many bytes,
// copying them into the caller's dst (spec.md §4.E "symmetric, with the
// additional final step of copying the rented buffer into dst").
func (w *NetworkWriter) ReadAsync(endpoint net.Addr, dst []byte) *future {
	f := newFuture()

	if w.shutdown.IsSet() {
		f.resolve(TransmissionResult{}, ErrShutdown)
		return f
	}
	conn := w.getConn()
	if conn == nil {
		f.resolve(TransmissionResult{}, ErrShutdown)
		return f
	}
	if endpoint == nil {
		endpoint = w.defaultEndpoint
	}

	rented, err := w.bufPool.Rent(totalFrameSize(uint32(w.cfg.maxMessageSize)))
	if err != nil {
		f.resolve(TransmissionResult{}, err)
		return f
	}

	state := w.statePool.Rent()
	state.kind = opReceive
	state.peer = endpoint
	state.rented = rented
	state.buf = rented[:HeaderSize]
	state.read = readToken{sink: f, dst: dst, totalRead: 0}

	go func() {
		w.readMu.Lock()
		w.driveReadHeader(conn, state, 0)
	}()
	return f
}

func (w *NetworkWriter) driveReadHeader(conn *net.TCPConn, state *completionState, depth int) {
	if w.shutdown.IsSet() {
		w.finishRead(state, ErrCancelled)
		return
	}

	tok := &state.read
	n, err := conn.Read(state.buf[tok.totalRead:])
	if err != nil {
		w.finishRead(state, err)
		return
	}
	if n == 0 {
		w.finishRead(state, ErrPeerClosed)
		return
	}
	tok.totalRead += n
	if tok.totalRead < HeaderSize {
		if depth+1 >= maxInlineDepth {
			go w.driveReadHeader(conn, state, 0)
			return
		}
		w.driveReadHeader(conn, state, depth+1)
		return
	}

	length, herr := decodeHeader(state.buf, uint32(w.cfg.maxMessageSize))
	if herr != nil {
		w.finishRead(state, herr)
		return
	}
	if int(length) > len(tok.dst) {
		w.finishRead(state, ErrBufferTooLarge)
		return
	}

	state.buf = state.rented[:totalFrameSize(length)]
	w.driveReadPayload(conn, state, 0)
}

func (w *NetworkWriter) driveReadPayload(conn *net.TCPConn, state *completionState, depth int) {
	if w.shutdown.IsSet() {
		w.finishRead(state, ErrCancelled)
		return
	}

	tok := &state.read
	target := state.buf[tok.totalRead:]
	n, err := conn.Read(target)
	if err != nil {
		w.finishRead(state, err)
		return
	}
	if n == 0 {
		w.finishRead(state, ErrPeerClosed)
		return
	}
	tok.totalRead += n
	if tok.totalRead < len(state.buf) {
		if depth+1 >= maxInlineDepth {
			go w.driveReadPayload(conn, state, 0)
			return
		}
		w.driveReadPayload(conn, state, depth+1)
		return
	}

	copy(tok.dst, state.buf[HeaderSize:])
	w.finishRead(state, nil)
}

func (w *NetworkWriter) finishRead(state *completionState, rawErr error) {
	mapped := mapIOError(rawErr, w.shutdown.IsSet())
	var result TransmissionResult
	if mapped == nil {
		n := len(state.buf) - HeaderSize
		result = TransmissionResult{BytesTransferred: n, Peer: state.peer, Buffer: state.read.dst[:n]}
	}
	sink := state.read.sink

	w.bufPool.Return(state.rented, false)
	w.statePool.Return(state)
	w.readMu.Unlock()

	sink.resolve(result, mapped)
}

// Shutdown triggers the one-shot cancellation signal: subsequent
// operations fail fast with ErrShutdown and in-flight continuations
// observe it before their next OS call.
func (w *NetworkWriter) Shutdown() error {
	w.shutdown.Trigger()
	conn := w.getConn()
	if conn != nil {
		return mapIOError(conn.Close(), true)
	}
	return nil
}

// Dispose tears down the writer's pools after Shutdown. Calling it
// before Shutdown is safe but may race with in-flight operations still
// holding pooled objects.
func (w *NetworkWriter) Dispose() {
	w.shutdown.Trigger()
	w.statePool.Dispose()
}

// wrapConfigErr gives construction-site validation errors a consistent
// stack trace via pkg/errors, matching the teacher's error-wrapping
// idiom.
func wrapConfigErr(err error, msg string) error {
	if err == nil {
		return nil
	}
	return pkgerrors.Wrap(err, msg)
}
