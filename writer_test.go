package asyncnet

import (
	"context"
	"net"
	"testing"
	"time"
)

// rawFramedServer accepts exactly one connection and echoes every frame
// it receives back to the same connection, reading/decoding headers
// itself rather than going through NetworkReader -- this isolates
// NetworkWriter's Write/Read behavior from the reader side under test.
func rawFramedServer(t *testing.T, ln *net.TCPListener) {
	t.Helper()
	conn, err := ln.AcceptTCP()
	if err != nil {
		return
	}
	defer conn.Close()

	header := make([]byte, HeaderSize)
	for {
		if _, err := ioReadFull(conn, header); err != nil {
			return
		}
		length, err := decodeHeader(header, 1<<20)
		if err != nil {
			return
		}
		payload := make([]byte, length)
		if _, err := ioReadFull(conn, payload); err != nil {
			return
		}
		frame := make([]byte, totalFrameSize(length))
		encodeHeader(frame, length)
		copy(frame[HeaderSize:], payload)
		if _, err := conn.Write(frame); err != nil {
			return
		}
	}
}

func ioReadFull(conn net.Conn, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := conn.Read(buf[total:])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

func newLoopbackListener(t *testing.T) *net.TCPListener {
	t.Helper()
	addr, err := net.ResolveTCPAddr("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("ResolveTCPAddr: %v", err)
	}
	ln, err := net.ListenTCP("tcp", addr)
	if err != nil {
		t.Fatalf("ListenTCP: %v", err)
	}
	return ln
}

func TestNetworkWriterWriteReadRoundTrip(t *testing.T) {
	ln := newLoopbackListener(t)
	defer ln.Close()
	go rawFramedServer(t, ln)

	w, err := NewNetworkWriter(nil, ln.Addr())
	if err != nil {
		t.Fatalf("NewNetworkWriter: %v", err)
	}
	defer w.Dispose()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := w.Connect(ctx, ln.Addr()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer w.Shutdown()

	payload := []byte("hello asyncnet")
	if _, err := w.Write(ln.Addr(), payload); err != nil {
		t.Fatalf("Write: %v", err)
	}

	dst := make([]byte, len(payload))
	result, err := w.Read(ln.Addr(), dst)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if result.BytesTransferred != len(payload) {
		t.Fatalf("expected %d bytes transferred, got %d", len(payload), result.BytesTransferred)
	}
	if string(dst) != string(payload) {
		t.Fatalf("expected echoed payload %q, got %q", payload, dst)
	}
}

func TestNetworkWriterConnectAsync(t *testing.T) {
	ln := newLoopbackListener(t)
	defer ln.Close()
	go rawFramedServer(t, ln)

	w, err := NewNetworkWriter(nil, ln.Addr())
	if err != nil {
		t.Fatalf("NewNetworkWriter: %v", err)
	}
	defer w.Dispose()

	f := w.ConnectAsync(ln.Addr())
	if _, err := f.Wait(); err != nil {
		t.Fatalf("ConnectAsync: %v", err)
	}
	defer w.Shutdown()

	if _, err := w.Write(ln.Addr(), []byte("async")); err != nil {
		t.Fatalf("Write after async connect: %v", err)
	}
}

func TestNetworkWriterReadAsyncReturnsBeforeCompletion(t *testing.T) {
	ln := newLoopbackListener(t)
	defer ln.Close()

	accepted := make(chan *net.TCPConn, 1)
	go func() {
		conn, err := ln.AcceptTCP()
		if err == nil {
			accepted <- conn
		}
	}()

	w, err := NewNetworkWriter(nil, ln.Addr())
	if err != nil {
		t.Fatalf("NewNetworkWriter: %v", err)
	}
	defer w.Dispose()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := w.Connect(ctx, ln.Addr()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer w.Shutdown()

	serverConn := <-accepted
	defer serverConn.Close()

	dst := make([]byte, 16)
	f := w.ReadAsync(ln.Addr(), dst)

	// The peer hasn't sent anything yet, so a genuinely asynchronous
	// ReadAsync must return before the read resolves.
	select {
	case <-f.done:
		t.Fatalf("expected ReadAsync to return before the pending read resolves")
	default:
	}

	payload := []byte("delayed reply")
	frame := make([]byte, totalFrameSize(uint32(len(payload))))
	encodeHeader(frame, uint32(len(payload)))
	copy(frame[HeaderSize:], payload)
	if _, err := serverConn.Write(frame); err != nil {
		t.Fatalf("server write: %v", err)
	}

	result, err := f.Wait()
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if string(result.Buffer) != string(payload) {
		t.Fatalf("expected %q, got %q", payload, result.Buffer)
	}
}

func TestNetworkWriterWriteTooLarge(t *testing.T) {
	ln := newLoopbackListener(t)
	defer ln.Close()
	go rawFramedServer(t, ln)

	w, err := NewNetworkWriter(nil, ln.Addr(), WithMaxMessageSize(8))
	if err != nil {
		t.Fatalf("NewNetworkWriter: %v", err)
	}
	defer w.Dispose()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := w.Connect(ctx, ln.Addr()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer w.Shutdown()

	_, err = w.Write(ln.Addr(), make([]byte, 9))
	if err != ErrBufferTooLarge {
		t.Fatalf("expected ErrBufferTooLarge, got %v", err)
	}
}

func TestNetworkWriterWriteBeforeConnect(t *testing.T) {
	addr, err := net.ResolveTCPAddr("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("ResolveTCPAddr: %v", err)
	}
	w, err := NewNetworkWriter(nil, addr)
	if err != nil {
		t.Fatalf("NewNetworkWriter: %v", err)
	}
	defer w.Dispose()

	if _, err := w.Write(addr, []byte("x")); err != ErrShutdown {
		t.Fatalf("expected ErrShutdown for unconnected writer, got %v", err)
	}
}

func TestNetworkWriterShutdownCancelsPendingOperations(t *testing.T) {
	ln := newLoopbackListener(t)
	defer ln.Close()

	accepted := make(chan *net.TCPConn, 1)
	go func() {
		conn, err := ln.AcceptTCP()
		if err == nil {
			accepted <- conn
		}
	}()

	w, err := NewNetworkWriter(nil, ln.Addr())
	if err != nil {
		t.Fatalf("NewNetworkWriter: %v", err)
	}
	defer w.Dispose()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := w.Connect(ctx, ln.Addr()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	<-accepted

	dst := make([]byte, 16)
	f := w.ReadAsync(ln.Addr(), dst)

	// Give the read a moment to block on the socket before shutting down.
	time.Sleep(50 * time.Millisecond)
	if err := w.Shutdown(); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}

	done := make(chan error, 1)
	go func() {
		_, err := f.Wait()
		done <- err
	}()

	select {
	case err := <-done:
		if err == nil {
			t.Fatalf("expected pending read to fail after Shutdown")
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("pending read did not observe shutdown in time")
	}
}
