package asyncnet

import "testing"

func TestEncodeDecodeHeaderRoundTrip(t *testing.T) {
	buf := make([]byte, HeaderSize)
	encodeHeader(buf, 12345)

	got, err := decodeHeader(buf, 1<<20)
	if err != nil {
		t.Fatalf("decodeHeader returned error: %v", err)
	}
	if got != 12345 {
		t.Fatalf("expected 12345, got %d", got)
	}
}

func TestDecodeHeaderRejectsZeroLength(t *testing.T) {
	buf := make([]byte, HeaderSize)
	encodeHeader(buf, 0)

	if _, err := decodeHeader(buf, 1<<20); err != ErrMalformedHeader {
		t.Fatalf("expected ErrMalformedHeader, got %v", err)
	}
}

func TestDecodeHeaderRejectsOversizedLength(t *testing.T) {
	buf := make([]byte, HeaderSize)
	encodeHeader(buf, 1000)

	if _, err := decodeHeader(buf, 999); err != ErrMalformedHeader {
		t.Fatalf("expected ErrMalformedHeader, got %v", err)
	}
}

func TestDecodeHeaderAcceptsExactMax(t *testing.T) {
	buf := make([]byte, HeaderSize)
	encodeHeader(buf, 1000)

	got, err := decodeHeader(buf, 1000)
	if err != nil {
		t.Fatalf("decodeHeader returned error: %v", err)
	}
	if got != 1000 {
		t.Fatalf("expected 1000, got %d", got)
	}
}

func TestTotalFrameSize(t *testing.T) {
	if got := totalFrameSize(10); got != HeaderSize+10 {
		t.Fatalf("expected %d, got %d", HeaderSize+10, got)
	}
}
