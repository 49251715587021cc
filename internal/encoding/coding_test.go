package encoding

import "testing"

func TestFixed32RoundTrip(t *testing.T) {
	buf := make([]byte, 4)
	EncodeFixed32(buf, 0xDEADBEEF)
	if got := DecodeFixed32(buf); got != 0xDEADBEEF {
		t.Fatalf("got %x, want %x", got, 0xDEADBEEF)
	}
}

func TestFixed64RoundTrip(t *testing.T) {
	buf := make([]byte, 8)
	EncodeFixed64(buf, 0x0123456789ABCDEF)
	if got := DecodeFixed64(buf); got != 0x0123456789ABCDEF {
		t.Fatalf("got %x, want %x", got, 0x0123456789ABCDEF)
	}
}

func TestAppendFixedLittleEndian(t *testing.T) {
	buf := AppendFixed32(nil, 1)
	if len(buf) != 4 || buf[0] != 1 || buf[1] != 0 || buf[2] != 0 || buf[3] != 0 {
		t.Fatalf("AppendFixed32 not little-endian: %v", buf)
	}
}

func TestSliceSequentialReads(t *testing.T) {
	var buf []byte
	buf = AppendFixed64(buf, 42)
	buf = AppendFixed32(buf, 7)
	buf = AppendLengthPrefixed64(buf, []byte("payload"))

	s := NewSlice(buf)
	v64, ok := s.GetFixed64()
	if !ok || v64 != 42 {
		t.Fatalf("GetFixed64 = %v, %v", v64, ok)
	}
	v32, ok := s.GetFixed32()
	if !ok || v32 != 7 {
		t.Fatalf("GetFixed32 = %v, %v", v32, ok)
	}
	payload, ok := s.GetLengthPrefixed64()
	if !ok || string(payload) != "payload" {
		t.Fatalf("GetLengthPrefixed64 = %q, %v", payload, ok)
	}
	if s.Remaining() != 0 {
		t.Fatalf("expected no remaining bytes, got %d", s.Remaining())
	}
}

func TestSliceShortReadFails(t *testing.T) {
	s := NewSlice([]byte{1, 2, 3})
	if _, ok := s.GetFixed64(); ok {
		t.Fatalf("expected GetFixed64 to fail on a 3-byte slice")
	}
}
