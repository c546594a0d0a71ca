package wire

import (
	"bytes"
	"testing"
)

func TestLengthEncodedIntRoundTrip(t *testing.T) {
	cases := []uint64{0, 1, 250, 251, 252, 65535, 65536, 16777215, 16777216, 1 << 40, 1<<64 - 1}
	for _, n := range cases {
		w := NewWriter(16)
		w.LengthEncodedInt(n)
		r := NewReader(w.Bytes())
		got, ok, err := r.LengthEncodedInt()
		if err != nil {
			t.Fatalf("n=%d: %v", n, err)
		}
		if !ok {
			t.Fatalf("n=%d: unexpected NULL", n)
		}
		if got != n {
			t.Fatalf("n=%d: got %d", n, got)
		}
	}
}

func TestLengthEncodedIntByteLengthRule(t *testing.T) {
	cases := []struct {
		n    uint64
		want int
	}{
		{0, 1},
		{250, 1},
		{251, 3},
		{65535, 3},
		{65536, 4},
		{16777215, 4},
		{16777216, 9},
	}
	for _, c := range cases {
		w := NewWriter(16)
		w.LengthEncodedInt(c.n)
		if len(w.Bytes()) != c.want {
			t.Errorf("n=%d: got %d bytes, want %d", c.n, len(w.Bytes()), c.want)
		}
	}
}

func TestLengthEncodedIntNullMarker(t *testing.T) {
	r := NewReader([]byte{0xfb})
	_, ok, err := r.LengthEncodedInt()
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Fatal("expected NULL marker to report ok=false")
	}
}

func TestLengthEncodedStringRoundTrip(t *testing.T) {
	w := NewWriter(16)
	w.LengthEncodedString("hello world")
	r := NewReader(w.Bytes())
	s, ok, err := r.LengthEncodedString()
	if err != nil || !ok {
		t.Fatalf("s=%q ok=%v err=%v", s, ok, err)
	}
	if s != "hello world" {
		t.Fatalf("got %q", s)
	}
}

func TestNullTerminatedStringRoundTrip(t *testing.T) {
	w := NewWriter(16)
	w.NullTerminatedString("root")
	w.Byte(0xAA) // sentinel to prove we stop at the right place
	r := NewReader(w.Bytes())
	s, err := r.NullTerminatedString()
	if err != nil {
		t.Fatal(err)
	}
	if s != "root" {
		t.Fatalf("got %q", s)
	}
	b, err := r.Byte()
	if err != nil || b != 0xAA {
		t.Fatalf("sentinel byte mismatch: %v %v", b, err)
	}
}

func TestFixedWidthIntRoundTrip(t *testing.T) {
	w := NewWriter(32)
	w.Uint16(1234)
	w.Uint24(1 << 20)
	w.Uint32(0xdeadbeef)
	w.Uint64(1 << 40)
	r := NewReader(w.Bytes())
	if v, _ := r.Uint16(); v != 1234 {
		t.Errorf("uint16: got %d", v)
	}
	if v, _ := r.Uint24(); v != 1<<20 {
		t.Errorf("uint24: got %d", v)
	}
	if v, _ := r.Uint32(); v != 0xdeadbeef {
		t.Errorf("uint32: got %x", v)
	}
	if v, _ := r.Uint64(); v != 1<<40 {
		t.Errorf("uint64: got %d", v)
	}
}

func TestReaderShortBufferErrors(t *testing.T) {
	r := NewReader([]byte{0x01})
	if _, err := r.Uint32(); err == nil {
		t.Fatal("expected short-read error")
	}
}

func TestNullMarkerBytes(t *testing.T) {
	w := NewWriter(1)
	w.NullMarker()
	if !bytes.Equal(w.Bytes(), []byte{0xfb}) {
		t.Fatalf("got %x", w.Bytes())
	}
}
