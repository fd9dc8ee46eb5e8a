package chain

import (
	"errors"
	"testing"
)

func TestDecodeHexUint64(t *testing.T) {
	cases := []struct {
		in      string
		want    uint64
		wantErr bool
	}{
		{"0x1b4", 436, false},
		{"0x0", 0, false},
		{"1b4", 436, false},
		{"0x", 0, true},
		{"", 0, true},
		{"0xzz", 0, true},
	}
	for _, c := range cases {
		got, err := DecodeHexUint64(c.in)
		if c.wantErr {
			if err == nil {
				t.Errorf("DecodeHexUint64(%q): expected error, got nil", c.in)
			} else if !errors.Is(err, ErrDecodeFailed) {
				t.Errorf("DecodeHexUint64(%q): expected ErrDecodeFailed, got %v", c.in, err)
			}
			continue
		}
		if err != nil {
			t.Errorf("DecodeHexUint64(%q): unexpected error %v", c.in, err)
		}
		if got != c.want {
			t.Errorf("DecodeHexUint64(%q) = %d, want %d", c.in, got, c.want)
		}
	}
}

func TestEncodeHexUint64RoundTrip(t *testing.T) {
	for _, v := range []uint64{0, 1, 255, 123456789} {
		enc := EncodeHexUint64(v)
		got, err := DecodeHexUint64(enc)
		if err != nil {
			t.Fatalf("round trip decode failed for %d: %v", v, err)
		}
		if got != v {
			t.Errorf("round trip: encoded %d as %q, decoded back as %d", v, enc, got)
		}
	}
}
