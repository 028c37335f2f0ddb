package crypto

import (
	"bytes"
	"strings"
	"testing"

	"github.com/btcsuite/btcutil/bech32"
)

func TestAddressRoundTrip(t *testing.T) {
	raw := bytes.Repeat([]byte{0xab}, 20)
	addr := NewAddress(ZKEPrefix, raw)

	encoded := addr.String()
	if !strings.HasPrefix(encoded, "zke1") {
		t.Fatalf("encoded = %s, want zke1 prefix", encoded)
	}

	decoded, err := DecodeAddress(encoded)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if decoded.Prefix() != ZKEPrefix {
		t.Fatalf("prefix = %s, want %s", decoded.Prefix(), ZKEPrefix)
	}
	if !bytes.Equal(decoded.Bytes(), raw) {
		t.Fatalf("payload mismatch: %x", decoded.Bytes())
	}
}

func TestDecodeAddressRejectsMalformed(t *testing.T) {
	cases := []struct {
		name string
		addr string
	}{
		{"empty", ""},
		{"not bech32", "zke1!!!!"},
		{"bad checksum", "zke14t5mzegv4wl9j9a4t5mzegv4wl9j9a4tqqqqqqq"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := DecodeAddress(tc.addr); err == nil {
				t.Fatalf("decode %q succeeded, want error", tc.addr)
			}
		})
	}
}

func TestDecodeAddressRejectsShortPayload(t *testing.T) {
	conv, err := bech32.ConvertBits(bytes.Repeat([]byte{0x01}, 10), 8, 5, true)
	if err != nil {
		t.Fatalf("convert bits: %v", err)
	}
	short, err := bech32.Encode(string(ZKEPrefix), conv)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if _, err := DecodeAddress(short); err == nil {
		t.Fatal("expected length error for 10-byte payload")
	}
}

func TestNewAddressCopiesPayload(t *testing.T) {
	raw := bytes.Repeat([]byte{0x01}, 20)
	addr := NewAddress(ZKEPrefix, raw)
	raw[0] = 0xff
	if addr.Bytes()[0] != 0x01 {
		t.Fatal("address aliases caller's slice")
	}
}
