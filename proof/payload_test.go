package proof

import (
	"testing"
)

func TestCommitDeterministic(t *testing.T) {
	first := commit("beneficiary", "addr1")
	second := commit("beneficiary", "addr1")
	if first == "" {
		t.Fatal("empty commitment")
	}
	if first != second {
		t.Fatalf("commitment not deterministic: %s != %s", first, second)
	}
	if commit("beneficiary", "addr2") == first {
		t.Fatal("distinct values collide")
	}
	if commit("amount", "addr1") == first {
		t.Fatal("distinct keys collide")
	}
}

func TestCommitNonceBindsNonce(t *testing.T) {
	a := commitNonce([]byte{0x01, 0x02})
	b := commitNonce([]byte{0x01, 0x03})
	if a == "" || b == "" {
		t.Fatal("empty nonce commitment")
	}
	if a == b {
		t.Fatal("distinct nonces collide")
	}
	if commitNonce([]byte{0x01, 0x02}) != a {
		t.Fatal("nonce commitment not deterministic")
	}
}

func TestPayloadDigestDetectsTampering(t *testing.T) {
	p := &payload{
		CircuitID:       "hashlock-timelock",
		Commitments:     map[string]string{"preimage": commit("preimage", "s3cret")},
		NonceCommitment: commitNonce([]byte{0xAA}),
		GeneratedAt:     1_700_000_000,
	}
	raw, err := p.encode()
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	decoded, err := decodePayload(raw)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !decoded.digestValid() {
		t.Fatal("fresh payload digest invalid")
	}

	decoded.CircuitID = "timelock"
	if decoded.digestValid() {
		t.Fatal("digest still valid after circuit id swap")
	}
}
