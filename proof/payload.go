package proof

import (
	"bytes"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/consensys/gnark-crypto/ecc/bn254/fr"
	mimcbn254 "github.com/consensys/gnark-crypto/ecc/bn254/fr/mimc"
	"lukechampine.com/blake3"
)

// payload is the envelope serialized into Attestation.Proof. Commitments are
// MiMC(bn254) hashes binding each witness field without revealing it; the
// digest seals the envelope so any post-generation tampering is detectable by
// the structural verifier.
type payload struct {
	CircuitID       string            `json:"circuitId"`
	Commitments     map[string]string `json:"commitments"`
	NonceCommitment string            `json:"nonceCommitment"`
	GeneratedAt     int64             `json:"generatedAt"`
	Digest          string            `json:"digest"`
}

func (p *payload) encode() ([]byte, error) {
	p.Digest = hex.EncodeToString(p.canonicalDigest())
	return json.Marshal(p)
}

func decodePayload(raw []byte) (*payload, error) {
	if len(raw) == 0 {
		return nil, fmt.Errorf("proof payload empty")
	}
	var p payload
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("proof payload malformed: %w", err)
	}
	return &p, nil
}

// canonicalDigest hashes the envelope fields in a fixed, length-delimited
// order with blake3.
func (p *payload) canonicalDigest() []byte {
	buf := bytes.NewBuffer(nil)
	writeDelimited(buf, []byte(p.CircuitID))
	writeDelimited(buf, []byte(p.NonceCommitment))
	_ = binary.Write(buf, binary.BigEndian, p.GeneratedAt)
	keys := make([]string, 0, len(p.Commitments))
	for k := range p.Commitments {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	_ = binary.Write(buf, binary.BigEndian, uint32(len(keys)))
	for _, k := range keys {
		writeDelimited(buf, []byte(k))
		writeDelimited(buf, []byte(p.Commitments[k]))
	}
	sum := blake3.Sum256(buf.Bytes())
	return sum[:]
}

func (p *payload) digestValid() bool {
	want := hex.EncodeToString(p.canonicalDigest())
	return p.Digest == want
}

func writeDelimited(buf *bytes.Buffer, data []byte) {
	_ = binary.Write(buf, binary.BigEndian, uint32(len(data)))
	if len(data) > 0 {
		buf.Write(data)
	}
}

// fieldElement maps arbitrary bytes into the bn254 scalar field. Inputs are
// sha256-prehashed so values longer than the field modulus reduce cleanly.
func fieldElement(data []byte) fr.Element {
	digest := sha256.Sum256(data)
	var el fr.Element
	el.SetBytes(digest[:])
	return el
}

// commit produces the hex MiMC commitment binding a named witness field to its
// value.
func commit(key, value string) string {
	h := mimcbn254.NewMiMC()
	kel := fieldElement([]byte(key))
	vel := fieldElement([]byte(value))
	kb := kel.Bytes()
	vb := vel.Bytes()
	h.Write(kb[:])
	h.Write(vb[:])
	return hex.EncodeToString(h.Sum(nil))
}

// commitNonce commits a raw nonce without a field name.
func commitNonce(nonce []byte) string {
	h := mimcbn254.NewMiMC()
	nel := fieldElement(nonce)
	nb := nel.Bytes()
	h.Write(nb[:])
	return hex.EncodeToString(h.Sum(nil))
}
