package condition

import (
	"bytes"
	"encoding/binary"
	"sort"
	"strconv"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// Fingerprint computes the keccak256 script hash of an ordered condition set.
// The encoding is canonical per variant (length-delimited fields in a fixed
// order), so the fingerprint binds an attestation to one exact rule set. Order
// matters: conditions form an ordered sequence on the escrow.
func Fingerprint(conditions []Condition) [32]byte {
	buf := bytes.NewBuffer(nil)
	writeUint32(buf, uint32(len(conditions)))
	for _, c := range conditions {
		writeDelimited(buf, []byte(string(c.Kind)))
		switch c.Kind {
		case KindTimeLock:
			if c.TimeLock != nil {
				writeDelimited(buf, []byte(strconv.FormatInt(c.TimeLock.UnlockAfter, 10)))
				writeDelimited(buf, []byte(strconv.FormatInt(c.TimeLock.MinDelay, 10)))
			}
		case KindOracle:
			if c.Oracle != nil {
				writeDelimited(buf, []byte(c.Oracle.Source))
				writeDelimited(buf, []byte(c.Oracle.Expression))
				writeDelimited(buf, []byte(c.Oracle.FeedID))
				writeDelimited(buf, []byte(c.Oracle.Threshold))
			}
		case KindMultiSig:
			if c.MultiSig != nil {
				writeDelimited(buf, []byte(strconv.FormatUint(uint64(c.MultiSig.Required), 10)))
				writeUint32(buf, uint32(len(c.MultiSig.Signers)))
				for _, signer := range c.MultiSig.Signers {
					writeDelimited(buf, []byte(signer))
				}
			}
		case KindHashLock:
			if c.HashLock != nil {
				writeDelimited(buf, []byte(c.HashLock.Algorithm))
				writeDelimited(buf, []byte(c.HashLock.Hash))
			}
		case KindGovernanceVote:
			if c.GovernanceVote != nil {
				writeDelimited(buf, []byte(c.GovernanceVote.ProposalID))
				writeDelimited(buf, []byte(c.GovernanceVote.Threshold))
			}
		case KindCustom:
			if c.Custom != nil {
				writeDelimited(buf, []byte(c.Custom.CircuitID))
				keys := sortedKeys(c.Custom.Inputs)
				writeUint32(buf, uint32(len(keys)))
				for _, k := range keys {
					writeDelimited(buf, []byte(k))
					writeDelimited(buf, []byte(c.Custom.Inputs[k]))
				}
			}
		}
	}
	return ethcrypto.Keccak256Hash(buf.Bytes())
}

func writeUint32(buf *bytes.Buffer, v uint32) {
	_ = binary.Write(buf, binary.BigEndian, v)
}

func writeDelimited(buf *bytes.Buffer, data []byte) {
	writeUint32(buf, uint32(len(data)))
	if len(data) > 0 {
		buf.Write(data)
	}
}

func sortedKeys(m map[string]string) []string {
	if len(m) == 0 {
		return nil
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
