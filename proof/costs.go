package proof

import (
	"strings"

	"zkescrow/condition"
)

// Constraint-count estimates per condition tag, used to price verification.
// Figures approximate R1CS sizes of the corresponding MiMC-based sub-circuits.
var tagConstraints = map[string]uint64{
	"timelock": 1_200,
	"vote":     1_800,
	"oracle":   4_500,
	"custom":   8_000,
	"multisig": 12_000,
	"hashlock": 21_000,
}

// genericConstraints covers the fallback release circuit.
const genericConstraints uint64 = 25_000

// EstimateCost returns the constraint-count estimate for a derived circuit
// identifier. Composite identifiers sum their per-tag estimates; unknown tags
// cost the generic circuit.
func EstimateCost(circuitID string) uint64 {
	if circuitID == "" || circuitID == condition.GenericCircuitID {
		return genericConstraints
	}
	trimmed := strings.TrimSuffix(strings.TrimPrefix(circuitID, "escrow-"), "-v1")
	if trimmed == "" {
		return genericConstraints
	}
	var total uint64
	for _, tag := range strings.Split(trimmed, "-") {
		cost, ok := tagConstraints[tag]
		if !ok {
			cost = genericConstraints
		}
		total += cost
	}
	return total
}
