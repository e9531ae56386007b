package types

import (
	"fmt"
	"strings"
)

// Quorum selects how many signers of a key set are required.
type Quorum int

const (
	QuorumMajority Quorum = iota
	QuorumOne
)

func (q Quorum) String() string {
	switch q {
	case QuorumMajority:
		return "MAJORITY"
	case QuorumOne:
		return "ONE"
	default:
		return fmt.Sprintf("Quorum(%d)", int(q))
	}
}

// MinimumRequired returns the signer threshold for a set of n keys.
func (q Quorum) MinimumRequired(n int) int {
	if q == QuorumOne {
		return 1
	}
	return n/2 + 1
}

func ParseQuorum(s string) (Quorum, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "MAJORITY":
		return QuorumMajority, nil
	case "ONE":
		return QuorumOne, nil
	default:
		return 0, fmt.Errorf("unknown quorum %q", s)
	}
}
