package recovery

import (
	"fmt"

	"github.com/hashicorp/vault/shamir"
)

// Kit is an offline recovery kit: the ceremony's secondary secret split into
// shares, any Threshold of which reconstruct it. Shares are meant to be
// printed or stored in separate locations and never kept together.
type Kit struct {
	Shares    [][]byte
	Threshold int
}

// NewKit splits a secondary secret into parts shares with the given
// reconstruction threshold. The secret itself is not stored in the kit.
func NewKit(secret []byte, parts, threshold int) (*Kit, error) {
	if len(secret) == 0 {
		return nil, fmt.Errorf("cannot split an empty secret")
	}
	if threshold < 2 || threshold > parts {
		return nil, fmt.Errorf("invalid share policy: %d of %d", threshold, parts)
	}

	shares, err := shamir.Split(secret, parts, threshold)
	if err != nil {
		return nil, fmt.Errorf("failed to split recovery secret: %w", err)
	}

	return &Kit{Shares: shares, Threshold: threshold}, nil
}

// Combine reconstructs a secondary secret from shares. At least the kit's
// threshold of distinct shares is required; fewer, or corrupted shares,
// reconstruct garbage or fail outright.
func Combine(shares [][]byte) ([]byte, error) {
	if len(shares) < 2 {
		return nil, fmt.Errorf("at least two shares are required")
	}

	secret, err := shamir.Combine(shares)
	if err != nil {
		return nil, fmt.Errorf("failed to combine recovery shares: %w", err)
	}

	return secret, nil
}
