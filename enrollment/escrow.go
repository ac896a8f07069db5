package enrollment

import (
	"encoding/base64"
	"fmt"

	"github.com/hashicorp/vault/shamir"

	"github.com/IgorGanapolsky/iot-provisioning-auth/interfaces"
)

// SplitGroupKey splits a base64 group master key into Shamir shares, any
// threshold of which reconstruct it. Shares are returned base64-encoded
// for distribution to operators. The threshold must be at least 2 and the
// share count at least the threshold.
func SplitGroupKey(groupKey string, shares, threshold int) ([]string, error) {
	if threshold < 2 {
		return nil, fmt.Errorf("%w: threshold must be at least 2", interfaces.ErrInvalidArgument)
	}
	if shares < threshold {
		return nil, fmt.Errorf("%w: share count must be at least the threshold", interfaces.ErrInvalidArgument)
	}

	raw, err := base64.StdEncoding.DecodeString(groupKey)
	if err != nil {
		return nil, fmt.Errorf("%w: group key is not valid base64: %v", interfaces.ErrInvalidArgument, err)
	}
	if len(raw) == 0 {
		return nil, fmt.Errorf("%w: group key is empty", interfaces.ErrInvalidArgument)
	}

	parts, err := shamir.Split(raw, shares, threshold)
	if err != nil {
		return nil, fmt.Errorf("%w: splitting group key: %v", interfaces.ErrInvalidArgument, err)
	}

	encoded := make([]string, len(parts))
	for i, part := range parts {
		encoded[i] = base64.StdEncoding.EncodeToString(part)
	}
	return encoded, nil
}

// RecoverGroupKey reconstructs a group master key from base64 Shamir
// shares. At least the split threshold of distinct shares is required;
// fewer, or corrupted shares, yield an error or a key that fails
// verification downstream.
func RecoverGroupKey(shares []string) (string, error) {
	if len(shares) < 2 {
		return "", fmt.Errorf("%w: at least 2 shares are required", interfaces.ErrInvalidArgument)
	}

	parts := make([][]byte, len(shares))
	for i, share := range shares {
		raw, err := base64.StdEncoding.DecodeString(share)
		if err != nil {
			return "", fmt.Errorf("%w: share %d is not valid base64: %v", interfaces.ErrInvalidArgument, i, err)
		}
		parts[i] = raw
	}

	combined, err := shamir.Combine(parts)
	if err != nil {
		return "", fmt.Errorf("%w: combining shares: %v", interfaces.ErrInvalidArgument, err)
	}
	return base64.StdEncoding.EncodeToString(combined), nil
}
