package domain

import "fmt"

// Bucket names a partition of a pool's reserves and LP supply with its own
// trading/withdrawal eligibility.
type Bucket string

const (
	BucketLive          Bucket = "live"
	BucketTransitioning Bucket = "transitioning"
	BucketWithdrawOnly  Bucket = "withdraw_only"
)

// ParseBucket converts a stored string into a Bucket.
func ParseBucket(s string) (Bucket, error) {
	switch Bucket(s) {
	case BucketLive, BucketTransitioning, BucketWithdrawOnly:
		return Bucket(s), nil
	}
	return "", fmt.Errorf("domain: unknown bucket %q", s)
}

// Side selects one leg of the trading pair.
type Side string

const (
	SideAsset  Side = "asset"
	SideStable Side = "stable"
)

// Other returns the opposite side of the pair.
func (s Side) Other() Side {
	if s == SideAsset {
		return SideStable
	}
	return SideAsset
}

// ParseSide converts a stored string into a Side.
func ParseSide(s string) (Side, error) {
	switch Side(s) {
	case SideAsset, SideStable:
		return Side(s), nil
	}
	return "", fmt.Errorf("domain: unknown side %q", s)
}

// BucketAmounts holds the three tracked quantities of one bucket.
type BucketAmounts struct {
	Asset  uint64
	Stable uint64
	LP     uint64
}
