package domain

import "time"

// BandPolicy selects what the controller does when the reprice candidate for
// an existing resting order falls outside the configured price band.
type BandPolicy string

const (
	// BandPolicyAbort stops monitoring with a range-violation signal.
	BandPolicyAbort BandPolicy = "abort"
	// BandPolicyHold leaves the resting order untouched and keeps polling.
	BandPolicyHold BandPolicy = "hold"
)

// PositionTarget is the sole configuration the repricing controller consumes.
// It is immutable for the life of one monitoring run.
type PositionTarget struct {
	Symbol           string
	TargetQty        int64
	OrderQtyPerCycle int64
	MinPrice         float64
	MaxPrice         float64
	PollInterval     time.Duration
	BandPolicy       BandPolicy
}

// InBand reports whether price lies inside the [MinPrice, MaxPrice] band.
func (t PositionTarget) InBand(price float64) bool {
	return price >= t.MinPrice && price <= t.MaxPrice
}
