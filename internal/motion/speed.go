package motion

import "math"

// SpeedCategory is the discrete guidance shown to the user while the
// device sweeps down the receipt.
type SpeedCategory int

const (
	Stationary SpeedCategory = iota
	TooSlow
	Perfect
	TooFast
)

func (c SpeedCategory) String() string {
	switch c {
	case Stationary:
		return "stationary"
	case TooSlow:
		return "too_slow"
	case Perfect:
		return "perfect"
	case TooFast:
		return "too_fast"
	default:
		return "unknown"
	}
}

// Classification thresholds on |velocity|. Empirical values, do not tune
// without product guidance.
const (
	stationaryMax = 0.02
	slowMax       = 0.08
	perfectMax    = 0.30
)

// Classify maps a smoothed velocity to a guidance category. Pure function,
// callable at any rate. Lower bounds are inclusive and 0.30 still counts
// as Perfect, so boundary values resolve the same way every time.
func Classify(velocity float64) SpeedCategory {
	v := math.Abs(velocity)
	switch {
	case v < stationaryMax:
		return Stationary
	case v < slowMax:
		return TooSlow
	case v <= perfectMax:
		return Perfect
	default:
		return TooFast
	}
}
