package motion

import "time"

// Sample is a single raw accelerometer reading from the capture rig, in g.
//
// Axis convention for a device held face-down over a receipt:
// X is lateral (side to side), Y is the scroll axis (down the receipt),
// Z is depth (toward/away from the paper).
type Sample struct {
	Ax float64 `json:"ax"`
	Ay float64 `json:"ay"`
	Az float64 `json:"az"`

	Time time.Time `json:"time"`
}

// Source is anything that can provide motion samples over time: the mock
// generator, the serial bench rig, or the SPI accelerometer.
type Source interface {
	Next() (Sample, error)
}
