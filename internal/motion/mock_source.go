// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package motion

import (
	"math"
	"time"
)

type mockSource struct {
	start time.Time
}

// NewMockSource creates a mock motion source that simulates a hand
// sweeping the device down a receipt: a steady vertical component with a
// gentle wobble on the lateral and depth axes.
func NewMockSource() Source {
	return &mockSource{start: time.Now()}
}

func (m *mockSource) Next() (Sample, error) {
	elapsed := time.Since(m.start).Seconds()

	return Sample{
		Ax:   0.05 * math.Sin(elapsed*3.1),
		Ay:   0.15 + 0.08*math.Sin(elapsed*0.8),
		Az:   0.04 * math.Cos(elapsed*2.3),
		Time: time.Now(),
	}, nil
}
