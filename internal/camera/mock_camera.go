// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package camera

import (
	"context"
	"image"
	"image/color"
	"sync"
	"time"
)

// MockCamera produces synthetic receipt frames: an off-white background
// with ruled "text" lines that shift upward on every shot, mimicking the
// device scrolling down a long receipt.
type MockCamera struct {
	width   int
	height  int
	latency time.Duration

	mu    sync.Mutex
	shots int
}

// NewMockCamera creates a mock camera emitting width x height frames.
// latency simulates the shutter round-trip; zero means instant.
func NewMockCamera(width, height int, latency time.Duration) *MockCamera {
	return &MockCamera{width: width, height: height, latency: latency}
}

// lineSpacing is the distance between ruled lines on the synthetic
// receipt, and scrollPerShot how far the paper advances between shots.
const (
	lineSpacing   = 48
	scrollPerShot = 30
)

func (c *MockCamera) Capture(ctx context.Context) (image.Image, error) {
	c.mu.Lock()
	shot := c.shots
	c.shots++
	c.mu.Unlock()

	if c.latency > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(c.latency):
		}
	}

	img := image.NewRGBA(image.Rect(0, 0, c.width, c.height))
	paper := color.RGBA{R: 0xF4, G: 0xF2, B: 0xEC, A: 0xFF}
	ink := color.RGBA{R: 0x30, G: 0x30, B: 0x30, A: 0xFF}

	offset := shot * scrollPerShot
	for y := 0; y < c.height; y++ {
		row := paper
		if (y+offset)%lineSpacing < 4 {
			row = ink
		}
		for x := 0; x < c.width; x++ {
			img.SetRGBA(x, y, row)
		}
	}

	return img, nil
}
