// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package stitch

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"math"

	"github.com/relabs-tech/scroll_capture/internal/frame"
)

// ErrNoFrames signals an empty capture session. It is a distinct
// outcome ("nothing captured"), not a failure.
var ErrNoFrames = errors.New("no frames to composite")

// Config holds the compositing constants. The defaults are empirical
// values carried over from field testing; do not tune them without
// product guidance.
type Config struct {
	// OverlapRatio is the fraction of each frame's height assumed to
	// repeat content from the previous frame.
	OverlapRatio float64
	// StripHeight is the blend granularity in pixels: the overlap band
	// is rendered as horizontal strips this tall.
	StripHeight int
}

// DefaultConfig returns the production constants.
func DefaultConfig() Config {
	return Config{OverlapRatio: 0.38, StripHeight: 2}
}

// Compositor stitches an ordered frame sequence into one tall image.
// No feature matching happens here: the stitch assumes the sweep was
// uniform enough that a fixed overlap approximates the true overlap, and
// hides the seam with a vertical alpha ramp.
type Compositor struct {
	cfg Config
}

func NewCompositor(cfg Config) *Compositor {
	if cfg.StripHeight < 1 {
		cfg.StripHeight = 1
	}
	return &Compositor{cfg: cfg}
}

// Composite builds the receipt image from frames in capture order.
// Zero frames yields ErrNoFrames; a single frame is returned unmodified;
// two or more run the overlap blend. All frames must share dimensions
// (the frame buffer normalizes them on append).
func (c *Compositor) Composite(frames []frame.Frame) (image.Image, error) {
	switch len(frames) {
	case 0:
		return nil, ErrNoFrames
	case 1:
		return frames[0].Image, nil
	}

	if c.cfg.OverlapRatio < 0 || c.cfg.OverlapRatio >= 1 {
		return nil, fmt.Errorf("invalid overlap ratio %.2f", c.cfg.OverlapRatio)
	}

	first := frames[0].Image.Bounds()
	w, h := first.Dx(), first.Dy()
	for _, f := range frames[1:] {
		b := f.Image.Bounds()
		if b.Dx() != w || b.Dy() != h {
			return nil, fmt.Errorf("frame %d is %dx%d, want %dx%d",
				f.Index, b.Dx(), b.Dy(), w, h)
		}
	}

	blendH := int(math.Round(float64(h) * c.cfg.OverlapRatio))
	effectiveH := h - blendH
	canvasH := h + (len(frames)-1)*effectiveH

	canvas := image.NewRGBA(image.Rect(0, 0, w, canvasH))

	// Frame 0 goes down whole, at full opacity.
	draw.Draw(canvas, image.Rect(0, 0, w, h), frames[0].Image, first.Min, draw.Src)

	for i, f := range frames[1:] {
		y := (i + 1) * effectiveH
		src := f.Image
		srcMin := src.Bounds().Min

		// The lower, non-overlapping portion has no prior content
		// beneath it, so it is drawn at full opacity.
		draw.Draw(canvas,
			image.Rect(0, y+blendH, w, y+h),
			src, srcMin.Add(image.Pt(0, blendH)), draw.Src)

		// The overlap band cross-fades this frame over the trailing
		// edge of the previous one: thin strips, each more opaque than
		// the last, ramping linearly from 0 at the top of the band to
		// full opacity at the bottom.
		for sy := 0; sy < blendH; sy += c.cfg.StripHeight {
			sh := c.cfg.StripHeight
			if sy+sh > blendH {
				sh = blendH - sy
			}
			a := uint8(math.Round(255 * float64(sy+sh) / float64(blendH)))
			mask := image.NewUniform(color.Alpha{A: a})
			draw.DrawMask(canvas,
				image.Rect(0, y+sy, w, y+sy+sh),
				src, srcMin.Add(image.Pt(0, sy)),
				mask, image.Point{}, draw.Over)
		}
	}

	return canvas, nil
}
