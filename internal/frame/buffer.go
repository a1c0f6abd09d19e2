// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package frame

import (
	"errors"
	"fmt"
	"image"
	"sync"

	xdraw "golang.org/x/image/draw"
)

// Frame is one captured segment of the receipt. Index is the capture
// order within the session, starting at 0.
type Frame struct {
	Image image.Image
	Index int
}

// progressCap is the heuristic number of segments a long receipt is
// expected to need. More frames are still accepted; the progress
// indicator simply saturates.
const progressCap = 20

// ErrHeightMismatch reports a late frame whose height cannot be
// reconciled with the session's first frame. The frame is dropped and
// the session continues.
var ErrHeightMismatch = errors.New("frame height mismatch")

// Buffer accumulates frames for one capture session in strict capture
// order. The single writer is the capture-completion goroutine; readers
// (progress, finalize) may run concurrently.
type Buffer struct {
	mu     sync.RWMutex
	frames []Frame
}

func NewBuffer() *Buffer {
	return &Buffer{}
}

// Append adds img as the next frame. The first frame fixes the session's
// dimensions: a later frame with a different width is rescaled to the
// first frame's size, and one with the same width but a different height
// is rejected with ErrHeightMismatch.
func (b *Buffer) Append(img image.Image) (Frame, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.frames) > 0 {
		want := b.frames[0].Image.Bounds()
		got := img.Bounds()
		if got.Dx() != want.Dx() {
			img = rescale(img, want.Dx(), want.Dy())
		} else if got.Dy() != want.Dy() {
			return Frame{}, fmt.Errorf("%w: frame %d is %dpx tall, want %d",
				ErrHeightMismatch, len(b.frames), got.Dy(), want.Dy())
		}
	}

	f := Frame{Image: img, Index: len(b.frames)}
	b.frames = append(b.frames, f)
	return f, nil
}

// rescale resizes img to w x h.
func rescale(img image.Image, w, h int) image.Image {
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	xdraw.ApproxBiLinear.Scale(dst, dst.Bounds(), img, img.Bounds(), xdraw.Src, nil)
	return dst
}

// Count returns the number of frames captured so far.
func (b *Buffer) Count() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.frames)
}

// Progress maps the frame count onto [0, 1] against the expected segment
// cap.
func (b *Buffer) Progress() float64 {
	b.mu.RLock()
	defer b.mu.RUnlock()

	p := float64(len(b.frames)) / progressCap
	if p > 1.0 {
		p = 1.0
	}
	return p
}

// Frames returns a copy of the accumulated sequence in capture order.
func (b *Buffer) Frames() []Frame {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make([]Frame, len(b.frames))
	copy(out, b.frames)
	return out
}

// First returns the first captured frame, if any.
func (b *Buffer) First() (Frame, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if len(b.frames) == 0 {
		return Frame{}, false
	}
	return b.frames[0], true
}

// Reset discards all frames for a fresh session or retake.
func (b *Buffer) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.frames = nil
}
