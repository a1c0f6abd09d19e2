// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package session

import (
	"context"
	"image"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/relabs-tech/scroll_capture/internal/camera"
	"github.com/relabs-tech/scroll_capture/internal/frame"
	"github.com/relabs-tech/scroll_capture/internal/motion"
	"github.com/relabs-tech/scroll_capture/internal/stitch"
)

// State is the capture session lifecycle.
type State int

const (
	Idle State = iota
	Capturing
	Stitching
	Ready
	Empty
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Capturing:
		return "capturing"
	case Stitching:
		return "stitching"
	case Ready:
		return "ready"
	case Empty:
		return "empty"
	default:
		return "unknown"
	}
}

// Preview receives the session's terminal outcome. "Empty" means nothing
// was captured; it is not an error.
type Preview interface {
	ShowResult(img image.Image, frames int)
	ShowEmpty()
}

// Notifier receives live feedback while the session runs: the guidance
// category on every gate tick, progress after each captured frame, and
// state transitions.
type Notifier interface {
	Speed(cat motion.SpeedCategory, velocity float64)
	Progress(p float64)
	State(st State)
}

// MotionReader is the sampler surface the session needs.
type MotionReader interface {
	Start()
	Stop()
	Motion() motion.SmoothedMotion
}

type nopPreview struct{}

func (nopPreview) ShowResult(image.Image, int) {}
func (nopPreview) ShowEmpty()                  {}

type nopNotifier struct{}

func (nopNotifier) Speed(motion.SpeedCategory, float64) {}
func (nopNotifier) Progress(float64)                    {}
func (nopNotifier) State(State)                         {}

// Config holds the session timing and stitching parameters.
type Config struct {
	// TickInterval is the gate period: how often the session decides
	// whether to request a frame.
	TickInterval time.Duration
	// CaptureTimeout bounds one camera request. A capture that exceeds
	// it is dropped and the in-flight slot cleared, so a hung camera can
	// never starve the gate or Stop.
	CaptureTimeout time.Duration
	Stitch         stitch.Config
}

// DefaultConfig returns the production timing.
func DefaultConfig() Config {
	return Config{
		TickInterval:   500 * time.Millisecond,
		CaptureTimeout: 3 * time.Second,
		Stitch:         stitch.DefaultConfig(),
	}
}

// Session orchestrates one scroll capture: it owns the motion sampler and
// camera handles for its lifetime, gates capture requests on stability,
// and stitches the accumulated frames on Stop.
type Session struct {
	cfg      Config
	cam      camera.Camera
	motion   MotionReader
	preview  Preview
	notifier Notifier

	buffer *frame.Buffer
	comp   *stitch.Compositor

	// slot is the single in-flight capture lock: zero when free,
	// otherwise the token of the run that owns the outstanding request.
	// Tagging the slot with the run lets halt reclaim it immediately; a
	// stale capture's release then fails its CAS instead of freeing a
	// slot it no longer owns.
	slot atomic.Int64

	mu        sync.Mutex
	state     State
	gen       int
	stopCh    chan struct{}
	runCancel context.CancelFunc

	tickWG  sync.WaitGroup
	finalWG sync.WaitGroup

	// ticks overrides the gate ticker when set; tests drive the gate
	// deterministically through it.
	ticks <-chan time.Time
}

// New wires a session. preview and notifier may be nil.
func New(cfg Config, cam camera.Camera, mr MotionReader, preview Preview, notifier Notifier) *Session {
	if preview == nil {
		preview = nopPreview{}
	}
	if notifier == nil {
		notifier = nopNotifier{}
	}
	return &Session{
		cfg:      cfg,
		cam:      cam,
		motion:   mr,
		preview:  preview,
		notifier: notifier,
		buffer:   frame.NewBuffer(),
		comp:     stitch.NewCompositor(cfg.Stitch),
		state:    Idle,
	}
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Progress returns the live capture progress in [0, 1].
func (s *Session) Progress() float64 {
	return s.buffer.Progress()
}

// Start begins a capture. If a session is already running its timer and
// sampler are torn down first, so there is never a duplicate tick loop.
// Frame 0 is requested immediately and unconditionally: the session
// always has at least one frame even if the user never holds steady.
func (s *Session) Start() {
	s.mu.Lock()
	s.haltLocked()
	s.buffer.Reset()
	// Each run gets a fresh generation: a finalize or capture completion
	// from an earlier run can no longer touch this one's state.
	s.gen++
	gen := s.gen
	s.state = Capturing
	runCtx, cancel := context.WithCancel(context.Background())
	s.runCancel = cancel
	s.stopCh = make(chan struct{})
	s.tickWG.Add(1)
	go s.gateLoop(s.stopCh, gen, runCtx)
	s.mu.Unlock()

	s.motion.Start()
	s.notifier.State(Capturing)
	s.requestCapture(gen, runCtx)
}

// Stop ends the capture and finalizes asynchronously. The tick loop and
// sampler are halted synchronously before any buffer is touched, so a
// late tick or sensor callback cannot land on the next session's state.
func (s *Session) Stop() {
	s.mu.Lock()
	if s.state != Capturing {
		s.mu.Unlock()
		return
	}
	s.haltLocked()
	s.state = Stitching
	// Snapshot now: a retake resetting the buffer cannot disturb a
	// finalize already underway.
	frames := s.buffer.Frames()
	gen := s.gen
	s.mu.Unlock()

	s.notifier.State(Stitching)
	s.finalWG.Add(1)
	go s.finalize(frames, gen)
}

// Wait blocks until a pending finalize has delivered its outcome.
func (s *Session) Wait() {
	s.finalWG.Wait()
}

// haltLocked tears down the tick loop, sampler and any outstanding
// capture of the current run. Callers hold s.mu; the gate goroutine never
// takes it, so waiting here cannot deadlock.
func (s *Session) haltLocked() {
	if s.stopCh == nil {
		return
	}
	close(s.stopCh)
	s.tickWG.Wait()
	s.stopCh = nil

	if s.runCancel != nil {
		s.runCancel()
		s.runCancel = nil
	}
	// Invalidate stragglers: a capture completion from this run can no
	// longer append, and the slot is reclaimed so the next run's frame 0
	// never has to wait for a cancelled capture to unwind.
	s.gen++
	s.slot.Store(0)

	s.motion.Stop()
}

// gateLoop carries its run's generation and context as arguments, fixed
// for the life of the run, so the tick path never touches s.mu and halt
// can wait it out while holding the mutex.
func (s *Session) gateLoop(stop <-chan struct{}, gen int, runCtx context.Context) {
	defer s.tickWG.Done()

	tick := s.ticks
	if tick == nil {
		ticker := time.NewTicker(s.cfg.TickInterval)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		select {
		case <-stop:
			return
		case <-tick:
			s.tick(gen, runCtx)
		}
	}
}

// tick runs one gate decision: refresh the guidance readout, then request
// a frame if the device is steady and no capture is outstanding.
func (s *Session) tick(gen int, runCtx context.Context) {
	m := s.motion.Motion()

	// The speed indicator keeps updating even while capture is gated off.
	s.notifier.Speed(motion.Classify(m.Velocity), m.Velocity)

	if m.Stable {
		s.requestCapture(gen, runCtx)
	}
}

// requestCapture claims the in-flight slot for the run identified by gen
// and issues one camera request. If a request is already outstanding this
// tick does nothing.
func (s *Session) requestCapture(gen int, runCtx context.Context) {
	// Token 0 means free, so the run's token is gen+1.
	token := int64(gen) + 1
	if !s.slot.CompareAndSwap(0, token) {
		return
	}

	go func() {
		defer s.slot.CompareAndSwap(token, 0)

		ctx, cancel := context.WithTimeout(runCtx, s.cfg.CaptureTimeout)
		defer cancel()

		img, err := s.cam.Capture(ctx)
		if err != nil {
			log.Printf("session: capture dropped: %v", err)
			return
		}
		s.deliverFrame(gen, img)
	}()
}

// deliverFrame appends a completed capture, unless the run it belongs to
// has already been halted.
func (s *Session) deliverFrame(gen int, img image.Image) {
	s.mu.Lock()
	if gen != s.gen {
		s.mu.Unlock()
		return
	}
	_, err := s.buffer.Append(img)
	s.mu.Unlock()

	if err != nil {
		log.Printf("session: frame rejected: %v", err)
		return
	}
	s.notifier.Progress(s.buffer.Progress())
}

// finalize turns the captured frames into the session outcome. A stitch
// failure falls back to the first captured frame; the user can always
// retake, never sees a hard failure here. The preview callback may start
// a new session directly; nothing here blocks on it.
func (s *Session) finalize(frames []frame.Frame, gen int) {
	defer s.finalWG.Done()

	switch len(frames) {
	case 0:
		s.setStateIfCurrent(gen, Empty)
		s.preview.ShowEmpty()
		return
	case 1:
		s.setStateIfCurrent(gen, Ready)
		s.preview.ShowResult(frames[0].Image, 1)
		return
	}

	img, err := s.comp.Composite(frames)
	if err != nil {
		log.Printf("session: stitch failed, falling back to first frame: %v", err)
		img = frames[0].Image
	}
	s.setStateIfCurrent(gen, Ready)
	s.preview.ShowResult(img, len(frames))
}

// setStateIfCurrent applies a terminal state unless a newer run has
// started since; a retake arriving mid-finalize keeps its Capturing
// state.
func (s *Session) setStateIfCurrent(gen int, st State) {
	s.mu.Lock()
	if gen != s.gen {
		s.mu.Unlock()
		return
	}
	s.state = st
	s.mu.Unlock()
	s.notifier.State(st)
}
