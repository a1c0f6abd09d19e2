package session

import (
	"context"
	"errors"
	"image"
	"sync"
	"testing"
	"time"

	"github.com/relabs-tech/scroll_capture/internal/motion"
)

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

// stubMotion is a settable MotionReader.
type stubMotion struct {
	mu      sync.Mutex
	m       motion.SmoothedMotion
	started int
	stopped int
}

func (s *stubMotion) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.started++
}

func (s *stubMotion) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopped++
}

func (s *stubMotion) Motion() motion.SmoothedMotion {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.m
}

func (s *stubMotion) set(m motion.SmoothedMotion) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.m = m
}

func (s *stubMotion) counts() (started, stopped int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.started, s.stopped
}

// blockingMotion freezes inside Motion() until released, so a test can
// hold a gate tick in flight at a chosen moment.
type blockingMotion struct {
	entered chan struct{}
	release chan struct{}
	once    sync.Once
}

func newBlockingMotion() *blockingMotion {
	return &blockingMotion{
		entered: make(chan struct{}),
		release: make(chan struct{}),
	}
}

func (b *blockingMotion) Start() {}
func (b *blockingMotion) Stop()  {}

func (b *blockingMotion) Motion() motion.SmoothedMotion {
	b.once.Do(func() { close(b.entered) })
	<-b.release
	return motion.SmoothedMotion{Velocity: 0.15, Stable: true}
}

// stubCamera serves fixed-size frames. If release is set, Capture blocks
// on it (or on ctx).
type stubCamera struct {
	width   int
	height  int
	release chan struct{}
	err     error

	mu     sync.Mutex
	calls  int
	served []image.Image
}

func (c *stubCamera) Capture(ctx context.Context) (image.Image, error) {
	c.mu.Lock()
	c.calls++
	c.mu.Unlock()

	if c.release != nil {
		select {
		case <-c.release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if c.err != nil {
		return nil, c.err
	}

	img := image.NewRGBA(image.Rect(0, 0, c.width, c.height))
	c.mu.Lock()
	c.served = append(c.served, img)
	c.mu.Unlock()
	return img, nil
}

func (c *stubCamera) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

func (c *stubCamera) first() image.Image {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.served) == 0 {
		return nil
	}
	return c.served[0]
}

// stubPreview records the outcome and signals completion.
type stubPreview struct {
	mu     sync.Mutex
	img    image.Image
	frames int
	empty  bool
	done   chan struct{}
}

func newStubPreview() *stubPreview {
	return &stubPreview{done: make(chan struct{})}
}

func (p *stubPreview) ShowResult(img image.Image, frames int) {
	p.mu.Lock()
	p.img = img
	p.frames = frames
	p.mu.Unlock()
	close(p.done)
}

func (p *stubPreview) ShowEmpty() {
	p.mu.Lock()
	p.empty = true
	p.mu.Unlock()
	close(p.done)
}

func (p *stubPreview) wait(t *testing.T) {
	t.Helper()
	select {
	case <-p.done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for session outcome")
	}
}

// countingNotifier counts Speed callbacks so tests can confirm how many
// gate ticks actually ran.
type countingNotifier struct {
	mu       sync.Mutex
	speeds   int
	progress int
}

func (n *countingNotifier) Speed(motion.SpeedCategory, float64) {
	n.mu.Lock()
	n.speeds++
	n.mu.Unlock()
}

func (n *countingNotifier) Progress(float64) {
	n.mu.Lock()
	n.progress++
	n.mu.Unlock()
}

func (n *countingNotifier) State(State) {}

func (n *countingNotifier) speedCount() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.speeds
}

// ---------------------------------------------------------------------------
// Tests
// ---------------------------------------------------------------------------

func TestGateNeverDoubleRequests(t *testing.T) {
	cam := &stubCamera{width: 8, height: 100, release: make(chan struct{})}
	mot := &stubMotion{}
	mot.set(motion.SmoothedMotion{Velocity: 0.15, Stable: true})
	notes := &countingNotifier{}
	preview := newStubPreview()

	ticks := make(chan time.Time)
	s := New(DefaultConfig(), cam, mot, preview, notes)
	s.ticks = ticks

	s.Start()
	waitFor(t, "frame-0 request", func() bool { return cam.count() == 1 })

	// Frame 0 is still blocked in the camera. However many stable ticks
	// arrive, the gate must not issue another request.
	for i := 0; i < 5; i++ {
		ticks <- time.Time{}
	}
	waitFor(t, "five gate ticks", func() bool { return notes.speedCount() == 5 })
	if got := cam.count(); got != 1 {
		t.Fatalf("capture requests while in flight = %d, want 1", got)
	}

	// Once the capture completes the next stable tick may request again.
	close(cam.release)
	waitFor(t, "frame-0 delivery", func() bool { return s.Progress() > 0 })
	ticks <- time.Time{}
	waitFor(t, "second request", func() bool { return cam.count() == 2 })

	s.Stop()
	s.Wait()
}

func TestSpeedRefreshesWhileGated(t *testing.T) {
	cam := &stubCamera{width: 8, height: 100, release: make(chan struct{})}
	defer close(cam.release)
	mot := &stubMotion{}
	// Not stable: capture is gated off, the readout must still update.
	mot.set(motion.SmoothedMotion{Velocity: 0.5, Stable: false})
	notes := &countingNotifier{}

	ticks := make(chan time.Time)
	s := New(DefaultConfig(), cam, mot, newStubPreview(), notes)
	s.ticks = ticks

	s.Start()
	waitFor(t, "frame-0 request", func() bool { return cam.count() == 1 })
	for i := 0; i < 3; i++ {
		ticks <- time.Time{}
	}
	waitFor(t, "speed updates", func() bool { return notes.speedCount() == 3 })

	// Only the unconditional frame-0 request happened.
	if got := cam.count(); got != 1 {
		t.Fatalf("capture requests = %d, want 1", got)
	}

	s.Stop()
	s.Wait()
}

func TestDoubleStartKeepsSingleTickLoop(t *testing.T) {
	cam := &stubCamera{width: 8, height: 100}
	mot := &stubMotion{}
	mot.set(motion.SmoothedMotion{Velocity: 0.1, Stable: false})
	notes := &countingNotifier{}

	ticks := make(chan time.Time)
	s := New(DefaultConfig(), cam, mot, newStubPreview(), notes)
	s.ticks = ticks

	s.Start()
	waitFor(t, "first frame-0", func() bool { return cam.count() == 1 })

	// Second Start tears the first loop down before starting its own.
	s.Start()
	waitFor(t, "second frame-0", func() bool { return cam.count() == 2 })

	started, stopped := mot.counts()
	if started != 2 || stopped != 1 {
		t.Fatalf("sampler started=%d stopped=%d, want 2/1", started, stopped)
	}

	// N ticks must be observed exactly N times, not 2N: one loop alive.
	for i := 0; i < 5; i++ {
		ticks <- time.Time{}
	}
	waitFor(t, "ticks processed once", func() bool { return notes.speedCount() == 5 })
	if got := notes.speedCount(); got != 5 {
		t.Fatalf("speed updates = %d, want 5", got)
	}
	if got := cam.count(); got != 2 {
		t.Fatalf("capture requests = %d, want 2", got)
	}

	s.Stop()
	s.Wait()
}

func TestEndToEndScenario(t *testing.T) {
	cam := &stubCamera{width: 8, height: 1000}
	mot := &stubMotion{}
	mot.set(motion.SmoothedMotion{Velocity: 0.15, Stable: false})
	preview := newStubPreview()

	ticks := make(chan time.Time)
	s := New(DefaultConfig(), cam, mot, preview, nil)
	s.ticks = ticks

	s.Start()
	waitFor(t, "frame 0", func() bool { return cam.count() == 1 })

	stableTicks := map[int]bool{1: true, 10: true, 20: true, 30: true}
	want := 1
	for i := 1; i <= 50; i++ {
		mot.set(motion.SmoothedMotion{Velocity: 0.15, Stable: stableTicks[i]})
		ticks <- time.Time{}
		if stableTicks[i] {
			want++
			waitFor(t, "gated capture", func() bool { return cam.count() == want })
			// Let the frame land before the next tick.
			captured := want
			waitFor(t, "frame delivery", func() bool {
				return s.Progress() >= float64(captured)/20
			})
		}
	}

	if got := cam.count(); got != 5 {
		t.Fatalf("total capture requests = %d, want 5 (frame 0 + 4 gated)", got)
	}

	s.Stop()
	s.Wait()
	preview.wait(t)

	if preview.frames != 5 {
		t.Fatalf("result frames = %d, want 5", preview.frames)
	}
	// 5 frames of 1000px at 0.38 overlap: 1000 + 4*620.
	if got := preview.img.Bounds().Dy(); got != 3480 {
		t.Fatalf("canvas height = %d, want 3480", got)
	}
}

func TestEmptyOutcome(t *testing.T) {
	cam := &stubCamera{width: 8, height: 100, err: errors.New("shutter jam")}
	mot := &stubMotion{}
	preview := newStubPreview()

	ticks := make(chan time.Time)
	s := New(DefaultConfig(), cam, mot, preview, nil)
	s.ticks = ticks

	s.Start()
	waitFor(t, "failed frame 0", func() bool { return cam.count() == 1 })

	s.Stop()
	s.Wait()
	preview.wait(t)

	if !preview.empty {
		t.Fatal("expected the empty outcome")
	}
	if got := s.State(); got != Empty {
		t.Fatalf("state = %v, want Empty", got)
	}
}

func TestSingleFrameBypassesStitching(t *testing.T) {
	cam := &stubCamera{width: 8, height: 100}
	mot := &stubMotion{}
	preview := newStubPreview()

	ticks := make(chan time.Time)
	s := New(DefaultConfig(), cam, mot, preview, nil)
	s.ticks = ticks

	s.Start()
	waitFor(t, "frame 0", func() bool { return s.Progress() > 0 })

	s.Stop()
	s.Wait()
	preview.wait(t)

	if preview.frames != 1 {
		t.Fatalf("result frames = %d, want 1", preview.frames)
	}
	if preview.img != cam.first() {
		t.Fatal("single-frame result is not the captured frame itself")
	}
	if got := s.State(); got != Ready {
		t.Fatalf("state = %v, want Ready", got)
	}
}

func TestStitchFailureFallsBackToFirstFrame(t *testing.T) {
	cam := &stubCamera{width: 8, height: 100}
	mot := &stubMotion{}
	mot.set(motion.SmoothedMotion{Velocity: 0.15, Stable: true})
	preview := newStubPreview()

	cfg := DefaultConfig()
	cfg.Stitch.OverlapRatio = 1.5 // forces a compositor error

	ticks := make(chan time.Time)
	s := New(cfg, cam, mot, preview, nil)
	s.ticks = ticks

	s.Start()
	waitFor(t, "frame 0", func() bool { return s.Progress() > 0 })
	ticks <- time.Time{}
	waitFor(t, "frame 1", func() bool { return cam.count() == 2 && s.Progress() >= 0.1 })

	s.Stop()
	s.Wait()
	preview.wait(t)

	if preview.frames != 2 {
		t.Fatalf("result frames = %d, want 2", preview.frames)
	}
	if preview.img != cam.first() {
		t.Fatal("fallback result is not the first captured frame")
	}
}

func TestStopNotStarvedByStuckCapture(t *testing.T) {
	// The camera never answers; only ctx cancellation gets it unstuck.
	cam := &stubCamera{width: 8, height: 100, release: make(chan struct{})}
	mot := &stubMotion{}
	preview := newStubPreview()

	cfg := DefaultConfig()
	cfg.CaptureTimeout = 50 * time.Millisecond

	ticks := make(chan time.Time)
	s := New(cfg, cam, mot, preview, nil)
	s.ticks = ticks

	s.Start()
	waitFor(t, "stuck frame 0", func() bool { return cam.count() == 1 })

	done := make(chan struct{})
	go func() {
		s.Stop()
		s.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop was starved by a stuck capture")
	}

	preview.wait(t)
	if !preview.empty {
		t.Fatal("expected the empty outcome after the stuck capture was dropped")
	}
}

func TestStopNotBlockedByInFlightTick(t *testing.T) {
	cam := &stubCamera{width: 8, height: 100}
	mot := newBlockingMotion()

	ticks := make(chan time.Time)
	s := New(DefaultConfig(), cam, mot, newStubPreview(), nil)
	s.ticks = ticks

	s.Start()
	ticks <- time.Time{}
	// The gate goroutine is now inside its tick, mid-decision.
	<-mot.entered

	stopped := make(chan struct{})
	go func() {
		s.Stop()
		close(stopped)
	}()

	// Let Stop take the session lock first, then release the tick. Stop
	// must wait the tick out and come back, not deadlock against it.
	time.Sleep(20 * time.Millisecond)
	close(mot.release)

	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not return while a tick was in flight")
	}
	s.Wait()
}

// retakePreview restarts the session from its first outcome callback, the
// way a confirmation screen's retake button does.
type retakePreview struct {
	sess *Session
	done chan struct{}

	mu      sync.Mutex
	results int
}

func (p *retakePreview) ShowResult(img image.Image, frames int) {
	p.mu.Lock()
	p.results++
	first := p.results == 1
	p.mu.Unlock()

	if first {
		p.sess.Start()
		close(p.done)
	}
}

func (p *retakePreview) ShowEmpty() {}

func TestRetakeFromPreviewCallback(t *testing.T) {
	cam := &stubCamera{width: 8, height: 100}
	mot := &stubMotion{}
	preview := &retakePreview{done: make(chan struct{})}

	ticks := make(chan time.Time)
	s := New(DefaultConfig(), cam, mot, preview, nil)
	preview.sess = s
	s.ticks = ticks

	s.Start()
	waitFor(t, "frame 0", func() bool { return s.Progress() > 0 })
	s.Stop()

	select {
	case <-preview.done:
	case <-time.After(2 * time.Second):
		t.Fatal("retake from the preview callback never completed")
	}

	// The retake is a live session with its own frame 0 and a clean
	// state, not clobbered by the finalize it was born inside of.
	waitFor(t, "retake frame 0", func() bool { return cam.count() == 2 })
	if got := s.State(); got != Capturing {
		t.Fatalf("state after retake = %v, want Capturing", got)
	}

	s.Stop()
	s.Wait()
}

func TestCaptureTimeoutFreesTheSlot(t *testing.T) {
	cam := &stubCamera{width: 8, height: 100, release: make(chan struct{})}
	mot := &stubMotion{}
	mot.set(motion.SmoothedMotion{Velocity: 0.15, Stable: true})

	cfg := DefaultConfig()
	cfg.CaptureTimeout = 20 * time.Millisecond

	ticks := make(chan time.Time)
	s := New(cfg, cam, mot, newStubPreview(), nil)
	s.ticks = ticks

	s.Start()
	waitFor(t, "stuck frame 0", func() bool { return cam.count() == 1 })

	// Keep ticking; once the timeout clears the slot a new request goes
	// out even though the first capture never completed.
	waitFor(t, "slot freed by timeout", func() bool {
		ticks <- time.Time{}
		return cam.count() >= 2
	})

	s.Stop()
	s.Wait()
}
