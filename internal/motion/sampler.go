// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package motion

import (
	"log"
	"math"
	"sync"
	"time"
)

// WindowSize is the length of the trailing window used to smooth the
// vertical acceleration signal.
const WindowSize = 10

// stabilityLimit is the maximum instantaneous lateral/depth magnitude (g)
// for the device to count as held steady.
const stabilityLimit = 0.15

// SmoothedMotion is the sampler's published view of the motion signal.
// Velocity is the moving average of the last WindowSize vertical samples;
// Stable reflects the lateral/depth axes of the most recent sample only.
type SmoothedMotion struct {
	Velocity float64 `json:"velocity"`
	Stable   bool    `json:"stable"`
}

// Sampler subscribes a Source at a fixed rate and maintains the smoothed
// vertical signal plus the stability flag.
type Sampler struct {
	src      Source
	interval time.Duration

	mu     sync.RWMutex
	window []float64
	latest SmoothedMotion

	running bool
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

// NewSampler creates a sampler reading src every interval.
func NewSampler(src Source, interval time.Duration) *Sampler {
	return &Sampler{
		src:      src,
		interval: interval,
		window:   make([]float64, 0, WindowSize),
	}
}

// Start begins the sampling loop. Calling Start on a running sampler is a
// no-op.
func (s *Sampler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}
	s.running = true
	s.stopCh = make(chan struct{})
	s.wg.Add(1)
	go s.loop(s.stopCh)
}

func (s *Sampler) loop(stop <-chan struct{}) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			smp, err := s.src.Next()
			if err != nil {
				log.Printf("motion: sample read error: %v", err)
				continue
			}
			s.Observe(smp)
		}
	}
}

// Observe folds one sample into the smoothing window. The vertical axis
// enters the moving average; stability comes from the instantaneous
// lateral/depth values of this sample, not from the averaged history.
func (s *Sampler) Observe(smp Sample) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.window = append(s.window, smp.Ay)
	if len(s.window) > WindowSize {
		s.window = s.window[1:]
	}

	var sum float64
	for _, v := range s.window {
		sum += v
	}

	s.latest = SmoothedMotion{
		Velocity: sum / float64(len(s.window)),
		Stable:   math.Abs(smp.Ax) < stabilityLimit && math.Abs(smp.Az) < stabilityLimit,
	}
}

// Motion returns the latest smoothed reading. Before any sample arrives it
// reports zero velocity and not stable.
func (s *Sampler) Motion() SmoothedMotion {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.latest
}

// Stop halts the sampling loop and clears the window. It returns only once
// the loop goroutine has exited, so no late sample can land after Stop.
// Stopping an idle sampler is safe.
func (s *Sampler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	stop := s.stopCh
	s.mu.Unlock()

	close(stop)
	s.wg.Wait()

	s.mu.Lock()
	s.window = s.window[:0]
	s.latest = SmoothedMotion{}
	s.mu.Unlock()
}
