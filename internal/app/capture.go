// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"fmt"
	"image"
	"image/png"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/relabs-tech/scroll_capture/internal/camera"
	"github.com/relabs-tech/scroll_capture/internal/config"
	"github.com/relabs-tech/scroll_capture/internal/motion"
	"github.com/relabs-tech/scroll_capture/internal/session"
	"github.com/relabs-tech/scroll_capture/internal/stitch"
	"github.com/relabs-tech/scroll_capture/internal/telemetry"
)

// RunCapture wires a capture session from the configured motion and
// camera sources, runs it for the configured window (or until Ctrl+C),
// and writes the stitched receipt to disk.
func RunCapture() error {
	cfg := config.Get()

	// --- Motion source ---
	var src motion.Source
	switch cfg.MotionSource {
	case "serial":
		s, err := motion.NewSerialSource(cfg.SerialPort, uint(cfg.SerialBaudRate))
		if err != nil {
			return fmt.Errorf("serial motion source: %w", err)
		}
		defer s.Close()
		log.Printf("capture: reading motion from %s at %d baud", cfg.SerialPort, cfg.SerialBaudRate)
		src = s
	case "spi":
		s, err := motion.NewMPU9250Source(cfg.SPIDevice)
		if err != nil {
			return fmt.Errorf("SPI motion source: %w", err)
		}
		defer s.Close()
		log.Printf("capture: reading motion from MPU9250 on %s", cfg.SPIDevice)
		src = s
	default:
		log.Println("capture: using mock motion source")
		src = motion.NewMockSource()
	}

	// --- Camera ---
	var cam camera.Camera
	switch cfg.CameraSource {
	case "dir":
		c, err := camera.NewDirCamera(cfg.FrameDir)
		if err != nil {
			return fmt.Errorf("replay camera: %w", err)
		}
		log.Printf("capture: replaying frames from %s", cfg.FrameDir)
		cam = c
	default:
		log.Println("capture: using mock camera")
		shutter := time.Duration(cfg.MockShutterMS) * time.Millisecond
		cam = camera.NewMockCamera(cfg.MockFrameWidth, cfg.MockFrameHeight, shutter)
	}

	// --- Telemetry ---
	pub, err := telemetry.NewPublisher(cfg)
	if err != nil {
		return fmt.Errorf("telemetry connect: %w", err)
	}
	defer pub.Close()

	sampler := motion.NewSampler(src, time.Duration(cfg.SampleInterval)*time.Millisecond)
	sink := &fileSink{path: cfg.OutputPath, pub: pub}

	sessCfg := session.Config{
		TickInterval:   time.Duration(cfg.TickInterval) * time.Millisecond,
		CaptureTimeout: time.Duration(cfg.CaptureTimeout) * time.Millisecond,
		Stitch: stitch.Config{
			OverlapRatio: cfg.OverlapRatio,
			StripHeight:  cfg.BlendStripPx,
		},
	}
	sess := session.New(sessCfg, cam, sampler, sink, pub)

	log.Printf("capture: starting session, stopping after %ds", cfg.CaptureSeconds)
	sess.Start()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case <-time.After(time.Duration(cfg.CaptureSeconds) * time.Second):
	case <-sigCh:
		log.Println("capture: interrupted")
	}

	sess.Stop()
	sess.Wait()
	return nil
}

// fileSink is the preview collaborator for the headless capture binary:
// it writes the outcome to disk and reports it over MQTT.
type fileSink struct {
	path string
	pub  *telemetry.Publisher
}

func (f *fileSink) ShowEmpty() {
	log.Println("capture: nothing captured")
	f.pub.Result(telemetry.ResultInfo{Empty: true})
}

func (f *fileSink) ShowResult(img image.Image, frames int) {
	b := img.Bounds()

	out, err := os.Create(f.path)
	if err != nil {
		log.Printf("capture: create %s: %v", f.path, err)
		return
	}
	defer out.Close()

	if err := png.Encode(out, img); err != nil {
		log.Printf("capture: encode %s: %v", f.path, err)
		return
	}

	log.Printf("capture: wrote %s (%dx%d from %d frames)", f.path, b.Dx(), b.Dy(), frames)
	f.pub.Result(telemetry.ResultInfo{
		Frames: frames,
		Width:  b.Dx(),
		Height: b.Dy(),
		Path:   f.path,
	})
}
