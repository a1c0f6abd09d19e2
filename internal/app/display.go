// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"encoding/json"
	"fmt"
	"image"
	"log"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/devices/v3/ssd1306"
	"periph.io/x/devices/v3/ssd1306/image1bit"
	"periph.io/x/host/v3"

	"github.com/relabs-tech/scroll_capture/internal/config"
	"github.com/relabs-tech/scroll_capture/internal/telemetry"
)

// guidanceData holds the latest telemetry for the rig's OLED.
type guidanceData struct {
	mu sync.RWMutex

	speed     telemetry.SpeedReading
	haveSpeed bool
	progress  float64
	state     string
}

// RunDisplay drives the SSD1306 guidance display on the capture rig:
// a big speed hint while capturing, plus progress and session state.
func RunDisplay() error {
	cfg := config.Get()

	// Initialize periph
	if _, err := host.Init(); err != nil {
		return fmt.Errorf("failed to initialize periph: %w", err)
	}

	// Open I2C bus
	bus, err := i2creg.Open("")
	if err != nil {
		return fmt.Errorf("failed to open I2C bus: %w", err)
	}
	defer bus.Close()

	dev, err := ssd1306.NewI2C(bus, &ssd1306.DefaultOpts)
	if err != nil {
		return fmt.Errorf("failed to initialize display: %w", err)
	}
	log.Println("display: initialized")

	if err := showSplash(dev); err != nil {
		log.Printf("display: error showing splash: %v", err)
	}

	data := &guidanceData{}

	// Connect to MQTT
	opts := mqtt.NewClientOptions().
		AddBroker(cfg.MQTTBroker).
		SetClientID(cfg.MQTTClientIDDisplay)

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return token.Error()
	}
	log.Printf("display: connected to MQTT broker at %s", cfg.MQTTBroker)

	speedToken := client.Subscribe(cfg.TopicSpeed, 0, func(_ mqtt.Client, msg mqtt.Message) {
		var s telemetry.SpeedReading
		if err := json.Unmarshal(msg.Payload(), &s); err != nil {
			log.Printf("display: speed unmarshal error: %v", err)
			return
		}
		data.mu.Lock()
		data.speed = s
		data.haveSpeed = true
		data.mu.Unlock()
	})
	speedToken.Wait()
	if speedToken.Error() != nil {
		return speedToken.Error()
	}
	log.Printf("display: subscribed to %s", cfg.TopicSpeed)

	progToken := client.Subscribe(cfg.TopicProgress, 0, func(_ mqtt.Client, msg mqtt.Message) {
		var p telemetry.ProgressReading
		if err := json.Unmarshal(msg.Payload(), &p); err != nil {
			log.Printf("display: progress unmarshal error: %v", err)
			return
		}
		data.mu.Lock()
		data.progress = p.Progress
		data.mu.Unlock()
	})
	progToken.Wait()
	if progToken.Error() != nil {
		return progToken.Error()
	}
	log.Printf("display: subscribed to %s", cfg.TopicProgress)

	stateToken := client.Subscribe(cfg.TopicState, 0, func(_ mqtt.Client, msg mqtt.Message) {
		var s telemetry.StateReading
		if err := json.Unmarshal(msg.Payload(), &s); err != nil {
			log.Printf("display: state unmarshal error: %v", err)
			return
		}
		data.mu.Lock()
		data.state = s.State
		data.mu.Unlock()
	})
	stateToken.Wait()
	if stateToken.Error() != nil {
		return stateToken.Error()
	}
	log.Printf("display: subscribed to %s", cfg.TopicState)

	// Display update loop
	ticker := time.NewTicker(time.Duration(cfg.DisplayUpdateInterval) * time.Millisecond)
	defer ticker.Stop()

	log.Println("display: starting update loop")

	for range ticker.C {
		data.mu.RLock()
		speed := data.speed
		haveSpeed := data.haveSpeed
		progress := data.progress
		state := data.state
		data.mu.RUnlock()

		if err := updateGuidance(dev, speed, haveSpeed, progress, state); err != nil {
			log.Printf("display: error updating display: %v", err)
		}
	}

	return nil
}

// guidanceLabel maps a speed category to the hint shown to the user.
func guidanceLabel(category string) string {
	switch category {
	case "stationary":
		return "MOVE DOWN"
	case "too_slow":
		return "SPEED UP"
	case "perfect":
		return "PERFECT"
	case "too_fast":
		return "SLOW DOWN"
	default:
		return category
	}
}

func updateGuidance(dev *ssd1306.Dev, speed telemetry.SpeedReading, haveSpeed bool, progress float64, state string) error {
	img := image1bit.NewVerticalLSB(image.Rect(0, 0, 128, 64))

	// Blank image
	for i := 0; i < 1024; i++ {
		img.Pix[i] = 0
	}

	drawer := &font.Drawer{
		Dst:  img,
		Src:  &image.Uniform{image1bit.On},
		Face: basicfont.Face7x13,
	}

	if !haveSpeed {
		drawer.Dot = fixed.P(0, 26)
		drawer.DrawBytes([]byte("Scroll Capture"))
		drawer.Dot = fixed.P(0, 39)
		drawer.DrawBytes([]byte("Waiting..."))
	} else {
		drawer.Dot = fixed.P(0, 13)
		drawer.DrawBytes([]byte(guidanceLabel(speed.Category)))

		drawer.Dot = fixed.P(0, 26)
		drawer.DrawBytes([]byte(fmt.Sprintf("v: %+.3f", speed.Velocity)))

		drawer.Dot = fixed.P(0, 39)
		drawer.DrawBytes([]byte(fmt.Sprintf("%3.0f%%", progress*100)))

		drawer.Dot = fixed.P(0, 52)
		drawer.DrawBytes([]byte(state))
	}

	return dev.Draw(dev.Bounds(), img, image.Point{})
}

func showSplash(dev *ssd1306.Dev) error {
	img := image1bit.NewVerticalLSB(image.Rect(0, 0, 128, 64))

	// Blank image
	for i := 0; i < 1024; i++ {
		img.Pix[i] = 0
	}

	drawer := &font.Drawer{
		Dst:  img,
		Src:  &image.Uniform{image1bit.On},
		Face: basicfont.Face7x13,
	}

	drawer.Dot = fixed.P(10, 26)
	drawer.DrawBytes([]byte("Scroll Capture"))

	drawer.Dot = fixed.P(5, 43)
	drawer.DrawBytes([]byte("Hold over the"))

	drawer.Dot = fixed.P(25, 56)
	drawer.DrawBytes([]byte("receipt"))

	return dev.Draw(dev.Bounds(), img, image.Point{})
}
