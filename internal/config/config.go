// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package config

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
)

// Config holds all application configuration values.
type Config struct {
	// MQTT
	MQTTBroker          string
	MQTTClientIDCapture string
	MQTTClientIDConsole string
	MQTTClientIDWeb     string
	MQTTClientIDDisplay string

	// Topics
	TopicSpeed    string
	TopicProgress string
	TopicState    string
	TopicResult   string

	// Motion source: "mock", "serial" or "spi"
	MotionSource   string
	SerialPort     string
	SerialBaudRate int
	SPIDevice      string

	// Camera source: "mock" or "dir"
	CameraSource    string
	FrameDir        string
	MockFrameWidth  int
	MockFrameHeight int
	MockShutterMS   int

	// Timing (milliseconds)
	SampleInterval int // motion sensor read period
	TickInterval   int // capture gate period
	CaptureTimeout int // bound on a single camera request

	// Stitching
	OverlapRatio float64
	BlendStripPx int

	// Web Server
	WebServerPort int

	// Display
	DisplayUpdateInterval int // milliseconds

	// Capture run
	OutputPath     string
	CaptureSeconds int
}

// Package-level singleton: globalConfig is unexported so other packages
// must go through InitGlobal/Get, which handle locking.
var (
	globalConfig *Config
	configOnce   sync.Once
	configMu     sync.RWMutex
)

// defaults returns a Config pre-filled with the production constants.
// The config file only needs to override what differs.
func defaults() *Config {
	return &Config{
		MQTTClientIDCapture: "scroll-capture-producer",
		MQTTClientIDConsole: "scroll-capture-console",
		MQTTClientIDWeb:     "scroll-capture-web",
		MQTTClientIDDisplay: "scroll-capture-display",

		TopicSpeed:    "scroll/speed",
		TopicProgress: "scroll/progress",
		TopicState:    "scroll/state",
		TopicResult:   "scroll/result",

		MotionSource:   "mock",
		SerialBaudRate: 115200,

		CameraSource:    "mock",
		MockFrameWidth:  720,
		MockFrameHeight: 1000,
		MockShutterMS:   120,

		SampleInterval: 50,
		TickInterval:   500,
		CaptureTimeout: 3000,

		OverlapRatio: 0.38,
		BlendStripPx: 2,

		WebServerPort: 8080,

		DisplayUpdateInterval: 250,

		OutputPath:     "receipt.png",
		CaptureSeconds: 10,
	}
}

// Load reads the configuration file and returns a Config struct.
func Load(configPath string) (*Config, error) {
	file, err := os.Open(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer file.Close()

	cfg := defaults()
	scanner := bufio.NewScanner(file)
	lineNum := 0

	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())

		// Skip empty lines and comments
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		// Parse KEY=VALUE
		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			return nil, fmt.Errorf("invalid config line %d: %q", lineNum, line)
		}

		key := strings.TrimSpace(parts[0])
		value := strings.TrimSpace(parts[1])

		if err := cfg.setValue(key, value); err != nil {
			return nil, fmt.Errorf("config line %d: %w", lineNum, err)
		}
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// setValue sets a config value based on the key.
func (c *Config) setValue(key, value string) error {
	switch key {
	// MQTT
	case "MQTT_BROKER":
		c.MQTTBroker = value
	case "MQTT_CLIENT_ID_CAPTURE":
		c.MQTTClientIDCapture = value
	case "MQTT_CLIENT_ID_CONSOLE":
		c.MQTTClientIDConsole = value
	case "MQTT_CLIENT_ID_WEB":
		c.MQTTClientIDWeb = value
	case "MQTT_CLIENT_ID_DISPLAY":
		c.MQTTClientIDDisplay = value

	// Topics
	case "TOPIC_SPEED":
		c.TopicSpeed = value
	case "TOPIC_PROGRESS":
		c.TopicProgress = value
	case "TOPIC_STATE":
		c.TopicState = value
	case "TOPIC_RESULT":
		c.TopicResult = value

	// Motion source
	case "MOTION_SOURCE":
		switch value {
		case "mock", "serial", "spi":
			c.MotionSource = value
		default:
			return fmt.Errorf("MOTION_SOURCE must be mock, serial or spi, got %q", value)
		}
	case "SERIAL_PORT":
		c.SerialPort = value
	case "SERIAL_BAUD_RATE":
		rate, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid SERIAL_BAUD_RATE %q: %w", value, err)
		}
		c.SerialBaudRate = rate
	case "SPI_DEVICE":
		c.SPIDevice = value

	// Camera source
	case "CAMERA_SOURCE":
		switch value {
		case "mock", "dir":
			c.CameraSource = value
		default:
			return fmt.Errorf("CAMERA_SOURCE must be mock or dir, got %q", value)
		}
	case "FRAME_DIR":
		c.FrameDir = value
	case "MOCK_FRAME_WIDTH":
		w, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid MOCK_FRAME_WIDTH %q: %w", value, err)
		}
		if w < 1 {
			return fmt.Errorf("MOCK_FRAME_WIDTH must be positive, got %d", w)
		}
		c.MockFrameWidth = w
	case "MOCK_FRAME_HEIGHT":
		h, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid MOCK_FRAME_HEIGHT %q: %w", value, err)
		}
		if h < 1 {
			return fmt.Errorf("MOCK_FRAME_HEIGHT must be positive, got %d", h)
		}
		c.MockFrameHeight = h
	case "MOCK_SHUTTER_MS":
		ms, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid MOCK_SHUTTER_MS %q: %w", value, err)
		}
		c.MockShutterMS = ms

	// Timing
	case "SAMPLE_INTERVAL":
		interval, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid SAMPLE_INTERVAL %q: %w", value, err)
		}
		c.SampleInterval = interval
	case "TICK_INTERVAL":
		interval, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid TICK_INTERVAL %q: %w", value, err)
		}
		c.TickInterval = interval
	case "CAPTURE_TIMEOUT":
		interval, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid CAPTURE_TIMEOUT %q: %w", value, err)
		}
		c.CaptureTimeout = interval

	// Stitching
	case "OVERLAP_RATIO":
		ratio, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return fmt.Errorf("invalid OVERLAP_RATIO %q: %w", value, err)
		}
		if ratio < 0 || ratio >= 1 {
			return fmt.Errorf("OVERLAP_RATIO must be in [0, 1), got %g", ratio)
		}
		c.OverlapRatio = ratio
	case "BLEND_STRIP_PX":
		px, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid BLEND_STRIP_PX %q: %w", value, err)
		}
		if px < 1 {
			return fmt.Errorf("BLEND_STRIP_PX must be positive, got %d", px)
		}
		c.BlendStripPx = px

	// Web Server
	case "WEB_SERVER_PORT":
		port, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid WEB_SERVER_PORT %q: %w", value, err)
		}
		c.WebServerPort = port

	// Display
	case "DISPLAY_UPDATE_INTERVAL":
		interval, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid DISPLAY_UPDATE_INTERVAL %q: %w", value, err)
		}
		c.DisplayUpdateInterval = interval

	// Capture run
	case "OUTPUT_PATH":
		c.OutputPath = value
	case "CAPTURE_SECONDS":
		secs, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid CAPTURE_SECONDS %q: %w", value, err)
		}
		c.CaptureSeconds = secs

	default:
		return fmt.Errorf("unknown config key: %q", key)
	}

	return nil
}

// validate checks that all required fields are set.
func (c *Config) validate() error {
	if c.MQTTBroker == "" {
		return fmt.Errorf("MQTT_BROKER is required")
	}
	if c.MotionSource == "serial" && c.SerialPort == "" {
		return fmt.Errorf("SERIAL_PORT is required when MOTION_SOURCE=serial")
	}
	if c.MotionSource == "spi" && c.SPIDevice == "" {
		return fmt.Errorf("SPI_DEVICE is required when MOTION_SOURCE=spi")
	}
	if c.CameraSource == "dir" && c.FrameDir == "" {
		return fmt.Errorf("FRAME_DIR is required when CAMERA_SOURCE=dir")
	}
	if c.SampleInterval <= 0 {
		return fmt.Errorf("SAMPLE_INTERVAL must be positive")
	}
	if c.TickInterval <= 0 {
		return fmt.Errorf("TICK_INTERVAL must be positive")
	}
	if c.CaptureTimeout <= 0 {
		return fmt.Errorf("CAPTURE_TIMEOUT must be positive")
	}
	return nil
}

// InitGlobal initializes the global configuration from file. Uses
// sync.Once so repeated calls are harmless.
func InitGlobal(configPath string) error {
	var err error
	configOnce.Do(func() {
		configMu.Lock()
		defer configMu.Unlock()
		globalConfig, err = Load(configPath)
	})
	return err
}

// Get returns the global configuration instance. InitGlobal must be
// called first, or this will return nil.
func Get() *Config {
	configMu.RLock()
	defer configMu.RUnlock()
	return globalConfig
}
