// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package telemetry

import (
	"encoding/json"
	"log"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/relabs-tech/scroll_capture/internal/config"
	"github.com/relabs-tech/scroll_capture/internal/motion"
	"github.com/relabs-tech/scroll_capture/internal/session"
)

// SpeedReading is the live guidance payload, published on every gate tick.
type SpeedReading struct {
	Category string  `json:"category"`
	Velocity float64 `json:"velocity"`
}

// ProgressReading is published after each captured frame.
type ProgressReading struct {
	Progress float64 `json:"progress"`
}

// StateReading is published on session state transitions.
type StateReading struct {
	State string `json:"state"`
}

// ResultInfo describes the session outcome. Empty means nothing was
// captured; Path is where the stitched image was written.
type ResultInfo struct {
	Empty  bool   `json:"empty"`
	Frames int    `json:"frames"`
	Width  int    `json:"width,omitempty"`
	Height int    `json:"height,omitempty"`
	Path   string `json:"path,omitempty"`
}

// Publisher fans session telemetry out over MQTT. It implements
// session.Notifier.
type Publisher struct {
	client mqtt.Client
	cfg    *config.Config
}

// NewPublisher connects to the configured broker.
func NewPublisher(cfg *config.Config) (*Publisher, error) {
	opts := mqtt.NewClientOptions().
		AddBroker(cfg.MQTTBroker).
		SetClientID(cfg.MQTTClientIDCapture)

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, token.Error()
	}
	log.Printf("telemetry: connected to MQTT broker at %s", cfg.MQTTBroker)

	return &Publisher{client: client, cfg: cfg}, nil
}

func (p *Publisher) publish(topic string, v any) {
	payload, err := json.Marshal(v)
	if err != nil {
		log.Printf("telemetry: marshal error (%s): %v", topic, err)
		return
	}
	if token := p.client.Publish(topic, 0, true, payload); token.Wait() && token.Error() != nil {
		log.Printf("telemetry: publish error (%s): %v", topic, token.Error())
	}
}

// Speed publishes the guidance category for the UI collaborators.
func (p *Publisher) Speed(cat motion.SpeedCategory, velocity float64) {
	p.publish(p.cfg.TopicSpeed, SpeedReading{Category: cat.String(), Velocity: velocity})
}

// Progress publishes the capture progress in [0, 1].
func (p *Publisher) Progress(progress float64) {
	p.publish(p.cfg.TopicProgress, ProgressReading{Progress: progress})
}

// State publishes a lifecycle transition.
func (p *Publisher) State(st session.State) {
	p.publish(p.cfg.TopicState, StateReading{State: st.String()})
}

// Result publishes the session outcome metadata.
func (p *Publisher) Result(info ResultInfo) {
	p.publish(p.cfg.TopicResult, info)
}

// Close disconnects from the broker.
func (p *Publisher) Close() {
	p.client.Disconnect(250)
}
