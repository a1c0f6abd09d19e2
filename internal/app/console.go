package app

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/relabs-tech/scroll_capture/internal/config"
	"github.com/relabs-tech/scroll_capture/internal/telemetry"
)

// RunConsole subscribes to the capture telemetry topics and prints a
// live readout, one line per message.
func RunConsole() error {
	cfg := config.Get()

	opts := mqtt.NewClientOptions().
		AddBroker(cfg.MQTTBroker).
		SetClientID(cfg.MQTTClientIDConsole)

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return token.Error()
	}
	log.Printf("console: connected to MQTT broker at %s", cfg.MQTTBroker)

	speedToken := client.Subscribe(cfg.TopicSpeed, 0, func(_ mqtt.Client, msg mqtt.Message) {
		var s telemetry.SpeedReading
		if err := json.Unmarshal(msg.Payload(), &s); err != nil {
			log.Printf("console: speed unmarshal error: %v", err)
			return
		}
		fmt.Printf("[SPEED] %-10s v=%+.3f\n", s.Category, s.Velocity)
	})
	speedToken.Wait()
	if speedToken.Error() != nil {
		return speedToken.Error()
	}
	log.Printf("console: subscribed to %s", cfg.TopicSpeed)

	progToken := client.Subscribe(cfg.TopicProgress, 0, func(_ mqtt.Client, msg mqtt.Message) {
		var p telemetry.ProgressReading
		if err := json.Unmarshal(msg.Payload(), &p); err != nil {
			log.Printf("console: progress unmarshal error: %v", err)
			return
		}
		fmt.Printf("[PROG ] %3.0f%%\n", p.Progress*100)
	})
	progToken.Wait()
	if progToken.Error() != nil {
		return progToken.Error()
	}
	log.Printf("console: subscribed to %s", cfg.TopicProgress)

	stateToken := client.Subscribe(cfg.TopicState, 0, func(_ mqtt.Client, msg mqtt.Message) {
		var s telemetry.StateReading
		if err := json.Unmarshal(msg.Payload(), &s); err != nil {
			log.Printf("console: state unmarshal error: %v", err)
			return
		}
		fmt.Printf("[STATE] %s\n", s.State)
	})
	stateToken.Wait()
	if stateToken.Error() != nil {
		return stateToken.Error()
	}
	log.Printf("console: subscribed to %s", cfg.TopicState)

	resultToken := client.Subscribe(cfg.TopicResult, 0, func(_ mqtt.Client, msg mqtt.Message) {
		var r telemetry.ResultInfo
		if err := json.Unmarshal(msg.Payload(), &r); err != nil {
			log.Printf("console: result unmarshal error: %v", err)
			return
		}
		if r.Empty {
			fmt.Println("[DONE ] nothing captured")
			return
		}
		fmt.Printf("[DONE ] %d frames -> %dx%d %s\n", r.Frames, r.Width, r.Height, r.Path)
	})
	resultToken.Wait()
	if resultToken.Error() != nil {
		return resultToken.Error()
	}
	log.Printf("console: subscribed to %s", cfg.TopicResult)

	// Wait for Ctrl+C
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	log.Println("console: shutting down")
	client.Disconnect(250)
	return nil
}
