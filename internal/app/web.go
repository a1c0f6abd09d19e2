package app

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/gorilla/websocket"

	"github.com/relabs-tech/scroll_capture/internal/config"
	"github.com/relabs-tech/scroll_capture/internal/telemetry"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins for local development
	},
}

// sessionView is the monitor's snapshot of the running session.
type sessionView struct {
	Speed    telemetry.SpeedReading `json:"speed"`
	Progress float64                `json:"progress"`
	State    string                 `json:"state"`
	Result   *telemetry.ResultInfo  `json:"result,omitempty"`
}

// RunWeb serves a live session monitor: the latest telemetry as a JSON
// API plus a websocket push channel for the browser UI.
func RunWeb() error {
	cfg := config.Get()

	var (
		mu   sync.RWMutex
		view sessionView
		have bool
	)

	// 1) Connect to the broker and mirror telemetry into view
	opts := mqtt.NewClientOptions().
		AddBroker(cfg.MQTTBroker).
		SetClientID(cfg.MQTTClientIDWeb)

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return token.Error()
	}
	log.Printf("web: connected to MQTT broker at %s", cfg.MQTTBroker)

	subscriptions := map[string]mqtt.MessageHandler{
		cfg.TopicSpeed: func(_ mqtt.Client, msg mqtt.Message) {
			var s telemetry.SpeedReading
			if err := json.Unmarshal(msg.Payload(), &s); err != nil {
				log.Printf("web: speed unmarshal error: %v", err)
				return
			}
			mu.Lock()
			view.Speed = s
			have = true
			mu.Unlock()
		},
		cfg.TopicProgress: func(_ mqtt.Client, msg mqtt.Message) {
			var p telemetry.ProgressReading
			if err := json.Unmarshal(msg.Payload(), &p); err != nil {
				log.Printf("web: progress unmarshal error: %v", err)
				return
			}
			mu.Lock()
			view.Progress = p.Progress
			have = true
			mu.Unlock()
		},
		cfg.TopicState: func(_ mqtt.Client, msg mqtt.Message) {
			var s telemetry.StateReading
			if err := json.Unmarshal(msg.Payload(), &s); err != nil {
				log.Printf("web: state unmarshal error: %v", err)
				return
			}
			mu.Lock()
			view.State = s.State
			if s.State == "capturing" {
				// New session: clear the previous outcome.
				view.Result = nil
				view.Progress = 0
			}
			have = true
			mu.Unlock()
		},
		cfg.TopicResult: func(_ mqtt.Client, msg mqtt.Message) {
			var r telemetry.ResultInfo
			if err := json.Unmarshal(msg.Payload(), &r); err != nil {
				log.Printf("web: result unmarshal error: %v", err)
				return
			}
			mu.Lock()
			view.Result = &r
			have = true
			mu.Unlock()
		},
	}

	for topic, handler := range subscriptions {
		token := client.Subscribe(topic, 0, handler)
		token.Wait()
		if token.Error() != nil {
			return token.Error()
		}
		log.Printf("web: subscribed to %s", topic)
	}

	// 2) JSON API endpoint: latest session view
	http.HandleFunc("/api/session", func(w http.ResponseWriter, r *http.Request) {
		mu.RLock()
		defer mu.RUnlock()

		if !have {
			http.Error(w, "no data yet", http.StatusServiceUnavailable)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(view); err != nil {
			log.Printf("web: json encode error: %v", err)
		}
	})

	// 3) Websocket push: snapshot every 500ms
	http.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Printf("web: websocket upgrade error: %v", err)
			return
		}
		defer conn.Close()

		ticker := time.NewTicker(500 * time.Millisecond)
		defer ticker.Stop()

		for range ticker.C {
			mu.RLock()
			snapshot := view
			ok := have
			mu.RUnlock()
			if !ok {
				continue
			}
			if err := conn.WriteJSON(snapshot); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
					log.Printf("web: websocket error: %v", err)
				}
				return
			}
		}
	})

	// 4) Static files from ./web as the root
	fs := http.FileServer(http.Dir("web"))
	http.Handle("/", fs)

	addr := fmt.Sprintf(":%d", cfg.WebServerPort)
	log.Printf("web: server listening on %s", addr)
	return http.ListenAndServe(addr, nil)
}
