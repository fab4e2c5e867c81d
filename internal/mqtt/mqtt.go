// Package mqtt provides MQTT publishing with abstraction for testing.
package mqtt

import (
	"encoding/json"
	"time"

	"github.com/sweeney/busencoders/internal/encoder"
)

// DefaultTopicPrefix is used when no prefix is configured.
const DefaultTopicPrefix = "busencoders"

// System event names.
const (
	EventStartup     = "STARTUP"
	EventShutdown    = "SHUTDOWN"
	EventHeartbeat   = "HEARTBEAT"
	EventReconnected = "RECONNECTED"
	EventLWT         = "LWT"
)

// EventTopic returns the topic index events are published on.
func EventTopic(prefix string) string {
	return prefix + "/events"
}

// SystemTopic returns the topic lifecycle events are published on.
func SystemTopic(prefix string) string {
	return prefix + "/system"
}

// Publisher publishes events to MQTT.
type Publisher interface {
	// Publish sends an encoder event to the broker.
	// Returns error if publishing fails (should not crash the process).
	Publish(event encoder.Event) error

	// PublishSystem sends a system lifecycle event to the broker.
	PublishSystem(event SystemEvent) error

	// Close disconnects from the broker.
	Close() error
}

// ConnectionStatus reports whether the MQTT connection is active.
type ConnectionStatus interface {
	IsConnected() bool
}

// SystemEvent represents a system lifecycle event (e.g., startup, shutdown, heartbeat).
type SystemEvent struct {
	Timestamp  time.Time
	Event      string        // e.g., "STARTUP", "SHUTDOWN", "HEARTBEAT"
	Reason     string        // e.g., "SIGTERM", "SIGINT" (shutdown only)
	Config     *SystemConfig // startup only
	RawPayload []byte        // Pre-formatted JSON payload; if set, FormatSystemPayload returns it directly
	Retained   bool          // Whether the message should be retained by the broker
}

// SystemConfig is the acquisition configuration echoed on startup.
type SystemConfig struct {
	Encoders        int    `json:"encoders"`
	PollMs          int64  `json:"poll_ms"`
	ActiveTimeoutMs int64  `json:"active_timeout_ms"`
	DebounceWidth   int    `json:"debounce_width"`
	HeartbeatMs     int64  `json:"heartbeat_ms"`
	Broker          string `json:"broker"`
}

// Payload represents the MQTT message payload structure.
type Payload struct {
	Encoder EncoderPayload `json:"encoder"`
}

// EncoderPayload contains the event details.
type EncoderPayload struct {
	Timestamp string `json:"timestamp"`
	ID        int    `json:"id"`
	Name      string `json:"name,omitempty"`
	Signal    string `json:"signal"`
	Mode      int    `json:"mode"`
	Index     int    `json:"index"`
}

// FormatPayload creates the JSON payload for an encoder event.
func FormatPayload(event encoder.Event) ([]byte, error) {
	payload := Payload{
		Encoder: EncoderPayload{
			Timestamp: event.Time.UTC().Format(time.RFC3339Nano),
			ID:        event.Encoder,
			Name:      event.Name,
			Signal:    event.Signal.String(),
			Mode:      event.Mode,
			Index:     event.Index,
		},
	}
	return json.Marshal(payload)
}

// SystemPayload represents the MQTT message payload for system events.
// Used for simple events (LWT, RECONNECTED) that don't carry a full status snapshot.
type SystemPayload struct {
	System SystemPayloadInner `json:"system"`
}

// SystemPayloadInner contains the system event details.
type SystemPayloadInner struct {
	Timestamp string        `json:"timestamp"`
	Event     string        `json:"event"`
	Reason    string        `json:"reason,omitempty"`
	Config    *SystemConfig `json:"config,omitempty"`
}

// FormatSystemPayload creates the JSON payload for a system event.
// If event.RawPayload is set, it is returned directly (used for full status snapshots).
func FormatSystemPayload(event SystemEvent) ([]byte, error) {
	if event.RawPayload != nil {
		return event.RawPayload, nil
	}

	payload := SystemPayload{
		System: SystemPayloadInner{
			Timestamp: event.Timestamp.UTC().Format(time.RFC3339),
			Event:     event.Event,
			Reason:    event.Reason,
			Config:    event.Config,
		},
	}
	return json.Marshal(payload)
}

// WillPayload is the retained message the broker publishes if the daemon
// drops off without a clean shutdown. It has no timestamp because it is
// registered at connect time.
func WillPayload() []byte {
	b, _ := json.Marshal(map[string]map[string]string{
		"system": {"event": EventLWT, "reason": "CONNECTION_LOST"},
	})
	return b
}
