package status

import (
	"encoding/json"
	"time"

	"github.com/sweeney/busencoders/internal/encoder"
)

// StatusJSON is the top-level JSON envelope for status output.
type StatusJSON struct {
	Status StatusInner `json:"status"`
}

// StatusInner contains the status details.
type StatusInner struct {
	Event         string        `json:"event,omitempty"`
	Reason        string        `json:"reason,omitempty"`
	Focused       int           `json:"focused"`
	UptimeSeconds int64         `json:"uptime_seconds"`
	StartTime     string        `json:"start_time"`
	Timestamp     string        `json:"timestamp"`
	PollErrors    int           `json:"poll_errors"`
	MQTT          MQTTStatus    `json:"mqtt"`
	Totals        CountsJSON    `json:"event_counts"`
	Encoders      []EncoderJSON `json:"encoders"`
	LastEvent     *EventJSON    `json:"last_event,omitempty"`
	Config        ConfigJSON    `json:"config"`
}

// MQTTStatus reports MQTT connection state.
type MQTTStatus struct {
	Connected bool   `json:"connected"`
	Broker    string `json:"broker"`
}

// CountsJSON is the JSON representation of event counts.
type CountsJSON struct {
	CW     int `json:"cw"`
	CCW    int `json:"ccw"`
	Switch int `json:"switch"`
}

// EncoderJSON is one encoder's registration and live state.
type EncoderJSON struct {
	ID            int        `json:"id"`
	Name          string     `json:"name,omitempty"`
	Type          string     `json:"type"`
	SelectLine    int        `json:"select_line"`
	Modes         int        `json:"modes"`
	Mode          int        `json:"mode"`
	RotationIndex int        `json:"rotation_index"`
	SwitchIndex   int        `json:"switch_index,omitempty"`
	Focused       bool       `json:"focused"`
	Counts        CountsJSON `json:"event_counts"`
}

// EventJSON is the JSON representation of an index event.
type EventJSON struct {
	Timestamp string `json:"timestamp"`
	Encoder   int    `json:"encoder"`
	Name      string `json:"name,omitempty"`
	Signal    string `json:"signal"`
	Mode      int    `json:"mode"`
	Index     int    `json:"index"`
}

// ConfigJSON is the JSON representation of daemon config.
type ConfigJSON struct {
	Chip            string `json:"chip"`
	PollMs          int64  `json:"poll_ms"`
	ActiveTimeoutMs int64  `json:"active_timeout_ms"`
	DebounceWidth   int    `json:"debounce_width"`
	HeartbeatMs     int64  `json:"heartbeat_ms"`
	Broker          string `json:"broker"`
	HTTPAddr        string `json:"http_addr"`
}

// EventToJSON converts an index event to its JSON form.
func EventToJSON(ev encoder.Event) EventJSON {
	return EventJSON{
		Timestamp: ev.Time.UTC().Format(time.RFC3339Nano),
		Encoder:   ev.Encoder,
		Name:      ev.Name,
		Signal:    ev.Signal.String(),
		Mode:      ev.Mode,
		Index:     ev.Index,
	}
}

func countsJSON(c Counts) CountsJSON {
	return CountsJSON{CW: c.CW, CCW: c.CCW, Switch: c.Switch}
}

func buildInner(snap Snapshot) StatusInner {
	encoders := make([]EncoderJSON, 0, len(snap.Encoders))
	for _, e := range snap.Encoders {
		encoders = append(encoders, EncoderJSON{
			ID:            e.ID,
			Name:          e.Name,
			Type:          e.Type,
			SelectLine:    e.SelectLine,
			Modes:         e.Modes,
			Mode:          e.Mode,
			RotationIndex: e.RotationIndex,
			SwitchIndex:   e.SwitchIndex,
			Focused:       e.ID == snap.Focused,
			Counts:        countsJSON(e.Counts),
		})
	}

	inner := StatusInner{
		Focused:       snap.Focused,
		UptimeSeconds: int64(snap.Uptime().Truncate(time.Second).Seconds()),
		StartTime:     snap.StartTime.UTC().Format(time.RFC3339),
		Timestamp:     snap.Now.UTC().Format(time.RFC3339),
		PollErrors:    snap.PollErrors,
		MQTT:          MQTTStatus{Connected: snap.MQTTConnected, Broker: snap.Config.Broker},
		Totals:        countsJSON(snap.Totals()),
		Encoders:      encoders,
		Config: ConfigJSON{
			Chip:            snap.Config.Chip,
			PollMs:          snap.Config.PollMs,
			ActiveTimeoutMs: snap.Config.ActiveTimeoutMs,
			DebounceWidth:   snap.Config.DebounceWidth,
			HeartbeatMs:     snap.Config.HeartbeatMs,
			Broker:          snap.Config.Broker,
			HTTPAddr:        snap.Config.HTTPAddr,
		},
	}
	if ev := snap.LastEvent; ev != nil {
		e := EventToJSON(*ev)
		inner.LastEvent = &e
	}
	return inner
}

// FormatJSON returns the JSON status for the web endpoint (no event/reason).
func FormatJSON(snap Snapshot) []byte {
	data, _ := json.MarshalIndent(StatusJSON{Status: buildInner(snap)}, "", "  ")
	return data
}

// FormatStatusEvent returns the JSON status for an MQTT system event.
func FormatStatusEvent(snap Snapshot, event, reason string) []byte {
	inner := buildInner(snap)
	inner.Event = event
	inner.Reason = reason

	data, _ := json.Marshal(StatusJSON{Status: inner})
	return data
}
