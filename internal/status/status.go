// Package status provides a thread-safe status tracker for the busencoders daemon.
// It is written by the run loop and read by HTTP handlers and heartbeats.
package status

import (
	"sync"
	"time"

	"github.com/sweeney/busencoders/internal/encoder"
)

// Config contains daemon configuration for display.
type Config struct {
	Chip            string
	PollMs          int64
	ActiveTimeoutMs int64
	DebounceWidth   int
	HeartbeatMs     int64
	Broker          string
	HTTPAddr        string
}

// EncoderInfo is the static registration of one encoder.
type EncoderInfo struct {
	ID            int
	Name          string
	Type          string
	SelectLine    int
	Modes         int
	RotationIndex int
	SwitchIndex   int
}

// Counts tracks events per signal, since startup or since the journal began.
type Counts struct {
	CW     int
	CCW    int
	Switch int
}

// Total returns the number of events counted.
func (c Counts) Total() int {
	return c.CW + c.CCW + c.Switch
}

// EncoderState is an encoder's registration plus its live state.
type EncoderState struct {
	EncoderInfo
	Mode   int
	Counts Counts
}

// Snapshot is a point-in-time view of daemon state.
// It is a value type, safe to use after the lock is released.
type Snapshot struct {
	Encoders      []EncoderState
	Focused       int
	LastEvent     *encoder.Event
	PollErrors    int
	StartTime     time.Time
	Now           time.Time
	MQTTConnected bool
	Config        Config
}

// Uptime returns the duration since the daemon started.
func (s Snapshot) Uptime() time.Duration {
	return s.Now.Sub(s.StartTime)
}

// Totals sums the counts of every encoder.
func (s Snapshot) Totals() Counts {
	var c Counts
	for _, e := range s.Encoders {
		c.CW += e.Counts.CW
		c.CCW += e.Counts.CCW
		c.Switch += e.Counts.Switch
	}
	return c
}

// Tracker holds mutable daemon state behind an RWMutex.
type Tracker struct {
	mu            sync.RWMutex
	snap          Snapshot
	lastHeartbeat time.Time
	now           func() time.Time
}

// NewTracker creates a Tracker for the given encoders. Encoders are reported
// in id order; ids must run 1..len(encoders).
func NewTracker(startTime time.Time, cfg Config, encoders []EncoderInfo) *Tracker {
	states := make([]EncoderState, len(encoders))
	for _, e := range encoders {
		if e.ID >= 1 && e.ID <= len(states) {
			states[e.ID-1] = EncoderState{EncoderInfo: e}
		}
	}
	return &Tracker{
		snap: Snapshot{
			Encoders:  states,
			StartTime: startTime,
			Config:    cfg,
		},
		lastHeartbeat: startTime,
		now:           time.Now,
	}
}

// SetClock replaces the clock used to stamp snapshots.
func (t *Tracker) SetClock(now func() time.Time) {
	t.mu.Lock()
	t.now = now
	t.mu.Unlock()
}

// Record counts an event and remembers it as the last one.
func (t *Tracker) Record(ev encoder.Event) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if ev.Encoder >= 1 && ev.Encoder <= len(t.snap.Encoders) {
		c := &t.snap.Encoders[ev.Encoder-1].Counts
		switch ev.Signal {
		case encoder.Clockwise:
			c.CW++
		case encoder.CounterClockwise:
			c.CCW++
		case encoder.SwitchPressed:
			c.Switch++
		}
	}
	last := ev
	t.snap.LastEvent = &last
}

// Seed sets the starting counts of encoder id. Unknown ids are ignored.
func (t *Tracker) Seed(id int, c Counts) {
	t.mu.Lock()
	if id >= 1 && id <= len(t.snap.Encoders) {
		t.snap.Encoders[id-1].Counts = c
	}
	t.mu.Unlock()
}

// Update sets the focused encoder and the current mode of each encoder.
// modes is indexed by id-1. Called from the run loop after every poll.
func (t *Tracker) Update(focused int, modes []int) {
	t.mu.Lock()
	t.snap.Focused = focused
	for i := range t.snap.Encoders {
		if i < len(modes) {
			t.snap.Encoders[i].Mode = modes[i]
		}
	}
	t.mu.Unlock()
}

// RecordPollError counts a failed poll.
func (t *Tracker) RecordPollError() {
	t.mu.Lock()
	t.snap.PollErrors++
	t.mu.Unlock()
}

// SetMQTTConnected sets the MQTT connection status.
func (t *Tracker) SetMQTTConnected(connected bool) {
	t.mu.Lock()
	t.snap.MQTTConnected = connected
	t.mu.Unlock()
}

// DueHeartbeat reports whether interval has elapsed since the last
// heartbeat (or startup) and, if so, marks one as sent at now. An interval
// <= 0 disables heartbeats.
func (t *Tracker) DueHeartbeat(now time.Time, interval time.Duration) bool {
	if interval <= 0 {
		return false
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if now.Sub(t.lastHeartbeat) < interval {
		return false
	}
	t.lastHeartbeat = now
	return true
}

// Snapshot returns a point-in-time copy of the daemon state.
// The Now field is set from the tracker clock at the moment of the call.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.RLock()
	s := t.snap
	s.Encoders = append([]EncoderState(nil), t.snap.Encoders...)
	if t.snap.LastEvent != nil {
		last := *t.snap.LastEvent
		s.LastEvent = &last
	}
	now := t.now
	t.mu.RUnlock()
	s.Now = now()
	return s
}
