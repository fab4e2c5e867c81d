// Package encoder contains the acquisition engine for rotary encoders that
// share a common A/B/switch bus, each encoder owning one select line.
// This package has NO external dependencies (no GPIO, MQTT, OS, or time.Sleep).
// Line I/O goes through the Lines interface and time is injected.
package encoder

import (
	"fmt"
	"strings"
	"time"
)

// Lines is the line I/O the engine needs from its environment.
type Lines interface {
	// ReadLine returns the immediate level of a line (true = high).
	ReadLine(line int) (bool, error)

	// WriteLine drives an output line to the given level.
	WriteLine(line int, level bool) error
}

// Shared lines are pulled up and encoder contacts pull them low, so the
// at-rest level is high. Select lines are active low.
const (
	levelRest      = true
	selectActive   = false
	selectInactive = true
)

// DecodeType selects the quadrature decoder for an encoder.
type DecodeType int

const (
	// FourStep encoders produce four transitions per detent and report once per click.
	FourStep DecodeType = iota + 1
	// TwoStep encoders produce two transitions per detent and report on both edges of A.
	TwoStep
)

func (d DecodeType) String() string {
	switch d {
	case FourStep:
		return "four_step"
	case TwoStep:
		return "two_step"
	}
	return fmt.Sprintf("DecodeType(%d)", int(d))
}

// ParseDecodeType accepts "four_step"/"4" and "two_step"/"2".
func ParseDecodeType(s string) (DecodeType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "four_step", "fourstep", "4":
		return FourStep, nil
	case "two_step", "twostep", "2":
		return TwoStep, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrInvalidDecodeType, s)
}

// Signal is the outcome of reading one encoder.
type Signal int

const (
	None Signal = iota
	Clockwise
	CounterClockwise
	SwitchPressed
)

func (s Signal) String() string {
	switch s {
	case None:
		return "NONE"
	case Clockwise:
		return "CW"
	case CounterClockwise:
		return "CCW"
	case SwitchPressed:
		return "SWITCH"
	}
	return fmt.Sprintf("Signal(%d)", int(s))
}

// Bus describes the shared lines and how many encoders hang off them.
type Bus struct {
	LineA      int
	LineB      int
	LineSwitch int
	Count      int // encoder ids run 1..Count
}

// EncoderConfig is the registration data for one encoder.
type EncoderConfig struct {
	Name       string
	Type       DecodeType
	SelectLine int

	// Modes is the number of modes the switch cycles through (>= 1).
	Modes int

	// RotationIndex is reported for clockwise rotation in mode 0.
	// Mode m reports RotationIndex+2m clockwise and RotationIndex+2m+1
	// counter-clockwise.
	RotationIndex int

	// SwitchIndex is reported on a switch press. Only single-mode encoders
	// may set it; 0 means the press is not reported.
	SwitchIndex int
}

// Event is one non-zero result of a poll.
type Event struct {
	Time    time.Time
	Encoder int
	Name    string
	Signal  Signal
	Mode    int
	Index   int
}

// Levels is a raw snapshot of the shared lines while one encoder is selected.
type Levels struct {
	A      bool
	B      bool
	Switch bool
}

// ParseSignal is the inverse of Signal.String.
func ParseSignal(s string) (Signal, error) {
	switch s {
	case "NONE":
		return None, nil
	case "CW":
		return Clockwise, nil
	case "CCW":
		return CounterClockwise, nil
	case "SWITCH":
		return SwitchPressed, nil
	}
	return None, fmt.Errorf("unknown signal %q", s)
}
