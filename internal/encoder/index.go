package encoder

import "math"

// Index maps a signal to the application index for an encoder in the given
// mode. None maps to 0, which is never a valid configured index.
func Index(cfg EncoderConfig, mode int, s Signal) int {
	switch s {
	case Clockwise:
		return cfg.RotationIndex + 2*mode
	case CounterClockwise:
		return cfg.RotationIndex + 2*mode + 1
	case SwitchPressed:
		return cfg.SwitchIndex
	}
	return 0
}

// span is the half-open range [lo, hi) of rotation indices an encoder reports.
type span struct {
	lo, hi int
}

func (s span) contains(idx int) bool {
	return idx >= s.lo && idx < s.hi
}

func (s span) overlaps(o span) bool {
	return s.lo < o.hi && o.lo < s.hi
}

// rotationSpan returns the rotation indices cfg covers across all modes. ok is
// false when the top of the range does not fit in an int.
func rotationSpan(cfg EncoderConfig) (s span, ok bool) {
	if cfg.Modes < 1 || cfg.Modes > math.MaxInt/2 {
		return span{}, false
	}
	width := 2 * cfg.Modes
	if cfg.RotationIndex > math.MaxInt-width {
		return span{}, false
	}
	return span{lo: cfg.RotationIndex, hi: cfg.RotationIndex + width}, true
}
