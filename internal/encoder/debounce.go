package encoder

import "fmt"

// Debounce width bounds, in consecutive samples.
const (
	DefaultDebounceWidth = 16
	MinDebounceWidth     = 1
	MaxDebounceWidth     = 32
)

// Filter is a shift-register debouncer. Each sample is shifted into a 32-bit
// record whose bits above the width are forced to 1, so once width samples
// agree the record equals either the don't-care mask (all low) or all ones
// (all high).
//
// Filter never blocks; the Arbiter spins on it.
type Filter struct {
	width    int
	dontCare uint32
	record   uint32
	samples  int
}

// NewFilter returns a filter requiring width consecutive identical samples.
func NewFilter(width int) (Filter, error) {
	if width < MinDebounceWidth || width > MaxDebounceWidth {
		return Filter{}, fmt.Errorf("%w: got %d", ErrInvalidDebounceWidth, width)
	}
	return Filter{
		width:    width,
		dontCare: ^uint32(0) << uint(width),
	}, nil
}

// Push adds one sample. stable is true once the last width samples agree,
// in which case level is their common value.
func (f *Filter) Push(sample bool) (level, stable bool) {
	var bit uint32
	if sample {
		bit = 1
	}
	f.record = f.record<<1 | bit | f.dontCare

	if f.samples < f.width {
		f.samples++
		if f.samples < f.width {
			return false, false
		}
	}

	switch f.record {
	case f.dontCare:
		return false, true
	case ^uint32(0):
		return true, true
	}
	return false, false
}

// Reset discards all samples.
func (f *Filter) Reset() {
	f.record = 0
	f.samples = 0
}

// debounce spins on line until it reads stable and returns the level.
func (a *Arbiter) debounce(line int) (bool, error) {
	return a.settle(line, func(bool) bool { return true })
}

// awaitLevel spins on line until it reads stable at want.
func (a *Arbiter) awaitLevel(line int, want bool) error {
	_, err := a.settle(line, func(level bool) bool { return level == want })
	return err
}

// settle feeds immediate reads of line into the reset filter until a stable
// level satisfies accept. With a zero spin limit it never gives up.
func (a *Arbiter) settle(line int, accept func(bool) bool) (bool, error) {
	f := &a.filter
	f.Reset()
	for n := 0; a.spinLimit == 0 || n < a.spinLimit; n++ {
		v, err := a.lines.ReadLine(line)
		if err != nil {
			return false, fmt.Errorf("read line %d: %w", line, err)
		}
		if level, ok := f.Push(v); ok && accept(level) {
			return level, nil
		}
	}
	return false, fmt.Errorf("%w: line %d after %d samples", ErrLineUnstable, line, a.spinLimit)
}
