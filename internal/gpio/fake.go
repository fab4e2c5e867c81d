package gpio

import "fmt"

// FakeBus is a test double that returns scripted line levels and records writes.
type FakeBus struct {
	// Samples contains scripted levels per input line.
	// Each ReadLine consumes the next sample for that line.
	Samples map[int][]bool

	// Writes records every WriteLine call in order.
	Writes []Write

	// Closed tracks if Close was called
	Closed bool

	// ReadError, if set, will be returned by ReadLine.
	ReadError error

	// WriteError, if set, will be returned by WriteLine.
	WriteError error

	index map[int]int
	reads map[int]int
}

// Write is one recorded WriteLine call.
type Write struct {
	Line  int
	Level bool
}

// NewFakeBus creates a FakeBus with the given per-line samples.
func NewFakeBus(samples map[int][]bool) *FakeBus {
	if samples == nil {
		samples = make(map[int][]bool)
	}
	return &FakeBus{
		Samples: samples,
		index:   make(map[int]int),
		reads:   make(map[int]int),
	}
}

// ReadLine returns the next scripted sample for line.
// If samples are exhausted, returns the last sample repeatedly.
func (f *FakeBus) ReadLine(line int) (bool, error) {
	if f.ReadError != nil {
		return false, f.ReadError
	}

	samples := f.Samples[line]
	if len(samples) == 0 {
		return false, fmt.Errorf("no samples configured for line %d", line)
	}

	i := f.index[line]
	if i < len(samples)-1 {
		f.index[line] = i + 1
	}
	f.reads[line]++

	return samples[i], nil
}

// WriteLine records the write.
func (f *FakeBus) WriteLine(line int, level bool) error {
	if f.WriteError != nil {
		return f.WriteError
	}
	f.Writes = append(f.Writes, Write{Line: line, Level: level})
	return nil
}

// Reads returns how many successful reads line has seen.
func (f *FakeBus) Reads(line int) int {
	return f.reads[line]
}

// Close marks the bus as closed.
func (f *FakeBus) Close() error {
	f.Closed = true
	return nil
}
