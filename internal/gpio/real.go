//go:build linux

package gpio

import (
	"fmt"

	"github.com/warthog618/go-gpiocdev"
)

// RealBus drives the encoder bus through the Linux GPIO character device.
type RealBus struct {
	chip    *gpiocdev.Chip
	inputs  map[int]*gpiocdev.Line
	outputs map[int]*gpiocdev.Line
}

// NewRealBus requests inputs (the shared A, B and switch lines) with pull-up
// and outputs (the select lines) driven high, i.e. every encoder deselected.
func NewRealBus(chip string, inputs, outputs []int) (*RealBus, error) {
	c, err := gpiocdev.NewChip(chip, gpiocdev.WithConsumer(Consumer))
	if err != nil {
		return nil, fmt.Errorf("open gpio chip %s: %w", chip, err)
	}

	b := &RealBus{
		chip:    c,
		inputs:  make(map[int]*gpiocdev.Line, len(inputs)),
		outputs: make(map[int]*gpiocdev.Line, len(outputs)),
	}

	for _, offset := range inputs {
		l, err := c.RequestLine(offset, gpiocdev.AsInput, gpiocdev.WithPullUp)
		if err != nil {
			b.Close()
			return nil, fmt.Errorf("request input line %d: %w", offset, err)
		}
		b.inputs[offset] = l
	}

	for _, offset := range outputs {
		l, err := c.RequestLine(offset, gpiocdev.AsOutput(1))
		if err != nil {
			b.Close()
			return nil, fmt.Errorf("request output line %d: %w", offset, err)
		}
		b.outputs[offset] = l
	}

	return b, nil
}

// ReadLine returns the raw level of a requested input line.
func (b *RealBus) ReadLine(line int) (bool, error) {
	l, ok := b.inputs[line]
	if !ok {
		return false, fmt.Errorf("line %d: not requested as input", line)
	}
	v, err := l.Value()
	if err != nil {
		return false, fmt.Errorf("read line %d: %w", line, err)
	}
	return v != 0, nil
}

// WriteLine drives a requested output line.
func (b *RealBus) WriteLine(line int, level bool) error {
	l, ok := b.outputs[line]
	if !ok {
		return fmt.Errorf("line %d: not requested as output", line)
	}
	v := 0
	if level {
		v = 1
	}
	if err := l.SetValue(v); err != nil {
		return fmt.Errorf("write line %d: %w", line, err)
	}
	return nil
}

// Close releases GPIO resources.
// Select lines are turned back into pulled-up inputs before release so no
// encoder is left connected to the bus while the process is gone.
func (b *RealBus) Close() error {
	var errs []error

	for offset, l := range b.outputs {
		if err := l.Reconfigure(gpiocdev.AsInput, gpiocdev.WithPullUp); err != nil {
			errs = append(errs, fmt.Errorf("reconfigure line %d: %w", offset, err))
		}
		if err := l.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close line %d: %w", offset, err))
		}
	}
	for offset, l := range b.inputs {
		if err := l.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close line %d: %w", offset, err))
		}
	}
	if b.chip != nil {
		if err := b.chip.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close chip: %w", err))
		}
	}

	b.inputs = map[int]*gpiocdev.Line{}
	b.outputs = map[int]*gpiocdev.Line{}
	b.chip = nil

	if len(errs) > 0 {
		return fmt.Errorf("close errors: %v", errs)
	}
	return nil
}
