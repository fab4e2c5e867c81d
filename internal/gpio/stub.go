//go:build !linux

package gpio

import "errors"

// RealBus is not available on non-Linux platforms.
type RealBus struct{}

// NewRealBus returns an error on non-Linux platforms.
func NewRealBus(chip string, inputs, outputs []int) (*RealBus, error) {
	return nil, errors.New("gpio: not supported on this platform (requires Linux)")
}

// ReadLine is not implemented on non-Linux platforms.
func (b *RealBus) ReadLine(line int) (bool, error) {
	return false, errors.New("gpio: not supported")
}

// WriteLine is not implemented on non-Linux platforms.
func (b *RealBus) WriteLine(line int, level bool) error {
	return errors.New("gpio: not supported")
}

// Close is not implemented on non-Linux platforms.
func (b *RealBus) Close() error {
	return nil
}
