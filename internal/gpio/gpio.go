// Package gpio provides the shared encoder bus lines with hardware abstraction.
// The real implementation uses the Linux GPIO character device.
// The fake and simulated implementations allow testing without hardware.
package gpio

// Bus reads the shared input lines and drives the encoder select lines.
type Bus interface {
	// ReadLine returns the raw level of an input line (true = high).
	ReadLine(line int) (bool, error)

	// WriteLine drives an output line to the given level.
	WriteLine(line int, level bool) error

	// Close releases GPIO resources.
	Close() error
}

// Default line offsets on gpiochip0 (BCM numbering on a Raspberry Pi).
const (
	DefaultChip       = "gpiochip0"
	DefaultLineA      = 17
	DefaultLineB      = 27
	DefaultLineSwitch = 22
)

// Consumer is the label the daemon's line requests carry in the kernel.
const Consumer = "busencoders"
