// Package gpio drives the valve solenoids and reads the tank float switch.
// The real implementation uses the Linux GPIO character device.
// The fake implementations allow testing without hardware.
package gpio

// Writer drives digital outputs, keyed by BCM line number.
type Writer interface {
	// Write sets the line high (on) or low (off).
	Write(line int, on bool) error

	// Close drives every line low and releases GPIO resources.
	Close() error
}

// LevelReader reads the binary water-level switch.
type LevelReader interface {
	// IsFull reports whether the float switch reads "full".
	IsFull() (bool, error)

	// Close releases GPIO resources.
	Close() error
}

// Pin definitions (BCM numbering)
const (
	DefaultPinDrain = 17 // drain solenoid relay
	DefaultPinFill  = 27 // fill solenoid relay
	DefaultPinLevel = 5  // float switch, high = full
)
