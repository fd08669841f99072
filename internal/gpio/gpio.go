// Package gpio provides the button input and LED output with hardware abstraction.
// The real implementation uses Linux GPIO character device.
// The fake implementation allows testing without hardware.
package gpio

// Button reads the push-button line.
type Button interface {
	// Read returns true while the button is held down.
	// The line is pulled up and active-low: raw 0 = pressed.
	Read() (bool, error)

	// Close releases GPIO resources.
	Close() error
}

// LED drives the light output line.
type LED interface {
	// Set drives the line high (on) or low (off).
	Set(on bool) error

	// Close releases GPIO resources.
	Close() error
}

// Pin defaults (BCM numbering)
const (
	DefaultChip      = "gpiochip0"
	DefaultButtonPin = 17
	DefaultLEDPin    = 27
)
