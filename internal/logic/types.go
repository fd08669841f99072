// Package logic contains the pure button state machine for the light accessory.
// This package has NO external dependencies (no GPIO, MQTT, OS, or time.Sleep).
// Time is always injectable via time.Time parameters.
package logic

import "time"

// Default gesture timings.
const (
	DefaultDebounce  = 250 * time.Millisecond
	DefaultLongPress = 5000 * time.Millisecond
)

// ButtonState is the debouncer's position within a single physical press.
type ButtonState string

const (
	StateReleased ButtonState = "RELEASED"
	StatePressed  ButtonState = "PRESSED"
	StateHeldLong ButtonState = "HELD_LONG"
)

// Action is what the debouncer asks the controller to do.
type Action string

const (
	ActionNone         Action = ""
	ActionToggle       Action = "TOGGLE"
	ActionDecommission Action = "DECOMMISSION"
)

// Input represents a single sample of the button line.
type Input struct {
	Pressed bool // true = pin low (active-low button held down)
	Time    time.Time
}

// ActionCounts tracks the number of each action emitted since startup.
type ActionCounts struct {
	Toggles       int
	Decommissions int
	Bounces       int
}
