// Package light maps the accessory's on/off value onto the LED output.
package light

import (
	"github.com/rs/zerolog/log"

	"github.com/sweeney/light-accessory/internal/gpio"
)

// Actuator drives the LED. Hardware errors are logged, never returned:
// callers treat actuation as always succeeding.
type Actuator struct {
	led gpio.LED
	on  bool
}

// New wraps an LED output.
func New(led gpio.LED) *Actuator {
	return &Actuator{led: led}
}

// SetState drives the LED high for on and low for off.
func (a *Actuator) SetState(on bool) {
	if err := a.led.Set(on); err != nil {
		log.Warn().Err(err).Bool("on", on).Msg("LED write failed")
		return
	}
	a.on = on
}

// State returns the last level successfully written.
func (a *Actuator) State() bool {
	return a.on
}
