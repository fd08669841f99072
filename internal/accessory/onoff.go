// Package accessory implements the single on/off light endpoint exposed to the fabric.
package accessory

import (
	"sync"

	"github.com/rs/zerolog/log"
)

// ChangeFunc is called when the on/off attribute is about to change.
// Returning false rejects the change.
type ChangeFunc func(on bool) bool

// IdentifyFunc is called when a controller asks the device to identify itself.
type IdentifyFunc func(identifying bool) bool

// StateString renders an on/off value as "ON" or "OFF".
func StateString(on bool) string {
	if on {
		return "ON"
	}
	return "OFF"
}

// StatePublisher reports the attribute to the fabric.
type StatePublisher interface {
	PublishState(on bool) error
}

// OnOffLight is the on/off light endpoint.
type OnOffLight struct {
	mu         sync.Mutex
	on         bool
	publisher  StatePublisher
	onChange   ChangeFunc
	onIdentify IdentifyFunc
}

// NewOnOffLight creates the endpoint with its initial attribute value.
func NewOnOffLight(initial bool, publisher StatePublisher) *OnOffLight {
	return &OnOffLight{on: initial, publisher: publisher}
}

// OnChange registers the change callback.
func (l *OnOffLight) OnChange(fn ChangeFunc) {
	l.mu.Lock()
	l.onChange = fn
	l.mu.Unlock()
}

// OnIdentify registers the identify callback.
func (l *OnOffLight) OnIdentify(fn IdentifyFunc) {
	l.mu.Lock()
	l.onIdentify = fn
	l.mu.Unlock()
}

// GetOnOff returns the current attribute value.
func (l *OnOffLight) GetOnOff() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.on
}

// SetOnOff runs the change callback and, if accepted, updates the attribute
// and reports it to the fabric. The callback runs even when the value is
// unchanged so local side effects are re-asserted.
func (l *OnOffLight) SetOnOff(on bool) bool {
	l.mu.Lock()
	fn := l.onChange
	l.mu.Unlock()

	if fn != nil && !fn(on) {
		log.Warn().Bool("on", on).Msg("on/off change rejected")
		return false
	}

	l.mu.Lock()
	l.on = on
	l.mu.Unlock()

	if err := l.publish(on); err != nil {
		log.Warn().Err(err).Msg("failed to report on/off state")
	}
	return true
}

// Toggle inverts the attribute through SetOnOff.
func (l *OnOffLight) Toggle() bool {
	return l.SetOnOff(!l.GetOnOff())
}

// UpdateAccessory reports the current attribute to the fabric.
func (l *OnOffLight) UpdateAccessory() error {
	return l.publish(l.GetOnOff())
}

// Identify dispatches an identify request to the registered callback.
func (l *OnOffLight) Identify(identifying bool) bool {
	l.mu.Lock()
	fn := l.onIdentify
	l.mu.Unlock()
	if fn == nil {
		return true
	}
	return fn(identifying)
}

func (l *OnOffLight) publish(on bool) error {
	if l.publisher == nil {
		return nil
	}
	return l.publisher.PublishState(on)
}
