package homekit

import (
	"sync"

	hapaccessory "github.com/brutella/hap/accessory"
	"github.com/rs/zerolog/log"

	"github.com/sweeney/light-accessory/internal/accessory"
	"github.com/sweeney/light-accessory/internal/mqtt"
)

// commandBuffer is how many HomeKit writes may wait for the main loop.
const commandBuffer = 16

// Light is the on/off endpoint backed by a HomeKit lightbulb.
//
// Writes from paired controllers arrive on the HomeKit server's goroutines.
// They are only queued as commands; the main loop applies them through
// SetOnOff, the same way MQTT commands are applied.
type Light struct {
	bulb   *hapaccessory.Lightbulb
	mirror accessory.StatePublisher
	cmds   chan mqtt.Command

	mu         sync.Mutex
	on         bool
	onChange   accessory.ChangeFunc
	onIdentify accessory.IdentifyFunc
}

// NewLight creates the lightbulb with its initial value. mirror, if not nil,
// also receives every reported value (the MQTT state topic).
func NewLight(info hapaccessory.Info, initial bool, mirror accessory.StatePublisher) *Light {
	l := &Light{
		bulb:   hapaccessory.NewLightbulb(info),
		mirror: mirror,
		cmds:   make(chan mqtt.Command, commandBuffer),
		on:     initial,
	}
	l.bulb.Lightbulb.On.SetValue(initial)
	l.bulb.Lightbulb.On.OnValueRemoteUpdate(l.remoteSet)
	l.bulb.Info.Identify.OnValueRemoteUpdate(l.remoteIdentify)
	return l
}

// Accessory returns the HomeKit accessory to serve.
func (l *Light) Accessory() *hapaccessory.A {
	return l.bulb.A
}

// Commands delivers requests written by paired controllers.
func (l *Light) Commands() <-chan mqtt.Command {
	return l.cmds
}

// Characteristic returns the value HomeKit controllers currently see.
func (l *Light) Characteristic() bool {
	return l.bulb.Lightbulb.On.Value()
}

func (l *Light) remoteSet(on bool) {
	l.enqueue(mqtt.Command{Kind: mqtt.CommandSet, On: on})
}

func (l *Light) remoteIdentify(bool) {
	l.enqueue(mqtt.Command{Kind: mqtt.CommandIdentify, On: true})
}

func (l *Light) enqueue(cmd mqtt.Command) {
	select {
	case l.cmds <- cmd:
	default:
		log.Warn().Str("kind", string(cmd.Kind)).Msg("homekit command dropped: queue full")
	}
}

// OnChange registers the change callback.
func (l *Light) OnChange(fn accessory.ChangeFunc) {
	l.mu.Lock()
	l.onChange = fn
	l.mu.Unlock()
}

// OnIdentify registers the identify callback.
func (l *Light) OnIdentify(fn accessory.IdentifyFunc) {
	l.mu.Lock()
	l.onIdentify = fn
	l.mu.Unlock()
}

// GetOnOff returns the accepted attribute value.
func (l *Light) GetOnOff() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.on
}

// SetOnOff runs the change callback and, if accepted, updates the
// characteristic. A rejected value puts the characteristic back.
func (l *Light) SetOnOff(on bool) bool {
	l.mu.Lock()
	fn := l.onChange
	l.mu.Unlock()

	if fn != nil && !fn(on) {
		log.Warn().Bool("on", on).Msg("on/off change rejected")
		l.bulb.Lightbulb.On.SetValue(l.GetOnOff())
		return false
	}

	l.mu.Lock()
	l.on = on
	l.mu.Unlock()

	if err := l.report(on); err != nil {
		log.Warn().Err(err).Msg("failed to report on/off state")
	}
	return true
}

// Toggle inverts the attribute through SetOnOff.
func (l *Light) Toggle() bool {
	return l.SetOnOff(!l.GetOnOff())
}

// UpdateAccessory pushes the current value to HomeKit and the mirror.
func (l *Light) UpdateAccessory() error {
	return l.report(l.GetOnOff())
}

// Identify dispatches an identify request to the registered callback.
func (l *Light) Identify(identifying bool) bool {
	l.mu.Lock()
	fn := l.onIdentify
	l.mu.Unlock()
	if fn == nil {
		return true
	}
	return fn(identifying)
}

func (l *Light) report(on bool) error {
	l.bulb.Lightbulb.On.SetValue(on)
	if l.mirror == nil {
		return nil
	}
	return l.mirror.PublishState(on)
}
