// Package controller owns the accessory's on/off state and runs the main-loop
// phases: wait for the network, wait for commissioning, then serve the button.
//
// A Controller is not safe for concurrent use. The daemon drives it from a
// single goroutine; fabric requests reach it as messages on that goroutine.
package controller

import (
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/sweeney/light-accessory/internal/accessory"
	"github.com/sweeney/light-accessory/internal/gpio"
	"github.com/sweeney/light-accessory/internal/logic"
	"github.com/sweeney/light-accessory/internal/store"
)

// Phase is the main-loop phase.
type Phase string

const (
	PhaseAwaitingNetwork       Phase = "AWAITING_NETWORK"
	PhaseAwaitingCommissioning Phase = "AWAITING_COMMISSIONING"
	PhaseRunning               Phase = "RUNNING"
)

// Light drives the physical output.
type Light interface {
	SetState(on bool)
}

// StateStore persists the on/off value.
type StateStore interface {
	LoadBool(key string, def bool) (bool, error)
	StoreBool(key string, v bool) error
}

// Endpoint is the on/off attribute as the fabric sees it.
type Endpoint interface {
	GetOnOff() bool
	SetOnOff(on bool) bool
	Toggle() bool
	UpdateAccessory() error
	OnChange(fn accessory.ChangeFunc)
	OnIdentify(fn accessory.IdentifyFunc)
}

// Commissioner reports and clears the enrollment with a controller.
type Commissioner interface {
	IsDeviceCommissioned() bool
	ManualPairingCode() string
	OnboardingQRCodeURL() string
	Decommission() error
}

// Network reports whether the fabric link is up.
type Network interface {
	IsConnected() bool
}

// Config holds the controller's timing and storage settings.
type Config struct {
	Debounce            time.Duration
	LongPress           time.Duration
	IdentifyInterval    time.Duration
	IdentifyTransitions int
	CommissionLogEvery  time.Duration
	NetworkLogEvery     time.Duration

	// RestoreAfterIdentify drives the LED back to the on/off value once the
	// identify blink sequence finishes. Off by default: the LED is left dark.
	RestoreAfterIdentify bool

	// StateKey is the store key for the on/off value.
	StateKey string
}

// DefaultConfig returns the stock timings.
func DefaultConfig() Config {
	return Config{
		Debounce:            logic.DefaultDebounce,
		LongPress:           logic.DefaultLongPress,
		IdentifyInterval:    500 * time.Millisecond,
		IdentifyTransitions: 4,
		CommissionLogEvery:  5 * time.Second,
		NetworkLogEvery:     5 * time.Second,
		StateKey:            store.KeyOnOff,
	}
}

func (c *Config) applyDefaults() {
	d := DefaultConfig()
	if c.Debounce <= 0 {
		c.Debounce = d.Debounce
	}
	if c.LongPress <= 0 {
		c.LongPress = d.LongPress
	}
	if c.IdentifyInterval <= 0 {
		c.IdentifyInterval = d.IdentifyInterval
	}
	if c.IdentifyTransitions <= 0 {
		c.IdentifyTransitions = d.IdentifyTransitions
	}
	if c.CommissionLogEvery <= 0 {
		c.CommissionLogEvery = d.CommissionLogEvery
	}
	if c.NetworkLogEvery <= 0 {
		c.NetworkLogEvery = d.NetworkLogEvery
	}
	if c.StateKey == "" {
		c.StateKey = d.StateKey
	}
}

// Deps are the collaborators a Controller drives.
type Deps struct {
	Light        Light
	Store        StateStore
	Endpoint     Endpoint
	Commissioner Commissioner
	Button       gpio.Button
	Network      Network // nil means always connected

	// Sleep blocks during the identify sequence. Defaults to time.Sleep.
	Sleep func(time.Duration)
}

// Controller is the accessory's single owner of the on/off value.
type Controller struct {
	cfg  Config
	deps Deps

	debouncer *logic.Debouncer
	sleep     func(time.Duration)

	on    bool
	phase Phase

	wasCommissioned bool
	instructed      bool
	lastWaitLog     time.Time
	lastNetLog      time.Time
	readFailing     bool
}

// New wires the controller to its collaborators and registers the endpoint
// callbacks. Call Initialize before the first Tick.
func New(cfg Config, deps Deps) *Controller {
	cfg.applyDefaults()
	sleep := deps.Sleep
	if sleep == nil {
		sleep = time.Sleep
	}
	c := &Controller{
		cfg:       cfg,
		deps:      deps,
		debouncer: logic.NewDebouncer(cfg.Debounce, cfg.LongPress),
		sleep:     sleep,
		phase:     PhaseAwaitingNetwork,
	}
	deps.Endpoint.OnChange(c.OnRemoteSet)
	deps.Endpoint.OnIdentify(c.OnIdentifyRequest)
	return c
}

// LoadPersisted reads the on/off value from the store. A missing value or a
// store error yields false; errors are logged.
func LoadPersisted(s StateStore, key string) bool {
	if key == "" {
		key = store.KeyOnOff
	}
	on, err := s.LoadBool(key, false)
	if err != nil {
		log.Warn().Err(err).Msg("failed to load persisted state, starting OFF")
		return false
	}
	return on
}

// Initialize applies the persisted value to the light. If the accessory is
// already commissioned the value is reported to the fabric once.
func (c *Controller) Initialize(persisted bool) {
	c.on = persisted
	c.deps.Light.SetState(persisted)
	c.phase = PhaseAwaitingNetwork
	log.Info().Str("state", accessory.StateString(persisted)).Msg("Initial state")

	if c.deps.Commissioner.IsDeviceCommissioned() {
		log.Info().Msg("Accessory is commissioned. Ready for use.")
		if err := c.deps.Endpoint.UpdateAccessory(); err != nil {
			log.Warn().Err(err).Msg("failed to report initial state")
		}
		c.wasCommissioned = true
		c.instructed = false
	}
}

// OnRemoteSet is the only path that changes the on/off value. It drives the
// light, persists the value and records it. It always reports success.
func (c *Controller) OnRemoteSet(on bool) bool {
	c.deps.Light.SetState(on)
	if err := c.deps.Store.StoreBool(c.cfg.StateKey, on); err != nil {
		log.Warn().Err(err).Bool("on", on).Msg("failed to persist state")
	}
	if c.on != on {
		log.Info().Str("state", accessory.StateString(on)).Msg("Light changed")
	}
	c.on = on
	return true
}

// OnIdentifyRequest blinks the LED on, off, on, off with a pause after each
// transition. The identifying flag is logged but not otherwise used.
func (c *Controller) OnIdentifyRequest(identifying bool) bool {
	log.Info().Bool("identifying", identifying).Msg("Identify requested")
	for i := 0; i < c.cfg.IdentifyTransitions; i++ {
		c.deps.Light.SetState(i%2 == 0)
		c.sleep(c.cfg.IdentifyInterval)
	}
	if c.cfg.RestoreAfterIdentify {
		c.deps.Light.SetState(c.on)
	}
	return true
}

// OnButtonEvent dispatches a debounced button action.
func (c *Controller) OnButtonEvent(action logic.Action) {
	switch action {
	case logic.ActionToggle:
		log.Info().Msg("User button released. Toggling light")
		c.deps.Endpoint.Toggle()
	case logic.ActionDecommission:
		log.Info().Msg("Decommissioning the light accessory. It must be commissioned again.")
		if err := c.Decommission(); err != nil {
			log.Error().Err(err).Msg("decommission failed")
		}
	}
}

// Decommission turns the light off through the endpoint, so the fabric,
// the LED and the store all agree, then erases the enrollment.
func (c *Controller) Decommission() error {
	c.deps.Endpoint.SetOnOff(false)
	c.wasCommissioned = false
	c.instructed = false
	if c.phase == PhaseRunning {
		c.phase = PhaseAwaitingCommissioning
	}
	if err := c.deps.Commissioner.Decommission(); err != nil {
		return fmt.Errorf("decommission: %w", err)
	}
	return nil
}

// PollCommissioning checks the enrollment. While not commissioned it only
// logs pairing instructions (on entry, then a waiting line at intervals).
// On the first poll that sees the accessory commissioned the current value is
// reported to the fabric, and entering Running starts the button from
// released. Returns whether the accessory is commissioned.
func (c *Controller) PollCommissioning(now time.Time) bool {
	if c.deps.Commissioner.IsDeviceCommissioned() {
		if !c.wasCommissioned {
			c.wasCommissioned = true
			log.Info().Str("state", accessory.StateString(c.deps.Endpoint.GetOnOff())).Msg("Initial state")
			if err := c.deps.Endpoint.UpdateAccessory(); err != nil {
				log.Warn().Err(err).Msg("failed to report state")
			}
			log.Info().Msg("Accessory is commissioned and connected. Ready for use.")
		}
		c.instructed = false
		if c.phase != PhaseRunning {
			// The button is only sampled while running; drop any press
			// left over from before enrollment.
			c.debouncer.Reset()
			c.phase = PhaseRunning
		}
		return true
	}

	c.wasCommissioned = false
	if c.phase == PhaseRunning {
		c.phase = PhaseAwaitingCommissioning
	}
	if !c.instructed {
		c.instructed = true
		log.Info().Msg("Accessory is not commissioned yet")
		log.Info().Msg("Initiate device discovery from your controller")
		log.Info().Msg("Commission it with the manual pairing code or QR code")
		log.Info().Str("code", c.deps.Commissioner.ManualPairingCode()).Msg("Manual pairing code")
		log.Info().Str("url", c.deps.Commissioner.OnboardingQRCodeURL()).Msg("QR code URL")
		c.logWaiting(now)
	} else if now.Sub(c.lastWaitLog) >= c.cfg.CommissionLogEvery {
		c.logWaiting(now)
	}
	return false
}

func (c *Controller) logWaiting(now time.Time) {
	c.lastWaitLog = now
	log.Info().Msg("Not commissioned yet. Waiting for commissioning.")
}

// Tick advances the main loop by one iteration.
func (c *Controller) Tick(now time.Time) {
	switch c.phase {
	case PhaseAwaitingNetwork:
		if c.deps.Network != nil && !c.deps.Network.IsConnected() {
			if c.lastNetLog.IsZero() || now.Sub(c.lastNetLog) >= c.cfg.NetworkLogEvery {
				c.lastNetLog = now
				log.Info().Msg("Waiting for network connection")
			}
			return
		}
		log.Info().Msg("Network connected")
		c.phase = PhaseAwaitingCommissioning
		c.PollCommissioning(now)

	case PhaseAwaitingCommissioning:
		c.PollCommissioning(now)

	case PhaseRunning:
		if !c.PollCommissioning(now) {
			return
		}
		c.sampleButton(now)
	}
}

func (c *Controller) sampleButton(now time.Time) {
	pressed, err := c.deps.Button.Read()
	if err != nil {
		if !c.readFailing {
			log.Error().Err(err).Msg("button read failed")
			c.readFailing = true
		}
		return
	}
	if c.readFailing {
		log.Info().Msg("button read recovered")
		c.readFailing = false
	}
	c.OnButtonEvent(c.debouncer.Process(logic.Input{Pressed: pressed, Time: now}))
}

// State returns the current on/off value.
func (c *Controller) State() bool {
	return c.on
}

// Phase returns the current main-loop phase.
func (c *Controller) Phase() Phase {
	return c.phase
}

// ButtonState returns the debouncer state.
func (c *Controller) ButtonState() logic.ButtonState {
	return c.debouncer.State()
}

// Counts returns the debouncer's action counts.
func (c *Controller) Counts() logic.ActionCounts {
	return c.debouncer.Counts()
}

// IsCommissioned reports the enrollment as last seen by PollCommissioning.
func (c *Controller) IsCommissioned() bool {
	return c.wasCommissioned
}
