// Package status provides a thread-safe snapshot of the accessory daemon's
// state for system events and the -print-state report.
package status

import (
	"sync"
	"time"

	"github.com/sweeney/light-accessory/internal/logic"
)

// NetworkInfo contains network state. This is a local copy to avoid
// importing internal/mqtt from status.
type NetworkInfo struct {
	Type       string
	IP         string
	Status     string
	Gateway    string
	WifiStatus string
	SSID       string
}

// Config contains daemon configuration for display.
type Config struct {
	NodeID      string
	TickMs      int64
	DebounceMs  int64
	LongPressMs int64
	Broker      string
	StorePath   string
	ButtonPin   int
	LEDPin      int
}

// Snapshot is a point-in-time view of daemon state.
// It is a value type, safe to use after the lock is released.
type Snapshot struct {
	On            bool
	LED           bool
	Phase         string
	Button        logic.ButtonState
	Commissioned  bool
	Controller    string
	Counts        logic.ActionCounts
	StartTime     time.Time
	Now           time.Time
	MQTTConnected bool
	Network       *NetworkInfo
	Config        Config
}

// Uptime returns the duration since the daemon started.
func (s Snapshot) Uptime() time.Duration {
	return s.Now.Sub(s.StartTime)
}

// Tracker holds mutable daemon state behind an RWMutex.
type Tracker struct {
	mu   sync.RWMutex
	snap Snapshot
}

// NewTracker creates a Tracker with the given start time and config.
func NewTracker(startTime time.Time, cfg Config) *Tracker {
	return &Tracker{
		snap: Snapshot{
			StartTime: startTime,
			Config:    cfg,
		},
	}
}

// Update sets the light, phase, button and counts.
// Called from runLoop on every tick.
func (t *Tracker) Update(on, led bool, phase string, button logic.ButtonState, counts logic.ActionCounts) {
	t.mu.Lock()
	t.snap.On = on
	t.snap.LED = led
	t.snap.Phase = phase
	t.snap.Button = button
	t.snap.Counts = counts
	t.mu.Unlock()
}

// SetCommissioned records the enrollment and the controller that holds it.
func (t *Tracker) SetCommissioned(commissioned bool, controller string) {
	t.mu.Lock()
	t.snap.Commissioned = commissioned
	t.snap.Controller = controller
	t.mu.Unlock()
}

// SetMQTTConnected sets the MQTT connection status.
func (t *Tracker) SetMQTTConnected(connected bool) {
	t.mu.Lock()
	t.snap.MQTTConnected = connected
	t.mu.Unlock()
}

// SetNetwork sets the network info.
func (t *Tracker) SetNetwork(info *NetworkInfo) {
	t.mu.Lock()
	t.snap.Network = info
	t.mu.Unlock()
}

// Snapshot returns a point-in-time copy of the daemon state.
// The Now field is set to the current time at the moment of the call.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.RLock()
	s := t.snap
	t.mu.RUnlock()
	s.Now = time.Now()
	return s
}
