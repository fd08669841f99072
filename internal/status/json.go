package status

import (
	"encoding/json"
	"time"

	"github.com/sweeney/light-accessory/internal/accessory"
)

// StatusJSON is the top-level JSON envelope for status output.
type StatusJSON struct {
	Status StatusInner `json:"status"`
}

// StatusInner contains the status details.
type StatusInner struct {
	Event         string       `json:"event,omitempty"`
	Reason        string       `json:"reason,omitempty"`
	NodeID        string       `json:"node_id"`
	State         string       `json:"state"`
	LED           string       `json:"led"`
	Phase         string       `json:"phase"`
	Button        string       `json:"button"`
	Commissioned  bool         `json:"commissioned"`
	Controller    string       `json:"controller,omitempty"`
	UptimeSeconds int64        `json:"uptime_seconds"`
	StartTime     string       `json:"start_time"`
	Timestamp     string       `json:"timestamp"`
	MQTT          MQTTStatus   `json:"mqtt"`
	Counts        CountsJSON   `json:"button_counts"`
	Network       *NetworkJSON `json:"network,omitempty"`
	Config        ConfigJSON   `json:"config"`
}

// MQTTStatus reports MQTT connection state.
type MQTTStatus struct {
	Connected bool   `json:"connected"`
	Broker    string `json:"broker"`
}

// CountsJSON is the JSON representation of button action counts.
type CountsJSON struct {
	Toggles       int `json:"toggles"`
	Decommissions int `json:"decommissions"`
	Bounces       int `json:"bounces"`
}

// NetworkJSON is the JSON representation of network info.
type NetworkJSON struct {
	Type       string `json:"type"`
	IP         string `json:"ip"`
	Status     string `json:"status"`
	Gateway    string `json:"gateway"`
	WifiStatus string `json:"wifi_status"`
	SSID       string `json:"ssid"`
}

// ConfigJSON is the JSON representation of daemon config.
type ConfigJSON struct {
	TickMs      int64  `json:"tick_ms"`
	DebounceMs  int64  `json:"debounce_ms"`
	LongPressMs int64  `json:"long_press_ms"`
	Broker      string `json:"broker"`
	StorePath   string `json:"store_path"`
	ButtonPin   int    `json:"button_pin"`
	LEDPin      int    `json:"led_pin"`
}

func buildInner(snap Snapshot) StatusInner {
	phase := snap.Phase
	if phase == "" {
		phase = "UNKNOWN"
	}
	button := string(snap.Button)
	if button == "" {
		button = "UNKNOWN"
	}

	return StatusInner{
		NodeID:        snap.Config.NodeID,
		State:         accessory.StateString(snap.On),
		LED:           accessory.StateString(snap.LED),
		Phase:         phase,
		Button:        button,
		Commissioned:  snap.Commissioned,
		Controller:    snap.Controller,
		UptimeSeconds: int64(snap.Uptime().Truncate(time.Second).Seconds()),
		StartTime:     snap.StartTime.UTC().Format(time.RFC3339),
		Timestamp:     snap.Now.UTC().Format(time.RFC3339),
		MQTT:          MQTTStatus{Connected: snap.MQTTConnected, Broker: snap.Config.Broker},
		Counts: CountsJSON{
			Toggles:       snap.Counts.Toggles,
			Decommissions: snap.Counts.Decommissions,
			Bounces:       snap.Counts.Bounces,
		},
		Config: ConfigJSON{
			TickMs:      snap.Config.TickMs,
			DebounceMs:  snap.Config.DebounceMs,
			LongPressMs: snap.Config.LongPressMs,
			Broker:      snap.Config.Broker,
			StorePath:   snap.Config.StorePath,
			ButtonPin:   snap.Config.ButtonPin,
			LEDPin:      snap.Config.LEDPin,
		},
	}
}

func buildNetwork(snap Snapshot, inner *StatusInner) {
	if snap.Network != nil {
		inner.Network = &NetworkJSON{
			Type:       snap.Network.Type,
			IP:         snap.Network.IP,
			Status:     snap.Network.Status,
			Gateway:    snap.Network.Gateway,
			WifiStatus: snap.Network.WifiStatus,
			SSID:       snap.Network.SSID,
		}
	}
}

// FormatJSON returns the indented JSON status report (no event/reason).
func FormatJSON(snap Snapshot) []byte {
	inner := buildInner(snap)
	buildNetwork(snap, &inner)

	data, _ := json.MarshalIndent(StatusJSON{Status: inner}, "", "  ")
	return data
}

// FormatStatusEvent returns the JSON status for an MQTT system event.
func FormatStatusEvent(snap Snapshot, event, reason string) []byte {
	inner := buildInner(snap)
	inner.Event = event
	inner.Reason = reason
	buildNetwork(snap, &inner)

	data, _ := json.Marshal(StatusJSON{Status: inner})
	return data
}
