// Package mqtt carries the accessory over an MQTT broker: state reports,
// remote commands, commissioning requests and Home Assistant discovery.
package mqtt

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// DefaultTopicPrefix is the first topic segment for all accessory topics.
const DefaultTopicPrefix = "light-accessory"

// Payloads for on/off state and availability.
const (
	PayloadOn      = "ON"
	PayloadOff     = "OFF"
	PayloadToggle  = "TOGGLE"
	PayloadOnline  = "online"
	PayloadOffline = "offline"
)

// Topics lists every topic used by one accessory.
type Topics struct {
	Base         string
	State        string
	Set          string
	Identify     string
	Commission   string
	Availability string
	System       string
	Discovery    string
}

// NewTopics derives the topic set for nodeID under prefix.
func NewTopics(prefix, nodeID string) Topics {
	if prefix == "" {
		prefix = DefaultTopicPrefix
	}
	base := prefix + "/" + nodeID
	return Topics{
		Base:         base,
		State:        base + "/onoff/state",
		Set:          base + "/onoff/set",
		Identify:     base + "/identify",
		Commission:   base + "/commission",
		Availability: base + "/status",
		System:       base + "/system",
		Discovery:    "homeassistant/light/" + nodeID + "/config",
	}
}

// Client is the accessory's connection to the fabric.
type Client interface {
	// PublishState reports the on/off attribute (retained).
	PublishState(on bool) error

	// PublishSystem sends a system lifecycle event.
	PublishSystem(event SystemEvent) error

	// Announce publishes Home Assistant discovery for the light.
	Announce() error

	// Withdraw removes the Home Assistant discovery entry and clears the state.
	Withdraw() error

	// Commands delivers decoded inbound requests.
	Commands() <-chan Command

	// Close disconnects from the broker.
	Close() error

	ConnectionStatus
}

// ConnectionStatus reports whether the MQTT connection is active.
type ConnectionStatus interface {
	IsConnected() bool
}

// CommandKind identifies an inbound request.
type CommandKind string

const (
	CommandSet        CommandKind = "SET"
	CommandToggle     CommandKind = "TOGGLE"
	CommandIdentify   CommandKind = "IDENTIFY"
	CommandCommission CommandKind = "COMMISSION"
)

// Command is a decoded inbound request.
type Command struct {
	Kind CommandKind
	// On is the requested state for CommandSet, or the identifying flag for CommandIdentify.
	On bool
	// PairingCode and Controller are set for CommandCommission.
	PairingCode string
	Controller  string
}

// ErrUnknownTopic is returned for messages on topics the accessory does not handle.
var ErrUnknownTopic = errors.New("unknown topic")

// lightCommand is the Home Assistant JSON schema command body.
type lightCommand struct {
	State string `json:"state"`
}

// commissionRequest is the body published to the commission topic.
type commissionRequest struct {
	PairingCode string `json:"pairing_code"`
	Controller  string `json:"controller"`
}

// ParseCommand decodes a message received on one of the accessory's topics.
func ParseCommand(topics Topics, topic string, payload []byte) (Command, error) {
	switch topic {
	case topics.Set:
		return parseSet(payload)

	case topics.Identify:
		p := strings.ToUpper(strings.TrimSpace(string(payload)))
		return Command{Kind: CommandIdentify, On: p != PayloadOff && p != "0" && p != "FALSE"}, nil

	case topics.Commission:
		var req commissionRequest
		if err := json.Unmarshal(payload, &req); err != nil {
			return Command{}, fmt.Errorf("decode commission request: %w", err)
		}
		if req.PairingCode == "" {
			return Command{}, errors.New("commission request missing pairing_code")
		}
		return Command{Kind: CommandCommission, PairingCode: req.PairingCode, Controller: req.Controller}, nil
	}
	return Command{}, fmt.Errorf("%w: %s", ErrUnknownTopic, topic)
}

func parseSet(payload []byte) (Command, error) {
	p := strings.TrimSpace(string(payload))
	if strings.HasPrefix(p, "{") {
		var cmd lightCommand
		if err := json.Unmarshal([]byte(p), &cmd); err != nil {
			return Command{}, fmt.Errorf("decode light command: %w", err)
		}
		p = cmd.State
	}
	switch strings.ToUpper(p) {
	case PayloadOn:
		return Command{Kind: CommandSet, On: true}, nil
	case PayloadOff:
		return Command{Kind: CommandSet, On: false}, nil
	case PayloadToggle:
		return Command{Kind: CommandToggle}, nil
	}
	return Command{}, fmt.Errorf("unknown on/off payload %q", p)
}

// StatePayload returns the wire form of an on/off value.
func StatePayload(on bool) []byte {
	if on {
		return []byte(PayloadOn)
	}
	return []byte(PayloadOff)
}

// DeviceInfo describes the device in Home Assistant discovery.
type DeviceInfo struct {
	Identifiers  []string `json:"identifiers"`
	Name         string   `json:"name"`
	Manufacturer string   `json:"manufacturer,omitempty"`
	Model        string   `json:"model,omitempty"`
	SWVersion    string   `json:"sw_version,omitempty"`
}

// Discovery is the Home Assistant MQTT light discovery payload.
type Discovery struct {
	Name              string     `json:"name"`
	UniqueID          string     `json:"unique_id"`
	CommandTopic      string     `json:"command_topic"`
	StateTopic        string     `json:"state_topic"`
	AvailabilityTopic string     `json:"availability_topic"`
	PayloadOn         string     `json:"payload_on"`
	PayloadOff        string     `json:"payload_off"`
	Optimistic        bool       `json:"optimistic"`
	Retain            bool       `json:"retain"`
	Device            DeviceInfo `json:"device"`
}

// NewDiscovery builds the discovery payload for the light.
func NewDiscovery(topics Topics, nodeID string, device DeviceInfo) Discovery {
	if len(device.Identifiers) == 0 {
		device.Identifiers = []string{nodeID}
	}
	return Discovery{
		Name:              device.Name,
		UniqueID:          nodeID + "_onoff",
		CommandTopic:      topics.Set,
		StateTopic:        topics.State,
		AvailabilityTopic: topics.Availability,
		PayloadOn:         PayloadOn,
		PayloadOff:        PayloadOff,
		Optimistic:        false,
		Retain:            false,
		Device:            device,
	}
}

// SystemEvent represents a system lifecycle event (e.g., startup, shutdown).
type SystemEvent struct {
	Timestamp  time.Time
	Event      string // e.g., "STARTUP", "SHUTDOWN"
	Reason     string // e.g., "SIGTERM", "SIGINT" (shutdown only)
	RawPayload []byte // Pre-formatted JSON payload; if set, FormatSystemPayload returns it directly
	Retained   bool   // Whether the message should be retained by the broker
}

// SystemPayload represents the MQTT message payload for system events
// that don't carry a full status snapshot.
type SystemPayload struct {
	System SystemPayloadInner `json:"system"`
}

// SystemPayloadInner contains the system event details.
type SystemPayloadInner struct {
	Timestamp string `json:"timestamp"`
	Event     string `json:"event"`
	Reason    string `json:"reason,omitempty"`
}

// FormatSystemPayload creates the JSON payload for a system event.
// If event.RawPayload is set, it is returned directly (used for full status snapshots).
func FormatSystemPayload(event SystemEvent) ([]byte, error) {
	if event.RawPayload != nil {
		return event.RawPayload, nil
	}
	payload := SystemPayload{
		System: SystemPayloadInner{
			Timestamp: event.Timestamp.UTC().Format(time.RFC3339),
			Event:     event.Event,
			Reason:    event.Reason,
		},
	}
	return json.Marshal(payload)
}
