package mqtt

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog/log"
)

// Options configures a RealClient.
type Options struct {
	Broker     string
	Username   string
	Password   string
	ClientID   string
	NodeID     string
	Topics     Topics
	Device     DeviceInfo
	OutboxSize int
}

// RealClient talks to an actual MQTT broker.
type RealClient struct {
	client    paho.Client
	topics    Topics
	discovery Discovery
	commands  chan Command

	mu     sync.Mutex
	outbox *outbox
}

// NewRealClient creates a client and starts connecting in the background.
// The connection is retried until it succeeds; IsConnected reports progress.
func NewRealClient(o Options) *RealClient {
	if o.OutboxSize <= 0 {
		o.OutboxSize = 64
	}
	c := &RealClient{
		topics:    o.Topics,
		discovery: NewDiscovery(o.Topics, o.NodeID, o.Device),
		commands:  make(chan Command, 16),
		outbox:    newOutbox(o.OutboxSize),
	}

	opts := paho.NewClientOptions().
		AddBroker(o.Broker).
		SetClientID(o.ClientID).
		SetUsername(o.Username).
		SetPassword(o.Password).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5*time.Second).
		SetWill(o.Topics.Availability, PayloadOffline, 1, true).
		SetOnConnectHandler(c.onConnect).
		SetConnectionLostHandler(func(_ paho.Client, err error) {
			log.Warn().Err(err).Msg("MQTT connection lost")
		}).
		SetReconnectingHandler(func(_ paho.Client, _ *paho.ClientOptions) {
			log.Info().Msg("MQTT reconnecting")
		})

	c.client = paho.NewClient(opts)
	c.client.Connect()
	return c
}

func (c *RealClient) onConnect(client paho.Client) {
	log.Info().Str("base", c.topics.Base).Msg("Connected to MQTT broker")

	client.Publish(c.topics.Availability, 1, true, PayloadOnline)

	for _, topic := range []string{c.topics.Set, c.topics.Identify, c.topics.Commission} {
		if t := client.Subscribe(topic, 1, c.handleMessage); t.WaitTimeout(5*time.Second) && t.Error() != nil {
			log.Error().Err(t.Error()).Str("topic", topic).Msg("subscribe failed")
		}
	}

	c.mu.Lock()
	pending := c.outbox.drainAll()
	c.mu.Unlock()
	if len(pending) > 0 {
		log.Info().Int("count", len(pending)).Msg("replaying queued MQTT messages")
	}
	for _, m := range pending {
		client.Publish(m.topic, m.qos, m.retained, m.payload)
	}
}

func (c *RealClient) handleMessage(_ paho.Client, msg paho.Message) {
	// A retained command would replay an old request on every reconnect.
	if msg.Retained() {
		log.Debug().Str("topic", msg.Topic()).Msg("ignoring retained command")
		return
	}
	cmd, err := ParseCommand(c.topics, msg.Topic(), msg.Payload())
	if err != nil {
		log.Warn().Err(err).Str("topic", msg.Topic()).Msg("bad command")
		return
	}
	select {
	case c.commands <- cmd:
	default:
		log.Warn().Str("kind", string(cmd.Kind)).Msg("command queue full, dropping")
	}
}

// publish sends a message, or queues it when the broker is unreachable.
func (c *RealClient) publish(topic string, qos byte, retained bool, payload []byte) error {
	if !c.client.IsConnectionOpen() {
		c.mu.Lock()
		c.outbox.push(pendingMsg{topic: topic, payload: payload, qos: qos, retained: retained})
		c.mu.Unlock()
		return nil
	}
	token := c.client.Publish(topic, qos, retained, payload)
	if !token.WaitTimeout(5 * time.Second) {
		return fmt.Errorf("publish %s: timeout", topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publish %s: %w", topic, err)
	}
	return nil
}

// PublishState reports the on/off attribute (QoS 1, retained).
func (c *RealClient) PublishState(on bool) error {
	return c.publish(c.topics.State, 1, true, StatePayload(on))
}

// PublishSystem sends a system lifecycle event to the MQTT broker.
func (c *RealClient) PublishSystem(event SystemEvent) error {
	payload, err := FormatSystemPayload(event)
	if err != nil {
		return fmt.Errorf("format system payload: %w", err)
	}
	return c.publish(c.topics.System, 1, event.Retained, payload)
}

// Announce publishes the retained Home Assistant discovery entry.
func (c *RealClient) Announce() error {
	payload, err := json.Marshal(c.discovery)
	if err != nil {
		return fmt.Errorf("marshal discovery: %w", err)
	}
	return c.publish(c.topics.Discovery, 1, true, payload)
}

// Withdraw clears the retained discovery entry and state.
func (c *RealClient) Withdraw() error {
	if err := c.publish(c.topics.Discovery, 1, true, []byte{}); err != nil {
		return err
	}
	return c.publish(c.topics.State, 1, true, []byte{})
}

// Commands delivers decoded inbound requests.
func (c *RealClient) Commands() <-chan Command {
	return c.commands
}

// IsConnected reports whether the broker connection is currently open.
func (c *RealClient) IsConnected() bool {
	return c.client.IsConnectionOpen()
}

// Close marks the accessory offline and disconnects from the broker.
func (c *RealClient) Close() error {
	if c.client.IsConnectionOpen() {
		t := c.client.Publish(c.topics.Availability, 1, true, PayloadOffline)
		t.WaitTimeout(2 * time.Second)
	}
	c.client.Disconnect(1000) // 1 second timeout
	return nil
}
