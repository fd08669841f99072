package mqtt

import "github.com/rs/zerolog/log"

// pendingMsg stores a serialized MQTT message for replay after reconnection.
type pendingMsg struct {
	topic    string
	payload  []byte
	qos      byte
	retained bool
}

// outbox is a bounded FIFO of messages queued while disconnected.
// A retained message replaces any queued message for the same topic, since
// the broker would only keep the last one anyway.
// Not safe for concurrent use; caller must synchronize.
type outbox struct {
	msgs     []pendingMsg
	capacity int
	overflow bool // true if any message was dropped since last drain
}

func newOutbox(capacity int) *outbox {
	if capacity <= 0 {
		capacity = 1
	}
	return &outbox{capacity: capacity}
}

func (o *outbox) push(msg pendingMsg) {
	if msg.retained {
		for i := range o.msgs {
			if o.msgs[i].retained && o.msgs[i].topic == msg.topic {
				// Keep ordering relative to other topics: drop the old copy, append the new.
				o.msgs = append(o.msgs[:i], o.msgs[i+1:]...)
				break
			}
		}
	}
	if len(o.msgs) == o.capacity {
		if !o.overflow {
			log.Warn().Int("capacity", o.capacity).Msg("mqtt: outbox full, dropping oldest")
			o.overflow = true
		}
		o.msgs = o.msgs[1:]
	}
	o.msgs = append(o.msgs, msg)
}

func (o *outbox) drainAll() []pendingMsg {
	if len(o.msgs) == 0 {
		return nil
	}
	out := o.msgs
	o.msgs = nil
	o.overflow = false
	return out
}

func (o *outbox) len() int {
	return len(o.msgs)
}
