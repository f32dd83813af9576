// Package mqtt provides the pub/sub session with abstraction for testing.
package mqtt

import (
	"fmt"
	"strconv"
)

// Quality-of-service levels.
const (
	QoSAtMostOnce  byte = 0
	QoSAtLeastOnce byte = 1
	maxQoS         byte = 2
)

// Availability payloads.
const (
	PayloadOnline  = "online"
	PayloadOffline = "offline"
)

// Session is a pub/sub connection to a broker.
type Session interface {
	// Publish sends payload on topic. Failures are returned, never retried.
	Publish(topic string, payload []byte, qos byte, retain bool) error

	// Subscribe requests delivery of topic to Handlers.OnMessage.
	// Subscriptions do not survive a reconnect.
	Subscribe(topic string, qos byte) error

	// IsConnected reports whether the session is established.
	IsConnected() bool

	// Close ends the session.
	Close() error
}

// Handlers receive session events. Any field may be nil. Callbacks run on
// library goroutines and must not block.
type Handlers struct {
	OnUp      func()
	OnDown    func(err error)
	OnMessage func(topic string, payload []byte)
}

func (h Handlers) up() {
	if h.OnUp != nil {
		h.OnUp()
	}
}

func (h Handlers) down(err error) {
	if h.OnDown != nil {
		h.OnDown(err)
	}
}

func (h Handlers) message(topic string, payload []byte) {
	if h.OnMessage != nil {
		h.OnMessage(topic, payload)
	}
}

// Topics builds topic names under a fixed prefix.
type Topics struct {
	Prefix string
}

// LEDSwitch is the inbound control topic.
func (t Topics) LEDSwitch() string { return t.Prefix + "/led_switch" }

// LEDStatus is the retained LED state topic.
func (t Topics) LEDStatus() string { return t.Prefix + "/led_status" }

// Temperature is the retained reading topic for the sensor at discovery
// index n.
func (t Topics) Temperature(n int) string {
	return fmt.Sprintf("%s/temperature/device_%d", t.Prefix, n)
}

// Availability carries the retained online/offline marker.
func (t Topics) Availability() string { return t.Prefix + "/availability" }

// FormatTemperature renders a reading with exactly one fractional digit.
func FormatTemperature(v float64) []byte {
	return []byte(strconv.FormatFloat(v, 'f', 1, 64))
}

// ParseSwitch interprets a control payload. Only the single characters
// "1" and "0" are commands; ok is false for anything else.
func ParseSwitch(payload []byte) (on bool, ok bool) {
	if len(payload) != 1 {
		return false, false
	}
	switch payload[0] {
	case '1':
		return true, true
	case '0':
		return false, true
	}
	return false, false
}

// SwitchPayload is the wire form of an LED state.
func SwitchPayload(on bool) []byte {
	if on {
		return []byte("1")
	}
	return []byte("0")
}

func validate(topic string, qos byte) error {
	if topic == "" {
		return ErrInvalidTopic
	}
	if qos > maxQoS {
		return ErrInvalidQoS
	}
	return nil
}
