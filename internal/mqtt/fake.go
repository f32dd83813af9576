package mqtt

import "sync"

// Published is one message recorded by FakeSession.
type Published struct {
	Topic   string
	Payload []byte
	QoS     byte
	Retain  bool
}

// Subscription is one subscribe request recorded by FakeSession.
type Subscription struct {
	Topic string
	QoS   byte
}

// FakeSession records publishes and subscriptions for test assertions.
// Up, Down and Deliver drive the installed Handlers synchronously.
type FakeSession struct {
	mu            sync.Mutex
	handlers      Handlers
	connected     bool
	closed        bool
	published     []Published
	subscriptions []Subscription

	// PublishError, if set, will be returned by Publish (nothing recorded).
	PublishError error

	// SubscribeError, if set, will be returned by Subscribe.
	SubscribeError error
}

// NewFakeSession creates a disconnected FakeSession.
func NewFakeSession() *FakeSession {
	return &FakeSession{}
}

// SetHandlers installs the event callbacks.
func (f *FakeSession) SetHandlers(h Handlers) {
	f.mu.Lock()
	f.handlers = h
	f.mu.Unlock()
}

// Up marks the session connected and fires OnUp.
func (f *FakeSession) Up() {
	f.mu.Lock()
	f.connected = true
	h := f.handlers
	f.mu.Unlock()
	h.up()
}

// Down marks the session disconnected and fires OnDown.
func (f *FakeSession) Down(err error) {
	f.mu.Lock()
	f.connected = false
	h := f.handlers
	f.mu.Unlock()
	h.down(err)
}

// Deliver fires OnMessage as if the broker sent a message.
func (f *FakeSession) Deliver(topic string, payload []byte) {
	f.mu.Lock()
	h := f.handlers
	f.mu.Unlock()
	h.message(topic, payload)
}

// SetPublishError changes PublishError while the session is in use.
func (f *FakeSession) SetPublishError(err error) {
	f.mu.Lock()
	f.PublishError = err
	f.mu.Unlock()
}

// Publish records the message.
func (f *FakeSession) Publish(topic string, payload []byte, qos byte, retain bool) error {
	if err := validate(topic, qos); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.connected {
		return ErrNotConnected
	}
	if f.PublishError != nil {
		return f.PublishError
	}
	p := make([]byte, len(payload))
	copy(p, payload)
	f.published = append(f.published, Published{Topic: topic, Payload: p, QoS: qos, Retain: retain})
	return nil
}

// Subscribe records the subscription.
func (f *FakeSession) Subscribe(topic string, qos byte) error {
	if err := validate(topic, qos); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.connected {
		return ErrNotConnected
	}
	if f.SubscribeError != nil {
		return f.SubscribeError
	}
	f.subscriptions = append(f.subscriptions, Subscription{Topic: topic, QoS: qos})
	return nil
}

// IsConnected reports the injected connection state.
func (f *FakeSession) IsConnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

// Close marks the session closed.
func (f *FakeSession) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	f.connected = false
	return nil
}

// Closed reports whether Close was called.
func (f *FakeSession) Closed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

// Published returns a copy of every recorded publish.
func (f *FakeSession) Published() []Published {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Published(nil), f.published...)
}

// PublishedTo returns the recorded publishes on topic.
func (f *FakeSession) PublishedTo(topic string) []Published {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []Published
	for _, p := range f.published {
		if p.Topic == topic {
			out = append(out, p)
		}
	}
	return out
}

// Subscriptions returns a copy of every recorded subscription.
func (f *FakeSession) Subscriptions() []Subscription {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Subscription(nil), f.subscriptions...)
}

// Reset clears recorded messages and injected errors.
func (f *FakeSession) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.published = nil
	f.subscriptions = nil
	f.PublishError = nil
	f.SubscribeError = nil
}
