package mqtt

import (
	"fmt"
	"log/slog"
	"sync"

	paho "github.com/eclipse/paho.mqtt.golang"
)

// PahoSession is a Session backed by an MQTT 3.1.1 broker.
type PahoSession struct {
	client paho.Client
	opts   Options
	logger *slog.Logger

	mu        sync.RWMutex
	handlers  Handlers
	connected bool
}

// NewPahoSession prepares a session. Nothing is dialled until Start.
func NewPahoSession(o Options, logger *slog.Logger) *PahoSession {
	if logger == nil {
		logger = slog.Default()
	}
	s := &PahoSession{opts: o.withDefaults(), logger: logger}

	opts := buildClientOptions(s.opts)
	opts.SetOnConnectHandler(func(_ paho.Client) { s.handleConnect() })
	opts.SetConnectionLostHandler(func(_ paho.Client, err error) { s.handleDisconnect(err) })
	opts.SetReconnectingHandler(func(_ paho.Client, _ *paho.ClientOptions) {
		s.logger.Debug("reconnecting to broker")
	})
	opts.SetDefaultPublishHandler(func(_ paho.Client, msg paho.Message) {
		s.getHandlers().message(msg.Topic(), msg.Payload())
	})

	s.client = paho.NewClient(opts)
	return s
}

// SetHandlers installs the event callbacks. Call before Start.
func (s *PahoSession) SetHandlers(h Handlers) {
	s.mu.Lock()
	s.handlers = h
	s.mu.Unlock()
}

func (s *PahoSession) getHandlers() Handlers {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.handlers
}

// Start begins connecting. It does not wait for the broker: the session
// retries in the background and reports through Handlers.OnUp.
func (s *PahoSession) Start() error {
	if s.opts.Broker == "" {
		return fmt.Errorf("%w: no broker configured", ErrConnectionFailed)
	}
	token := s.client.Connect()
	go func() {
		token.Wait()
		if err := token.Error(); err != nil {
			s.logger.Error("mqtt connect", "broker", s.opts.Broker, "error", err)
		}
	}()
	s.logger.Info("mqtt session starting", "broker", s.opts.Broker, "client_id", s.opts.ClientID)
	return nil
}

func (s *PahoSession) handleConnect() {
	s.mu.Lock()
	s.connected = true
	s.mu.Unlock()

	if s.opts.Availability != "" {
		s.client.Publish(s.opts.Availability, QoSAtLeastOnce, true, PayloadOnline)
	}
	s.logger.Info("mqtt session up")
	s.getHandlers().up()
}

func (s *PahoSession) handleDisconnect(err error) {
	s.mu.Lock()
	s.connected = false
	s.mu.Unlock()

	s.logger.Warn("mqtt session lost", "error", err)
	s.getHandlers().down(err)
}

// Publish sends payload and waits up to the publish timeout for the
// acknowledgement.
func (s *PahoSession) Publish(topic string, payload []byte, qos byte, retain bool) error {
	if err := validate(topic, qos); err != nil {
		return err
	}
	if !s.IsConnected() {
		return ErrNotConnected
	}

	token := s.client.Publish(topic, qos, retain, payload)
	if !token.WaitTimeout(s.opts.PublishTimeout) {
		return fmt.Errorf("%w: %w after %v", ErrPublishFailed, ErrTimeout, s.opts.PublishTimeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("%w: %w", ErrPublishFailed, err)
	}
	return nil
}

// Subscribe routes topic to Handlers.OnMessage.
func (s *PahoSession) Subscribe(topic string, qos byte) error {
	if err := validate(topic, qos); err != nil {
		return err
	}
	if !s.IsConnected() {
		return ErrNotConnected
	}

	token := s.client.Subscribe(topic, qos, nil)
	if !token.WaitTimeout(s.opts.PublishTimeout) {
		return fmt.Errorf("%w: %w after %v", ErrSubscribeFailed, ErrTimeout, s.opts.PublishTimeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("%w: %w", ErrSubscribeFailed, err)
	}
	return nil
}

// IsConnected reports whether the session is established.
func (s *PahoSession) IsConnected() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.connected && s.client.IsConnected()
}

// Close publishes a graceful offline marker and disconnects.
func (s *PahoSession) Close() error {
	if s.IsConnected() && s.opts.Availability != "" {
		token := s.client.Publish(s.opts.Availability, QoSAtLeastOnce, true, PayloadOffline)
		token.WaitTimeout(s.opts.PublishTimeout)
	}
	s.client.Disconnect(defaultDisconnectQuiesce)

	s.mu.Lock()
	s.connected = false
	s.mu.Unlock()
	return nil
}
