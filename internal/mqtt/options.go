package mqtt

import (
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
)

// Connection defaults.
const (
	DefaultConnectTimeout = 10 * time.Second
	DefaultPublishTimeout = 5 * time.Second

	// defaultDisconnectQuiesce is the time to wait for pending operations on disconnect.
	defaultDisconnectQuiesce = 1000 // milliseconds

	defaultKeepAlive     = 60 * time.Second
	defaultRetryInterval = 5 * time.Second
	defaultMaxReconnect  = time.Minute
)

// Options configures a PahoSession.
type Options struct {
	Broker   string // e.g. tcp://broker.local:1883
	ClientID string
	Username string
	Password string

	// Availability is the topic for the retained online/offline marker.
	// Empty disables it.
	Availability string

	ConnectTimeout time.Duration
	PublishTimeout time.Duration
}

func (o Options) withDefaults() Options {
	if o.ConnectTimeout <= 0 {
		o.ConnectTimeout = DefaultConnectTimeout
	}
	if o.PublishTimeout <= 0 {
		o.PublishTimeout = DefaultPublishTimeout
	}
	return o
}

// buildClientOptions maps Options onto paho options.
//
// Sessions are clean: subscriptions are not restored by the broker, so the
// owner re-subscribes on every OnUp. The client keeps retrying the broker on
// its own after the first attempt.
func buildClientOptions(o Options) *paho.ClientOptions {
	opts := paho.NewClientOptions().
		AddBroker(o.Broker).
		SetClientID(o.ClientID).
		SetCleanSession(true).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(defaultRetryInterval).
		SetMaxReconnectInterval(defaultMaxReconnect).
		SetConnectTimeout(o.ConnectTimeout).
		SetKeepAlive(defaultKeepAlive)

	if o.Username != "" {
		opts.SetUsername(o.Username)
		opts.SetPassword(o.Password)
	}

	// The broker publishes this if we vanish without Close.
	if o.Availability != "" {
		opts.SetWill(o.Availability, PayloadOffline, QoSAtLeastOnce, true)
	}
	return opts
}
