// Package bridge connects the pub/sub session to the rest of the node.
//
// Session events are funnelled into one event loop, which owns the session
// state and gates a publishing worker. The worker forwards queued readings
// while the session is up; readings taken off the queue while it is down
// are dropped.
package bridge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sweeney/thermo-node/internal/flagset"
	"github.com/sweeney/thermo-node/internal/indicator"
	"github.com/sweeney/thermo-node/internal/logic"
	"github.com/sweeney/thermo-node/internal/mqtt"
	"github.com/sweeney/thermo-node/internal/queue"
)

// DefaultRetryDelay is the back-off after a failed queue receive.
const DefaultRetryDelay = time.Second

// State is the session state as seen by the bridge.
type State int

const (
	Inactive State = iota
	Active
)

func (s State) String() string {
	switch s {
	case Inactive:
		return "INACTIVE"
	case Active:
		return "ACTIVE"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Sink mirrors every forwarded reading, e.g. to a time-series store.
type Sink interface {
	WriteReading(r logic.Reading)
}

// Stats counts what the publishing worker did with received readings.
type Stats struct {
	Published uint64
	Failed    uint64
	Dropped   uint64
}

type eventKind int

const (
	eventUp eventKind = iota
	eventDown
	eventMessage
)

type event struct {
	kind    eventKind
	err     error
	topic   string
	payload []byte
}

// runnable is the worker's run/suspend bit.
const runnable flagset.Bits = 1

// Bridge owns the session state machine and the publishing worker.
type Bridge struct {
	session  mqtt.Session
	readings *queue.Queue[logic.Reading]
	led      *flagset.Set
	topics   mqtt.Topics
	logger   *slog.Logger

	events     chan event
	done       chan struct{}
	gate       *flagset.Set
	retryDelay time.Duration

	mu    sync.Mutex
	state State
	sink  Sink

	published atomic.Uint64
	failed    atomic.Uint64
	dropped   atomic.Uint64
}

// New creates a bridge. readings may be nil when sampling is disabled; the
// worker then idles with a back-off. led is the indicator's flag set.
func New(session mqtt.Session, readings *queue.Queue[logic.Reading], led *flagset.Set, topics mqtt.Topics, logger *slog.Logger) *Bridge {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bridge{
		session:    session,
		readings:   readings,
		led:        led,
		topics:     topics,
		logger:     logger,
		events:     make(chan event, 32),
		done:       make(chan struct{}),
		gate:       flagset.New(),
		retryDelay: DefaultRetryDelay,
	}
}

// SetSink installs a mirror for forwarded readings. Call before Run.
func (b *Bridge) SetSink(s Sink) {
	b.mu.Lock()
	b.sink = s
	b.mu.Unlock()
}

// Handlers returns the session callbacks that feed the event loop.
func (b *Bridge) Handlers() mqtt.Handlers {
	return mqtt.Handlers{
		OnUp:   func() { b.post(event{kind: eventUp}) },
		OnDown: func(err error) { b.post(event{kind: eventDown, err: err}) },
		OnMessage: func(topic string, payload []byte) {
			b.post(event{kind: eventMessage, topic: topic, payload: payload})
		},
	}
}

func (b *Bridge) post(ev event) {
	select {
	case b.events <- ev:
	case <-b.done:
	}
}

// State returns the session state.
func (b *Bridge) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Stats returns the worker counters.
func (b *Bridge) Stats() Stats {
	return Stats{
		Published: b.published.Load(),
		Failed:    b.failed.Load(),
		Dropped:   b.dropped.Load(),
	}
}

// Run processes session events and runs the publishing worker until ctx
// is cancelled.
func (b *Bridge) Run(ctx context.Context) error {
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		b.work(ctx)
	}()

	defer func() {
		close(b.done)
		wg.Wait()
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev := <-b.events:
			b.handle(ev)
		}
	}
}

func (b *Bridge) handle(ev event) {
	switch ev.kind {
	case eventUp:
		b.setState(Active)
		b.gate.Set(runnable)
		if err := b.session.Subscribe(b.topics.LEDSwitch(), mqtt.QoSAtMostOnce); err != nil {
			b.logger.Error("subscribe control topic", "topic", b.topics.LEDSwitch(), "error", err)
		}

	case eventDown:
		b.gate.Clear(runnable)
		b.setState(Inactive)
		if ev.err != nil {
			b.logger.Warn("session lost", "error", ev.err)
		}

	case eventMessage:
		b.handleMessage(ev.topic, ev.payload)
	}
}

func (b *Bridge) handleMessage(topic string, payload []byte) {
	if topic != b.topics.LEDSwitch() {
		b.logger.Debug("ignoring message", "topic", topic)
		return
	}
	on, ok := mqtt.ParseSwitch(payload)
	if !ok {
		b.logger.Debug("ignoring control payload", "payload", string(payload))
		return
	}

	if on {
		indicator.Signal(b.led, indicator.FlagOn)
	} else {
		indicator.Signal(b.led, indicator.FlagOff)
	}
	b.logger.Info("led command", "on", on)

	err := b.session.Publish(b.topics.LEDStatus(), mqtt.SwitchPayload(on), mqtt.QoSAtLeastOnce, true)
	if err != nil {
		b.logger.Warn("publish led status", "error", err)
	}
}

func (b *Bridge) setState(s State) {
	b.mu.Lock()
	from := b.state
	b.state = s
	b.mu.Unlock()
	if from != s {
		b.logger.Info("session state", "from", from.String(), "to", s.String())
	}
}

// work is the publishing worker.
func (b *Bridge) work(ctx context.Context) {
	for {
		if _, err := b.gate.WaitAny(ctx, runnable, false); err != nil {
			return
		}

		r, err := b.readings.Receive(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			if errors.Is(err, queue.ErrNotCreated) {
				b.logger.Debug("no reading queue, backing off")
			} else {
				b.logger.Warn("receive reading", "error", err)
			}
			if !sleep(ctx, b.retryDelay) {
				return
			}
			continue
		}

		if !b.gate.Get().Has(runnable) {
			b.dropped.Add(1)
			b.logger.Debug("session down, dropping reading", "source", r.Source, "value", r.Value)
			continue
		}
		b.forward(r)
	}
}

func (b *Bridge) forward(r logic.Reading) {
	topic := b.topics.Temperature(r.Source)
	if err := b.session.Publish(topic, mqtt.FormatTemperature(r.Value), mqtt.QoSAtLeastOnce, true); err != nil {
		b.failed.Add(1)
		b.logger.Warn("publish reading", "topic", topic, "error", err)
	} else {
		b.published.Add(1)
		b.logger.Debug("published reading", "topic", topic, "value", r.Value)
	}

	b.mu.Lock()
	sink := b.sink
	b.mu.Unlock()
	if sink != nil {
		sink.WriteReading(r)
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
