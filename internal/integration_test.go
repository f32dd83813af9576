package internal

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/sweeney/thermo-node/internal/bridge"
	"github.com/sweeney/thermo-node/internal/gpio"
	"github.com/sweeney/thermo-node/internal/indicator"
	"github.com/sweeney/thermo-node/internal/mqtt"
	"github.com/sweeney/thermo-node/internal/onewire"
	"github.com/sweeney/thermo-node/internal/sampler"
	"github.com/sweeney/thermo-node/internal/status"
)

const (
	dev0 onewire.Address = 0x0100000000000128
	dev1 onewire.Address = 0x0200000000000228
)

var topics = mqtt.Topics{Prefix: "home/shed"}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

// node is the sampling, bridge and indicator wiring of the daemon built
// on fakes.
type node struct {
	bus      *onewire.FakeBus
	pipeline *sampler.Pipeline
	session  *mqtt.FakeSession
	bridge   *bridge.Bridge
	pin      *gpio.FakePin
	led      *indicator.Indicator
	tracker  *status.Tracker
}

func newNode(t *testing.T, devices ...onewire.Address) *node {
	t.Helper()
	n := &node{
		bus:     onewire.NewFakeBus(devices...),
		session: mqtt.NewFakeSession(),
		pin:     gpio.NewFakePin(),
		tracker: status.NewTracker(time.Now(), status.Config{TopicPrefix: topics.Prefix}),
	}

	var err error
	n.pipeline, err = sampler.New(n.bus, sampler.Config{Resolution: 12}, quietLogger())
	if err != nil {
		t.Fatalf("sampler: %v", err)
	}
	n.tracker.SetDevices(n.pipeline.Devices())
	n.pipeline.SetObserver(n.tracker)

	n.led, err = indicator.New(n.pin, indicator.DefaultConfig(), quietLogger())
	if err != nil {
		t.Fatalf("indicator: %v", err)
	}
	n.led.OnChange(func(s indicator.State) { n.tracker.SetLED(string(s)) })

	n.bridge = bridge.New(n.session, n.pipeline.Queue(), n.led.Flags(), topics, quietLogger())
	n.session.SetHandlers(n.bridge.Handlers())

	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	wg.Add(2)
	go func() { defer wg.Done(); n.bridge.Run(ctx) }()
	go func() { defer wg.Done(); n.led.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		wg.Wait()
	})
	return n
}

func (n *node) up(t *testing.T) {
	t.Helper()
	n.session.Up()
	eventually(t, "session active", func() bool { return n.bridge.State() == bridge.Active })
}

func (n *node) cycle(t *testing.T) {
	t.Helper()
	if err := n.pipeline.Cycle(context.Background()); err != nil {
		t.Fatalf("cycle: %v", err)
	}
}

func payloads(pubs []mqtt.Published) []string {
	out := make([]string, len(pubs))
	for i, p := range pubs {
		out[i] = string(p.Payload)
	}
	return out
}

// TestIntegrationReadingsReachBroker runs several cycles and checks that only
// averaged values that moved past the threshold are published, retained.
func TestIntegrationReadingsReachBroker(t *testing.T) {
	n := newNode(t, dev0, dev1)
	n.bus.SetSamples(dev0, 21.0, 21.0, 23.0)
	n.bus.SetSamples(dev1, 18.5)
	n.up(t)

	n.cycle(t)
	eventually(t, "first readings", func() bool { return len(n.session.Published()) >= 2 })
	n.cycle(t)
	n.cycle(t)
	eventually(t, "three publishes", func() bool { return len(n.session.Published()) >= 3 })
	time.Sleep(20 * time.Millisecond)

	dev0Pubs := n.session.PublishedTo(topics.Temperature(0))
	if got := payloads(dev0Pubs); len(got) != 2 || got[0] != "21.0" || got[1] != "21.7" {
		t.Errorf("device_0 payloads: got %v, want [21.0 21.7]", got)
	}
	dev1Pubs := n.session.PublishedTo(topics.Temperature(1))
	if got := payloads(dev1Pubs); len(got) != 1 || got[0] != "18.5" {
		t.Errorf("device_1 payloads: got %v, want [18.5]", got)
	}
	for _, p := range n.session.Published() {
		if p.QoS != mqtt.QoSAtLeastOnce || !p.Retain {
			t.Errorf("reading published with qos=%d retain=%v", p.QoS, p.Retain)
		}
	}
	if st := n.bridge.Stats(); st.Published != 3 || st.Failed != 0 {
		t.Errorf("stats: %+v", st)
	}

	snap := n.tracker.Snapshot()
	if snap.Sensors[0].Reads != 3 || snap.Sensors[0].Value != 23.0 {
		t.Errorf("tracker sensor 0: %+v", snap.Sensors[0])
	}
}

// TestIntegrationReadingsHeldWhileOffline queues readings while the session
// is down and publishes them once it comes up.
func TestIntegrationReadingsHeldWhileOffline(t *testing.T) {
	n := newNode(t, dev0)
	n.bus.SetSamples(dev0, 19.0)

	n.cycle(t)
	time.Sleep(20 * time.Millisecond)
	if len(n.session.Published()) != 0 {
		t.Fatal("published while offline")
	}
	if n.pipeline.Queue().Len() != 1 {
		t.Fatalf("queue depth: got %d, want 1", n.pipeline.Queue().Len())
	}

	n.up(t)
	eventually(t, "held reading published", func() bool {
		return len(n.session.PublishedTo(topics.Temperature(0))) == 1
	})
	if n.pipeline.Queue().Len() != 0 {
		t.Errorf("queue not drained: %d", n.pipeline.Queue().Len())
	}
}

// TestIntegrationFullQueueRejectsNewReadings fills the single-slot queue
// while offline; the newer reading is lost and counted.
func TestIntegrationFullQueueRejectsNewReadings(t *testing.T) {
	n := newNode(t, dev0)
	n.bus.SetSamples(dev0, 10.0, 30.0)

	n.cycle(t)
	n.cycle(t)
	if drops := n.pipeline.Queue().Drops(); drops != 1 {
		t.Fatalf("drops: got %d, want 1", drops)
	}

	n.up(t)
	eventually(t, "publish", func() bool { return len(n.session.Published()) >= 1 })
	time.Sleep(20 * time.Millisecond)
	if got := payloads(n.session.Published()); len(got) != 1 || got[0] != "10.0" {
		t.Errorf("payloads: got %v, want [10.0]", got)
	}
}

// TestIntegrationControlDrivesLED sends switch commands through the broker
// and checks the pin and the retained status echo.
func TestIntegrationControlDrivesLED(t *testing.T) {
	n := newNode(t, dev0)
	n.up(t)

	subs := n.session.Subscriptions()
	if len(subs) != 1 || subs[0].Topic != topics.LEDSwitch() {
		t.Fatalf("subscriptions: %+v", subs)
	}

	n.session.Deliver(topics.LEDSwitch(), []byte("1"))
	eventually(t, "pin high", func() bool {
		on, ok := n.pin.Current()
		return ok && on
	})
	eventually(t, "tracker led on", func() bool { return n.tracker.Snapshot().LED == "ON" })

	n.session.Deliver(topics.LEDSwitch(), []byte("on")) // ignored
	n.session.Deliver(topics.LEDSwitch(), []byte("0"))
	eventually(t, "pin low", func() bool {
		on, ok := n.pin.Current()
		return ok && !on
	})

	eventually(t, "two status echoes", func() bool { return len(n.session.PublishedTo(topics.LEDStatus())) == 2 })
	echoes := n.session.PublishedTo(topics.LEDStatus())
	if got := payloads(echoes); got[0] != "1" || got[1] != "0" {
		t.Errorf("status payloads: got %v, want [1 0]", got)
	}
	if !echoes[0].Retain {
		t.Error("status echo should be retained")
	}
}

// TestIntegrationPublishFailureDoesNotStall keeps sampling after a failed
// publish and delivers later readings once the broker recovers.
func TestIntegrationPublishFailureDoesNotStall(t *testing.T) {
	n := newNode(t, dev0)
	n.bus.SetSamples(dev0, 15.0, 25.0)
	n.up(t)

	n.session.SetPublishError(errors.New("broker rejected"))
	n.cycle(t)
	eventually(t, "failure counted", func() bool { return n.bridge.Stats().Failed == 1 })

	n.session.SetPublishError(nil)
	n.cycle(t)
	eventually(t, "recovery publish", func() bool { return len(n.session.PublishedTo(topics.Temperature(0))) == 1 })
}

// TestIntegrationReadErrorVisibleInStatus checks a failing sensor reaches
// the status snapshot without producing a publish.
func TestIntegrationReadErrorVisibleInStatus(t *testing.T) {
	n := newNode(t, dev0, dev1)
	n.bus.SetSamples(dev0, 20.0)
	n.bus.SetReadError(dev1, errors.New("crc mismatch"))
	n.up(t)

	n.cycle(t)
	eventually(t, "publish", func() bool { return len(n.session.Published()) >= 1 })
	time.Sleep(20 * time.Millisecond)

	if len(n.session.PublishedTo(topics.Temperature(1))) != 0 {
		t.Error("failed sensor was published")
	}
	s1 := n.tracker.Snapshot().Sensors[1]
	if s1.Err != "crc mismatch" || s1.Errors != 1 {
		t.Errorf("sensor 1 status: %+v", s1)
	}
}
