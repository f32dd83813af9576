// Package status provides a thread-safe status tracker for the node.
// Components report into it; the HTTP server reads snapshots from it.
package status

import (
	"sort"
	"sync"
	"time"

	"github.com/sweeney/thermo-node/internal/onewire"
)

// States that make the node healthy. Kept as strings so status does not
// depend on the packages that own them.
const (
	LinkConnected = "CONNECTED"
	SessionActive = "ACTIVE"
)

// Worker states.
const (
	WorkerRunning  = "running"
	WorkerStopped  = "stopped"
	WorkerDisabled = "disabled"
)

// Config contains node configuration for display.
type Config struct {
	Broker           string
	ClientID         string
	TopicPrefix      string
	Interface        string
	HTTPAddr         string
	Resolution       int
	SettleMs         int64
	IntervalMs       int64
	ReconnectDelayMs int64
}

// Sensor is the latest raw read of one discovered sensor.
type Sensor struct {
	Index   int
	Address string
	Value   float64
	Time    time.Time // zero until the first successful read
	Err     string    // last read error, cleared by a successful read
	Reads   int
	Errors  int
}

// QueueStats describes the reading queue.
type QueueStats struct {
	Depth    int
	Capacity int
	Drops    uint64
}

// PublishStats describes what the publishing worker did.
type PublishStats struct {
	Published uint64
	Failed    uint64
	Dropped   uint64
}

// Snapshot is a point-in-time view of node state.
// It is a value type, safe to use after the lock is released.
type Snapshot struct {
	StartTime time.Time
	Now       time.Time
	Link      string
	Addr      string
	Session   string
	LED       string
	Sensors   []Sensor
	Queue     QueueStats
	Publish   PublishStats
	Workers   map[string]string
	Config    Config
}

// Uptime returns the duration since the node started.
func (s Snapshot) Uptime() time.Duration {
	return s.Now.Sub(s.StartTime)
}

// Healthy reports whether the link is up and the session is active.
func (s Snapshot) Healthy() bool {
	return s.Link == LinkConnected && s.Session == SessionActive
}

// WorkerNames returns worker names in sorted order.
func (s Snapshot) WorkerNames() []string {
	names := make([]string, 0, len(s.Workers))
	for n := range s.Workers {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Tracker holds mutable node state behind an RWMutex.
type Tracker struct {
	mu      sync.RWMutex
	snap    Snapshot
	queue   func() QueueStats
	publish func() PublishStats
}

// NewTracker creates a Tracker with the given start time and config.
func NewTracker(startTime time.Time, cfg Config) *Tracker {
	return &Tracker{
		snap: Snapshot{
			StartTime: startTime,
			Link:      "DISCONNECTED",
			Session:   "INACTIVE",
			LED:       "OFF",
			Workers:   map[string]string{},
			Config:    cfg,
		},
	}
}

// SetLink records the connectivity state and address.
func (t *Tracker) SetLink(state, addr string) {
	t.mu.Lock()
	t.snap.Link = state
	t.snap.Addr = addr
	t.mu.Unlock()
}

// SetSession records the session state.
func (t *Tracker) SetSession(state string) {
	t.mu.Lock()
	t.snap.Session = state
	t.mu.Unlock()
}

// SetLED records the indicator state.
func (t *Tracker) SetLED(state string) {
	t.mu.Lock()
	t.snap.LED = state
	t.mu.Unlock()
}

// SetWorker records a worker's run state.
func (t *Tracker) SetWorker(name, state string) {
	t.mu.Lock()
	t.snap.Workers[name] = state
	t.mu.Unlock()
}

// SetDevices records the discovered sensors in discovery order.
func (t *Tracker) SetDevices(addrs []onewire.Address) {
	sensors := make([]Sensor, len(addrs))
	for i, a := range addrs {
		sensors[i] = Sensor{Index: i, Address: a.String()}
	}
	t.mu.Lock()
	t.snap.Sensors = sensors
	t.mu.Unlock()
}

// ObserveRead records a raw read. It satisfies sampler.Observer.
func (t *Tracker) ObserveRead(source int, addr onewire.Address, value float64, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if source < 0 || source >= len(t.snap.Sensors) {
		return
	}
	s := &t.snap.Sensors[source]
	s.Address = addr.String()
	s.Reads++
	if err != nil {
		s.Errors++
		s.Err = err.Error()
		return
	}
	s.Err = ""
	s.Value = value
	s.Time = time.Now()
}

// SetQueueSource installs a function sampled on every Snapshot.
func (t *Tracker) SetQueueSource(fn func() QueueStats) {
	t.mu.Lock()
	t.queue = fn
	t.mu.Unlock()
}

// SetPublishSource installs a function sampled on every Snapshot.
func (t *Tracker) SetPublishSource(fn func() PublishStats) {
	t.mu.Lock()
	t.publish = fn
	t.mu.Unlock()
}

// Snapshot returns a point-in-time copy of the node state.
// The Now field is set to the current time at the moment of the call.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.RLock()
	s := t.snap
	s.Sensors = append([]Sensor(nil), t.snap.Sensors...)
	s.Workers = make(map[string]string, len(t.snap.Workers))
	for k, v := range t.snap.Workers {
		s.Workers[k] = v
	}
	queue, publish := t.queue, t.publish
	t.mu.RUnlock()

	if queue != nil {
		s.Queue = queue()
	}
	if publish != nil {
		s.Publish = publish()
	}
	s.Now = time.Now()
	return s
}
