// Package sampler runs the temperature sampling worker: it converts and reads
// every sensor on a bus, filters the values and queues the ones that changed.
package sampler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/sweeney/thermo-node/internal/logic"
	"github.com/sweeney/thermo-node/internal/onewire"
	"github.com/sweeney/thermo-node/internal/queue"
)

// Default timings.
const (
	DefaultPreDelay = 200 * time.Millisecond
	DefaultSettle   = 800 * time.Millisecond
	DefaultInterval = 10 * time.Second
)

// Config controls the sampling cycle.
type Config struct {
	// Resolution is the conversion resolution in bits (9..12).
	Resolution int
	// PreDelay is slept at the start of every cycle.
	PreDelay time.Duration
	// Settle is slept between ConvertAll and the first read. It must exceed
	// the conversion time for Resolution.
	Settle time.Duration
	// Interval is slept after the last read of a cycle.
	Interval time.Duration
}

// DefaultConfig returns the production timings.
func DefaultConfig() Config {
	return Config{
		Resolution: onewire.DefaultResolution,
		PreDelay:   DefaultPreDelay,
		Settle:     DefaultSettle,
		Interval:   DefaultInterval,
	}
}

// Observer is told about every raw read. Implementations must not block.
type Observer interface {
	ObserveRead(source int, addr onewire.Address, value float64, err error)
}

// Pipeline is the sampling worker for one bus. The filter state is owned by
// the goroutine running Run and is never shared.
type Pipeline struct {
	bus      onewire.Bus
	cfg      Config
	logger   *slog.Logger
	devices  []onewire.Address
	filter   *logic.Filter
	queue    *queue.Queue[logic.Reading]
	observer Observer
}

// New scans the bus and prepares a pipeline. If no sensors are found the bus
// is closed and onewire.ErrNoDevices is returned; nothing else is created.
// The outgoing queue holds one reading per sensor.
func New(bus onewire.Bus, cfg Config, logger *slog.Logger) (*Pipeline, error) {
	if logger == nil {
		logger = slog.Default()
	}

	devices, err := bus.Discover()
	if err != nil {
		return nil, fmt.Errorf("discover sensors: %w", err)
	}
	for i, addr := range devices {
		logger.Info("found sensor", "index", i, "address", addr.String())
	}
	if len(devices) == 0 {
		if err := bus.Close(); err != nil {
			logger.Warn("close bus", "error", err)
		}
		logger.Info("bus released, sampling disabled")
		return nil, onewire.ErrNoDevices
	}

	q, err := queue.New[logic.Reading](len(devices))
	if err != nil {
		return nil, fmt.Errorf("create reading queue: %w", err)
	}

	logger.Info("sensors discovered", "count", len(devices))
	return &Pipeline{
		bus:     bus,
		cfg:     cfg,
		logger:  logger,
		devices: devices,
		filter:  logic.NewFilter(len(devices)),
		queue:   q,
	}, nil
}

// Queue returns the queue readings are sent on.
func (p *Pipeline) Queue() *queue.Queue[logic.Reading] {
	return p.queue
}

// Devices returns the sensors in discovery order.
func (p *Pipeline) Devices() []onewire.Address {
	out := make([]onewire.Address, len(p.devices))
	copy(out, p.devices)
	return out
}

// SetObserver installs an observer for raw reads. Call before Run.
func (p *Pipeline) SetObserver(o Observer) {
	p.observer = o
}

// Run samples until ctx is cancelled. It returns nil on cancellation.
func (p *Pipeline) Run(ctx context.Context) error {
	p.logger.Info("sampling started", "interval", p.cfg.Interval, "resolution", p.cfg.Resolution)
	for {
		if err := p.Cycle(ctx); err != nil {
			return nil
		}
		if !sleep(ctx, p.cfg.Interval) {
			return nil
		}
	}
}

// Cycle performs one conversion and read pass over every sensor. Bus
// failures skip the cycle and are not retried. Returns ctx.Err() only if
// ctx ended during the cycle.
func (p *Pipeline) Cycle(ctx context.Context) error {
	if !sleep(ctx, p.cfg.PreDelay) {
		return ctx.Err()
	}

	if err := p.bus.SetResolution(p.cfg.Resolution); err != nil {
		p.logger.Warn("set resolution failed, skipping cycle", "error", err)
		return nil
	}
	if err := p.bus.ConvertAll(); err != nil {
		p.logger.Warn("trigger conversion failed, skipping cycle", "error", err)
		return nil
	}

	if !sleep(ctx, p.cfg.Settle) {
		return ctx.Err()
	}

	for i, addr := range p.devices {
		raw, err := p.bus.Read(addr)
		if p.observer != nil {
			p.observer.ObserveRead(i, addr, raw, err)
		}
		if err != nil {
			p.logger.Warn("read failed", "index", i, "address", addr.String(), "error", err)
			continue
		}
		p.logger.Debug("temperature", "index", i, "address", addr.String(), "celsius", raw)

		reading, changed := p.filter.Process(i, raw)
		if !changed {
			continue
		}
		if err := p.queue.TrySend(reading); err != nil {
			p.logger.Warn("failed to queue reading", "index", i, "value", reading.Value, "error", err)
		}
	}
	return nil
}

// sleep waits for d or until ctx is done. Returns false if ctx ended.
func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
