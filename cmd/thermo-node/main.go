// Command thermo-node samples 1-wire temperature sensors and publishes the
// readings to MQTT, with an LED that follows link state and remote commands.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/sweeney/thermo-node/internal/bridge"
	"github.com/sweeney/thermo-node/internal/config"
	"github.com/sweeney/thermo-node/internal/gpio"
	"github.com/sweeney/thermo-node/internal/indicator"
	"github.com/sweeney/thermo-node/internal/link"
	"github.com/sweeney/thermo-node/internal/logging"
	"github.com/sweeney/thermo-node/internal/logic"
	"github.com/sweeney/thermo-node/internal/mqtt"
	"github.com/sweeney/thermo-node/internal/onewire"
	"github.com/sweeney/thermo-node/internal/queue"
	"github.com/sweeney/thermo-node/internal/sampler"
	"github.com/sweeney/thermo-node/internal/status"
	"github.com/sweeney/thermo-node/internal/tsdb"
	"github.com/sweeney/thermo-node/internal/web"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

// startupTimeout bounds the wait for the first link result.
const startupTimeout = 30 * time.Second

type flags struct {
	configPath   string
	broker       string
	httpAddr     string
	logLevel     string
	printSensors bool
}

func main() {
	var f flags
	flag.StringVar(&f.configPath, "config", "", "Path to YAML config file")
	flag.StringVar(&f.broker, "broker", "", "MQTT broker address (overrides config)")
	flag.StringVar(&f.httpAddr, "http", "", `HTTP status address (overrides config, "off" disables)`)
	flag.StringVar(&f.logLevel, "log-level", "", "Log level: debug, info, warn, error")
	flag.BoolVar(&f.printSensors, "print-sensors", false, "Read every sensor once, print and exit")
	flag.Parse()

	cfg, err := loadConfig(f)
	if err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}

	logger := logging.New(cfg.Logging, os.Stderr, version)
	slog.SetDefault(logger)

	if f.printSensors {
		if err := printSensors(cfg.OneWire, os.Stdout); err != nil {
			logger.Error("print sensors failed", "error", err)
			os.Exit(1)
		}
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("fatal", "error", err)
		os.Exit(1)
	}
}

// loadConfig reads the config file, applies flag overrides and validates the
// result, so a bad override fails the same way a bad file does.
func loadConfig(f flags) (*config.Config, error) {
	cfg, err := config.Load(f.configPath)
	if err != nil {
		return nil, err
	}
	applyFlags(cfg, f)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating flags: %w", err)
	}
	return cfg, nil
}

// applyFlags lays command-line overrides on top of the loaded config.
func applyFlags(cfg *config.Config, f flags) {
	if f.broker != "" {
		cfg.MQTT.Broker = f.broker
	}
	switch f.httpAddr {
	case "":
	case "off":
		cfg.HTTP.Addr = ""
	default:
		cfg.HTTP.Addr = f.httpAddr
	}
	if f.logLevel != "" {
		cfg.Logging.Level = f.logLevel
	}
}

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	topics := mqtt.Topics{Prefix: cfg.MQTT.TopicPrefix}
	tracker := status.NewTracker(time.Now(), trackerConfig(cfg))

	// Indicator first so the LED can report link progress.
	pin, err := gpio.NewRealPin(cfg.LED.Chip, cfg.LED.Line)
	if err != nil {
		return fmt.Errorf("init led: %w", err)
	}
	defer pin.Close()

	led, err := indicator.New(pin, indicator.Config{
		OnPhase:  cfg.LED.OnPhase,
		OffPhase: cfg.LED.OffPhase,
	}, logging.Component(logger, "indicator"))
	if err != nil {
		return fmt.Errorf("init indicator: %w", err)
	}
	led.OnChange(func(s indicator.State) { tracker.SetLED(string(s)) })

	g, gctx := errgroup.WithContext(ctx)
	runWorker(gctx, g, tracker, logger, "indicator", led.Run)

	// Connectivity.
	netdev := link.NewNetdev(link.NetdevConfig{
		Interface:      cfg.Link.Interface,
		ProbeInterval:  cfg.Link.ProbeInterval,
		ConnectCommand: cfg.Link.ConnectCommand,
	}, logging.Component(logger, "netdev"))
	defer netdev.Close()

	machine := link.New(netdev, cfg.Link.ReconnectDelay, logging.Component(logger, "link"))
	machine.Subscribe(linkFollower(machine, led, tracker))
	runWorker(gctx, g, tracker, logger, "link", machine.Run)

	waitCtx, cancel := context.WithTimeout(gctx, startupTimeout)
	up, err := machine.WaitStartup(waitCtx)
	cancel()
	switch {
	case up:
		logger.Info("link up", "interface", cfg.Link.Interface, "addr", machine.Addr())
	case err != nil && ctx.Err() != nil:
		return g.Wait()
	default:
		logger.Warn("link not up at startup, continuing", "interface", cfg.Link.Interface, "error", err)
	}

	// Sampling.
	var readings *queue.Queue[logic.Reading]
	if cfg.OneWire.Enabled {
		pipeline, bus, err := openPipeline(cfg.OneWire, logging.Component(logger, "sampler"))
		switch {
		case errors.Is(err, onewire.ErrNoDevices):
			logger.Warn("no sensors found, sampling disabled")
			tracker.SetWorker("sampler", status.WorkerDisabled)
		case err != nil:
			logger.Error("sensor bus unavailable, sampling disabled", "error", err)
			tracker.SetWorker("sampler", status.WorkerDisabled)
		default:
			defer bus.Close()
			tracker.SetDevices(pipeline.Devices())
			pipeline.SetObserver(tracker)
			readings = pipeline.Queue()
			runWorker(gctx, g, tracker, logger, "sampler", pipeline.Run)
		}
	} else {
		tracker.SetWorker("sampler", status.WorkerDisabled)
	}
	tracker.SetQueueSource(func() status.QueueStats {
		return status.QueueStats{Depth: readings.Len(), Capacity: readings.Cap(), Drops: readings.Drops()}
	})

	// Session and bridge.
	sess := mqtt.NewPahoSession(mqtt.Options{
		Broker:         cfg.MQTT.Broker,
		ClientID:       cfg.MQTT.ClientID,
		Username:       cfg.MQTT.Username,
		Password:       cfg.MQTT.Password,
		Availability:   topics.Availability(),
		ConnectTimeout: cfg.MQTT.ConnectTimeout,
		PublishTimeout: cfg.MQTT.PublishTimeout,
	}, logging.Component(logger, "mqtt"))
	defer sess.Close()

	br := bridge.New(sess, readings, led.Flags(), topics, logging.Component(logger, "bridge"))
	tracker.SetPublishSource(func() status.PublishStats {
		st := br.Stats()
		return status.PublishStats{Published: st.Published, Failed: st.Failed, Dropped: st.Dropped}
	})

	if cfg.Influx.Enabled {
		db, err := tsdb.Connect(tsdb.Config{
			Enabled:       true,
			URL:           cfg.Influx.URL,
			Token:         cfg.Influx.Token,
			Org:           cfg.Influx.Org,
			Bucket:        cfg.Influx.Bucket,
			BatchSize:     cfg.Influx.BatchSize,
			FlushInterval: cfg.Influx.FlushInterval,
		})
		if err != nil {
			logger.Warn("influxdb unavailable, mirroring disabled", "error", err)
		} else {
			defer db.Close()
			db.SetOnError(func(err error) { logger.Warn("influxdb write failed", "error", err) })
			db.SetDevices(deviceNames(tracker.Snapshot().Sensors))
			br.SetSink(db)
			logger.Info("mirroring readings to influxdb", "url", cfg.Influx.URL, "bucket", cfg.Influx.Bucket)
		}
	}

	runWorker(gctx, g, tracker, logger, "bridge", br.Run)
	sess.SetHandlers(trackSession(br.Handlers(), tracker))
	if err := sess.Start(); err != nil {
		return fmt.Errorf("start mqtt session: %w", err)
	}

	// Status server.
	if cfg.HTTP.Addr != "" {
		srv := web.New(cfg.HTTP.Addr, tracker, logging.Component(logger, "http"))
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("http server error", "error", err)
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			srv.Shutdown(shutdownCtx)
		}()
		logger.Info("http status server listening", "addr", cfg.HTTP.Addr)
	}

	logger.Info("started",
		"broker", cfg.MQTT.Broker,
		"client_id", cfg.MQTT.ClientID,
		"topic_prefix", cfg.MQTT.TopicPrefix,
		"sensors", len(tracker.Snapshot().Sensors),
	)

	err = g.Wait()
	logger.Info("shutting down")
	return err
}

// runWorker starts fn in the group and records its lifecycle in tracker.
func runWorker(ctx context.Context, g *errgroup.Group, tracker *status.Tracker, logger *slog.Logger, name string, fn func(context.Context) error) {
	tracker.SetWorker(name, status.WorkerRunning)
	g.Go(func() error {
		err := fn(ctx)
		tracker.SetWorker(name, status.WorkerStopped)
		if err != nil {
			logger.Error("worker stopped", "worker", name, "error", err)
			return fmt.Errorf("%s: %w", name, err)
		}
		return nil
	})
}

// linkFollower blinks the LED while the link is not connected and restores
// the commanded steady state once it is.
func linkFollower(m *link.Machine, led *indicator.Indicator, tracker *status.Tracker) func(link.State) {
	return func(s link.State) {
		addr := ""
		if s == link.Connected {
			addr = m.Addr()
			led.Restore()
		} else {
			led.Signal(indicator.FlagBlink)
		}
		tracker.SetLink(s.String(), addr)
	}
}

// trackSession mirrors session up/down into tracker before handing the
// event to h.
func trackSession(h mqtt.Handlers, tracker *status.Tracker) mqtt.Handlers {
	return mqtt.Handlers{
		OnUp: func() {
			tracker.SetSession(bridge.Active.String())
			if h.OnUp != nil {
				h.OnUp()
			}
		},
		OnDown: func(err error) {
			tracker.SetSession(bridge.Inactive.String())
			if h.OnDown != nil {
				h.OnDown(err)
			}
		},
		OnMessage: h.OnMessage,
	}
}

func trackerConfig(cfg *config.Config) status.Config {
	return status.Config{
		Broker:           cfg.MQTT.Broker,
		ClientID:         cfg.MQTT.ClientID,
		TopicPrefix:      cfg.MQTT.TopicPrefix,
		Interface:        cfg.Link.Interface,
		HTTPAddr:         cfg.HTTP.Addr,
		Resolution:       cfg.OneWire.ResolutionBits,
		SettleMs:         cfg.OneWire.Settle.Milliseconds(),
		IntervalMs:       cfg.OneWire.UpdateInterval.Milliseconds(),
		ReconnectDelayMs: cfg.Link.ReconnectDelay.Milliseconds(),
	}
}

func samplerConfig(c config.OneWireConfig) sampler.Config {
	return sampler.Config{
		Resolution: c.ResolutionBits,
		PreDelay:   c.PreDelay,
		Settle:     c.Settle,
		Interval:   c.UpdateInterval,
	}
}

// openPipeline opens the bus and scans it. On success the caller owns the
// returned bus; on failure it has already been closed.
func openPipeline(c config.OneWireConfig, logger *slog.Logger) (*sampler.Pipeline, onewire.Bus, error) {
	bus, err := onewire.NewNetlinkBus(uint32(c.MasterID), c.MaxDevices)
	if err != nil {
		return nil, nil, fmt.Errorf("open 1-wire bus: %w", err)
	}
	p, err := newPipeline(bus, c, logger)
	if err != nil {
		return nil, nil, err
	}
	return p, bus, nil
}

// newPipeline wraps sampler.New, closing bus on any failure. sampler.New
// closes it itself when the bus is empty.
func newPipeline(bus onewire.Bus, c config.OneWireConfig, logger *slog.Logger) (*sampler.Pipeline, error) {
	p, err := sampler.New(bus, samplerConfig(c), logger)
	if err != nil && !errors.Is(err, onewire.ErrNoDevices) {
		bus.Close()
	}
	return p, err
}

func deviceNames(sensors []status.Sensor) []string {
	names := make([]string, len(sensors))
	for i, s := range sensors {
		names[i] = s.Address
	}
	return names
}

// printSensors runs one conversion and prints every sensor's raw value.
func printSensors(c config.OneWireConfig, w io.Writer) error {
	bus, err := onewire.NewNetlinkBus(uint32(c.MasterID), c.MaxDevices)
	if err != nil {
		return fmt.Errorf("open 1-wire bus: %w", err)
	}
	defer bus.Close()
	return readOnce(bus, c.ResolutionBits, c.Settle, w)
}

func readOnce(bus onewire.Bus, resolution int, settle time.Duration, w io.Writer) error {
	devices, err := bus.Discover()
	if err != nil {
		return fmt.Errorf("discover sensors: %w", err)
	}
	if len(devices) == 0 {
		return onewire.ErrNoDevices
	}
	if err := bus.SetResolution(resolution); err != nil {
		return fmt.Errorf("set resolution: %w", err)
	}
	if err := bus.ConvertAll(); err != nil {
		return fmt.Errorf("convert: %w", err)
	}
	time.Sleep(settle)

	for i, addr := range devices {
		v, err := bus.Read(addr)
		if err != nil {
			fmt.Fprintf(w, "%d %s error: %v\n", i, addr, err)
			continue
		}
		fmt.Fprintf(w, "%d %s %s\n", i, addr, mqtt.FormatTemperature(v))
	}
	return nil
}
