package link

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os/exec"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// DefaultProbeInterval is how often a Netdev checks its interface.
const DefaultProbeInterval = 2 * time.Second

// connectTimeout bounds the optional connect command.
const connectTimeout = 30 * time.Second

var (
	// ErrInterfaceDown means the interface exists but is administratively down.
	ErrInterfaceDown = errors.New("link: interface down")

	// ErrNoAddress means the interface is up but has no IPv4 address yet.
	ErrNoAddress = errors.New("link: no ipv4 address")

	// ErrNoCommand means the connect command is set but holds no program.
	ErrNoCommand = errors.New("link: connect command is blank")
)

// NetdevConfig configures a Netdev driver.
type NetdevConfig struct {
	Interface      string
	ProbeInterval  time.Duration
	ConnectCommand string // optional, e.g. "wpa_cli -i wlan0 reconnect"
}

// Netdev watches a host network interface. The link is up while the
// interface is up and holds an IPv4 address.
type Netdev struct {
	cfg    NetdevConfig
	logger *slog.Logger
	lookup func(name string) (string, error)

	events  chan<- Event
	running atomic.Bool // connect command in flight

	kick chan struct{}
	done chan struct{}
	once sync.Once
	wg   sync.WaitGroup
}

// NewNetdev creates a driver for the named interface.
func NewNetdev(cfg NetdevConfig, logger *slog.Logger) *Netdev {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.ProbeInterval <= 0 {
		cfg.ProbeInterval = DefaultProbeInterval
	}
	return &Netdev{
		cfg:    cfg,
		logger: logger,
		lookup: interfaceAddr,
		kick:   make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
}

// Start begins probing and reports EventStarted.
func (n *Netdev) Start(events chan<- Event) error {
	if n.cfg.Interface == "" {
		return errors.New("link: no interface configured")
	}
	n.events = events
	n.wg.Add(1)
	go n.loop(events)
	return nil
}

// Connect schedules an immediate interface check whose result is always
// reported.
// With a connect command configured, the command runs in the background
// first; a failure is reported as EventDown and the check still follows.
// Connect never blocks the caller on the command.
func (n *Netdev) Connect() error {
	if n.cfg.ConnectCommand == "" {
		n.checkNow()
		return nil
	}
	args := strings.Fields(n.cfg.ConnectCommand)
	if len(args) == 0 {
		return ErrNoCommand
	}
	if !n.running.CompareAndSwap(false, true) {
		n.logger.Debug("connect command still running")
		return nil
	}

	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		defer n.running.Store(false)
		if err := n.runCommand(args); err != nil && n.events != nil {
			if !n.send(n.events, Event{Kind: EventDown, Reason: err.Error()}) {
				return
			}
		}
		n.checkNow()
	}()
	return nil
}

func (n *Netdev) checkNow() {
	select {
	case n.kick <- struct{}{}:
	default:
	}
}

// Close stops polling and kills a running connect command.
func (n *Netdev) Close() error {
	n.once.Do(func() { close(n.done) })
	n.wg.Wait()
	return nil
}

// runCommand runs args, killing the process on timeout or Close.
func (n *Netdev) runCommand(args []string) error {
	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()
	go func() {
		select {
		case <-n.done:
			cancel()
		case <-ctx.Done():
		}
	}()

	out, err := exec.CommandContext(ctx, args[0], args[1:]...).CombinedOutput()
	if err != nil {
		return fmt.Errorf("connect command %q: %w: %s", args[0], err, strings.TrimSpace(string(out)))
	}
	n.logger.Debug("connect command", "output", strings.TrimSpace(string(out)))
	return nil
}

func (n *Netdev) loop(events chan<- Event) {
	defer n.wg.Done()

	if !n.send(events, Event{Kind: EventStarted}) {
		return
	}

	ticker := time.NewTicker(n.cfg.ProbeInterval)
	defer ticker.Stop()

	known, up := false, false
	for {
		force := false
		select {
		case <-n.done:
			return
		case <-ticker.C:
		case <-n.kick:
			force = true
		}

		addr, err := n.lookup(n.cfg.Interface)
		nowUp := err == nil
		if known && nowUp == up && !force {
			continue
		}
		known, up = true, nowUp

		ev := Event{Kind: EventUp, Addr: addr}
		if !nowUp {
			ev = Event{Kind: EventDown, Reason: err.Error()}
		}
		if !n.send(events, ev) {
			return
		}
	}
}

func (n *Netdev) send(events chan<- Event, ev Event) bool {
	select {
	case events <- ev:
		return true
	case <-n.done:
		return false
	}
}

// interfaceAddr returns the first IPv4 address of an up interface.
func interfaceAddr(name string) (string, error) {
	iface, err := net.InterfaceByName(name)
	if err != nil {
		return "", fmt.Errorf("lookup %s: %w", name, err)
	}
	if iface.Flags&net.FlagUp == 0 {
		return "", fmt.Errorf("%s: %w", name, ErrInterfaceDown)
	}
	addrs, err := iface.Addrs()
	if err != nil {
		return "", fmt.Errorf("addresses of %s: %w", name, err)
	}
	for _, a := range addrs {
		ipnet, ok := a.(*net.IPNet)
		if !ok {
			continue
		}
		if ip4 := ipnet.IP.To4(); ip4 != nil && !ip4.IsLoopback() {
			return ip4.String(), nil
		}
	}
	return "", fmt.Errorf("%s: %w", name, ErrNoAddress)
}
