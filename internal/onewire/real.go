//go:build linux

package onewire

import (
	"fmt"
	"sort"
	"sync"

	"periph.io/x/conn/v3/onewire"
	"periph.io/x/devices/v3/ds18b20"
	"periph.io/x/host/v3/netlink"
)

const (
	cmdSkipROM  = 0xcc
	cmdConvertT = 0x44
)

// NetlinkBus reads DS18B20 sensors on a kernel w1 bus master.
type NetlinkBus struct {
	bus        *netlink.OneWire
	maxDevices int
	resolution int

	mu      sync.Mutex
	devices map[Address]*ds18b20.Dev
	order   []Address
}

// NewNetlinkBus opens the w1 bus master with the given id (usually 0 or 1).
// At most maxDevices sensors are used; 0 means no limit.
func NewNetlinkBus(masterID uint32, maxDevices int) (*NetlinkBus, error) {
	bus, err := netlink.New(masterID)
	if err != nil {
		return nil, fmt.Errorf("open w1 master %d: %w", masterID, err)
	}
	return &NetlinkBus{
		bus:        bus,
		maxDevices: maxDevices,
		resolution: DefaultResolution,
		devices:    make(map[Address]*ds18b20.Dev),
	}, nil
}

// Discover searches the bus for DS18B20 sensors. Addresses are sorted so
// the order is stable across restarts.
func (b *NetlinkBus) Discover() ([]Address, error) {
	found, err := b.bus.Search(false)
	if err != nil {
		return nil, fmt.Errorf("search bus: %w", err)
	}

	var addrs []Address
	for _, a := range found {
		addr := Address(a)
		if addr.Family() != FamilyDS18B20 {
			continue
		}
		addrs = append(addrs, addr)
	}
	sort.Slice(addrs, func(i, j int) bool { return addrs[i] < addrs[j] })
	if b.maxDevices > 0 && len(addrs) > b.maxDevices {
		addrs = addrs[:b.maxDevices]
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.order = addrs
	b.devices = make(map[Address]*ds18b20.Dev, len(addrs))
	for _, addr := range addrs {
		dev, err := ds18b20.New(b.bus, onewire.Address(addr), b.resolution)
		if err != nil {
			return nil, fmt.Errorf("open sensor %s: %w", addr, err)
		}
		b.devices[addr] = dev
	}
	return addrs, nil
}

// SetResolution rewrites the configuration register of every sensor.
func (b *NetlinkBus) SetResolution(bits int) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.resolution = bits
	for _, addr := range b.order {
		dev, err := ds18b20.New(b.bus, onewire.Address(addr), bits)
		if err != nil {
			return fmt.Errorf("set resolution on %s: %w", addr, err)
		}
		b.devices[addr] = dev
	}
	return nil
}

// ConvertAll broadcasts Convert T to every sensor. The caller waits for the
// conversion time before reading.
func (b *NetlinkBus) ConvertAll() error {
	if err := b.bus.Tx([]byte{cmdSkipROM, cmdConvertT}, nil, onewire.StrongPullup); err != nil {
		return fmt.Errorf("convert all: %w", err)
	}
	return nil
}

// Read returns the last converted temperature of one sensor.
func (b *NetlinkBus) Read(addr Address) (float64, error) {
	b.mu.Lock()
	dev, ok := b.devices[addr]
	b.mu.Unlock()
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrUnknownDevice, addr)
	}

	t, err := dev.LastTemp()
	if err != nil {
		return 0, fmt.Errorf("read %s: %w", addr, err)
	}
	return t.Celsius(), nil
}

// Close releases the bus master.
func (b *NetlinkBus) Close() error {
	if err := b.bus.Close(); err != nil {
		return fmt.Errorf("close w1 master: %w", err)
	}
	return nil
}
