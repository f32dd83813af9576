//go:build !linux

package onewire

// NetlinkBus is not available on non-Linux platforms.
type NetlinkBus struct{}

// NewNetlinkBus returns ErrNotSupported on non-Linux platforms.
func NewNetlinkBus(masterID uint32, maxDevices int) (*NetlinkBus, error) {
	return nil, ErrNotSupported
}

// Discover is not implemented on non-Linux platforms.
func (b *NetlinkBus) Discover() ([]Address, error) { return nil, ErrNotSupported }

// SetResolution is not implemented on non-Linux platforms.
func (b *NetlinkBus) SetResolution(bits int) error { return ErrNotSupported }

// ConvertAll is not implemented on non-Linux platforms.
func (b *NetlinkBus) ConvertAll() error { return ErrNotSupported }

// Read is not implemented on non-Linux platforms.
func (b *NetlinkBus) Read(addr Address) (float64, error) { return 0, ErrNotSupported }

// Close is not implemented on non-Linux platforms.
func (b *NetlinkBus) Close() error { return nil }
