package onewire

import (
	"errors"
	"testing"
	"time"
)

const (
	addrA Address = 0x01000000000a1b28
	addrB Address = 0x02000000000c3d28
)

func TestAddressString(t *testing.T) {
	if addrA.Family() != FamilyDS18B20 {
		t.Errorf("family: got %#x, want %#x", addrA.Family(), FamilyDS18B20)
	}
	if got := addrA.String(); got != "28-000000000a1b" {
		t.Errorf("got %q", got)
	}
}

func TestConversionTime(t *testing.T) {
	tests := map[int]time.Duration{
		9:  94 * time.Millisecond,
		10: 188 * time.Millisecond,
		11: 375 * time.Millisecond,
		12: 750 * time.Millisecond,
	}
	for bits, want := range tests {
		if got := ConversionTime(bits); got != want {
			t.Errorf("%d bits: got %v, want %v", bits, got, want)
		}
	}
}

func TestFakeBusDiscover(t *testing.T) {
	f := NewFakeBus(addrA, addrB)
	got, err := f.Discover()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 2 || got[0] != addrA || got[1] != addrB {
		t.Errorf("got %v", got)
	}

	f.DiscoverError = errors.New("bus fault")
	if _, err := f.Discover(); err == nil {
		t.Error("expected error")
	}
}

func TestFakeBusRead(t *testing.T) {
	f := NewFakeBus(addrA)
	f.SetSamples(addrA, 20.0, 21.0)

	for i, want := range []float64{20.0, 21.0, 21.0} {
		got, err := f.Read(addrA)
		if err != nil {
			t.Fatalf("read %d: %v", i, err)
		}
		if got != want {
			t.Errorf("read %d: got %v, want %v", i, got, want)
		}
	}
}

func TestFakeBusReadErrors(t *testing.T) {
	f := NewFakeBus(addrA)
	if _, err := f.Read(addrA); !errors.Is(err, ErrUnknownDevice) {
		t.Errorf("expected ErrUnknownDevice, got %v", err)
	}

	f.SetSamples(addrA, 20.0)
	f.SetReadError(addrA, errors.New("crc"))
	if _, err := f.Read(addrA); err == nil {
		t.Error("expected scripted error")
	}

	f.SetReadError(addrA, nil)
	if _, err := f.Read(addrA); err != nil {
		t.Errorf("unexpected error after clearing: %v", err)
	}
}

func TestFakeBusConvertAndClose(t *testing.T) {
	f := NewFakeBus(addrA)
	f.ConvertAll()
	f.ConvertAll()
	if f.ConvertCount() != 2 {
		t.Errorf("converts: got %d, want 2", f.ConvertCount())
	}

	f.SetResolution(12)
	if f.Resolution != 12 {
		t.Errorf("resolution: got %d", f.Resolution)
	}

	f.Close()
	if !f.IsClosed() {
		t.Error("should be closed after Close()")
	}
}
