package hardware

import (
	"fmt"
	"log/slog"

	"lautenbacher.net/sdcart/sdcard"
)

// Port exchanges bytes full duplex with an SPI controller. The returned
// slice holds the bytes shifted in while write was shifted out.
type Port interface {
	Exchange(write []byte) ([]byte, error)
	SetFrequency(hz int) error
}

// ChipSelect drives the card's active low chip select line.
type ChipSelect interface {
	Set(high bool) error
	// Release hands the line to the SPI controller, or takes it back
	// as a high output when controller is false.
	Release(controller bool) error
}

// Bus implements sdcard.Bus one byte per exchange.
type Bus struct {
	port    Port
	cs      ChipSelect
	allowHW bool
	hwCS    bool
	profile sdcard.Profile
	out     [1]byte
	last    byte
}

// NewBus returns a bus on port with chip select on cs. With hardwareCS
// set, profiles asking for hardware chip select get it.
func NewBus(port Port, cs ChipSelect, hardwareCS bool) *Bus {
	return &Bus{port: port, cs: cs, allowHW: hardwareCS, last: 0xFF}
}

func (b *Bus) Write(v byte) error {
	b.out[0] = v
	in, err := b.port.Exchange(b.out[:])
	if err != nil {
		return fmt.Errorf("failed to exchange SPI byte: %w", err)
	}
	b.last = 0xFF
	if len(in) > 0 {
		b.last = in[0]
	}
	return nil
}

func (b *Bus) Read() byte {
	return b.last
}

func (b *Bus) SetChipSelect(active bool) error {
	if b.hwCS {
		return nil
	}
	if err := b.cs.Set(!active); err != nil {
		return fmt.Errorf("failed to drive chip select: %w", err)
	}
	return nil
}

func (b *Bus) Configure(p sdcard.Profile) error {
	if err := b.port.SetFrequency(p.Frequency); err != nil {
		return fmt.Errorf("failed to set SPI frequency to %d Hz: %w", p.Frequency, err)
	}
	controller := p.HardwareCS && b.allowHW
	if controller != b.hwCS {
		if err := b.cs.Release(controller); err != nil {
			return fmt.Errorf("failed to switch chip select mode: %w", err)
		}
		b.hwCS = controller
	}
	if p.HardwareCS && !controller {
		slog.Debug("Keeping chip select on GPIO", "profile", p.Name)
	}
	b.profile = p
	slog.Info("SPI bus configured", "profile", p.Name, "frequency", p.Frequency, "hardwareCS", controller)
	return nil
}

// Profile returns the last profile applied with Configure.
func (b *Bus) Profile() sdcard.Profile {
	return b.profile
}
