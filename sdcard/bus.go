package sdcard

import "time"

// Profile is a bus clock configuration. The slow profile is used for the
// initialization handshake only, the fast one for everything after it.
type Profile struct {
	Name       string
	Frequency  int // Hz
	HardwareCS bool
}

const (
	DefaultSlowFrequency = 280_000   // 36 MHz / 128, inside the 100-400 kHz init window
	DefaultFastFrequency = 1_125_000 // 36 MHz / 32
)

func SlowProfile(freq int) Profile {
	return Profile{Name: "slow", Frequency: freq}
}

func FastProfile(freq int) Profile {
	return Profile{Name: "fast", Frequency: freq, HardwareCS: true}
}

// Bus is the byte-level SPI transport the card is wired to.
//
// SPI is full duplex: Write shifts a byte out and one in at the same time,
// and Read returns the byte shifted in by the most recent Write. Write must
// not return before the transfer completed.
type Bus interface {
	Write(b byte) error
	Read() byte
	// SetChipSelect drives the software chip-select line. Active means
	// electrically low.
	SetChipSelect(active bool) error
	Configure(p Profile) error
}

// Host bundles the platform collaborators that are not part of the bus.
type Host interface {
	// ConfigurePins is called once per initialization before the bus is used.
	ConfigurePins() error
	CardPresent() bool
	Delay(d time.Duration)
}
