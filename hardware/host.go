package hardware

import (
	"fmt"
	"time"
)

// Sense reads the level of an input pin.
type Sense interface {
	Get() bool
}

// Host implements sdcard.Host for a board with an optional card detect
// switch.
type Host struct {
	detect     Sense
	activeHigh bool
	setup      func() error
	sleep      func(time.Duration)
}

// NewHost returns a host whose card is present when detect reads
// activeHigh. A nil detect reports a card at all times. setup runs on
// ConfigurePins.
func NewHost(detect Sense, activeHigh bool, setup func() error) *Host {
	return &Host{detect: detect, activeHigh: activeHigh, setup: setup, sleep: time.Sleep}
}

func (h *Host) ConfigurePins() error {
	if h.setup == nil {
		return nil
	}
	if err := h.setup(); err != nil {
		return fmt.Errorf("failed to configure card pins: %w", err)
	}
	return nil
}

func (h *Host) CardPresent() bool {
	if h.detect == nil {
		return true
	}
	return h.detect.Get() == h.activeHigh
}

func (h *Host) Delay(d time.Duration) {
	h.sleep(d)
}
