package buttons

import (
	"fmt"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
)

// PeriphReader is the periph.io variant of RPIOReader. The periph host
// must already be initialized.
type PeriphReader struct {
	pins [NumButtons]gpio.PinIn
}

func NewPeriphReader(pins map[string]int) (*PeriphReader, error) {
	mapped, err := pinMap(pins)
	if err != nil {
		return nil, err
	}
	r := &PeriphReader{}
	for b, n := range mapped {
		if n < 0 {
			continue
		}
		pin := gpioreg.ByName(fmt.Sprintf("GPIO%d", n))
		if pin == nil {
			return nil, fmt.Errorf("failed to find GPIO%d for button %s", n, Button(b))
		}
		if err := pin.In(gpio.PullUp, gpio.NoEdge); err != nil {
			return nil, fmt.Errorf("failed to configure button %s: %w", Button(b), err)
		}
		r.pins[b] = pin
	}
	return r, nil
}

func (r *PeriphReader) Pressed(b Button) bool {
	if b < 0 || b >= NumButtons || r.pins[b] == nil {
		return false
	}
	return r.pins[b].Read() == gpio.Low
}
