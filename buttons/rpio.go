package buttons

import (
	"github.com/stianeikeland/go-rpio/v4"
)

// RPIOReader reads buttons wired between a GPIO and ground. rpio must
// already be open.
type RPIOReader struct {
	pins [NumButtons]int
}

// NewRPIOReader switches the named pins to pulled up inputs. Buttons
// without a pin never read as pressed.
func NewRPIOReader(pins map[string]int) (*RPIOReader, error) {
	mapped, err := pinMap(pins)
	if err != nil {
		return nil, err
	}
	for _, n := range mapped {
		if n < 0 {
			continue
		}
		pin := rpio.Pin(n)
		pin.Input()
		pin.PullUp()
	}
	return &RPIOReader{pins: mapped}, nil
}

func (r *RPIOReader) Pressed(b Button) bool {
	if b < 0 || b >= NumButtons || r.pins[b] < 0 {
		return false
	}
	return rpio.Pin(r.pins[b]).Read() == rpio.Low
}
