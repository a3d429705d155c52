package hardware

import (
	"errors"
	"fmt"
	"log/slog"

	"lautenbacher.net/sdcart/config"
)

// Platform is an opened SPI controller with its card pins.
type Platform struct {
	Bus     *Bus
	Host    *Host
	closers []func() error
}

// Open brings up the card slot with the given GPIO library, "rpio" or
// "periph.io".
func Open(library string, conf config.HardwareConfig) (*Platform, error) {
	var (
		p   *Platform
		err error
	)
	switch library {
	case "rpio":
		p, err = openRPIO(conf)
	case "periph.io":
		p, err = openPeriph(conf)
	default:
		return nil, fmt.Errorf("unknown GPIO library %q", library)
	}
	if err != nil {
		return nil, err
	}
	slog.Info("Card slot opened", "library", library, "cs", conf.ChipSelectPin, "detect", conf.CardDetectPin)
	return p, nil
}

// Close releases the controller and pins. It is safe to call twice.
func (p *Platform) Close() error {
	var errs []error
	for i := len(p.closers) - 1; i >= 0; i-- {
		if err := p.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	p.closers = nil
	return errors.Join(errs...)
}
