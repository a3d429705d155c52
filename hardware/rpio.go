package hardware

import (
	"fmt"

	"github.com/stianeikeland/go-rpio/v4"

	"lautenbacher.net/sdcart/config"
)

var rpioDevices = []rpio.SpiDev{rpio.Spi0, rpio.Spi1, rpio.Spi2}

type rpioPort struct {
	dev rpio.SpiDev
}

// SpiExchange shifts in place, so the write buffer comes back holding
// the received bytes.
func (p rpioPort) Exchange(data []byte) ([]byte, error) {
	rpio.SpiExchange(data)
	return data, nil
}

func (p rpioPort) SetFrequency(hz int) error {
	rpio.SpiSpeed(hz)
	return nil
}

type rpioPin rpio.Pin

func (p rpioPin) Set(high bool) error {
	if high {
		rpio.Pin(p).High()
	} else {
		rpio.Pin(p).Low()
	}
	return nil
}

func (p rpioPin) Release(controller bool) error {
	pin := rpio.Pin(p)
	if controller {
		pin.Mode(rpio.Spi)
		return nil
	}
	pin.Output()
	pin.High()
	return nil
}

func (p rpioPin) Get() bool {
	return rpio.Pin(p).Read() == rpio.High
}

func openRPIO(conf config.HardwareConfig) (*Platform, error) {
	if err := rpio.Open(); err != nil {
		return nil, fmt.Errorf("failed to open rpio: %w", err)
	}
	dev := rpioDevices[conf.SPIDevice]
	if err := rpio.SpiBegin(dev); err != nil {
		rpio.Close()
		return nil, fmt.Errorf("failed to begin SPI%d: %w", conf.SPIDevice, err)
	}
	rpio.SpiMode(0, 0)

	var detect Sense
	if conf.CardDetectPin >= 0 {
		pin := rpio.Pin(conf.CardDetectPin)
		pin.Input()
		if conf.CardDetectActiveHigh {
			pin.PullDown()
		} else {
			pin.PullUp()
		}
		detect = rpioPin(conf.CardDetectPin)
	}

	cs := rpioPin(conf.ChipSelectPin)
	setup := func() error {
		// SpiBegin claimed the CE pins for the controller.
		return cs.Release(false)
	}

	return &Platform{
		Bus:  NewBus(rpioPort{dev: dev}, cs, conf.HardwareCS),
		Host: NewHost(detect, conf.CardDetectActiveHigh, setup),
		closers: []func() error{func() error {
			rpio.SpiEnd(dev)
			if err := rpio.Close(); err != nil {
				return fmt.Errorf("failed to close rpio: %w", err)
			}
			return nil
		}},
	}, nil
}
