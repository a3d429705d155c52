package hardware

import (
	"errors"
	"fmt"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/conn/v3/spi"
	"periph.io/x/conn/v3/spi/spireg"
	"periph.io/x/host/v3"

	"lautenbacher.net/sdcart/config"
)

var errNotConnected = errors.New("SPI port not connected")

// periphPort reopens the port on every mode or frequency change since a
// spidev port can only be connected once.
type periphPort struct {
	name string
	port spi.PortCloser
	conn spi.Conn
	freq physic.Frequency
	noCS bool
	rx   [1]byte
}

func (p *periphPort) connect() error {
	if p.port != nil {
		p.port.Close()
		p.port, p.conn = nil, nil
	}
	port, err := spireg.Open(p.name)
	if err != nil {
		return fmt.Errorf("failed to open SPI port %s: %w", p.name, err)
	}
	mode := spi.Mode0
	if p.noCS {
		mode |= spi.NoCS
	}
	conn, err := port.Connect(p.freq, mode, 8)
	if err != nil {
		port.Close()
		return fmt.Errorf("failed to connect SPI port %s: %w", p.name, err)
	}
	p.port, p.conn = port, conn
	return nil
}

func (p *periphPort) Exchange(write []byte) ([]byte, error) {
	if p.conn == nil {
		return nil, errNotConnected
	}
	read := p.rx[:]
	if len(write) != len(read) {
		read = make([]byte, len(write))
	}
	if err := p.conn.Tx(write, read); err != nil {
		return nil, err
	}
	return read, nil
}

func (p *periphPort) SetFrequency(hz int) error {
	freq := physic.Frequency(hz) * physic.Hertz
	if p.conn != nil && freq == p.freq {
		return nil
	}
	p.freq = freq
	return p.connect()
}

func (p *periphPort) Close() error {
	if p.port == nil {
		return nil
	}
	err := p.port.Close()
	p.port, p.conn = nil, nil
	return err
}

type periphPin struct {
	pin  gpio.PinIO
	port *periphPort
}

func (p periphPin) Set(high bool) error {
	return p.pin.Out(gpio.Level(high))
}

// Release lets the spidev chip select line take over. The GPIO floats
// while the controller drives the card.
func (p periphPin) Release(controller bool) error {
	var err error
	if controller {
		err = p.pin.In(gpio.Float, gpio.NoEdge)
	} else {
		err = p.pin.Out(gpio.High)
	}
	if err != nil {
		return err
	}
	p.port.noCS = !controller
	if p.port.conn == nil {
		return nil
	}
	return p.port.connect()
}

func (p periphPin) Get() bool {
	return p.pin.Read() == gpio.High
}

func periphGPIO(n int) (gpio.PinIO, error) {
	pin := gpioreg.ByName(fmt.Sprintf("GPIO%d", n))
	if pin == nil {
		return nil, fmt.Errorf("failed to find GPIO%d", n)
	}
	return pin, nil
}

func openPeriph(conf config.HardwareConfig) (*Platform, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("failed to initialize periph host: %w", err)
	}
	port := &periphPort{name: conf.SPIPort, noCS: true}

	csPin, err := periphGPIO(conf.ChipSelectPin)
	if err != nil {
		return nil, err
	}
	cs := periphPin{pin: csPin, port: port}

	var detect Sense
	if conf.CardDetectPin >= 0 {
		pin, err := periphGPIO(conf.CardDetectPin)
		if err != nil {
			return nil, err
		}
		pull := gpio.PullUp
		if conf.CardDetectActiveHigh {
			pull = gpio.PullDown
		}
		if err := pin.In(pull, gpio.NoEdge); err != nil {
			return nil, fmt.Errorf("failed to configure card detect GPIO%d: %w", conf.CardDetectPin, err)
		}
		detect = periphPin{pin: pin, port: port}
	}

	setup := func() error {
		return cs.Set(true)
	}

	return &Platform{
		Bus:     NewBus(port, cs, conf.HardwareCS),
		Host:    NewHost(detect, conf.CardDetectActiveHigh, setup),
		closers: []func() error{port.Close},
	}, nil
}
