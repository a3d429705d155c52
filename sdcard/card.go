// Package sdcard drives an SD card in SPI mode: the power-on handshake that
// brings a card into data transfer state and single block reads.
//
// A Card is owned by a single goroutine. Every operation blocks on the bus
// and none of them may run concurrently; callers sharing a card between
// goroutines must serialize access themselves.
package sdcard

import (
	"log/slog"
	"time"
)

// State is the session state of a card.
type State int

const (
	NoCard State = iota
	PoweredOn
	Reset
	Verified
	Initialized
	Ready
	Failed
)

var stateNames = [...]string{"NoCard", "PoweredOn", "Reset", "Verified", "Initialized", "Ready", "Failed"}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "Unknown"
	}
	return stateNames[s]
}

// Limits bound every polling loop of the driver.
type Limits struct {
	R1Polls        int           // filler bytes waited for an R1
	ReadyPolls     int           // filler bytes waited for an idle line before a command
	TokenPolls     int           // filler bytes waited for a data token
	OpCondAttempts int           // APP_CMD/SD_SEND_OP_COND rounds
	OpCondInterval time.Duration // delay between two rounds
	PowerOnDelay   time.Duration // supply ramp before the first clocks
	SettleDelay    time.Duration // quiet time before switching to the fast profile
}

func DefaultLimits() Limits {
	return Limits{
		R1Polls:        8,
		ReadyPolls:     512,
		TokenPolls:     4096,
		OpCondAttempts: 1000,
		OpCondInterval: time.Millisecond,
		PowerOnDelay:   10 * time.Millisecond,
		SettleDelay:    10 * time.Millisecond,
	}
}

// Card is a session with one SD card.
type Card struct {
	bus    Bus
	host   Host
	slow   Profile
	fast   Profile
	limits Limits
	log    *slog.Logger
	state  State
	ocr    R3
}

type Option func(*Card)

func WithLimits(l Limits) Option {
	return func(c *Card) { c.limits = l }
}

func WithProfiles(slow, fast Profile) Option {
	return func(c *Card) {
		c.slow = slow
		c.fast = fast
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(c *Card) { c.log = l }
}

func New(bus Bus, host Host, opts ...Option) *Card {
	c := &Card{
		bus:    bus,
		host:   host,
		slow:   SlowProfile(DefaultSlowFrequency),
		fast:   FastProfile(DefaultFastFrequency),
		limits: DefaultLimits(),
		log:    slog.Default(),
		state:  NoCard,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Card) State() State { return c.state }

// OCR returns the READ_OCR answer of the last successful initialization.
func (c *Card) OCR() R3 { return c.ocr }
