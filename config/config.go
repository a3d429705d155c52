package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"golang.org/x/exp/slices"
	"gopkg.in/yaml.v3"
)

const CONFILE = "config.yml"

var (
	platforms    = []string{"rpio", "periph.io", "sim"}
	buttonNames  = []string{"Left", "Up", "Down", "Right", "A", "B"}
	logLevels    = []string{"DEBUG", "INFO", "WARN", "ERROR"}
	logFormats   = []string{"text", "json"}
	maxGPIO      = 27
	minSlowFreq  = 100_000
	maxSlowFreq  = 400_000
	maxFastFreq  = 50_000_000
	maxSPIDevice = 2
)

type Config struct {
	Platform   string           `yaml:"Platform"`
	Hardware   HardwareConfig   `yaml:"Hardware"`
	Card       CardConfig       `yaml:"Card"`
	Simulation SimulationConfig `yaml:"Simulation"`
	Logging    LoggingConfig    `yaml:"Logging"`
}

type HardwareConfig struct {
	SPIDevice     int    `yaml:"SPIDevice"` // rpio: SPI controller 0..2
	SPIPort       string `yaml:"SPIPort"`   // periph.io: spireg port name
	ChipSelectPin int    `yaml:"ChipSelectPin"`
	// CardDetectPin is the card sense input, -1 when the slot has none.
	CardDetectPin        int  `yaml:"CardDetectPin"`
	CardDetectActiveHigh bool `yaml:"CardDetectActiveHigh"`
	// HardwareCS hands chip select to the SPI controller once the card
	// is initialized. Only safe with controllers that keep CS asserted
	// between single byte exchanges. Unsafe when ChipSelectPin is a line
	// the kernel already drives through a cs-gpios overlay: periph.io
	// floats that GPIO on handoff and fights the kernel for it.
	HardwareCS    bool           `yaml:"HardwareCS"`
	SlowFrequency int            `yaml:"SlowFrequency"`
	FastFrequency int            `yaml:"FastFrequency"`
	Buttons       map[string]int `yaml:"Buttons"`
	ButtonPoll    time.Duration  `yaml:"ButtonPoll"`
}

type CardConfig struct {
	R1Polls        int           `yaml:"R1Polls"`
	ReadyPolls     int           `yaml:"ReadyPolls"`
	TokenPolls     int           `yaml:"TokenPolls"`
	OpCondAttempts int           `yaml:"OpCondAttempts"`
	OpCondInterval time.Duration `yaml:"OpCondInterval"`
	PowerOnDelay   time.Duration `yaml:"PowerOnDelay"`
	SettleDelay    time.Duration `yaml:"SettleDelay"`
}

type SimulationConfig struct {
	// Image is served as card content. Empty means a blank card of
	// Blocks blocks.
	Image           string `yaml:"Image"`
	Blocks          uint32 `yaml:"Blocks"`
	HighCapacity    bool   `yaml:"HighCapacity"`
	OpCondRounds    int    `yaml:"OpCondRounds"`
	ResponseLatency int    `yaml:"ResponseLatency"`
	TokenLatency    int    `yaml:"TokenLatency"`
	TraceSize       int    `yaml:"TraceSize"`
	Watch           bool   `yaml:"Watch"`
}

type LoggingConfig struct {
	Level  string `yaml:"Level"`
	Format string `yaml:"Format"`
	File   string `yaml:"File"`
}

// Default returns the configuration used for everything a config file
// leaves out.
func Default() Config {
	return Config{
		Platform: "rpio",
		Hardware: HardwareConfig{
			SPIPort:              "/dev/spidev0.0",
			ChipSelectPin:        8,
			CardDetectPin:        -1,
			CardDetectActiveHigh: true,
			SlowFrequency:        280_000,
			FastFrequency:        1_125_000,
			Buttons:              map[string]int{},
			ButtonPoll:           20 * time.Millisecond,
		},
		Card: CardConfig{
			R1Polls:        8,
			ReadyPolls:     512,
			TokenPolls:     4096,
			OpCondAttempts: 1000,
			OpCondInterval: time.Millisecond,
			PowerOnDelay:   10 * time.Millisecond,
			SettleDelay:    10 * time.Millisecond,
		},
		Simulation: SimulationConfig{
			Blocks:          2048,
			HighCapacity:    true,
			OpCondRounds:    2,
			ResponseLatency: 1,
			TokenLatency:    4,
			TraceSize:       1024,
		},
		Logging: LoggingConfig{
			Level:  "INFO",
			Format: "text",
		},
	}
}

func ReadConfig(cfile string) (*Config, error) {
	f, err := os.Open(cfile)
	if err != nil {
		return nil, fmt.Errorf("can't find config file %s: %w", cfile, err)
	}
	defer f.Close()

	conf := Default()
	decoder := yaml.NewDecoder(f)
	decoder.KnownFields(true)
	if err := decoder.Decode(&conf); err != nil {
		return nil, fmt.Errorf("can't decode config file %s: %w", cfile, err)
	}
	if err := conf.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config file %s: %w", cfile, err)
	}
	return &conf, nil
}

func (c *Config) Validate() error {
	if !slices.Contains(platforms, c.Platform) {
		return fmt.Errorf("Platform must be one of %s, got %q", strings.Join(platforms, ", "), c.Platform)
	}
	if err := c.Hardware.validate(); err != nil {
		return err
	}
	if err := c.Card.validate(); err != nil {
		return err
	}
	if c.Platform == "sim" {
		if err := c.Simulation.validate(c.Card.R1Polls); err != nil {
			return err
		}
	}
	return c.Logging.validate()
}

func checkRange(name string, v, min, max int) error {
	if v < min || v > max {
		return fmt.Errorf("%s must be between %d and %d, got %d", name, min, max, v)
	}
	return nil
}

func (h *HardwareConfig) validate() error {
	if err := checkRange("Hardware.SPIDevice", h.SPIDevice, 0, maxSPIDevice); err != nil {
		return err
	}
	if err := checkRange("Hardware.ChipSelectPin", h.ChipSelectPin, 0, maxGPIO); err != nil {
		return err
	}
	if err := checkRange("Hardware.CardDetectPin", h.CardDetectPin, -1, maxGPIO); err != nil {
		return err
	}
	if err := checkRange("Hardware.SlowFrequency", h.SlowFrequency, minSlowFreq, maxSlowFreq); err != nil {
		return err
	}
	if err := checkRange("Hardware.FastFrequency", h.FastFrequency, h.SlowFrequency, maxFastFreq); err != nil {
		return err
	}
	if h.ButtonPoll <= 0 {
		return fmt.Errorf("Hardware.ButtonPoll must be positive, got %s", h.ButtonPoll)
	}

	used := map[int]string{h.ChipSelectPin: "ChipSelectPin"}
	if h.CardDetectPin >= 0 {
		if other, dup := used[h.CardDetectPin]; dup {
			return fmt.Errorf("Hardware.CardDetectPin %d already used by %s", h.CardDetectPin, other)
		}
		used[h.CardDetectPin] = "CardDetectPin"
	}
	names := make([]string, 0, len(h.Buttons))
	for name := range h.Buttons {
		names = append(names, name)
	}
	slices.Sort(names)
	for _, name := range names {
		if !slices.Contains(buttonNames, name) {
			return fmt.Errorf("Hardware.Buttons: unknown button %q, must be one of %s", name, strings.Join(buttonNames, ", "))
		}
		pin := h.Buttons[name]
		if err := checkRange("Hardware.Buttons."+name, pin, 0, maxGPIO); err != nil {
			return err
		}
		if other, dup := used[pin]; dup {
			return fmt.Errorf("Hardware.Buttons.%s pin %d already used by %s", name, pin, other)
		}
		used[pin] = name
	}
	return nil
}

func (c *CardConfig) validate() error {
	for _, p := range []struct {
		name  string
		value int
	}{
		{"Card.R1Polls", c.R1Polls},
		{"Card.ReadyPolls", c.ReadyPolls},
		{"Card.TokenPolls", c.TokenPolls},
		{"Card.OpCondAttempts", c.OpCondAttempts},
	} {
		if p.value < 1 {
			return fmt.Errorf("%s must be at least 1, got %d", p.name, p.value)
		}
	}
	if c.OpCondInterval < 0 || c.PowerOnDelay < 0 || c.SettleDelay < 0 {
		return fmt.Errorf("Card delays must not be negative")
	}
	return nil
}

// validate checks the simulated card against the driver's R1 budget: the
// byte clocked with the last frame byte plus r1Polls fillers.
func (s *SimulationConfig) validate(r1Polls int) error {
	if s.Image == "" && s.Blocks == 0 {
		return fmt.Errorf("Simulation needs an Image or a number of Blocks")
	}
	if err := checkRange("Simulation.ResponseLatency", s.ResponseLatency, 0, r1Polls-1); err != nil {
		return err
	}
	if s.TraceSize < 0 {
		return fmt.Errorf("Simulation.TraceSize must not be negative, got %d", s.TraceSize)
	}
	return nil
}

func (l *LoggingConfig) validate() error {
	if !slices.Contains(logLevels, strings.ToUpper(l.Level)) {
		return fmt.Errorf("Logging.Level must be one of %s, got %q", strings.Join(logLevels, ", "), l.Level)
	}
	if !slices.Contains(logFormats, strings.ToLower(l.Format)) {
		return fmt.Errorf("Logging.Format must be one of %s, got %q", strings.Join(logFormats, ", "), l.Format)
	}
	return nil
}
