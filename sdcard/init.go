package sdcard

import (
	"context"
	"fmt"
)

const (
	powerOnFillers = 10 // 80 clocks, the card needs at least 74 with CS high
	resetFlush     = 3
	checkPattern   = 0xAA
)

// Init runs the full power-on handshake. It refuses to touch the bus when
// no card is present. On success the bus is switched to the fast profile
// and the card is Ready; any failing step leaves it Failed and returns an
// error matching one of the Err* kinds. Init may be called again at any
// time and always restarts from power-on.
func (c *Card) Init(ctx context.Context) error {
	c.state = NoCard
	if !c.host.CardPresent() {
		return ErrCardAbsent
	}

	steps := []struct {
		name  string
		run   func(context.Context) error
		state State
	}{
		{"power on", c.powerOn, PoweredOn},
		{"reset", c.reset, Reset},
		{"verify", c.verify, Verified},
		{"initialize", c.initialize, Initialized},
		{"read ocr", c.checkCapacity, Initialized},
		{"switch to fast profile", c.ready, Ready},
	}
	for _, step := range steps {
		if err := step.run(ctx); err != nil {
			c.state = Failed
			c.log.Error("SD card initialization failed", "step", step.name, "error", err)
			return err
		}
		c.state = step.state
		c.log.Debug("SD card initialization step done", "step", step.name, "state", c.state.String())
	}
	c.log.Info("SD card ready", "ocr", fmt.Sprintf("0x%08X", c.ocr.OCR()), "frequency", c.fast.Frequency)
	return nil
}

func (c *Card) powerOn(context.Context) error {
	if err := c.host.ConfigurePins(); err != nil {
		return fmt.Errorf("failed to configure pins: %w", err)
	}
	if err := c.bus.Configure(c.slow); err != nil {
		return fmt.Errorf("failed to configure %s bus profile: %w", c.slow.Name, err)
	}
	if err := c.bus.SetChipSelect(false); err != nil {
		return fmt.Errorf("failed to release chip select: %w", err)
	}
	if err := c.fill(powerOnFillers); err != nil {
		return fmt.Errorf("failed to send power on clocks: %w", err)
	}
	c.host.Delay(c.limits.PowerOnDelay)
	if err := c.bus.SetChipSelect(true); err != nil {
		return fmt.Errorf("failed to assert chip select: %w", err)
	}
	return nil
}

func (c *Card) reset(context.Context) error {
	// a warm MCU reset without card power loss leaves garbage on MISO
	if err := c.fill(resetFlush); err != nil {
		return fmt.Errorf("%w: %w", ErrResetFailed, err)
	}
	r1, err := c.command(GoIdleState)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrResetFailed, err)
	}
	if r1 != R1Idle {
		return fmt.Errorf("%w: %s answered %s", ErrResetFailed, GoIdleState, r1)
	}
	return nil
}

func (c *Card) verify(context.Context) error {
	if err := c.send(SendIfCond); err != nil {
		return fmt.Errorf("%w: %w", ErrVerificationFailed, err)
	}
	resp, err := c.readR3()
	if err != nil {
		return fmt.Errorf("%w: %s: %w", ErrVerificationFailed, SendIfCond, err)
	}
	if resp.Echo() != checkPattern {
		return fmt.Errorf("%w: %s echoed 0x%02X, want 0x%02X", ErrVerificationFailed, SendIfCond, resp.Echo(), checkPattern)
	}
	return nil
}

func (c *Card) initialize(ctx context.Context) error {
	for round := 0; round < c.limits.OpCondAttempts; round++ {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("%w: %w", ErrInitializationFailed, err)
		}
		if round > 0 {
			c.host.Delay(c.limits.OpCondInterval)
		}
		// the APP_CMD answer carries nothing the loop needs
		if _, err := c.command(AppCmd); err != nil {
			return fmt.Errorf("%w: %w", ErrInitializationFailed, err)
		}
		r1, err := c.command(SDSendOpCond)
		if err != nil {
			return fmt.Errorf("%w: %w", ErrInitializationFailed, err)
		}
		if r1.Idle() {
			continue
		}
		if !r1.OK() {
			return fmt.Errorf("%w: %s answered %s", ErrInitializationFailed, SDSendOpCond, r1)
		}
		c.log.Debug("card left idle state", "rounds", round+1)
		return nil
	}
	return fmt.Errorf("%w: %w: still idle after %d %s rounds", ErrInitializationFailed, ErrResponseTimeout, c.limits.OpCondAttempts, SDSendOpCond)
}

func (c *Card) checkCapacity(context.Context) error {
	if err := c.send(ReadOCR); err != nil {
		return fmt.Errorf("%w: %w", ErrCapacityCheckFailed, err)
	}
	resp, err := c.readR3()
	if err != nil {
		return fmt.Errorf("%w: %s: %w", ErrCapacityCheckFailed, ReadOCR, err)
	}
	if !resp.R1().OK() {
		return fmt.Errorf("%w: %s answered %s", ErrCapacityCheckFailed, ReadOCR, resp.R1())
	}
	if !resp.HighCapacity() {
		return fmt.Errorf("%w: OCR 0x%08X has CCS clear", ErrCapacityCheckFailed, resp.OCR())
	}
	c.ocr = resp
	return nil
}

func (c *Card) ready(context.Context) error {
	// let the last transfer drain before reclocking
	c.host.Delay(c.limits.SettleDelay)
	if err := c.bus.Configure(c.fast); err != nil {
		return fmt.Errorf("failed to configure %s bus profile: %w", c.fast.Name, err)
	}
	return nil
}
