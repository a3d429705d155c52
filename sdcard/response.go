package sdcard

import (
	"encoding/binary"
	"fmt"
	"strings"
)

const (
	filler = 0xFF

	// TokenStartBlock precedes the data of a single block read.
	TokenStartBlock = 0xFE

	r1Invalid = 0x80
	ccsBit    = 1 << 6
	r3Size    = 5
)

// R1 is the one byte status every command answers with.
type R1 byte

const (
	R1Idle R1 = 1 << iota
	R1EraseReset
	R1IllegalCommand
	R1CRCError
	R1EraseSequenceError
	R1AddressError
	R1ParameterError
)

var r1Names = []string{
	"idle",
	"erase-reset",
	"illegal-command",
	"crc-error",
	"erase-sequence-error",
	"address-error",
	"parameter-error",
}

func (r R1) Idle() bool { return r&R1Idle != 0 }

// OK reports a card that is out of idle with no error bits set.
func (r R1) OK() bool { return r == 0 }

func (r R1) String() string {
	var flags []string
	for i, name := range r1Names {
		if r&(1<<i) != 0 {
			flags = append(flags, name)
		}
	}
	if len(flags) == 0 {
		return fmt.Sprintf("0x%02X", byte(r))
	}
	return fmt.Sprintf("0x%02X[%s]", byte(r), strings.Join(flags, " "))
}

// R3 is an R1 followed by the 32-bit OCR, as answered to READ_OCR. The
// same five byte layout is used for the SEND_IF_COND answer.
type R3 [r3Size]byte

func (r R3) R1() R1 { return R1(r[0]) }

func (r R3) OCR() uint32 { return binary.BigEndian.Uint32(r[1:]) }

// HighCapacity reports the CCS bit of the OCR.
func (r R3) HighCapacity() bool { return r[1]&ccsBit != 0 }

// Echo is the check pattern echoed back by SEND_IF_COND.
func (r R3) Echo() byte { return r[r3Size-1] }

func (c *Card) fill(n int) error {
	for i := 0; i < n; i++ {
		if err := c.bus.Write(filler); err != nil {
			return err
		}
	}
	return nil
}

// next clocks one filler byte and returns what the card sent meanwhile.
func (c *Card) next() (byte, error) {
	if err := c.bus.Write(filler); err != nil {
		return 0, err
	}
	return c.bus.Read(), nil
}

// waitReady drains the line until the card holds it high.
func (c *Card) waitReady() error {
	b := c.bus.Read()
	for i := 0; b != filler; i++ {
		if i >= c.limits.ReadyPolls {
			return fmt.Errorf("%w: line busy (0x%02X) after %d polls", ErrResponseTimeout, b, i)
		}
		var err error
		if b, err = c.next(); err != nil {
			return err
		}
	}
	return nil
}

func (c *Card) readR1() (R1, error) {
	b := c.bus.Read()
	for i := 0; b&r1Invalid != 0; i++ {
		if i >= c.limits.R1Polls {
			return R1(b), fmt.Errorf("%w: no R1 after %d polls (last 0x%02X)", ErrResponseTimeout, i, b)
		}
		var err error
		if b, err = c.next(); err != nil {
			return 0, err
		}
	}
	return R1(b), nil
}

func (c *Card) readR3() (R3, error) {
	var resp R3
	r1, err := c.readR1()
	if err != nil {
		return resp, err
	}
	resp[0] = byte(r1)
	for i := 1; i < r3Size; i++ {
		if resp[i], err = c.next(); err != nil {
			return resp, err
		}
	}
	return resp, nil
}

func (c *Card) waitForToken(token byte) error {
	b := c.bus.Read()
	for i := 0; b != token; i++ {
		if i >= c.limits.TokenPolls {
			return fmt.Errorf("%w: token 0x%02X not seen after %d polls (last 0x%02X)", ErrResponseTimeout, token, i, b)
		}
		var err error
		if b, err = c.next(); err != nil {
			return err
		}
	}
	return nil
}

// send waits for the card to idle the line and writes the command frame.
func (c *Card) send(cmd Command) error {
	if err := c.waitReady(); err != nil {
		return fmt.Errorf("%s: %w", cmd, err)
	}
	frame := cmd.Encode()
	for _, b := range frame {
		if err := c.bus.Write(b); err != nil {
			return fmt.Errorf("%s: %w", cmd, err)
		}
	}
	c.log.Debug("command sent", "cmd", cmd.String(), "frame", fmt.Sprintf("% X", frame))
	return nil
}

// command sends cmd and reads its R1.
func (c *Card) command(cmd Command) (R1, error) {
	if err := c.send(cmd); err != nil {
		return 0, err
	}
	r1, err := c.readR1()
	if err != nil {
		return r1, fmt.Errorf("%s: %w", cmd, err)
	}
	return r1, nil
}
