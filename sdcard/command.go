package sdcard

import (
	"encoding/binary"
	"fmt"
)

const (
	FrameSize = 6

	startBits = 0x40
	stopBit   = 0x01
	indexMask = 0x3F
	crcMask   = 0x7F
)

// Command is an immutable command template. CRC holds the 7-bit CRC; only
// GO_IDLE_STATE and SEND_IF_COND need a correct one in SPI mode, the rest
// carry all ones.
type Command struct {
	Name  string
	Index byte
	Arg   [4]byte
	CRC   byte
	App   bool // must be preceded by APP_CMD
}

var (
	GoIdleState     = Command{Name: "GO_IDLE_STATE", Index: 0, CRC: 0x4A}
	SendIfCond      = Command{Name: "SEND_IF_COND", Index: 8, Arg: [4]byte{0x00, 0x00, 0x01, 0xAA}, CRC: 0x43}
	SendCSD         = Command{Name: "SEND_CSD", Index: 9, CRC: 0x7F}
	SendCID         = Command{Name: "SEND_CID", Index: 10, CRC: 0x7F}
	ReadSingleBlock = Command{Name: "READ_SINGLE_BLOCK", Index: 17, CRC: 0x7F}
	SDSendOpCond    = Command{Name: "SD_SEND_OP_COND", Index: 41, Arg: [4]byte{0x40, 0x00, 0x00, 0xA0}, CRC: 0x7F, App: true}
	AppCmd          = Command{Name: "APP_CMD", Index: 55, CRC: 0x7F}
	ReadOCR         = Command{Name: "READ_OCR", Index: 58, CRC: 0x7F}
)

// Templates lists every command the driver issues.
var Templates = []Command{
	GoIdleState,
	SendIfCond,
	SendCSD,
	SendCID,
	ReadSingleBlock,
	SDSendOpCond,
	AppCmd,
	ReadOCR,
}

// WithArg returns a copy of the template carrying arg instead of the
// default argument bytes.
func (c Command) WithArg(arg [4]byte) Command {
	c.Arg = arg
	return c
}

// WithAddress returns a copy with addr encoded big-endian as argument.
func (c Command) WithAddress(addr uint32) Command {
	binary.BigEndian.PutUint32(c.Arg[:], addr)
	return c
}

// Encode returns the wire frame: start bits and index, four argument bytes
// MSB first, then the CRC followed by the stop bit.
func (c Command) Encode() [FrameSize]byte {
	return [FrameSize]byte{
		startBits | (c.Index & indexMask),
		c.Arg[0],
		c.Arg[1],
		c.Arg[2],
		c.Arg[3],
		(c.CRC&crcMask)<<1 | stopBit,
	}
}

func (c Command) String() string {
	prefix := "CMD"
	if c.App {
		prefix = "ACMD"
	}
	return fmt.Sprintf("%s%d(%s)", prefix, c.Index, c.Name)
}
