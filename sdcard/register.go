package sdcard

import (
	"encoding/binary"
	"fmt"
	"strings"
)

const registerSize = 16

// CSD is the card specific data register.
type CSD [registerSize]byte

// Version is the CSD structure version, 2 for high capacity cards.
func (r CSD) Version() int { return int(r[0]>>6) + 1 }

// Blocks returns the card capacity in blocks, or 0 for CSD layouts other
// than version 2.
func (r CSD) Blocks() uint64 {
	if r.Version() != 2 {
		return 0
	}
	cSize := uint64(r[7]&0x3F)<<16 | uint64(r[8])<<8 | uint64(r[9])
	return (cSize + 1) * 1024
}

// CID is the card identification register.
type CID [registerSize]byte

func (r CID) Manufacturer() byte { return r[0] }

func (r CID) OEM() string { return string(r[1:3]) }

func (r CID) Product() string { return strings.TrimRight(string(r[3:8]), "\x00 ") }

func (r CID) Revision() string { return fmt.Sprintf("%d.%d", r[8]>>4, r[8]&0x0F) }

func (r CID) Serial() uint32 { return binary.BigEndian.Uint32(r[9:13]) }

func (r CID) String() string {
	return fmt.Sprintf("MID 0x%02X OEM %q product %q rev %s serial 0x%08X",
		r.Manufacturer(), r.OEM(), r.Product(), r.Revision(), r.Serial())
}

func (c *Card) ReadCSD() (CSD, error) {
	var csd CSD
	if err := c.readRegister(SendCSD, csd[:]); err != nil {
		return CSD{}, err
	}
	return csd, nil
}

func (c *Card) ReadCID() (CID, error) {
	var cid CID
	if err := c.readRegister(SendCID, cid[:]); err != nil {
		return CID{}, err
	}
	return cid, nil
}

// Blocks reads the CSD and returns the card capacity in blocks.
func (c *Card) Blocks() (uint64, error) {
	csd, err := c.ReadCSD()
	if err != nil {
		return 0, err
	}
	return csd.Blocks(), nil
}

func (c *Card) readRegister(cmd Command, dst []byte) error {
	if c.state != Ready {
		return fmt.Errorf("%w: state %s", ErrNotReady, c.state)
	}
	return c.readData(cmd, dst)
}
