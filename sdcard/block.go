package sdcard

import "fmt"

const (
	BlockSize = 512
	crcBytes  = 2
)

// Block is one sector worth of data.
type Block [BlockSize]byte

// ReadBlock reads the block at addr into buf. addr is a block address as
// used by high capacity cards. buf is only written once the whole block was
// received; on error its content is unchanged.
func (c *Card) ReadBlock(addr uint32, buf *Block) error {
	if c.state != Ready {
		return fmt.Errorf("%w: state %s", ErrNotReady, c.state)
	}
	var data Block
	if err := c.readData(ReadSingleBlock.WithAddress(addr), data[:]); err != nil {
		c.log.Debug("block read failed", "block", addr, "error", err)
		return err
	}
	*buf = data
	return nil
}

// readData issues a data read command and shifts one data packet into dst.
func (c *Card) readData(cmd Command, dst []byte) error {
	r1, err := c.command(cmd)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrReadFailed, err)
	}
	if !r1.OK() {
		return fmt.Errorf("%w: %s answered %s", ErrReadFailed, cmd, r1)
	}
	if err := c.waitForToken(TokenStartBlock); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrReadFailed, cmd, err)
	}
	for i := range dst {
		if dst[i], err = c.next(); err != nil {
			return fmt.Errorf("%w: %s: %w", ErrReadFailed, cmd, err)
		}
	}
	if err := c.fill(crcBytes); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrReadFailed, cmd, err)
	}
	return nil
}
