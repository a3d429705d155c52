package viewer

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"strings"

	"github.com/rivo/tview"

	"lautenbacher.net/sdcart/buttons"
	"lautenbacher.net/sdcart/sdcard"
)

// Card is the part of *sdcard.Card the viewer drives.
type Card interface {
	Init(ctx context.Context) error
	ReadBlock(addr uint32, buf *sdcard.Block) error
	ReadCID() (sdcard.CID, error)
	Blocks() (uint64, error)
	State() sdcard.State
}

const pageStride = 16

// browser is the viewer's state without any terminal attached.
type browser struct {
	card   Card
	block  uint32
	blocks uint64 // 0 until the CSD was read
	cid    sdcard.CID
	hasCID bool
	data   sdcard.Block
	loaded bool
	err    error
}

func (b *browser) reinit(ctx context.Context) {
	b.loaded, b.hasCID, b.blocks = false, false, 0
	if err := b.card.Init(ctx); err != nil {
		b.err = err
		return
	}
	if n, err := b.card.Blocks(); err != nil {
		slog.Warn("Failed to read card capacity", "error", err)
	} else {
		b.blocks = n
	}
	if cid, err := b.card.ReadCID(); err != nil {
		slog.Warn("Failed to read card identification", "error", err)
	} else {
		b.cid, b.hasCID = cid, true
	}
	if b.blocks > 0 && uint64(b.block) >= b.blocks {
		b.block = uint32(b.blocks - 1)
	}
	b.load()
}

func (b *browser) load() {
	if err := b.card.ReadBlock(b.block, &b.data); err != nil {
		b.err = err
		b.loaded = false
		return
	}
	b.err = nil
	b.loaded = true
	slog.Debug("Block loaded", "block", b.block)
}

func (b *browser) move(delta int64) {
	next := int64(b.block) + delta
	if b.blocks > 0 && next >= int64(b.blocks) {
		next = int64(b.blocks) - 1
	}
	next = max(0, min(next, math.MaxUint32))
	if uint32(next) == b.block && b.loaded {
		return
	}
	b.block = uint32(next)
	b.load()
}

func (b *browser) press(ctx context.Context, btn buttons.Button) {
	switch btn {
	case buttons.Left:
		b.move(-1)
	case buttons.Right:
		b.move(1)
	case buttons.Up:
		b.move(-pageStride)
	case buttons.Down:
		b.move(pageStride)
	case buttons.A:
		b.reinit(ctx)
	case buttons.B:
		b.load()
	}
}

func (b *browser) status() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "State: [green]%s[-]", b.card.State())
	if b.blocks > 0 {
		fmt.Fprintf(&sb, " | Block [yellow]%d[-] of %d (%d MiB)", b.block, b.blocks, b.blocks*sdcard.BlockSize>>20)
	} else {
		fmt.Fprintf(&sb, " | Block [yellow]%d[-]", b.block)
	}
	if b.hasCID {
		fmt.Fprintf(&sb, " | %s", tview.Escape(b.cid.String()))
	}
	if b.err != nil {
		fmt.Fprintf(&sb, "\n[red]%s[-]", tview.Escape(b.err.Error()))
	}
	return sb.String()
}

func (b *browser) body() string {
	if !b.loaded {
		return ""
	}
	return HexDump(b.block, b.data[:])
}
