package viewer

import (
	"fmt"
	"io"
	"strings"

	"github.com/rivo/tview"

	"lautenbacher.net/sdcart/sdcard"
)

const bytesPerLine = 16

// Dump writes data read from block addr in hexdump -C layout. Offsets
// are byte addresses on the card.
func Dump(w io.Writer, addr uint32, data []byte) error {
	_, err := io.WriteString(w, format(addr, data, false))
	return err
}

// HexDump is Dump with tview color tags.
func HexDump(addr uint32, data []byte) string {
	return format(addr, data, true)
}

func format(addr uint32, data []byte, tagged bool) string {
	var sb strings.Builder
	base := uint64(addr) * sdcard.BlockSize
	for off := 0; off < len(data); off += bytesPerLine {
		line := data[off:min(off+bytesPerLine, len(data))]

		if tagged {
			fmt.Fprintf(&sb, "[yellow]%08x[-]  ", base+uint64(off))
		} else {
			fmt.Fprintf(&sb, "%08x  ", base+uint64(off))
		}
		for i := 0; i < bytesPerLine; i++ {
			if i < len(line) {
				fmt.Fprintf(&sb, "%02x ", line[i])
			} else {
				sb.WriteString("   ")
			}
			if i == 7 {
				sb.WriteByte(' ')
			}
		}

		ascii := make([]byte, len(line))
		for i, c := range line {
			ascii[i] = '.'
			if c >= 0x20 && c < 0x7F {
				ascii[i] = c
			}
		}
		if tagged {
			sb.WriteString(" [gray]|" + tview.Escape(string(ascii)) + "|[-]\n")
		} else {
			sb.WriteString(" |" + string(ascii) + "|\n")
		}
	}
	return sb.String()
}
