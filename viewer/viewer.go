// Package viewer is an interactive block browser for an SD card.
package viewer

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"

	"lautenbacher.net/sdcart/buttons"
	"lautenbacher.net/sdcart/logging"
	"lautenbacher.net/sdcart/sdcard"
)

const blockLines = sdcard.BlockSize / bytesPerLine

const helpText = "[red]Left/Right[-] block  [red]Up/Down[-] 16 blocks  [red]a[-] re-init  [red]r[-] reread  [red]q[-] quit"

// Viewer shows one block at a time. All card access happens on the
// tview event goroutine.
type Viewer struct {
	ctx     context.Context
	b       *browser
	app     *tview.Application
	header  *tview.TextView
	dump    *tview.TextView
	logView *tview.TextView
	logOnce sync.Once
	redraw  atomic.Bool
}

func New(ctx context.Context, card Card, start uint32) *Viewer {
	v := &Viewer{
		ctx: ctx,
		b:   &browser{card: card, block: start},
		app: tview.NewApplication(),
	}
	v.build()
	return v
}

func (v *Viewer) build() {
	v.header = tview.NewTextView().SetDynamicColors(true)
	v.header.SetBorder(true).SetTitle(" sdcart ").SetTitleColor(tcell.ColorLightBlue)

	help := tview.NewTextView().SetDynamicColors(true).SetTextAlign(tview.AlignCenter).SetText(helpText)

	v.dump = tview.NewTextView().SetDynamicColors(true).SetScrollable(true)
	v.dump.SetBorder(true)
	v.dump.SetBackgroundColor(tcell.NewRGBColor(30, 30, 30))

	v.logView = tview.NewTextView().
		SetDynamicColors(true).
		SetScrollable(true).
		SetChangedFunc(func() {
			v.logView.ScrollToEnd()
			// the card logs from inside event handlers, so never block here
			if v.redraw.CompareAndSwap(false, true) {
				go v.app.QueueUpdateDraw(func() { v.redraw.Store(false) })
			}
		})
	v.logView.SetBorder(true).SetTitle(" Logs ").SetTitleColor(tcell.ColorLightBlue)
	v.logView.SetBackgroundColor(tcell.NewRGBColor(40, 40, 40))

	layout := tview.NewFlex().SetDirection(tview.FlexRow).
		AddItem(v.header, 4, 0, false).
		AddItem(help, 1, 0, false).
		AddItem(v.dump, 2+blockLines, 0, true).
		AddItem(v.logView, 0, 1, false)

	v.app.SetAfterDrawFunc(func(screen tcell.Screen) {
		v.logOnce.Do(func() {
			logging.SetOutput(tview.ANSIWriter(v.logView))
		})
	})

	v.app.SetInputCapture(func(event *tcell.EventKey) *tcell.EventKey {
		var btn buttons.Button
		switch event.Key() {
		case tcell.KeyCtrlC:
			v.app.Stop()
			return nil
		case tcell.KeyLeft:
			btn = buttons.Left
		case tcell.KeyRight:
			btn = buttons.Right
		case tcell.KeyUp:
			btn = buttons.Up
		case tcell.KeyDown:
			btn = buttons.Down
		case tcell.KeyRune:
			switch event.Rune() {
			case 'q', 'Q':
				v.app.Stop()
				return nil
			case 'a', 'A':
				btn = buttons.A
			case 'r', 'R', 'b', 'B':
				btn = buttons.B
			default:
				return event
			}
		default:
			return event
		}
		v.handle(btn)
		return nil
	})

	v.app.SetRoot(layout, true)
}

func (v *Viewer) handle(btn buttons.Button) {
	v.b.press(v.ctx, btn)
	v.refresh()
}

func (v *Viewer) refresh() {
	v.header.SetText(v.b.status())
	v.dump.SetTitle(fmt.Sprintf(" Block %d ", v.b.block))
	v.dump.SetText(v.b.body()).ScrollToBeginning()
}

// Run initializes the card and blocks until the viewer is stopped.
func (v *Viewer) Run() error {
	v.app.QueueUpdateDraw(func() { v.handle(buttons.A) })
	if err := v.app.Run(); err != nil {
		return fmt.Errorf("failed to run viewer: %w", err)
	}
	return nil
}

// Press feeds a button release from outside the terminal, such as the
// console's own buttons. Safe to call from any goroutine.
func (v *Viewer) Press(btn buttons.Button) {
	v.app.QueueUpdateDraw(func() { v.handle(btn) })
}

// Reinit re-runs card initialization, for example after a card swap.
func (v *Viewer) Reinit() {
	v.Press(buttons.A)
}

func (v *Viewer) Stop() {
	v.app.Stop()
}
