package simcard

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"lautenbacher.net/sdcart/util"
)

// Swap describes the card after its image file changed.
type Swap struct {
	Present bool
	Blocks  uint32
	At      time.Time
}

// Watcher turns changes of a card's image file into card swaps: the card
// loses its state and has to be initialized again.
type Watcher struct {
	card    *Card
	path    string
	watcher *fsnotify.Watcher
	swaps   *util.Latest[Swap]
}

// NewWatcher watches the directory of the card image, so that images
// replaced by rename are noticed as well.
func NewWatcher(card *Card) (*Watcher, error) {
	if card.path == "" {
		return nil, fmt.Errorf("card is not backed by an image file")
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}
	path, err := filepath.Abs(card.path)
	if err != nil {
		fw.Close()
		return nil, err
	}
	if err := fw.Add(filepath.Dir(path)); err != nil {
		fw.Close()
		return nil, fmt.Errorf("failed to watch %s: %w", filepath.Dir(path), err)
	}
	return &Watcher{
		card:    card,
		path:    path,
		watcher: fw,
		swaps:   util.NewLatest[Swap](),
	}, nil
}

// Swaps notifies about card swaps. Swaps happening before a pending
// notification was consumed are coalesced.
func (w *Watcher) Swaps() <-chan struct{} {
	return w.swaps.Notify()
}

// LastSwap returns the most recent swap.
func (w *Watcher) LastSwap() Swap {
	return w.swaps.Value()
}

// Run processes file events until ctx is done.
func (w *Watcher) Run(ctx context.Context) {
	defer w.watcher.Close()
	for {
		select {
		case <-ctx.Done():
			slog.Info("Ending image watcher go-routine")
			return
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			slog.Error("Image watcher error", "error", err)
		case ev, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != w.path {
				continue
			}
			w.handle(ev)
		}
	}
}

func (w *Watcher) handle(ev fsnotify.Event) {
	switch {
	case ev.Has(fsnotify.Remove), ev.Has(fsnotify.Rename):
		slog.Info("Card image removed", "path", w.path)
		w.card.SetPresent(false)
	case ev.Has(fsnotify.Create), ev.Has(fsnotify.Write):
		if err := w.card.Reload(); err != nil {
			slog.Error("Failed to reload card image", "path", w.path, "error", err)
			return
		}
	default:
		return
	}
	w.swaps.Publish(Swap{
		Present: w.card.CardPresent(),
		Blocks:  w.card.BlockCount(),
		At:      time.Now(),
	})
}
