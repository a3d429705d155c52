package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"math"
	"os"
	"os/signal"
	"syscall"
	"time"

	"lautenbacher.net/sdcart/buttons"
	"lautenbacher.net/sdcart/config"
	"lautenbacher.net/sdcart/logging"
	"lautenbacher.net/sdcart/sdcard"
	"lautenbacher.net/sdcart/viewer"
)

type options struct {
	block uint32
	count uint32
	tui   bool
}

func main() {
	cfile := flag.String("config", config.CONFILE, "config file")
	block := flag.Uint("block", 0, "first block to read")
	count := flag.Uint("count", 1, "number of blocks to dump")
	tui := flag.Bool("tui", false, "browse blocks interactively")
	simImage := flag.String("sim", "", "serve the card from this image file instead of hardware")
	flag.Parse()

	explicit := false
	flag.Visit(func(f *flag.Flag) {
		if f.Name == "config" {
			explicit = true
		}
	})
	conf, err := loadConfig(*cfile, explicit, *simImage)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	if *block > math.MaxUint32 || *count > math.MaxUint32 {
		fmt.Fprintln(os.Stderr, "block and count must fit 32 bits")
		os.Exit(2)
	}

	if err := logging.Init(conf.Logging, *tui); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err = run(ctx, conf, options{block: uint32(*block), count: uint32(*count), tui: *tui}, os.Stdout)
	stop()
	if err != nil {
		slog.Error("sdcart failed", "error", err)
	}
	logging.Close()
	if err != nil {
		os.Exit(1)
	}
}

// loadConfig reads cfile. A missing default config file means defaults;
// a simulated image given on the command line overrides the platform.
func loadConfig(cfile string, explicit bool, simImage string) (*config.Config, error) {
	conf, err := config.ReadConfig(cfile)
	if err != nil {
		if explicit || !errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
		def := config.Default()
		conf = &def
	}
	if simImage != "" {
		conf.Platform = "sim"
		conf.Simulation.Image = simImage
		if err := conf.Validate(); err != nil {
			return nil, err
		}
	}
	return conf, nil
}

func newCard(conf *config.Config, s *slot) *sdcard.Card {
	return sdcard.New(s.bus, s.host,
		sdcard.WithLimits(limits(conf.Card)),
		sdcard.WithProfiles(
			sdcard.SlowProfile(conf.Hardware.SlowFrequency),
			sdcard.FastProfile(conf.Hardware.FastFrequency)),
		sdcard.WithLogger(logging.Component("sdcard")))
}

func limits(c config.CardConfig) sdcard.Limits {
	return sdcard.Limits{
		R1Polls:        c.R1Polls,
		ReadyPolls:     c.ReadyPolls,
		TokenPolls:     c.TokenPolls,
		OpCondAttempts: c.OpCondAttempts,
		OpCondInterval: c.OpCondInterval,
		PowerOnDelay:   c.PowerOnDelay,
		SettleDelay:    c.SettleDelay,
	}
}

func run(ctx context.Context, conf *config.Config, opts options, out io.Writer) error {
	s, err := openSlot(conf)
	if err != nil {
		return err
	}
	defer s.Close()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	if s.watcher != nil {
		go s.watcher.Run(ctx)
	}

	card := newCard(conf, s)
	if opts.tui {
		return browse(ctx, card, s, opts.block, conf.Hardware.ButtonPoll)
	}
	return dump(ctx, card, opts.block, opts.count, out)
}

func dump(ctx context.Context, card *sdcard.Card, start, count uint32, w io.Writer) error {
	if err := card.Init(ctx); err != nil {
		return fmt.Errorf("failed to initialize card: %w", err)
	}
	if cid, err := card.ReadCID(); err == nil {
		fmt.Fprintf(w, "# %s\n", cid)
	}

	var buf sdcard.Block
	for i := uint32(0); i < count; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		addr := start + i
		if err := card.ReadBlock(addr, &buf); err != nil {
			return fmt.Errorf("failed to read block %d: %w", addr, err)
		}
		fmt.Fprintf(w, "# block %d\n", addr)
		if err := viewer.Dump(w, addr, buf[:]); err != nil {
			return err
		}
	}
	return nil
}

// browse runs the viewer. Console buttons, image swaps and SIGHUP are fed
// into it from a helper goroutine.
func browse(ctx context.Context, card *sdcard.Card, s *slot, start uint32, poll time.Duration) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	v := viewer.New(ctx, card, start)

	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)

	var swaps <-chan struct{}
	if s.watcher != nil {
		swaps = s.watcher.Swaps()
	}

	go func() {
		var tick <-chan time.Time
		if s.buttons != nil {
			ticker := time.NewTicker(poll)
			defer ticker.Stop()
			tick = ticker.C
		}
		var tracker buttons.Tracker
		for {
			select {
			case <-ctx.Done():
				v.Stop()
				return
			case <-hup:
				slog.Info("Re-initializing card on SIGHUP")
				v.Reinit()
			case <-swaps:
				sw := s.watcher.LastSwap()
				slog.Info("Card image swapped", "present", sw.Present, "blocks", sw.Blocks)
				v.Reinit()
			case <-tick:
				for _, b := range tracker.Poll(s.buttons) {
					v.Press(b)
				}
			}
		}
	}()

	err := v.Run()
	logging.SetOutput(os.Stderr)
	return err
}
