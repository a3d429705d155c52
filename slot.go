package main

import (
	"fmt"
	"log/slog"

	"lautenbacher.net/sdcart/buttons"
	"lautenbacher.net/sdcart/config"
	"lautenbacher.net/sdcart/hardware"
	"lautenbacher.net/sdcart/sdcard"
	"lautenbacher.net/sdcart/simcard"
)

// slot is the card slot the driver talks to, real or simulated.
type slot struct {
	bus     sdcard.Bus
	host    sdcard.Host
	buttons buttons.Reader   // nil without configured buttons
	watcher *simcard.Watcher // nil unless a simulated image is watched
	closers []func() error
}

func openSlot(conf *config.Config) (*slot, error) {
	if conf.Platform == "sim" {
		return openSim(conf.Simulation)
	}

	p, err := hardware.Open(conf.Platform, conf.Hardware)
	if err != nil {
		return nil, err
	}
	s := &slot{bus: p.Bus, host: p.Host, closers: []func() error{p.Close}}
	if len(conf.Hardware.Buttons) == 0 {
		return s, nil
	}
	if conf.Platform == "rpio" {
		s.buttons, err = buttons.NewRPIOReader(conf.Hardware.Buttons)
	} else {
		s.buttons, err = buttons.NewPeriphReader(conf.Hardware.Buttons)
	}
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("failed to set up buttons: %w", err)
	}
	return s, nil
}

// blankImage reads as an all zero card.
type blankImage struct{}

func (blankImage) ReadAt(p []byte, _ int64) (int, error) {
	clear(p)
	return len(p), nil
}

func simConfig(sc config.SimulationConfig) simcard.Config {
	cfg := simcard.DefaultConfig()
	cfg.HighCapacity = sc.HighCapacity
	cfg.OpCondRounds = sc.OpCondRounds
	cfg.ResponseLatency = sc.ResponseLatency
	cfg.TokenLatency = sc.TokenLatency
	cfg.TraceSize = sc.TraceSize
	return cfg
}

func openSim(sc config.SimulationConfig) (*slot, error) {
	cfg := simConfig(sc)
	if sc.Image == "" {
		cfg.Blocks = sc.Blocks
		card := simcard.New(blankImage{}, cfg)
		slog.Info("Simulating blank SD card", "blocks", sc.Blocks)
		return &slot{bus: card, host: card}, nil
	}

	card, err := simcard.Open(sc.Image, cfg)
	if err != nil {
		return nil, err
	}
	s := &slot{bus: card, host: card, closers: []func() error{card.Close}}
	if sc.Watch {
		if s.watcher, err = simcard.NewWatcher(card); err != nil {
			s.Close()
			return nil, err
		}
	}
	return s, nil
}

func (s *slot) Close() error {
	var firstErr error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	s.closers = nil
	return firstErr
}
