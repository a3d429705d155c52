// Package simcard emulates an SD card on the byte level of its SPI
// interface. It implements both sdcard.Bus and sdcard.Host so the driver can
// be run against it without hardware, and it serves blocks from a disk
// image.
package simcard

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/gammazero/deque"
	"lautenbacher.net/sdcart/sdcard"
)

const (
	powerOnClocks = 74
	dataToken     = 0xFE
	errorToken    = 0x01

	r1Idle         = 0x01
	r1Illegal      = 0x04
	r1ParameterErr = 0x40
)

// Config describes the emulated card and its timing.
type Config struct {
	// Blocks is the capacity. 0 derives it from the image size.
	Blocks uint32
	// HighCapacity sets CCS in the OCR and selects block addressing.
	HighCapacity bool
	// Version1 makes the card reject SEND_IF_COND like a v1.x card.
	Version1 bool
	// OpCondRounds is how many SD_SEND_OP_COND answers still report idle.
	// Negative values keep the card idle forever.
	OpCondRounds int
	// ResponseLatency is the number of idle bytes between the first byte
	// clocked after a command and its R1. The driver tolerates fewer than
	// its R1 poll count, 7 with the default limits.
	ResponseLatency int
	// TokenLatency is the number of idle bytes before a data token.
	// Negative values make the card never send one.
	TokenLatency int
	// Garbage is shifted out before anything else, as seen after a warm
	// reset of the host without power loss on the card.
	Garbage []byte
	// TraceSize bounds the recorded transfers. 0 disables tracing.
	TraceSize int
	CID       sdcard.CID
}

func DefaultConfig() Config {
	return Config{
		HighCapacity:    true,
		OpCondRounds:    2,
		ResponseLatency: 1,
		TokenLatency:    4,
		TraceSize:       1024,
		CID: sdcard.CID{0x1B, 'S', 'M', 'S', 'D', 'C', 'R', 'T', 0x10,
			0x12, 0x34, 0x56, 0x78, 0x01, 0x8A, 0x01},
	}
}

// Card is an emulated card. Bus and Host methods may be called from
// different goroutines than Reload and SetPresent.
type Card struct {
	mu     sync.Mutex
	cfg    Config
	image  io.ReaderAt
	path   string
	closer io.Closer
	blocks uint32

	present     bool
	csActive    bool
	profile     sdcard.Profile
	profiles    []sdcard.Profile
	pinConfigs  int
	delay       time.Duration
	writes      int
	clocks      int
	spiMode     bool
	initialized bool
	appCmd      bool
	opRounds    int
	frame       [sdcard.FrameSize]byte
	framePos    int
	out         deque.Deque[byte]
	last        byte
	commands    []byte
	trace       *trace
}

// New returns a present card serving blocks from image.
func New(image io.ReaderAt, cfg Config) *Card {
	s := &Card{
		cfg:     cfg,
		image:   image,
		present: true,
		last:    0xFF,
		trace:   newTrace(cfg.TraceSize),
	}
	s.blocks = s.capacity()
	for _, b := range cfg.Garbage {
		s.out.PushBack(b)
	}
	return s
}

// Open returns a card backed by the image file at path.
func Open(path string, cfg Config) (*Card, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open card image: %w", err)
	}
	s := New(f, cfg)
	s.path = path
	s.closer = f
	slog.Info("Opened SD card image", "path", path, "blocks", s.blocks)
	return s, nil
}

func (s *Card) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closer == nil {
		return nil
	}
	err := s.closer.Close()
	s.closer = nil
	return err
}

func (s *Card) capacity() uint32 {
	if s.cfg.Blocks != 0 {
		return s.cfg.Blocks
	}
	type sizer interface{ Size() int64 }
	type stater interface{ Stat() (os.FileInfo, error) }
	switch img := s.image.(type) {
	case sizer:
		return uint32(img.Size() / sdcard.BlockSize)
	case stater:
		if fi, err := img.Stat(); err == nil {
			return uint32(fi.Size() / sdcard.BlockSize)
		}
	}
	return 0
}

// Reload reopens the image file, as if the card was pulled and a new one
// inserted. The card loses its SPI state.
func (s *Card) Reload() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.path == "" {
		s.powerCycle()
		return nil
	}
	f, err := os.Open(s.path)
	if err != nil {
		s.present = false
		return fmt.Errorf("failed to reopen card image: %w", err)
	}
	if s.closer != nil {
		s.closer.Close()
	}
	s.image = f
	s.closer = f
	s.blocks = s.capacity()
	s.present = true
	s.powerCycle()
	slog.Info("Reloaded SD card image", "path", s.path, "blocks", s.blocks)
	return nil
}

// SetPresent inserts or removes the card. Removal loses all card state.
func (s *Card) SetPresent(present bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !present {
		s.powerCycle()
	}
	s.present = present
}

func (s *Card) powerCycle() {
	s.clocks = 0
	s.spiMode = false
	s.initialized = false
	s.appCmd = false
	s.framePos = 0
	s.out.Clear()
	s.last = 0xFF
}

func (s *Card) BlockCount() uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.blocks
}

// --- sdcard.Host

func (s *Card) ConfigurePins() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pinConfigs++
	return nil
}

func (s *Card) CardPresent() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.present
}

// Delay only accounts for the requested time.
func (s *Card) Delay(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.delay += d
}

// --- sdcard.Bus

func (s *Card) Configure(p sdcard.Profile) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.profile = p
	s.profiles = append(s.profiles, p)
	return nil
}

func (s *Card) SetChipSelect(active bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.csActive = active
	return nil
}

func (s *Card) Write(b byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.writes++
	selected := s.selected()
	in := byte(0xFF)
	switch {
	case !s.present:
	case !selected:
		s.clocks += 8
	default:
		if s.out.Len() > 0 {
			in = s.out.PopFront()
		}
		s.receive(b)
	}
	s.last = in
	s.trace.record(Transfer{Out: b, In: in, Selected: selected})
	return nil
}

func (s *Card) Read() byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last
}

func (s *Card) selected() bool {
	return s.csActive || s.profile.HardwareCS
}

// receive assembles command frames from the incoming bytes.
func (s *Card) receive(b byte) {
	if s.framePos == 0 && b&0xC0 != 0x40 {
		return
	}
	s.frame[s.framePos] = b
	s.framePos++
	if s.framePos < sdcard.FrameSize {
		return
	}
	s.framePos = 0
	if s.frame[sdcard.FrameSize-1]&0x01 == 0 {
		slog.Debug("simcard: frame without stop bit", "frame", fmt.Sprintf("% X", s.frame))
		return
	}
	if s.clocks < powerOnClocks {
		return
	}
	s.execute(s.frame[0]&0x3F, uint32(s.frame[1])<<24|uint32(s.frame[2])<<16|uint32(s.frame[3])<<8|uint32(s.frame[4]))
}

func (s *Card) status() byte {
	if s.initialized {
		return 0
	}
	return r1Idle
}

func (s *Card) respond(resp ...byte) {
	for i := 0; i < s.cfg.ResponseLatency; i++ {
		s.out.PushBack(0xFF)
	}
	for _, b := range resp {
		s.out.PushBack(b)
	}
}

func (s *Card) execute(cmd byte, arg uint32) {
	if !s.spiMode && cmd != 0 {
		return
	}
	s.commands = append(s.commands, cmd)
	app := s.appCmd
	s.appCmd = false

	switch cmd {
	case 0: // GO_IDLE_STATE
		s.spiMode = true
		s.initialized = false
		s.opRounds = s.cfg.OpCondRounds
		s.out.Clear()
		s.respond(r1Idle)
	case 8: // SEND_IF_COND
		if s.cfg.Version1 {
			s.respond(s.status() | r1Illegal)
			return
		}
		s.respond(s.status(), 0x00, 0x00, byte(arg>>8)&0x0F, byte(arg))
	case 9: // SEND_CSD
		if !s.initialized {
			s.respond(s.status() | r1Illegal)
			return
		}
		s.respond(0)
		s.dataPacket(s.csd())
	case 10: // SEND_CID
		if !s.initialized {
			s.respond(s.status() | r1Illegal)
			return
		}
		s.respond(0)
		s.dataPacket(s.cfg.CID[:])
	case 17: // READ_SINGLE_BLOCK
		s.readBlock(arg)
	case 41: // SD_SEND_OP_COND
		if !app {
			s.respond(s.status() | r1Illegal)
			return
		}
		if s.opRounds != 0 {
			if s.opRounds > 0 {
				s.opRounds--
			}
			s.respond(r1Idle)
			return
		}
		s.initialized = true
		s.respond(0)
	case 55: // APP_CMD
		s.appCmd = true
		s.respond(s.status())
	case 58: // READ_OCR
		ocr := byte(0)
		if s.initialized {
			ocr = 0x80
			if s.cfg.HighCapacity {
				ocr |= 0x40
			}
		}
		s.respond(s.status(), ocr, 0xFF, 0x80, 0x00)
	default:
		s.respond(s.status() | r1Illegal)
	}
}

func (s *Card) readBlock(arg uint32) {
	if !s.initialized {
		s.respond(s.status() | r1Illegal)
		return
	}
	block := arg
	if !s.cfg.HighCapacity {
		block = arg / sdcard.BlockSize
	}
	if block >= s.blocks {
		s.respond(r1ParameterErr)
		return
	}
	s.respond(0)
	if s.cfg.TokenLatency < 0 {
		return
	}
	buf := make([]byte, sdcard.BlockSize)
	if _, err := s.image.ReadAt(buf, int64(block)*sdcard.BlockSize); err != nil && err != io.EOF {
		slog.Error("simcard: image read failed", "block", block, "error", err)
		s.out.PushBack(errorToken)
		return
	}
	s.dataPacket(buf)
}

func (s *Card) dataPacket(data []byte) {
	for i := 0; i < s.cfg.TokenLatency; i++ {
		s.out.PushBack(0xFF)
	}
	if s.cfg.TokenLatency < 0 {
		return
	}
	s.out.PushBack(dataToken)
	for _, b := range data {
		s.out.PushBack(b)
	}
	// CRC is not checked in SPI mode
	s.out.PushBack(0x00)
	s.out.PushBack(0x00)
}

// csd builds a version 2 CSD for the configured capacity.
func (s *Card) csd() []byte {
	size := uint32(0)
	if s.blocks >= 1024 {
		size = s.blocks/1024 - 1
	}
	return []byte{0x40, 0x0E, 0x00, 0x32, 0x5B, 0x59, 0x00,
		byte(size>>16) & 0x3F, byte(size >> 8), byte(size),
		0x7F, 0x80, 0x0A, 0x40, 0x00, 0x01}
}

// --- inspection

// Profile returns the bus profile last configured.
func (s *Card) Profile() sdcard.Profile {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.profile
}

func (s *Card) Profiles() []sdcard.Profile {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]sdcard.Profile(nil), s.profiles...)
}

// Writes is the number of bytes clocked over the bus so far.
func (s *Card) Writes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writes
}

// Commands returns the indices of all commands the card accepted.
func (s *Card) Commands() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]byte(nil), s.commands...)
}

func (s *Card) PinConfigurations() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pinConfigs
}

// Delayed is the sum of all delays requested through Delay.
func (s *Card) Delayed() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.delay
}

func (s *Card) Trace() []Transfer {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.trace.transfers()
}
