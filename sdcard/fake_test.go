package sdcard

import (
	"time"
)

// fakeCard answers command frames from a reply script. Replies for a
// command are used in order, the last one repeats. A command without
// replies is never answered.
type fakeCard struct {
	present  bool
	replies  map[byte][][]byte
	calls    map[byte]int
	commands []byte
	frames   [][FrameSize]byte
	frame    []byte
	out      []byte
	last     byte
	written  []byte
	cs       []bool
	profiles []Profile
	pins     int
	delays   []time.Duration
}

func newFakeCard() *fakeCard {
	return &fakeCard{
		present: true,
		last:    0xFF,
		calls:   make(map[byte]int),
		replies: map[byte][][]byte{
			0:  {{0x01}},
			8:  {{0x01, 0x00, 0x00, 0x01, 0xAA}},
			55: {{0x01}},
			41: {{0x01}, {0x00}},
			58: {{0x00, 0xC0, 0xFF, 0x80, 0x00}},
		},
	}
}

func (f *fakeCard) Write(b byte) error {
	f.written = append(f.written, b)
	f.last = 0xFF
	if len(f.out) > 0 {
		f.last = f.out[0]
		f.out = f.out[1:]
	}
	if len(f.frame) == 0 && b&0xC0 != 0x40 {
		return nil
	}
	f.frame = append(f.frame, b)
	if len(f.frame) < FrameSize {
		return nil
	}
	var frame [FrameSize]byte
	copy(frame[:], f.frame)
	f.frame = nil
	f.frames = append(f.frames, frame)

	cmd := frame[0] & 0x3F
	f.commands = append(f.commands, cmd)
	list := f.replies[cmd]
	n := f.calls[cmd]
	f.calls[cmd]++
	if len(list) == 0 {
		return nil
	}
	if n >= len(list) {
		n = len(list) - 1
	}
	f.out = append([]byte{0xFF}, list[n]...)
	return nil
}

func (f *fakeCard) Read() byte { return f.last }

func (f *fakeCard) SetChipSelect(active bool) error {
	f.cs = append(f.cs, active)
	return nil
}

func (f *fakeCard) Configure(p Profile) error {
	f.profiles = append(f.profiles, p)
	return nil
}

func (f *fakeCard) ConfigurePins() error {
	f.pins++
	return nil
}

func (f *fakeCard) CardPresent() bool { return f.present }

func (f *fakeCard) Delay(d time.Duration) { f.delays = append(f.delays, d) }

func blockReply(data *Block) []byte {
	reply := []byte{0x00, 0xFF, TokenStartBlock}
	reply = append(reply, data[:]...)
	return append(reply, 0x00, 0x00)
}
