// Package buttons reads the console's direction and action buttons and
// turns presses into release events.
package buttons

import (
	"fmt"

	"golang.org/x/exp/slices"
)

type Button int

const (
	Left Button = iota
	Up
	Down
	Right
	A
	B
	NumButtons
)

var names = []string{"Left", "Up", "Down", "Right", "A", "B"}

func (b Button) String() string {
	if b < 0 || b >= NumButtons {
		return fmt.Sprintf("Button(%d)", int(b))
	}
	return names[b]
}

// ParseButton maps a button name as used in the config file to a Button.
func ParseButton(name string) (Button, error) {
	i := slices.Index(names, name)
	if i < 0 {
		return 0, fmt.Errorf("unknown button %q", name)
	}
	return Button(i), nil
}

// Reader reports which buttons are held down right now.
type Reader interface {
	Pressed(b Button) bool
}

// Tracker turns pressed levels into release edges. The zero value is
// ready to use; each Tracker keeps its own history, so two consumers of
// the same Reader do not steal each other's events.
type Tracker struct {
	wasPressed [NumButtons]bool
}

// Released reports whether b was let go since the previous call for b.
func (t *Tracker) Released(r Reader, b Button) bool {
	if b < 0 || b >= NumButtons {
		return false
	}
	if r.Pressed(b) {
		t.wasPressed[b] = true
		return false
	}
	if t.wasPressed[b] {
		t.wasPressed[b] = false
		return true
	}
	return false
}

// Poll checks every button once and returns the released ones in
// button order.
func (t *Tracker) Poll(r Reader) []Button {
	var released []Button
	for b := Left; b < NumButtons; b++ {
		if t.Released(r, b) {
			released = append(released, b)
		}
	}
	return released
}

// pinMap resolves config button names to pin numbers indexed by Button.
func pinMap(pins map[string]int) ([NumButtons]int, error) {
	var mapped [NumButtons]int
	for i := range mapped {
		mapped[i] = -1
	}
	for name, pin := range pins {
		b, err := ParseButton(name)
		if err != nil {
			return mapped, err
		}
		mapped[b] = pin
	}
	return mapped, nil
}
