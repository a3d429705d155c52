package simcard

import (
	"fmt"

	"github.com/gammazero/deque"
)

// Transfer is one byte exchanged over the bus.
type Transfer struct {
	Out      byte // host to card
	In       byte // card to host
	Selected bool
}

func (t Transfer) String() string {
	sel := " "
	if t.Selected {
		sel = "*"
	}
	return fmt.Sprintf("%s%02X>%02X", sel, t.Out, t.In)
}

// trace keeps the most recent transfers.
type trace struct {
	max int
	buf deque.Deque[Transfer]
}

func newTrace(max int) *trace {
	t := &trace{max: max}
	if max > 0 {
		t.buf.Grow(max)
	}
	return t
}

func (t *trace) record(tr Transfer) {
	if t.max <= 0 {
		return
	}
	t.buf.PushBack(tr)
	if t.buf.Len() > t.max {
		t.buf.PopFront()
	}
}

func (t *trace) transfers() []Transfer {
	ret := make([]Transfer, t.buf.Len())
	for i := range ret {
		ret[i] = t.buf.At(i)
	}
	return ret
}
