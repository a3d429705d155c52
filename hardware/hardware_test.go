package hardware

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lautenbacher.net/sdcart/config"
	"lautenbacher.net/sdcart/sdcard"
)

// mockSPI answers every exchange with the next scripted byte, 0xFF once
// the script runs out.
type mockSPI struct {
	script      []byte
	written     []byte
	frequencies []int
	err         error
}

func (m *mockSPI) Exchange(write []byte) ([]byte, error) {
	if m.err != nil {
		return nil, m.err
	}
	m.written = append(m.written, write...)
	read := make([]byte, len(write))
	for i := range read {
		read[i] = 0xFF
		if len(m.script) > 0 {
			read[i], m.script = m.script[0], m.script[1:]
		}
	}
	return read, nil
}

func (m *mockSPI) SetFrequency(hz int) error {
	m.frequencies = append(m.frequencies, hz)
	return m.err
}

type mockPin struct {
	levels   []bool
	releases []bool
	level    bool
}

func (m *mockPin) Set(high bool) error {
	m.levels = append(m.levels, high)
	return nil
}

func (m *mockPin) Release(controller bool) error {
	m.releases = append(m.releases, controller)
	return nil
}

func (m *mockPin) Get() bool {
	return m.level
}

var _ sdcard.Bus = (*Bus)(nil)
var _ sdcard.Host = (*Host)(nil)

var (
	slow = sdcard.SlowProfile(sdcard.DefaultSlowFrequency)
	fast = sdcard.FastProfile(sdcard.DefaultFastFrequency)
)

func TestBus_WriteRead(t *testing.T) {
	port := &mockSPI{script: []byte{0x01, 0xAA}}
	bus := NewBus(port, &mockPin{}, false)

	assert.Equal(t, byte(0xFF), bus.Read(), "idle line before any exchange")

	require.NoError(t, bus.Write(0x40))
	assert.Equal(t, byte(0x01), bus.Read())
	require.NoError(t, bus.Write(0xFF))
	assert.Equal(t, byte(0xAA), bus.Read())
	assert.Equal(t, byte(0xAA), bus.Read(), "Read does not clock the bus")

	assert.Equal(t, []byte{0x40, 0xFF}, port.written)
}

func TestBus_WriteError(t *testing.T) {
	boom := errors.New("boom")
	bus := NewBus(&mockSPI{err: boom}, &mockPin{}, false)

	err := bus.Write(0x40)
	assert.ErrorIs(t, err, boom)
	assert.ErrorContains(t, err, "failed to exchange SPI byte")
}

func TestBus_ChipSelectActiveLow(t *testing.T) {
	pin := &mockPin{}
	bus := NewBus(&mockSPI{}, pin, false)

	require.NoError(t, bus.SetChipSelect(true))
	require.NoError(t, bus.SetChipSelect(false))
	assert.Equal(t, []bool{false, true}, pin.levels)
}

func TestBus_ConfigureKeepsGPIOChipSelect(t *testing.T) {
	port := &mockSPI{}
	pin := &mockPin{}
	bus := NewBus(port, pin, false)

	require.NoError(t, bus.Configure(slow))
	require.NoError(t, bus.Configure(fast))

	assert.Equal(t, []int{sdcard.DefaultSlowFrequency, sdcard.DefaultFastFrequency}, port.frequencies)
	assert.Empty(t, pin.releases)
	assert.Equal(t, "fast", bus.Profile().Name)

	require.NoError(t, bus.SetChipSelect(true))
	assert.Equal(t, []bool{false}, pin.levels, "GPIO still drives the line")
}

func TestBus_ConfigureHandsOffChipSelect(t *testing.T) {
	pin := &mockPin{}
	bus := NewBus(&mockSPI{}, pin, true)

	require.NoError(t, bus.Configure(slow))
	assert.Empty(t, pin.releases, "slow profile keeps GPIO chip select")

	require.NoError(t, bus.Configure(fast))
	require.NoError(t, bus.SetChipSelect(false))
	assert.Equal(t, []bool{true}, pin.releases)
	assert.Empty(t, pin.levels, "controller owns the line")

	// Re-initialization takes the line back.
	require.NoError(t, bus.Configure(slow))
	require.NoError(t, bus.SetChipSelect(true))
	assert.Equal(t, []bool{true, false}, pin.releases)
	assert.Equal(t, []bool{false}, pin.levels)
}

func TestBus_ConfigureError(t *testing.T) {
	boom := errors.New("boom")
	bus := NewBus(&mockSPI{err: boom}, &mockPin{}, false)

	err := bus.Configure(slow)
	assert.ErrorIs(t, err, boom)
	assert.ErrorContains(t, err, "failed to set SPI frequency to 280000 Hz")
}

func TestHost_CardPresent(t *testing.T) {
	tests := []struct {
		name       string
		detect     Sense
		activeHigh bool
		want       bool
	}{
		{"no detect switch", nil, true, true},
		{"active high inserted", &mockPin{level: true}, true, true},
		{"active high empty", &mockPin{level: false}, true, false},
		{"active low inserted", &mockPin{level: false}, false, true},
		{"active low empty", &mockPin{level: true}, false, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			host := NewHost(tt.detect, tt.activeHigh, nil)
			assert.Equal(t, tt.want, host.CardPresent())
		})
	}
}

func TestHost_ConfigurePins(t *testing.T) {
	assert.NoError(t, NewHost(nil, true, nil).ConfigurePins())

	calls := 0
	host := NewHost(nil, true, func() error {
		calls++
		return nil
	})
	require.NoError(t, host.ConfigurePins())
	assert.Equal(t, 1, calls)

	boom := errors.New("boom")
	err := NewHost(nil, true, func() error { return boom }).ConfigurePins()
	assert.ErrorIs(t, err, boom)
	assert.ErrorContains(t, err, "failed to configure card pins")
}

func TestHost_Delay(t *testing.T) {
	var slept []time.Duration
	host := NewHost(nil, true, nil)
	host.sleep = func(d time.Duration) { slept = append(slept, d) }

	host.Delay(10 * time.Millisecond)
	assert.Equal(t, []time.Duration{10 * time.Millisecond}, slept)
}

func TestOpen_UnknownLibrary(t *testing.T) {
	_, err := Open("wiringpi", config.Default().Hardware)
	assert.EqualError(t, err, `unknown GPIO library "wiringpi"`)
}

func TestPlatform_Close(t *testing.T) {
	var order []int
	first := errors.New("first")
	p := &Platform{closers: []func() error{
		func() error { order = append(order, 1); return first },
		func() error { order = append(order, 2); return nil },
	}}

	err := p.Close()
	assert.ErrorIs(t, err, first)
	assert.Equal(t, []int{2, 1}, order, "closed in reverse order")
	assert.NoError(t, p.Close())
}
