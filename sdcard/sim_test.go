package sdcard_test

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"lautenbacher.net/sdcart/sdcard"
	"lautenbacher.net/sdcart/simcard"
)

func image(blocks int) []byte {
	img := make([]byte, blocks*sdcard.BlockSize)
	for i := range img {
		img[i] = byte(i/sdcard.BlockSize) + byte(i)
	}
	return img
}

func newSim(t *testing.T, mutate func(*simcard.Config)) (*simcard.Card, []byte) {
	t.Helper()
	img := image(2048)
	cfg := simcard.DefaultConfig()
	if mutate != nil {
		mutate(&cfg)
	}
	return simcard.New(bytes.NewReader(img), cfg), img
}

func TestSim_InitAndRead(t *testing.T) {
	sim, img := newSim(t, nil)
	card := sdcard.New(sim, sim)

	require.NoError(t, card.Init(context.Background()))
	assert.Equal(t, sdcard.Ready, card.State())
	assert.True(t, sim.Profile().HardwareCS)
	assert.Equal(t, sdcard.DefaultFastFrequency, sim.Profile().Frequency)

	for _, addr := range []uint32{0, 1, 1000, 2047} {
		var buf sdcard.Block
		require.NoError(t, card.ReadBlock(addr, &buf))
		off := int(addr) * sdcard.BlockSize
		assert.Equal(t, img[off:off+sdcard.BlockSize], buf[:], "block %d", addr)
	}
}

func TestSim_ScenarioA(t *testing.T) {
	sim, _ := newSim(t, func(c *simcard.Config) { c.OpCondRounds = 1 })
	card := sdcard.New(sim, sim)

	require.NoError(t, card.Init(context.Background()))
	assert.Equal(t, []byte{0, 8, 55, 41, 55, 41, 58}, sim.Commands())
	profiles := sim.Profiles()
	require.Len(t, profiles, 2)
	assert.Equal(t, "slow", profiles[0].Name)
	assert.Equal(t, "fast", profiles[1].Name)
}

func TestSim_ScenarioD(t *testing.T) {
	sim, _ := newSim(t, nil)
	sim.SetPresent(false)
	card := sdcard.New(sim, sim)

	assert.ErrorIs(t, card.Init(context.Background()), sdcard.ErrCardAbsent)
	assert.Zero(t, sim.Writes())
	assert.Zero(t, sim.PinConfigurations())
	assert.Empty(t, sim.Profiles())
}

func TestSim_InitTwice(t *testing.T) {
	sim, img := newSim(t, func(c *simcard.Config) { c.TraceSize = 0 })
	card := sdcard.New(sim, sim)

	require.NoError(t, card.Init(context.Background()))
	first := sim.Writes()
	firstCommands := sim.Commands()

	require.NoError(t, card.Init(context.Background()))
	assert.Equal(t, sdcard.Ready, card.State())
	assert.Equal(t, 2*first, sim.Writes(), "second handshake must clock the same bytes")
	assert.Equal(t, append(firstCommands, firstCommands...), sim.Commands())

	var buf sdcard.Block
	require.NoError(t, card.ReadBlock(3, &buf))
	assert.Equal(t, img[3*sdcard.BlockSize:4*sdcard.BlockSize], buf[:])
}

func TestSim_WarmResetGarbage(t *testing.T) {
	sim, _ := newSim(t, func(c *simcard.Config) {
		c.Garbage = []byte{0x3F, 0x00, 0x12, 0x7F, 0x01, 0x00, 0x80}
	})
	card := sdcard.New(sim, sim)

	require.NoError(t, card.Init(context.Background()))
}

func TestSim_ResponseLatency(t *testing.T) {
	for latency := 0; latency <= 7; latency++ {
		sim, _ := newSim(t, func(c *simcard.Config) { c.ResponseLatency = latency })
		card := sdcard.New(sim, sim)
		assert.NoError(t, card.Init(context.Background()), "latency %d", latency)
	}

	sim, _ := newSim(t, func(c *simcard.Config) { c.ResponseLatency = 8 })
	card := sdcard.New(sim, sim)
	err := card.Init(context.Background())
	assert.ErrorIs(t, err, sdcard.ErrResetFailed)
	assert.ErrorIs(t, err, sdcard.ErrResponseTimeout)
}

func TestSim_Rejections(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*simcard.Config)
		want   error
	}{
		{"version 1 card", func(c *simcard.Config) { c.Version1 = true }, sdcard.ErrVerificationFailed},
		{"standard capacity", func(c *simcard.Config) { c.HighCapacity = false }, sdcard.ErrCapacityCheckFailed},
		{"never leaves idle", func(c *simcard.Config) { c.OpCondRounds = -1 }, sdcard.ErrInitializationFailed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sim, _ := newSim(t, tt.mutate)
			limits := sdcard.DefaultLimits()
			limits.OpCondAttempts = 20
			card := sdcard.New(sim, sim, sdcard.WithLimits(limits))

			assert.ErrorIs(t, card.Init(context.Background()), tt.want)
			assert.Equal(t, sdcard.Failed, card.State())
			assert.Equal(t, "slow", sim.Profile().Name)
		})
	}
}

func TestSim_ReadFailures(t *testing.T) {
	t.Run("out of range", func(t *testing.T) {
		sim, _ := newSim(t, nil)
		card := sdcard.New(sim, sim)
		require.NoError(t, card.Init(context.Background()))

		buf := sdcard.Block{1, 2, 3}
		assert.ErrorIs(t, card.ReadBlock(4096, &buf), sdcard.ErrReadFailed)
		assert.Equal(t, sdcard.Block{1, 2, 3}, buf)
	})

	t.Run("token never sent", func(t *testing.T) {
		sim, _ := newSim(t, func(c *simcard.Config) { c.TokenLatency = -1 })
		limits := sdcard.DefaultLimits()
		limits.TokenPolls = 100
		card := sdcard.New(sim, sim, sdcard.WithLimits(limits))
		require.NoError(t, card.Init(context.Background()))

		buf := sdcard.Block{9}
		err := card.ReadBlock(0, &buf)
		assert.ErrorIs(t, err, sdcard.ErrReadFailed)
		assert.ErrorIs(t, err, sdcard.ErrResponseTimeout)
		assert.Equal(t, sdcard.Block{9}, buf)
	})

	t.Run("card pulled", func(t *testing.T) {
		sim, _ := newSim(t, nil)
		card := sdcard.New(sim, sim)
		require.NoError(t, card.Init(context.Background()))
		sim.SetPresent(false)

		var buf sdcard.Block
		assert.ErrorIs(t, card.ReadBlock(0, &buf), sdcard.ErrReadFailed)
		assert.ErrorIs(t, card.Init(context.Background()), sdcard.ErrCardAbsent)
	})
}

func TestSim_Registers(t *testing.T) {
	sim, _ := newSim(t, nil)
	card := sdcard.New(sim, sim)
	require.NoError(t, card.Init(context.Background()))

	blocks, err := card.Blocks()
	require.NoError(t, err)
	assert.Equal(t, uint64(2048), blocks)

	cid, err := card.ReadCID()
	require.NoError(t, err)
	assert.Equal(t, "SM", cid.OEM())
	assert.Equal(t, "SDCRT", cid.Product())
	assert.Equal(t, uint32(0x12345678), cid.Serial())
}
