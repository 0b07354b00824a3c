package msgbus

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"periph.io/x/conn/v3/physic"

	"github.com/mklimuk/thermobus/ds1621"
	"github.com/mklimuk/thermobus/twi"
)

var errNack = errors.New("nack")

type fakeDevice struct {
	registers map[byte]byte
	pointer   byte
}

type fakeBus struct {
	devices  map[byte]*fakeDevice
	releases int
	writes   int
}

func newFakeBus() *fakeBus {
	return &fakeBus{devices: make(map[byte]*fakeDevice)}
}

func (b *fakeBus) WriteToAddr(ctx context.Context, address byte, buffer []byte) error {
	b.writes++
	dev, ok := b.devices[address]
	if !ok {
		return errNack
	}
	dev.pointer = buffer[0]
	return nil
}

func (b *fakeBus) ReadFromAddr(ctx context.Context, address byte, buffer []byte) error {
	dev, ok := b.devices[address]
	if !ok {
		return errNack
	}
	buffer[0] = dev.registers[dev.pointer]
	return nil
}

func (b *fakeBus) Release(ctx context.Context) error {
	b.releases++
	return nil
}

type speedBus struct {
	*fakeBus
	speed physic.Frequency
}

func (b *speedBus) SetSpeed(ctx context.Context, speed physic.Frequency) error {
	b.speed = speed
	return nil
}

// hangingBus never answers until the transfer context ends.
type hangingBus struct {
	releases atomic.Int32
}

func (b *hangingBus) WriteToAddr(ctx context.Context, address byte, buffer []byte) error {
	<-ctx.Done()
	return ctx.Err()
}

func (b *hangingBus) ReadFromAddr(ctx context.Context, address byte, buffer []byte) error {
	<-ctx.Done()
	return ctx.Err()
}

func (b *hangingBus) Release(ctx context.Context) error {
	b.releases.Add(1)
	return nil
}

// run advances e until the transaction ends. Transfers complete on their own
// goroutines, so it keeps polling for a while.
func run(t *testing.T, e *twi.Engine) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		e.Advance()
		if e.Outcome() != twi.Pending {
			return
		}
		time.Sleep(10 * time.Microsecond)
	}
	t.Fatalf("transaction did not end, phase %s", e.Phase())
}

func TestController_WriteThenRead(t *testing.T) {
	bus := newFakeBus()
	bus.devices[0x48] = &fakeDevice{registers: map[byte]byte{0xAA: 0x19}}
	e := twi.New(New(context.Background(), bus))

	require.NoError(t, e.BeginWrite(0x48, 0xAA))
	run(t, e)
	require.Equal(t, twi.Finished, e.Outcome())

	require.NoError(t, e.BeginRead(0x48))
	run(t, e)
	assert.Equal(t, twi.Finished, e.Outcome())
	assert.Equal(t, byte(0x19), e.Data())
	assert.Equal(t, 0, bus.releases)
}

func TestController_FailedTransferReleasesBus(t *testing.T) {
	bus := newFakeBus()
	e := twi.New(New(context.Background(), bus))

	require.NoError(t, e.BeginWrite(0x49, 0xEE))
	run(t, e)
	assert.Equal(t, twi.Failed, e.Outcome())
	assert.ErrorIs(t, e.Err(), twi.ErrProtocol)

	require.NoError(t, e.BeginRead(0x49))
	run(t, e)
	assert.Equal(t, twi.Failed, e.Outcome())
	assert.Equal(t, byte(0xEE), e.Data())
	assert.Equal(t, 2, bus.releases)
}

func TestController_SequencerRound(t *testing.T) {
	bus := newFakeBus()
	bus.devices[0x48] = &fakeDevice{registers: map[byte]byte{0xAA: 23, 0xA8: 3, 0xA9: 4}}
	out := ds1621.NewReadings(1)
	seq, err := ds1621.New(twi.New(New(context.Background(), bus)), 1, out)
	require.NoError(t, err)

	done := false
	deadline := time.Now().Add(time.Second)
	for !done && time.Now().Before(deadline) {
		done = seq.Poll()
	}
	require.True(t, done)
	assert.Equal(t, ds1621.Readings{230, ds1621.NotPresent}, out)
	assert.Equal(t, 8, bus.writes, "four command writes per sensor")
}

func TestController_Configure(t *testing.T) {
	plain := New(context.Background(), newFakeBus())
	assert.NoError(t, plain.Configure(20*physic.MegaHertz, 100*physic.KiloHertz))

	bus := &speedBus{fakeBus: newFakeBus()}
	c := New(context.Background(), bus)
	require.NoError(t, c.Configure(20*physic.MegaHertz, 400*physic.KiloHertz))
	assert.Equal(t, 400*physic.KiloHertz, bus.speed)
}

func TestController_HungTransferTimesOut(t *testing.T) {
	bus := &hangingBus{}
	e := twi.New(New(context.Background(), bus, WithTransferTimeout(time.Minute)), twi.WithTimeout(5))

	require.NoError(t, e.BeginWrite(0x48, 0xEE))
	for i := 0; i < 20 && e.Phase() != twi.PhaseAborting; i++ {
		e.Tick()
		start := time.Now()
		e.Advance()
		require.Less(t, time.Since(start), 50*time.Millisecond, "advance blocked in %s phase", e.Phase())
	}
	require.Equal(t, twi.PhaseAborting, e.Phase())
	// no more ticks: the bus is released once the abandoned transfer returns
	run(t, e)
	assert.Equal(t, twi.Failed, e.Outcome())
	assert.ErrorIs(t, e.Err(), twi.ErrTimeout)
	assert.Contains(t, e.Err().Error(), "data phase")
	assert.Equal(t, int32(1), bus.releases.Load())
}

func TestController_PollNeverBlocksOnHungBus(t *testing.T) {
	bus := &hangingBus{}
	e := twi.New(New(context.Background(), bus, WithTransferTimeout(time.Minute)), twi.WithTimeout(5))
	out := ds1621.NewReadings(0)
	out[0] = 0
	seq, err := ds1621.New(e, 0, out)
	require.NoError(t, err)

	done := false
	deadline := time.Now().Add(2 * time.Second)
	for !done && time.Now().Before(deadline) {
		e.Tick()
		start := time.Now()
		done = seq.Poll()
		require.Less(t, time.Since(start), 50*time.Millisecond, "poll blocked in %s phase", e.Phase())
		time.Sleep(10 * time.Microsecond)
	}
	require.True(t, done)
	assert.Equal(t, ds1621.Readings{ds1621.NotPresent}, out)
	assert.Equal(t, 7, seq.Failures())
}
