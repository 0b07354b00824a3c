package twi

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mklimuk/thermobus/simbus"
)

const sensorAddr = 0x48

func advanceToEnd(t *testing.T, e *Engine, limit int) int {
	t.Helper()
	for i := 1; i <= limit; i++ {
		e.Advance()
		if e.Outcome() != Pending {
			return i
		}
	}
	t.Fatalf("no terminal outcome after %d calls (phase %s)", limit, e.Phase())
	return 0
}

func TestEngine_WriteFinishes(t *testing.T) {
	bus := simbus.New()
	dev := simbus.NewDS1621(21.5)
	bus.Attach(sensorAddr, dev)
	e := New(bus)

	require.NoError(t, e.BeginWrite(sensorAddr, 0xEE))
	assert.Equal(t, PhaseRequested, e.Phase())
	advanceToEnd(t, e, 10)

	assert.Equal(t, Finished, e.Outcome())
	assert.NoError(t, e.Err())
	assert.Equal(t, []byte{0x90, 0xEE}, bus.Writes)
	assert.Equal(t, 1, bus.Starts)
	assert.Equal(t, 1, bus.Stops)
	assert.Equal(t, 1, dev.Conversions())
}

func TestEngine_ReadLatchesByte(t *testing.T) {
	bus := simbus.New(simbus.WithLatency(2))
	dev := simbus.NewDS1621(0)
	dev.SetRegisters(-3, 0x10, 0x20)
	bus.Attach(sensorAddr, dev)
	e := New(bus)

	for _, cmd := range []byte{0xEE, 0xA9} {
		require.NoError(t, e.BeginWrite(sensorAddr, cmd))
		advanceToEnd(t, e, 50)
		require.Equal(t, Finished, e.Outcome())
	}
	require.NoError(t, e.BeginRead(sensorAddr))
	advanceToEnd(t, e, 50)

	assert.Equal(t, Finished, e.Outcome())
	assert.Equal(t, Read, e.Direction())
	assert.Equal(t, byte(0x20), e.Data())
	assert.Equal(t, byte(0x91), bus.Writes[len(bus.Writes)-1])
	assert.Equal(t, 3, bus.Stops)
}

func TestEngine_AcknowledgeFailures(t *testing.T) {
	tests := []struct {
		name  string
		setup func(bus *simbus.Bus)
		read  bool
	}{
		{"absent write", func(bus *simbus.Bus) {}, false},
		{"absent read", func(bus *simbus.Bus) {}, true},
		{"data nack write", func(bus *simbus.Bus) {
			bus.Attach(sensorAddr, &simbus.DS1621{Fault: simbus.FaultDataNack})
		}, false},
		{"data nack read", func(bus *simbus.Bus) {
			bus.Attach(sensorAddr, &simbus.DS1621{Fault: simbus.FaultDataNack})
		}, true},
	}
	for _, latency := range []int{0, 1, 3} {
		for _, test := range tests {
			t.Run(fmt.Sprintf("%s/latency %d", test.name, latency), func(t *testing.T) {
				bus := simbus.New(simbus.WithLatency(latency))
				test.setup(bus)
				e := New(bus)
				var err error
				if test.read {
					err = e.BeginRead(sensorAddr)
				} else {
					err = e.BeginWrite(sensorAddr, 0xAA)
				}
				require.NoError(t, err)

				calls := advanceToEnd(t, e, 5*(latency+1))
				assert.LessOrEqual(t, calls, 4*latency+5)
				assert.Equal(t, Failed, e.Outcome())
				assert.True(t, errors.Is(e.Err(), ErrProtocol), "got %v", e.Err())
				assert.Equal(t, 1, bus.Starts)
				assert.Equal(t, 1, bus.Stops)
			})
		}
	}
}

func TestEngine_StartError(t *testing.T) {
	bus := simbus.New(simbus.WithStartError())
	bus.Attach(sensorAddr, simbus.NewDS1621(20))
	e := New(bus)

	require.NoError(t, e.BeginWrite(sensorAddr, 0xEE))
	advanceToEnd(t, e, 10)

	assert.Equal(t, Failed, e.Outcome())
	assert.ErrorIs(t, e.Err(), ErrProtocol)
	assert.Empty(t, bus.Writes)
	assert.Equal(t, 1, bus.Stops)
}

func TestEngine_TimeoutWhenHardwareNeverCompletes(t *testing.T) {
	bus := simbus.New(simbus.WithHang())
	e := New(bus)

	require.NoError(t, e.BeginWrite(sensorAddr, 0xEE))
	e.Advance()
	require.Equal(t, PhaseStart, e.Phase())

	for i := 0; i < DefaultTimeout-1; i++ {
		e.Tick()
	}
	e.Advance()
	assert.Equal(t, PhaseStart, e.Phase(), "must not expire at the threshold")
	assert.Equal(t, 0, bus.Stops)

	e.Tick()
	e.Advance()
	assert.Equal(t, PhaseAborting, e.Phase())
	assert.Equal(t, 1, bus.Stops)

	e.Advance()
	assert.Equal(t, Failed, e.Outcome())
	assert.ErrorIs(t, e.Err(), ErrTimeout)
	assert.Equal(t, uint8(0), e.Counter().Value())
}

func TestEngine_HungDeviceTimesOutInAddressPhase(t *testing.T) {
	bus := simbus.New()
	bus.Attach(sensorAddr, &simbus.DS1621{Fault: simbus.FaultHang})
	e := New(bus, WithTimeout(5))

	require.NoError(t, e.BeginRead(sensorAddr))
	e.Advance()
	e.Advance()
	require.Equal(t, PhaseAddress, e.Phase())
	for i := 0; i < 10; i++ {
		e.Tick()
		e.Advance()
	}
	assert.Equal(t, Failed, e.Outcome())
	assert.ErrorIs(t, e.Err(), ErrTimeout)
	assert.Contains(t, e.Err().Error(), "address phase")
	assert.Equal(t, 1, bus.Stops)
}

func TestEngine_StuckStopIsBounded(t *testing.T) {
	bus := simbus.New()
	bus.Attach(sensorAddr, &simbus.DS1621{Fault: simbus.FaultStuckStop})
	e := New(bus, WithTimeout(3))

	require.NoError(t, e.BeginWrite(sensorAddr, 0xAA))
	for i := 0; i < 4; i++ {
		e.Advance()
	}
	require.Equal(t, PhaseStop, e.Phase())

	for i := 0; i < 4; i++ {
		e.Tick()
	}
	e.Advance()
	require.Equal(t, PhaseAborting, e.Phase())
	assert.Equal(t, 1, bus.Stops, "a timed out stop is not repeated")

	for i := 0; i < 4; i++ {
		e.Tick()
	}
	e.Advance()
	assert.Equal(t, Failed, e.Outcome())
	assert.ErrorIs(t, e.Err(), ErrTimeout)
	assert.Equal(t, 1, bus.Stops)
}

func TestEngine_TimeoutIsClamped(t *testing.T) {
	t.Run("saturating timeout still expires", func(t *testing.T) {
		bus := simbus.New(simbus.WithHang())
		e := New(bus, WithTimeout(255))

		require.NoError(t, e.BeginWrite(sensorAddr, 0xEE))
		e.Advance()
		for i := 0; i < 300; i++ {
			e.Tick()
		}
		e.Advance()
		e.Advance()
		assert.Equal(t, Failed, e.Outcome())
		assert.ErrorIs(t, e.Err(), ErrTimeout)
	})
	t.Run("zero timeout waits one tick", func(t *testing.T) {
		bus := simbus.New(simbus.WithHang())
		e := New(bus, WithTimeout(0))

		require.NoError(t, e.BeginWrite(sensorAddr, 0xEE))
		e.Advance()
		e.Advance()
		assert.Equal(t, PhaseStart, e.Phase())

		e.Tick()
		e.Advance()
		assert.Equal(t, PhaseAborting, e.Phase())
	})
}

func TestEngine_BusyRejectsSecondRequest(t *testing.T) {
	bus := simbus.New()
	bus.Attach(sensorAddr, simbus.NewDS1621(20))
	e := New(bus)

	require.NoError(t, e.BeginWrite(sensorAddr, 0xEE))
	assert.ErrorIs(t, e.BeginRead(sensorAddr), ErrBusy)
	e.Advance()
	assert.ErrorIs(t, e.BeginRead(sensorAddr), ErrBusy)

	advanceToEnd(t, e, 10)
	assert.NoError(t, e.BeginRead(sensorAddr))
	assert.Equal(t, 1, bus.Starts, "a new request only starts on Advance")
}

func TestEngine_RejectsWideAddress(t *testing.T) {
	e := New(simbus.New())
	assert.ErrorIs(t, e.BeginWrite(0x80, 0x00), ErrAddress)
	assert.Equal(t, PhaseIdle, e.Phase())
}

func TestEngine_FailedReadKeepsDataRegister(t *testing.T) {
	bus := simbus.New()
	e := New(bus)

	require.NoError(t, e.BeginWrite(sensorAddr, 0xA9))
	advanceToEnd(t, e, 10)
	require.Equal(t, Failed, e.Outcome())
	require.NoError(t, e.BeginRead(sensorAddr))
	advanceToEnd(t, e, 10)

	assert.Equal(t, Failed, e.Outcome())
	assert.Equal(t, byte(0xA9), e.Data())
}

func TestEngine_ResetIgnoredWhileActive(t *testing.T) {
	bus := simbus.New()
	bus.Attach(sensorAddr, simbus.NewDS1621(20))
	e := New(bus)

	require.NoError(t, e.BeginWrite(sensorAddr, 0xEE))
	e.Advance()
	e.Reset()
	assert.Equal(t, PhaseStart, e.Phase())

	advanceToEnd(t, e, 10)
	e.Reset()
	assert.Equal(t, PhaseIdle, e.Phase())
	assert.Equal(t, Pending, e.Outcome())
}

func TestCounter_Saturates(t *testing.T) {
	var c Counter
	c.Tick()
	assert.Equal(t, uint8(0), c.Value(), "stopped counter ignores ticks")

	c.Arm()
	for i := 0; i < 300; i++ {
		c.Tick()
	}
	assert.Equal(t, uint8(255), c.Value())
	c.Arm()
	assert.Equal(t, uint8(1), c.Value())
	c.Stop()
	assert.Equal(t, uint8(0), c.Value())
}

func TestCounter_ConcurrentTicks(t *testing.T) {
	var c Counter
	c.Arm()
	var wg sync.WaitGroup
	for g := 0; g < 4; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 20; i++ {
				c.Tick()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, uint8(81), c.Value())
}

func TestClock_Run(t *testing.T) {
	var c Counter
	c.Arm()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		Clock{Interval: time.Millisecond}.Run(ctx, &c)
		close(done)
	}()
	assert.Eventually(t, func() bool { return c.Value() > 3 }, time.Second, time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("clock did not stop")
	}
}
