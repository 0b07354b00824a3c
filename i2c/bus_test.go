package i2c

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	gi2c "gobot.io/x/gobot/v2/drivers/i2c"
	"periph.io/x/conn/v3/i2c/i2ctest"
	"periph.io/x/conn/v3/physic"
)

func TestGenericBus_Transfers(t *testing.T) {
	pb := &i2ctest.Playback{
		Ops: []i2ctest.IO{
			{Addr: 0x48, W: []byte{0xAA}},
			{Addr: 0x48, R: []byte{0x17}},
		},
		DontPanic: true,
	}
	b := &GenericBus{bus: pb}
	ctx := context.Background()

	require.NoError(t, b.SetSpeed(ctx, 100*physic.KiloHertz))
	require.NoError(t, b.WriteToAddr(ctx, 0x48, []byte{0xAA}))
	buf := []byte{0}
	require.NoError(t, b.ReadFromAddr(ctx, 0x48, buf))
	assert.Equal(t, byte(0x17), buf[0])
	assert.NoError(t, b.Release(ctx))
	assert.NoError(t, b.Close())
}

func TestGenericBus_UnexpectedTransferFails(t *testing.T) {
	pb := &i2ctest.Playback{DontPanic: true}
	b := &GenericBus{bus: pb}

	err := b.WriteToAddr(context.Background(), 0x49, []byte{0xEE})
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "could not write to i2c bus 49")
}

type fakeConn struct {
	gi2c.Connection
	address int
	written []byte
	read    []byte
	closed  bool
}

func (c *fakeConn) Write(b []byte) (int, error) {
	c.written = append(c.written, b...)
	return len(b), nil
}

func (c *fakeConn) Read(b []byte) (int, error) {
	return copy(b, c.read), nil
}

func (c *fakeConn) Close() error {
	c.closed = true
	return nil
}

type fakeConnector struct {
	opened  []*fakeConn
	present map[int]byte
}

func (f *fakeConnector) GetI2cConnection(address int, busNr int) (gi2c.Connection, error) {
	v, ok := f.present[address]
	if !ok {
		return nil, errors.New("no such device")
	}
	conn := &fakeConn{address: address, read: []byte{v}}
	f.opened = append(f.opened, conn)
	return conn, nil
}

func (f *fakeConnector) DefaultI2cBus() int {
	return 2
}

func TestGobotBus_ReusesConnections(t *testing.T) {
	connector := &fakeConnector{present: map[int]byte{0x48: 0x21}}
	b := NewGobotBus(connector, -1)
	ctx := context.Background()
	assert.Equal(t, 2, b.busNr)

	require.NoError(t, b.WriteToAddr(ctx, 0x48, []byte{0xAA}))
	buf := []byte{0}
	require.NoError(t, b.ReadFromAddr(ctx, 0x48, buf))
	assert.Equal(t, byte(0x21), buf[0])
	require.Len(t, connector.opened, 1)
	assert.Equal(t, []byte{0xAA}, connector.opened[0].written)

	assert.Error(t, b.WriteToAddr(ctx, 0x49, []byte{0xAA}))

	require.NoError(t, b.Release(ctx))
	assert.True(t, connector.opened[0].closed)
	require.NoError(t, b.ReadFromAddr(ctx, 0x48, buf))
	assert.Len(t, connector.opened, 2)
}
