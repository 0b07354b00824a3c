package i2c

import (
	"context"
	"fmt"
	"sync"

	gi2c "gobot.io/x/gobot/v2/drivers/i2c"

	"github.com/mklimuk/thermobus"
)

var _ thermobus.I2CBus = &GobotBus{}

// GobotBus talks to devices through a gobot I2C connector (e.g. the NanoPi
// NEO adaptor). One connection is opened per device address and kept.
type GobotBus struct {
	mx        sync.Mutex
	connector gi2c.Connector
	busNr     int
	conns     map[byte]gi2c.Connection
}

// NewGobotBus uses bus number busNr of the connector; a negative value selects the connector's default bus.
func NewGobotBus(connector gi2c.Connector, busNr int) *GobotBus {
	if busNr < 0 {
		busNr = connector.DefaultI2cBus()
	}
	return &GobotBus{connector: connector, busNr: busNr, conns: make(map[byte]gi2c.Connection)}
}

func (b *GobotBus) connection(address byte) (gi2c.Connection, error) {
	if conn, ok := b.conns[address]; ok {
		return conn, nil
	}
	conn, err := b.connector.GetI2cConnection(int(address), b.busNr)
	if err != nil {
		return nil, fmt.Errorf("could not open connection to %#x on bus %d: %w", address, b.busNr, err)
	}
	b.conns[address] = conn
	return conn, nil
}

func (b *GobotBus) WriteToAddr(ctx context.Context, address byte, buffer []byte) error {
	b.mx.Lock()
	defer b.mx.Unlock()
	conn, err := b.connection(address)
	if err != nil {
		return err
	}
	_, err = conn.Write(buffer)
	if err != nil {
		return fmt.Errorf("write to %#x failed: %w", address, err)
	}
	return nil
}

func (b *GobotBus) ReadFromAddr(ctx context.Context, address byte, buffer []byte) error {
	b.mx.Lock()
	defer b.mx.Unlock()
	conn, err := b.connection(address)
	if err != nil {
		return err
	}
	n, err := conn.Read(buffer)
	if err != nil {
		return fmt.Errorf("read from %#x failed: %w", address, err)
	}
	if n != len(buffer) {
		return fmt.Errorf("short read from %#x: %d of %d bytes", address, n, len(buffer))
	}
	return nil
}

// Release drops the cached connections so the next transfer reopens them.
func (b *GobotBus) Release(ctx context.Context) error {
	b.mx.Lock()
	defer b.mx.Unlock()
	var first error
	for addr, conn := range b.conns {
		if err := conn.Close(); err != nil && first == nil {
			first = fmt.Errorf("could not close connection to %#x: %w", addr, err)
		}
		delete(b.conns, addr)
	}
	return first
}

func (b *GobotBus) Close() error {
	return b.Release(context.Background())
}
