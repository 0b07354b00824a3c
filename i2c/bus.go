// Package i2c provides message level buses backed by the host's I2C
// controllers, through periph.io or gobot.
package i2c

import (
	"context"
	"fmt"
	"log/slog"

	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/host/v3"

	"github.com/mklimuk/thermobus"
)

var _ thermobus.I2CBus = &GenericBus{}
var _ thermobus.SpeedSetter = &GenericBus{}

// GenericBus is a Linux i2c-dev bus opened through periph.io.
type GenericBus struct {
	bus i2c.BusCloser
}

// NewGenericBus opens the named bus (e.g. "/dev/i2c-1" or "1"); an empty name opens the first one.
func NewGenericBus(dev string) (*GenericBus, error) {
	state, err := host.Init()
	if err != nil {
		return nil, fmt.Errorf("could not init host: %w", err)
	}
	for _, driver := range state.Loaded {
		slog.Debug("host driver loaded", "driver", driver.String())
	}
	bus, err := i2creg.Open(dev)
	if err != nil {
		return nil, fmt.Errorf("could not open i2c bus: %w", err)
	}
	return &GenericBus{
		bus: bus,
	}, nil
}

func (b *GenericBus) ReadFromAddr(ctx context.Context, address byte, buffer []byte) error {
	err := b.bus.Tx(uint16(address), nil, buffer)
	if err != nil {
		return fmt.Errorf("could not read from i2c bus %x: %w", address, err)
	}
	return nil
}

func (b *GenericBus) WriteToAddr(ctx context.Context, address byte, buffer []byte) error {
	err := b.bus.Tx(uint16(address), buffer, nil)
	if err != nil {
		return fmt.Errorf("could not write to i2c bus %x: %w", address, err)
	}
	return nil
}

// Release is a no-op: the kernel driver ends every transfer with a stop.
func (b *GenericBus) Release(ctx context.Context) error {
	return nil
}

func (b *GenericBus) SetSpeed(ctx context.Context, speed physic.Frequency) error {
	err := b.bus.SetSpeed(speed)
	if err != nil {
		return fmt.Errorf("could not set i2c bus speed to %s: %w", speed, err)
	}
	return nil
}

func (b *GenericBus) String() string {
	return b.bus.String()
}

func (b *GenericBus) Close() error {
	return b.bus.Close()
}
