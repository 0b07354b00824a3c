package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"gobot.io/x/gobot/v2/platforms/friendlyelec/nanopi"

	"github.com/mklimuk/thermobus"
	"github.com/mklimuk/thermobus/adapter"
	"github.com/mklimuk/thermobus/config"
	"github.com/mklimuk/thermobus/ds1621"
	"github.com/mklimuk/thermobus/i2c"
	"github.com/mklimuk/thermobus/msgbus"
	"github.com/mklimuk/thermobus/simbus"
	"github.com/mklimuk/thermobus/sink"
	"github.com/mklimuk/thermobus/sink/modbus"
	"github.com/mklimuk/thermobus/sink/redis"
)

// openController returns the bus controller selected by the configuration and
// a function releasing the underlying hardware.
func openController(ctx context.Context, cfg *config.Config) (thermobus.Controller, func(), error) {
	timeout := msgbus.WithTransferTimeout(cfg.TransferTimeout())
	switch cfg.Bus.Adapter {
	case config.AdapterSim:
		bus, err := simulatedBus(cfg.Simulation)
		if err != nil {
			return nil, nil, err
		}
		return bus, func() {}, nil
	case config.AdapterMCP2221:
		a := adapter.NewMCP2221()
		err := a.Init(ctx)
		if err != nil {
			return nil, nil, fmt.Errorf("adapter initialization error: %w", err)
		}
		return msgbus.New(ctx, a, timeout), func() {}, nil
	case config.AdapterGeneric:
		bus, err := i2c.NewGenericBus(cfg.Bus.Device)
		if err != nil {
			return nil, nil, err
		}
		slog.Debug("i2c bus opened", "bus", bus.String())
		return msgbus.New(ctx, bus, timeout), func() { closeLogged("i2c bus", bus.Close) }, nil
	case config.AdapterNanoPi:
		npi := nanopi.NewNeoAdaptor()
		err := npi.I2cBusAdaptor.Connect()
		if err != nil {
			return nil, nil, fmt.Errorf("adaptor connect error: %w", err)
		}
		bus := i2c.NewGobotBus(npi, cfg.Bus.Number)
		return msgbus.New(ctx, bus, timeout), func() {
			closeLogged("gobot bus", bus.Close)
			closeLogged("nanopi adaptor", npi.I2cBusAdaptor.Finalize)
		}, nil
	}
	return nil, nil, fmt.Errorf("unknown adapter %q", cfg.Bus.Adapter)
}

func simulatedBus(cfg config.SimulationConfig) (*simbus.Bus, error) {
	bus := simbus.New(simbus.WithLatency(cfg.Latency))
	for _, s := range cfg.Sensors {
		fault, err := s.ParseFault()
		if err != nil {
			return nil, err
		}
		dev := simbus.NewDS1621(s.Celsius)
		dev.Fault = fault
		bus.Attach(ds1621.Address(s.Address), dev)
	}
	return bus, nil
}

func openPublishers(cfg config.SinksConfig) (sink.Fanout, error) {
	var pubs sink.Fanout
	if r := cfg.Redis; r != nil {
		pubs = append(pubs, redis.New(redis.Config{Addr: r.Addr, Password: r.Password, DB: r.DB, Prefix: r.Prefix}))
	}
	if m := cfg.Modbus; m != nil {
		s, err := modbus.New(modbus.Config{
			Endpoint: m.Endpoint,
			UnitID:   m.UnitID,
			Start:    m.Start,
			Timeout:  time.Duration(m.TimeoutMs) * time.Millisecond,
		})
		if err != nil {
			closeLogged("publishers", pubs.Close)
			return nil, err
		}
		pubs = append(pubs, s)
	}
	return pubs, nil
}

func closeLogged(what string, closer func() error) {
	if err := closer(); err != nil {
		slog.Warn("could not close "+what, "error", err)
	}
}
