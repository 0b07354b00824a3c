package main

import (
	"fmt"

	"github.com/urfave/cli/v2"

	"github.com/mklimuk/thermobus/cmd/thermobus/console"
	"github.com/mklimuk/thermobus/config"
	"github.com/mklimuk/thermobus/ds1621"
)

var configCmd = cli.Command{
	Name:  "config",
	Usage: "print the effective configuration",
	Flags: pollFlags,
	Action: func(c *cli.Context) error {
		cfg, err := loadConfig(c)
		if err != nil {
			return console.Exit(1, "configuration error: %s", console.Red(err))
		}
		out, err := config.Encode(cfg)
		if err != nil {
			return console.Exit(1, "encoding error: %s", console.Red(err))
		}
		console.Printf("%s", out)
		return nil
	},
}

// loadConfig reads the --config file, if any, and applies command line overrides.
func loadConfig(c *cli.Context) (*config.Config, error) {
	cfg := config.Default()
	if path := c.String("config"); path != "" {
		var err error
		cfg, err = config.Load(path)
		if err != nil {
			return nil, err
		}
	}
	if c.IsSet("adapter") {
		cfg.Bus.Adapter = c.String("adapter")
	}
	if c.IsSet("device") {
		cfg.Bus.Device = c.String("device")
	}
	if c.IsSet("speed") {
		cfg.Bus.SpeedHz = c.Int64("speed")
	}
	if c.IsSet("highest") {
		highest := c.Uint("highest")
		if highest > ds1621.MaxAddress {
			return nil, fmt.Errorf("%w: highest sensor address %d above %d", config.ErrInvalid, highest, ds1621.MaxAddress)
		}
		cfg.Poll.HighestAddress = uint8(highest)
	}
	if c.IsSet("redis") {
		cfg.Sinks.Redis = &config.RedisConfig{Addr: c.String("redis"), Prefix: "thermobus"}
	}
	if c.IsSet("modbus") {
		cfg.Sinks.Modbus = &config.ModbusConfig{Endpoint: c.String("modbus"), UnitID: 1, TimeoutMs: 1000}
	}
	err := config.Validate(cfg)
	if err != nil {
		return nil, err
	}
	return cfg, nil
}
