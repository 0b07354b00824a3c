// Package config holds the thermobus runtime configuration, read from YAML.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"
	"periph.io/x/conn/v3/physic"

	"github.com/mklimuk/thermobus"
	"github.com/mklimuk/thermobus/ds1621"
	"github.com/mklimuk/thermobus/simbus"
	"github.com/mklimuk/thermobus/twi"
)

// Version is set at build time by the dev tool.
var Version = "dev"

const (
	AdapterMCP2221 = "mcp2221"
	AdapterGeneric = "generic"
	AdapterNanoPi  = "nanopi"
	AdapterSim     = "sim"
)

var ErrInvalid = errors.New("invalid configuration")

type Config struct {
	Bus        BusConfig        `yaml:"bus"`
	Poll       PollConfig       `yaml:"poll"`
	Simulation SimulationConfig `yaml:"simulation"`
	Sinks      SinksConfig      `yaml:"sinks"`
}

type BusConfig struct {
	Adapter string `yaml:"adapter"`
	// Device names the periph bus ("1", "/dev/i2c-1") for the generic adapter.
	Device string `yaml:"device"`
	// Number selects the gobot bus; negative means the board default.
	Number  int   `yaml:"number"`
	ClockHz int64 `yaml:"clock_hz"`
	SpeedHz int64 `yaml:"speed_hz"`
}

type PollConfig struct {
	HighestAddress  uint8 `yaml:"highest_address"`
	TickUs          int   `yaml:"tick_us"`
	TimeoutTicks    uint8 `yaml:"timeout_ticks"`
	PollIntervalUs  int   `yaml:"poll_interval_us"`
	RoundIntervalMs int   `yaml:"round_interval_ms"`
}

type SimulationConfig struct {
	// Latency is the number of status checks each bus operation takes to complete.
	Latency int         `yaml:"latency"`
	Sensors []SimSensor `yaml:"sensors"`
}

type SimSensor struct {
	Address uint8   `yaml:"address"`
	Celsius float64 `yaml:"celsius"`
	Fault   string  `yaml:"fault,omitempty"`
}

// ParseFault maps the fault name; an empty name means a healthy sensor.
func (s SimSensor) ParseFault() (simbus.Fault, error) {
	if s.Fault == "" {
		return simbus.FaultNone, nil
	}
	f, ok := simbus.ParseFault(s.Fault)
	if !ok {
		return simbus.FaultNone, fmt.Errorf("unknown fault %q", s.Fault)
	}
	return f, nil
}

type SinksConfig struct {
	Redis  *RedisConfig  `yaml:"redis,omitempty"`
	Modbus *ModbusConfig `yaml:"modbus,omitempty"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password,omitempty"`
	DB       int    `yaml:"db"`
	Prefix   string `yaml:"prefix"`
}

type ModbusConfig struct {
	Endpoint  string `yaml:"endpoint"`
	UnitID    uint8  `yaml:"unit_id"`
	Start     uint16 `yaml:"start"`
	TimeoutMs int    `yaml:"timeout_ms"`
}

// Default returns a configuration polling all eight sensors through an MCP2221.
func Default() *Config {
	return &Config{
		Bus: BusConfig{
			Adapter: AdapterMCP2221,
			Number:  -1,
			ClockHz: 16_000_000,
			SpeedHz: 100_000,
		},
		Poll: PollConfig{
			HighestAddress:  ds1621.MaxAddress,
			TickUs:          int(twi.DefaultTickInterval / time.Microsecond),
			TimeoutTicks:    twi.DefaultTimeout,
			PollIntervalUs:  int(ds1621.DefaultPollInterval / time.Microsecond),
			RoundIntervalMs: int(ds1621.DefaultRoundInterval / time.Millisecond),
		},
	}
}

// Load reads the file at path over the defaults.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("could not open config file: %w", err)
	}
	defer func() { _ = f.Close() }()
	return Read(f)
}

// Read decodes YAML over the defaults. Unknown keys are rejected.
func Read(r io.Reader) (*Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	err := dec.Decode(cfg)
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("could not decode config: %w", err)
	}
	return cfg, nil
}

// Encode renders cfg as YAML.
func Encode(cfg *Config) ([]byte, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(cfg); err != nil {
		return nil, fmt.Errorf("could not encode config: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (c BusConfig) Clock() physic.Frequency {
	return physic.Frequency(c.ClockHz) * physic.Hertz
}

func (c BusConfig) Speed() physic.Frequency {
	return physic.Frequency(c.SpeedHz) * physic.Hertz
}

func (c PollConfig) Tick() time.Duration {
	return time.Duration(c.TickUs) * time.Microsecond
}

// minTick keeps the transaction timeout of message level adapters above the
// duration of a single transfer. The MCP2221 needs two USB round trips per read.
var minTick = map[string]time.Duration{
	AdapterMCP2221: 10 * time.Millisecond,
	AdapterGeneric: 500 * time.Microsecond,
	AdapterNanoPi:  500 * time.Microsecond,
}

// Tick returns the timeout tick for the configured adapter: the polling tick,
// raised to the shortest one the adapter can work with.
func (c *Config) Tick() time.Duration {
	return max(c.Poll.Tick(), minTick[c.Bus.Adapter])
}

// TransferTimeout bounds a single call on a message level bus. It outlasts
// the transaction timeout so the engine always gives up first.
func (c *Config) TransferTimeout() time.Duration {
	return 2 * c.Tick() * time.Duration(int(c.Poll.TimeoutTicks)+1)
}

func (c PollConfig) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalUs) * time.Microsecond
}

func (c PollConfig) RoundInterval() time.Duration {
	return time.Duration(c.RoundIntervalMs) * time.Millisecond
}

// Validate checks the configuration without changing it.
func Validate(cfg *Config) error {
	switch cfg.Bus.Adapter {
	case AdapterMCP2221, AdapterGeneric, AdapterNanoPi, AdapterSim:
	default:
		return fmt.Errorf("%w: unknown adapter %q", ErrInvalid, cfg.Bus.Adapter)
	}
	if cfg.Bus.SpeedHz <= 0 {
		return fmt.Errorf("%w: bus speed must be positive", ErrInvalid)
	}
	if cfg.Bus.Adapter == AdapterSim {
		// the simulated controller derives a bit rate register like a bare one
		if _, err := thermobus.BitRate(cfg.Bus.Clock(), cfg.Bus.Speed()); err != nil {
			return fmt.Errorf("%w: %w", ErrInvalid, err)
		}
	}
	if cfg.Poll.HighestAddress > ds1621.MaxAddress {
		return fmt.Errorf("%w: highest_address %d above %d", ErrInvalid, cfg.Poll.HighestAddress, ds1621.MaxAddress)
	}
	if cfg.Poll.TickUs <= 0 || cfg.Poll.PollIntervalUs <= 0 {
		return fmt.Errorf("%w: tick_us and poll_interval_us must be positive", ErrInvalid)
	}
	if cfg.Poll.RoundIntervalMs < 0 {
		return fmt.Errorf("%w: negative round_interval_ms", ErrInvalid)
	}
	if cfg.Poll.TimeoutTicks == 0 || cfg.Poll.TimeoutTicks == 0xFF {
		return fmt.Errorf("%w: timeout_ticks must be within 1..254", ErrInvalid)
	}
	if cfg.Simulation.Latency < 0 {
		return fmt.Errorf("%w: negative simulation latency", ErrInvalid)
	}
	seen := make(map[uint8]bool)
	for _, s := range cfg.Simulation.Sensors {
		if s.Address > ds1621.MaxAddress {
			return fmt.Errorf("%w: simulated sensor address %d above %d", ErrInvalid, s.Address, ds1621.MaxAddress)
		}
		if seen[s.Address] {
			return fmt.Errorf("%w: simulated sensor %d defined twice", ErrInvalid, s.Address)
		}
		seen[s.Address] = true
		if _, err := s.ParseFault(); err != nil {
			return fmt.Errorf("%w: sensor %d: %w", ErrInvalid, s.Address, err)
		}
	}
	if r := cfg.Sinks.Redis; r != nil && r.Addr == "" {
		return fmt.Errorf("%w: redis sink requires addr", ErrInvalid)
	}
	if m := cfg.Sinks.Modbus; m != nil {
		if m.Endpoint == "" {
			return fmt.Errorf("%w: modbus sink requires endpoint", ErrInvalid)
		}
		if int(m.Start)+int(cfg.Poll.HighestAddress)+1 > 0x10000 {
			return fmt.Errorf("%w: modbus registers starting at %d overflow the address space", ErrInvalid, m.Start)
		}
	}
	return nil
}
