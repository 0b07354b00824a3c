// Package simbus is a register level two-wire controller with DS1621 device
// models attached. It implements thermobus.Controller so the transaction
// engine and the sequencer can run without hardware, including injected
// acknowledge failures, hung operations and stuck stop conditions.
package simbus

import (
	"periph.io/x/conn/v3/physic"

	"github.com/mklimuk/thermobus"
)

var _ thermobus.Controller = &Bus{}

type Config struct {
	Latency    int
	StartError bool
	Hang       bool
}

type Option func(*Config)

// WithLatency makes every operation take n Complete/StopPending polls.
func WithLatency(n int) Option {
	return func(c *Config) {
		c.Latency = n
	}
}

// WithStartError answers every start condition with a bus error.
func WithStartError() Option {
	return func(c *Config) {
		c.StartError = true
	}
}

// WithHang never completes any operation.
func WithHang() Option {
	return func(c *Config) {
		c.Hang = true
	}
}

type Bus struct {
	config  Config
	devices map[byte]*DS1621

	BitRate byte
	Starts  int
	Stops   int
	Writes  []byte

	status        thermobus.Status
	data          byte
	pending       int
	hung          bool
	stopping      int
	stuck         bool
	expectAddress bool
	target        *DS1621
}

func New(opts ...Option) *Bus {
	config := Config{}
	for _, opt := range opts {
		opt(&config)
	}
	return &Bus{config: config, devices: make(map[byte]*DS1621), status: thermobus.StatusNoInfo}
}

// Attach connects a device at the given 7-bit address.
func (b *Bus) Attach(address byte, dev *DS1621) {
	b.devices[address] = dev
}

func (b *Bus) Detach(address byte) {
	delete(b.devices, address)
}

func (b *Bus) Device(address byte) *DS1621 {
	return b.devices[address]
}

// SetHang switches the bus-wide hang on or off; it applies to the next operation.
func (b *Bus) SetHang(hang bool) {
	b.config.Hang = hang
}

func (b *Bus) Configure(clock, speed physic.Frequency) error {
	br, err := thermobus.BitRate(clock, speed)
	if err != nil {
		return err
	}
	b.BitRate = br
	return nil
}

func (b *Bus) IssueStart() {
	b.Starts++
	b.expectAddress = true
	b.target = nil
	b.status = thermobus.StatusStart
	if b.config.StartError {
		b.status = thermobus.StatusBusError
	}
	b.schedule()
}

func (b *Bus) IssueStop() {
	b.Stops++
	b.stopping = b.config.Latency
	b.stuck = b.target != nil && b.target.Fault == FaultStuckStop
	b.target = nil
	b.expectAddress = false
}

func (b *Bus) WriteByte(v byte) {
	b.Writes = append(b.Writes, v)
	defer b.schedule()
	if b.expectAddress {
		b.expectAddress = false
		read := v&0x01 == 1
		dev := b.devices[v>>1]
		switch {
		case dev == nil && read:
			b.status = thermobus.StatusMRSLANack
		case dev == nil:
			b.status = thermobus.StatusMTSLANack
		case read:
			b.status = thermobus.StatusMRSLAAck
		default:
			b.status = thermobus.StatusMTSLAAck
		}
		b.target = dev
		return
	}
	if b.target == nil || b.target.Fault == FaultDataNack {
		b.status = thermobus.StatusMTDataNack
		return
	}
	b.target.command(v)
	b.status = thermobus.StatusMTDataAck
}

func (b *Bus) RequestByte() {
	defer b.schedule()
	if b.target == nil || b.target.Fault == FaultDataNack {
		b.status = thermobus.StatusBusError
		return
	}
	b.data = b.target.read()
	b.status = thermobus.StatusMRDataNack
}

func (b *Bus) ReadByte() byte {
	return b.data
}

func (b *Bus) Complete() bool {
	if b.hung {
		return false
	}
	if b.pending > 0 {
		b.pending--
		return false
	}
	return true
}

func (b *Bus) StopPending() bool {
	if b.stuck {
		return true
	}
	if b.stopping > 0 {
		b.stopping--
		return true
	}
	return false
}

func (b *Bus) Status() thermobus.Status {
	return b.status
}

func (b *Bus) schedule() {
	b.pending = b.config.Latency
	b.hung = b.config.Hang || (b.target != nil && b.target.Fault == FaultHang)
}
