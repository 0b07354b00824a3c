// Package twi drives single-byte two-wire bus transactions without blocking.
//
// An Engine owns one bus. A transaction is started with BeginWrite or
// BeginRead and moved forward by calling Advance repeatedly from the caller's
// loop; every call does a bounded amount of work and at most one phase
// transition. A Counter ticked from an independent Clock bounds the time any
// phase may wait for the hardware, so every transaction reaches Finished or
// Failed and leaves the bus released.
package twi

import (
	"errors"
	"fmt"

	"periph.io/x/conn/v3/physic"

	"github.com/mklimuk/thermobus"
)

// DefaultTimeout is the number of ticks a phase may last before it is considered hung.
const DefaultTimeout = 30

// Timeouts are kept below the saturation value of the Counter, otherwise a
// phase could never expire.
const (
	MinTimeout = 1
	MaxTimeout = counterMax - 1
)

var (
	ErrBusy     = thermobus.ErrBusBusy
	ErrAddress  = errors.New("device address out of range")
	ErrProtocol = errors.New("unexpected bus status")
	ErrTimeout  = errors.New("bus phase timed out")
)

type Config struct {
	Timeout uint8
}

type Option func(*Config)

// WithTimeout sets the number of ticks after which a phase is treated as hung.
// Values outside MinTimeout..MaxTimeout are clamped.
func WithTimeout(ticks uint8) Option {
	return func(c *Config) {
		c.Timeout = ticks
	}
}

type Engine struct {
	ctrl      thermobus.Controller
	counter   Counter
	threshold uint8

	phase      Phase
	req        Request
	data       byte
	stopIssued bool
	err        error
}

func New(ctrl thermobus.Controller, opts ...Option) *Engine {
	config := &Config{Timeout: DefaultTimeout}
	for _, opt := range opts {
		opt(config)
	}
	threshold := min(max(config.Timeout, MinTimeout), MaxTimeout)
	return &Engine{ctrl: ctrl, threshold: threshold}
}

// Configure sets up the bus clock. It must be called once before the first transaction.
func (e *Engine) Configure(clock, speed physic.Frequency) error {
	if err := e.ctrl.Configure(clock, speed); err != nil {
		return fmt.Errorf("could not configure bus at %s: %w", speed, err)
	}
	return nil
}

// Tick advances the timeout counter. Safe to call from another goroutine.
func (e *Engine) Tick() {
	e.counter.Tick()
}

// Counter exposes the timeout counter so it can be driven by a Clock.
func (e *Engine) Counter() *Counter {
	return &e.counter
}

func (e *Engine) BeginWrite(address, payload byte) error {
	return e.begin(Request{Address: address, Direction: Write, Payload: payload})
}

func (e *Engine) BeginRead(address byte) error {
	return e.begin(Request{Address: address, Direction: Read})
}

func (e *Engine) begin(req Request) error {
	if e.phase.active() {
		return ErrBusy
	}
	if req.Address > 0x7F {
		return fmt.Errorf("%w: %#x", ErrAddress, req.Address)
	}
	e.req = req
	if req.Direction == Write {
		e.data = req.Payload
	}
	e.err = nil
	e.stopIssued = false
	e.phase = PhaseRequested
	return nil
}

// Advance performs at most one phase transition. It never blocks.
func (e *Engine) Advance() {
	switch e.phase {
	case PhaseRequested:
		e.ctrl.IssueStart()
		e.enter(PhaseStart)
		return
	case PhaseStart:
		if e.ctrl.Complete() {
			st := e.ctrl.Status()
			if st != thermobus.StatusStart && st != thermobus.StatusRepStart {
				e.abort(e.protocolErr(st))
				return
			}
			e.ctrl.WriteByte(e.req.addressByte())
			e.enter(PhaseAddress)
			return
		}
	case PhaseAddress:
		if e.ctrl.Complete() {
			want := thermobus.StatusMTSLAAck
			if e.req.Direction == Read {
				want = thermobus.StatusMRSLAAck
			}
			if st := e.ctrl.Status(); st != want {
				e.abort(e.protocolErr(st))
				return
			}
			if e.req.Direction == Write {
				e.ctrl.WriteByte(e.req.Payload)
			} else {
				e.ctrl.RequestByte()
			}
			e.enter(PhaseData)
			return
		}
	case PhaseData:
		if e.ctrl.Complete() {
			want := thermobus.StatusMTDataAck
			if e.req.Direction == Read {
				// a single byte read is answered with NACK
				want = thermobus.StatusMRDataNack
			}
			if st := e.ctrl.Status(); st != want {
				e.abort(e.protocolErr(st))
				return
			}
			if e.req.Direction == Read {
				e.data = e.ctrl.ReadByte()
			}
			e.ctrl.IssueStop()
			e.stopIssued = true
			e.enter(PhaseStop)
			return
		}
	case PhaseStop, PhaseAborting:
		if !e.ctrl.StopPending() {
			e.counter.Stop()
			if e.phase == PhaseStop {
				e.phase = PhaseFinished
			} else {
				e.phase = PhaseError
			}
			return
		}
	default:
		return
	}
	if e.counter.Value() > e.threshold {
		e.expire()
	}
}

func (e *Engine) enter(p Phase) {
	e.phase = p
	e.counter.Arm()
}

// abort records err and releases the bus. A transaction never issues more than one stop.
func (e *Engine) abort(err error) {
	e.err = err
	if !e.stopIssued {
		e.ctrl.IssueStop()
		e.stopIssued = true
	}
	e.enter(PhaseAborting)
}

func (e *Engine) expire() {
	err := fmt.Errorf("%s phase: %w after %d ticks", e.phase, ErrTimeout, e.threshold)
	switch e.phase {
	case PhaseAborting:
		// the stop has been issued already, give up waiting for it
		if e.err == nil {
			e.err = err
		}
		e.counter.Stop()
		e.phase = PhaseError
	default:
		e.abort(err)
	}
}

func (e *Engine) protocolErr(st thermobus.Status) error {
	return fmt.Errorf("%s phase, device %#02x %s: %w: %s", e.phase, e.req.Address, e.req.Direction, ErrProtocol, st)
}

// Outcome collapses the phase into Pending, Finished or Failed.
func (e *Engine) Outcome() Outcome {
	switch e.phase {
	case PhaseFinished:
		return Finished
	case PhaseError:
		return Failed
	}
	return Pending
}

// Err returns the reason of a failed transaction, nil otherwise.
func (e *Engine) Err() error {
	if e.phase != PhaseError {
		return nil
	}
	return e.err
}

func (e *Engine) Phase() Phase {
	return e.phase
}

// Direction returns the direction of the current or last transaction.
func (e *Engine) Direction() Direction {
	return e.req.Direction
}

func (e *Engine) Active() bool {
	return e.phase.active()
}

// Data returns the data register: the payload of the last write, replaced by
// the byte received in the last successful read.
func (e *Engine) Data() byte {
	return e.data
}

// Reset drops a terminal outcome and returns the engine to idle. It has no
// effect while a transaction owns the bus.
func (e *Engine) Reset() {
	if e.phase.active() {
		return
	}
	e.counter.Stop()
	e.phase = PhaseIdle
	e.err = nil
}
