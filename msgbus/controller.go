// Package msgbus plays the register level two-wire protocol on top of a
// message level thermobus.I2CBus (Linux i2c-dev, USB bridges). Start and
// address are latched locally; the real transfer happens in the data phase
// and its result is reported through the usual status codes, so the
// transaction engine sees a failing device the same way it would on a bare
// controller.
//
// Message level buses block, so every bus call runs on its own goroutine and
// Complete reports false until it returns. Bus calls never overlap: a call
// waits for the previous one to return or for its own deadline.
package msgbus

import (
	"context"
	"log/slog"
	"time"

	"periph.io/x/conn/v3/physic"

	"github.com/mklimuk/thermobus"
)

// DefaultTransferTimeout bounds a single bus call, including the wait for the previous one.
const DefaultTransferTimeout = time.Second

var _ thermobus.Controller = &Controller{}

type Config struct {
	TransferTimeout time.Duration
	Logger          *slog.Logger
}

type Option func(*Config)

// WithTransferTimeout sets the deadline of the context passed to every bus call.
func WithTransferTimeout(timeout time.Duration) Option {
	return func(c *Config) {
		c.TransferTimeout = timeout
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(c *Config) {
		c.Logger = logger
	}
}

type result struct {
	status thermobus.Status
	data   byte
	err    error
}

type Controller struct {
	ctx     context.Context
	bus     thermobus.I2CBus
	logger  *slog.Logger
	timeout time.Duration

	status        thermobus.Status
	data          byte
	address       byte
	read          bool
	expectAddress bool
	failed        bool

	// transfer in flight, nil when the last one has been collected
	pending chan result
	cancel  context.CancelFunc
	// release in flight, nil when none
	releasing chan result
	// closed once the most recently started bus call has returned
	idle chan struct{}
}

// New creates a controller; ctx is the parent of every bus call.
func New(ctx context.Context, bus thermobus.I2CBus, opts ...Option) *Controller {
	config := &Config{TransferTimeout: DefaultTransferTimeout, Logger: slog.Default()}
	for _, opt := range opts {
		opt(config)
	}
	idle := make(chan struct{})
	close(idle)
	return &Controller{
		ctx:     ctx,
		bus:     bus,
		logger:  config.Logger,
		timeout: config.TransferTimeout,
		status:  thermobus.StatusNoInfo,
		idle:    idle,
	}
}

// Configure sets the bus speed when the bus supports it. The system clock is
// irrelevant for message level buses. Unlike the other methods it blocks.
func (c *Controller) Configure(clock, speed physic.Frequency) error {
	setter, ok := c.bus.(thermobus.SpeedSetter)
	if !ok {
		c.logger.Debug("bus speed is fixed by the adapter", "requested", speed)
		return nil
	}
	return setter.SetSpeed(c.ctx, speed)
}

func (c *Controller) IssueStart() {
	c.expectAddress = true
	c.failed = false
	c.status = thermobus.StatusStart
	// a release abandoned by the previous transaction still orders the next bus call
	c.releasing = nil
}

// IssueStop cancels a transfer the engine gave up on and, when the
// transaction failed, releases the bus in the background.
func (c *Controller) IssueStop() {
	c.expectAddress = false
	if c.pending != nil {
		c.cancel()
		c.pending = nil
		c.failed = true
		c.logger.Debug("bus transfer abandoned", "address", c.address)
	}
	if !c.failed {
		return
	}
	c.releasing = c.start(func(ctx context.Context) result {
		err := c.bus.Release(ctx)
		if err != nil {
			c.logger.Warn("could not release bus", "error", err)
		}
		return result{err: err}
	})
}

func (c *Controller) WriteByte(b byte) {
	if c.expectAddress {
		c.expectAddress = false
		c.address = b >> 1
		c.read = b&0x01 == 1
		// acknowledge is only known once the transfer runs
		c.status = thermobus.StatusMTSLAAck
		if c.read {
			c.status = thermobus.StatusMRSLAAck
		}
		return
	}
	address := c.address
	c.transfer(func(ctx context.Context) result {
		err := c.bus.WriteToAddr(ctx, address, []byte{b})
		if err != nil {
			return result{status: thermobus.StatusMTDataNack, err: err}
		}
		return result{status: thermobus.StatusMTDataAck}
	})
}

func (c *Controller) RequestByte() {
	address := c.address
	c.transfer(func(ctx context.Context) result {
		buf := []byte{0}
		err := c.bus.ReadFromAddr(ctx, address, buf)
		if err != nil {
			return result{status: thermobus.StatusMRSLANack, err: err}
		}
		return result{status: thermobus.StatusMRDataNack, data: buf[0]}
	})
}

func (c *Controller) transfer(fn func(ctx context.Context) result) {
	c.status = thermobus.StatusNoInfo
	c.pending = c.start(fn)
}

// start runs fn on its own goroutine once the previous bus call has returned.
// The result channel is buffered so an abandoned call never leaks its goroutine.
func (c *Controller) start(fn func(ctx context.Context) result) chan result {
	ctx, cancel := context.WithTimeout(c.ctx, c.timeout)
	prev := c.idle
	done := make(chan struct{})
	out := make(chan result, 1)
	c.idle = done
	c.cancel = cancel
	go func() {
		defer close(done)
		defer cancel()
		select {
		case <-prev:
		case <-ctx.Done():
			out <- result{err: ctx.Err()}
			return
		}
		out <- fn(ctx)
	}()
	return out
}

func (c *Controller) fail(status thermobus.Status, err error) {
	c.failed = true
	c.status = status
	c.logger.Debug("bus transfer failed", "address", c.address, "status", status, "error", err)
}

func (c *Controller) ReadByte() byte {
	return c.data
}

// Complete reports false while a bus call started by WriteByte or RequestByte
// has not returned.
func (c *Controller) Complete() bool {
	if c.pending == nil {
		return true
	}
	select {
	case r := <-c.pending:
		c.pending = nil
		if r.err != nil {
			c.fail(r.status, r.err)
			return true
		}
		c.status = r.status
		c.data = r.data
		return true
	default:
		return false
	}
}

func (c *Controller) StopPending() bool {
	if c.releasing == nil {
		return false
	}
	select {
	case <-c.releasing:
		c.releasing = nil
		return false
	default:
		return true
	}
}

func (c *Controller) Status() thermobus.Status {
	return c.status
}
