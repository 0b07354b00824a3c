// Package adapter drives USB to I2C bridges.
package adapter

import (
	"context"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/karalabe/hid"
	"periph.io/x/conn/v3/physic"

	"github.com/mklimuk/thermobus"
)

const VendorID = 0x04D8
const ProductID = 0x00DD

const reportSize = 64

// MCP2221 HID commands
const (
	cmdStatusSetParameters = 0x10
	cmdI2CWrite            = 0x90
	cmdI2CRead             = 0x91
	cmdI2CGetData          = 0x40
)

const (
	cancelTransfer = 0x10
	setSpeed       = 0x20
	speedAccepted  = 0x20
	engineBusy     = 0x01
	readError      = 0x41
	// the chip reports 127 when the requested bytes could not be read
	readSizeError = 127
)

const clockFrequency = 12 * physic.MegaHertz

var ErrCommandFailed = errors.New("command failed")
var ErrDeviceNotFound = errors.New("MCP2221 device not found")
var ErrAmbiguousDevice = errors.New("ambiguous device identification")

var _ thermobus.I2CBus = &MCP2221{}
var _ thermobus.SpeedSetter = &MCP2221{}

// Opener opens the HID device for a single request/response exchange.
type Opener func() (io.ReadWriteCloser, error)

type MCP2221 struct {
	mx           sync.Mutex
	open         Opener
	request      []byte
	response     []byte
	responseWait time.Duration
	logger       *slog.Logger
}

type MCP2221Status struct {
	Cancelled              bool   `yaml:"cancelled"`
	SpeedAccepted          bool   `yaml:"speed_accepted"`
	I2CDataBufferCounter   int    `yaml:"data_buffer_counter"`
	I2CSpeedDivider        int    `yaml:"speed_divider"`
	I2CTimeout             int    `yaml:"timeout"`
	CurrentAddress         string `yaml:"current_address"`
	LastWriteRequestedSize uint16 `yaml:"last_write_requested"`
	LastWriteSentSize      uint16 `yaml:"last_write_sent"`
	ReadPending            int    `yaml:"read_pending"`
}

type MCP2221Option func(*MCP2221)

// WithDevice selects one of several attached adapters by its enumeration index.
func WithDevice(index int) MCP2221Option {
	return func(d *MCP2221) {
		d.open = enumerated(index)
	}
}

func WithOpener(open Opener) MCP2221Option {
	return func(d *MCP2221) {
		d.open = open
	}
}

// WithResponseWait sets how long to wait between a request and its response report.
func WithResponseWait(wait time.Duration) MCP2221Option {
	return func(d *MCP2221) {
		d.responseWait = wait
	}
}

func WithLogger(logger *slog.Logger) MCP2221Option {
	return func(d *MCP2221) {
		d.logger = logger
	}
}

func NewMCP2221(opts ...MCP2221Option) *MCP2221 {
	d := &MCP2221{
		open:         enumerated(-1),
		request:      make([]byte, reportSize),
		response:     make([]byte, reportSize),
		responseWait: 50 * time.Millisecond,
		logger:       slog.Default(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Enumerate lists the attached MCP2221 adapters.
func Enumerate() []hid.DeviceInfo {
	return hid.Enumerate(VendorID, ProductID)
}

// enumerated opens the adapter at index; a negative index requires exactly one adapter.
func enumerated(index int) Opener {
	return func() (io.ReadWriteCloser, error) {
		devs := Enumerate()
		if len(devs) == 0 {
			return nil, ErrDeviceNotFound
		}
		if index < 0 {
			if len(devs) > 1 {
				return nil, fmt.Errorf("%w: %d adapters attached", ErrAmbiguousDevice, len(devs))
			}
			index = 0
		}
		if index >= len(devs) {
			return nil, fmt.Errorf("no device with id %d", index)
		}
		dev, err := devs[index].Open()
		if err != nil {
			return nil, fmt.Errorf("error opening device: %w", err)
		}
		return dev, nil
	}
}

// Init cancels any transfer left over by a previous user and sets the default 100kHz speed.
func (d *MCP2221) Init(ctx context.Context) error {
	_, err := d.ReleaseBus(ctx)
	if err != nil {
		return err
	}
	return d.SetSpeed(ctx, 100*physic.KiloHertz)
}

func (d *MCP2221) WriteToAddr(ctx context.Context, address byte, buffer []byte) error {
	d.mx.Lock()
	defer d.mx.Unlock()
	d.resetBuffers()
	d.request[0] = cmdI2CWrite
	binary.LittleEndian.PutUint16(d.request[1:3], uint16(len(buffer)))
	d.request[3] = address << 1
	copy(d.request[4:], buffer)
	err := d.send(ctx)
	if err != nil {
		return fmt.Errorf("write to %x failed: %w", address, err)
	}
	if d.response[1] == engineBusy {
		d.logger.Debug("adapter busy", "address", address)
		return thermobus.ErrBusBusy
	}
	return nil
}

func (d *MCP2221) ReadFromAddr(ctx context.Context, address byte, buffer []byte) error {
	d.mx.Lock()
	defer d.mx.Unlock()
	d.resetBuffers()
	d.request[0] = cmdI2CRead
	binary.LittleEndian.PutUint16(d.request[1:3], uint16(len(buffer)))
	d.request[3] = address<<1 + 1
	err := d.send(ctx)
	if err != nil {
		return fmt.Errorf("bus read from %x failed: %w", address, err)
	}
	if d.response[1] == engineBusy {
		return thermobus.ErrBusBusy
	}
	d.resetBuffers()
	d.request[0] = cmdI2CGetData
	err = d.send(ctx)
	if err != nil {
		return fmt.Errorf("error getting read data from adapter: %w", err)
	}
	if d.response[1] == readError {
		return fmt.Errorf("%w: could not read the slave data from the I2C engine", ErrCommandFailed)
	}
	if d.response[3] == readSizeError || int(d.response[3]) != len(buffer) {
		return fmt.Errorf("invalid data size byte; expected %d, got %d", len(buffer), d.response[3])
	}
	copy(buffer, d.response[4:])
	return nil
}

// SetSpeed programs the I2C clock divider. The chip runs from a 12MHz clock.
func (d *MCP2221) SetSpeed(ctx context.Context, speed physic.Frequency) error {
	if speed <= 0 {
		return fmt.Errorf("invalid bus speed %s", speed)
	}
	divider := int64(clockFrequency/speed) - 3
	if divider < 0 || divider > 255 {
		return fmt.Errorf("bus speed %s out of range", speed)
	}
	d.mx.Lock()
	defer d.mx.Unlock()
	d.resetBuffers()
	d.request[0] = cmdStatusSetParameters
	d.request[3] = setSpeed
	d.request[4] = byte(divider)
	err := d.send(ctx)
	if err != nil {
		return fmt.Errorf("set speed request failed: %w", err)
	}
	if d.response[3] != speedAccepted {
		return fmt.Errorf("%w: speed %s not accepted while a transfer is in progress", ErrCommandFailed, speed)
	}
	return nil
}

func (d *MCP2221) Status(ctx context.Context) (*MCP2221Status, error) {
	d.mx.Lock()
	defer d.mx.Unlock()
	d.resetBuffers()
	d.request[0] = cmdStatusSetParameters
	err := d.send(ctx)
	if err != nil {
		return nil, fmt.Errorf("status request failed: %w", err)
	}
	return bufferToStatus(d.response), nil
}

func bufferToStatus(buffer []byte) *MCP2221Status {
	/*
		2: cancel transfer result (0x10 when the transfer was marked for cancellation)
		3: set speed result (0x20 when the new speed was accepted)
		9-10: requested I2C transfer length
		11-12: already transferred number of bytes
		13: internal I2C data buffer counter
		14: current speed divider
		15: current I2C timeout
		16-17: I2C address being used
		25: read pending
	*/
	status := &MCP2221Status{
		Cancelled:            buffer[2] == cancelTransfer,
		SpeedAccepted:        buffer[3] == speedAccepted,
		I2CDataBufferCounter: int(buffer[13]),
		I2CSpeedDivider:      int(buffer[14]),
		I2CTimeout:           int(buffer[15]),
		ReadPending:          int(buffer[25]),
		CurrentAddress:       hex.EncodeToString(buffer[16:18]),
	}
	status.LastWriteRequestedSize = binary.LittleEndian.Uint16(buffer[9:11])
	status.LastWriteSentSize = binary.LittleEndian.Uint16(buffer[11:13])
	return status
}

// Release cancels the current transfer so the adapter frees the bus.
func (d *MCP2221) Release(ctx context.Context) error {
	_, err := d.ReleaseBus(ctx)
	return err
}

func (d *MCP2221) ReleaseBus(ctx context.Context) (*MCP2221Status, error) {
	d.mx.Lock()
	defer d.mx.Unlock()
	d.resetBuffers()
	d.request[0] = cmdStatusSetParameters
	d.request[2] = cancelTransfer
	err := d.send(ctx)
	if err != nil {
		return nil, fmt.Errorf("release request failed: %w", err)
	}
	return bufferToStatus(d.response), nil
}

func (d *MCP2221) send(ctx context.Context) error {
	dev, err := d.open()
	if err != nil {
		return err
	}
	defer func() {
		err := dev.Close()
		if err != nil {
			d.logger.Warn("could not close adapter", "error", err)
		}
	}()
	d.logger.Debug("sending message to adapter", "report", hex.EncodeToString(d.request[:8]))
	n, err := dev.Write(d.request)
	if err != nil {
		return fmt.Errorf("could not write request: %w", err)
	}
	if n != reportSize {
		return fmt.Errorf("short write: %d", n)
	}
	if d.responseWait > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(d.responseWait):
		}
	}
	n, err = dev.Read(d.response)
	if err != nil {
		return fmt.Errorf("could not read response: %w", err)
	}
	if n != reportSize {
		return fmt.Errorf("short read: %d", n)
	}
	d.logger.Debug("read message from adapter", "report", hex.EncodeToString(d.response[:8]))
	if d.response[0] != d.request[0] {
		return fmt.Errorf("response to command %#x echoes %#x", d.request[0], d.response[0])
	}
	return nil
}

func (d *MCP2221) resetBuffers() {
	clear(d.request)
	clear(d.response)
}
