package thermobus

import (
	"context"
	"fmt"

	"periph.io/x/conn/v3/physic"
)

var ErrBusBusy = fmt.Errorf("I2C engine is busy (command not completed)")

// Message level access used by adapters that perform a whole transfer per call
// (Linux i2c-dev, USB bridges).

type AddressableReader interface {
	ReadFromAddr(ctx context.Context, address byte, buffer []byte) error
}

type AddressableWriter interface {
	WriteToAddr(ctx context.Context, address byte, buffer []byte) error
	Release(ctx context.Context) error
}

type I2CBus interface {
	AddressableReader
	AddressableWriter
}

// SpeedSetter is implemented by buses whose clock can be changed at runtime.
type SpeedSetter interface {
	SetSpeed(ctx context.Context, speed physic.Frequency) error
}

// Status is the masked two-wire status code reported by the controller after
// each completed operation. Values follow the usual TWI master status table.
type Status byte

const (
	StatusBusError   Status = 0x00
	StatusStart      Status = 0x08
	StatusRepStart   Status = 0x10
	StatusMTSLAAck   Status = 0x18
	StatusMTSLANack  Status = 0x20
	StatusMTDataAck  Status = 0x28
	StatusMTDataNack Status = 0x30
	StatusArbLost    Status = 0x38
	StatusMRSLAAck   Status = 0x40
	StatusMRSLANack  Status = 0x48
	StatusMRDataAck  Status = 0x50
	StatusMRDataNack Status = 0x58
	StatusNoInfo     Status = 0xF8
)

func (s Status) String() string {
	switch s {
	case StatusBusError:
		return "bus error"
	case StatusStart:
		return "start"
	case StatusRepStart:
		return "repeated start"
	case StatusMTSLAAck:
		return "SLA+W ack"
	case StatusMTSLANack:
		return "SLA+W nack"
	case StatusMTDataAck:
		return "data sent ack"
	case StatusMTDataNack:
		return "data sent nack"
	case StatusArbLost:
		return "arbitration lost"
	case StatusMRSLAAck:
		return "SLA+R ack"
	case StatusMRSLANack:
		return "SLA+R nack"
	case StatusMRDataAck:
		return "data received ack"
	case StatusMRDataNack:
		return "data received nack"
	case StatusNoInfo:
		return "no info"
	}
	return fmt.Sprintf("status %#02x", byte(s))
}

// Controller is the register level capability a bus transaction engine needs
// from the hardware. Every method returns immediately; completion of an
// operation is observed by polling Complete.
type Controller interface {
	// Configure sets the bus clock derived from the system clock. Called once.
	Configure(clock, speed physic.Frequency) error
	IssueStart()
	IssueStop()
	// WriteByte loads b into the data register and clocks it out.
	WriteByte(b byte)
	// RequestByte clocks one byte in and answers it with a NACK.
	RequestByte()
	// ReadByte returns the data register content.
	ReadByte() byte
	// Complete reports whether the last issued operation (other than stop) has finished.
	Complete() bool
	// StopPending reports whether a stop condition is still being transmitted.
	StopPending() bool
	Status() Status
}

var ErrBitRate = fmt.Errorf("bus speed not reachable with this clock")

// BitRate returns the bit rate register value of an AVR style controller
// running without prescaler: ((clock/speed)-16)/2.
func BitRate(clock, speed physic.Frequency) (byte, error) {
	if clock <= 0 || speed <= 0 {
		return 0, fmt.Errorf("%w: clock %s, speed %s", ErrBitRate, clock, speed)
	}
	ratio := int64(clock / speed)
	if ratio < 16 || (ratio-16)/2 > 0xFF {
		return 0, fmt.Errorf("%w: clock %s, speed %s", ErrBitRate, clock, speed)
	}
	return byte((ratio - 16) / 2), nil
}
