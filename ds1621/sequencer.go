// Package ds1621 polls Maxim DS1621 digital thermometers over a twi.Engine.
// See: https://www.analog.com/media/en/technical-documentation/data-sheets/DS1621.pdf
//
// Each sensor gets a one-shot conversion followed by three register reads
// (temperature MSB, COUNT_REMAIN, COUNT_PER_C) from which a high resolution
// value in tenths of a degree is computed. Sensors 0..highest are visited in
// order; after the last one the round wraps to sensor 0.
//
// Usage:
//
//	readings := ds1621.NewReadings(7)
//	seq, err := ds1621.New(twi.New(controller), 7, readings)
//	for {
//		if seq.Poll() {
//			// a full round has been written to readings
//		}
//	}
package ds1621

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/mklimuk/thermobus/twi"
)

const baseAddress = 0x48

const (
	cmdStartConvert    = 0xEE
	cmdReadTemperature = 0xAA
	cmdReadCountRemain = 0xA8
	cmdReadSlope       = 0xA9
)

var ErrHighestAddress = fmt.Errorf("highest sensor address must be at most %d", MaxAddress)
var ErrReadingsLength = errors.New("readings length does not match sensor count")

// Engine is the part of twi.Engine the sequencer drives.
type Engine interface {
	Advance()
	Outcome() twi.Outcome
	Err() error
	BeginWrite(address, payload byte) error
	BeginRead(address byte) error
	Data() byte
	Reset()
}

var _ Engine = &twi.Engine{}

type Step uint8

const (
	StepStartConversion Step = iota
	StepRequestTempPointer
	StepReadTempHigh
	StepRequestCountRemainPointer
	StepReadCountRemain
	StepRequestSlopePointer
	StepReadSlope
	StepCompute
)

var stepNames = [...]string{
	StepStartConversion:           "start conversion",
	StepRequestTempPointer:        "request temperature pointer",
	StepReadTempHigh:              "read temperature",
	StepRequestCountRemainPointer: "request count remain pointer",
	StepReadCountRemain:           "read count remain",
	StepRequestSlopePointer:       "request slope pointer",
	StepReadSlope:                 "read slope",
	StepCompute:                   "compute",
}

func (s Step) String() string {
	if int(s) < len(stepNames) {
		return stepNames[s]
	}
	return fmt.Sprintf("step(%d)", uint8(s))
}

type Config struct {
	Logger *slog.Logger
}

type Option func(*Config)

func WithLogger(logger *slog.Logger) Option {
	return func(c *Config) {
		c.Logger = logger
	}
}

// Sequencer walks every configured sensor through the one-shot read sequence.
// It is not safe for concurrent use; Poll is meant to be called from a single loop.
type Sequencer struct {
	engine  Engine
	highest uint8
	out     Readings
	logger  *slog.Logger

	step   Step
	issued Step
	sensor uint8
	round  uint64

	high        int16
	countRemain int32

	failures     int
	lastFailures int
}

// New binds a sequencer to an engine and to the caller's readings, which
// must hold exactly highest+1 slots.
func New(engine Engine, highest uint8, out Readings, opts ...Option) (*Sequencer, error) {
	if highest > MaxAddress {
		return nil, fmt.Errorf("%w: got %d", ErrHighestAddress, highest)
	}
	if len(out) != int(highest)+1 {
		return nil, fmt.Errorf("%w: expected %d, got %d", ErrReadingsLength, int(highest)+1, len(out))
	}
	config := &Config{Logger: slog.Default()}
	for _, opt := range opts {
		opt(config)
	}
	return &Sequencer{engine: engine, highest: highest, out: out, logger: config.Logger}, nil
}

// Poll advances the engine and, once the current transaction has ended,
// moves the sensor sequence one step forward. It returns true when the last
// sensor has been computed and the next call starts a new round.
//
// A failed transaction is treated like a finished one: the sequence goes on
// and whatever is in the data register is used. An absent sensor therefore
// ends up as NotPresent and never stalls the round.
func (s *Sequencer) Poll() bool {
	s.engine.Advance()
	if s.step == StepStartConversion {
		s.write(cmdStartConvert, StepRequestTempPointer)
		return false
	}
	if s.engine.Outcome() == twi.Pending {
		return false
	}
	if err := s.engine.Err(); err != nil {
		s.failures++
		s.logger.Debug("ds1621 transaction failed", "sensor", s.sensor, "step", s.issued, "error", err)
	}
	switch s.step {
	case StepRequestTempPointer:
		s.write(cmdReadTemperature, StepReadTempHigh)
	case StepReadTempHigh:
		s.read(StepRequestCountRemainPointer)
	case StepRequestCountRemainPointer:
		// sign extend the MSB
		s.high = int16(int8(s.engine.Data()))
		s.write(cmdReadCountRemain, StepReadCountRemain)
	case StepReadCountRemain:
		s.read(StepRequestSlopePointer)
	case StepRequestSlopePointer:
		s.countRemain = 100 * int32(s.engine.Data())
		s.write(cmdReadSlope, StepReadSlope)
	case StepReadSlope:
		s.read(StepCompute)
	case StepCompute:
		return s.compute(int32(s.engine.Data()))
	}
	return false
}

func (s *Sequencer) compute(countPerDegree int32) bool {
	value := NotPresent
	if countPerDegree != 0 {
		value = Tenths(s.high, s.countRemain, countPerDegree)
	} else {
		s.logger.Debug("ds1621 reported zero counts per degree", "sensor", s.sensor)
	}
	s.out[s.sensor] = value
	s.engine.Reset()
	s.step = StepStartConversion
	s.sensor++
	if s.sensor <= s.highest {
		return false
	}
	s.sensor = 0
	s.round++
	s.lastFailures = s.failures
	s.failures = 0
	return true
}

func (s *Sequencer) write(cmd byte, next Step) {
	if err := s.engine.BeginWrite(s.address(), cmd); err != nil {
		s.logger.Warn("ds1621 could not start write", "sensor", s.sensor, "step", s.step, "error", err)
		return
	}
	s.issued = s.step
	s.step = next
}

func (s *Sequencer) read(next Step) {
	if err := s.engine.BeginRead(s.address()); err != nil {
		s.logger.Warn("ds1621 could not start read", "sensor", s.sensor, "step", s.step, "error", err)
		return
	}
	s.issued = s.step
	s.step = next
}

func (s *Sequencer) address() byte {
	return Address(s.sensor)
}

// Address returns the 7-bit bus address of the sensor strapped to index on A2..A0.
func Address(index uint8) byte {
	return baseAddress | index&MaxAddress
}

// Sensor returns the index of the sensor currently being polled.
func (s *Sequencer) Sensor() uint8 {
	return s.sensor
}

func (s *Sequencer) Step() Step {
	return s.step
}

// Rounds returns the number of completed rounds.
func (s *Sequencer) Rounds() uint64 {
	return s.round
}

// Failures returns the number of failed transactions in the last completed round.
func (s *Sequencer) Failures() int {
	return s.lastFailures
}

func (s *Sequencer) Highest() uint8 {
	return s.highest
}

// Snapshot copies the caller's readings tagged with the completed round count
// and the failures seen during that round.
func (s *Sequencer) Snapshot(at time.Time) Snapshot {
	snap := s.out.Snapshot(s.round, at)
	snap.Failures = s.lastFailures
	return snap
}

// Tenths evaluates the DS1621 high resolution formula
// TEMP_READ - 0.25 + (COUNT_PER_C - COUNT_REMAIN) / COUNT_PER_C in tenths of a
// degree. countRemain is already scaled by 100. Divisions truncate toward zero.
func Tenths(high int16, countRemain, countPerDegree int32) int16 {
	return int16((int32(high)*100 - 25 + (countPerDegree*100-countRemain)/countPerDegree) / 10)
}
