package simbus

import "math"

// DS1621 command bytes understood by the device model.
const (
	cmdStartConvert     = 0xEE
	cmdReadTemperature  = 0xAA
	cmdReadCountRemain  = 0xA8
	cmdReadCountPerDeg  = 0xA9
	defaultCountsPerDeg = 100
)

// Fault makes a simulated device misbehave on the bus.
type Fault uint8

const (
	FaultNone Fault = iota
	// FaultDataNack acknowledges its address but refuses data bytes.
	FaultDataNack
	// FaultHang acknowledges nothing and never lets an operation complete once addressed.
	FaultHang
	// FaultStuckStop keeps the stop condition pending forever after being addressed.
	FaultStuckStop
)

func (f Fault) String() string {
	switch f {
	case FaultDataNack:
		return "nack-data"
	case FaultHang:
		return "hang"
	case FaultStuckStop:
		return "stuck-stop"
	}
	return "none"
}

// ParseFault is the inverse of Fault.String; unknown names map to FaultNone and false.
func ParseFault(name string) (Fault, bool) {
	for _, f := range []Fault{FaultNone, FaultDataNack, FaultHang, FaultStuckStop} {
		if f.String() == name {
			return f, true
		}
	}
	return FaultNone, false
}

// DS1621 models the registers a one-shot poll touches. A conversion latches
// the sensed values into the readable registers.
type DS1621 struct {
	Fault Fault

	sensed      [3]byte
	latched     [3]byte
	pointer     byte
	conversions int
}

// NewDS1621 creates a device sensing the given temperature.
func NewDS1621(celsius float64) *DS1621 {
	d := &DS1621{}
	d.SetCelsius(celsius)
	return d
}

// SetRegisters sets the raw values the next conversion will produce.
func (d *DS1621) SetRegisters(high int8, countRemain, countPerDegree byte) {
	d.sensed = [3]byte{byte(high), countRemain, countPerDegree}
}

// SetCelsius derives register values with 100 counts per degree so that
// high - 0.25 + (slope-remain)/slope equals celsius to two decimals.
func (d *DS1621) SetCelsius(celsius float64) {
	high := math.Floor(celsius + 0.25)
	frac := celsius + 0.25 - high
	remain := defaultCountsPerDeg - int(math.Round(frac*defaultCountsPerDeg))
	d.SetRegisters(int8(high), byte(remain), defaultCountsPerDeg)
}

// Conversions returns how many one-shot conversions were started.
func (d *DS1621) Conversions() int {
	return d.conversions
}

func (d *DS1621) command(b byte) {
	switch b {
	case cmdStartConvert:
		d.conversions++
		d.latched = d.sensed
	default:
		d.pointer = b
	}
}

func (d *DS1621) read() byte {
	switch d.pointer {
	case cmdReadTemperature:
		return d.latched[0]
	case cmdReadCountRemain:
		return d.latched[1]
	case cmdReadCountPerDeg:
		return d.latched[2]
	}
	return 0xFF
}
