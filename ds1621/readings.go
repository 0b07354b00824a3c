package ds1621

import (
	"fmt"
	"time"

	"periph.io/x/conn/v3/physic"
)

// NotPresent is written for a sensor that does not answer on the bus. It is
// what the conversion formula yields when every read fails and the command
// bytes are left in the data register, so it needs no separate detection.
const NotPresent int16 = -862

// MaxAddress is the highest address selectable with the A2..A0 pins.
const MaxAddress = 7

// Readings holds one fixed-point value per sensor address, in tenths of a
// degree Celsius. The slice is owned by the caller; the sequencer only writes
// the slot of the sensor it has just finished.
type Readings []int16

// NewReadings allocates readings for sensors 0..highest, all marked NotPresent.
func NewReadings(highest uint8) Readings {
	r := make(Readings, int(highest)+1)
	r.Clear()
	return r
}

// Clear marks every slot NotPresent.
func (r Readings) Clear() {
	for i := range r {
		r[i] = NotPresent
	}
}

// Reading is one sensor's value in a published snapshot.
type Reading struct {
	Address     uint8
	Tenths      int16
	Temperature physic.Temperature
	Present     bool
}

// Celsius returns the reading as floating point degrees.
func (r Reading) Celsius() float64 {
	return float64(r.Tenths) / 10
}

func (r Reading) String() string {
	if !r.Present {
		return fmt.Sprintf("sensor %d: not present", r.Address)
	}
	return fmt.Sprintf("sensor %d: %.1f°C", r.Address, r.Celsius())
}

// Snapshot is a copy of the readings taken when a round completes.
type Snapshot struct {
	Round    uint64
	At       time.Time
	Readings []Reading
	// Failures counts the transactions that ended in error during the round.
	Failures int
}

// TenthsToTemperature converts fixed-point tenths of a degree Celsius.
func TenthsToTemperature(tenths int16) physic.Temperature {
	return physic.ZeroCelsius + physic.Temperature(tenths)*100*physic.MilliKelvin
}

// Snapshot copies the current values.
func (r Readings) Snapshot(round uint64, at time.Time) Snapshot {
	s := Snapshot{Round: round, At: at, Readings: make([]Reading, len(r))}
	for i, v := range r {
		s.Readings[i] = Reading{
			Address:     uint8(i),
			Tenths:      v,
			Temperature: TenthsToTemperature(v),
			Present:     v != NotPresent,
		}
	}
	return s
}
