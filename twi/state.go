package twi

import "fmt"

type Direction uint8

const (
	Write Direction = iota
	Read
)

func (d Direction) String() string {
	if d == Read {
		return "read"
	}
	return "write"
}

// Phase is the single active step of a transaction. Aborting is the only
// state in which an error is pending: the stop condition that releases the
// bus is still on the wire.
type Phase uint8

const (
	PhaseIdle Phase = iota
	PhaseRequested
	PhaseStart
	PhaseAddress
	PhaseData
	PhaseStop
	PhaseAborting
	PhaseFinished
	PhaseError
)

var phaseNames = [...]string{
	PhaseIdle:      "idle",
	PhaseRequested: "requested",
	PhaseStart:     "start",
	PhaseAddress:   "address",
	PhaseData:      "data",
	PhaseStop:      "stop",
	PhaseAborting:  "aborting",
	PhaseFinished:  "finished",
	PhaseError:     "error",
}

func (p Phase) String() string {
	if int(p) < len(phaseNames) {
		return phaseNames[p]
	}
	return fmt.Sprintf("phase(%d)", uint8(p))
}

// active reports whether the bus is owned by a transaction in this phase.
func (p Phase) active() bool {
	return p >= PhaseRequested && p <= PhaseAborting
}

type Outcome uint8

const (
	Pending Outcome = iota
	Finished
	Failed
)

func (o Outcome) String() string {
	switch o {
	case Finished:
		return "finished"
	case Failed:
		return "error"
	}
	return "pending"
}

// Request is one single-byte exchange with a 7-bit addressed device.
type Request struct {
	Address   byte
	Direction Direction
	Payload   byte
}

func (r Request) addressByte() byte {
	return r.Address<<1 | byte(r.Direction)
}
