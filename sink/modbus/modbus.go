// Package modbus mirrors the readings into holding registers of a Modbus TCP
// endpoint, one register per sensor address starting at a configured offset.
// Values are the signed tenths of a degree in two's complement, so an absent
// sensor shows up as -862.
package modbus

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/goburrow/modbus"

	"github.com/mklimuk/thermobus/ds1621"
	"github.com/mklimuk/thermobus/sink"
)

var _ sink.Publisher = &Sink{}

type Config struct {
	Endpoint string
	UnitID   uint8
	Start    uint16
	Timeout  time.Duration
}

// RegisterWriter is the part of modbus.Client the sink uses.
type RegisterWriter interface {
	WriteMultipleRegisters(address, quantity uint16, value []byte) (results []byte, err error)
}

// Sink serializes writes; the handler's unit id is set on every request.
type Sink struct {
	mu      sync.Mutex
	handler *modbus.TCPClientHandler
	client  RegisterWriter
	unitID  uint8
	start   uint16
}

func New(cfg Config) (*Sink, error) {
	if cfg.Endpoint == "" {
		return nil, errors.New("modbus sink: endpoint required")
	}
	h := modbus.NewTCPClientHandler(cfg.Endpoint)
	h.Timeout = cfg.Timeout
	h.SlaveId = cfg.UnitID
	if err := h.Connect(); err != nil {
		return nil, fmt.Errorf("modbus sink: could not connect to %s: %w", cfg.Endpoint, err)
	}
	return &Sink{handler: h, client: modbus.NewClient(h), unitID: cfg.UnitID, start: cfg.Start}, nil
}

func NewWithClient(client RegisterWriter, unitID uint8, start uint16) *Sink {
	return &Sink{client: client, unitID: unitID, start: start}
}

func (s *Sink) Publish(ctx context.Context, snap ds1621.Snapshot) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	regs := Registers(snap)
	if len(regs) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.handler != nil {
		s.handler.SlaveId = s.unitID
	}
	_, err := s.client.WriteMultipleRegisters(s.start, uint16(len(regs)), packRegisters(regs))
	if err != nil {
		return fmt.Errorf("modbus sink: write of %d registers at %d failed: %w", len(regs), s.start, err)
	}
	return nil
}

func (s *Sink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.handler == nil {
		return nil
	}
	return s.handler.Close()
}

// Registers converts the readings to register values in address order.
func Registers(snap ds1621.Snapshot) []uint16 {
	regs := make([]uint16, len(snap.Readings))
	for i, r := range snap.Readings {
		regs[i] = uint16(r.Tenths)
	}
	return regs
}

func packRegisters(regs []uint16) []byte {
	out := make([]byte, len(regs)*2)
	for i, r := range regs {
		out[2*i] = byte(r >> 8)
		out[2*i+1] = byte(r)
	}
	return out
}
