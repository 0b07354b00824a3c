// Package redis stores the latest reading of every sensor in a Redis hash.
//
// Each sensor gets the key <prefix>:<address> with the fields tenths, celsius,
// present, round and at. The number of the last published round is kept under
// <prefix>:round.
package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/mklimuk/thermobus/ds1621"
	"github.com/mklimuk/thermobus/sink"
)

const DefaultPrefix = "thermobus"

var _ sink.Publisher = &Sink{}

// Client is the part of *redis.Client the sink uses.
type Client interface {
	HSet(ctx context.Context, key string, values ...interface{}) *redis.IntCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	Close() error
}

type Config struct {
	Addr     string
	Password string
	DB       int
	Prefix   string
}

type Sink struct {
	client Client
	prefix string
}

func New(cfg Config) *Sink {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	return NewWithClient(client, cfg.Prefix)
}

func NewWithClient(client Client, prefix string) *Sink {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return &Sink{client: client, prefix: prefix}
}

func (s *Sink) Publish(ctx context.Context, snap ds1621.Snapshot) error {
	for _, r := range snap.Readings {
		err := s.client.HSet(ctx, s.Key(r.Address),
			"tenths", r.Tenths,
			"celsius", strconv.FormatFloat(r.Celsius(), 'f', 1, 64),
			"present", r.Present,
			"round", snap.Round,
			"at", snap.At.Format(time.RFC3339),
		).Err()
		if err != nil {
			return fmt.Errorf("could not store sensor %d: %w", r.Address, err)
		}
	}
	err := s.client.Set(ctx, s.prefix+":round", snap.Round, 0).Err()
	if err != nil {
		return fmt.Errorf("could not store round: %w", err)
	}
	return nil
}

// Key returns the hash key of the sensor at address.
func (s *Sink) Key(address uint8) string {
	return fmt.Sprintf("%s:%d", s.prefix, address)
}

func (s *Sink) Close() error {
	return s.client.Close()
}
