package sink

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/mklimuk/thermobus/ds1621"
)

type recorder struct {
	rounds []uint64
	err    error
	closed bool
}

func (r *recorder) Publish(ctx context.Context, snap ds1621.Snapshot) error {
	r.rounds = append(r.rounds, snap.Round)
	return r.err
}

func (r *recorder) Close() error {
	r.closed = true
	return r.err
}

func TestFanout_PublishesToAll(t *testing.T) {
	broken := &recorder{err: errors.New("down")}
	ok := &recorder{}
	f := Fanout{broken, ok}

	err := f.Publish(context.Background(), ds1621.NewReadings(1).Snapshot(3, time.Now()))
	assert.ErrorContains(t, err, "down")
	assert.Equal(t, []uint64{3}, ok.rounds)
	assert.Equal(t, []uint64{3}, broken.rounds)

	assert.Error(t, f.Close())
	assert.True(t, ok.closed)
}
