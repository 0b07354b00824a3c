// Package sink publishes completed polling rounds to external stores.
package sink

import (
	"context"
	"errors"

	"github.com/mklimuk/thermobus/ds1621"
)

type Publisher interface {
	Publish(ctx context.Context, snap ds1621.Snapshot) error
	Close() error
}

// Fanout publishes to every publisher in turn. A failing publisher does not
// keep the snapshot from the others.
type Fanout []Publisher

func (f Fanout) Publish(ctx context.Context, snap ds1621.Snapshot) error {
	var errs []error
	for _, p := range f {
		if err := p.Publish(ctx, snap); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (f Fanout) Close() error {
	var errs []error
	for _, p := range f {
		if err := p.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
