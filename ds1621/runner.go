package ds1621

import (
	"context"
	"log/slog"
	"time"

	"github.com/mklimuk/thermobus/twi"
)

const (
	DefaultPollInterval = 200 * time.Microsecond
	// DefaultRoundInterval leaves the sensors time for a 750ms conversion.
	DefaultRoundInterval = time.Second
)

type RunnerConfig struct {
	PollInterval  time.Duration
	RoundInterval time.Duration
	TickInterval  time.Duration
	MaxRounds     uint64
	Logger        *slog.Logger
}

type RunnerOption func(*RunnerConfig)

func WithPollInterval(d time.Duration) RunnerOption {
	return func(c *RunnerConfig) {
		c.PollInterval = d
	}
}

// WithRoundInterval sets the pause between two rounds.
func WithRoundInterval(d time.Duration) RunnerOption {
	return func(c *RunnerConfig) {
		c.RoundInterval = d
	}
}

func WithTickInterval(d time.Duration) RunnerOption {
	return func(c *RunnerConfig) {
		c.TickInterval = d
	}
}

// WithMaxRounds makes Run return after n rounds. Zero means run until cancelled.
func WithMaxRounds(n uint64) RunnerOption {
	return func(c *RunnerConfig) {
		c.MaxRounds = n
	}
}

func WithRunnerLogger(logger *slog.Logger) RunnerOption {
	return func(c *RunnerConfig) {
		c.Logger = logger
	}
}

// Runner owns the timeout clock of one bus and drives its sequencer.
type Runner struct {
	seq    *Sequencer
	ticker twi.Ticker
	cfg    RunnerConfig
}

// NewRunner creates a runner; ticker is usually the engine the sequencer drives.
func NewRunner(seq *Sequencer, ticker twi.Ticker, opts ...RunnerOption) *Runner {
	cfg := RunnerConfig{
		PollInterval:  DefaultPollInterval,
		RoundInterval: DefaultRoundInterval,
		TickInterval:  twi.DefaultTickInterval,
		Logger:        slog.Default(),
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Runner{seq: seq, ticker: ticker, cfg: cfg}
}

// Run polls until ctx is done or MaxRounds rounds have been emitted on out.
// One snapshot is sent per completed round. No overlap, no retries.
func (r *Runner) Run(ctx context.Context, out chan<- Snapshot) error {
	clockCtx, stopClock := context.WithCancel(ctx)
	defer stopClock()
	go twi.Clock{Interval: r.cfg.TickInterval}.Run(clockCtx, r.ticker)

	poll := time.NewTicker(r.cfg.PollInterval)
	defer poll.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-poll.C:
		}
		if !r.seq.Poll() {
			continue
		}
		snap := r.seq.Snapshot(time.Now())
		r.cfg.Logger.Debug("ds1621 round complete", "round", snap.Round, "failures", r.seq.Failures())
		select {
		case out <- snap:
		case <-ctx.Done():
			return ctx.Err()
		}
		if r.cfg.MaxRounds > 0 && snap.Round >= r.cfg.MaxRounds {
			return nil
		}
		if r.cfg.RoundInterval <= 0 {
			continue
		}
		hold := time.NewTimer(r.cfg.RoundInterval)
		select {
		case <-ctx.Done():
			hold.Stop()
			return ctx.Err()
		case <-hold.C:
		}
	}
}
