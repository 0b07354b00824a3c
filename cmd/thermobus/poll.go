package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v2"

	"github.com/mklimuk/thermobus/cmd/thermobus/console"
	"github.com/mklimuk/thermobus/config"
	"github.com/mklimuk/thermobus/ds1621"
	"github.com/mklimuk/thermobus/sink"
	"github.com/mklimuk/thermobus/twi"
)

var pollFlags = []cli.Flag{
	&cli.StringFlag{
		Name:    "adapter",
		Aliases: []string{"a"},
		Usage:   "bus adapter: mcp2221, generic, nanopi or sim",
		Value:   config.AdapterMCP2221,
	},
	&cli.StringFlag{
		Name:  "device",
		Usage: "periph bus name for the generic adapter",
	},
	&cli.Int64Flag{
		Name:  "speed",
		Usage: "bus speed in Hz",
	},
	&cli.UintFlag{
		Name:  "highest",
		Usage: "highest sensor address (0-7)",
	},
	&cli.StringFlag{
		Name:  "redis",
		Usage: "publish readings to the Redis server at this address",
	},
	&cli.StringFlag{
		Name:  "modbus",
		Usage: "publish readings to the Modbus TCP endpoint at this address",
	},
}

var pollCmd = cli.Command{
	Name:  "poll",
	Usage: "poll the sensors and print every completed round",
	Flags: append([]cli.Flag{
		&cli.Uint64Flag{
			Name:    "rounds",
			Aliases: []string{"n"},
			Usage:   "stop after this many rounds (0 polls until interrupted)",
		},
	}, pollFlags...),
	Action: func(c *cli.Context) error {
		cfg, err := loadConfig(c)
		if err != nil {
			return console.Exit(1, "configuration error: %s", console.Red(err))
		}
		ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
		defer stop()
		ctx = console.SetVerbose(ctx, c.Bool("verbose"))

		ctrl, release, err := openController(ctx, cfg)
		if err != nil {
			return console.Exit(1, "bus error: %s", console.Red(err))
		}
		defer release()
		engine := twi.New(ctrl, twi.WithTimeout(cfg.Poll.TimeoutTicks))
		err = engine.Configure(cfg.Bus.Clock(), cfg.Bus.Speed())
		if err != nil {
			return console.Exit(1, "bus configuration error: %s", console.Red(err))
		}
		readings := ds1621.NewReadings(cfg.Poll.HighestAddress)
		seq, err := ds1621.New(engine, cfg.Poll.HighestAddress, readings)
		if err != nil {
			return console.Exit(1, "sequencer error: %s", console.Red(err))
		}
		pubs, err := openPublishers(cfg.Sinks)
		if err != nil {
			return console.Exit(1, "publisher error: %s", console.Red(err))
		}
		defer closeLogged("publishers", pubs.Close)

		runner := ds1621.NewRunner(seq, engine,
			ds1621.WithPollInterval(cfg.Poll.PollInterval()),
			ds1621.WithRoundInterval(cfg.Poll.RoundInterval()),
			ds1621.WithTickInterval(cfg.Tick()),
			ds1621.WithMaxRounds(c.Uint64("rounds")),
		)
		console.PInfof(console.PictoPin, "polling sensors 0-%d through %s", cfg.Poll.HighestAddress, console.White(cfg.Bus.Adapter))
		err = poll(ctx, runner, pubs)
		if err != nil && !errors.Is(err, context.Canceled) {
			return console.Exit(1, "polling error: %s", console.Red(err))
		}
		console.PInfof(console.PictoFinish, "%d rounds polled", seq.Rounds())
		return nil
	},
}

// poll prints and publishes every snapshot the runner emits until it returns.
func poll(ctx context.Context, runner *ds1621.Runner, pub sink.Publisher) error {
	snaps := make(chan ds1621.Snapshot)
	errc := make(chan error, 1)
	go func() {
		errc <- runner.Run(ctx, snaps)
		close(snaps)
	}()
	for snap := range snaps {
		console.PrintReadings(snap)
		if console.IsVerbose(ctx) {
			console.PInfof(console.PictoGhost, "%d failed transactions", snap.Failures)
		}
		if err := pub.Publish(ctx, snap); err != nil {
			slog.Warn("could not publish readings", "round", snap.Round, "error", err)
		}
	}
	return <-errc
}
