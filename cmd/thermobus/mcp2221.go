package main

import (
	"os"

	"github.com/urfave/cli/v2"
	"gopkg.in/yaml.v3"

	"github.com/mklimuk/thermobus/adapter"
	"github.com/mklimuk/thermobus/cmd/thermobus/console"
)

var mcp2221Cmd = cli.Command{
	Name:  "mcp2221",
	Usage: "talk to an MCP2221 USB to I2C adapter",
	Flags: []cli.Flag{
		&cli.IntFlag{
			Name:  "id",
			Usage: "adapter id as listed by usb detect",
			Value: -1,
		},
	},
	Subcommands: cli.Commands{
		&mcp2221StatusCmd,
		&mcp2221ReleaseCmd,
	},
}

var mcp2221StatusCmd = cli.Command{
	Name:  "status",
	Usage: "print the adapter's I2C engine status",
	Action: func(c *cli.Context) error {
		a := adapter.NewMCP2221(adapter.WithDevice(c.Int("id")))
		status, err := a.Status(c.Context)
		if err != nil {
			return console.Exit(1, "adapter communication error: %s", console.Red(err))
		}
		return printYAML(status)
	},
}

var mcp2221ReleaseCmd = cli.Command{
	Name:  "release",
	Usage: "cancel the current transfer and free the bus",
	Flags: []cli.Flag{
		&cli.BoolFlag{
			Name:    "yes",
			Aliases: []string{"y"},
			Usage:   "do not ask for confirmation",
		},
	},
	Action: func(c *cli.Context) error {
		if !c.Bool("yes") {
			answer, err := console.Prompt("cancel the adapter's current transfer?", console.No, console.Yes)
			if err != nil {
				return console.Exit(1, "prompt error: %s", console.Red(err))
			}
			if answer != console.Yes {
				console.PInfof(console.PictoStop, "release aborted")
				return nil
			}
		}
		a := adapter.NewMCP2221(adapter.WithDevice(c.Int("id")))
		status, err := a.ReleaseBus(c.Context)
		if err != nil {
			return console.Exit(1, "adapter communication error: %s", console.Red(err))
		}
		return printYAML(status)
	},
}

func printYAML(v interface{}) error {
	enc := yaml.NewEncoder(os.Stdout)
	err := enc.Encode(v)
	if err != nil {
		return console.Exit(1, "encoding error: %s", console.Red(err))
	}
	_ = enc.Close()
	return nil
}
