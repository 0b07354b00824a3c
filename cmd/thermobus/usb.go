package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/karalabe/hid"
	"github.com/urfave/cli/v2"

	"github.com/mklimuk/thermobus/adapter"
)

var usbCmd = cli.Command{
	Name:  "usb",
	Usage: "inspect attached USB HID devices",
	Subcommands: cli.Commands{
		&usbLsCmd,
		&usbDetectCmd,
	},
}

var usbLsCmd = cli.Command{
	Name:  "ls",
	Usage: "list all HID devices",
	Action: func(c *cli.Context) error {
		devices := hid.Enumerate(0, 0)

		w := tabwriter.NewWriter(os.Stdout, 24, 0, 1, ' ', 0)
		_, _ = fmt.Fprintf(w, "PATH\tSERIAL\tVENDOR\tPRODUCT ID\tMANUFACTURER\tPRODUCT\n")
		for _, dev := range devices {
			_, _ = fmt.Fprintf(w, "%s\t%s\t%#x\t%#x\t%s\t%s\n",
				dev.Path, dev.Serial, dev.VendorID, dev.ProductID, dev.Manufacturer, dev.Product)
		}
		_ = w.Flush()
		return nil
	},
}

var usbDetectCmd = cli.Command{
	Name:  "detect",
	Usage: "list the attached MCP2221 bus adapters with the id to select them by",
	Action: func(c *cli.Context) error {
		w := tabwriter.NewWriter(os.Stdout, 12, 0, 1, ' ', 0)
		_, _ = fmt.Fprintf(w, "ID\tVENDOR\tPRODUCT\tSERIAL\tPATH\n")
		for i, dev := range adapter.Enumerate() {
			_, _ = fmt.Fprintf(w, "%d\t%#x\t%#x\t%s\t%s\n", i, dev.VendorID, dev.ProductID, dev.Serial, dev.Path)
		}
		_ = w.Flush()
		return nil
	},
}
