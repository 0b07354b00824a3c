package console

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/mklimuk/thermobus/ds1621"
)

// PrintReadings writes one round as a table; absent sensors show a red dash.
func PrintReadings(snap ds1621.Snapshot) {
	PInfof(PictoThermometer, "round %s at %s", White(snap.Round), snap.At.Format(time.TimeOnly))
	w := tabwriter.NewWriter(writer, 8, 0, 2, ' ', 0)
	_, _ = fmt.Fprintf(w, "SENSOR\tADDRESS\tTENTHS\tCELSIUS\n")
	for _, r := range snap.Readings {
		if !r.Present {
			_, _ = fmt.Fprintf(w, "%d\t%#x\t%d\t%s\n", r.Address, ds1621.Address(r.Address), r.Tenths, Red("-"))
			continue
		}
		_, _ = fmt.Fprintf(w, "%d\t%#x\t%d\t%s\n", r.Address, ds1621.Address(r.Address), r.Tenths, Green(fmt.Sprintf("%.1f", r.Celsius())))
	}
	_ = w.Flush()
}
