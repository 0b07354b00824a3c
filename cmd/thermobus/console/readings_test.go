package console

import (
	"bytes"
	"os"
	"testing"
	"time"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"

	"github.com/mklimuk/thermobus/ds1621"
)

func TestPrintReadings(t *testing.T) {
	color.NoColor = true
	var out bytes.Buffer
	SetOutput(&out)
	defer SetOutput(os.Stdout)

	readings := ds1621.Readings{231, ds1621.NotPresent}
	PrintReadings(readings.Snapshot(2, time.Date(2025, 1, 1, 8, 30, 0, 0, time.UTC)))

	text := out.String()
	assert.Contains(t, text, "round 2 at 08:30:00")
	assert.Contains(t, text, "23.1")
	assert.Contains(t, text, "0x48")
	assert.Contains(t, text, "-862")
	assert.Contains(t, text, "0x49")
}
