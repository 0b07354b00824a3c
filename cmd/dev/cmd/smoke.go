package cmd

import (
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/mklimuk/thermobus/config"
	"github.com/mklimuk/thermobus/simbus"
)

// SmokeCmd runs the cli against the simulated bus: a healthy sensor, a
// missing one and one per fault.
func SmokeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "smoke",
		Short: "Poll simulated sensors with the thermobus cli",
		RunE: func(cmd *cobra.Command, args []string) error {
			rounds, err := cmd.Flags().GetUint("rounds")
			if err != nil {
				return fmt.Errorf("could not get rounds flag: %w", err)
			}
			latency, err := cmd.Flags().GetInt("latency")
			if err != nil {
				return fmt.Errorf("could not get latency flag: %w", err)
			}
			dir, err := os.MkdirTemp("", "thermobus-smoke")
			if err != nil {
				return fmt.Errorf("could not create work dir: %w", err)
			}
			defer func() { _ = os.RemoveAll(dir) }()
			path := filepath.Join(dir, "thermobus.yaml")
			err = writeSimConfig(path, latency)
			if err != nil {
				return err
			}
			slog.Info("polling simulated sensors", "rounds", rounds, "config", path)
			run := exec.CommandContext(cmd.Context(), "go", "run", "./cmd/thermobus",
				"--config", path, "poll", "--rounds", strconv.FormatUint(uint64(rounds), 10))
			run.Stdout = os.Stdout
			run.Stderr = os.Stderr
			return run.Run()
		},
	}
	cmd.Flags().Uint("rounds", 3, "number of rounds to poll")
	cmd.Flags().Int("latency", 2, "status checks each simulated bus operation takes")
	return cmd
}

func writeSimConfig(path string, latency int) error {
	cfg := config.Default()
	cfg.Bus.Adapter = config.AdapterSim
	cfg.Poll.RoundIntervalMs = 100
	cfg.Simulation.Latency = latency
	// sensor 1 is left out and shows up as not present
	cfg.Simulation.Sensors = []config.SimSensor{{Address: 0, Celsius: 21.5}}
	for i, fault := range []simbus.Fault{simbus.FaultDataNack, simbus.FaultHang, simbus.FaultStuckStop} {
		cfg.Simulation.Sensors = append(cfg.Simulation.Sensors, config.SimSensor{
			Address: uint8(i + 2),
			Celsius: -3,
			Fault:   fault.String(),
		})
	}
	err := config.Validate(cfg)
	if err != nil {
		return fmt.Errorf("invalid smoke configuration: %w", err)
	}
	out, err := config.Encode(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, out, 0o600)
}
