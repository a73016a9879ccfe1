// Command thermald keeps CPU temperature under a trip point by capping the
// cpufreq ceiling, and serves a small control API for inspecting it.
package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"thermal_governor/api"
	"thermal_governor/config"
	"thermal_governor/version"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "thermald",
		Short: "Closed-loop CPU thermal governor",
		Long: `thermald samples a temperature sensor and lowers the maximum CPU
frequency in steps as the temperature climbs above the threshold. The clamp
is released once the temperature falls below threshold - safe_diff.

Example:
  thermald --config /etc/thermald.yaml --metrics-addr :9101`,
		SilenceUsage: true,
		RunE:         runDaemon,
	}

	f := rootCmd.Flags()
	f.StringP("config", "c", "", "Path to configuration file (YAML, TOML or JSON)")
	f.Int64P("threshold", "t", config.DEFAULT_THRESHOLD, "Trip point in degrees")
	f.Int64("safe-diff", config.DEFAULT_SAFE_DIFF, "Degrees below the threshold at which the clamp is released")
	f.StringP("log-level", "l", "", "Log level (trace, debug, info, warn, error)")
	f.String("cpufreq-path", "", "cpufreq sysfs root")
	f.String("metrics-addr", "", "Serve Prometheus metrics on this address")
	f.String("api-addr", config.DEFAULT_API_ADDR, "Control API listen address")

	rootCmd.AddCommand(newVersionCmd(), newStatusCmd(), newSetThresholdCmd())
	return rootCmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print build information",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return printJSON(cmd, version.GetVersionConfig())
		},
	}
}

func newStatusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the running governor's state",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := apiClient(cmd)
			if err != nil {
				return err
			}
			defer c.Shutdown()

			var st json.RawMessage
			if _, err := c.Call(api.CMD_STATUS, nil, &st); err != nil {
				return err
			}
			return printJSON(cmd, st)
		},
	}
	cmd.Flags().String("api-addr", config.DEFAULT_API_ADDR, "Control API address of the daemon")
	return cmd
}

func newSetThresholdCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "set-threshold <degrees>",
		Short: "Change the trip point of the running governor",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			v, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid threshold %q: %w", args[0], err)
			}
			c, err := apiClient(cmd)
			if err != nil {
				return err
			}
			defer c.Shutdown()

			var data api.ThresholdData
			if _, err := c.Call(api.CMD_THRESHOLD, v, &data); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "threshold %d -> %d\n", data.Previous, data.Threshold)
			return nil
		},
	}
	cmd.Flags().String("api-addr", config.DEFAULT_API_ADDR, "Control API address of the daemon")
	return cmd
}

func apiClient(cmd *cobra.Command) (*api.TCPClient, error) {
	addr, err := cmd.Flags().GetString("api-addr")
	if err != nil {
		return nil, fmt.Errorf("failed to get api-addr flag: %w", err)
	}
	return api.NewTCPClient(addr), nil
}

func printJSON(cmd *cobra.Command, v interface{}) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
