package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"unicode"

	"github.com/go-ble/ble"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/srg/instep/internal/transport"
	"github.com/srg/instep/internal/transport/goble"
	"github.com/srg/instep/schema"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// formatVersion adds 'v' prefix if version starts with a digit
func formatVersion(ver string) string {
	if len(ver) > 0 && unicode.IsDigit(rune(ver[0])) {
		return "v" + ver
	}
	return ver
}

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "instep",
	Short: "Smart insole telemetry client",
	Long: `Command-line client for ORPHE-style smart insoles:

- Scan for nearby insoles and match them against known device models
- Stream decoded motion and pressure telemetry as text or NDJSON
- Read and write the device information record (battery, mounting, ranges)
- Forward sensor streams to OSC consumers over UDP
- Load additional device models from YAML schemas

Built for gait-analysis rigs, firmware bring-up, and recording sessions.`,
	Version: formatVersion(version),
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		// Ctrl+C is a normal exit, not an error - exit silently
		if errors.Is(err, context.Canceled) {
			return
		}
		// Print user-friendly error message
		fmt.Fprintf(os.Stderr, "ERROR: %s\n", FormatUserError(err))
		os.Exit(1)
	}
}

// newTransportAdapter builds the radio adapter. A variable so tests can
// substitute a scripted transport.
var newTransportAdapter = func(logger *logrus.Logger, adapterID int) transport.Adapter {
	var opts []ble.Option
	if adapterID >= 0 {
		opts = append(opts, ble.OptDeviceID(adapterID))
	}
	return goble.NewAdapter(logger, opts...)
}

// buildAdapter reads the global --adapter-id flag and constructs the radio.
func buildAdapter(cmd *cobra.Command, logger *logrus.Logger) transport.Adapter {
	id, _ := cmd.Flags().GetInt("adapter-id")
	return newTransportAdapter(logger, id)
}

// loadRegistry returns the built-in models plus any YAML schemas named by
// the global --schema flag.
func loadRegistry(cmd *cobra.Command) (*schema.Registry, error) {
	registry := schema.Default()
	paths, _ := cmd.Flags().GetStringSlice("schema")
	for _, path := range paths {
		if err := registry.LoadFile(path); err != nil {
			return nil, fmt.Errorf("schema %s: %w", path, err)
		}
	}
	return registry, nil
}

func init() {
	// Silence Cobra's "Error:" prefix - main() prints clean errors
	rootCmd.SilenceErrors = true

	// Add subcommands
	rootCmd.AddCommand(scanCmd)
	rootCmd.AddCommand(streamCmd)
	rootCmd.AddCommand(infoCmd)
	rootCmd.AddCommand(configureCmd)
	rootCmd.AddCommand(forwardCmd)
	rootCmd.AddCommand(modelsCmd)

	// Global flags
	rootCmd.PersistentFlags().String("log-level", "", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringSlice("schema", nil, "Additional model schema YAML file (repeatable)")
	rootCmd.PersistentFlags().Int("adapter-id", -1, "HCI adapter index (Linux only, -1 for default)")

	// Add -v as a short flag for --version
	rootCmd.Flags().BoolP("version", "v", false, "Show version information")
}
