package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/srg/instep/insole"
	"github.com/srg/instep/session"
)

// infoCmd represents the info command
var infoCmd = &cobra.Command{
	Use:   "info <address>",
	Short: "Read device status from an insole",
	Long: `Connects to an insole, reads its device record, and disconnects.

Shows battery level, firmware version, mount position, and the configured
sensor ranges. Streaming is not started.

Examples:
  # Show device status
  instep info AA:BB:CC:DD:EE:01

  # Machine-readable output
  instep info AA:BB:CC:DD:EE:01 --json`,
	Args: cobra.ExactArgs(1),
	RunE: runInfo,
}

var (
	infoJSON    bool
	infoTimeout time.Duration
	infoModel   string
)

func init() {
	infoCmd.Flags().BoolVar(&infoJSON, "json", false, "Output JSON")
	infoCmd.Flags().DurationVar(&infoTimeout, "timeout", 15*time.Second, "Overall timeout for the read")
	infoCmd.Flags().StringVar(&infoModel, "model", "", "Pin a registered model instead of matching the advertised name")
}

func runInfo(cmd *cobra.Command, args []string) error {
	address := args[0]

	logger, err := configureLogger(cmd)
	if err != nil {
		return err
	}
	registry, err := loadRegistry(cmd)
	if err != nil {
		return err
	}

	// All arguments validated - don't show usage on runtime errors
	cmd.SilenceUsage = true

	cfg := session.Config{
		Adapter:              buildAdapter(cmd, logger),
		Registry:             registry,
		Model:                infoModel,
		ConnectTimeout:       infoTimeout,
		SkipStreamingCommand: true,
		DisableReconnect:     true,
		Logger:               logger,
	}
	s, err := session.New(cfg)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), infoTimeout)
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		select {
		case <-sigCh:
			fmt.Fprintln(os.Stderr, "\nCtrl+C pressed, cancelling...")
			cancel()
		case <-ctx.Done():
		}
	}()

	var progress *ProgressPrinter
	if !infoJSON {
		progress = NewProgressPrinter("Reading device status", "Connecting")
		progress.Start()
	}

	st, err := fetchStatus(ctx, s, address, infoModel)
	if progress != nil {
		progress.Stop()
	}
	_ = s.Disconnect()
	if err != nil {
		return err
	}

	if infoJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(statusView(st))
	}
	printStatusDetail(os.Stdout, st)
	return nil
}

// fetchStatus acquires the device and waits for the first status event.
// The caller owns the session and disconnects it.
func fetchStatus(ctx context.Context, s *session.Session, address, model string) (insole.DeviceStatus, error) {
	sub := s.Subscribe()
	defer sub.Cancel()

	if err := acquire(ctx, s, address, "", model); err != nil {
		return insole.DeviceStatus{}, err
	}

	for {
		select {
		case <-ctx.Done():
			return insole.DeviceStatus{}, ctx.Err()
		case ev, ok := <-sub.Events():
			if !ok {
				if err := s.Err(); err != nil {
					return insole.DeviceStatus{}, err
				}
				return insole.DeviceStatus{}, ErrConnectionLost
			}
			if st, isStatus := ev.(insole.DeviceStatus); isStatus {
				return st, nil
			}
		}
	}
}

func printStatusDetail(w *os.File, st insole.DeviceStatus) {
	fmt.Fprintf(w, "%-12s %s\n", "Device", st.Handle)
	if st.Handle.Model != "" {
		fmt.Fprintf(w, "%-12s %s\n", "Model", st.Handle.Model)
	}
	fmt.Fprintf(w, "%-12s ", "Battery")
	_, _ = batteryColor(st.Battery).Fprintf(w, "%d%%\n", st.Battery)
	fmt.Fprintf(w, "%-12s %s\n", "Firmware", st.Firmware)
	fmt.Fprintf(w, "%-12s %s\n", "Mount", st.Mount)
	fmt.Fprintf(w, "%-12s ±%d g\n", "Accel range", st.AccelRangeG)
	fmt.Fprintf(w, "%-12s ±%d deg/s\n", "Gyro range", st.GyroRangeDPS)
	if st.RSSI != 0 {
		fmt.Fprintf(w, "%-12s %d dBm\n", "RSSI", st.RSSI)
	}
}

func batteryColor(level int) *color.Color {
	switch {
	case level < 20:
		return color.New(color.FgRed)
	case level < 50:
		return color.New(color.FgYellow)
	default:
		return color.New(color.FgGreen)
	}
}
