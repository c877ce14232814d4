package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/srg/instep/insole"
	"github.com/srg/instep/schema"
	"github.com/srg/instep/session"
)

// configureCmd represents the configure command
var configureCmd = &cobra.Command{
	Use:   "configure <address>",
	Short: "Write sensor configuration to an insole",
	Long: `Rewrites parts of the device record, or switches the streaming mode.

Only the fields you pass change; the rest of the record is read from the
device and written back as is. The device applies new sensor ranges
immediately and reports them in the status printed on success.

Examples:
  # Widen the accelerometer range for running
  instep configure AA:BB:CC:DD:EE:01 --acc-range 16

  # Mark the unit as mounted under the right foot
  instep configure AA:BB:CC:DD:EE:01 --mount right/plantar

  # Switch to the 100 Hz combined stream
  instep configure AA:BB:CC:DD:EE:01 --mode full`,
	Args: cobra.ExactArgs(1),
	RunE: runConfigure,
}

var (
	configAccRange  int
	configGyroRange int
	configMount     string
	configMode      string
	configTimeout   time.Duration
	configModel     string
	configJSON      bool
)

func init() {
	configureCmd.Flags().IntVar(&configAccRange, "acc-range", 0, "Accelerometer range in g (2, 4, 8, or 16)")
	configureCmd.Flags().IntVar(&configGyroRange, "gyro-range", 0, "Gyroscope range in deg/s (250, 500, 1000, or 2000)")
	configureCmd.Flags().StringVar(&configMount, "mount", "", "Mount position as side/surface, e.g. right/plantar")
	configureCmd.Flags().StringVar(&configMode, "mode", "", "Streaming mode: legacy, motion, or full")
	configureCmd.Flags().DurationVar(&configTimeout, "timeout", 15*time.Second, "Overall timeout for the operation")
	configureCmd.Flags().StringVar(&configModel, "model", "", "Pin a registered model instead of matching the advertised name")
	configureCmd.Flags().BoolVar(&configJSON, "json", false, "Output the resulting status as JSON")
}

// parseMount converts a side/surface string into an insole.Mount.
func parseMount(s string) (insole.Mount, error) {
	side, surface, ok := strings.Cut(strings.ToLower(s), "/")
	if !ok {
		return insole.Mount{}, fmt.Errorf("invalid mount %q: use side/surface, e.g. right/plantar", s)
	}
	var m insole.Mount
	switch side {
	case "left":
		m.Side = insole.SideLeft
	case "right":
		m.Side = insole.SideRight
	default:
		return insole.Mount{}, fmt.Errorf("invalid mount side %q: use left or right", side)
	}
	switch surface {
	case "plantar":
		m.Surface = insole.SurfacePlantar
	case "dorsal":
		m.Surface = insole.SurfaceDorsal
	default:
		return insole.Mount{}, fmt.Errorf("invalid mount surface %q: use plantar or dorsal", surface)
	}
	return m, nil
}

func runConfigure(cmd *cobra.Command, args []string) error {
	address := args[0]

	accChanged := cmd.Flags().Changed("acc-range")
	gyroChanged := cmd.Flags().Changed("gyro-range")
	mountChanged := cmd.Flags().Changed("mount")
	modeChanged := cmd.Flags().Changed("mode")
	if !accChanged && !gyroChanged && !mountChanged && !modeChanged {
		return fmt.Errorf("nothing to configure: pass --acc-range, --gyro-range, --mount, or --mode")
	}

	var mount insole.Mount
	if mountChanged {
		var err error
		mount, err = parseMount(configMount)
		if err != nil {
			return err
		}
	}
	var mode schema.StreamingMode
	if modeChanged {
		var err error
		mode, err = parseStreamingMode(configMode)
		if err != nil {
			return err
		}
		if mode == 0 {
			return fmt.Errorf("invalid mode %q: use legacy, motion, or full", configMode)
		}
	}
	// Validate ranges before touching the radio. Unset fields borrow the
	// lowest valid value, the probe record itself is discarded.
	if accChanged || gyroChanged {
		probe := schema.InfoRecord{AccelRangeG: 2, GyroRangeDPS: 250}
		if accChanged {
			probe.AccelRangeG = configAccRange
		}
		if gyroChanged {
			probe.GyroRangeDPS = configGyroRange
		}
		if _, err := probe.Encode(); err != nil {
			return err
		}
	}

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
		Model:                configModel,
		ConnectTimeout:       configTimeout,
		SkipStreamingCommand: true,
		DisableReconnect:     true,
		Logger:               logger,
	}
	s, err := session.New(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = s.Disconnect() }()

	ctx, cancel := context.WithTimeout(context.Background(), configTimeout)
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
	if !configJSON {
		progress = NewProgressPrinter("Configuring device", "Connecting")
		progress.Start()
	}
	err = applyConfiguration(ctx, s, address,
		accChanged, gyroChanged, mountChanged, mount, mode)
	if progress != nil {
		progress.Stop()
	}
	if err != nil {
		return err
	}

	st, ok := s.Status()
	_ = s.Disconnect()
	if !ok {
		return fmt.Errorf("device accepted the configuration but reported no status")
	}

	if configJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(statusView(st))
	}
	printStatusDetail(os.Stdout, st)
	return nil
}

func applyConfiguration(ctx context.Context, s *session.Session, address string,
	accChanged, gyroChanged, mountChanged bool, mount insole.Mount, mode schema.StreamingMode) error {

	if err := acquire(ctx, s, address, "", configModel); err != nil {
		return err
	}

	if accChanged || gyroChanged || mountChanged {
		rec, err := s.ReadInfo(ctx)
		if err != nil {
			return err
		}
		if accChanged {
			rec.AccelRangeG = configAccRange
		}
		if gyroChanged {
			rec.GyroRangeDPS = configGyroRange
		}
		if mountChanged {
			rec.Mount = mount
		}
		if err := s.WriteInfo(ctx, rec); err != nil {
			return err
		}
	}

	if mode != 0 {
		if err := s.SetStreamingMode(ctx, mode); err != nil {
			return err
		}
	}
	return nil
}
