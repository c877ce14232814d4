package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/hypebeast/go-osc/osc"
	"github.com/spf13/cobra"

	"github.com/srg/instep/insole"
	"github.com/srg/instep/session"
)

// forwardCmd represents the forward command
var forwardCmd = &cobra.Command{
	Use:   "forward <address>",
	Short: "Forward telemetry as OSC over UDP",
	Long: `Streams from an insole and forwards every sensor sample as an OSC
message, for visualizers and audio tools that speak the protocol.

Messages go to /instep/<side>/<kind>, e.g. /instep/right/pressure, with
the packet serial as an int32 followed by the sample values as float32s.
Delivery is fire and forget; a receiver that is not listening yet is not
an error.

Examples:
  # Feed a local visualizer
  instep forward AA:BB:CC:DD:EE:01 --to 127.0.0.1:9000

  # Only pressure, at the combined 100 Hz rate
  instep forward AA:BB:CC:DD:EE:01 --to 10.0.0.5:8000 --kind pressure --mode full`,
	Args: cobra.ExactArgs(1),
	RunE: runForward,
}

var (
	forwardTo       string
	forwardKinds    []string
	forwardMode     string
	forwardTimeout  time.Duration
	forwardModel    string
	forwardDuration time.Duration
)

func init() {
	forwardCmd.Flags().StringVar(&forwardTo, "to", "", "OSC receiver as host:port (required)")
	forwardCmd.Flags().StringSliceVar(&forwardKinds, "kind", nil, "Only forward these sample kinds (accel, gyro, quat, pressure)")
	forwardCmd.Flags().StringVar(&forwardMode, "mode", "", "Streaming mode: legacy, motion, or full")
	forwardCmd.Flags().DurationVar(&forwardTimeout, "timeout", 15*time.Second, "Connection timeout")
	forwardCmd.Flags().StringVar(&forwardModel, "model", "", "Pin a registered model instead of matching the advertised name")
	forwardCmd.Flags().DurationVar(&forwardDuration, "duration", 0, "Stop after this long (0 = until Ctrl-C)")
	_ = forwardCmd.MarkFlagRequired("to")
}

func runForward(cmd *cobra.Command, args []string) error {
	address := args[0]

	host, portStr, err := net.SplitHostPort(forwardTo)
	if err != nil {
		return fmt.Errorf("invalid --to %q: use host:port", forwardTo)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil || port < 1 || port > 65535 {
		return fmt.Errorf("invalid --to port %q", portStr)
	}
	kinds, err := parseKinds(forwardKinds)
	if err != nil {
		return err
	}
	mode, err := parseStreamingMode(forwardMode)
	if err != nil {
		return err
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

	client := osc.NewClient(host, port)

	cfg := session.Config{
		Adapter:        buildAdapter(cmd, logger),
		Registry:       registry,
		Model:          forwardModel,
		ConnectTimeout: forwardTimeout,
		StreamingMode:  mode,
		Logger:         logger,
	}
	s, err := session.New(cfg)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		<-sigCh
		fmt.Fprintln(os.Stderr, "\nInterrupted, disconnecting...")
		_ = s.Disconnect()
	}()

	sub := s.Subscribe()
	defer sub.Cancel()

	if err := acquire(ctx, s, address, "", forwardModel); err != nil {
		return err
	}
	fmt.Fprintf(os.Stderr, "Forwarding OSC to %s\n", forwardTo)

	var stop <-chan time.Time
	if forwardDuration > 0 {
		timer := time.NewTimer(forwardDuration)
		defer timer.Stop()
		stop = timer.C
	}

	for {
		select {
		case <-stop:
			stop = nil
			_ = s.Disconnect()
		case ev, ok := <-sub.Events():
			if !ok {
				return sessionExitError(s)
			}
			switch e := ev.(type) {
			case insole.SensorSample:
				if kinds != nil && !kinds[e.Kind] {
					continue
				}
				// Fire and forget, a dead receiver must not stall the stream.
				_ = client.Send(oscMessage(e))
			case insole.StateChange:
				printStateLine(os.Stderr, e)
			}
		}
	}
}

func oscMessage(s insole.SensorSample) *osc.Message {
	msg := osc.NewMessage("/instep/" + s.Handle.Side.String() + "/" + kindToken(s.Kind))
	msg.Append(int32(s.Serial))
	switch s.Kind {
	case insole.KindQuaternion:
		msg.Append(float32(s.Quat.W))
		msg.Append(float32(s.Quat.X))
		msg.Append(float32(s.Quat.Y))
		msg.Append(float32(s.Quat.Z))
	case insole.KindPressure:
		for _, v := range s.Pressure {
			msg.Append(float32(v))
		}
	default:
		msg.Append(float32(s.Vec.X))
		msg.Append(float32(s.Vec.Y))
		msg.Append(float32(s.Vec.Z))
	}
	return msg
}
