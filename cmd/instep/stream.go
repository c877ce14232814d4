package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/srg/instep/insole"
	"github.com/srg/instep/schema"
	"github.com/srg/instep/session"
)

// streamCmd represents the stream command
var streamCmd = &cobra.Command{
	Use:   "stream [address]",
	Short: "Stream decoded telemetry from an insole",
	Long: `Connects to an insole and prints decoded sensor events until
interrupted.

Events are text lines by default, or NDJSON with --json. Session state
transitions, reconnects included, appear as their own lines. With no
address the first device matching --name is used.

Examples:
  # Stream everything from the first insole found
  instep stream --name INS

  # Pressure only, as NDJSON
  instep stream AA:BB:CC:DD:EE:01 --json --kind pressure

  # Motion at 200 Hz with a summary on exit
  instep stream AA:BB:CC:DD:EE:01 --mode motion --stats`,
	Args: cobra.MaximumNArgs(1),
	RunE: runStream,
}

var (
	streamName        string
	streamModel       string
	streamJSON        bool
	streamKinds       []string
	streamMode        string
	streamStats       bool
	streamDuration    time.Duration
	streamTimeout     time.Duration
	streamNoReconnect bool
)

func init() {
	streamCmd.Flags().StringVar(&streamName, "name", "", "Match the first device whose name starts with this prefix")
	streamCmd.Flags().StringVar(&streamModel, "model", "", "Pin a registered model instead of matching the advertised name")
	streamCmd.Flags().BoolVar(&streamJSON, "json", false, "Output NDJSON, one event per line")
	streamCmd.Flags().StringSliceVar(&streamKinds, "kind", nil, "Only print these sample kinds (accel, gyro, quat, pressure)")
	streamCmd.Flags().StringVar(&streamMode, "mode", "", "Streaming mode: legacy, motion, or full")
	streamCmd.Flags().BoolVar(&streamStats, "stats", false, "Print a session summary on exit")
	streamCmd.Flags().DurationVar(&streamDuration, "duration", 0, "Stop after this long (0 = until Ctrl-C)")
	streamCmd.Flags().DurationVar(&streamTimeout, "timeout", 15*time.Second, "Connection timeout")
	streamCmd.Flags().BoolVar(&streamNoReconnect, "no-reconnect", false, "Exit instead of reconnecting when the link drops")
}

// parseStreamingMode converts the CLI mode string to a schema.StreamingMode.
// Empty input returns 0, meaning "use the session default".
func parseStreamingMode(mode string) (schema.StreamingMode, error) {
	switch strings.ToLower(mode) {
	case "":
		return 0, nil
	case "legacy", "1":
		return schema.StreamingLegacy, nil
	case "motion", "3":
		return schema.StreamingMotion, nil
	case "full", "4":
		return schema.StreamingFull, nil
	default:
		return 0, fmt.Errorf("invalid mode %q: use legacy, motion, or full", mode)
	}
}

// parseKinds converts --kind tokens into a filter set. Nil means "all".
func parseKinds(tokens []string) (map[insole.ChannelKind]bool, error) {
	if len(tokens) == 0 {
		return nil, nil
	}
	kinds := make(map[insole.ChannelKind]bool, len(tokens))
	for _, tok := range tokens {
		switch strings.ToLower(tok) {
		case "accel", "accelerometer":
			kinds[insole.KindAccelerometer] = true
		case "gyro", "gyroscope":
			kinds[insole.KindGyroscope] = true
		case "quat", "quaternion":
			kinds[insole.KindQuaternion] = true
		case "pressure":
			kinds[insole.KindPressure] = true
		default:
			return nil, fmt.Errorf("invalid kind %q: use accel, gyro, quat, or pressure", tok)
		}
	}
	return kinds, nil
}

// kindToken is the short name used in text output and OSC addresses.
func kindToken(k insole.ChannelKind) string {
	switch k {
	case insole.KindAccelerometer:
		return "accel"
	case insole.KindGyroscope:
		return "gyro"
	case insole.KindQuaternion:
		return "quat"
	case insole.KindPressure:
		return "pressure"
	default:
		return "unknown"
	}
}

// acquire blocks until the session holds a connected device. Address-only
// targets go through discovery so the advertised name can pick the model;
// a pinned model dials the address directly.
func acquire(ctx context.Context, s *session.Session, address, namePrefix, model string) error {
	if address != "" && model != "" {
		return s.Connect(ctx, insole.DeviceHandle{Address: address})
	}
	return s.StartDiscovery(ctx, session.Filter{Address: address, NamePrefix: namePrefix})
}

func runStream(cmd *cobra.Command, args []string) error {
	address := ""
	if len(args) == 1 {
		address = args[0]
	}
	if address == "" && streamName == "" {
		return fmt.Errorf("specify a device address or a --name prefix")
	}

	kinds, err := parseKinds(streamKinds)
	if err != nil {
		return err
	}
	mode, err := parseStreamingMode(streamMode)
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

	cfg := session.Config{
		Adapter:          buildAdapter(cmd, logger),
		Registry:         registry,
		Model:            streamModel,
		ConnectTimeout:   streamTimeout,
		StreamingMode:    mode,
		DisableReconnect: streamNoReconnect,
		Logger:           logger,
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

	// Subscribe before acquiring so no state transition is missed.
	sub := s.Subscribe()
	defer sub.Cancel()

	if err := acquire(ctx, s, address, streamName, streamModel); err != nil {
		return err
	}

	var stop <-chan time.Time
	if streamDuration > 0 {
		timer := time.NewTimer(streamDuration)
		defer timer.Stop()
		stop = timer.C
	}

	enc := json.NewEncoder(os.Stdout)
	for {
		select {
		case <-stop:
			stop = nil
			_ = s.Disconnect()
		case ev, ok := <-sub.Events():
			if !ok {
				if streamStats {
					printSessionStats(os.Stderr, s.Stats())
				}
				return sessionExitError(s)
			}
			printEvent(enc, ev, kinds)
		}
	}
}

// sessionExitError converts the session's terminal cause into the command
// exit error. A deliberate disconnect is a clean exit.
func sessionExitError(s *session.Session) error {
	err := s.Err()
	if err == nil || errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func printEvent(enc *json.Encoder, ev insole.Event, kinds map[insole.ChannelKind]bool) {
	switch e := ev.(type) {
	case insole.SensorSample:
		if kinds != nil && !kinds[e.Kind] {
			return
		}
		if streamJSON {
			_ = enc.Encode(sampleView(e))
		} else {
			fmt.Println(formatSampleLine(e))
		}
	case insole.DeviceStatus:
		if streamJSON {
			_ = enc.Encode(statusView(e))
		} else {
			_, _ = color.New(color.FgCyan).Println(formatStatusLine(e))
		}
	case insole.StateChange:
		if streamJSON {
			_ = enc.Encode(stateView(e))
		} else {
			printStateLine(os.Stdout, e)
		}
	}
}

func formatSampleLine(s insole.SensorSample) string {
	at := s.DeviceTime
	if at.IsZero() {
		at = s.At
	}
	head := fmt.Sprintf("%s %-8s serial=%d frame=%d", at.Format("15:04:05.000"), kindToken(s.Kind), s.Serial, s.Frame)

	switch s.Kind {
	case insole.KindQuaternion:
		line := fmt.Sprintf("%s w=%+.3f x=%+.3f y=%+.3f z=%+.3f", head, s.Quat.W, s.Quat.X, s.Quat.Y, s.Quat.Z)
		if s.LowConfidence {
			line += " (low confidence)"
		}
		return line
	case insole.KindPressure:
		vals := make([]string, len(s.Pressure))
		for i, v := range s.Pressure {
			vals[i] = fmt.Sprintf("%.1f", v)
		}
		return fmt.Sprintf("%s [%s]", head, strings.Join(vals, " "))
	default:
		return fmt.Sprintf("%s x=%+.3f y=%+.3f z=%+.3f", head, s.Vec.X, s.Vec.Y, s.Vec.Z)
	}
}

func formatStatusLine(st insole.DeviceStatus) string {
	return fmt.Sprintf("-- status battery=%d%% fw=%s mount=%s accel=%dg gyro=%ddps rssi=%ddBm",
		st.Battery, st.Firmware, st.Mount, st.AccelRangeG, st.GyroRangeDPS, st.RSSI)
}

func printStateLine(w *os.File, c insole.StateChange) {
	line := fmt.Sprintf("-- %s %s", c.To, c.Handle)
	if c.Err != nil {
		line += ": " + c.Err.Error()
	}

	switch c.To {
	case insole.StateConnected:
		_, _ = color.New(color.FgGreen).Fprintln(w, line)
	case insole.StateScanning, insole.StateConnecting, insole.StateReconnecting:
		_, _ = color.New(color.FgYellow).Fprintln(w, line)
	case insole.StateFailed:
		_, _ = color.New(color.FgRed).Fprintln(w, line)
	default:
		fmt.Fprintln(w, line)
	}
}

func printSessionStats(w *os.File, st session.Stats) {
	fmt.Fprintf(w, "notifications:  %d\n", st.Notifications)
	fmt.Fprintf(w, "samples:        %d\n", st.Samples)
	fmt.Fprintf(w, "decode errors:  %d\n", st.DecodeErrors)
	fmt.Fprintf(w, "lost frames:    %d\n", st.LostFrames)
	fmt.Fprintf(w, "reconnects:     %d\n", st.Reconnects)
	fmt.Fprintf(w, "dropped events: %d\n", st.Dropped)
}

// NDJSON event views. Every event carries a "type" discriminator so a
// consumer can demultiplex one stream.

type vec3JSON struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

type quatJSON struct {
	W float64 `json:"w"`
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

type sampleJSON struct {
	Type          string     `json:"type"`
	At            time.Time  `json:"at"`
	DeviceTime    *time.Time `json:"deviceTime,omitempty"`
	Address       string     `json:"address"`
	Side          string     `json:"side"`
	Kind          string     `json:"kind"`
	Serial        uint16     `json:"serial"`
	Frame         int        `json:"frame"`
	Vec           *vec3JSON  `json:"vec,omitempty"`
	Quat          *quatJSON  `json:"quat,omitempty"`
	Pressure      []float64  `json:"pressure,omitempty"`
	LowConfidence bool       `json:"lowConfidence,omitempty"`
}

func sampleView(s insole.SensorSample) sampleJSON {
	v := sampleJSON{
		Type:          "sample",
		At:            s.At,
		Address:       s.Handle.Address,
		Side:          s.Handle.Side.String(),
		Kind:          kindToken(s.Kind),
		Serial:        s.Serial,
		Frame:         s.Frame,
		LowConfidence: s.LowConfidence,
	}
	if !s.DeviceTime.IsZero() {
		dt := s.DeviceTime
		v.DeviceTime = &dt
	}
	switch s.Kind {
	case insole.KindQuaternion:
		v.Quat = &quatJSON{W: s.Quat.W, X: s.Quat.X, Y: s.Quat.Y, Z: s.Quat.Z}
	case insole.KindPressure:
		v.Pressure = s.Pressure
	default:
		v.Vec = &vec3JSON{X: s.Vec.X, Y: s.Vec.Y, Z: s.Vec.Z}
	}
	return v
}

type statusJSON struct {
	Type         string    `json:"type"`
	At           time.Time `json:"at"`
	Address      string    `json:"address"`
	Name         string    `json:"name,omitempty"`
	Side         string    `json:"side"`
	Model        string    `json:"model,omitempty"`
	Battery      int       `json:"battery"`
	Firmware     string    `json:"firmware"`
	Mount        string    `json:"mount"`
	AccelRangeG  int       `json:"accelRangeG"`
	GyroRangeDPS int       `json:"gyroRangeDPS"`
	RSSI         int       `json:"rssi"`
}

func statusView(st insole.DeviceStatus) statusJSON {
	return statusJSON{
		Type:         "status",
		At:           st.At,
		Address:      st.Handle.Address,
		Name:         st.Handle.Name,
		Side:         st.Handle.Side.String(),
		Model:        st.Handle.Model,
		Battery:      st.Battery,
		Firmware:     st.Firmware,
		Mount:        st.Mount.String(),
		AccelRangeG:  st.AccelRangeG,
		GyroRangeDPS: st.GyroRangeDPS,
		RSSI:         st.RSSI,
	}
}

type stateJSON struct {
	Type    string    `json:"type"`
	At      time.Time `json:"at"`
	Address string    `json:"address"`
	From    string    `json:"from"`
	To      string    `json:"to"`
	Error   string    `json:"error,omitempty"`
}

func stateView(c insole.StateChange) stateJSON {
	v := stateJSON{
		Type:    "state",
		At:      c.At,
		Address: c.Handle.Address,
		From:    c.From.String(),
		To:      c.To.String(),
	}
	if c.Err != nil {
		v.Error = c.Err.Error()
	}
	return v
}
