package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/srg/instep/scanner"
)

// scanCmd represents the scan command
var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Scan for insole devices",
	Long: `Scan for nearby insoles and show what was found.

Discovered devices are matched against the registered models; the SIDE
and MODEL columns come from the advertised name. Use --known to hide
devices that match no model, or --name/--address to narrow the scan.`,
	RunE: runScan,
}

var (
	scanTimeout   time.Duration
	scanFormat    string
	scanName      string
	scanAddresses []string
	scanMinRSSI   int
	scanKnownOnly bool
	scanWatch     bool
)

func init() {
	scanCmd.Flags().DurationVarP(&scanTimeout, "timeout", "t", 10*time.Second, "Scan duration (0 for indefinite)")
	scanCmd.Flags().StringVarP(&scanFormat, "format", "f", "table", "Output format (table, json, ndjson)")
	scanCmd.Flags().StringVar(&scanName, "name", "", "Only show devices whose name starts with this prefix")
	scanCmd.Flags().StringSliceVar(&scanAddresses, "address", nil, "Only show devices with these addresses")
	scanCmd.Flags().IntVar(&scanMinRSSI, "min-rssi", 0, "Hide devices weaker than this RSSI (dBm)")
	scanCmd.Flags().BoolVar(&scanKnownOnly, "known", false, "Only show devices matching a registered model")
	scanCmd.Flags().BoolVarP(&scanWatch, "watch", "w", false, "Continuously scan and update results")
}

// candidateJSON is the wire shape of one discovered device.
type candidateJSON struct {
	Address     string    `json:"address"`
	Name        string    `json:"name,omitempty"`
	Side        string    `json:"side"`
	Model       string    `json:"model,omitempty"`
	RSSI        int       `json:"rssi"`
	Connectable bool      `json:"connectable"`
	Seen        int       `json:"seen"`
	FirstSeen   time.Time `json:"firstSeen"`
	LastSeen    time.Time `json:"lastSeen"`
}

func candidateView(c scanner.Candidate) candidateJSON {
	return candidateJSON{
		Address:     c.Handle.Address,
		Name:        c.Handle.Name,
		Side:        c.Handle.Side.String(),
		Model:       c.Handle.Model,
		RSSI:        c.RSSI,
		Connectable: c.Connectable,
		Seen:        c.Seen,
		FirstSeen:   c.FirstSeen,
		LastSeen:    c.LastSeen,
	}
}

func runScan(cmd *cobra.Command, args []string) error {
	switch scanFormat {
	case "table", "json", "ndjson":
	default:
		return fmt.Errorf("invalid format '%s': must be one of [table json ndjson]", scanFormat)
	}
	if scanWatch && scanFormat == "json" {
		return fmt.Errorf("watch mode supports table or ndjson output")
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

	s := scanner.New(buildAdapter(cmd, logger), registry, logger)

	opts := scanner.DefaultOptions()
	opts.Duration = scanTimeout
	opts.NamePrefix = scanName
	opts.Addresses = scanAddresses
	opts.MinRSSI = scanMinRSSI
	opts.KnownOnly = scanKnownOnly
	// Watch mode scans until interrupted unless a duration was asked for.
	if scanWatch && !cmd.Flags().Changed("timeout") {
		opts.Duration = 0
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		<-sigCh
		fmt.Println("\nCtrl+C pressed, cancelling scan...")
		cancel()
	}()

	if scanWatch {
		return runScanWatch(ctx, s, opts)
	}
	return runScanOnce(ctx, s, opts)
}

func runScanOnce(ctx context.Context, s *scanner.Scanner, opts *scanner.Options) error {
	// Progress would corrupt piped JSON output, so table mode only.
	var cb scanner.ProgressCallback
	if scanFormat == "table" {
		progress := NewProgressPrinter("Scanning for insoles", "Scanning", "Processing results").
			WithCountdown(opts.Duration)
		progress.Start()
		defer progress.Stop()
		cb = progress.Callback()
	}

	_, err := s.Scan(ctx, opts, cb)
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return printCandidates(os.Stdout, s.Candidates())
}

func runScanWatch(ctx context.Context, s *scanner.Scanner, opts *scanner.Options) error {
	scanErrCh := make(chan error, 1)
	go func() {
		_, err := s.Scan(ctx, opts, nil)
		scanErrCh <- err
	}()

	if scanFormat == "ndjson" {
		// Stream discovery events as they arrive, one object per line.
		enc := json.NewEncoder(os.Stdout)
		for {
			select {
			case <-ctx.Done():
				return nil
			case err := <-scanErrCh:
				if err != nil && !errors.Is(err, context.Canceled) {
					return err
				}
				return nil
			case ev := <-s.Events():
				if err := enc.Encode(candidateView(ev.Candidate)); err != nil {
					return err
				}
			}
		}
	}

	redraw := time.NewTicker(time.Second)
	defer redraw.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-scanErrCh:
			if err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			clearScreen()
			return printCandidates(os.Stdout, s.Candidates())
		case <-redraw.C:
			clearScreen()
			if err := printCandidates(os.Stdout, s.Candidates()); err != nil {
				return err
			}
		case <-s.Events():
			// Candidates() snapshots the registry; events only keep the
			// ring drained between redraws.
		}
	}
}

func printCandidates(w io.Writer, candidates []scanner.Candidate) error {
	switch scanFormat {
	case "json":
		views := make([]candidateJSON, 0, len(candidates))
		for _, c := range candidates {
			views = append(views, candidateView(c))
		}
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(views)
	case "ndjson":
		enc := json.NewEncoder(w)
		for _, c := range candidates {
			if err := enc.Encode(candidateView(c)); err != nil {
				return err
			}
		}
		return nil
	}
	return printCandidateTable(w, candidates)
}

func printCandidateTable(w io.Writer, candidates []scanner.Candidate) error {
	if len(candidates) == 0 {
		_, err := color.New(color.FgYellow).Fprintln(w, "No insoles discovered")
		return err
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tADDRESS\tSIDE\tMODEL\tRSSI\tLAST SEEN")
	fmt.Fprintln(tw, strings.Repeat("-", 72))

	for _, c := range candidates {
		name := c.Handle.Name
		if name == "" {
			name = "(unnamed)"
		}
		if len(name) > 20 {
			name = name[:17] + "..."
		}
		model := c.Handle.Model
		if model == "" {
			model = "-"
		}
		lastSeen := time.Since(c.LastSeen).Truncate(time.Second)

		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d dBm\t%s ago\n",
			name, c.Handle.Address, c.Handle.Side, model, c.RSSI, lastSeen)
	}

	return tw.Flush()
}

func clearScreen() {
	fmt.Fprint(os.Stdout, "\033[2J\033[H")
}
