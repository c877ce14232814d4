package main

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/srg/instep/schema"
)

// modelsCmd represents the models command
var modelsCmd = &cobra.Command{
	Use:   "models",
	Short: "List registered device models",
	Long: `Prints every device model the client knows, built in or loaded
with --schema, with the channels each model decodes.

Examples:
  # Show built-in models
  instep models

  # Include a custom schema
  instep models --schema prototype.yaml --json`,
	Args: cobra.NoArgs,
	RunE: runModels,
}

var modelsJSON bool

func init() {
	modelsCmd.Flags().BoolVar(&modelsJSON, "json", false, "Output JSON")
}

type channelJSON struct {
	UUID   string `json:"uuid"`
	Name   string `json:"name"`
	Layout string `json:"layout"`
	Notify bool   `json:"notify,omitempty"`
}

type modelJSON struct {
	Name     string        `json:"name"`
	Match    string        `json:"match,omitempty"`
	Channels []channelJSON `json:"channels"`
}

func runModels(cmd *cobra.Command, args []string) error {
	registry, err := loadRegistry(cmd)
	if err != nil {
		return err
	}
	cmd.SilenceUsage = true

	models := registry.Models()
	if modelsJSON {
		views := make([]modelJSON, 0, len(models))
		for _, m := range models {
			v := modelJSON{Name: m.Name, Match: m.Match, Channels: make([]channelJSON, 0, len(m.Channels))}
			for _, ch := range m.Channels {
				v.Channels = append(v.Channels, channelJSON{
					UUID:   ch.UUID,
					Name:   ch.Name,
					Layout: string(ch.Layout),
					Notify: ch.Notify,
				})
			}
			views = append(views, v)
		}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(views)
	}

	for i, m := range models {
		if i > 0 {
			fmt.Println()
		}
		printModel(os.Stdout, m)
	}
	return nil
}

func printModel(w *os.File, m *schema.Model) {
	title := m.Name
	if m.Match != "" {
		title = fmt.Sprintf("%s (matches %q)", m.Name, m.Match)
	}
	_, _ = color.New(color.Bold).Fprintln(w, title)

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "  UUID\tNAME\tLAYOUT\tNOTIFY")
	for _, ch := range m.Channels {
		notify := ""
		if ch.Notify {
			notify = "yes"
		}
		fmt.Fprintf(tw, "  %s\t%s\t%s\t%s\n", ch.UUID, ch.Name, ch.Layout, notify)
	}
	_ = tw.Flush()
}
