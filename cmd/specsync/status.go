package main

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/specexplorer/specsync/internal/schema"
	"github.com/specexplorer/specsync/internal/sync"
	"github.com/specexplorer/specsync/internal/ui"
)

// statusReport is the machine-readable form of `specsync status`.
type statusReport struct {
	State      sync.State     `json:"state" yaml:"state"`
	Configured bool           `json:"configured" yaml:"configured"`
	Tenant     string         `json:"tenant,omitempty" yaml:"tenant,omitempty"`
	Database   string         `json:"database" yaml:"database"`
	Records    map[string]int `json:"records,omitempty" yaml:"records,omitempty"`
}

var statusCmd = &cobra.Command{
	Use:     "status",
	GroupID: "sync",
	Short:   "Show sync status and local record counts",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd)
		if err != nil {
			return err
		}
		defer a.Close()

		report := statusReport{
			State:      a.engine.GetState(),
			Configured: a.engine.IsConfigured(),
			Tenant:     a.cfg.Tenant,
			Database:   a.cfg.DBPath,
		}
		if a.cfg.Tenant != "" {
			stats, err := a.store.Stats(cmd.Context(), a.cfg.Tenant)
			if err != nil {
				return err
			}
			report.Records = make(map[string]int, len(stats))
			for c, n := range stats {
				report.Records[string(c)] = n
			}
		}

		format, _ := cmd.Flags().GetString("format")
		return writeStatus(cmd.OutOrStdout(), format, report)
	},
}

func writeStatus(w io.Writer, format string, r statusReport) error {
	switch format {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(r)
	case "yaml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(r); err != nil {
			return err
		}
		return enc.Close()
	case "", "text":
	default:
		return fmt.Errorf("unknown format %q (want text, json or yaml)", format)
	}

	fmt.Fprintf(w, "\n%s\n\n", ui.RenderHeader("specsync status"))
	fmt.Fprintf(w, "Status:        %s\n", ui.RenderStatus(string(r.State.Status)))
	if r.State.LastSyncedAt != nil {
		fmt.Fprintf(w, "Last synced:   %s\n", r.State.LastSyncedAt.Local().Format("2006-01-02 15:04:05"))
	} else {
		fmt.Fprintf(w, "Last synced:   %s\n", ui.RenderMuted("never"))
	}
	fmt.Fprintf(w, "Pending:       %d\n", r.State.PendingChanges)
	if r.State.DeadLetters > 0 {
		fmt.Fprintf(w, "Dead letters:  %s\n", ui.RenderWarn(fmt.Sprint(r.State.DeadLetters)))
	}
	if r.State.Error != "" {
		fmt.Fprintf(w, "Error:         %s\n", ui.RenderFail(r.State.Error))
	}
	remoteLabel := ui.RenderPass("configured")
	if !r.Configured {
		remoteLabel = ui.RenderWarn("not configured")
	}
	fmt.Fprintf(w, "Remote:        %s\n", remoteLabel)
	fmt.Fprintf(w, "Database:      %s\n", r.Database)

	if r.Tenant != "" {
		fmt.Fprintf(w, "\nTenant %s\n", ui.RenderAccent(r.Tenant))
		rows := make([][]string, 0, len(r.Records))
		for _, c := range schema.Tracked() {
			rows = append(rows, []string{string(c), fmt.Sprint(r.Records[string(c)])})
		}
		fmt.Fprint(w, ui.Table([]string{"COLLECTION", "RECORDS"}, rows))
	}
	fmt.Fprintln(w)
	return nil
}

func init() {
	statusCmd.Flags().StringP("format", "f", "text", "output format: text, json, yaml")
	rootCmd.AddCommand(statusCmd)
}
