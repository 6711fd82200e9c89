package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/specexplorer/specsync/internal/daemon"
	"github.com/specexplorer/specsync/internal/dashboard"
	"github.com/specexplorer/specsync/internal/ui"
)

var daemonCmd = &cobra.Command{
	Use:     "daemon",
	GroupID: "sync",
	Short:   "Run auto-sync, the dashboard and the import inbox (foreground)",
	Long: `Run specsync in the foreground until interrupted.

The daemon will:
  1. Sync the tenant every sync.interval
  2. Serve the status dashboard on dashboard.port (when enabled)
  3. Import *.jsonl files dropped into inbox.dir

Dashboard endpoints:
  ws://localhost:<port>/ws     sync_state broadcasts
  GET  /status                 current state
  GET  /health                 health check
  GET  /metrics                Prometheus metrics
  POST /sync                   trigger a cycle`,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd)
		if err != nil {
			return err
		}
		defer a.Close()

		tenant, err := a.requireTenant()
		if err != nil {
			return err
		}
		if port, _ := cmd.Flags().GetInt("port"); port > 0 {
			a.cfg.Dashboard.Port = port
			a.cfg.Dashboard.Enabled = true
		}
		if noInbox, _ := cmd.Flags().GetBool("no-inbox"); noInbox {
			a.cfg.Inbox.Dir = ""
		}

		var services []daemon.Service
		if a.cfg.Dashboard.Enabled {
			services = append(services, dashboard.NewServer(a.engine, &dashboard.Config{
				Port:     a.cfg.Dashboard.Port,
				Tenant:   tenant,
				Gatherer: a.registry,
				Logger:   a.logger,
			}))
		}

		d, err := daemon.New(a.engine, &daemon.Config{
			Tenant:       tenant,
			SyncInterval: a.cfg.Sync.Interval,
			InboxDir:     a.cfg.Inbox.Dir,
			Logger:       a.logger,
		}, services...)
		if err != nil {
			return err
		}

		fmt.Printf("%s Starting specsync daemon...\n", ui.RenderAccent("🚀"))
		fmt.Printf("   Tenant: %s\n", tenant)
		fmt.Printf("   Interval: %v\n", a.cfg.Sync.Interval)
		if a.cfg.Inbox.Dir != "" {
			fmt.Printf("   Inbox: %s\n", a.cfg.Inbox.Dir)
		}
		if a.cfg.Dashboard.Enabled {
			fmt.Printf("   Dashboard: http://localhost:%d\n", a.cfg.Dashboard.Port)
		}
		if !a.engine.IsConfigured() {
			fmt.Printf("   %s remote backend not configured, running offline\n", ui.RenderWarn("⚠"))
		}
		fmt.Printf("\nPress Ctrl+C to stop\n\n")

		return d.Run(cmd.Context())
	},
}

func init() {
	daemonCmd.Flags().IntP("port", "p", 0, "serve the dashboard on this port (overrides config)")
	daemonCmd.Flags().Bool("no-inbox", false, "do not watch the import inbox")
	rootCmd.AddCommand(daemonCmd)
}
