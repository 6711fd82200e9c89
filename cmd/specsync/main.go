// Command specsync keeps a local SQLite copy of tenant data in sync with a
// remote backend.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/specexplorer/specsync/internal/ui"
)

var (
	configPath   string
	tenantFlag   string
	logLevelFlag string
)

var rootCmd = &cobra.Command{
	Use:   "specsync",
	Short: "Offline-first sync for specimen and sequence data",
	Long: `specsync keeps a local SQLite store of taxonomy sources, DNA sequences,
projects and project items in sync with a remote backend.

Local writes are queued while offline and pushed in order once the backend is
reachable; the remote copy is pulled back per tenant after every push.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.AddGroup(
		&cobra.Group{ID: "sync", Title: "Sync:"},
		&cobra.Group{ID: "data", Title: "Data:"},
		&cobra.Group{ID: "advanced", Title: "Advanced:"},
	)

	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file (default: specsync.toml in . or .specsync)")
	rootCmd.PersistentFlags().StringVarP(&tenantFlag, "tenant", "t", "", "tenant id (overrides config)")
	rootCmd.PersistentFlags().StringVar(&logLevelFlag, "log-level", "", "log level: debug, info, warn, error")
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	cancel()
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s %v\n", ui.RenderFail("Error:"), err)
		os.Exit(1)
	}
}
