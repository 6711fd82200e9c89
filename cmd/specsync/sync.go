package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/specexplorer/specsync/internal/remote"
	"github.com/specexplorer/specsync/internal/schema"
	"github.com/specexplorer/specsync/internal/ui"
)

var syncCmd = &cobra.Command{
	Use:     "sync",
	GroupID: "sync",
	Short:   "Run one full sync cycle",
	Long: `Push every queued local change in order, then pull all tracked
collections for the tenant.

Items that fail are retried on later cycles; after the retry limit they are
kept as dead letters (see 'specsync queue').`,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd)
		if err != nil {
			return err
		}
		defer a.Close()

		if !a.engine.IsConfigured() {
			fmt.Printf("%s Remote backend not configured, nothing to sync\n", ui.RenderWarn("⚠"))
			return nil
		}

		fmt.Printf("%s Syncing tenant %q...\n", ui.RenderAccent("🔄"), a.cfg.Tenant)
		start := time.Now()
		ok := a.engine.SyncAll(cmd.Context(), a.cfg.Tenant)
		st := a.engine.GetState()

		if !ok {
			return fmt.Errorf("sync failed: %s", st.Error)
		}
		fmt.Printf("%s Sync complete in %v\n", ui.RenderPass("✓"), time.Since(start).Round(time.Millisecond))
		fmt.Printf("   Pending: %d\n", st.PendingChanges)
		if st.DeadLetters > 0 {
			fmt.Printf("   Dead letters: %s\n", ui.RenderWarn(fmt.Sprint(st.DeadLetters)))
		}
		return nil
	},
}

var pullCmd = &cobra.Command{
	Use:     "pull [collection...]",
	GroupID: "sync",
	Short:   "Pull collections from the remote backend",
	Long: `Fetch the tenant's records and overwrite the local copies.
Without arguments every tracked collection is pulled.`,
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
		collections := make([]schema.Collection, 0, len(args))
		for _, arg := range args {
			c, err := schema.ParseCollection(arg)
			if err != nil {
				return err
			}
			collections = append(collections, c)
		}

		if err := a.engine.ForcePull(cmd.Context(), tenant, collections...); err != nil {
			return describeForceErr(err)
		}
		fmt.Printf("%s Pulled tenant %q\n", ui.RenderPass("✓"), tenant)
		return nil
	},
}

var pushCmd = &cobra.Command{
	Use:     "push",
	GroupID: "sync",
	Short:   "Push queued changes without pulling",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd)
		if err != nil {
			return err
		}
		defer a.Close()

		all, _ := cmd.Flags().GetBool("all")
		tenant := a.cfg.Tenant
		if all {
			tenant = ""
		}

		before := a.engine.GetState().PendingChanges
		if err := a.engine.ForcePush(cmd.Context(), tenant); err != nil {
			return describeForceErr(err)
		}
		st := a.engine.GetState()
		fmt.Printf("%s Pushed %d change(s), %d pending\n",
			ui.RenderPass("✓"), max(before-st.PendingChanges, 0), st.PendingChanges)
		return nil
	},
}

func describeForceErr(err error) error {
	if errors.Is(err, remote.ErrUnconfigured) {
		return fmt.Errorf("remote backend not configured (set remote.url and remote.key)")
	}
	return err
}

func init() {
	pushCmd.Flags().Bool("all", false, "push queued changes of every tenant")

	rootCmd.AddCommand(syncCmd)
	rootCmd.AddCommand(pullCmd)
	rootCmd.AddCommand(pushCmd)
}
