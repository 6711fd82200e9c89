package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/specexplorer/specsync/internal/remote"
	"github.com/specexplorer/specsync/internal/ui"
)

var remoteCmd = &cobra.Command{
	Use:     "remote",
	GroupID: "advanced",
	Short:   "Check or prepare the remote backend",
}

var remotePingCmd = &cobra.Command{
	Use:   "ping",
	Short: "Test the connection to the remote backend",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd)
		if err != nil {
			return err
		}
		defer a.Close()

		if !a.backend.IsConfigured() {
			return describeForceErr(remote.ErrUnconfigured)
		}
		p, ok := a.backend.(remote.Pinger)
		if !ok {
			return fmt.Errorf("%s backend does not support ping", a.cfg.Remote.Kind)
		}

		ctx, cancel := context.WithTimeout(cmd.Context(), a.cfg.Remote.Timeout)
		defer cancel()
		start := time.Now()
		if err := p.Ping(ctx); err != nil {
			return fmt.Errorf("remote unreachable: %w", err)
		}
		fmt.Printf("%s Connected to %s backend in %v\n",
			ui.RenderPass("✓"), a.cfg.Remote.Kind, time.Since(start).Round(time.Millisecond))
		return nil
	},
}

var remoteInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Create the collection tables on a SQL backend",
	Long: `Create the tracked collection tables on a libsql, postgres or sqlite
backend if they do not exist yet. REST backends manage their own schema.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd)
		if err != nil {
			return err
		}
		defer a.Close()

		sqlBackend, ok := a.backend.(*remote.SQL)
		if !ok {
			return fmt.Errorf("remote init needs a SQL backend (remote.kind is %q)", a.cfg.Remote.Kind)
		}
		if err := sqlBackend.EnsureSchema(cmd.Context()); err != nil {
			return err
		}
		fmt.Printf("%s Remote schema ready\n", ui.RenderPass("✓"))
		return nil
	},
}

func init() {
	remoteCmd.AddCommand(remotePingCmd)
	remoteCmd.AddCommand(remoteInitCmd)
	rootCmd.AddCommand(remoteCmd)
}
