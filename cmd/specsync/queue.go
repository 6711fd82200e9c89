package main

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/specexplorer/specsync/internal/schema"
	"github.com/specexplorer/specsync/internal/store"
	"github.com/specexplorer/specsync/internal/ui"
)

var queueCmd = &cobra.Command{
	Use:     "queue",
	GroupID: "data",
	Short:   "Inspect and maintain the offline change queue",
	Long: `The queue holds local changes not yet acknowledged by the remote backend.

Items that fail more often than sync.max_retries become dead letters when
sync.retry_policy is retain-for-manual-review. Dead letters are never pushed
again until they are requeued.`,
}

var queueListCmd = &cobra.Command{
	Use:   "list",
	Short: "List queued changes in push order",
	Example: `  specsync queue list
  specsync queue list --dead
  specsync queue list --since "2 hours ago" --json`,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd)
		if err != nil {
			return err
		}
		defer a.Close()

		f := store.QueueFilter{Tenant: tenantFlag}
		if dead, _ := cmd.Flags().GetBool("dead"); dead {
			f.Status = schema.QueueDead
		}
		if pending, _ := cmd.Flags().GetBool("pending"); pending {
			f.Status = schema.QueuePending
		}
		if since, _ := cmd.Flags().GetString("since"); since != "" {
			if f.Since, err = parseSince(since, time.Now()); err != nil {
				return err
			}
		}
		f.Limit, _ = cmd.Flags().GetInt("limit")

		items, err := a.store.ListQueue(cmd.Context(), f)
		if err != nil {
			return err
		}

		if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(items)
		}

		if len(items) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), ui.RenderMuted("queue is empty"))
			return nil
		}
		rows := make([][]string, 0, len(items))
		for _, it := range items {
			status := string(it.Status)
			if it.Status == schema.QueueDead {
				status = ui.RenderFail(status)
			}
			rows = append(rows, []string{
				it.ID[:min(8, len(it.ID))],
				it.Timestamp.Local().Format("2006-01-02 15:04:05"),
				it.TenantID,
				string(it.Collection),
				string(it.Operation),
				it.TargetID(),
				fmt.Sprint(it.Retries),
				status,
				truncate(it.Error, 40),
			})
		}
		fmt.Fprint(cmd.OutOrStdout(), ui.Table(
			[]string{"ID", "QUEUED", "TENANT", "COLLECTION", "OP", "RECORD", "RETRIES", "STATUS", "ERROR"},
			rows,
		))
		return nil
	},
}

var queueRequeueCmd = &cobra.Command{
	Use:   "requeue",
	Short: "Move dead letters back to pending with a fresh retry budget",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd)
		if err != nil {
			return err
		}
		defer a.Close()

		n, err := a.store.RequeueDeadLetters(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Printf("%s Requeued %d item(s)\n", ui.RenderPass("✓"), n)
		return nil
	},
}

var queuePurgeCmd = &cobra.Command{
	Use:   "purge",
	Short: "Delete dead letters permanently",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd)
		if err != nil {
			return err
		}
		defer a.Close()

		dead, err := a.store.DeadLetterCount(cmd.Context())
		if err != nil {
			return err
		}
		if dead == 0 {
			fmt.Println(ui.RenderMuted("no dead letters"))
			return nil
		}

		if yes, _ := cmd.Flags().GetBool("yes"); !yes {
			if !ui.IsTerminal() {
				return fmt.Errorf("refusing to purge without --yes when not attached to a terminal")
			}
			confirmed := false
			err := huh.NewConfirm().
				Title(fmt.Sprintf("Delete %d dead letter(s)?", dead)).
				Description("Their changes will never reach the remote backend.").
				Affirmative("Purge").
				Negative("Cancel").
				Value(&confirmed).
				Run()
			if err != nil {
				return err
			}
			if !confirmed {
				fmt.Println("Cancelled")
				return nil
			}
		}

		n, err := a.store.PurgeDeadLetters(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Printf("%s Purged %d item(s)\n", ui.RenderPass("✓"), n)
		return nil
	},
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}

func init() {
	queueListCmd.Flags().Bool("dead", false, "only dead letters")
	queueListCmd.Flags().Bool("pending", false, "only pending items")
	queueListCmd.Flags().String("since", "", `only items queued after this time ("2 hours ago", "90m", RFC 3339)`)
	queueListCmd.Flags().Int("limit", 0, "maximum number of items")
	queueListCmd.Flags().Bool("json", false, "output JSON")
	queueListCmd.MarkFlagsMutuallyExclusive("dead", "pending")

	queuePurgeCmd.Flags().BoolP("yes", "y", false, "skip confirmation")

	queueCmd.AddCommand(queueListCmd)
	queueCmd.AddCommand(queueRequeueCmd)
	queueCmd.AddCommand(queuePurgeCmd)
	rootCmd.AddCommand(queueCmd)
}
