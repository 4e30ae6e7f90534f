package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/pricedesk/quotes-cli/internal/store"
)

var (
	backlogTenant string
	backlogFailed bool
	backlogLimit  int
)

var backlogCmd = &cobra.Command{
	Use:   "backlog",
	Short: "Show the tenant's message backlog",
	RunE: func(cmd *cobra.Command, args []string) error {
		if backlogTenant == "" {
			return eris.New("--tenant is required")
		}

		env, err := initEnv(cmd.Context())
		if err != nil {
			return err
		}
		defer env.Close()

		n, err := env.Backlog.UnprocessedCount(cmd.Context(), backlogTenant)
		if err != nil {
			return err
		}

		filter := store.MessageFilter{Failed: backlogFailed, Limit: backlogLimit}
		if !backlogFailed {
			filter.Unprocessed = true
		}
		msgs, err := env.Backlog.ListByTenant(cmd.Context(), backlogTenant, filter)
		if err != nil {
			return err
		}

		fmt.Fprintf(os.Stdout, "unprocessed: %d\n\n", n)
		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tRECEIVED\tSENDER\tSTATUS\tCONTENT")
		for _, m := range msgs {
			status := "pending"
			if m.Failed() {
				status = m.ProcessingError
			} else if m.Processed {
				status = "processed"
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
				m.ID, m.ReceivedAt.Format("2006-01-02 15:04"), m.Sender, status, truncate(m.Content, 60))
		}
		return w.Flush()
	},
}

// truncate shortens s to at most n runes, ending in an ellipsis.
// Truncating on runes keeps multibyte content intact.
func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}

func init() {
	backlogCmd.Flags().StringVar(&backlogTenant, "tenant", "", "tenant to inspect (required)")
	backlogCmd.Flags().BoolVar(&backlogFailed, "failed", false, "list failed messages instead of pending ones")
	backlogCmd.Flags().IntVar(&backlogLimit, "limit", 50, "maximum messages to list")
	rootCmd.AddCommand(backlogCmd)
}
