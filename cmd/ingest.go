package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
)

var (
	ingestTenant string
	ingestSender string
)

var ingestCmd = &cobra.Command{
	Use:   "ingest [message]",
	Short: "Record a supplier message for later extraction",
	Long:  "Records a message into the tenant's backlog. The message text is taken from the argument, or from stdin when omitted.",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if ingestTenant == "" {
			return eris.New("--tenant is required")
		}

		var content string
		if len(args) == 1 {
			content = args[0]
		} else {
			data, err := readStdin()
			if err != nil {
				return err
			}
			content = data
		}

		env, err := initEnv(cmd.Context())
		if err != nil {
			return err
		}
		defer env.Close()

		msg, err := env.Backlog.RecordIncoming(cmd.Context(), ingestTenant, ingestSender, content)
		if err != nil {
			return err
		}

		fmt.Fprintf(os.Stdout, "recorded message %s\n", msg.ID)
		return nil
	},
}

func readStdin() (string, error) {
	var b strings.Builder
	scanner := bufio.NewScanner(os.Stdin)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		b.WriteString(scanner.Text())
		b.WriteString("\n")
	}
	if err := scanner.Err(); err != nil {
		return "", eris.Wrap(err, "read stdin")
	}
	return strings.TrimSpace(b.String()), nil
}

func init() {
	ingestCmd.Flags().StringVar(&ingestTenant, "tenant", "", "tenant to record the message for (required)")
	ingestCmd.Flags().StringVar(&ingestSender, "sender", "", "message sender, used as the supplier fallback")
	rootCmd.AddCommand(ingestCmd)
}
