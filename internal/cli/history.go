package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/soyeahso/supportsync/internal/domain"
)

func newHistoryCmd() *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "history <session-id>",
		Short: "Print the persisted message history of a session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()

			durable, closeFn, err := openDurability(ctx, cfg)
			if err != nil {
				return err
			}
			defer closeFn()

			return printHistory(os.Stdout, durable.LoadMessages(ctx, args[0]), asJSON)
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "print messages as JSON")
	return cmd
}

func printHistory(w io.Writer, msgs []domain.Message, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		if msgs == nil {
			msgs = []domain.Message{}
		}
		return enc.Encode(msgs)
	}
	if len(msgs) == 0 {
		_, err := fmt.Fprintln(w, "no persisted messages")
		return err
	}
	for _, m := range msgs {
		name := m.SenderName
		if name == "" {
			name = string(m.SenderType)
		}
		id := m.ID
		if id == "" {
			id = "-"
		}
		if _, err := fmt.Fprintf(w, "%s  %-8s %-16s %s\n",
			m.CreatedAt.Format(time.RFC3339), id, name, m.Body); err != nil {
			return err
		}
	}
	return nil
}
