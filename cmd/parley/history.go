package main

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/teslashibe/go-parley/internal/config"
	"github.com/teslashibe/go-parley/internal/log"
	"github.com/teslashibe/go-parley/pkg/store"
	"github.com/teslashibe/go-parley/pkg/transcript"
)

func newHistoryCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "history",
		Short: "Print the stored transcript",
		RunE: func(cmd *cobra.Command, args []string) error {
			return history(cmd.Context(), root.cfg, cmd.OutOrStdout())
		},
	}
}

func history(ctx context.Context, cfg config.Config, out io.Writer) error {
	logger := log.Component("parley.history")
	userID, _, err := resolveUser(ctx, cfg, logger)
	if err != nil {
		return err
	}
	st, closeStore, err := openStore(cfg, userID, log.L())
	if err != nil {
		return err
	}
	defer closeStore()

	records, err := firstBatch(ctx, st)
	if err != nil {
		return err
	}
	if len(records) == 0 {
		fmt.Fprintln(out, "No messages yet.")
		return nil
	}
	printRecords(out, records)
	return nil
}

// firstBatch returns the log as the store first delivers it.
func firstBatch(ctx context.Context, st store.Store) ([]transcript.Record, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	batches := make(chan []transcript.Record, 1)
	unsubscribe, err := st.Subscribe(ctx, func(batch []transcript.Record) {
		select {
		case batches <- batch:
		default:
		}
	})
	if err != nil {
		return nil, err
	}
	defer unsubscribe()

	select {
	case batch := <-batches:
		return batch, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func printRecords(out io.Writer, records []transcript.Record) {
	for _, rec := range records {
		fmt.Fprintf(out, "[%s] %s: %s\n", rec.CreatedAt.Format("2006-01-02 15:04"), rec.Author, rec.Text)
	}
}
