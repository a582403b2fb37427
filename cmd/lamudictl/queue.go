package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"lamudi_ingest/internal/adapters/queue"
	"lamudi_ingest/internal/app"
	"lamudi_ingest/internal/domain"
)

var messageAliases = map[string]domain.MessageType{
	"raw":       domain.MsgCreateRawListing,
	"reconcile": domain.MsgReconcileRawListings,
	"backfill":  domain.MsgGenerateAIDescription,
}

func openQueue() (*queue.Client, error) {
	return queue.NewClient(queue.Config{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPass,
		DB:       cfg.RedisDB,
		Stream:   cfg.Queue.Stream,
	})
}

func newEnqueueCommand() *cobra.Command {
	var (
		source string
		file   string
	)
	cmd := &cobra.Command{
		Use:   "enqueue <type> [json]",
		Short: "Publish one message onto the worker queue",
		Long: "Publish one message onto the worker queue. <type> is a message type or one of\n" +
			"the aliases raw, reconcile and backfill. The payload comes from the second\n" +
			"argument, --file, or stdin when --file is -.",
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			t, ok := messageAliases[args[0]]
			if !ok {
				t = domain.MessageType(args[0])
			}
			if !t.Known() {
				return fmt.Errorf("%q: %w", args[0], domain.ErrUnknownMessage)
			}

			var data json.RawMessage
			switch {
			case len(args) == 2:
				data = json.RawMessage(args[1])
			case file == "-":
				b, err := io.ReadAll(cmd.InOrStdin())
				if err != nil {
					return err
				}
				data = b
			case file != "":
				b, err := os.ReadFile(file)
				if err != nil {
					return err
				}
				data = b
			}
			if len(data) > 0 && !json.Valid(data) {
				return fmt.Errorf("payload is not valid JSON")
			}

			qc, err := openQueue()
			if err != nil {
				return err
			}
			defer qc.Close()

			msg := app.NewMessage(t, source, data)
			entryID, err := queue.NewProducer(qc).Publish(cmd.Context(), msg)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", msg.ID, entryID)
			return nil
		},
	}
	cmd.Flags().StringVar(&source, "source", domain.SourceApp, "message source")
	cmd.Flags().StringVarP(&file, "file", "f", "", "read the payload from a file (- for stdin)")
	return cmd
}

func newQueueCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "queue",
		Short: "Inspect the worker queue",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "stats",
		Short: "Print stream and dead-letter lengths",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			qc, err := openQueue()
			if err != nil {
				return err
			}
			defer qc.Close()
			pending, dead, err := qc.Len(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s\t%d\n%s\t%d\n", qc.Stream(), pending, qc.DeadLetter(), dead)
			return nil
		},
	})
	return cmd
}
