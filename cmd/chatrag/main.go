package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/chatrag/backend/internal/app"
	"github.com/chatrag/backend/internal/metrics"
	"github.com/chatrag/backend/internal/query"
	"github.com/chatrag/backend/pkg/config"
	"github.com/chatrag/backend/pkg/logger"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCommand().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "chatrag",
		Short:         "Index chat transcripts and ask questions about them",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.AddCommand(newIngestCommand())
	cmd.AddCommand(newQueryCommand())
	cmd.AddCommand(newHistoryCommand())
	cmd.AddCommand(newRunsCommand())
	return cmd
}

func newIngestCommand() *cobra.Command {
	var eventPath string
	cmd := &cobra.Command{
		Use:   "ingest <source-uri>",
		Short: "Classify, chunk, embed and index one transcript document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var event json.RawMessage
			if eventPath != "" {
				raw, err := os.ReadFile(eventPath)
				if err != nil {
					return fmt.Errorf("read classification event: %w", err)
				}
				event = raw
			}
			return withApp(cmd.Context(), func(a *app.App) error {
				result, err := a.Processor.Ingest(cmd.Context(), args[0], event)
				if result != nil {
					if perr := printJSON(cmd, result); perr != nil {
						return perr
					}
				}
				return err
			})
		},
	}
	cmd.Flags().StringVar(&eventPath, "event", "", "Path to the classification event JSON")
	return cmd
}

func newQueryCommand() *cobra.Command {
	var user string
	cmd := &cobra.Command{
		Use:   "query <question>",
		Short: "Answer a question from indexed transcripts with citations",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(a *app.App) error {
				resp, err := a.Engine.Query(cmd.Context(), query.Request{Text: args[0], UserFilter: user})
				if err != nil {
					return err
				}
				return printJSON(cmd, resp)
			})
		},
	}
	cmd.Flags().StringVar(&user, "user", "", "Restrict retrieval to chats of this account")
	return cmd
}

func newHistoryCommand() *cobra.Command {
	var (
		user  string
		limit int
	)
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recent answered queries",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd.Context(), func(a *app.App) error {
				records, err := a.Engine.History(cmd.Context(), user, limit)
				if err != nil {
					return err
				}
				return printJSON(cmd, records)
			})
		},
	}
	cmd.Flags().StringVar(&user, "user", "", "Account the queries were filtered on")
	cmd.Flags().IntVar(&limit, "limit", 20, "Maximum number of entries")
	return cmd
}

func newRunsCommand() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "List recent ingestion runs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd.Context(), func(a *app.App) error {
				runs, err := a.DB.ListIngestionRuns(cmd.Context(), limit)
				if err != nil {
					return err
				}
				return printJSON(cmd, runs)
			})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 50, "Maximum number of entries")
	return cmd
}

func withApp(ctx context.Context, fn func(a *app.App) error) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	// Logs go to stderr so stdout stays machine readable.
	if err := logger.Init(cfg.Logging.Level, "console", "stderr"); err != nil {
		return err
	}
	// The CLI runs as the operator, so local paths are readable anywhere.
	if cfg.Source.LocalRoot == "" {
		cfg.Source.LocalRoot = "/"
	}
	defer logger.Sync()
	metrics.Init()

	a, err := app.New(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	return fn(a)
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
