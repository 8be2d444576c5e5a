package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"runtime"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/custodia-labs/indexsync/internal/config"
	"github.com/custodia-labs/indexsync/internal/core/domain"
	"github.com/custodia-labs/indexsync/internal/worker"
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:               "indexsync",
		DisableAutoGenTag: true,
		Short:             "Keeps a hosted search index in sync with a document store",
		SilenceUsage:      true,
		Run: func(cmd *cobra.Command, _ []string) {
			if err := cmd.Help(); err != nil {
				slog.Error("Error displaying help", "error", err)
			}
		},
	}

	root.AddCommand(
		newRunCmd("serve", "Run the HTTP API", runModes{api: true}),
		newRunCmd("worker", "Process queued reindex pages and the change feed", runModes{worker: true}),
		newRunCmd("all", "Run the HTTP API and the worker in one process", runModes{api: true, worker: true}),
		newReindexCmd(),
		newVersionCmd(),
	)
	return root
}

type runModes struct {
	api    bool
	worker bool
}

func newRunCmd(use, short string, modes runModes) *cobra.Command {
	var bootstrap bool

	cmd := &cobra.Command{
		Use:   use,
		Short: short,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a, err := setup(ctx)
			if err != nil {
				return err
			}
			defer a.close()

			if bootstrap {
				a.bootstrap(ctx)
			}
			return run(ctx, a, modes)
		},
	}
	cmd.Flags().BoolVar(&bootstrap, "bootstrap", false, "Trigger a full reindex on start")
	return cmd
}

func run(ctx context.Context, a *app, modes runModes) error {
	g, ctx := errgroup.WithContext(ctx)

	var w *worker.Worker
	if modes.worker {
		w = a.worker()
		if err := w.Start(ctx); err != nil {
			return fmt.Errorf("start worker: %w", err)
		}
		g.Go(func() error {
			<-ctx.Done()
			w.Stop()
			return nil
		})

		if feed := a.changeFeed(); feed != nil {
			g.Go(func() error {
				err := feed.Run(ctx)
				if errors.Is(err, context.Canceled) {
					return nil
				}
				return err
			})
		}
	}

	if modes.api {
		server := a.httpServer(w)
		g.Go(func() error {
			return server.Start(ctx)
		})
	}

	err := g.Wait()
	a.logger.Info("shutdown complete")
	return err
}

func newReindexCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reindex",
		Short: "Queue a full reindex run and exit",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := setup(cmd.Context())
			if err != nil {
				return err
			}
			defer a.close()

			task, err := a.reindexer.Trigger(cmd.Context())
			if errors.Is(err, domain.ErrReindexInProgress) {
				return errors.New("a full reindex is already running")
			}
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), task.ID)
			return nil
		},
	}
}

type versionInfo struct {
	Version   string `json:"version"`
	GoVersion string `json:"go_version"`
	Platform  string `json:"platform"`
}

func newVersionCmd() *cobra.Command {
	var format string

	cmd := &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		RunE: func(cmd *cobra.Command, _ []string) error {
			info := versionInfo{
				Version:   version,
				GoVersion: runtime.Version(),
				Platform:  runtime.GOOS + "/" + runtime.GOARCH,
			}
			if format == "json" {
				out, err := json.MarshalIndent(info, "", "  ")
				if err != nil {
					return fmt.Errorf("format version info: %w", err)
				}
				fmt.Fprintln(cmd.OutOrStdout(), string(out))
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "indexsync %s (%s, %s)\n", info.Version, info.GoVersion, info.Platform)
			return nil
		},
	}
	cmd.Flags().StringVar(&format, "format", "", "Output format (json)")
	return cmd
}

// newLogger builds the process logger from LOG_FORMAT and LOG_LEVEL.
func newLogger(cfg *config.Config) *slog.Logger {
	level, err := config.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	if cfg.LogFormat == "text" {
		handler = slog.NewTextHandler(os.Stderr, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	}
	return slog.New(handler)
}
