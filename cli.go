package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/stsysd/studyflow/api"
	"github.com/stsysd/studyflow/config"
	"github.com/stsysd/studyflow/model"
)

func newRootCmd() *cobra.Command {
	var envFile string
	root := &cobra.Command{
		Use:           "studyflow",
		Short:         "Track assignments synced from Canvas and Google Classroom",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return config.LoadDotEnv(envFile)
		},
	}
	root.PersistentFlags().StringVar(&envFile, "env-file", ".env", "path to a .env file")

	root.AddCommand(newServeCmd(), newSyncCmd(), newReplayCmd(), newVerifyCmd())
	return root
}

// withApp は設定を読み込んでappを組み立て、fnの終了後に閉じます。
func withApp(ctx context.Context, fn func(ctx context.Context, a *app) error) error {
	cfg, err := config.NewConfig()
	if err != nil {
		return err
	}
	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(ctx, a)
}

func newServeCmd() *cobra.Command {
	var noSync bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the auto-sync loop",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app) error {
				if a.config.APIKey == "" {
					return errors.New("STUDYFLOW_API_KEY is not set")
				}
				server := api.NewServer(a.tracker, a.syncer, a.feed, a.config, a.logger.Named("api"))

				g, ctx := errgroup.WithContext(ctx)
				g.Go(func() error {
					return server.Run(ctx, ":"+a.config.Port)
				})
				if !noSync && a.config.SyncInterval > 0 && len(a.syncer.Sources()) > 0 {
					g.Go(func() error {
						if err := a.syncer.Run(ctx, a.config.SyncInterval); !errors.Is(err, context.Canceled) {
							return err
						}
						return nil
					})
				}
				return g.Wait()
			})
		},
	}
	cmd.Flags().BoolVar(&noSync, "no-sync", false, "disable the auto-sync loop")
	return cmd
}

func newSyncCmd() *cobra.Command {
	return &cobra.Command{
		Use:       "sync [canvas|google|all]",
		Short:     "Sync assignments once and print the result",
		Args:      cobra.MaximumNArgs(1),
		ValidArgs: []string{"canvas", "google", "all"},
		RunE: func(cmd *cobra.Command, args []string) error {
			target := "all"
			if len(args) > 0 {
				target = args[0]
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app) error {
				if target == "all" {
					results, err := a.syncer.SyncAll(ctx)
					if perr := printJSON(cmd.OutOrStdout(), results); perr != nil {
						return perr
					}
					return err
				}
				src, err := model.ParseSource(target)
				if err != nil {
					return err
				}
				result, err := a.syncer.Sync(ctx, src)
				if result != nil {
					if perr := printJSON(cmd.OutOrStdout(), result); perr != nil {
						return perr
					}
				}
				return err
			})
		},
	}
}

func newReplayCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "replay",
		Short: "Replay actions queued while the sources were unreachable",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app) error {
				result, err := a.syncer.Replay(ctx)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), result)
			})
		},
	}
}

func newVerifyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "verify",
		Short: "Check the Canvas access token",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app) error {
				if a.canvas == nil {
					return errors.New("CANVAS_URL and CANVAS_TOKEN are not set")
				}
				user, err := a.canvas.Verify(ctx)
				if err != nil {
					return err
				}
				a.logger.Info("canvas token verified", zap.Int64("user_id", user.ID))
				fmt.Fprintf(cmd.OutOrStdout(), "Connected to Canvas as %s\n", user.Name)
				return nil
			})
		},
	}
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
