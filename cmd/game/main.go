package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/tatianab/storyframe/internal/config"
	"github.com/tatianab/storyframe/internal/logging"
	"github.com/tatianab/storyframe/internal/tui"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := buildRootCommand().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func buildRootCommand() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:   "game",
		Short: "Illustrated, turn-based story game",
		Long: strings.TrimSpace(`game runs an illustrated story that evolves its world turn by turn.

Each turn resolves your action into narrative, merges it into the world state,
then paints the next frame and proposes choices while you read.`),
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.CompletionOptions.DisableDefaultCmd = true
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "storyframe.yaml", "Optional YAML config file")

	load := func() (*config.Config, error) {
		return config.LoadConfig(configPath)
	}

	root.AddCommand(newPlayCommand(load))
	root.AddCommand(newArchiveCommand(load))
	root.AddCommand(newResetCommand(load))
	root.AddCommand(newSessionsCommand(load))
	return root
}

type loader func() (*config.Config, error)

func newPlayCommand(load loader) *cobra.Command {
	var sessionID, hint string

	cmd := &cobra.Command{
		Use:   "play",
		Short: "Play a session in the terminal",
		Example: strings.Join([]string{
			"  game play",
			"  game play --session noir --hint \"rain-soaked detective city of cats\"",
		}, "\n"),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			if err := os.MkdirAll(cfg.SaveDir, 0o755); err != nil {
				return err
			}
			logFile, err := os.OpenFile(filepath.Join(cfg.SaveDir, "storyframe.log"), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
			if err != nil {
				return fmt.Errorf("open log file: %w", err)
			}
			defer logFile.Close()
			log := logging.ConfigureRuntime(logging.Options{Output: logFile, Level: cfg.LogLevel})

			ctx := cmd.Context()
			a, err := openApp(ctx, cfg, log, true)
			if err != nil {
				return err
			}
			defer a.close(context.Background())

			id := a.engine.SessionID(sessionID)
			if hint != "" {
				snap, err := a.engine.Snapshot(ctx, id)
				if err != nil {
					return err
				}
				if !snap.State.Begun() {
					fmt.Println("Weaving your world... please wait.")
					t, err := a.engine.Begin(ctx, id, hint)
					if err != nil {
						return err
					}
					if _, err := t.Wait(ctx); err != nil {
						return err
					}
				}
			}
			return tui.Run(ctx, a.engine, id)
		},
	}
	cmd.Flags().StringVarP(&sessionID, "session", "s", "", "Session id (defaults to the configured default session)")
	cmd.Flags().StringVar(&hint, "hint", "", "World hint for a new session; 25 words or more are used as the world prompt")
	return cmd
}

func newArchiveCommand(load loader) *cobra.Command {
	var (
		sessionID string
		limit     int
	)

	cmd := &cobra.Command{
		Use:     "archive",
		Short:   "Show the world-state archive of a session",
		Example: "  game archive --session noir --limit 20",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			log := logging.ConfigureRuntime(logging.Options{Level: cfg.LogLevel})
			ctx := cmd.Context()

			a, err := openApp(ctx, cfg, log, false)
			if err != nil {
				return err
			}
			defer a.close(context.Background())

			entries, err := a.ledger.List(ctx, a.engine.SessionID(sessionID), limit)
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "TURN\tEPOCH\tGAME TURN\tTIME\tACTION\tSITUATION")
			for _, e := range entries {
				fmt.Fprintf(w, "%d\t%d\t%d\t%s\t%s\t%s\n",
					e.Turn, e.Epoch, e.GameTurn, e.Timestamp.Local().Format(time.DateTime),
					clip(e.Action, 40), clip(e.SituationAfter, 80))
			}
			return w.Flush()
		},
	}
	cmd.Flags().StringVarP(&sessionID, "session", "s", "", "Session id")
	cmd.Flags().IntVarP(&limit, "limit", "n", 0, "Show only the latest n entries (0 for all)")
	return cmd
}

func newResetCommand(load loader) *cobra.Command {
	var sessionID string

	cmd := &cobra.Command{
		Use:     "reset",
		Short:   "Clear a session's state, history and images; the archive is kept",
		Example: "  game reset --session noir",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			log := logging.ConfigureRuntime(logging.Options{Level: cfg.LogLevel})
			ctx := cmd.Context()

			a, err := openApp(ctx, cfg, log, false)
			if err != nil {
				return err
			}
			defer a.close(context.Background())

			id := a.engine.SessionID(sessionID)
			if err := a.engine.Reset(ctx, id); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Session %q reset.\n", id)
			return nil
		},
	}
	cmd.Flags().StringVarP(&sessionID, "session", "s", "", "Session id")
	return cmd
}

func newSessionsCommand(load loader) *cobra.Command {
	return &cobra.Command{
		Use:     "sessions",
		Short:   "List stored sessions",
		Example: "  game sessions",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			log := logging.ConfigureRuntime(logging.Options{Level: cfg.LogLevel})
			ctx := cmd.Context()

			a, err := openApp(ctx, cfg, log, false)
			if err != nil {
				return err
			}
			defer a.close(context.Background())

			ids, err := a.engine.Sessions(ctx)
			if err != nil {
				return err
			}
			archived, err := a.ledger.Sessions(ctx)
			if err != nil {
				return err
			}
			live := make(map[string]bool, len(ids))

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "SESSION\tTURN\tSPENT\tSITUATION")
			for _, id := range ids {
				live[id] = true
				snap, err := a.engine.Snapshot(ctx, id)
				if err != nil {
					return err
				}
				fmt.Fprintf(w, "%s\t%d\t%.2f\t%s\n", id, snap.State.TurnCount, snap.Spent, clip(snap.State.CurrentSituation, 80))
			}
			for _, id := range archived {
				if !live[id] {
					fmt.Fprintf(w, "%s\t-\t-\t(archive only)\n", id)
				}
			}
			return w.Flush()
		},
	}
}

func clip(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	if len([]rune(s)) <= n {
		return s
	}
	return string([]rune(s)[:n-3]) + "..."
}
