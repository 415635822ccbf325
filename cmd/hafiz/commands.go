package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/spf13/cobra"

	"github.com/MrWong99/hafiz/internal/app"
	"github.com/MrWong99/hafiz/internal/config"
	"github.com/MrWong99/hafiz/internal/observe"
	"github.com/MrWong99/hafiz/internal/progress"
)

func newServeCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP and WebSocket API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			cfg, err := c.loadConfig(cmd)
			if err != nil {
				return err
			}

			shutdownOTel, err := observe.InitProvider(ctx, observe.ProviderConfig{
				ServiceName:    "hafiz",
				ServiceVersion: app.Version,
			})
			if err != nil {
				return fmt.Errorf("init telemetry: %w", err)
			}
			defer func() {
				if err := shutdownOTel(context.Background()); err != nil {
					slog.Warn("telemetry shutdown error", "err", err)
				}
			}()

			reg := config.NewRegistry()
			registerBuiltinProviders(reg, cfg.Recitation)
			providers, err := buildProviders(cfg, reg)
			if err != nil {
				return err
			}

			printStartupSummary(c, cfg)

			opts := []app.Option{app.WithLevelVar(c.level)}
			if cmd.Flags().Changed("config") || fileExists(c.configPath) {
				opts = append(opts, app.WithConfigPath(c.configPath))
			}
			application, err := app.New(ctx, cfg, providers, opts...)
			if err != nil {
				return err
			}

			slog.Info("server ready, press Ctrl+C to shut down")
			runErr := application.Run(ctx)

			shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
			defer cancel()
			slog.Info("stopping")
			if err := application.Shutdown(shutdownCtx); err != nil {
				return errors.Join(runErr, err)
			}
			if runErr != nil && !errors.Is(runErr, context.Canceled) {
				return runErr
			}
			slog.Info("goodbye")
			return nil
		},
	}
}

func newCheckCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:     "check <collection> <verse> <transcript...>",
		Short:   "Score a transcript against a verse and record a correct recitation",
		Example: `  hafiz check 112 1 قل هو الله احد`,
		Args:    cobra.MinimumNArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			colID, err := strconv.Atoi(args[0])
			if err != nil {
				return fmt.Errorf("collection %q is not a number", args[0])
			}
			verseID, err := strconv.Atoi(args[1])
			if err != nil {
				return fmt.Errorf("verse %q is not a number", args[1])
			}
			transcript := strings.Join(args[2:], " ")

			a, err := c.openOffline(cmd)
			if err != nil {
				return err
			}
			defer closeApp(a)

			ctx := cmd.Context()
			col, err := a.Catalog().Collection(colID)
			if err != nil {
				return err
			}
			verse, err := a.Catalog().Verse(colID, verseID)
			if err != nil {
				return err
			}
			attempt := a.Scorer().Attempt(verse.ID, verse.Text, transcript)
			if err := progress.NewTracker(a.Store(), nil).Record(ctx, col.ID, verse.ID, attempt.Correct()); err != nil {
				return fmt.Errorf("save progress: %w", err)
			}

			fmt.Fprintf(c.out, "%s:%d  %s (similarity %.2f)\n", col.EnglishName, verse.ID, attempt.Verdict, attempt.Similarity)
			if a.Store().CollectionMemorized(ctx, col) {
				fmt.Fprintf(c.out, "%s is fully memorized.\n", col.EnglishName)
			}
			return nil
		},
	}
}

func newProgressCmd(c *cli) *cobra.Command {
	var (
		lang   string
		asJSON bool
		mark   string
	)
	cmd := &cobra.Command{
		Use:   "progress",
		Short: "Show memorized verses per surah",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := c.openOffline(cmd)
			if err != nil {
				return err
			}
			defer closeApp(a)
			ctx := cmd.Context()

			if mark != "" {
				colID, verseID, err := parseVerseRef(mark)
				if err != nil {
					return err
				}
				if _, err := a.Catalog().Verse(colID, verseID); err != nil {
					return err
				}
				if err := a.Store().MarkVerseMemorized(ctx, colID, verseID); err != nil {
					return err
				}
			}

			rows := progress.ChartRows(a.Catalog().Collections(), a.Store().Load(ctx), lang)
			totals := progress.SumRows(rows)
			if asJSON {
				enc := json.NewEncoder(c.out)
				enc.SetIndent("", "  ")
				return enc.Encode(map[string]any{"rows": rows, "totals": totals})
			}

			tw := tabwriter.NewWriter(c.out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "SURAH\tMEMORIZED\tTOTAL\tSCORE")
			for _, r := range rows {
				fmt.Fprintf(tw, "%s\t%d\t%d\t%d%%\n", r.Name, r.Memorized, r.Total, progress.Score(r.Memorized, r.Total))
			}
			fmt.Fprintf(tw, "ALL\t%d\t%d\t%d%%\n", totals.Memorized, totals.Total, progress.Score(totals.Memorized, totals.Total))
			return tw.Flush()
		},
	}
	cmd.Flags().StringVar(&lang, "lang", "en", "name language: en, fr or ar")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON instead of a table")
	cmd.Flags().StringVar(&mark, "mark", "", "mark a verse memorized first, as collection:verse (e.g. 112:1)")
	return cmd
}

func parseVerseRef(s string) (colID, verseID int, err error) {
	a, b, ok := strings.Cut(s, ":")
	if ok {
		colID, err = strconv.Atoi(a)
	}
	if ok && err == nil {
		verseID, err = strconv.Atoi(b)
	}
	if !ok || err != nil {
		return 0, 0, fmt.Errorf("verse reference %q must look like 112:1", s)
	}
	return colID, verseID, nil
}

func newStreakCmd(c *cli) *cobra.Command {
	var practiced bool
	cmd := &cobra.Command{
		Use:   "streak",
		Short: "Show the daily practice streak",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := c.openOffline(cmd)
			if err != nil {
				return err
			}
			defer closeApp(a)
			ctx := cmd.Context()

			if practiced {
				if err := a.Store().LogToday(ctx); err != nil {
					return err
				}
			}
			n := a.Store().Streak(ctx)
			unit := "days"
			if n == 1 {
				unit = "day"
			}
			fmt.Fprintf(c.out, "Streak: %d %s\n", n, unit)
			for _, d := range a.Store().Dates(ctx) {
				fmt.Fprintf(c.out, "  %s\n", d.Format(progress.DateLayout))
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&practiced, "log", false, "log today as a practice day first")
	return cmd
}

func newMCPCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "mcp",
		Short: "Serve the progress tools over MCP on stdio",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := c.openOffline(cmd)
			if err != nil {
				return err
			}
			defer closeApp(a)

			srv, err := a.MCPServer()
			if err != nil {
				return err
			}
			slog.Info("mcp server ready on stdio")
			if err := srv.Run(cmd.Context(), &mcp.StdioTransport{}); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		},
	}
}
