package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/MrWong99/hafiz/internal/app"
	"github.com/MrWong99/hafiz/internal/config"
)

const defaultConfigPath = "hafiz.yaml"

// cli carries the state shared by all subcommands.
type cli struct {
	configPath string
	out        io.Writer
	level      *slog.LevelVar
}

func newRootCmd(out io.Writer) *cobra.Command {
	c := &cli{out: out, level: new(slog.LevelVar)}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: c.level})))

	root := &cobra.Command{
		Use:   "hafiz",
		Short: "Help children memorize short surahs by recitation",
		Long: `Hafiz checks recited verses against the reference text, keeps
memorization progress and a daily practice streak, and generates
encouragement with a short quiz after each surah.

Run "hafiz serve" for the HTTP and WebSocket API, or use the other
commands to inspect and update progress from the terminal.`,
		SilenceUsage: true,
	}
	root.SetOut(out)
	root.PersistentFlags().StringVarP(&c.configPath, "config", "c", defaultConfigPath, "path to the YAML configuration file")

	root.AddCommand(newServeCmd(c))
	root.AddCommand(newCheckCmd(c))
	root.AddCommand(newProgressCmd(c))
	root.AddCommand(newStreakCmd(c))
	root.AddCommand(newMCPCmd(c))
	return root
}

// loadConfig reads the config file. A missing default file yields the
// built-in defaults; a missing explicit path is an error.
func (c *cli) loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.Load(c.configPath)
	if errors.Is(err, os.ErrNotExist) && !cmd.Flags().Changed("config") {
		slog.Debug("no config file, using defaults", "path", c.configPath)
		cfg = config.Default()
		err = nil
	}
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	c.level.Set(cfg.Server.LogLevel.SlogLevel())
	return cfg, nil
}

// openOffline builds an App without providers or announcements, for commands
// that only touch the progress store.
func (c *cli) openOffline(cmd *cobra.Command) (*app.App, error) {
	cfg, err := c.loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	cfg.Announce = config.AnnounceConfig{}
	return app.New(cmd.Context(), cfg, nil, app.WithLevelVar(c.level))
}

func closeApp(a *app.App) {
	if err := a.Shutdown(context.Background()); err != nil {
		slog.Warn("shutdown error", "err", err)
	}
}
