package main

import (
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"emotiond/internal/config"
	"emotiond/internal/logging"
)

// app carries state resolved by the root command for its subcommands.
type app struct {
	configPath string
	logLevel   string
	cfg        config.Config
	log        zerolog.Logger
	getenv     func(string) string
}

func newRootCmd() *cobra.Command {
	a := &app{getenv: os.Getenv, log: zerolog.Nop()}
	root := &cobra.Command{
		Use:           "emotiond",
		Short:         "Train and serve a facial emotion classifier",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&a.configPath, "config", "", "Config file (.yaml, .yml, .json, .toml)")
	root.PersistentFlags().StringVar(&a.logLevel, "log-level", "", "Log level: debug|info|warn|error (defaults EMOTIOND_LOG_LEVEL or info)")
	root.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		return a.resolve(cmd)
	}
	root.AddCommand(newTrainCmd(a), newServeCmd(a))
	// cobra adds the completion command on its own; keep it visible
	root.CompletionOptions.HiddenDefaultCmd = false
	return root
}

// resolve loads defaults, the config file, then the environment, and builds
// the logger. Command flags are applied by each subcommand afterwards.
func (a *app) resolve(cmd *cobra.Command) error {
	cfg := config.Default()
	if a.configPath != "" {
		loaded, err := config.Load(a.configPath)
		if err != nil {
			return err
		}
		cfg = loaded
	}
	if err := cfg.ApplyEnv(a.getenv); err != nil {
		return err
	}
	if a.logLevel != "" {
		cfg.Log.Level = a.logLevel
	}
	log, err := logging.New(cmd.ErrOrStderr(), logging.Options{Level: cfg.Log.Level, Format: cfg.Log.Format})
	if err != nil {
		return err
	}
	a.cfg = cfg
	a.log = log
	return nil
}

// splitCSV splits a comma-separated list, trimming blanks and dropping empties.
func splitCSV(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
