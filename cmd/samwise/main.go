// Command samwise records the microphone and system audio of a meeting,
// produces a single mixed recording and optionally transcribes and
// summarizes it.
package main

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/chandeldivyam/samwise/internal/config"
)

// version is overridden at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "samwise: %v\n", err)
		return 1
	}
	return 0
}

// state is shared by all subcommands. It is populated in the root
// command's PersistentPreRunE.
type state struct {
	configPath string
	logLevel   string

	cfg       *config.Config
	level     *slog.LevelVar
	logCloser io.Closer
}

func newRootCmd() *cobra.Command {
	st := &state{level: new(slog.LevelVar)}

	root := &cobra.Command{
		Use:           "samwise",
		Short:         "Record, transcribe and summarize meetings",
		Long:          "samwise captures the default microphone and the system output together, mixes them into one recording and turns it into a transcript, summary and action items.",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(st.configPath)
			if err != nil {
				if errors.Is(err, os.ErrNotExist) {
					return fmt.Errorf("config file %q not found; copy configs/example.yaml to get started", st.configPath)
				}
				return err
			}
			if st.logLevel != "" {
				cfg.Log.Level = config.LogLevel(st.logLevel)
				if !cfg.Log.Level.IsValid() {
					return fmt.Errorf("invalid --log-level %q", st.logLevel)
				}
			}
			st.cfg = cfg

			logger, closer := newLogger(cfg.Log, st.level)
			slog.SetDefault(logger)
			st.logCloser = closer
			return nil
		},
		PersistentPostRunE: func(*cobra.Command, []string) error {
			if st.logCloser != nil {
				return st.logCloser.Close()
			}
			return nil
		},
	}
	root.PersistentFlags().StringVarP(&st.configPath, "config", "c", "", "path to the YAML configuration file (default: built-in defaults plus SAMWISE_* environment)")
	root.PersistentFlags().StringVar(&st.logLevel, "log-level", "", "override log.level (debug, info, warn, error)")

	root.AddCommand(
		newServeCmd(st),
		newRecordCmd(st),
		newTranscribeCmd(st),
		newDevicesCmd(st),
	)
	return root
}
