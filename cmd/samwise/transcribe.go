package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/chandeldivyam/samwise/internal/config"
	"github.com/chandeldivyam/samwise/internal/observe"
	"github.com/chandeldivyam/samwise/internal/textgen"
)

func newTranscribeCmd(st *state) *cobra.Command {
	var summarize bool
	cmd := &cobra.Command{
		Use:   "transcribe <file>",
		Short: "Transcribe an audio file with the configured backends",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTranscribe(cmd.Context(), st.cfg, args[0], summarize)
		},
	}
	cmd.Flags().BoolVarP(&summarize, "summarize", "s", false, "also print a summary and action items")
	return cmd
}

func runTranscribe(ctx context.Context, cfg *config.Config, path string, summarize bool) error {
	if _, err := os.Stat(path); err != nil {
		return err
	}
	reg := config.NewRegistry()
	registerBuiltinProviders(reg)
	m := observe.DefaultMetrics()

	t, err := buildTranscriber(cfg.Transcription, reg, m)
	if err != nil {
		return err
	}
	if t == nil {
		return errors.New("no transcription backend configured")
	}

	tctx, cancel := context.WithTimeout(ctx, cfg.Transcription.Timeout)
	defer cancel()
	text, err := t.Transcribe(tctx, path)
	if err != nil {
		return err
	}
	fmt.Println(text)

	if !summarize {
		return nil
	}
	g, err := buildGenerator(cfg.TextGen, reg, m)
	if err != nil {
		return err
	}
	if g == nil {
		return errors.New("no text generation backend configured")
	}
	summary, items, err := textgen.Summarize(ctx, g, text)
	if err != nil {
		return err
	}
	fmt.Printf("\n%s\n\n# Action items\n\n%s\n", summary, items)
	return nil
}
