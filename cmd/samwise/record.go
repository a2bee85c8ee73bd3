package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/chandeldivyam/samwise/internal/config"
	"github.com/chandeldivyam/samwise/internal/recording"
)

type recordFlags struct {
	user       string
	name       string
	transcribe bool
	summarize  bool
}

func newRecordCmd(st *state) *cobra.Command {
	var f recordFlags
	cmd := &cobra.Command{
		Use:   "record",
		Short: "Record until interrupted, then produce the final file",
		Long:  "record captures the microphone and system output until Ctrl+C, waits for post-processing and prints the final file. With --transcribe and --summarize the recording is processed further.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runRecord(cmd.Context(), st, f)
		},
	}
	cmd.Flags().StringVarP(&f.user, "user", "u", "local", "user the recording belongs to")
	cmd.Flags().StringVarP(&f.name, "name", "n", "", "recording name (default: timestamp)")
	cmd.Flags().BoolVarP(&f.transcribe, "transcribe", "t", false, "transcribe after processing")
	cmd.Flags().BoolVarP(&f.summarize, "summarize", "s", false, "summarize after transcribing (implies --transcribe)")
	return cmd
}

func runRecord(parent context.Context, st *state, f recordFlags) (err error) {
	cfg := st.cfg
	application, closeHost, err := newApplication(parent, cfg)
	if err != nil {
		return err
	}
	defer closeHost()
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), drainTimeout)
		defer cancel()
		if serr := application.Shutdown(ctx); serr != nil && err == nil {
			err = fmt.Errorf("shutdown: %w", serr)
		}
	}()

	if f.transcribe || f.summarize {
		reg := config.NewRegistry()
		registerBuiltinProviders(reg)
		t, g, err := buildBackends(cfg, reg, application.Metrics())
		if err != nil {
			return err
		}
		application.SetTranscriber(t)
		application.SetGenerator(g)
	}

	svc := application.Service()
	r, err := svc.Create(parent, f.user, f.name)
	if err != nil {
		return err
	}
	fmt.Fprintf(os.Stderr, "Recording %q (%s). Press Ctrl+C to stop.\n", r.Name, r.ID)

	sigCtx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	<-sigCtx.Done()
	stop()

	ctx := context.WithoutCancel(parent)
	fmt.Fprintln(os.Stderr, "Stopping, post-processing…")
	if _, err := svc.Process(ctx, r.ID); err != nil {
		return err
	}
	application.Wait()

	r, err = svc.Get(ctx, r.ID)
	if err != nil {
		return err
	}
	if r.Status != recording.StatusProcessed {
		return fmt.Errorf("recording %s ended as %s", r.ID, r.Status)
	}
	fmt.Println(r.FilePath)

	if !f.transcribe && !f.summarize {
		return nil
	}
	if r, err = svc.Transcribe(ctx, r.ID); err != nil {
		return err
	}
	fmt.Printf("\n# Transcript\n\n%s\n", r.Transcription)

	if !f.summarize {
		return nil
	}
	if r, err = svc.Summarize(ctx, r.ID); err != nil {
		return err
	}
	fmt.Printf("\n%s\n\n# Action items\n\n%s\n", r.Summary, r.ActionItems)
	return nil
}
