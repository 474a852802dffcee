package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/audiolibrelab/singcapture/internal/capture"
	"github.com/audiolibrelab/singcapture/internal/service"
	"github.com/audiolibrelab/singcapture/internal/track"

	"github.com/spf13/cobra"
)

var recordCmd = &cobra.Command{
	Use:   "record [title]",
	Short: "Record a performance over a backing track",
	Long: `Record the microphone over a backing track. The recording stops on its own
when the backing track ends, or earlier with Ctrl+C, and is saved into the
output directory next to a YAML metadata file.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		in, err := inputsFromFlags(cmd, args)
		if err != nil {
			return err
		}
		publish, _ := cmd.Flags().GetBool("publish")

		svc, err := service.New(cfg, cfgFile, toolLogWriter())
		if err != nil {
			return fmt.Errorf("failed to create service: %w", err)
		}
		defer svc.Close()

		if err := recordPerformance(cmd.Context(), svc, in); err != nil {
			return err
		}
		if publish {
			if err := exportPerformance(cmd.Context(), svc); err != nil {
				return err
			}
		}
		return executePipeline(cmd.Context(), svc, 'r')
	},
}

func init() {
	addInputFlags(recordCmd)
	recordCmd.Flags().Bool("publish", false, "upload the recording to the configured bucket")
}

// addInputFlags registers the performance inputs on cmd.
func addInputFlags(cmd *cobra.Command) {
	cmd.Flags().StringP("backing", "b", "", "backing track file or URL")
	cmd.Flags().StringP("reference", "r", "", "reference vocal played to the singer only")
	cmd.Flags().String("background", "", "background image (overrides config)")
	cmd.Flags().String("watermark", "", "watermark image (overrides config)")
	cmd.Flags().Duration("duration", 0, "backing track duration (probed when omitted)")
	cmd.Flags().StringP("output", "o", "", "output directory (overrides config)")
}

func inputsFromFlags(cmd *cobra.Command, args []string) (service.Inputs, error) {
	backing, _ := cmd.Flags().GetString("backing")
	if backing == "" {
		return service.Inputs{}, errors.New("a backing track is required, use --backing")
	}
	reference, _ := cmd.Flags().GetString("reference")
	background, _ := cmd.Flags().GetString("background")
	watermark, _ := cmd.Flags().GetString("watermark")
	duration, _ := cmd.Flags().GetDuration("duration")
	if output, _ := cmd.Flags().GetString("output"); output != "" {
		cfg.Output.Directory = output
	}

	in := service.Inputs{
		Backing: track.Ref{Location: backing, Duration: duration},
	}
	if len(args) == 1 {
		in.Title = args[0]
	}
	if reference != "" {
		in.Reference = &track.Ref{Name: "reference", Location: reference, Duration: duration}
	}
	if background != "" {
		in.Background = &track.ImageRef{Name: "background", Location: background}
	}
	if watermark != "" {
		in.Watermark = &track.ImageRef{Name: "watermark", Location: watermark}
	}
	return in, nil
}

// recordPerformance records until auto-stop or an interrupt and saves the
// result.
func recordPerformance(ctx context.Context, svc *service.Service, in service.Inputs) error {
	// Subscribe first so no transition of the new session is missed
	events := svc.Subscribe()

	sess, err := svc.StartRecording(ctx, in)
	if err != nil {
		return fmt.Errorf("failed to start recording: %w", err)
	}
	slog.Info("Recording - Press Ctrl+C to stop", "session_id", sess.ID(), "track_duration", sess.TrackDuration())

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	for {
		select {
		case <-sigChan:
			slog.Info("Stopping recording...")
			if err := svc.StopRecording(); err != nil {
				return fmt.Errorf("failed to stop recording: %w", err)
			}
		case t, ok := <-events:
			if !ok {
				return fmt.Errorf("recording interrupted: recorder closed")
			}
			if t.SessionID != sess.ID() {
				continue
			}
			switch t.To {
			case capture.StateReady:
				path, err := svc.SaveArtifact()
				if err != nil {
					return fmt.Errorf("failed to save recording: %w", err)
				}
				st := svc.Status()
				fmt.Printf("Recording saved: %s (%d bytes, stopped by %s)\n", path, st.Session.Bytes, st.Session.StopReason)
				return nil
			case capture.StateError, capture.StateIdle:
				return fmt.Errorf("recording failed: %s", svc.Status().Message)
			}
		}
	}
}

func exportPerformance(ctx context.Context, svc *service.Service) error {
	pub, err := svc.Publish(ctx)
	if err != nil {
		return fmt.Errorf("failed to publish recording: %w", err)
	}
	fmt.Printf("Published: %s\n", pub.URL)
	fmt.Printf("Link expires: %s\n", pub.ExpiresAt.Local().Format(time.RFC1123))
	return nil
}
