package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/audiolibrelab/singcapture/internal/service"
)

// executePipeline runs the steps that follow startStep.
func executePipeline(ctx context.Context, svc *service.Service, startStep rune) error {
	if pipeline == "" {
		return nil
	}

	steps := []rune(strings.ToLower(pipeline))

	startIndex := -1
	for i, step := range steps {
		if step == startStep {
			startIndex = i
			break
		}
	}

	if startIndex == -1 {
		return fmt.Errorf("step '%c' not found in pipeline '%s'", startStep, pipeline)
	}

	for i := startIndex + 1; i < len(steps); i++ {
		step := steps[i]
		fmt.Printf("Pipeline: executing step '%c'...\n", step)

		switch step {
		case 'p':
			if err := playPerformance(svc); err != nil {
				return fmt.Errorf("pipeline play failed: %w", err)
			}
			fmt.Println("Pipeline: playback completed")

		case 'e':
			if err := exportPerformance(ctx, svc); err != nil {
				return fmt.Errorf("pipeline export failed: %w", err)
			}
			fmt.Println("Pipeline: export completed")

		default:
			return fmt.Errorf("unknown pipeline step: '%c' (valid: r=record, p=play, e=export)", step)
		}
	}

	return nil
}

// playPerformance plays the finished recording until it ends or Ctrl+C.
func playPerformance(svc *service.Service) error {
	playing, err := svc.TogglePlayback()
	if err != nil {
		return err
	}
	if !playing {
		return nil
	}
	fmt.Println("Playing - Press Ctrl+C to stop")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	ticker := time.NewTicker(250 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-sigChan:
			_, err := svc.TogglePlayback()
			return err
		case <-ticker.C:
			if st := svc.Status(); st.Session == nil || !st.Session.Playing {
				return nil
			}
		}
	}
}

func validatePipeline() error {
	if pipeline == "" {
		return nil
	}

	validSteps := map[rune]bool{
		'r': true, // record
		'p': true, // play
		'e': true, // export
	}

	steps := []rune(strings.ToLower(pipeline))
	for _, step := range steps {
		if !validSteps[step] {
			return fmt.Errorf("invalid pipeline step: '%c' (valid: r=record, p=play, e=export)", step)
		}
	}
	// recordings live in memory, so every pipeline begins with one
	if steps[0] != 'r' {
		return fmt.Errorf("pipeline '%s' must start with the record step", pipeline)
	}

	return nil
}
