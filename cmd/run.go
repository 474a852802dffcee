package cmd

import (
	"fmt"

	"github.com/audiolibrelab/singcapture/internal/service"

	"github.com/spf13/cobra"
)

var runCmd = &cobra.Command{
	Use:   "run [title]",
	Short: "Execute pipeline steps on a performance",
	Long: `Record a performance and run the remaining pipeline steps on it. Use -p to
specify the steps, for example 'rpe' to record, play back and export.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		title := ""
		if len(args) == 1 {
			title = args[0]
		}
		return runPipeline(cmd, title)
	},
}

func init() {
	addInputFlags(runCmd)
}

func runPipeline(cmd *cobra.Command, title string) error {
	if pipeline == "" {
		return fmt.Errorf("no pipeline specified, use -p flag (e.g., -p rpe)")
	}

	var args []string
	if title != "" {
		args = []string{title}
	}
	in, err := inputsFromFlags(cmd, args)
	if err != nil {
		return err
	}

	svc, err := service.New(cfg, cfgFile, toolLogWriter())
	if err != nil {
		return fmt.Errorf("failed to create service: %w", err)
	}
	defer svc.Close()

	fmt.Printf("Pipeline: executing step 1/%d: 'r'...\n", len([]rune(pipeline)))
	if err := recordPerformance(cmd.Context(), svc, in); err != nil {
		return fmt.Errorf("pipeline record failed: %w", err)
	}
	fmt.Println("Pipeline: recording completed")

	return executePipeline(cmd.Context(), svc, 'r')
}
