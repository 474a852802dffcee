package cmd

import (
	"fmt"
	"runtime"

	"github.com/audiolibrelab/singcapture/internal/audio"

	"github.com/spf13/cobra"
)

var devicesCmd = &cobra.Command{
	Use:   "devices",
	Short: "List available microphones",
	Long:  `List the audio input devices the configured backend can record from.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		backend, err := audio.NewBackend(cfg.Audio.Backend)
		if err != nil {
			return err
		}
		inputs, err := backend.ListInputs()
		if err != nil {
			return fmt.Errorf("failed to list input devices: %w", err)
		}

		fmt.Printf("🎤 Audio Inputs (%s, %s backend)\n", runtime.GOOS, backend.Type())
		fmt.Printf("═══════════════════════════════════════\n\n")
		fmt.Printf("📋 INPUT DEVICES (%d found):\n", len(inputs))
		for i, d := range inputs {
			marker := ""
			if d.Default {
				marker = " (default)"
			}
			fmt.Printf("  %d. %s%s - %d ch, %.0f Hz\n", i+1, d.Name, marker, d.Channels, d.DefaultSampleRate)
		}

		fmt.Printf("\n💡 Usage:\n")
		fmt.Printf("  • Configure in audio.input_device: \"<device name>\"\n")
		fmt.Printf("  • Leave it empty to use the system default\n\n")
		return nil
	},
}
