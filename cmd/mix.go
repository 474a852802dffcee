package cmd

import (
	"errors"
	"fmt"
	"os"

	"github.com/audiolibrelab/singcapture/internal/mix"

	"github.com/spf13/cobra"
)

var mixCmd = &cobra.Command{
	Use:   "mix [output.wav]",
	Short: "Mix a dry vocal take with a backing track",
	Long: `Render a dry vocal WAV against a backing track WAV through the same voice
enhancement chain and gains a live session uses. Outputs a mono WAV file.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		vocalPath, _ := cmd.Flags().GetString("vocal")
		backingPath, _ := cmd.Flags().GetString("backing")
		if vocalPath == "" || backingPath == "" {
			return errors.New("both --vocal and --backing are required")
		}

		params := cfg.MixParameters()
		if g, _ := cmd.Flags().GetFloat64("mic-gain"); g > 0 {
			params.MicrophoneGain = g
		}
		if g, _ := cmd.Flags().GetFloat64("backing-gain"); g > 0 {
			params.BackingTrackGain = g
		}

		fmt.Printf("Mixing vocal: %s\n", vocalPath)
		fmt.Printf("Backing track: %s\n", backingPath)
		fmt.Printf("Microphone gain: %.2f\n", params.MicrophoneGain)
		fmt.Printf("Backing gain: %.2f\n", params.BackingTrackGain)
		fmt.Printf("Voice enhancement: %t\n", params.Enhancement != nil)

		vocal, err := readWAV(vocalPath, cfg.Audio.SampleRate)
		if err != nil {
			return err
		}
		backing, err := readWAV(backingPath, cfg.Audio.SampleRate)
		if err != nil {
			return err
		}

		out, err := mix.Mixdown(vocal, backing, params)
		if err != nil {
			return fmt.Errorf("mixing failed: %w", err)
		}

		f, err := os.Create(args[0])
		if err != nil {
			return fmt.Errorf("failed to create output file: %w", err)
		}
		if err := mix.EncodeWAV(f, out); err != nil {
			f.Close()
			return fmt.Errorf("failed to write %s: %w", args[0], err)
		}
		if err := f.Close(); err != nil {
			return fmt.Errorf("failed to write %s: %w", args[0], err)
		}

		fmt.Println("Mixing completed successfully")
		return nil
	},
}

func init() {
	mixCmd.Flags().String("vocal", "", "dry vocal WAV file")
	mixCmd.Flags().StringP("backing", "b", "", "backing track WAV file")
	mixCmd.Flags().Float64P("mic-gain", "g", 0, "microphone gain (overrides config)")
	mixCmd.Flags().Float64("backing-gain", 0, "backing track gain (overrides config)")
}

func readWAV(path string, rate int) (mix.Buffer, error) {
	f, err := os.Open(path)
	if err != nil {
		return mix.Buffer{}, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()
	b, err := mix.DecodeWAV(f, rate)
	if err != nil {
		return mix.Buffer{}, fmt.Errorf("failed to decode %s: %w", path, err)
	}
	return b, nil
}
