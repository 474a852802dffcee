package cmd

import (
	"fmt"
	"path/filepath"

	"github.com/audiolibrelab/singcapture/internal/encode"
	"github.com/audiolibrelab/singcapture/internal/play"
	"github.com/audiolibrelab/singcapture/internal/track"

	"github.com/spf13/cobra"
)

var infoCmd = &cobra.Command{
	Use:   "info [title]",
	Short: "Show resolved configuration, recording format and file paths",
	Long: `Display the recording format this host negotiates, the file a recording of
the given title would be saved to, and the resolved configuration with
inheritance indicators showing which values come from the device class
profile. With --backing, the backing track is loaded and its duration shown.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		title := "recording"
		if len(args) == 1 {
			title = args[0]
		}

		fmt.Printf("=== RECORDING FORMAT ===\n")
		priorities, err := encode.FormatsByName(cfg.Recording.Encoders)
		if err != nil {
			return err
		}
		prober := encode.NewFFmpegProber(cfg.Recording.FFmpegPath)
		format, err := encode.Negotiate(prober, priorities)
		if err != nil {
			fmt.Printf("format: none (%v)\n", err)
		} else {
			fmt.Printf("format: %s\n", format.Name)
			fmt.Printf("mime: %s\n", format.MIMEType())
		}
		if err := prober.Err(); err != nil {
			fmt.Printf("ffmpeg: unavailable (%v)\n", err)
		}

		fmt.Printf("\n=== FILE PATHS ===\n")
		cleanName := play.CleanFileName(title)
		fmt.Printf("clean_name: %s\n", cleanName)
		if err == nil {
			fmt.Printf("output: %s\n", filepath.Join(cfg.Output.Directory, cleanName+"."+format.Extension))
		}

		if backing, _ := cmd.Flags().GetString("backing"); backing != "" {
			fmt.Printf("\n=== BACKING TRACK ===\n")
			asset, err := track.NewLoader(cfg.Audio.SampleRate, cfg.Recording.FFmpegPath).
				Load(cmd.Context(), track.Ref{Location: backing})
			if err != nil {
				return fmt.Errorf("failed to load backing track: %w", err)
			}
			fmt.Printf("name: %s\n", asset.Name)
			fmt.Printf("mime: %s\n", asset.MIME)
			fmt.Printf("duration: %s\n", asset.Duration)
			fmt.Printf("auto_stop_after: %s\n", asset.Duration+cfg.Recording.AutoStopBuffer)
		}

		fmt.Printf("\n=== RESOLVED CONFIGURATION (%s) ===\n", cfg.Class)
		for _, key := range cfg.InheritanceKeys() {
			fmt.Printf("%s %s\n", key, getInheritanceIndicator(cfg.Inheritance[key]))
		}
		return nil
	},
}

// getInheritanceIndicator returns a formatted indicator for inheritance status
func getInheritanceIndicator(status string) string {
	switch status {
	case "inherited":
		return "[inherited]"
	case "profile-specific":
		return "[profile-specific]"
	default:
		return "[unknown]"
	}
}

func init() {
	infoCmd.Flags().StringP("backing", "b", "", "backing track to probe")
	rootCmd.AddCommand(infoCmd)
}
