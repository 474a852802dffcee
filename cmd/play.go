package cmd

import (
	"fmt"
	"mime"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/audiolibrelab/singcapture/internal/play"

	"github.com/spf13/cobra"
)

var playCmd = &cobra.Command{
	Use:   "play [file]",
	Short: "Play a saved recording",
	Long: `Play a saved recording with the first media player found on the system.
Will use VLC if available, then mpv, then ffplay.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := args[0]
		fmt.Printf("Playing: %s\n", path)

		player := play.NewExecPlayer(toolLogWriter())
		pb, err := player.Start(path, mime.TypeByExtension(filepath.Ext(path)))
		if err != nil {
			return fmt.Errorf("playback failed: %w", err)
		}

		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
		defer signal.Stop(sigChan)

		select {
		case <-pb.Done():
		case <-sigChan:
			return pb.Stop()
		}
		return nil
	},
}
