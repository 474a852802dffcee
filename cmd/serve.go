package cmd

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/audiolibrelab/singcapture/internal/config"
	"github.com/audiolibrelab/singcapture/internal/server"
	"github.com/audiolibrelab/singcapture/internal/service"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the web server for remote control",
	Long: `Start the SingCapture web server to control recording via a web interface.
This allows you to start a performance from your smartphone or any device on the same network.

Changes to the config file are picked up by the next recording.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		port, _ := cmd.Flags().GetInt("port")
		if port == 0 {
			port = cfg.Server.Port
		}

		svc, err := service.New(cfg, cfgFile, toolLogWriter())
		if err != nil {
			return fmt.Errorf("failed to create service: %w", err)
		}
		defer svc.Close()

		watchConfig(svc)

		srv := server.New(svc, port)
		slog.Info("SingCapture web server starting", "port", port, "config", cfgFile, "class", cfg.Class)

		// Start server (this blocks)
		if err := srv.Start(); err != nil {
			return fmt.Errorf("server failed: %w", err)
		}

		return nil
	},
}

// watchConfig reloads the config file into svc whenever it changes.
func watchConfig(svc *service.Service) {
	if _, err := os.Stat(cfgFile); err != nil {
		slog.Debug("Config file not watched", "file", cfgFile, "error", err)
		return
	}
	viper.SetConfigFile(cfgFile)
	viper.OnConfigChange(func(e fsnotify.Event) {
		if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
			return
		}
		next, err := config.LoadWithProfile(cfgFile, profile)
		if err != nil {
			slog.Warn("Ignoring invalid config change", "file", e.Name, "error", err)
			return
		}
		if err := svc.ReloadConfig(next); err != nil {
			slog.Warn("Ignoring invalid config change", "file", e.Name, "error", err)
		}
	})
	viper.WatchConfig()
}

func init() {
	serveCmd.Flags().Int("port", 0, "port for the web server (default from config)")
}
