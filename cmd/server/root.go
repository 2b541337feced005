package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"facewatch/config"

	"github.com/spf13/cobra"
)

const defaultConfigPath = "/config/config.yaml"

var configPath string

var rootCmd = &cobra.Command{
	Use:   "facewatch",
	Short: "Real-time face recognition for camera streams",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configPath)
		if err != nil {
			return fmt.Errorf("failed to load configuration: %w", err)
		}
		return runServer(cmd.Context(), cfg)
	},
	SilenceUsage: true,
}

// Execute startet die CLI; SIGINT und SIGTERM beenden den Kontext
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", defaultConfigPath, "path to the configuration file")
}
