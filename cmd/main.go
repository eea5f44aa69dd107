package main

import (
	"fmt"
	"os"
	"runtime"

	"github.com/spf13/cobra"

	"xray-detect/config"
	"xray-detect/internal/container"
	"xray-detect/internal/infrastructure/inference"
	"xray-detect/internal/infrastructure/storage"
	"xray-detect/internal/infrastructure/vision"
)

// Переменные сборки, задаются через ldflags
var (
	version = "dev"
	commit  = "none"
)

var cfgFile string

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "xray-detect",
		Short: "Chest X-ray pneumonia detection front end",
		Long: `xray-detect accepts chest X-ray images, validates them, builds a local preview
and asks a remote inference service whether the image shows pneumonia.

It serves a web page and, when TELEGRAM_TOKEN is set, a Telegram bot.`,
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file path (YAML)")

	rootCmd.AddCommand(newServeCommand())
	rootCmd.AddCommand(newPredictCommand())
	rootCmd.AddCommand(newVersionCommand())

	return rootCmd
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "xray-detect %s (%s)\n", version, commit)
			fmt.Fprintf(cmd.OutOrStdout(), "Go version: %s\n", runtime.Version())
		},
	}
}

// buildContainer собирает сервисы приложения по конфигурации
func buildContainer(cfg *config.Config) (*container.Container, error) {
	detector, err := inference.New(cfg.PredictURL, nil)
	if err != nil {
		return nil, fmt.Errorf("inference client: %w", err)
	}

	// Создаём хранилище сессий
	sessionRepo := storage.NewMemorySessionRepository()

	// Собираем сервисы приложения
	return container.New(sessionRepo, vision.NewPreviewer(cfg.PreviewMaxSide), detector, cfg.MaxUploadBytes, cfg.PredictTimeout), nil
}
