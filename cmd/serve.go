package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"xray-detect/config"
	telegram "xray-detect/internal/api"
	"xray-detect/internal/httpserver"
)

func newServeCommand() *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the web interface and the Telegram bot",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if addr != "" {
				cfg.HTTPAddr = addr
			}

			appContainer, err := buildContainer(cfg)
			if err != nil {
				return err
			}
			defer appContainer.Close()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			g, ctx := errgroup.WithContext(ctx)

			web := httpserver.New(appContainer.DetectionService, cfg.MaxUploadBytes)
			g.Go(func() error {
				return web.Run(ctx, cfg.HTTPAddr)
			})

			if cfg.TelegramToken != "" {
				bot, err := telegram.NewBot(cfg.TelegramToken, appContainer.DetectionService)
				if err != nil {
					return fmt.Errorf("create bot: %w", err)
				}
				g.Go(func() error {
					log.Println("Bot is running...")
					return bot.Run(ctx)
				})
			} else {
				log.Println("TELEGRAM_TOKEN is not set, bot is disabled")
			}

			log.Printf("inference endpoint: %s", cfg.PredictURL)
			if err := g.Wait(); err != nil && ctx.Err() == nil {
				return err
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides HTTP_ADDR)")
	return cmd
}

// contextOrBackground нужен для команд, запущенных без контекста
func contextOrBackground(ctx context.Context) context.Context {
	if ctx == nil {
		return context.Background()
	}
	return ctx
}
