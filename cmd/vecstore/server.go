package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/hyperjump/vecstore/internal/config"
	"github.com/hyperjump/vecstore/internal/server"
	"github.com/hyperjump/vecstore/internal/service"
	"github.com/hyperjump/vecstore/pkg/utils"
)

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Run the HTTP API and the background job worker",
	RunE: func(cmd *cobra.Command, args []string) error {
		debug, _ := cmd.Flags().GetBool("debug")
		cfg, resolved, err := loadConfig(configPath)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		debugMode := cfg.Debug || debug
		logger, err := utils.NewLogger(debugMode)
		if err != nil {
			return fmt.Errorf("create logger: %w", err)
		}
		defer logger.Sync()

		logger.Info("config loaded",
			zap.String("config_path", resolved),
			zap.String("data_dir", cfg.Storage.DataDir),
			zap.Bool("debug", debugMode),
		)
		return runServer(cmd.Context(), cfg, logger)
	},
}

func init() {
	serverCmd.Flags().Bool("debug", false, "enable debug logging")
	rootCmd.AddCommand(serverCmd)
}

func runServer(parent context.Context, cfg *config.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	svc, err := service.New(cfg, logger)
	if err != nil {
		return fmt.Errorf("initialize: %w", err)
	}
	defer func() {
		if err := svc.Close(); err != nil {
			logger.Warn("shutdown", zap.Error(err))
		}
	}()
	if err := svc.Start(ctx); err != nil {
		return err
	}

	srv := server.NewServer(svc, &cfg.Server, logger)
	errCh := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		logger.Info("Shutting down...")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Stop(shutdownCtx)
}
