package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/user/coachchat/internal/config"
	"github.com/user/coachchat/internal/gateway"
	"github.com/user/coachchat/internal/session"
	"github.com/user/coachchat/pkg/chatapi"
)

var cfgPath string

var rootCmd = &cobra.Command{
	Use:           "coachchat",
	Short:         "Chat with the challenge coach",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgPath, "config",
		filepath.Join(os.Getenv("HOME"), ".coachchat", "config.json"), "config file path")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func loadConfig() *config.Config {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	return cfg
}

func setupLogging(cfg *config.Config, w io.Writer) {
	var level slog.Level
	switch strings.ToLower(cfg.LogLevel) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level})))
}

func newClient(cfg *config.Config) (*chatapi.Client, error) {
	client, err := chatapi.New(chatapi.Config{
		BaseURL: cfg.API.BaseURL,
		Token:   cfg.API.Token,
		Timeout: cfg.Timeout(),
	})
	if err != nil {
		return nil, fmt.Errorf("create api client: %w", err)
	}
	return client, nil
}

func sessionOptions(cfg *config.Config) session.Options {
	retry := gateway.DefaultRetryPolicy()
	if cfg.Chat.HistoryRetries > 0 {
		retry.MaxAttempts = cfg.Chat.HistoryRetries
	}
	return session.Options{
		PageSize:         cfg.Chat.PageSize,
		MaxMessageLength: cfg.Chat.MaxMessageLength,
		NearTopThreshold: cfg.Chat.NearTopThreshold,
		NoticeDuration:   cfg.BannerDuration(),
		RetryPolicy:      retry,
	}
}
