package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/user/coachchat/internal/backend"
	ctxengine "github.com/user/coachchat/internal/context"
	"github.com/user/coachchat/internal/state"
	"github.com/user/coachchat/internal/telegram"
	"github.com/user/coachchat/pkg/llm"
	"github.com/user/coachchat/pkg/llm/openai"
)

func init() {
	rootCmd.AddCommand(serveCmd)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the assistant server and the Telegram bot",
	RunE:  runServe,
}

func writePIDFile(dataDir string) (string, error) {
	pidPath := filepath.Join(dataDir, "coachchat.pid")
	pid := os.Getpid()
	if err := os.WriteFile(pidPath, []byte(strconv.Itoa(pid)+"\n"), 0644); err != nil {
		return "", fmt.Errorf("write PID file: %w", err)
	}
	return pidPath, nil
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg := loadConfig()
	setupLogging(cfg, os.Stderr)

	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}

	pidPath, err := writePIDFile(cfg.DataDir)
	if err != nil {
		return err
	}
	defer os.Remove(pidPath)

	threads, closeThreads, err := openThreadStore(cfg)
	if err != nil {
		return err
	}
	defer closeThreads()
	messages := state.NewMessageLog(cfg.DataDir)

	provider := openai.New(&llm.Config{
		BaseURL:     cfg.LLM.BaseURL,
		APIKey:      cfg.LLM.APIKey,
		Model:       cfg.LLM.Model,
		MaxTokens:   cfg.LLM.MaxTokens,
		Temperature: cfg.LLM.Temperature,
	})

	engine, err := ctxengine.New(cfg.LLM.Model, cfg.LLM.MaxContextTokens, cfg.LLM.OutputReserve)
	if err != nil {
		return fmt.Errorf("create context engine: %w", err)
	}
	if cfg.LLM.PromptPath != "" {
		text, err := os.ReadFile(cfg.LLM.PromptPath)
		if err != nil {
			return fmt.Errorf("read system prompt: %w", err)
		}
		tmpl, err := ctxengine.ParsePrompt(string(text))
		if err != nil {
			return err
		}
		engine.SetPrompt(tmpl)
	}

	srvCfg := backend.DefaultConfig()
	srvCfg.Token = cfg.Server.Token
	srvCfg.RateLimit = cfg.Server.RateLimit
	srvCfg.RateBurst = cfg.Server.RateBurst
	srvCfg.MaxMessageLength = cfg.Chat.MaxMessageLength
	srv := backend.NewServer(srvCfg, threads, messages, backend.NewResponder(provider, engine))

	httpServer := &http.Server{
		Addr:              cfg.Server.Listen,
		Handler:           srv,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		slog.Info("assistant server started", "listen", cfg.Server.Listen)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("assistant server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})

	if cfg.Telegram.Token != "" {
		// The bot is a client of the API like any other front end.
		if cfg.API.Token == "" {
			cfg.API.Token = cfg.Server.Token
		}
		client, err := newClient(cfg)
		if err != nil {
			return err
		}
		adapter, err := telegram.New(cfg.Telegram.Token, client, sessionOptions(cfg))
		if err != nil {
			return fmt.Errorf("create telegram adapter: %w", err)
		}
		g.Go(func() error {
			slog.Info("telegram adapter started")
			adapter.Start(gctx)
			return nil
		})
	} else {
		slog.Warn("telegram adapter disabled (no token)")
	}

	slog.Info("coachchat started",
		"data_dir", cfg.DataDir,
		"log_level", cfg.LogLevel,
		"llm_model", cfg.LLM.Model,
		"auth", cfg.Server.Token != "",
		"thread_index", cfg.Server.ThreadIndex,
		"pid_file", pidPath,
	)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	defer signal.Stop(sigChan)

	for {
		select {
		case <-gctx.Done():
			// A component failed; the group reports which.
			return g.Wait()
		case sig := <-sigChan:
			if sig == syscall.SIGHUP {
				slog.Info("received SIGHUP, restarting")
				execPath, err := os.Executable()
				if err != nil {
					slog.Error("failed to get executable path", "error", err)
					continue
				}
				// The listener must be released before the new image binds it.
				cancel()
				if err := g.Wait(); err != nil {
					slog.Warn("shutdown before restart", "error", err)
				}
				closeThreads()
				os.Remove(pidPath)
				if err := syscall.Exec(execPath, os.Args, os.Environ()); err != nil {
					return fmt.Errorf("re-exec: %w", err)
				}
			}
			slog.Info("shutting down", "signal", sig)
			cancel()
			return g.Wait()
		}
	}
}
