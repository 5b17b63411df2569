package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/user/coachchat/internal/session"
	"github.com/user/coachchat/internal/tui"
	"github.com/user/coachchat/internal/types"
)

func init() {
	rootCmd.AddCommand(chatCmd)
	chatCmd.Flags().String("style", "dark", "markdown style for replies (dark, light, notty)")
}

var chatCmd = &cobra.Command{
	Use:   "chat <challenge-id>",
	Short: "Open the interactive chat for a challenge",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		target, err := types.ParseTargetID(args[0])
		if err != nil {
			return fmt.Errorf("invalid challenge id %q", args[0])
		}
		cfg := loadConfig()

		// The screen belongs to the UI; logs go to a file.
		if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
			return fmt.Errorf("create data dir: %w", err)
		}
		logFile, err := os.OpenFile(filepath.Join(cfg.DataDir, "coachchat.log"), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
		if err != nil {
			return fmt.Errorf("open log file: %w", err)
		}
		defer logFile.Close()
		setupLogging(cfg, logFile)

		client, err := newClient(cfg)
		if err != nil {
			return err
		}
		sess := session.New(client, sessionOptions(cfg))
		defer sess.Dispose()

		ctx, cancel := context.WithCancel(cmd.Context())
		defer cancel()

		style, _ := cmd.Flags().GetString("style")
		model := tui.New(ctx, sess, target, tui.Options{MarkdownStyle: style})
		defer model.Close()

		p := tea.NewProgram(model, tea.WithAltScreen(), tea.WithMouseCellMotion(), tea.WithContext(ctx))
		if _, err := p.Run(); err != nil && ctx.Err() == nil {
			return fmt.Errorf("run chat: %w", err)
		}
		return nil
	},
}
