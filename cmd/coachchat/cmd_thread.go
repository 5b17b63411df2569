package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/user/coachchat/internal/state"
	"github.com/user/coachchat/internal/types"
)

func init() {
	rootCmd.AddCommand(threadCmd)
	threadCmd.AddCommand(threadListCmd, threadClearCmd)
}

var threadCmd = &cobra.Command{
	Use:   "thread",
	Short: "Inspect the server's stored conversations",
}

var threadListCmd = &cobra.Command{
	Use:   "list",
	Short: "List all threads",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := loadConfig()
		threads, closeThreads, err := openThreadStore(cfg)
		if err != nil {
			return err
		}
		defer closeThreads()
		messages := state.NewMessageLog(cfg.DataDir)

		ctx := context.Background()
		list, err := threads.List(ctx)
		if err != nil {
			return fmt.Errorf("list threads: %w", err)
		}
		if len(list) == 0 {
			fmt.Println("No threads found.")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tCHALLENGE\tMESSAGES\tUPDATED")
		for _, th := range list {
			count, err := messages.Count(ctx, th.ThreadID)
			if err != nil {
				count = 0
			}
			fmt.Fprintf(w, "%s\t%s\t%d\t%s\n",
				th.ThreadID,
				th.ChallengeID,
				count,
				th.UpdatedAt.Format("2006-01-02 15:04:05"),
			)
		}
		return w.Flush()
	},
}

var threadClearCmd = &cobra.Command{
	Use:   "clear <thread-id>",
	Short: "Hide every message of a thread",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := loadConfig()
		threads, closeThreads, err := openThreadStore(cfg)
		if err != nil {
			return err
		}
		defer closeThreads()
		messages := state.NewMessageLog(cfg.DataDir)

		ctx := context.Background()
		th, err := threads.Get(ctx, types.ThreadID(args[0]))
		if err != nil {
			return err
		}
		n, err := messages.Clear(ctx, th.ThreadID)
		if err != nil {
			return fmt.Errorf("clear thread: %w", err)
		}
		th.ClearedAt = time.Now().UTC()
		if err := threads.Update(ctx, th); err != nil {
			return fmt.Errorf("update thread: %w", err)
		}
		fmt.Printf("Cleared %d messages from thread %s.\n", n, th.ThreadID)
		return nil
	},
}
