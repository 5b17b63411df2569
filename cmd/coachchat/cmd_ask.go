package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/user/coachchat/internal/errnorm"
	"github.com/user/coachchat/internal/session"
	"github.com/user/coachchat/internal/types"
)

func init() {
	rootCmd.AddCommand(askCmd, historyCmd, clearCmd)
	historyCmd.Flags().Bool("all", false, "page back to the start of the conversation")
}

// openSession loads the latest history of the challenge named by arg.
func openSession(ctx context.Context, arg string) (*session.Session, types.TargetID, error) {
	target, err := types.ParseTargetID(arg)
	if err != nil {
		return nil, 0, fmt.Errorf("invalid challenge id %q", arg)
	}
	cfg := loadConfig()
	setupLogging(cfg, os.Stderr)

	client, err := newClient(cfg)
	if err != nil {
		return nil, 0, err
	}
	sess := session.New(client, sessionOptions(cfg))
	if err := sess.LoadLatest(ctx, target, nil); err != nil {
		sess.Dispose()
		return nil, 0, errors.New(errnorm.Message(err))
	}
	return sess, target, nil
}

func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
}

var askCmd = &cobra.Command{
	Use:   "ask <challenge-id> <message...>",
	Short: "Send one message and print the reply",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := signalContext(cmd.Context())
		defer cancel()

		sess, _, err := openSession(ctx, args[0])
		if err != nil {
			return err
		}
		defer sess.Dispose()

		res := sess.Send(ctx, strings.Join(args[1:], " "))
		switch res.State {
		case types.SendResolved:
			fmt.Fprintln(os.Stdout, res.Message.Content)
			return nil
		case types.SendAborted:
			return errors.New(errnorm.AbortedMessage)
		default:
			return errors.New(res.Error)
		}
	},
}

var historyCmd = &cobra.Command{
	Use:   "history <challenge-id>",
	Short: "Print the conversation for a challenge",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := signalContext(cmd.Context())
		defer cancel()

		sess, target, err := openSession(ctx, args[0])
		if err != nil {
			return err
		}
		defer sess.Dispose()

		if all, _ := cmd.Flags().GetBool("all"); all {
			for sess.Snapshot().Page == session.PageLoaded {
				if err := sess.LoadOlder(ctx); err != nil {
					return errors.New(errnorm.Message(err))
				}
			}
		}

		snap := sess.Snapshot()
		if len(snap.Messages) == 0 {
			fmt.Fprintf(os.Stdout, "No messages for challenge %s.\n", target)
			return nil
		}
		for _, m := range snap.Messages {
			who := "You"
			if m.Role == types.RoleAssistant {
				who = "Coach"
			}
			fmt.Fprintf(os.Stdout, "[%s] %s:\n%s\n\n", m.CreatedAt, who, m.Content)
		}
		if snap.Page == session.PageLoaded {
			fmt.Fprintln(os.Stdout, "(older messages available, use --all)")
		}
		return nil
	},
}

var clearCmd = &cobra.Command{
	Use:   "clear <challenge-id>",
	Short: "Clear the conversation for a challenge",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := signalContext(cmd.Context())
		defer cancel()

		sess, target, err := openSession(ctx, args[0])
		if err != nil {
			return err
		}
		defer sess.Dispose()

		if err := sess.Clear(ctx); err != nil {
			return errors.New(errnorm.Message(err))
		}
		if n := sess.Snapshot().Notice; n != nil {
			return errors.New(n.Text)
		}
		fmt.Fprintf(os.Stdout, "Conversation for challenge %s cleared.\n", target)
		return nil
	},
}
