package telegram

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"unicode/utf8"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/user/coachchat/internal/session"
	"github.com/user/coachchat/internal/types"
)

const (
	maxTelegramMessage = 4096
	// recentOnSwitch is how many messages are echoed after /challenge.
	recentOnSwitch = 4
)

const helpText = `Commands:
/challenge <id> - talk about a challenge
/older - show earlier messages
/clear - clear the conversation
/cancel - stop waiting for a reply
/status - show the current conversation`

// bot is the subset of the Bot API the adapter uses.
type bot interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	StopReceivingUpdates()
}

// Adapter bridges Telegram chats to assistant conversations. Each chat owns
// one session.Session; its transcript lives only as long as the adapter.
type Adapter struct {
	bot       bot
	transport types.Transport
	opts      session.Options

	mu    sync.Mutex
	chats map[int64]*session.Session
	wg    sync.WaitGroup
}

// New creates a Telegram adapter that reaches the assistant through transport.
func New(token string, transport types.Transport, opts session.Options) (*Adapter, error) {
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("create bot: %w", err)
	}
	return newAdapter(api, transport, opts), nil
}

func newAdapter(b bot, transport types.Transport, opts session.Options) *Adapter {
	return &Adapter{
		bot:       b,
		transport: transport,
		opts:      opts,
		chats:     make(map[int64]*session.Session),
	}
}

// Start long-polls for updates until ctx is done, then disposes every
// chat session.
func (a *Adapter) Start(ctx context.Context) {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 30

	updates := a.bot.GetUpdatesChan(u)
	defer a.shutdown()

	for {
		select {
		case update := <-updates:
			if update.Message == nil || update.Message.Text == "" {
				continue
			}
			a.handleMessage(ctx, update.Message)
		case <-ctx.Done():
			a.bot.StopReceivingUpdates()
			return
		}
	}
}

func (a *Adapter) shutdown() {
	a.mu.Lock()
	for id, s := range a.chats {
		s.Dispose()
		delete(a.chats, id)
	}
	a.mu.Unlock()
	a.wg.Wait()
}

func (a *Adapter) chat(chatID int64) *session.Session {
	a.mu.Lock()
	defer a.mu.Unlock()
	s, ok := a.chats[chatID]
	if !ok {
		s = session.New(a.transport, a.opts)
		a.chats[chatID] = s
	}
	return s
}

func (a *Adapter) handleMessage(ctx context.Context, msg *tgbotapi.Message) {
	if msg.IsCommand() {
		a.handleCommand(ctx, msg)
		return
	}

	chatID := msg.Chat.ID
	s := a.chat(chatID)
	if s.Snapshot().Target == 0 {
		a.sendResponse(chatID, "Pick a challenge first with /challenge <id>.")
		return
	}

	// Replies can take a while; keep reading updates so /cancel works.
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		if _, err := a.bot.Request(tgbotapi.NewChatAction(chatID, tgbotapi.ChatTyping)); err != nil {
			slog.Debug("chat action failed", "chat_id", chatID, "error", err)
		}
		res := s.Send(ctx, msg.Text)
		switch res.State {
		case types.SendResolved:
			a.sendResponse(chatID, res.Message.Content)
		case types.SendAborted:
			a.sendResponse(chatID, "Cancelled.")
		default:
			a.sendResponse(chatID, res.Error)
			s.DismissNotice()
		}
	}()
}

func (a *Adapter) handleCommand(ctx context.Context, msg *tgbotapi.Message) {
	chatID := msg.Chat.ID

	switch msg.Command() {
	case "start", "help":
		a.sendResponse(chatID, "Hello! I'm your coding coach. Pick a challenge to get started.\n\n"+helpText)

	case "challenge":
		target, err := types.ParseTargetID(msg.CommandArguments())
		if err != nil {
			a.sendResponse(chatID, "Usage: /challenge <id>")
			return
		}
		s := a.chat(chatID)
		if err := s.LoadLatest(ctx, target, nil); err != nil {
			a.reportNotice(chatID, s)
			return
		}
		snap := s.Snapshot()
		if len(snap.Messages) == 0 {
			a.sendResponse(chatID, fmt.Sprintf("Challenge %s: no messages yet. Ask away!", target))
			return
		}
		recent := snap.Messages[max(0, len(snap.Messages)-recentOnSwitch):]
		a.sendResponse(chatID, fmt.Sprintf("Challenge %s, latest messages:\n\n%s", target, renderMessages(recent)))

	case "older":
		s := a.chat(chatID)
		before := s.Snapshot()
		if before.Page != session.PageLoaded {
			a.sendResponse(chatID, "No earlier messages.")
			return
		}
		if err := s.LoadOlder(ctx); err != nil {
			a.reportNotice(chatID, s)
			return
		}
		added := prepended(before.Messages, s.Snapshot().Messages)
		if len(added) == 0 {
			a.sendResponse(chatID, "No earlier messages.")
			return
		}
		a.sendResponse(chatID, renderMessages(added))

	case "clear":
		s := a.chat(chatID)
		if s.Snapshot().Target == 0 {
			a.sendResponse(chatID, "No conversation to clear.")
			return
		}
		if err := s.Clear(ctx); err != nil {
			a.reportNotice(chatID, s)
			return
		}
		if s.Snapshot().Notice != nil {
			a.reportNotice(chatID, s)
			return
		}
		a.sendResponse(chatID, "Conversation cleared.")

	case "cancel":
		a.chat(chatID).CancelSend()

	case "status":
		snap := a.chat(chatID).Snapshot()
		if snap.Target == 0 {
			a.sendResponse(chatID, "No challenge selected.")
			return
		}
		a.sendResponse(chatID, fmt.Sprintf("Challenge: %s\nThread: %s\nMessages loaded: %d\nHistory: %s",
			snap.Target, snap.ThreadID, len(snap.Messages), snap.Page))

	default:
		a.sendResponse(chatID, "Unknown command.\n\n"+helpText)
	}
}

// prepended returns the messages of after that sort ahead of everything in
// before. Sends finishing meanwhile may add or drop rows at the tail, so the
// page is found by id rather than by count.
func prepended(before, after []types.Message) []types.Message {
	known := make(map[string]bool, len(before))
	for _, m := range before {
		known[m.ID] = true
	}
	var out []types.Message
	for _, m := range after {
		if known[m.ID] {
			break
		}
		if m.Pending || types.IsLocalID(m.ID) {
			continue
		}
		if len(before) > 0 && m.SortKey() > before[0].SortKey() {
			continue
		}
		out = append(out, m)
	}
	return out
}

// reportNotice relays the session's pending notice, if any, and dismisses it.
func (a *Adapter) reportNotice(chatID int64, s *session.Session) {
	n := s.Snapshot().Notice
	if n == nil {
		return
	}
	a.sendResponse(chatID, n.Text)
	s.DismissNotice()
}

func renderMessages(msgs []types.Message) string {
	var b strings.Builder
	for i, m := range msgs {
		if i > 0 {
			b.WriteString("\n\n")
		}
		who := "You"
		if m.Role == types.RoleAssistant {
			who = "Coach"
		}
		b.WriteString(who + ": " + m.Content)
	}
	return b.String()
}

func (a *Adapter) sendResponse(chatID int64, text string) {
	for _, part := range splitMessage(text) {
		msg := tgbotapi.NewMessage(chatID, part)
		msg.ParseMode = tgbotapi.ModeMarkdown
		if _, err := a.bot.Send(msg); err != nil {
			// Retry without markdown if it fails
			msg.ParseMode = ""
			if _, err := a.bot.Send(msg); err != nil {
				slog.Error("send message failed", "chat_id", chatID, "error", err)
			}
		}
	}
}

// splitMessage cuts text into chunks Telegram accepts, never inside a rune.
func splitMessage(text string) []string {
	if len(text) <= maxTelegramMessage {
		return []string{text}
	}
	var parts []string
	for len(text) > 0 {
		end := min(maxTelegramMessage, len(text))
		for end < len(text) && end > 0 && !utf8.RuneStart(text[end]) {
			end--
		}
		parts = append(parts, text[:end])
		text = text[end:]
	}
	return parts
}
