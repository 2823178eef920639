package notifier

import (
	"context"
	"errors"
	"fmt"
	"strings"

	tele "gopkg.in/telebot.v4"

	"taskflow/internal/automation"
	"taskflow/pkg/logx"
)

// ErrNoRoute marks a notification no sender can deliver. It is not retried.
var ErrNoRoute = errors.New("no route for recipient")

// Sender delivers one notification.
type Sender interface {
	Send(ctx context.Context, n automation.Notification) error
}

// LogSender writes notifications to the log.
type LogSender struct {
	Log logx.Logger
}

func (s LogSender) Send(_ context.Context, n automation.Notification) error {
	if n.UserID == "" {
		return fmt.Errorf("empty user id: %w", ErrNoRoute)
	}
	s.Log.Info("notification",
		logx.String("user", n.UserID),
		logx.String("type", n.Type),
		logx.String("task", n.TaskID),
		logx.String("rule", n.RuleID),
		logx.String("message", n.Message))
	return nil
}

// Multi sends through every sender and joins their errors. The result is
// ErrNoRoute only when every sender reported it.
type Multi []Sender

func (m Multi) Send(ctx context.Context, n automation.Notification) error {
	var (
		errs    []error
		noRoute int
	)
	for _, s := range m {
		if err := s.Send(ctx, n); err != nil {
			if errors.Is(err, ErrNoRoute) {
				noRoute++
				continue
			}
			errs = append(errs, err)
		}
	}
	if len(m) > 0 && noRoute == len(m) {
		return fmt.Errorf("user %q: %w", n.UserID, ErrNoRoute)
	}
	return errors.Join(errs...)
}

// TelegramConfig configures TelegramSender.
type TelegramConfig struct {
	Token string
	// APIURL overrides the Bot API endpoint.
	APIURL string
	// Chats maps user ids to Telegram chat ids.
	Chats map[string]int64
	// DefaultChat receives notifications for unmapped users. 0 drops them.
	DefaultChat int64
	ThreadID    int
}

// TelegramSender delivers notifications as Telegram messages.
type TelegramSender struct {
	bot *tele.Bot
	cfg TelegramConfig
}

func NewTelegramSender(cfg TelegramConfig) (*TelegramSender, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	b, err := tele.NewBot(tele.Settings{
		Token:   cfg.Token,
		URL:     cfg.APIURL,
		Offline: true,
	})
	if err != nil {
		return nil, err
	}
	return &TelegramSender{bot: b, cfg: cfg}, nil
}

func (s *TelegramSender) chatFor(userID string) int64 {
	if id, ok := s.cfg.Chats[userID]; ok {
		return id
	}
	return s.cfg.DefaultChat
}

func (s *TelegramSender) Send(_ context.Context, n automation.Notification) error {
	chatID := s.chatFor(n.UserID)
	if chatID == 0 {
		return fmt.Errorf("telegram chat for %q: %w", n.UserID, ErrNoRoute)
	}
	_, err := s.bot.Send(&tele.Chat{ID: chatID}, formatTelegram(n), &tele.SendOptions{
		DisableWebPagePreview: true,
		ThreadID:              s.cfg.ThreadID,
	})
	return err
}

func formatTelegram(n automation.Notification) string {
	var b strings.Builder
	b.WriteString(n.Message)
	if n.TaskID != "" {
		b.WriteString("\ntask: ")
		b.WriteString(n.TaskID)
	}
	if n.UserID != "" {
		b.WriteString("\nfor: ")
		b.WriteString(n.UserID)
	}
	return b.String()
}
