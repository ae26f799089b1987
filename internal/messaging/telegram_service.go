package messaging

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"
	"unicode/utf16"

	"github.com/BTreeMap/NutriPipe/internal/format"
	"github.com/BTreeMap/NutriPipe/internal/locales"
	"github.com/BTreeMap/NutriPipe/internal/models"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/google/uuid"
)

// Constants for TelegramService configuration
const (
	// DefaultChannelBufferSize defines the default buffer size for the events channel
	DefaultChannelBufferSize = 100
	// DefaultPollTimeout is the long-polling timeout in seconds
	DefaultPollTimeout = 60
	// MaxMessageLength is Telegram's limit on message text, in UTF-16 code units
	MaxMessageLength = 4096
	// MaxImageSize caps downloaded photos; Telegram bots cannot download files above 20MB anyway
	MaxImageSize = 20 << 20
)

// BotAPI is the subset of *tgbotapi.BotAPI used by TelegramService.
type BotAPI interface {
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	StopReceivingUpdates()
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
	GetFileDirectURL(fileID string) (string, error)
}

// TelegramOption configures a TelegramService.
type TelegramOption func(*TelegramService)

// WithHTTPClient sets the client used to download photos.
func WithHTTPClient(c *http.Client) TelegramOption {
	return func(s *TelegramService) {
		s.http = c
	}
}

// WithCatalogue sets the catalogue used for keyboard labels.
func WithCatalogue(c *locales.Catalogue) TelegramOption {
	return func(s *TelegramService) {
		s.texts = c
	}
}

// TelegramService implements Service with long polling through the Bot API.
type TelegramService struct {
	bot    BotAPI
	texts  *locales.Catalogue
	http   *http.Client
	events chan models.Event
	done   chan struct{}
	stop   sync.Once
}

// NewTelegramService creates a service wrapping the given bot.
func NewTelegramService(bot BotAPI, opts ...TelegramOption) *TelegramService {
	s := &TelegramService{
		bot:    bot,
		http:   &http.Client{Timeout: 30 * time.Second},
		events: make(chan models.Event, DefaultChannelBufferSize),
		done:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.texts == nil {
		s.texts = locales.Default()
	}
	return s
}

// Start begins long polling. Decoded events are delivered on Events.
func (s *TelegramService) Start(ctx context.Context) error {
	slog.Debug("TelegramService Start invoked")
	cfg := tgbotapi.NewUpdate(0)
	cfg.Timeout = DefaultPollTimeout
	cfg.AllowedUpdates = []string{"message"}
	updates := s.bot.GetUpdatesChan(cfg)

	go func() {
		defer close(s.events)
		for {
			select {
			case update, ok := <-updates:
				if !ok {
					slog.Debug("TelegramService updates channel closed")
					return
				}
				ev, ok := s.decodeUpdate(update)
				if !ok {
					continue
				}
				select {
				case s.events <- ev:
				case <-s.done:
					return
				case <-ctx.Done():
					return
				}
			case <-s.done:
				return
			case <-ctx.Done():
				slog.Debug("TelegramService stopping due to context cancellation")
				return
			}
		}
	}()

	slog.Info("TelegramService polling started")
	return nil
}

// Stop stops polling. The events channel is closed by the polling goroutine.
func (s *TelegramService) Stop() error {
	s.stop.Do(func() {
		slog.Info("TelegramService Stop invoked")
		s.bot.StopReceivingUpdates()
		close(s.done)
	})
	return nil
}

// Events returns a channel of decoded inbound events.
func (s *TelegramService) Events() <-chan models.Event {
	return s.events
}

// decodeUpdate turns a Telegram update into an event. Updates without a message
// are ignored.
func (s *TelegramService) decodeUpdate(u tgbotapi.Update) (models.Event, bool) {
	msg := u.Message
	if msg == nil || msg.Chat == nil {
		return models.Event{}, false
	}

	userID := msg.Chat.ID
	if msg.From != nil {
		userID = msg.From.ID
	}
	ev := models.Event{
		ID:      uuid.NewString(),
		UserID:  strconv.FormatInt(userID, 10),
		ReplyTo: strconv.FormatInt(msg.Chat.ID, 10),
		Kind:    models.EventKindText,
		Text:    msg.Text,
		Time:    msg.Time(),
	}

	switch {
	case msg.IsCommand():
		switch msg.Command() {
		case "start":
			ev.Kind, ev.Command = models.EventKindCommand, models.CommandStart
		case "help":
			ev.Kind, ev.Command = models.EventKindCommand, models.CommandHelp
		}
		// other slash commands stay text and reach the fallback
	case len(msg.Photo) > 0:
		ev.Kind = models.EventKindImage
		ev.FileID = msg.Photo[len(msg.Photo)-1].FileID
		ev.Text = msg.Caption
	default:
		if cmd, isBack, ok := s.texts.CommandForLabel(strings.TrimSpace(msg.Text)); ok {
			if isBack {
				ev.Kind = models.EventKindBack
			} else {
				ev.Kind, ev.Command = models.EventKindCommand, cmd
			}
		}
	}

	slog.Debug("TelegramService decoded update", "updateID", u.UpdateID, "userID", ev.UserID, "kind", ev.Kind)
	return ev, true
}

// SendReply sends one reply. Text over Telegram's message limit is split at line
// boundaries into several messages; the keyboard goes with the last one. If
// Telegram rejects the HTML of a part, that part is resent as plain text.
func (s *TelegramService) SendReply(ctx context.Context, to string, reply models.Reply) error {
	chatID, err := strconv.ParseInt(to, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid chat id %q: %w", to, err)
	}

	parts := splitMessage(reply.Text, MaxMessageLength)
	var errs []error
	for i, part := range parts {
		msg := tgbotapi.NewMessage(chatID, part)
		if reply.HTML {
			msg.ParseMode = tgbotapi.ModeHTML
		}
		if i == len(parts)-1 {
			if rows := s.texts.Keyboard(reply.Keyboard); rows != nil {
				msg.ReplyMarkup = replyKeyboard(rows)
			}
		}
		if err := s.send(msg, to); err != nil {
			errs = append(errs, err)
		}
	}
	if err := errors.Join(errs...); err != nil {
		slog.Error("TelegramService SendReply error", "error", err, "to", to, "parts", len(parts), "failed", len(errs))
		return err
	}
	slog.Debug("TelegramService reply sent", "to", to, "body_length", len(reply.Text), "parts", len(parts))
	return nil
}

func (s *TelegramService) send(msg tgbotapi.MessageConfig, to string) error {
	_, err := s.bot.Send(msg)
	if err != nil && msg.ParseMode == tgbotapi.ModeHTML {
		slog.Warn("TelegramService SendReply HTML rejected, resending as plain text", "error", err, "to", to)
		msg.ParseMode = ""
		msg.Text = format.PlainText(msg.Text)
		_, err = s.bot.Send(msg)
	}
	return err
}

// splitMessage cuts text into parts of at most limit UTF-16 code units, the unit
// Telegram measures in. Cuts fall on line ends where possible, so the HTML tags
// produced by format stay balanced; a single longer line is cut mid-line.
func splitMessage(text string, limit int) []string {
	if utf16Len(text) <= limit {
		return []string{text}
	}

	var parts []string
	var cur strings.Builder
	curLen := 0
	flush := func() {
		if part := strings.TrimRight(cur.String(), "\n"); strings.TrimSpace(part) != "" {
			parts = append(parts, part)
		}
		cur.Reset()
		curLen = 0
	}
	for _, line := range strings.SplitAfter(text, "\n") {
		n := utf16Len(line)
		if curLen+n > limit {
			flush()
		}
		for n > limit {
			head, rest := cutUTF16(line, limit)
			cur.WriteString(head)
			flush()
			line, n = rest, utf16Len(rest)
		}
		cur.WriteString(line)
		curLen += n
	}
	flush()
	return parts
}

func utf16Len(s string) int {
	n := 0
	for _, r := range s {
		n += runeUnits(r)
	}
	return n
}

// cutUTF16 returns the longest prefix of s within limit code units and the rest.
func cutUTF16(s string, limit int) (string, string) {
	n := 0
	for i, r := range s {
		u := runeUnits(r)
		if n+u > limit {
			return s[:i], s[i:]
		}
		n += u
	}
	return s, ""
}

func runeUnits(r rune) int {
	if u := utf16.RuneLen(r); u > 0 {
		return u
	}
	return 1
}

// NotifyProcessing shows the typing indicator.
func (s *TelegramService) NotifyProcessing(ctx context.Context, to string) error {
	chatID, err := strconv.ParseInt(to, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid chat id %q: %w", to, err)
	}
	_, err = s.bot.Request(tgbotapi.NewChatAction(chatID, tgbotapi.ChatTyping))
	return err
}

// FetchImage downloads a photo by file ID.
func (s *TelegramService) FetchImage(ctx context.Context, fileID string) ([]byte, error) {
	op := "fetch telegram file " + fileID
	url, err := s.bot.GetFileDirectURL(fileID)
	if err != nil {
		return nil, &models.IOError{Op: op, Cause: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, &models.IOError{Op: op, Cause: err}
	}
	resp, err := s.http.Do(req)
	if err != nil {
		return nil, &models.IOError{Op: op, Cause: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &models.IOError{Op: op, Cause: fmt.Errorf("unexpected status %d", resp.StatusCode)}
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, MaxImageSize+1))
	if err != nil {
		return nil, &models.IOError{Op: op, Cause: err}
	}
	if len(data) > MaxImageSize {
		return nil, &models.IOError{Op: op, Cause: errors.New("file too large")}
	}
	return data, nil
}

func replyKeyboard(rows [][]string) tgbotapi.ReplyKeyboardMarkup {
	buttons := make([][]tgbotapi.KeyboardButton, 0, len(rows))
	for _, row := range rows {
		r := make([]tgbotapi.KeyboardButton, 0, len(row))
		for _, label := range row {
			r = append(r, tgbotapi.NewKeyboardButton(label))
		}
		buttons = append(buttons, tgbotapi.NewKeyboardButtonRow(r...))
	}
	kb := tgbotapi.NewReplyKeyboard(buttons...)
	kb.ResizeKeyboard = true
	return kb
}
