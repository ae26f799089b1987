package messaging

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/BTreeMap/NutriPipe/internal/models"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// mockBot implements BotAPI for testing.
type mockBot struct {
	mu       sync.Mutex
	updates  chan tgbotapi.Update
	sent     []tgbotapi.MessageConfig
	requests []tgbotapi.Chattable
	sendErrs []error
	fileURL  string
	stopped  bool
	// maxLen rejects longer texts the way Telegram does, when set
	maxLen    int
	delivered []tgbotapi.MessageConfig
}

func newMockBot() *mockBot {
	return &mockBot{updates: make(chan tgbotapi.Update, 10)}
}

func (b *mockBot) GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel {
	return b.updates
}

func (b *mockBot) StopReceivingUpdates() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.stopped = true
}

func (b *mockBot) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if msg, ok := c.(tgbotapi.MessageConfig); ok {
		b.sent = append(b.sent, msg)
	}
	if len(b.sendErrs) > 0 {
		err := b.sendErrs[0]
		b.sendErrs = b.sendErrs[1:]
		return tgbotapi.Message{}, err
	}
	if msg, ok := c.(tgbotapi.MessageConfig); ok {
		if b.maxLen > 0 && utf16Len(msg.Text) > b.maxLen {
			return tgbotapi.Message{}, errors.New("Bad Request: message is too long")
		}
		b.delivered = append(b.delivered, msg)
	}
	return tgbotapi.Message{}, nil
}

func (b *mockBot) deliveredTexts() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	texts := make([]string, 0, len(b.delivered))
	for _, msg := range b.delivered {
		texts = append(texts, msg.Text)
	}
	return texts
}

func (b *mockBot) Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.requests = append(b.requests, c)
	return &tgbotapi.APIResponse{Ok: true}, nil
}

func (b *mockBot) GetFileDirectURL(fileID string) (string, error) {
	if b.fileURL == "" {
		return "", errors.New("file not found")
	}
	return b.fileURL + "/" + fileID, nil
}

func textUpdate(userID int64, text string) tgbotapi.Update {
	return tgbotapi.Update{
		UpdateID: 1,
		Message: &tgbotapi.Message{
			From: &tgbotapi.User{ID: userID},
			Chat: &tgbotapi.Chat{ID: userID + 1000},
			Date: 1700000000,
			Text: text,
		},
	}
}

func commandUpdate(userID int64, command string) tgbotapi.Update {
	u := textUpdate(userID, command)
	u.Message.Entities = []tgbotapi.MessageEntity{{Type: "bot_command", Offset: 0, Length: len(command)}}
	return u
}

func TestDecodeUpdate(t *testing.T) {
	s := NewTelegramService(newMockBot())

	photo := textUpdate(7, "")
	photo.Message.Caption = "my lunch"
	photo.Message.Photo = []tgbotapi.PhotoSize{{FileID: "small"}, {FileID: "large"}}

	tests := []struct {
		name     string
		update   tgbotapi.Update
		wantKind models.EventKind
		wantCmd  models.Command
		wantText string
		wantFile string
	}{
		{"start command", commandUpdate(7, "/start"), models.EventKindCommand, models.CommandStart, "/start", ""},
		{"help command", commandUpdate(7, "/help"), models.EventKindCommand, models.CommandHelp, "/help", ""},
		{"unknown command", commandUpdate(7, "/menu"), models.EventKindText, "", "/menu", ""},
		{"recipe button", textUpdate(7, "🍳 Найти рецепт"), models.EventKindCommand, models.CommandFindRecipe, "🍳 Найти рецепт", ""},
		{"help button", textUpdate(7, "ℹ️ Помощь"), models.EventKindCommand, models.CommandHelp, "ℹ️ Помощь", ""},
		{"back button", textUpdate(7, "◀️ Назад"), models.EventKindBack, "", "◀️ Назад", ""},
		{"free text", textUpdate(7, "борщ"), models.EventKindText, "", "борщ", ""},
		{"photo", photo, models.EventKindImage, "", "my lunch", "large"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev, ok := s.decodeUpdate(tt.update)
			if !ok {
				t.Fatal("expected update to decode")
			}
			if ev.Kind != tt.wantKind || ev.Command != tt.wantCmd || ev.Text != tt.wantText || ev.FileID != tt.wantFile {
				t.Errorf("decoded %+v", ev)
			}
			if ev.UserID != "7" || ev.ReplyTo != "1007" {
				t.Errorf("unexpected addressing: user=%s replyTo=%s", ev.UserID, ev.ReplyTo)
			}
			if ev.ID == "" {
				t.Error("expected event ID")
			}
		})
	}

	if _, ok := s.decodeUpdate(tgbotapi.Update{UpdateID: 2}); ok {
		t.Error("update without message should be ignored")
	}
}

func TestStartDeliversEvents(t *testing.T) {
	bot := newMockBot()
	s := NewTelegramService(bot)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := s.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	bot.updates <- textUpdate(1, "hello")

	select {
	case ev := <-s.Events():
		if ev.Text != "hello" {
			t.Errorf("event text = %q", ev.Text)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}

	s.Stop()
	select {
	case _, ok := <-s.Events():
		if ok {
			t.Error("expected events channel to be closed after Stop")
		}
	case <-time.After(time.Second):
		t.Fatal("events channel not closed after Stop")
	}
	if !bot.stopped {
		t.Error("expected StopReceivingUpdates to be called")
	}
}

func TestSendReply(t *testing.T) {
	bot := newMockBot()
	s := NewTelegramService(bot)

	err := s.SendReply(context.Background(), "42", models.Reply{Text: "<b>hi</b>", HTML: true, Keyboard: models.KeyboardMain})
	if err != nil {
		t.Fatalf("SendReply: %v", err)
	}
	if len(bot.sent) != 1 {
		t.Fatalf("expected one message, got %d", len(bot.sent))
	}
	msg := bot.sent[0]
	if msg.ChatID != 42 || msg.ParseMode != tgbotapi.ModeHTML || msg.Text != "<b>hi</b>" {
		t.Errorf("unexpected message: %+v", msg)
	}
	kb, ok := msg.ReplyMarkup.(tgbotapi.ReplyKeyboardMarkup)
	if !ok {
		t.Fatalf("expected reply keyboard, got %T", msg.ReplyMarkup)
	}
	if len(kb.Keyboard) != 2 || kb.Keyboard[0][0].Text != "🍳 Найти рецепт" || !kb.ResizeKeyboard {
		t.Errorf("unexpected keyboard: %+v", kb)
	}
}

func TestSendReplyFallsBackToPlainText(t *testing.T) {
	bot := newMockBot()
	bot.sendErrs = []error{errors.New("Bad Request: can't parse entities")}
	s := NewTelegramService(bot)

	err := s.SendReply(context.Background(), "42", models.Reply{Text: "<b>Fish &amp; Chips</b>", HTML: true})
	if err != nil {
		t.Fatalf("SendReply: %v", err)
	}
	if len(bot.sent) != 2 {
		t.Fatalf("expected a retry, got %d sends", len(bot.sent))
	}
	retry := bot.sent[1]
	if retry.ParseMode != "" || retry.Text != "Fish & Chips" {
		t.Errorf("unexpected retry: %+v", retry)
	}
}

func TestSendReplySplitsLongText(t *testing.T) {
	bot := newMockBot()
	bot.maxLen = MaxMessageLength
	s := NewTelegramService(bot)

	line := "<b>шаг</b> " + strings.Repeat("перемешать ", 40) + "\n"
	long := strings.Repeat(line, 30)
	if utf16Len(long) <= MaxMessageLength {
		t.Fatalf("test text too short: %d", utf16Len(long))
	}

	err := s.SendReply(context.Background(), "42", models.Reply{Text: long, HTML: true, Keyboard: models.KeyboardBack})
	if err != nil {
		t.Fatalf("SendReply: %v", err)
	}
	if len(bot.delivered) < 2 {
		t.Fatalf("expected the text to be split, got %d messages", len(bot.delivered))
	}
	var joined strings.Builder
	for i, msg := range bot.delivered {
		if n := utf16Len(msg.Text); n > MaxMessageLength {
			t.Errorf("part %d has %d units", i, n)
		}
		if strings.Count(msg.Text, "<b>") != strings.Count(msg.Text, "</b>") {
			t.Errorf("part %d splits a tag: %q", i, msg.Text)
		}
		if last := i == len(bot.delivered)-1; (msg.ReplyMarkup != nil) != last {
			t.Errorf("part %d keyboard = %v, want keyboard only on the last part", i, msg.ReplyMarkup)
		}
		joined.WriteString(msg.Text)
		joined.WriteString("\n")
	}
	if got, want := strings.Count(joined.String(), "перемешать"), 40*30; got != want {
		t.Errorf("words delivered = %d, want %d", got, want)
	}
}

func TestSplitMessage(t *testing.T) {
	tests := []struct {
		name  string
		text  string
		limit int
		want  []string
	}{
		{"fits", "a\nb", 10, []string{"a\nb"}},
		{"line boundaries", "aaa\nbbb\nccc", 8, []string{"aaa\nbbb", "ccc"}},
		{"long line is cut", "abcdefghij", 4, []string{"abcd", "efgh", "ij"}},
		{"surrogate pairs count twice", "🍳🍳🍳", 4, []string{"🍳🍳", "🍳"}},
		{"blank parts dropped", "aaaa\n\n\nbbbb", 5, []string{"aaaa", "bbbb"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := splitMessage(tt.text, tt.limit)
			if strings.Join(got, "|") != strings.Join(tt.want, "|") {
				t.Errorf("splitMessage(%q, %d) = %q, want %q", tt.text, tt.limit, got, tt.want)
			}
		})
	}
}

func TestSendReplyInvalidChatID(t *testing.T) {
	s := NewTelegramService(newMockBot())
	if err := s.SendReply(context.Background(), "not-a-number", models.Reply{Text: "x"}); err == nil {
		t.Fatal("expected error for invalid chat id")
	}
}

func TestNotifyProcessingSendsTyping(t *testing.T) {
	bot := newMockBot()
	s := NewTelegramService(bot)
	if err := s.NotifyProcessing(context.Background(), "42"); err != nil {
		t.Fatalf("NotifyProcessing: %v", err)
	}
	action, ok := bot.requests[0].(tgbotapi.ChatActionConfig)
	if !ok || action.Action != tgbotapi.ChatTyping {
		t.Errorf("unexpected request: %+v", bot.requests[0])
	}
}

func TestFetchImage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/missing" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Write([]byte("jpeg-bytes"))
	}))
	defer srv.Close()

	bot := newMockBot()
	bot.fileURL = srv.URL
	s := NewTelegramService(bot, WithHTTPClient(srv.Client()))

	data, err := s.FetchImage(context.Background(), "photo")
	if err != nil {
		t.Fatalf("FetchImage: %v", err)
	}
	if string(data) != "jpeg-bytes" {
		t.Errorf("data = %q", data)
	}

	if _, err := s.FetchImage(context.Background(), "missing"); !errors.Is(err, models.ErrImageIO) {
		t.Errorf("expected ErrImageIO for 404, got %v", err)
	}

	bot.fileURL = ""
	if _, err := s.FetchImage(context.Background(), "photo"); !errors.Is(err, models.ErrImageIO) {
		t.Errorf("expected ErrImageIO when file lookup fails, got %v", err)
	}
}
