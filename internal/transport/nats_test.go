package transport

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/BTreeMap/NutriPipe/internal/flow"
	"github.com/BTreeMap/NutriPipe/internal/models"
)

type fakeDispatcher struct {
	got []models.Event
	res *flow.Result
	err error
}

func (f *fakeDispatcher) Do(ctx context.Context, ev models.Event) (*flow.Result, error) {
	f.got = append(f.got, ev)
	if f.err != nil {
		return nil, f.err
	}
	if f.res != nil {
		return f.res, nil
	}
	return &flow.Result{
		UserID:  ev.UserID,
		State:   models.StateMainMenu,
		Replies: []models.Reply{{Text: "<b>Привет</b> &amp; пока", Keyboard: models.KeyboardMain, HTML: true}},
		Handler: "start",
	}, nil
}

func TestHandleRequestDispatchesEvent(t *testing.T) {
	d := &fakeDispatcher{}
	resp := handleRequest(context.Background(), d, []byte(`{"user_id":"42","kind":"command","command":"start"}`))

	if resp.Error != nil {
		t.Fatalf("unexpected error response: %+v", resp.Error)
	}
	if len(d.got) != 1 {
		t.Fatalf("expected 1 dispatched event, got %d", len(d.got))
	}
	ev := d.got[0]
	if ev.ID == "" || ev.Time.IsZero() {
		t.Errorf("expected ID and Time to be filled in, got %+v", ev)
	}
	if ev.Command != models.CommandStart {
		t.Errorf("Command = %q, want start", ev.Command)
	}
	if resp.UserID != "42" || resp.State != models.StateMainMenu {
		t.Errorf("unexpected response %+v", resp)
	}
	if len(resp.Replies) != 1 || !resp.Replies[0].HTML {
		t.Errorf("expected the HTML reply unchanged, got %+v", resp.Replies)
	}
}

func TestHandleRequestPlainText(t *testing.T) {
	d := &fakeDispatcher{}
	resp := handleRequest(context.Background(), d, []byte(`{"user_id":"42","kind":"command","command":"start","plain_text":true}`))

	if len(resp.Replies) != 1 {
		t.Fatalf("expected 1 reply, got %d", len(resp.Replies))
	}
	r := resp.Replies[0]
	if r.HTML {
		t.Error("plain text reply should not be marked HTML")
	}
	if r.Text != "Привет & пока" {
		t.Errorf("Text = %q", r.Text)
	}
	if r.Keyboard != models.KeyboardMain {
		t.Errorf("Keyboard = %q, want main", r.Keyboard)
	}
}

func TestHandleRequestErrors(t *testing.T) {
	tests := []struct {
		name     string
		body     string
		err      error
		wantCode string
		wantUser string
	}{
		{"malformed json", `{"user_id":`, nil, ErrorCodeParse, ""},
		{"missing user", `{"kind":"text","text":"x"}`, nil, ErrorCodeInvalid, ""},
		{"unknown command", `{"user_id":"7","kind":"command","command":"dance"}`, nil, ErrorCodeInvalid, "7"},
		{"dispatch failure", `{"user_id":"7","kind":"text","text":"x"}`, errors.New("boom"), ErrorCodeInternal, "7"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := &fakeDispatcher{err: tt.err}
			resp := handleRequest(context.Background(), d, []byte(tt.body))
			if resp.Error == nil {
				t.Fatal("expected an error response")
			}
			if resp.Error.Code != tt.wantCode {
				t.Errorf("Code = %q, want %q", resp.Error.Code, tt.wantCode)
			}
			if resp.UserID != tt.wantUser {
				t.Errorf("UserID = %q, want %q", resp.UserID, tt.wantUser)
			}
			if resp.Replies == nil {
				t.Error("Replies should encode as an empty list")
			}
		})
	}
}

func TestNewNATSTransportRequiresURL(t *testing.T) {
	_, err := NewNATSTransport("", &fakeDispatcher{})
	var cerr *models.ConfigError
	if !errors.As(err, &cerr) {
		t.Fatalf("expected ConfigError, got %v", err)
	}
}

func TestNATSTransportRoundTrip(t *testing.T) {
	url := os.Getenv("NATS_URL")
	if url == "" {
		t.Skip("NATS_URL not set; skipping NATS round trip test")
	}
	subject := "nutripipe.test." + time.Now().Format("150405.000000")
	nt, err := NewNATSTransport(url, &fakeDispatcher{}, WithSubject(subject))
	if err != nil {
		t.Fatalf("NewNATSTransport failed: %v", err)
	}
	defer nt.Close()
	if err := nt.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	nc, err := nats.Connect(url)
	if err != nil {
		t.Fatalf("client connect failed: %v", err)
	}
	defer nc.Close()

	msg, err := nc.Request(subject, []byte(`{"user_id":"42","kind":"text","text":"борщ"}`), 5*time.Second)
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	var resp Response
	if err := json.Unmarshal(msg.Data, &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.UserID != "42" || len(resp.Replies) != 1 {
		t.Errorf("unexpected response %+v", resp)
	}
}
