// Package transport exposes the flow controller over NATS request/reply.
package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"

	"github.com/BTreeMap/NutriPipe/internal/flow"
	"github.com/BTreeMap/NutriPipe/internal/format"
	"github.com/BTreeMap/NutriPipe/internal/models"
	"github.com/BTreeMap/NutriPipe/internal/util"
)

// Constants for NATS transport defaults
const (
	DefaultSubject        = "nutripipe.events"
	DefaultConnectTimeout = 5 * time.Second
	DefaultRequestTimeout = 30 * time.Second
	DefaultClientName     = "nutripipe"
)

// Error codes carried in Response.Error.
const (
	ErrorCodeParse    = "parse_error"
	ErrorCodeInvalid  = "invalid_event"
	ErrorCodeInternal = "internal_error"
)

// Dispatcher runs one event and waits for its result. *messaging.Dispatcher implements it.
type Dispatcher interface {
	Do(ctx context.Context, ev models.Event) (*flow.Result, error)
}

// InboundEvent is the JSON request body. PlainText asks for replies with the
// HTML markup stripped.
type InboundEvent struct {
	models.Event
	PlainText bool `json:"plain_text,omitempty"`
}

// Response is the JSON reply body.
type Response struct {
	UserID  string           `json:"user_id"`
	State   models.StateType `json:"state,omitempty"`
	Replies []models.Reply   `json:"replies"`
	Error   *ResponseError   `json:"error,omitempty"`
}

// ResponseError describes why a request produced no replies.
type ResponseError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Opts holds configuration options for the NATS transport.
type Opts struct {
	URL            string
	Subject        string
	Name           string
	ConnectTimeout time.Duration
	RequestTimeout time.Duration
}

// Option defines a configuration option for the NATS transport.
type Option func(*Opts)

// WithSubject sets the request subject.
func WithSubject(subject string) Option {
	return func(o *Opts) {
		o.Subject = subject
	}
}

// WithClientName sets the connection name reported to the server.
func WithClientName(name string) Option {
	return func(o *Opts) {
		o.Name = name
	}
}

// WithRequestTimeout bounds the handling of a single request.
func WithRequestTimeout(d time.Duration) Option {
	return func(o *Opts) {
		o.RequestTimeout = d
	}
}

// WithConnectTimeout bounds the initial connection.
func WithConnectTimeout(d time.Duration) Option {
	return func(o *Opts) {
		o.ConnectTimeout = d
	}
}

// NATSTransport serves flow events received on a NATS subject.
type NATSTransport struct {
	conn       *nats.Conn
	sub        *nats.Subscription
	opts       Opts
	dispatcher Dispatcher
}

// NewNATSTransport connects to the server at url. Reconnects are unbounded.
func NewNATSTransport(url string, dispatcher Dispatcher, opts ...Option) (*NATSTransport, error) {
	cfg := Opts{
		URL:            url,
		Subject:        DefaultSubject,
		Name:           DefaultClientName,
		ConnectTimeout: DefaultConnectTimeout,
		RequestTimeout: DefaultRequestTimeout,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.URL == "" {
		return nil, &models.ConfigError{Key: "NATS_URL", Reason: "is empty"}
	}

	conn, err := nats.Connect(cfg.URL,
		nats.Name(cfg.Name),
		nats.Timeout(cfg.ConnectTimeout),
		nats.ReconnectWait(2*time.Second),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				slog.Warn("NATSTransport disconnected", "error", err)
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			slog.Info("NATSTransport reconnected", "url", c.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	slog.Info("NATSTransport connected", "url", conn.ConnectedUrl(), "subject", cfg.Subject)

	return &NATSTransport{conn: conn, opts: cfg, dispatcher: dispatcher}, nil
}

// Start subscribes to the request subject. Requests are handled on the
// subscription's goroutine; per-user ordering is left to the dispatcher.
func (nt *NATSTransport) Start() error {
	sub, err := nt.conn.Subscribe(nt.opts.Subject, nt.handleMsg)
	if err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", nt.opts.Subject, err)
	}
	nt.sub = sub
	slog.Info("NATSTransport subscribed", "subject", nt.opts.Subject)
	return nil
}

func (nt *NATSTransport) handleMsg(msg *nats.Msg) {
	ctx, cancel := context.WithTimeout(context.Background(), nt.opts.RequestTimeout)
	defer cancel()

	resp := handleRequest(ctx, nt.dispatcher, msg.Data)
	data, err := json.Marshal(resp)
	if err != nil {
		slog.Error("NATSTransport failed to marshal response", "error", err, "userID", resp.UserID)
		return
	}
	if msg.Reply == "" {
		slog.Debug("NATSTransport request has no reply subject", "userID", resp.UserID)
		return
	}
	if err := msg.Respond(data); err != nil {
		slog.Error("NATSTransport failed to respond", "error", err, "userID", resp.UserID)
	}
}

// handleRequest decodes, validates and dispatches one request body.
func handleRequest(ctx context.Context, d Dispatcher, data []byte) *Response {
	var in InboundEvent
	if err := json.Unmarshal(data, &in); err != nil {
		slog.Warn("NATSTransport invalid request body", "error", err)
		return errorResponse("", ErrorCodeParse, "invalid request format")
	}
	ev := in.Event
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if ev.Time.IsZero() {
		ev.Time = time.Now()
	}
	if err := util.ValidateEvent(&ev); err != nil {
		return errorResponse(ev.UserID, ErrorCodeInvalid, err.Error())
	}

	res, err := d.Do(ctx, ev)
	if err != nil {
		slog.Error("NATSTransport failed to dispatch event", "error", err, "userID", ev.UserID)
		code := ErrorCodeInternal
		var verr *models.ValidationError
		if errors.As(err, &verr) {
			code = ErrorCodeInvalid
		}
		return errorResponse(ev.UserID, code, "event could not be processed")
	}

	replies := res.Replies
	if in.PlainText {
		replies = make([]models.Reply, len(res.Replies))
		for i, r := range res.Replies {
			replies[i] = models.Reply{Text: format.PlainText(r.Text), Keyboard: r.Keyboard}
		}
	}
	if replies == nil {
		replies = []models.Reply{}
	}
	slog.Debug("NATSTransport handled event", "userID", ev.UserID, "handler", res.Handler, "state", res.State)
	return &Response{UserID: res.UserID, State: res.State, Replies: replies}
}

func errorResponse(userID, code, message string) *Response {
	return &Response{
		UserID:  userID,
		Replies: []models.Reply{},
		Error:   &ResponseError{Code: code, Message: message},
	}
}

// Close drains pending requests and closes the connection.
func (nt *NATSTransport) Close() error {
	if nt.conn == nil {
		return nil
	}
	if err := nt.conn.Drain(); err != nil {
		nt.conn.Close()
		return fmt.Errorf("failed to drain NATS connection: %w", err)
	}
	slog.Info("NATSTransport connection closed")
	return nil
}
