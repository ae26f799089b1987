package flow

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/BTreeMap/NutriPipe/internal/locales"
	"github.com/BTreeMap/NutriPipe/internal/models"
	"github.com/BTreeMap/NutriPipe/internal/translate"
)

const (
	// MaxRecipes caps how many recipes a single search returns.
	MaxRecipes = 5
	// DefaultCollaboratorTimeout bounds each call to an external collaborator.
	DefaultCollaboratorTimeout = 10 * time.Second
)

// Collaborator names used for metrics and logs.
const (
	collaboratorRecipes    = "recipes"
	collaboratorNutrition  = "nutrition"
	collaboratorTranslate  = "translate"
	collaboratorImageFetch = "image_fetch"
	collaboratorVision     = "vision"
)

// Result is the outcome of dispatching one event.
type Result struct {
	UserID  string           `json:"user_id"`
	Replies []models.Reply   `json:"replies"`
	State   models.StateType `json:"state"`
	Handler string           `json:"handler"`
}

// Option configures a Controller.
type Option func(*Controller)

// WithTranslator sets the translation collaborator. The default leaves text unchanged.
func WithTranslator(t translate.Translator) Option {
	return func(c *Controller) {
		c.translator = t
	}
}

// WithImageFetcher sets how images referenced only by file ID are downloaded.
func WithImageFetcher(f ImageFetcher) Option {
	return func(c *Controller) {
		c.fetcher = f
	}
}

// WithRecorder sets the metrics recorder.
func WithRecorder(r Recorder) Option {
	return func(c *Controller) {
		c.recorder = r
	}
}

// WithCollaboratorTimeout bounds each collaborator call.
func WithCollaboratorTimeout(d time.Duration) Option {
	return func(c *Controller) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithCatalogue replaces the built-in message catalogue.
func WithCatalogue(cat *locales.Catalogue) Option {
	return func(c *Controller) {
		c.texts = cat
	}
}

// Controller is the conversation state machine. It is safe for concurrent use
// across users; callers serialize events of a single user.
type Controller struct {
	states     StateManager
	food       FoodSource
	analyzer   ImageAnalyzer
	translator translate.Translator
	fetcher    ImageFetcher
	recorder   Recorder
	texts      *locales.Catalogue
	timeout    time.Duration
	handlers   []handler
}

// NewController builds a controller. The fallback handler is always the last
// entry of the routing chain.
func NewController(states StateManager, food FoodSource, analyzer ImageAnalyzer, opts ...Option) *Controller {
	c := &Controller{
		states:     states,
		food:       food,
		analyzer:   analyzer,
		translator: translate.NoopTranslator{},
		recorder:   nopRecorder{},
		timeout:    DefaultCollaboratorTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.texts == nil {
		c.texts = locales.Default()
	}
	c.handlers = append(c.routes(), c.fallback())
	slog.Debug("flow.NewController: controller created", "handlers", len(c.handlers), "timeout", c.timeout)
	return c
}

// Dispatch routes one event through the handler chain, persists the resulting
// state and returns the replies to send. Collaborator failures are turned into
// user-facing messages; an error is returned only for invalid events or when the
// session cannot be loaded or saved.
func (c *Controller) Dispatch(ctx context.Context, ev models.Event) (*Result, error) {
	if strings.TrimSpace(ev.UserID) == "" {
		return nil, &models.ValidationError{Field: "user_id", Reason: "must not be empty"}
	}
	c.recorder.RecordEvent(string(ev.Kind))

	session, err := c.states.Get(ctx, ev.UserID)
	if err != nil {
		return nil, fmt.Errorf("failed to load session for %s: %w", ev.UserID, err)
	}

	t := &turn{event: ev, state: session.State, next: session.State}
	h := c.route(t)
	slog.Debug("Controller.Dispatch: routing event", "userID", ev.UserID, "kind", ev.Kind, "state", t.state, "handler", h.name)

	h.handle(ctx, t)

	if t.reset {
		err = c.states.Reset(ctx, ev.UserID)
	} else {
		// Saved even when unchanged so UpdatedAt tracks activity for idle eviction.
		err = c.states.SetState(ctx, ev.UserID, t.next)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to save session for %s: %w", ev.UserID, err)
	}

	if t.next != t.state {
		slog.Info("Controller.Dispatch: state transition", "userID", ev.UserID, "from", t.state, "to", t.next, "handler", h.name)
		c.recorder.RecordTransition(string(t.state), string(t.next))
	}

	return &Result{UserID: ev.UserID, Replies: t.replies, State: t.next, Handler: h.name}, nil
}

func (c *Controller) route(t *turn) handler {
	for _, h := range c.handlers {
		if h.match(t) {
			return h
		}
	}
	// unreachable: the fallback matches everything
	return c.handlers[len(c.handlers)-1]
}

// call runs fn under the collaborator timeout and records its outcome.
func (c *Controller) call(ctx context.Context, collaborator string, fn func(ctx context.Context) error) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	start := time.Now()
	err := fn(ctx)
	c.recorder.RecordCollaboratorCall(collaborator, err, time.Since(start))
	return err
}

// translate never fails; the translator returns its input on error.
func (c *Controller) translate(ctx context.Context, text string, target translate.Language) string {
	if strings.TrimSpace(text) == "" {
		return text
	}
	var out string
	c.call(ctx, collaboratorTranslate, func(ctx context.Context) error {
		out = c.translator.Translate(ctx, text, target)
		return nil
	})
	return out
}

// turn carries the state of a single dispatch through a handler.
type turn struct {
	event   models.Event
	state   models.StateType
	next    models.StateType
	reset   bool
	replies []models.Reply
}

func (t *turn) reply(text string, kb models.KeyboardType) {
	t.replies = append(t.replies, models.Reply{Text: text, Keyboard: kb})
}

func (t *turn) replyHTML(text string, kb models.KeyboardType) {
	t.replies = append(t.replies, models.Reply{Text: text, Keyboard: kb, HTML: true})
}

func (t *turn) isCommand(cmd models.Command) bool {
	return t.event.Kind == models.EventKindCommand && t.event.Command == cmd
}

func (t *turn) isBack() bool {
	return t.event.Kind == models.EventKindBack
}

func (t *turn) in(states ...models.StateType) bool {
	for _, s := range states {
		if t.state == s {
			return true
		}
	}
	return false
}
