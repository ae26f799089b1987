package flow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/BTreeMap/NutriPipe/internal/format"
	"github.com/BTreeMap/NutriPipe/internal/models"
	"github.com/BTreeMap/NutriPipe/internal/translate"
)

// handler is one arm of the routing chain. The first handler whose match
// returns true handles the event.
type handler struct {
	name   string
	match  func(t *turn) bool
	handle func(ctx context.Context, t *turn)
}

// routes returns the handler chain in priority order. Menu commands come first
// and apply in every state.
func (c *Controller) routes() []handler {
	m := c.texts.Messages
	return []handler{
		{
			name:  "start",
			match: func(t *turn) bool { return t.isCommand(models.CommandStart) },
			handle: func(ctx context.Context, t *turn) {
				t.reset = true
				t.next = models.DefaultState
				t.reply(m.Welcome, models.KeyboardMain)
			},
		},
		{
			name:  "help",
			match: func(t *turn) bool { return t.isCommand(models.CommandHelp) },
			handle: func(ctx context.Context, t *turn) {
				t.replyHTML(m.Help, models.KeyboardNone)
			},
		},
		{
			name:  "find_recipe",
			match: func(t *turn) bool { return t.isCommand(models.CommandFindRecipe) },
			handle: func(ctx context.Context, t *turn) {
				t.next = models.StateAwaitingRecipeQuery
				t.reply(m.RecipePrompt, models.KeyboardBack)
			},
		},
		{
			name:  "count_calories",
			match: func(t *turn) bool { return t.isCommand(models.CommandCountCalories) },
			handle: func(ctx context.Context, t *turn) {
				t.next = models.StateMainMenu
				t.reply(m.NutritionMode, models.KeyboardNutritionInput)
			},
		},
		{
			name:  "enter_text",
			match: func(t *turn) bool { return t.isCommand(models.CommandEnterText) },
			handle: func(ctx context.Context, t *turn) {
				t.next = models.StateAwaitingNutritionText
				t.reply(m.NutritionTextPrompt, models.KeyboardBack)
			},
		},
		{
			name:  "send_photo",
			match: func(t *turn) bool { return t.isCommand(models.CommandSendPhoto) },
			handle: func(ctx context.Context, t *turn) {
				t.next = models.StateAwaitingNutritionPhoto
				t.reply(m.NutritionPhotoPrompt, models.KeyboardBack)
			},
		},
		{
			name: "back_to_main",
			match: func(t *turn) bool {
				return t.isBack() && t.in(models.StateAwaitingRecipeQuery, models.StateMainMenu)
			},
			handle: func(ctx context.Context, t *turn) {
				t.next = models.StateMainMenu
				t.reply(m.MainMenu, models.KeyboardMain)
			},
		},
		{
			name: "back_to_nutrition",
			match: func(t *turn) bool {
				return t.isBack() && t.in(models.StateAwaitingNutritionText, models.StateAwaitingNutritionPhoto)
			},
			handle: func(ctx context.Context, t *turn) {
				t.next = models.StateMainMenu
				t.reply(m.NutritionMode, models.KeyboardNutritionInput)
			},
		},
		{
			name: "recipe_query",
			match: func(t *turn) bool {
				return t.in(models.StateAwaitingRecipeQuery) && t.event.Kind == models.EventKindText
			},
			handle: c.handleRecipeQuery,
		},
		{
			name: "nutrition_text",
			match: func(t *turn) bool {
				return t.in(models.StateAwaitingNutritionText) && t.event.Kind == models.EventKindText
			},
			handle: c.handleNutritionText,
		},
		{
			name: "nutrition_photo",
			match: func(t *turn) bool {
				return t.in(models.StateAwaitingNutritionPhoto) && t.event.Kind == models.EventKindImage
			},
			handle: c.handleNutritionPhoto,
		},
	}
}

// fallback echoes the raw input and leaves the state unchanged.
func (c *Controller) fallback() handler {
	return handler{
		name:  "fallback",
		match: func(t *turn) bool { return true },
		handle: func(ctx context.Context, t *turn) {
			slog.Warn("Controller.fallback: unhandled event", "userID", t.event.UserID, "kind", t.event.Kind, "state", t.state)
			t.reply(fmt.Sprintf(c.texts.Messages.Fallback, c.rawInput(t.event)), models.KeyboardNone)
		},
	}
}

// rawInput describes what the user sent, for the fallback echo.
func (c *Controller) rawInput(ev models.Event) string {
	switch ev.Kind {
	case models.EventKindImage:
		if ev.Text != "" {
			return ev.Text
		}
		return c.texts.Messages.PhotoPlaceholder
	case models.EventKindBack:
		return c.texts.Buttons.Back
	case models.EventKindCommand:
		if ev.Text != "" {
			return ev.Text
		}
		return "/" + string(ev.Command)
	default:
		return ev.Text
	}
}

func (c *Controller) handleRecipeQuery(ctx context.Context, t *turn) {
	m := c.texts.Messages
	query := t.event.TrimmedText()
	if query == "" {
		t.reply(m.RecipeEmptyQuery, models.KeyboardNone)
		return
	}

	queryEN := c.translate(ctx, query, translate.EN)
	slog.Info("Controller.handleRecipeQuery: searching recipes", "userID", t.event.UserID, "query", query, "query_en", queryEN)

	var recipes []models.Recipe
	err := c.call(ctx, collaboratorRecipes, func(ctx context.Context) error {
		var err error
		recipes, err = c.food.SearchRecipes(ctx, queryEN, MaxRecipes)
		return err
	})
	if err != nil {
		slog.Error("Controller.handleRecipeQuery: recipe search failed", "userID", t.event.UserID, "error", asTransportError(collaboratorRecipes, err))
		recipes = nil
	}
	if len(recipes) > MaxRecipes {
		recipes = recipes[:MaxRecipes]
	}

	if len(recipes) == 0 {
		t.reply(m.RecipeNotFound, models.KeyboardNone)
		return
	}

	t.reply(fmt.Sprintf(m.RecipeFound, len(recipes)), models.KeyboardNone)
	for i, r := range recipes {
		r.Title = c.translate(ctx, r.Title, translate.RU)
		r.Ingredients = c.translate(ctx, r.Ingredients, translate.RU)
		r.Instructions = c.translate(ctx, r.Instructions, translate.RU)
		t.replyHTML(fmt.Sprintf(m.RecipeItem, i+1, len(recipes), format.Recipe(r)), models.KeyboardNone)
	}
	t.reply(m.RecipeMore, models.KeyboardBack)
}

func (c *Controller) handleNutritionText(ctx context.Context, t *turn) {
	m := c.texts.Messages
	query := t.event.TrimmedText()
	if query == "" {
		t.reply(m.NutritionEmptyQuery, models.KeyboardNone)
		return
	}

	var report models.NutritionReport
	err := c.call(ctx, collaboratorNutrition, func(ctx context.Context) error {
		var err error
		report, err = c.food.LookupNutrition(ctx, query)
		return err
	})
	if err != nil {
		slog.Error("Controller.handleNutritionText: nutrition lookup failed", "userID", t.event.UserID, "error", asTransportError(collaboratorNutrition, err))
		report = nil
	}

	if len(report) == 0 {
		t.reply(m.NutritionNotFound, models.KeyboardNone)
		return
	}

	t.replyHTML(format.Nutrition(report), models.KeyboardNone)
	t.reply(m.NutritionMore, models.KeyboardBack)
}

// handleNutritionPhoto always moves the user to text entry, whatever the outcome.
func (c *Controller) handleNutritionPhoto(ctx context.Context, t *turn) {
	m := c.texts.Messages
	t.next = models.StateAwaitingNutritionText

	data, err := c.imageBytes(ctx, t.event)
	if err != nil {
		slog.Error("Controller.handleNutritionPhoto: failed to fetch image", "userID", t.event.UserID, "error", err)
		t.reply(m.PhotoFetchError, models.KeyboardBack)
		return
	}

	var analysis string
	err = c.call(ctx, collaboratorVision, func(ctx context.Context) error {
		var err error
		analysis, err = c.analyzer.Analyze(ctx, data)
		return err
	})
	if err != nil {
		slog.Warn("Controller.handleNutritionPhoto: image analysis failed", "userID", t.event.UserID, "error", err)
		t.reply(m.PhotoAnalysisError, models.KeyboardBack)
		return
	}

	t.reply(fmt.Sprintf(m.PhotoGuidance, analysis), models.KeyboardBack)
}

// imageBytes returns inline image data or fetches it by file ID. Every failure
// is an *models.IOError.
func (c *Controller) imageBytes(ctx context.Context, ev models.Event) ([]byte, error) {
	if len(ev.Image) > 0 {
		return ev.Image, nil
	}
	if ev.FileID == "" || c.fetcher == nil {
		return nil, &models.IOError{Op: "fetch image", Cause: errors.New("no image data or fetcher")}
	}

	var data []byte
	err := c.call(ctx, collaboratorImageFetch, func(ctx context.Context) error {
		var err error
		data, err = c.fetcher.FetchImage(ctx, ev.FileID)
		return err
	})
	if err != nil {
		var ioErr *models.IOError
		if errors.As(err, &ioErr) {
			return nil, err
		}
		return nil, &models.IOError{Op: "fetch image " + ev.FileID, Cause: err}
	}
	if len(data) == 0 {
		return nil, &models.IOError{Op: "fetch image " + ev.FileID, Cause: errors.New("empty file")}
	}
	return data, nil
}

// asTransportError classifies any food-source failure as a transport error.
func asTransportError(collaborator string, err error) error {
	if errors.Is(err, models.ErrTransport) {
		return err
	}
	return &models.TransportError{Collaborator: collaborator, Cause: err}
}
