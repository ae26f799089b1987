package flow

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/BTreeMap/NutriPipe/internal/format"
	"github.com/BTreeMap/NutriPipe/internal/locales"
	"github.com/BTreeMap/NutriPipe/internal/models"
	"github.com/BTreeMap/NutriPipe/internal/translate"
)

type testEnv struct {
	ctrl     *Controller
	states   *StoreBasedStateManager
	food     *FakeFoodSource
	analyzer *FakeAnalyzer
	fetcher  *FakeFetcher
	rec      *recordingRecorder
	texts    locales.Messages
}

func newTestEnv(t *testing.T, opts ...Option) *testEnv {
	t.Helper()
	env := &testEnv{
		states:   NewMockStateManager(),
		food:     &FakeFoodSource{},
		analyzer: &FakeAnalyzer{Text: "guidance"},
		fetcher:  &FakeFetcher{Files: map[string][]byte{}},
		rec:      &recordingRecorder{},
		texts:    locales.Default().Messages,
	}
	base := []Option{
		WithTranslator(FakeTranslator{}),
		WithImageFetcher(env.fetcher),
		WithRecorder(env.rec),
	}
	env.ctrl = NewController(env.states, env.food, env.analyzer, append(base, opts...)...)
	return env
}

func (e *testEnv) setState(t *testing.T, userID string, state models.StateType) {
	t.Helper()
	if err := e.states.SetState(context.Background(), userID, state); err != nil {
		t.Fatalf("SetState: %v", err)
	}
}

func (e *testEnv) dispatch(t *testing.T, ev models.Event) *Result {
	t.Helper()
	if ev.UserID == "" {
		ev.UserID = "u1"
	}
	res, err := e.ctrl.Dispatch(context.Background(), ev)
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if !models.IsValidState(res.State) {
		t.Fatalf("Dispatch left invalid state %q", res.State)
	}
	stored, _ := e.states.Get(context.Background(), ev.UserID)
	if stored.State != res.State {
		t.Fatalf("stored state %s differs from result state %s", stored.State, res.State)
	}
	return res
}

func cmd(c models.Command) models.Event {
	return models.Event{Kind: models.EventKindCommand, Command: c}
}

func text(s string) models.Event {
	return models.Event{Kind: models.EventKindText, Text: s}
}

func back() models.Event {
	return models.Event{Kind: models.EventKindBack}
}

type recordingRecorder struct {
	mu          sync.Mutex
	events      []string
	transitions []string
	calls       map[string]int
	failures    map[string]int
}

func (r *recordingRecorder) RecordEvent(kind string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, kind)
}

func (r *recordingRecorder) RecordTransition(from, to string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.transitions = append(r.transitions, from+"->"+to)
}

func (r *recordingRecorder) RecordCollaboratorCall(collaborator string, err error, d time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.calls == nil {
		r.calls = map[string]int{}
		r.failures = map[string]int{}
	}
	r.calls[collaborator]++
	if err != nil {
		r.failures[collaborator]++
	}
}

func TestTransitionTable(t *testing.T) {
	m := locales.Default().Messages
	tests := []struct {
		name      string
		from      models.StateType
		event     models.Event
		wantState models.StateType
		wantText  string
		wantKB    models.KeyboardType
	}{
		{"find recipe", models.StateMainMenu, cmd(models.CommandFindRecipe), models.StateAwaitingRecipeQuery, m.RecipePrompt, models.KeyboardBack},
		{"count calories", models.StateMainMenu, cmd(models.CommandCountCalories), models.StateMainMenu, m.NutritionMode, models.KeyboardNutritionInput},
		{"enter text", models.StateMainMenu, cmd(models.CommandEnterText), models.StateAwaitingNutritionText, m.NutritionTextPrompt, models.KeyboardBack},
		{"send photo", models.StateMainMenu, cmd(models.CommandSendPhoto), models.StateAwaitingNutritionPhoto, m.NutritionPhotoPrompt, models.KeyboardBack},
		{"back from recipe query", models.StateAwaitingRecipeQuery, back(), models.StateMainMenu, m.MainMenu, models.KeyboardMain},
		{"back from nutrition text", models.StateAwaitingNutritionText, back(), models.StateMainMenu, m.NutritionMode, models.KeyboardNutritionInput},
		{"back from nutrition photo returns like text entry", models.StateAwaitingNutritionPhoto, back(), models.StateMainMenu, m.NutritionMode, models.KeyboardNutritionInput},
		{"back in main menu redraws menu instead of echo", models.StateMainMenu, back(), models.StateMainMenu, m.MainMenu, models.KeyboardMain},
		{"empty recipe query", models.StateAwaitingRecipeQuery, text("   "), models.StateAwaitingRecipeQuery, m.RecipeEmptyQuery, models.KeyboardNone},
		{"empty nutrition text", models.StateAwaitingNutritionText, text(""), models.StateAwaitingNutritionText, m.NutritionEmptyQuery, models.KeyboardNone},
		{"start resets", models.StateAwaitingNutritionPhoto, cmd(models.CommandStart), models.StateMainMenu, m.Welcome, models.KeyboardMain},
		{"help keeps state", models.StateAwaitingRecipeQuery, cmd(models.CommandHelp), models.StateAwaitingRecipeQuery, m.Help, models.KeyboardNone},
		{"menu command from other state", models.StateAwaitingNutritionText, cmd(models.CommandFindRecipe), models.StateAwaitingRecipeQuery, m.RecipePrompt, models.KeyboardBack},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			env.setState(t, "u1", tt.from)

			res := env.dispatch(t, tt.event)
			if res.State != tt.wantState {
				t.Errorf("state = %s, want %s", res.State, tt.wantState)
			}
			if len(res.Replies) != 1 {
				t.Fatalf("expected one reply, got %d: %+v", len(res.Replies), res.Replies)
			}
			if res.Replies[0].Text != tt.wantText {
				t.Errorf("reply = %q, want %q", res.Replies[0].Text, tt.wantText)
			}
			if res.Replies[0].Keyboard != tt.wantKB {
				t.Errorf("keyboard = %q, want %q", res.Replies[0].Keyboard, tt.wantKB)
			}
		})
	}
}

func TestFreshSessionStartsInMainMenu(t *testing.T) {
	env := newTestEnv(t)
	res := env.dispatch(t, models.Event{UserID: "newcomer", Kind: models.EventKindCommand, Command: models.CommandCountCalories})
	if res.State != models.StateMainMenu {
		t.Errorf("state = %s, want %s", res.State, models.StateMainMenu)
	}
	// Text in MainMenu is unrecognized: it must be echoed without a state change.
	res = env.dispatch(t, models.Event{UserID: "newcomer2", Kind: models.EventKindText, Text: "hi"})
	if res.State != models.StateMainMenu || res.Handler != "fallback" {
		t.Errorf("unexpected result for first text message: %+v", res)
	}
}

func TestRecipeSearchSuccess(t *testing.T) {
	env := newTestEnv(t)
	env.food.Recipes = []models.Recipe{
		{Title: "Carbonara", Servings: "2", Ingredients: "pasta|egg", Instructions: "Cook."},
		{Title: "Alfredo", Servings: "4", Instructions: "Stir."},
	}
	env.setState(t, "u1", models.StateAwaitingRecipeQuery)

	res := env.dispatch(t, text("  паста  "))
	if res.State != models.StateAwaitingRecipeQuery {
		t.Errorf("state = %s, want AwaitingRecipeQuery", res.State)
	}
	if got := env.food.RecipeQueries; len(got) != 1 || got[0] != "[en]паста" {
		t.Errorf("recipe query = %v, want translated trimmed query", got)
	}

	// header + 2 recipes + follow-up
	if len(res.Replies) != 4 {
		t.Fatalf("expected 4 replies, got %d", len(res.Replies))
	}
	if res.Replies[0].Text != "✅ Найдено рецептов: 2" {
		t.Errorf("header = %q", res.Replies[0].Text)
	}
	first := res.Replies[1]
	if !first.HTML || !strings.HasPrefix(first.Text, "<b>Рецепт 1/2</b>\n\n") {
		t.Errorf("unexpected first recipe reply: %+v", first)
	}
	if !strings.Contains(first.Text, "[ru]Carbonara") || !strings.Contains(first.Text, "[ru]Cook.") {
		t.Errorf("recipe fields were not translated back: %q", first.Text)
	}
	if !strings.Contains(res.Replies[2].Text, "<b>Рецепт 2/2</b>") {
		t.Errorf("unexpected second recipe reply: %q", res.Replies[2].Text)
	}
	last := res.Replies[3]
	if last.Text != env.texts.RecipeMore || last.Keyboard != models.KeyboardBack {
		t.Errorf("unexpected follow-up: %+v", last)
	}
}

// partialTranslator leaves the texts in untranslated as they are, the way the
// production translators fall back when a call fails, and tags everything else.
type partialTranslator struct {
	untranslated map[string]bool
}

func (p partialTranslator) Translate(ctx context.Context, text string, target translate.Language) string {
	if p.untranslated[text] {
		return text
	}
	return FakeTranslator{}.Translate(ctx, text, target)
}

func TestRecipeSearchToleratesFieldTranslationFailure(t *testing.T) {
	env := newTestEnv(t, WithTranslator(partialTranslator{untranslated: map[string]bool{"pasta|egg": true}}))
	env.food.Recipes = []models.Recipe{
		{Title: "Carbonara", Servings: "2", Ingredients: "pasta|egg", Instructions: "Cook."},
		{Title: "Alfredo", Servings: "4", Ingredients: "pasta|egg", Instructions: "Stir."},
	}
	env.setState(t, "u1", models.StateAwaitingRecipeQuery)

	res := env.dispatch(t, text("паста"))
	if len(res.Replies) != 4 {
		t.Fatalf("expected header, 2 recipes and follow-up, got %d replies", len(res.Replies))
	}
	for i, r := range res.Replies[1:3] {
		if !strings.Contains(r.Text, "[ru]") {
			t.Errorf("recipe %d: title and instructions should be translated: %q", i+1, r.Text)
		}
		if !strings.Contains(r.Text, "pasta") || !strings.Contains(r.Text, "egg") || strings.Contains(r.Text, "[ru]pasta") {
			t.Errorf("recipe %d: ingredients should stay untranslated: %q", i+1, r.Text)
		}
	}
	if !strings.Contains(res.Replies[1].Text, "[ru]Carbonara") || !strings.Contains(res.Replies[1].Text, "[ru]Cook.") {
		t.Errorf("unexpected first recipe: %q", res.Replies[1].Text)
	}
	if res.Replies[3].Text != env.texts.RecipeMore {
		t.Errorf("follow-up = %q", res.Replies[3].Text)
	}
}

func TestRecipeSearchCapsResults(t *testing.T) {
	env := newTestEnv(t)
	for i := 0; i < 8; i++ {
		env.food.Recipes = append(env.food.Recipes, models.Recipe{Title: "r"})
	}
	env.setState(t, "u1", models.StateAwaitingRecipeQuery)

	res := env.dispatch(t, text("soup"))
	if len(res.Replies) != MaxRecipes+2 {
		t.Errorf("expected %d replies, got %d", MaxRecipes+2, len(res.Replies))
	}
}

func TestRecipeSearchFailureShowsNotFound(t *testing.T) {
	tests := map[string]error{
		"non-200 status":  &models.TransportError{Collaborator: "recipes", StatusCode: 502},
		"network failure": &models.TransportError{Collaborator: "recipes", Cause: errors.New("connection refused")},
		"untyped error":   errors.New("boom"),
	}
	for name, recipeErr := range tests {
		t.Run(name, func(t *testing.T) {
			env := newTestEnv(t)
			env.food.RecipeErr = recipeErr
			env.setState(t, "u1", models.StateAwaitingRecipeQuery)

			res := env.dispatch(t, text("soup"))
			if res.State != models.StateAwaitingRecipeQuery {
				t.Errorf("state = %s, want AwaitingRecipeQuery", res.State)
			}
			if len(res.Replies) != 1 || res.Replies[0].Text != env.texts.RecipeNotFound {
				t.Errorf("expected not-found reply, got %+v", res.Replies)
			}
			for _, r := range res.Replies {
				if strings.Contains(r.Text, "502") || strings.Contains(r.Text, "refused") || strings.Contains(r.Text, "boom") {
					t.Errorf("raw error leaked to user: %q", r.Text)
				}
			}
			if env.rec.failures[collaboratorRecipes] != 1 {
				t.Errorf("expected one recorded recipe failure, got %d", env.rec.failures[collaboratorRecipes])
			}
		})
	}
}

func TestRecipeSearchTimeout(t *testing.T) {
	env := newTestEnv(t, WithCollaboratorTimeout(20*time.Millisecond))
	env.food.Delay = time.Second
	env.setState(t, "u1", models.StateAwaitingRecipeQuery)

	start := time.Now()
	res := env.dispatch(t, text("soup"))
	if time.Since(start) > 500*time.Millisecond {
		t.Errorf("dispatch did not honour the collaborator timeout")
	}
	if res.Replies[0].Text != env.texts.RecipeNotFound {
		t.Errorf("expected not-found reply on timeout, got %q", res.Replies[0].Text)
	}
}

func TestNutritionText(t *testing.T) {
	env := newTestEnv(t)
	env.food.Nutrition = models.NutritionReport{
		{Name: "rice", Calories: 100, ProteinG: 10, CarbohydratesG: 5, FatG: 2, ServingSizeG: 100},
		{Name: "chicken", Calories: 50, ProteinG: 5, CarbohydratesG: 2, FatG: 1, ServingSizeG: 100},
	}
	env.setState(t, "u1", models.StateAwaitingNutritionText)

	res := env.dispatch(t, text("100g rice, 100g chicken"))
	if res.State != models.StateAwaitingNutritionText {
		t.Errorf("state = %s, want AwaitingNutritionText", res.State)
	}
	if got := env.food.NutritionQueries; len(got) != 1 || got[0] != "100g rice, 100g chicken" {
		t.Errorf("nutrition query = %v, want the untranslated text", got)
	}
	if len(res.Replies) != 2 {
		t.Fatalf("expected breakdown and follow-up, got %d replies", len(res.Replies))
	}
	if res.Replies[0].Text != format.Nutrition(env.food.Nutrition) || !res.Replies[0].HTML {
		t.Errorf("unexpected breakdown reply: %+v", res.Replies[0])
	}
	if !strings.Contains(res.Replies[0].Text, "150.0 ккал") {
		t.Errorf("expected totals in breakdown: %q", res.Replies[0].Text)
	}
	if res.Replies[1].Text != env.texts.NutritionMore || res.Replies[1].Keyboard != models.KeyboardBack {
		t.Errorf("unexpected follow-up: %+v", res.Replies[1])
	}
}

func TestNutritionTextNotFound(t *testing.T) {
	for name, setup := range map[string]func(f *FakeFoodSource){
		"empty result":    func(f *FakeFoodSource) {},
		"transport error": func(f *FakeFoodSource) { f.NutritionErr = &models.TransportError{Collaborator: "nutrition", StatusCode: 500} },
	} {
		t.Run(name, func(t *testing.T) {
			env := newTestEnv(t)
			setup(env.food)
			env.setState(t, "u1", models.StateAwaitingNutritionText)

			res := env.dispatch(t, text("mystery stew"))
			if res.State != models.StateAwaitingNutritionText {
				t.Errorf("state = %s, want AwaitingNutritionText", res.State)
			}
			if len(res.Replies) != 1 || res.Replies[0].Text != env.texts.NutritionNotFound {
				t.Errorf("expected not-found reply, got %+v", res.Replies)
			}
		})
	}
}

func TestNutritionPhoto(t *testing.T) {
	env := newTestEnv(t)
	env.setState(t, "u1", models.StateAwaitingNutritionPhoto)

	res := env.dispatch(t, models.Event{Kind: models.EventKindImage, Image: []byte("img")})
	if res.State != models.StateAwaitingNutritionText {
		t.Errorf("state = %s, want AwaitingNutritionText", res.State)
	}
	want := "🤖 guidance\n\nПожалуйста, опишите ваше блюдо текстом для точного подсчета калорий:"
	if len(res.Replies) != 1 || res.Replies[0].Text != want {
		t.Errorf("unexpected replies: %+v", res.Replies)
	}
	if string(env.analyzer.Got) != "img" {
		t.Errorf("analyzer got %q", env.analyzer.Got)
	}
}

func TestNutritionPhotoFetchedByFileID(t *testing.T) {
	env := newTestEnv(t)
	env.fetcher.Files["file-1"] = []byte("remote")
	env.setState(t, "u1", models.StateAwaitingNutritionPhoto)

	res := env.dispatch(t, models.Event{Kind: models.EventKindImage, FileID: "file-1"})
	if res.State != models.StateAwaitingNutritionText {
		t.Errorf("state = %s, want AwaitingNutritionText", res.State)
	}
	if string(env.analyzer.Got) != "remote" {
		t.Errorf("analyzer got %q, want fetched bytes", env.analyzer.Got)
	}
}

func TestNutritionPhotoFailures(t *testing.T) {
	m := locales.Default().Messages
	tests := []struct {
		name  string
		setup func(env *testEnv)
		event models.Event
		want  string
	}{
		{
			name:  "fetch failure",
			setup: func(env *testEnv) { env.fetcher.Err = errors.New("telegram down") },
			event: models.Event{Kind: models.EventKindImage, FileID: "file-1"},
			want:  m.PhotoFetchError,
		},
		{
			name:  "missing file",
			setup: func(env *testEnv) {},
			event: models.Event{Kind: models.EventKindImage, FileID: "unknown"},
			want:  m.PhotoFetchError,
		},
		{
			name:  "analysis failure",
			setup: func(env *testEnv) { env.analyzer.Err = &models.IOError{Op: "analyze image", Cause: errors.New("bad header")} },
			event: models.Event{Kind: models.EventKindImage, Image: []byte("junk")},
			want:  m.PhotoAnalysisError,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			tt.setup(env)
			env.setState(t, "u1", models.StateAwaitingNutritionPhoto)

			res := env.dispatch(t, tt.event)
			if res.State != models.StateAwaitingNutritionText {
				t.Errorf("state = %s, want AwaitingNutritionText", res.State)
			}
			if len(res.Replies) != 1 || res.Replies[0].Text != tt.want {
				t.Errorf("unexpected replies: %+v", res.Replies)
			}
			if res.Replies[0].Keyboard != models.KeyboardBack {
				t.Errorf("expected back keyboard, got %q", res.Replies[0].Keyboard)
			}
		})
	}
}

func TestFallbackEchoesInput(t *testing.T) {
	tests := []struct {
		name  string
		state models.StateType
		event models.Event
		echo  string
	}{
		{"text in main menu", models.StateMainMenu, text("привет"), "привет"},
		{"photo in recipe state", models.StateAwaitingRecipeQuery, models.Event{Kind: models.EventKindImage, Image: []byte("x")}, "[фото]"},
		{"text in photo state", models.StateAwaitingNutritionPhoto, text("no photo"), "no photo"},
		{"image in nutrition text state", models.StateAwaitingNutritionText, models.Event{Kind: models.EventKindImage, FileID: "f"}, "[фото]"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			env.setState(t, "u1", tt.state)

			res := env.dispatch(t, tt.event)
			if res.State != tt.state {
				t.Errorf("state = %s, want unchanged %s", res.State, tt.state)
			}
			if res.Handler != "fallback" {
				t.Errorf("handler = %s, want fallback", res.Handler)
			}
			want := "Получено сообщение: " + tt.echo + "\n\nИспользуйте кнопки меню или /start для начала работы"
			if len(res.Replies) != 1 || res.Replies[0].Text != want {
				t.Errorf("unexpected replies: %+v", res.Replies)
			}
			if len(env.rec.transitions) != 0 {
				t.Errorf("fallback recorded transitions: %v", env.rec.transitions)
			}
		})
	}
}

func TestFallbackIsLastHandler(t *testing.T) {
	env := newTestEnv(t)
	last := env.ctrl.handlers[len(env.ctrl.handlers)-1]
	if last.name != "fallback" {
		t.Fatalf("last handler = %s, want fallback", last.name)
	}
	for _, h := range env.ctrl.handlers[:len(env.ctrl.handlers)-1] {
		if h.name == "fallback" {
			t.Fatal("fallback registered before the end of the chain")
		}
	}
}

func TestDispatchRejectsMissingUser(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.ctrl.Dispatch(context.Background(), models.Event{Kind: models.EventKindText, Text: "x"})
	var ve *models.ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
}

func TestDispatchRecordsMetrics(t *testing.T) {
	env := newTestEnv(t)
	env.dispatch(t, cmd(models.CommandFindRecipe))
	env.dispatch(t, back())

	if len(env.rec.events) != 2 {
		t.Errorf("events = %v, want 2", env.rec.events)
	}
	want := []string{"MAIN_MENU->AWAITING_RECIPE_QUERY", "AWAITING_RECIPE_QUERY->MAIN_MENU"}
	if strings.Join(env.rec.transitions, ",") != strings.Join(want, ",") {
		t.Errorf("transitions = %v, want %v", env.rec.transitions, want)
	}
}

func TestUsersAreIndependent(t *testing.T) {
	env := newTestEnv(t)
	env.dispatch(t, models.Event{UserID: "alice", Kind: models.EventKindCommand, Command: models.CommandFindRecipe})
	env.dispatch(t, models.Event{UserID: "bob", Kind: models.EventKindCommand, Command: models.CommandEnterText})

	alice, _ := env.states.Get(context.Background(), "alice")
	bob, _ := env.states.Get(context.Background(), "bob")
	if alice.State != models.StateAwaitingRecipeQuery || bob.State != models.StateAwaitingNutritionText {
		t.Errorf("states leaked between users: alice=%s bob=%s", alice.State, bob.State)
	}
}
