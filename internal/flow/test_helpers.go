package flow

import (
	"context"
	"sync"
	"time"

	"github.com/BTreeMap/NutriPipe/internal/models"
	"github.com/BTreeMap/NutriPipe/internal/store"
	"github.com/BTreeMap/NutriPipe/internal/translate"
)

// NewMockStateManager creates a state manager over an in-memory store for testing.
func NewMockStateManager() *StoreBasedStateManager {
	return NewStoreBasedStateManager(store.NewInMemoryStore())
}

// FakeFoodSource returns canned results and records the queries it receives.
type FakeFoodSource struct {
	mu               sync.Mutex
	Recipes          []models.Recipe
	RecipeErr        error
	Nutrition        models.NutritionReport
	NutritionErr     error
	RecipeQueries    []string
	NutritionQueries []string
	Delay            time.Duration
}

func (f *FakeFoodSource) SearchRecipes(ctx context.Context, query string, maxResults int) ([]models.Recipe, error) {
	f.mu.Lock()
	f.RecipeQueries = append(f.RecipeQueries, query)
	f.mu.Unlock()
	if err := f.wait(ctx); err != nil {
		return nil, err
	}
	if f.RecipeErr != nil {
		return nil, f.RecipeErr
	}
	if maxResults > 0 && len(f.Recipes) > maxResults {
		return f.Recipes[:maxResults], nil
	}
	return f.Recipes, nil
}

func (f *FakeFoodSource) LookupNutrition(ctx context.Context, query string) (models.NutritionReport, error) {
	f.mu.Lock()
	f.NutritionQueries = append(f.NutritionQueries, query)
	f.mu.Unlock()
	if err := f.wait(ctx); err != nil {
		return nil, err
	}
	return f.Nutrition, f.NutritionErr
}

func (f *FakeFoodSource) wait(ctx context.Context) error {
	if f.Delay == 0 {
		return nil
	}
	select {
	case <-time.After(f.Delay):
		return nil
	case <-ctx.Done():
		return &models.TransportError{Collaborator: "fake", Cause: ctx.Err()}
	}
}

// FakeTranslator tags text with the target language, e.g. "[en]борщ".
type FakeTranslator struct{}

func (FakeTranslator) Translate(ctx context.Context, text string, target translate.Language) string {
	return "[" + string(target) + "]" + text
}

// FakeAnalyzer returns Text, or Err when set.
type FakeAnalyzer struct {
	Text string
	Err  error
	Got  []byte
}

func (a *FakeAnalyzer) Analyze(ctx context.Context, data []byte) (string, error) {
	a.Got = data
	return a.Text, a.Err
}

// FakeFetcher serves images from a map keyed by file ID.
type FakeFetcher struct {
	Files map[string][]byte
	Err   error
}

func (f *FakeFetcher) FetchImage(ctx context.Context, fileID string) ([]byte, error) {
	if f.Err != nil {
		return nil, f.Err
	}
	return f.Files[fileID], nil
}
