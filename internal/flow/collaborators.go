package flow

import (
	"context"
	"time"

	"github.com/BTreeMap/NutriPipe/internal/models"
)

// FoodSource searches recipes and looks up nutrition data.
type FoodSource interface {
	SearchRecipes(ctx context.Context, query string, maxResults int) ([]models.Recipe, error)
	LookupNutrition(ctx context.Context, query string) (models.NutritionReport, error)
}

// ImageAnalyzer turns image bytes into text for the user.
type ImageAnalyzer interface {
	Analyze(ctx context.Context, data []byte) (string, error)
}

// ImageFetcher downloads an image the transport only referenced by ID.
type ImageFetcher interface {
	FetchImage(ctx context.Context, fileID string) ([]byte, error)
}

// Recorder receives controller metrics. metrics.Collector implements it.
type Recorder interface {
	RecordEvent(kind string)
	RecordTransition(from, to string)
	RecordCollaboratorCall(collaborator string, err error, d time.Duration)
}

type nopRecorder struct{}

func (nopRecorder) RecordEvent(string)                                  {}
func (nopRecorder) RecordTransition(string, string)                     {}
func (nopRecorder) RecordCollaboratorCall(string, error, time.Duration) {}
