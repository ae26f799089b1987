// Package vision holds the image collaborator. It validates that uploaded bytes are
// an image and returns guidance text; it does not recognise food.
package vision

import (
	"bytes"
	"context"
	"errors"
	"image"
	"log/slog"

	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	"github.com/BTreeMap/NutriPipe/internal/models"
)

// Guidance is returned for every image that decodes.
const Guidance = "Для точного анализа фото требуется интеграция с AI моделью.\n" +
	"Пожалуйста, опишите ваше блюдо текстом:\n" +
	"Например: '200g куриная грудка, 100g рис, салат'"

// StubAnalyzer checks image headers and answers with Guidance.
type StubAnalyzer struct{}

// Analyze returns Guidance, or an *models.IOError when data is not a decodable image.
func (StubAnalyzer) Analyze(ctx context.Context, data []byte) (string, error) {
	if len(data) == 0 {
		return "", &models.IOError{Op: "analyze image", Cause: errors.New("no image data")}
	}
	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return "", &models.IOError{Op: "analyze image", Cause: err}
	}
	slog.Debug("StubAnalyzer.Analyze: image accepted", "format", format, "width", cfg.Width, "height", cfg.Height)
	return Guidance, nil
}
