// Package locales holds the user-facing conversation texts and keyboard labels.
//
// The catalogue is embedded from messages.yaml and parsed once.
package locales

import (
	_ "embed"
	"fmt"
	"sync"

	"github.com/BTreeMap/NutriPipe/internal/models"
	"gopkg.in/yaml.v3"
)

//go:embed messages.yaml
var messagesYAML []byte

// Buttons are the reply keyboard labels. Transports map them back to commands.
type Buttons struct {
	FindRecipe    string `yaml:"find_recipe"`
	CountCalories string `yaml:"count_calories"`
	Help          string `yaml:"help"`
	EnterText     string `yaml:"enter_text"`
	SendPhoto     string `yaml:"send_photo"`
	Back          string `yaml:"back"`
}

// Messages are the conversation texts. RecipeFound, RecipeItem, PhotoGuidance and
// Fallback are fmt templates.
type Messages struct {
	Welcome              string `yaml:"welcome"`
	Help                 string `yaml:"help"`
	MainMenu             string `yaml:"main_menu"`
	RecipePrompt         string `yaml:"recipe_prompt"`
	RecipeEmptyQuery     string `yaml:"recipe_empty_query"`
	RecipeNotFound       string `yaml:"recipe_not_found"`
	RecipeFound          string `yaml:"recipe_found"`
	RecipeItem           string `yaml:"recipe_item"`
	RecipeMore           string `yaml:"recipe_more"`
	NutritionMode        string `yaml:"nutrition_mode"`
	NutritionTextPrompt  string `yaml:"nutrition_text_prompt"`
	NutritionPhotoPrompt string `yaml:"nutrition_photo_prompt"`
	NutritionEmptyQuery  string `yaml:"nutrition_empty_query"`
	NutritionNotFound    string `yaml:"nutrition_not_found"`
	NutritionMore        string `yaml:"nutrition_more"`
	PhotoGuidance        string `yaml:"photo_guidance"`
	PhotoAnalysisError   string `yaml:"photo_analysis_error"`
	PhotoFetchError      string `yaml:"photo_fetch_error"`
	Fallback             string `yaml:"fallback"`
	PhotoPlaceholder     string `yaml:"photo_placeholder"`
	InternalError        string `yaml:"internal_error"`
}

// Catalogue is the parsed messages.yaml.
type Catalogue struct {
	Buttons  Buttons  `yaml:"buttons"`
	Messages Messages `yaml:"messages"`
}

var (
	defaultOnce      sync.Once
	defaultCatalogue *Catalogue
	defaultErr       error
)

// Parse decodes a catalogue from YAML.
func Parse(data []byte) (*Catalogue, error) {
	var c Catalogue
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("failed to parse message catalogue: %w", err)
	}
	if c.Buttons.Back == "" || c.Messages.Fallback == "" {
		return nil, fmt.Errorf("message catalogue is incomplete")
	}
	return &c, nil
}

// Default returns the embedded catalogue. It panics if the embedded file is broken,
// which can only happen at build time.
func Default() *Catalogue {
	defaultOnce.Do(func() {
		defaultCatalogue, defaultErr = Parse(messagesYAML)
	})
	if defaultErr != nil {
		panic(defaultErr)
	}
	return defaultCatalogue
}

// CommandForLabel maps a keyboard label to the event it stands for.
// Back is reported separately because it is its own event kind.
func (c *Catalogue) CommandForLabel(label string) (cmd models.Command, back bool, ok bool) {
	switch label {
	case c.Buttons.FindRecipe:
		return models.CommandFindRecipe, false, true
	case c.Buttons.CountCalories:
		return models.CommandCountCalories, false, true
	case c.Buttons.Help:
		return models.CommandHelp, false, true
	case c.Buttons.EnterText:
		return models.CommandEnterText, false, true
	case c.Buttons.SendPhoto:
		return models.CommandSendPhoto, false, true
	case c.Buttons.Back:
		return "", true, true
	default:
		return "", false, false
	}
}

// Keyboard returns the button rows for a keyboard type, or nil for KeyboardNone.
func (c *Catalogue) Keyboard(kb models.KeyboardType) [][]string {
	switch kb {
	case models.KeyboardMain:
		return [][]string{{c.Buttons.FindRecipe, c.Buttons.CountCalories}, {c.Buttons.Help}}
	case models.KeyboardNutritionInput:
		return [][]string{{c.Buttons.EnterText, c.Buttons.SendPhoto}, {c.Buttons.Back}}
	case models.KeyboardBack:
		return [][]string{{c.Buttons.Back}}
	default:
		return nil
	}
}
