package foodapi

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"

	"github.com/BTreeMap/NutriPipe/internal/models"
)

// flexFloat accepts a JSON number or a string. Free API keys get strings such as
// "Only available for premium subscribers." in some fields; those decode to zero.
type flexFloat float64

func (f *flexFloat) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*f = 0
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
		if err != nil {
			*f = 0
			return nil
		}
		*f = flexFloat(v)
		return nil
	}
	var v float64
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	*f = flexFloat(v)
	return nil
}

// flexString accepts a JSON string or number.
type flexString string

func (s *flexString) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*s = ""
		return nil
	}
	if data[0] == '"' {
		var v string
		if err := json.Unmarshal(data, &v); err != nil {
			return err
		}
		*s = flexString(v)
		return nil
	}
	*s = flexString(data)
	return nil
}

type recipeDTO struct {
	Title        flexString `json:"title"`
	Servings     flexString `json:"servings"`
	Ingredients  flexString `json:"ingredients"`
	Instructions flexString `json:"instructions"`
}

func (r recipeDTO) toModel() models.Recipe {
	return models.Recipe{
		Title:        string(r.Title),
		Servings:     string(r.Servings),
		Ingredients:  string(r.Ingredients),
		Instructions: string(r.Instructions),
	}
}

type nutritionDTO struct {
	Name           flexString `json:"name"`
	Calories       flexFloat  `json:"calories"`
	ProteinG       flexFloat  `json:"protein_g"`
	CarbohydratesG flexFloat  `json:"carbohydrates_total_g"`
	FatG           flexFloat  `json:"fat_total_g"`
	ServingSizeG   flexFloat  `json:"serving_size_g"`
}

func (n nutritionDTO) toModel() models.NutritionItem {
	return models.NutritionItem{
		Name:           string(n.Name),
		Calories:       float64(n.Calories),
		ProteinG:       float64(n.ProteinG),
		CarbohydratesG: float64(n.CarbohydratesG),
		FatG:           float64(n.FatG),
		ServingSizeG:   float64(n.ServingSizeG),
	}
}
