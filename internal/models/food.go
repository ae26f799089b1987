package models

// Recipe is a single recipe returned by the food-data API.
type Recipe struct {
	Title        string `json:"title"`
	Servings     string `json:"servings"`
	Ingredients  string `json:"ingredients"`
	Instructions string `json:"instructions"`
}

// NutritionItem is the nutrition breakdown of a single food item.
type NutritionItem struct {
	Name           string  `json:"name"`
	Calories       float64 `json:"calories"`
	ProteinG       float64 `json:"protein_g"`
	CarbohydratesG float64 `json:"carbohydrates_total_g"`
	FatG           float64 `json:"fat_total_g"`
	ServingSizeG   float64 `json:"serving_size_g"`
}

// NutritionReport is an ordered sequence of nutrition items.
type NutritionReport []NutritionItem

// NutritionTotals holds the sums of the numeric fields of a report.
type NutritionTotals struct {
	Calories       float64 `json:"calories"`
	ProteinG       float64 `json:"protein_g"`
	CarbohydratesG float64 `json:"carbohydrates_total_g"`
	FatG           float64 `json:"fat_total_g"`
}

// Totals sums calories, protein, carbohydrates and fat across all items.
func (r NutritionReport) Totals() NutritionTotals {
	var t NutritionTotals
	for _, item := range r {
		t.Calories += item.Calories
		t.ProteinG += item.ProteinG
		t.CarbohydratesG += item.CarbohydratesG
		t.FatG += item.FatG
	}
	return t
}
