// Package format renders recipes and nutrition reports as chat replies.
//
// Output uses the small HTML subset Telegram accepts (<b> only). All functions
// are pure.
package format

import (
	"fmt"
	"html"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/BTreeMap/NutriPipe/internal/models"
)

// Fallback texts for missing recipe fields and empty reports.
const (
	DefaultTitle        = "Без названия"
	DefaultServings     = "Не указано"
	DefaultInstructions = "Инструкции не найдены"
	DefaultItemName     = "Продукт"
	NoNutritionInfo     = "❌ Не удалось найти информацию о калориях"
)

// Recipe renders a single recipe. The ingredients section is omitted when empty.
func Recipe(r models.Recipe) string {
	title := orDefault(r.Title, DefaultTitle)
	servings := orDefault(r.Servings, DefaultServings)
	instructions := orDefault(r.Instructions, DefaultInstructions)

	var b strings.Builder
	fmt.Fprintf(&b, "🍳 <b>%s</b>\n\n", html.EscapeString(title))
	fmt.Fprintf(&b, "👥 <b>Порций:</b> %s\n\n", html.EscapeString(servings))
	if ingredients := ingredientLines(r.Ingredients); ingredients != "" {
		fmt.Fprintf(&b, "📝 <b>Ингредиенты:</b>\n%s\n\n", html.EscapeString(ingredients))
	}
	fmt.Fprintf(&b, "📖 <b>Приготовление:</b>\n%s", html.EscapeString(instructions))
	return b.String()
}

// Nutrition renders a per-item breakdown. A totals block is added only when there
// is more than one item.
func Nutrition(items []models.NutritionItem) string {
	if len(items) == 0 {
		return NoNutritionInfo
	}

	var b strings.Builder
	b.WriteString("📊 <b>Пищевая ценность:</b>\n\n")
	for _, item := range items {
		fmt.Fprintf(&b, "🔹 <b>%s</b> (%gг)\n", html.EscapeString(Capitalize(orDefault(item.Name, DefaultItemName))), item.ServingSizeG)
		writeMacros(&b, item.Calories, item.ProteinG, item.CarbohydratesG, item.FatG)
		b.WriteString("\n")
	}

	if len(items) > 1 {
		t := models.NutritionReport(items).Totals()
		b.WriteString("<b>📈 Итого:</b>\n")
		writeMacros(&b, t.Calories, t.ProteinG, t.CarbohydratesG, t.FatG)
	}
	return strings.TrimRight(b.String(), "\n")
}

func writeMacros(b *strings.Builder, calories, protein, carbs, fat float64) {
	fmt.Fprintf(b, "   • Калории: %.1f ккал\n", calories)
	fmt.Fprintf(b, "   • Белки: %.1fг\n", protein)
	fmt.Fprintf(b, "   • Углеводы: %.1fг\n", carbs)
	fmt.Fprintf(b, "   • Жиры: %.1fг\n", fat)
}

var tagPattern = regexp.MustCompile(`</?[a-zA-Z][^>]*>`)

// PlainText strips markup from formatter output for clients without HTML support.
func PlainText(s string) string {
	return html.UnescapeString(tagPattern.ReplaceAllString(s, ""))
}

// Capitalize upper-cases the first rune and lower-cases the rest.
func Capitalize(s string) string {
	r, size := utf8.DecodeRuneInString(s)
	if r == utf8.RuneError {
		return s
	}
	return string(unicode.ToUpper(r)) + strings.ToLower(s[size:])
}

// ingredientLines turns the API's pipe-separated list into one bullet per line.
func ingredientLines(s string) string {
	s = strings.TrimSpace(s)
	if s == "" || !strings.Contains(s, "|") {
		return s
	}
	var lines []string
	for _, part := range strings.Split(s, "|") {
		if part = strings.TrimSpace(part); part != "" {
			lines = append(lines, "• "+part)
		}
	}
	return strings.Join(lines, "\n")
}

func orDefault(s, def string) string {
	if strings.TrimSpace(s) == "" {
		return def
	}
	return s
}
