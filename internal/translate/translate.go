// Package translate provides the translation collaborator used for recipe queries
// and results.
//
// Translators never fail outward: when a backend errors, the input text is returned
// unchanged and the error is logged.
package translate

import (
	"context"
	"strings"
)

// Language is an ISO 639-1 language code.
type Language string

// Supported languages.
const (
	EN Language = "en"
	RU Language = "ru"
)

// Source returns the language text is assumed to be written in when translating
// into l. Queries arrive in Russian and API results come back in English.
func (l Language) Source() Language {
	if l == EN {
		return RU
	}
	return EN
}

// Translator translates text into a target language.
type Translator interface {
	Translate(ctx context.Context, text string, target Language) string
}

// NoopTranslator returns its input unchanged.
type NoopTranslator struct{}

func (NoopTranslator) Translate(ctx context.Context, text string, target Language) string {
	return text
}

func isBlank(s string) bool {
	return strings.TrimSpace(s) == ""
}
