// Package models defines state management structures for NutriPipe conversations.
package models

import "time"

// StateType represents a specific state of a user's conversation.
type StateType string

// Conversation states.
const (
	StateMainMenu               StateType = "MAIN_MENU"
	StateAwaitingRecipeQuery    StateType = "AWAITING_RECIPE_QUERY"
	StateAwaitingNutritionText  StateType = "AWAITING_NUTRITION_TEXT"
	StateAwaitingNutritionPhoto StateType = "AWAITING_NUTRITION_PHOTO"
)

// DefaultState is assigned to a session on first contact and on reset.
const DefaultState = StateMainMenu

// IsValidState checks if the given state is one of the defined conversation states.
func IsValidState(s StateType) bool {
	switch s {
	case StateMainMenu, StateAwaitingRecipeQuery, StateAwaitingNutritionText, StateAwaitingNutritionPhoto:
		return true
	default:
		return false
	}
}

// Session represents the conversation state of a single user.
type Session struct {
	UserID    string    `json:"user_id"`
	State     StateType `json:"state"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewSession creates a session in the default state.
func NewSession(userID string, now time.Time) Session {
	return Session{
		UserID:    userID,
		State:     DefaultState,
		CreatedAt: now,
		UpdatedAt: now,
	}
}
