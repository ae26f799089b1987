// Package flow implements the conversation state machine: it routes each inbound
// event to a handler based on the user's current state and produces replies.
package flow

import (
	"context"

	"github.com/BTreeMap/NutriPipe/internal/models"
)

// StateManager defines the interface for managing conversation state.
type StateManager interface {
	// Get returns the user's session, creating it in the default state on first contact.
	Get(ctx context.Context, userID string) (models.Session, error)

	// SetState moves the user to state. Unknown states are rejected.
	SetState(ctx context.Context, userID string, state models.StateType) error

	// Reset returns the user to the default state.
	Reset(ctx context.Context, userID string) error
}
