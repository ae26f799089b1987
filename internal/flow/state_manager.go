package flow

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/BTreeMap/NutriPipe/internal/models"
	"github.com/BTreeMap/NutriPipe/internal/store"
)

// StoreBasedStateManager implements StateManager using a Store backend.
type StoreBasedStateManager struct {
	store store.Store
	now   func() time.Time
}

// NewStoreBasedStateManager creates a new StateManager backed by a Store.
func NewStoreBasedStateManager(st store.Store) *StoreBasedStateManager {
	slog.Debug("Creating StoreBasedStateManager")
	return &StoreBasedStateManager{store: st, now: time.Now}
}

// Get returns the user's session, creating and persisting a fresh one if absent.
// A stored state outside the known set is repaired to the default state.
func (sm *StoreBasedStateManager) Get(ctx context.Context, userID string) (models.Session, error) {
	session, err := sm.store.GetSession(ctx, userID)
	if err != nil {
		slog.Error("StateManager Get error", "error", err, "userID", userID)
		return models.Session{}, err
	}

	if session == nil {
		fresh := models.NewSession(userID, sm.now())
		if err := sm.store.SaveSession(ctx, fresh); err != nil {
			slog.Error("StateManager Get create error", "error", err, "userID", userID)
			return models.Session{}, err
		}
		slog.Debug("StateManager Get created session", "userID", userID, "state", fresh.State)
		return fresh, nil
	}

	if !models.IsValidState(session.State) {
		slog.Warn("StateManager Get found unknown state, using default", "userID", userID, "state", session.State)
		session.State = models.DefaultState
	}
	return *session, nil
}

// SetState updates the user's state. Every call is a full upsert, so the last write wins.
func (sm *StoreBasedStateManager) SetState(ctx context.Context, userID string, state models.StateType) error {
	if !models.IsValidState(state) {
		return fmt.Errorf("%w: %q", models.ErrInvalidState, state)
	}

	session, err := sm.Get(ctx, userID)
	if err != nil {
		return err
	}
	from := session.State
	session.State = state
	session.UpdatedAt = sm.now()

	if err := sm.store.SaveSession(ctx, session); err != nil {
		slog.Error("StateManager SetState save error", "error", err, "userID", userID, "state", state)
		return err
	}

	if from != state {
		slog.Debug("StateManager SetState succeeded", "userID", userID, "from", from, "to", state)
	}
	return nil
}

// Reset returns the user to the default state.
func (sm *StoreBasedStateManager) Reset(ctx context.Context, userID string) error {
	if err := sm.SetState(ctx, userID, models.DefaultState); err != nil {
		slog.Error("StateManager Reset error", "error", err, "userID", userID)
		return err
	}
	slog.Info("StateManager Reset succeeded", "userID", userID)
	return nil
}
