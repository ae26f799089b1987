// Package recovery runs startup checks over persisted conversation state so the
// bot resumes cleanly after a restart or a crash.
package recovery

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/BTreeMap/NutriPipe/internal/models"
	"github.com/BTreeMap/NutriPipe/internal/store"
)

// Recoverable is a component that restores or repairs its state at startup.
type Recoverable interface {
	// Name identifies the component in logs.
	Name() string
	// RecoverState is called once before the transports start.
	RecoverState(ctx context.Context, st store.Store) error
}

// RecoveryManager runs every registered Recoverable against one store.
type RecoveryManager struct {
	store        store.Store
	recoverables []Recoverable
}

// NewRecoveryManager creates a new recovery manager
func NewRecoveryManager(st store.Store) *RecoveryManager {
	return &RecoveryManager{store: st}
}

// RegisterRecoverable adds a component that can be recovered
func (rm *RecoveryManager) RegisterRecoverable(r Recoverable) {
	rm.recoverables = append(rm.recoverables, r)
}

// RecoverAll runs all components. A failing component does not stop the others.
func (rm *RecoveryManager) RecoverAll(ctx context.Context) error {
	slog.Info("RecoveryManager.RecoverAll: starting recovery", "components", len(rm.recoverables))

	errorCount := 0
	for _, r := range rm.recoverables {
		if err := r.RecoverState(ctx, rm.store); err != nil {
			slog.Error("RecoveryManager.RecoverAll: component recovery failed", "error", err, "component", r.Name())
			errorCount++
		}
	}

	slog.Info("RecoveryManager.RecoverAll: recovery completed", "recovered", len(rm.recoverables)-errorCount, "errors", errorCount)
	if errorCount > 0 {
		return fmt.Errorf("recovery completed with %d errors out of %d components", errorCount, len(rm.recoverables))
	}
	return nil
}

// SweepReport counts what a SessionSweeper did.
type SweepReport struct {
	Checked  int
	Repaired int
	Expired  int
}

// SessionSweeper repairs stored sessions whose state is not a known state and,
// when TTL is positive, drops sessions idle for longer than TTL. Sessions idle
// while the process was down would otherwise wait for the first janitor tick.
type SessionSweeper struct {
	TTL  time.Duration
	Now  func() time.Time
	Last SweepReport
}

func (s *SessionSweeper) Name() string { return "sessions" }

func (s *SessionSweeper) RecoverState(ctx context.Context, st store.Store) error {
	now := time.Now
	if s.Now != nil {
		now = s.Now
	}
	sessions, err := st.ListSessions(ctx)
	if err != nil {
		return fmt.Errorf("failed to list sessions: %w", err)
	}

	var report SweepReport
	cutoff := now().Add(-s.TTL)
	for _, sess := range sessions {
		report.Checked++
		if s.TTL > 0 && sess.UpdatedAt.Before(cutoff) {
			if err := st.DeleteSession(ctx, sess.UserID); err != nil {
				return fmt.Errorf("failed to delete expired session %s: %w", sess.UserID, err)
			}
			report.Expired++
			continue
		}
		if !models.IsValidState(sess.State) {
			slog.Warn("SessionSweeper.RecoverState: repairing unknown state", "userID", sess.UserID, "state", sess.State)
			sess.State = models.DefaultState
			if err := st.SaveSession(ctx, sess); err != nil {
				return fmt.Errorf("failed to repair session %s: %w", sess.UserID, err)
			}
			report.Repaired++
		}
	}

	s.Last = report
	slog.Info("SessionSweeper.RecoverState: sessions checked", "checked", report.Checked, "repaired", report.Repaired, "expired", report.Expired)
	return nil
}
