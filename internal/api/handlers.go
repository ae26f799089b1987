package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/BTreeMap/NutriPipe/internal/flow"
	"github.com/BTreeMap/NutriPipe/internal/format"
	"github.com/BTreeMap/NutriPipe/internal/messaging"
	"github.com/BTreeMap/NutriPipe/internal/models"
	"github.com/BTreeMap/NutriPipe/internal/util"
)

// eventRequest is the body of POST /events.
type eventRequest struct {
	models.Event
	PlainText bool `json:"plain_text,omitempty"`
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSONResponse(w, http.StatusOK, models.Success(map[string]string{"status": "healthy"}))
}

func (s *Server) eventsHandler(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()
	var req eventRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, MaxRequestBodyBytes))
	if err := dec.Decode(&req); err != nil {
		slog.Warn("Server.eventsHandler: failed to decode JSON", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}

	ev := req.Event
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if ev.Time.IsZero() {
		ev.Time = time.Now()
	}
	if err := util.ValidateEvent(&ev); err != nil {
		slog.Warn("Server.eventsHandler: validation failed", "error", err, "userID", ev.UserID)
		writeJSONResponse(w, http.StatusBadRequest, models.Error(err.Error()))
		return
	}

	res, err := s.dispatcher.Do(r.Context(), ev)
	if err != nil {
		status, msg := dispatchErrorStatus(err)
		slog.Error("Server.eventsHandler: dispatch failed", "error", err, "userID", ev.UserID, "status", status)
		writeJSONResponse(w, status, models.Error(msg))
		return
	}

	if req.PlainText {
		res = plainTextResult(res)
	}
	slog.Debug("Server.eventsHandler: event handled", "userID", ev.UserID, "handler", res.Handler, "state", res.State)
	writeJSONResponse(w, http.StatusOK, models.Success(res))
}

func (s *Server) listSessionsHandler(w http.ResponseWriter, r *http.Request) {
	sessions, err := s.store.ListSessions(r.Context())
	if err != nil {
		slog.Error("Server.listSessionsHandler: failed to list sessions", "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to list sessions"))
		return
	}
	if sessions == nil {
		sessions = []models.Session{}
	}
	writeJSONResponse(w, http.StatusOK, models.Success(sessions))
}

func (s *Server) getSessionHandler(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	sess, err := s.store.GetSession(r.Context(), userID)
	if err != nil {
		slog.Error("Server.getSessionHandler: failed to load session", "error", err, "userID", userID)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to load session"))
		return
	}
	if sess == nil {
		writeJSONResponse(w, http.StatusNotFound, models.Error("Session not found"))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(sess))
}

func (s *Server) resetSessionHandler(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	if err := s.states.Reset(r.Context(), userID); err != nil {
		slog.Error("Server.resetSessionHandler: failed to reset session", "error", err, "userID", userID)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to reset session"))
		return
	}
	slog.Info("Server.resetSessionHandler: session reset", "userID", userID)
	writeJSONResponse(w, http.StatusOK, models.SuccessWithMessage("Session reset", map[string]models.StateType{"state": models.DefaultState}))
}

func dispatchErrorStatus(err error) (int, string) {
	var verr *models.ValidationError
	switch {
	case errors.As(err, &verr):
		return http.StatusBadRequest, verr.Error()
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "Event processing timed out"
	case errors.Is(err, messaging.ErrDispatcherStopped):
		return http.StatusServiceUnavailable, "Service is shutting down"
	default:
		return http.StatusInternalServerError, "Failed to process event"
	}
}

func plainTextResult(res *flow.Result) *flow.Result {
	out := *res
	out.Replies = make([]models.Reply, len(res.Replies))
	for i, reply := range res.Replies {
		out.Replies[i] = models.Reply{Text: format.PlainText(reply.Text), Keyboard: reply.Keyboard}
	}
	return &out
}
