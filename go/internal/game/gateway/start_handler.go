package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/rs/zerolog/log"

	"github.com/wordrush/wordrush/go/internal/game/startsync"
)

// Starter is the slice of the coordinator the start trigger needs.
type Starter interface {
	Begin(ctx context.Context, sessionID string, players []string, countdownSeconds int, gamePayload json.RawMessage) (startsync.BeginResult, error)
	Get(sessionID string) (startsync.SequenceView, bool)
	Cancel(ctx context.Context, sessionID string)
}

// Roster supplies the connected players of a room, seeding the sequence's
// expected set. The connection manager implements it.
type Roster interface {
	ConnectedPlayers(sessionID string) []string
}

// StartHandler is the HTTP boundary of the "game is starting" trigger. The
// request body, if any, is the opaque game payload (board, word list)
// forwarded untouched inside the start signal.
type StartHandler struct {
	starter Starter
	roster  Roster

	defaultCountdown int
}

// NewStartHandler creates the start trigger handler.
func NewStartHandler(starter Starter, roster Roster, defaultCountdown int) *StartHandler {
	return &StartHandler{
		starter:          starter,
		roster:           roster,
		defaultCountdown: defaultCountdown,
	}
}

// HandleStart begins a start sequence for the room's current roster and
// returns the sequence id plus any players whose initial delivery failed.
func (h *StartHandler) HandleStart(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	sessionID := r.URL.Query().Get("session_id")
	if sessionID == "" {
		http.Error(w, "session_id is required", http.StatusBadRequest)
		return
	}

	countdown := h.defaultCountdown
	if raw := r.URL.Query().Get("countdown"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			http.Error(w, "invalid countdown", http.StatusBadRequest)
			return
		}
		countdown = parsed
	}

	var gamePayload json.RawMessage
	if body, err := io.ReadAll(r.Body); err == nil && len(body) > 0 {
		if !json.Valid(body) {
			http.Error(w, "body must be JSON", http.StatusBadRequest)
			return
		}
		gamePayload = body
	}

	players := h.roster.ConnectedPlayers(sessionID)

	result, err := h.starter.Begin(r.Context(), sessionID, players, countdown, gamePayload)
	if err != nil {
		if errors.Is(err, startsync.ErrNoPlayers) {
			http.Error(w, "no players connected to session", http.StatusConflict)
			return
		}
		log.Error().Err(err).Str("session_id", sessionID).Msg("failed to begin start sequence")
		http.Error(w, "failed to begin start sequence", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(result); err != nil {
		log.Error().Err(err).Msg("failed to write start response")
	}
}

// HandleSyncStatus returns the session's active sequence snapshot, 404 when
// none is running.
func (h *StartHandler) HandleSyncStatus(w http.ResponseWriter, r *http.Request) {
	sessionID := r.URL.Query().Get("session_id")
	if sessionID == "" {
		http.Error(w, "session_id is required", http.StatusBadRequest)
		return
	}

	view, ok := h.starter.Get(sessionID)
	if !ok {
		http.Error(w, "no active sequence", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(view); err != nil {
		log.Error().Err(err).Msg("failed to write sync status")
	}
}

// HandleCancel cancels the session's active sequence. Idempotent.
func (h *StartHandler) HandleCancel(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	sessionID := r.URL.Query().Get("session_id")
	if sessionID == "" {
		http.Error(w, "session_id is required", http.StatusBadRequest)
		return
	}

	h.starter.Cancel(r.Context(), sessionID)
	w.WriteHeader(http.StatusNoContent)
}

// RegisterRoutes registers the room lifecycle routes with an HTTP mux.
func (h *StartHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/rooms/start", h.HandleStart)
	mux.HandleFunc("/rooms/sync", h.HandleSyncStatus)
	mux.HandleFunc("/rooms/cancel", h.HandleCancel)
}
