package gamification

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/infrasight/backend/internal/middleware"
	"github.com/infrasight/backend/internal/models"
)

// EventSink accepts raw events for the nightly drain.
type EventSink interface {
	InsertRawEvent(ctx context.Context, ev *models.RawEvent) error
}

type Handler struct {
	service *Service
	runner  *Runner
	events  EventSink
}

func NewHandler(service *Service, runner *Runner, events EventSink) *Handler {
	return &Handler{service: service, runner: runner, events: events}
}

// ── Award Endpoints ─────────────────────────────────────

func (h *Handler) AwardLogin(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		writeJSON(w, http.StatusUnauthorized, models.ErrorResponse{Error: "Authentication required"})
		return
	}

	resp, err := h.service.ApplyLogin(r.Context(), userID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) AwardCommand(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		writeJSON(w, http.StatusUnauthorized, models.ErrorResponse{Error: "Authentication required"})
		return
	}

	var req models.PointsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, models.ErrorResponse{Error: "Invalid request body"})
		return
	}
	if req.ActionUUID == "" {
		writeJSON(w, http.StatusBadRequest, models.ErrorResponse{Error: "action_uuid is required"})
		return
	}

	resp, err := h.service.ApplyCommand(r.Context(), req, userID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) GetMe(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		writeJSON(w, http.StatusUnauthorized, models.ErrorResponse{Error: "Authentication required"})
		return
	}

	resp, err := h.service.GetUserMe(r.Context(), userID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// ── Leaderboard ─────────────────────────────────────────

func (h *Handler) Leaderboard(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	start, end, err := windowParams(q)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, models.ErrorResponse{Error: err.Error()})
		return
	}

	page := intQueryParam(q, "page", 0)
	size := intQueryParam(q, "size", 20)
	department := q.Get("department")

	resp, err := h.service.GetLeaderboard(r.Context(), start, end, page, size, department)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) SearchRanks(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	query := q.Get("q")
	if query == "" {
		writeJSON(w, http.StatusBadRequest, models.ErrorResponse{Error: "q parameter is required"})
		return
	}
	start, end, err := windowParams(q)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, models.ErrorResponse{Error: err.Error()})
		return
	}

	entries, err := h.service.SearchRanks(r.Context(), query, start, end, q.Get("department"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"results": entries})
}

func (h *Handler) ListBadges(w http.ResponseWriter, r *http.Request) {
	badges, err := h.service.ListBadges(r.Context())
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"badges": badges})
}

// ── Event Ingestion ─────────────────────────────────────

// IngestEvent stores a raw event for the nightly drain. Events without an
// action UUID get one assigned; re-sent UUIDs are acknowledged without a
// second row.
func (h *Handler) IngestEvent(w http.ResponseWriter, r *http.Request) {
	var req models.IngestEventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, models.ErrorResponse{Error: "Invalid request body"})
		return
	}
	if req.UserID == "" || req.Event == "" {
		writeJSON(w, http.StatusBadRequest, models.ErrorResponse{Error: "user_id and event are required"})
		return
	}
	if req.ActionUUID == "" {
		req.ActionUUID = uuid.NewString()
	}

	ev := &models.RawEvent{
		ActionUUID:  req.ActionUUID,
		UserID:      req.UserID,
		Event:       req.Event,
		Environment: req.Environment,
		Servers:     req.Servers,
		Parameters:  req.Parameters,
	}
	if err := h.events.InsertRawEvent(r.Context(), ev); err != nil {
		if errors.Is(err, ErrDuplicateAction) {
			writeJSON(w, http.StatusOK, map[string]string{"status": "duplicate", "action_uuid": req.ActionUUID})
			return
		}
		writeJSON(w, http.StatusInternalServerError, models.ErrorResponse{Error: "Failed to store event"})
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"status": "queued", "action_uuid": ev.ActionUUID})
}

// ── Admin ───────────────────────────────────────────────

func (h *Handler) ReloadConfig(w http.ResponseWriter, r *http.Request) {
	if err := h.service.ReloadConfig(r.Context()); err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "reloaded"})
}

func (h *Handler) RunDailyBatch(w http.ResponseWriter, r *http.Request) {
	summary, err := h.runner.RunDailyBatch(r.Context())
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, models.ErrorResponse{Error: "Batch run failed"})
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (h *Handler) RunWeeklyStreaks(w http.ResponseWriter, r *http.Request) {
	if err := h.runner.RunWeeklyStreakRecompute(r.Context()); err != nil {
		writeJSON(w, http.StatusInternalServerError, models.ErrorResponse{Error: "Weekly streak recompute failed"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "done"})
}

// ── Helpers ─────────────────────────────────────────────

// windowParams parses the RFC3339 start/end query params, defaulting to the
// current UTC week.
func windowParams(q url.Values) (time.Time, time.Time, error) {
	start, end := CurrentWeekWindow(time.Now())
	if s := q.Get("start"); s != "" {
		t, err := time.Parse(time.RFC3339, s)
		if err != nil {
			return time.Time{}, time.Time{}, errors.New("start must be RFC3339")
		}
		start = t
	}
	if s := q.Get("end"); s != "" {
		t, err := time.Parse(time.RFC3339, s)
		if err != nil {
			return time.Time{}, time.Time{}, errors.New("end must be RFC3339")
		}
		end = t
	}
	if !end.After(start) {
		return time.Time{}, time.Time{}, errors.New("end must be after start")
	}
	return start, end, nil
}

func writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrConfigMissing):
		writeJSON(w, http.StatusInternalServerError, models.ErrorResponse{Error: "Scoring configuration missing"})
	case errors.Is(err, ErrMissingAction):
		writeJSON(w, http.StatusBadRequest, models.ErrorResponse{Error: "action_uuid is required"})
	default:
		writeJSON(w, http.StatusInternalServerError, models.ErrorResponse{Error: "Internal server error"})
	}
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func intQueryParam(query url.Values, key string, defaultVal int) int {
	s := query.Get(key)
	if s == "" {
		return defaultVal
	}
	v, err := strconv.Atoi(s)
	if err != nil || v < 0 {
		return defaultVal
	}
	return v
}
