package gamification

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/infrasight/backend/internal/middleware"
	"github.com/infrasight/backend/internal/models"
)

// memSink collects ingested raw events and rejects duplicate action UUIDs.
type memSink struct {
	memEvents
}

func (m *memSink) InsertRawEvent(ctx context.Context, ev *models.RawEvent) error {
	for _, existing := range m.events {
		if existing.ActionUUID == ev.ActionUUID {
			return ErrDuplicateAction
		}
	}
	ev.ID = int64(len(m.events) + 1)
	m.events = append(m.events, *ev)
	return nil
}

func newTestHandler(t *testing.T) (*Handler, *memStore, *memSink) {
	t.Helper()
	store := newMemStore()
	svc := newTestService(store, time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC))
	sink := &memSink{}
	runner := NewRunner(svc, &sink.memEvents, store)
	return NewHandler(svc, runner, sink), store, sink
}

func authedRequest(method, target, body string) *http.Request {
	var r *http.Request
	if body == "" {
		r = httptest.NewRequest(method, target, nil)
	} else {
		r = httptest.NewRequest(method, target, strings.NewReader(body))
	}
	return r.WithContext(middleware.WithUserID(r.Context(), "u-1"))
}

func TestAwardCommandRequiresAuth(t *testing.T) {
	h, _, _ := newTestHandler(t)

	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodPost, "/gamify/command", strings.NewReader(`{}`))
	h.AwardCommand(w, r)

	if w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", w.Code)
	}
}

func TestAwardCommandMissingActionUUID(t *testing.T) {
	h, _, _ := newTestHandler(t)

	w := httptest.NewRecorder()
	r := authedRequest(http.MethodPost, "/gamify/command", `{"event":"fleet.exec"}`)
	h.AwardCommand(w, r)

	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
}

func TestAwardCommandResponds(t *testing.T) {
	h, store, _ := newTestHandler(t)

	w := httptest.NewRecorder()
	r := authedRequest(http.MethodPost, "/gamify/command",
		`{"event":"fleet.exec","environment":"prod","servers":["web-01"],"action_uuid":"c-1"}`)
	h.AwardCommand(w, r)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}
	var resp models.PointsResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	// 10 * 1.2 = 12, plus the first_command bonus.
	if resp.Delta != 17 {
		t.Errorf("delta = %d, want 17", resp.Delta)
	}
	if store.users["u-1"].TotalPoints != 17 {
		t.Errorf("saved total = %d, want 17", store.users["u-1"].TotalPoints)
	}
}

func TestLeaderboardRejectsBadWindow(t *testing.T) {
	h, _, _ := newTestHandler(t)

	tests := []string{
		"/gamify/leaderboard?start=notatime",
		"/gamify/leaderboard?start=2026-03-10T00:00:00Z&end=2026-03-09T00:00:00Z",
	}
	for _, target := range tests {
		w := httptest.NewRecorder()
		h.Leaderboard(w, authedRequest(http.MethodGet, target, ""))
		if w.Code != http.StatusBadRequest {
			t.Errorf("%s: status = %d, want 400", target, w.Code)
		}
	}
}

func TestSearchRanksRequiresQuery(t *testing.T) {
	h, _, _ := newTestHandler(t)

	w := httptest.NewRecorder()
	h.SearchRanks(w, authedRequest(http.MethodGet, "/gamify/leaderboard/search", ""))
	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
}

func TestIngestEventQueuesAndDeduplicates(t *testing.T) {
	h, _, sink := newTestHandler(t)

	body := `{"user_id":"u-1","event":"fleet.exec","action_uuid":"e-1"}`
	w := httptest.NewRecorder()
	h.IngestEvent(w, httptest.NewRequest(http.MethodPost, "/events", strings.NewReader(body)))
	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201", w.Code)
	}
	if len(sink.events) != 1 {
		t.Fatalf("stored events = %d, want 1", len(sink.events))
	}

	// Re-sending the same action UUID is acknowledged without a second row.
	w = httptest.NewRecorder()
	h.IngestEvent(w, httptest.NewRequest(http.MethodPost, "/events", strings.NewReader(body)))
	if w.Code != http.StatusOK {
		t.Errorf("duplicate status = %d, want 200", w.Code)
	}
	if len(sink.events) != 1 {
		t.Errorf("stored events = %d, want 1", len(sink.events))
	}
}

func TestIngestEventAssignsActionUUID(t *testing.T) {
	h, _, sink := newTestHandler(t)

	body := `{"user_id":"u-1","event":"fleet.exec"}`
	w := httptest.NewRecorder()
	h.IngestEvent(w, httptest.NewRequest(http.MethodPost, "/events", strings.NewReader(body)))
	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201", w.Code)
	}
	if sink.events[0].ActionUUID == "" {
		t.Error("expected a generated action uuid")
	}
}

func TestIngestEventValidates(t *testing.T) {
	h, _, _ := newTestHandler(t)

	for _, body := range []string{`{}`, `{"user_id":"u-1"}`, `{"event":"fleet.exec"}`} {
		w := httptest.NewRecorder()
		h.IngestEvent(w, httptest.NewRequest(http.MethodPost, "/events", strings.NewReader(body)))
		if w.Code != http.StatusBadRequest {
			t.Errorf("body %s: status = %d, want 400", body, w.Code)
		}
	}
}

func TestGetMeIncludesBadges(t *testing.T) {
	h, _, _ := newTestHandler(t)

	w := httptest.NewRecorder()
	r := authedRequest(http.MethodPost, "/gamify/command",
		`{"event":"fleet.exec","servers":["web-01"],"action_uuid":"c-1"}`)
	h.AwardCommand(w, r)
	if w.Code != http.StatusOK {
		t.Fatalf("award status = %d", w.Code)
	}

	w = httptest.NewRecorder()
	h.GetMe(w, authedRequest(http.MethodGet, "/gamify/me", ""))
	if w.Code != http.StatusOK {
		t.Fatalf("me status = %d", w.Code)
	}
	var me models.UserMeResponse
	if err := json.NewDecoder(w.Body).Decode(&me); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if me.TotalCommands != 1 || me.UniqueServers != 1 {
		t.Errorf("me = %+v", me)
	}
	if len(me.Badges) != 1 || me.Badges[0] != "first_command" {
		t.Errorf("badges = %v, want [first_command]", me.Badges)
	}
}
