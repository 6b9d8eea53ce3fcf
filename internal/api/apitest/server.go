// Package apitest provides an in-process fake of the persona chat service
// for tests.
package apitest

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/nhle/chatsync/internal/model"
)

// Route names used for failure injection and call counting.
const (
	RoutePersonas      = "personas"
	RouteCreateSession = "create_session"
	RouteMessages      = "messages"
	RouteSummary       = "summary"
	RouteChat          = "chat"
	RouteAlerts        = "alerts"
	RouteAlertUpdate   = "alert_update"
	RouteDueAlerts     = "due_alerts"
)

type failure struct {
	status int
	detail string
}

type fakeSession struct {
	id        string
	personaID string
	createdAt time.Time
	messages  []model.Message
	summary   *model.Summary
}

// Server is a fake chat service backed by in-memory state.
type Server struct {
	*httptest.Server

	mu       sync.Mutex
	personas []model.Persona
	sessions map[string]*fakeSession
	alerts   []model.Alert
	failures map[string]failure
	calls    map[string]int
	seq      int

	// OmitMessageIDs makes chat replies leave out the persisted message ids.
	OmitMessageIDs bool

	// ToolEvents, when set, is attached to every chat reply.
	ToolEvents []model.ToolEvent

	// Gate, when non-nil, blocks chat replies until it is closed or
	// receives a value.
	Gate chan struct{}

	// HistoryGate, when non-nil, holds message history responses until it
	// is closed. The history is read before waiting, so the response
	// reflects the session as it was when the request arrived.
	HistoryGate chan struct{}
}

// New starts a fake server seeded with two personas. It is closed when the
// test completes.
func New(t testing.TB) *Server {
	t.Helper()

	s := &Server{
		personas: []model.Persona{
			{ID: "p1", Name: "Coach", Description: "Direct and practical"},
			{ID: "p2", Name: "Friend", Description: "Warm and casual"},
		},
		sessions: make(map[string]*fakeSession),
		failures: make(map[string]failure),
		calls:    make(map[string]int),
	}

	r := chi.NewRouter()
	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Get("/personas", s.route(RoutePersonas, s.listPersonas))
	r.Post("/sessions", s.route(RouteCreateSession, s.createSession))
	r.Get("/sessions/{id}/messages", s.route(RouteMessages, s.getMessages))
	r.Get("/sessions/{id}/summary", s.route(RouteSummary, s.getSummary))
	r.Post("/chat/send", s.route(RouteChat, s.chatSend))
	r.Get("/alerts/due", s.route(RouteDueAlerts, s.dueAlerts))
	r.Get("/alerts", s.route(RouteAlerts, s.listAlerts))
	r.Post("/alerts/{id}/done", s.route(RouteAlertUpdate, s.updateAlert(model.AlertStatusDone)))
	r.Post("/alerts/{id}/cancel", s.route(RouteAlertUpdate, s.updateAlert(model.AlertStatusCancelled)))

	s.Server = httptest.NewServer(r)
	t.Cleanup(s.Close)
	return s
}

// Fail makes every request to route answer with status and a FastAPI
// style detail until Recover is called.
func (s *Server) Fail(route string, status int, detail string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[route] = failure{status: status, detail: detail}
}

// Recover clears an injected failure for route.
func (s *Server) Recover(route string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.failures, route)
}

// Calls returns how many requests route has received.
func (s *Server) Calls(route string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[route]
}

// SeedSession registers an existing session, as if created in an earlier
// run.
func (s *Server) SeedSession(id, personaID string, messages ...model.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[id] = &fakeSession{
		id:        id,
		personaID: personaID,
		createdAt: time.Now().UTC(),
		messages:  append([]model.Message(nil), messages...),
	}
}

// SetSummary sets the rolling summary of a session.
func (s *Server) SetSummary(sessionID, text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sess, ok := s.sessions[sessionID]; ok {
		sess.summary = &model.Summary{Text: text, OpenLoops: []string{}, UpdatedAt: time.Now().UTC()}
	}
}

// AddAlert stores an alert. Alerts with a past due time and active status
// are returned by the due endpoint.
func (s *Server) AddAlert(a model.Alert) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if a.Status == "" {
		a.Status = model.AlertStatusActive
	}
	if a.Scope == "" {
		a.Scope = model.AlertScopeSession
	}
	s.alerts = append(s.alerts, a)
}

// Alert returns the stored alert with id.
func (s *Server) Alert(id string) (model.Alert, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, a := range s.alerts {
		if a.ID == id {
			return a, true
		}
	}
	return model.Alert{}, false
}

// SessionIDs returns the ids of all known sessions.
func (s *Server) SessionIDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.sessions))
	for id := range s.sessions {
		ids = append(ids, id)
	}
	return ids
}

func (s *Server) route(name string, h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		s.calls[name]++
		f, failing := s.failures[name]
		s.mu.Unlock()

		if failing {
			writeJSON(w, f.status, map[string]string{"detail": f.detail})
			return
		}
		h(w, r)
	}
}

func (s *Server) nextID(prefix string) string {
	s.seq++
	return fmt.Sprintf("%s-%d", prefix, s.seq)
}

func (s *Server) listPersonas(w http.ResponseWriter, _ *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	writeJSON(w, http.StatusOK, s.personas)
}

func (s *Server) createSession(w http.ResponseWriter, r *http.Request) {
	var req struct {
		PersonaID string `json:"persona_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"detail": err.Error()})
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	known := false
	for _, p := range s.personas {
		if p.ID == req.PersonaID {
			known = true
			break
		}
	}
	if !known {
		writeJSON(w, http.StatusBadRequest, map[string]string{"detail": "Invalid persona_id"})
		return
	}

	id := s.nextID("s")
	s.sessions[id] = &fakeSession{id: id, personaID: req.PersonaID, createdAt: time.Now().UTC()}
	writeJSON(w, http.StatusOK, map[string]string{"session_id": id})
}

func (s *Server) session(w http.ResponseWriter, id string) (*fakeSession, bool) {
	sess, ok := s.sessions[id]
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"detail": "Session not found"})
	}
	return sess, ok
}

func (s *Server) descriptor(sess *fakeSession) map[string]interface{} {
	return map[string]interface{}{
		"id":         sess.id,
		"persona_id": sess.personaID,
		"created_at": sess.createdAt,
	}
}

func (s *Server) getMessages(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	sess, ok := s.session(w, chi.URLParam(r, "id"))
	if !ok {
		s.mu.Unlock()
		return
	}

	limit := 50
	if v, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && v > 0 {
		limit = v
	}
	msgs := append([]model.Message(nil), sess.messages...)
	if len(msgs) > limit {
		msgs = msgs[:limit]
	}
	body := map[string]interface{}{
		"session":  s.descriptor(sess),
		"messages": msgs,
	}
	gate := s.HistoryGate
	s.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-r.Context().Done():
			return
		}
	}
	writeJSON(w, http.StatusOK, body)
}

func (s *Server) getSummary(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.session(w, chi.URLParam(r, "id"))
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"session": s.descriptor(sess),
		"summary": sess.summary,
	})
}

func (s *Server) chatSend(w http.ResponseWriter, r *http.Request) {
	var req struct {
		SessionID string `json:"session_id"`
		Message   string `json:"message"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"detail": err.Error()})
		return
	}

	s.mu.Lock()
	gate := s.Gate
	s.mu.Unlock()
	if gate != nil {
		select {
		case <-gate:
		case <-r.Context().Done():
			return
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.session(w, req.SessionID)
	if !ok {
		return
	}

	now := time.Now().UTC()
	user := model.Message{ID: s.nextID("m"), Role: model.RoleUser, Content: req.Message, CreatedAt: now}
	reply := model.Message{ID: s.nextID("m"), Role: model.RoleAssistant, Content: "echo: " + req.Message, CreatedAt: now}
	sess.messages = append(sess.messages, user, reply)

	resp := map[string]interface{}{
		"session_id": sess.id,
		"persona_id": sess.personaID,
		"assistant":  reply.Content,
		"judge": map[string]interface{}{
			"verdict":   "PASS",
			"reason":    "ok",
			"risk_tags": []string{},
		},
		"tool_events": s.ToolEvents,
	}
	if !s.OmitMessageIDs {
		resp["user_message_id"] = user.ID
		resp["assistant_message_id"] = reply.ID
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) listAlerts(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	scope := q.Get("scope")
	if scope != "global" && scope != "session" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"detail": "scope must be 'global' or 'session'"})
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	out := []model.Alert{}
	for _, a := range s.alerts {
		if scope == "session" && a.SessionID != q.Get("session_id") {
			continue
		}
		if st := q.Get("status"); st != "" && string(a.Status) != st {
			continue
		}
		out = append(out, a)
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) updateAlert(status model.AlertStatus) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")

		s.mu.Lock()
		defer s.mu.Unlock()

		for i := range s.alerts {
			if s.alerts[i].ID == id {
				s.alerts[i].Status = status
				s.alerts[i].UpdatedAt = time.Now().UTC()
				writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
				return
			}
		}
		writeJSON(w, http.StatusNotFound, map[string]string{"detail": "Alert not found"})
	}
}

func (s *Server) dueAlerts(w http.ResponseWriter, r *http.Request) {
	sessionID := r.URL.Query().Get("session_id")
	limit := 10
	if v, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && v > 0 {
		limit = v
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	out := []model.Alert{}
	for _, a := range s.alerts {
		if sessionID != "" && a.SessionID != sessionID {
			continue
		}
		if !a.IsDue(now) {
			continue
		}
		out = append(out, a)
		if len(out) == limit {
			break
		}
	}
	writeJSON(w, http.StatusOK, out)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
