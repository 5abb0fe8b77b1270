package routes

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/Dosada05/presenza-calcio/db"
	"github.com/Dosada05/presenza-calcio/handlers"
	"github.com/Dosada05/presenza-calcio/live"
	"github.com/Dosada05/presenza-calcio/middleware"
	"github.com/Dosada05/presenza-calcio/repositories"
	"github.com/Dosada05/presenza-calcio/services"
	"github.com/go-chi/chi/v5"
	"github.com/golang-jwt/jwt/v4"
	"github.com/gorilla/websocket"
)

const (
	testSecret = "routes-secret"
	adminEmail = "mister@presenza.test"
	coachEmail = "coach@presenza.test"
	lucaEmail  = "luca@presenza.test"
)

type testServer struct {
	*httptest.Server
	hub *live.Hub
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	q, err := db.OpenSQLite(filepath.Join(t.TempDir(), "routes.db"), 5*time.Second)
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { _ = q.Close() })
	if err := db.Migrate(context.Background(), q, logger); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	hub := live.NewHub(logger)
	go hub.Run(ctx)

	teamRepo := repositories.NewTeamRepository(q)
	playerRepo := repositories.NewPlayerRepository(q)
	eventRepo := repositories.NewEventRepository(q)
	roleRepo := repositories.NewUserRoleRepository(q)
	consentRepo := repositories.NewConsentRepository(q)

	roleService := services.NewRoleService(roleRepo, []string{adminEmail}, logger)
	teamService := services.NewTeamService(teamRepo, playerRepo, eventRepo, q, logger)
	playerService := services.NewPlayerService(playerRepo, teamRepo)
	eventService := services.NewEventService(eventRepo, teamRepo, playerRepo, hub, logger)
	inviteService := services.NewInviteService(nil, logger)
	privacyService := services.NewPrivacyService(services.PrivacyDeps{
		RoleRepo:    roleRepo,
		PlayerRepo:  playerRepo,
		EventRepo:   eventRepo,
		ConsentRepo: consentRepo,
		BaseURL:     "http://presenza.test",
		Logger:      logger,
	})

	auth, err := middleware.NewAuthenticator(middleware.AuthConfig{HMACSecret: testSecret}, roleService, logger)
	if err != nil {
		t.Fatalf("new authenticator: %v", err)
	}

	router := chi.NewRouter()
	SetupRoutes(router, Handlers{
		Gateway:   handlers.NewGatewayHandler(teamService, playerService, eventService, roleService),
		Session:   handlers.NewSessionHandler(roleService),
		Event:     handlers.NewEventHandler(eventService),
		Invite:    handlers.NewInviteHandler(inviteService),
		Privacy:   handlers.NewPrivacyHandler(privacyService),
		WebSocket: handlers.NewWebSocketHandler(hub, eventService, []string{"*"}, logger),
		Health:    handlers.NewHealthHandler(q),
	}, auth.Authenticate, Options{AllowedOrigins: []string{"*"}, Logger: logger})

	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	return &testServer{Server: srv, hub: hub}
}

func tokenFor(t *testing.T, email string) string {
	t.Helper()
	claims := jwt.MapClaims{
		"sub":   "user_" + email,
		"email": email,
		"exp":   time.Now().Add(time.Hour).Unix(),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSecret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return signed
}

// call sends body as JSON (when not nil) and decodes the JSON answer.
func (s *testServer) call(t *testing.T, method, path, email string, body any) (int, map[string]any) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, s.URL+path, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if email != "" {
		req.Header.Set("Authorization", "Bearer "+tokenFor(t, email))
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	res, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer res.Body.Close()

	out := map[string]any{}
	if err := json.NewDecoder(res.Body).Decode(&out); err != nil && err != io.EOF {
		t.Fatalf("decode %s %s: %v", method, path, err)
	}
	return res.StatusCode, out
}

func (s *testServer) mustCall(t *testing.T, method, path, email string, body any, want int) map[string]any {
	t.Helper()
	status, out := s.call(t, method, path, email, body)
	if status != want {
		t.Fatalf("%s %s: expected %d, got %d: %v", method, path, want, status, out)
	}
	return out
}

func rows(t *testing.T, out map[string]any, table string) []map[string]any {
	t.Helper()
	list, ok := out[table].([]any)
	if !ok {
		t.Fatalf("expected %s array, got %v", table, out)
	}
	result := make([]map[string]any, len(list))
	for i, item := range list {
		result[i] = item.(map[string]any)
	}
	return result
}

// approve logs email in and lets the bootstrap admin grant role.
func (s *testServer) approve(t *testing.T, email, role string) {
	t.Helper()
	s.mustCall(t, http.MethodPost, "/api/session", adminEmail, nil, http.StatusOK)
	out := s.mustCall(t, http.MethodPost, "/api/session", email, nil, http.StatusOK)
	record := out["user_role"].(map[string]any)
	if record["role"] != "pending" {
		t.Fatalf("expected new login to be pending, got %v", record["role"])
	}
	s.mustCall(t, http.MethodPost, "/api/db", adminEmail, map[string]any{
		"action": "update_user_role",
		"table":  "user_roles",
		"id":     record["id"],
		"data":   map[string]any{"role": role, "approved_by": adminEmail},
	}, http.StatusOK)
}

func TestHealth(t *testing.T) {
	s := newTestServer(t)
	out := s.mustCall(t, http.MethodGet, "/health", "", nil, http.StatusOK)
	if out["status"] != "ok" {
		t.Fatalf("unexpected health body: %v", out)
	}
}

func TestGatewayRequiresToken(t *testing.T) {
	s := newTestServer(t)
	s.mustCall(t, http.MethodGet, "/api/db?table=teams", "", nil, http.StatusUnauthorized)
	s.mustCall(t, http.MethodPost, "/api/db", "", map[string]any{"action": "add_team"}, http.StatusUnauthorized)
	s.mustCall(t, http.MethodGet, "/api/events/e1", "", nil, http.StatusUnauthorized)
}

func TestPendingUserCannotReadTables(t *testing.T) {
	s := newTestServer(t)
	s.mustCall(t, http.MethodPost, "/api/session", "nuovo@presenza.test", nil, http.StatusOK)
	s.mustCall(t, http.MethodGet, "/api/db?table=teams", "nuovo@presenza.test", nil, http.StatusForbidden)
}

func TestGatewayRejectsBadRequests(t *testing.T) {
	s := newTestServer(t)
	s.mustCall(t, http.MethodPost, "/api/session", adminEmail, nil, http.StatusOK)

	s.mustCall(t, http.MethodGet, "/api/db?table=tournaments", adminEmail, nil, http.StatusBadRequest)
	s.mustCall(t, http.MethodPost, "/api/db", adminEmail, map[string]any{"action": "truncate"}, http.StatusBadRequest)
	s.mustCall(t, http.MethodPost, "/api/db", adminEmail, map[string]any{"action": "delete_team"}, http.StatusBadRequest)
	s.mustCall(t, http.MethodPost, "/api/db", adminEmail, map[string]any{
		"action": "add_team", "data": map[string]any{"name": " "},
	}, http.StatusBadRequest)
	s.mustCall(t, http.MethodPost, "/api/db", adminEmail, map[string]any{"action": "delete_team", "id": "nope"}, http.StatusNotFound)
}

func TestUserRolesLookupByEmail(t *testing.T) {
	s := newTestServer(t)
	s.mustCall(t, http.MethodPost, "/api/session", adminEmail, nil, http.StatusOK)
	s.mustCall(t, http.MethodPost, "/api/session", coachEmail, nil, http.StatusOK)

	out := s.mustCall(t, http.MethodGet, "/api/db?table=user_roles&email="+coachEmail, coachEmail, nil, http.StatusOK)
	own := rows(t, out, "user_roles")
	if len(own) != 1 || own[0]["email"] != coachEmail {
		t.Fatalf("expected own record, got %v", own)
	}

	out = s.mustCall(t, http.MethodGet, "/api/db?table=user_roles&email=ghost@presenza.test", adminEmail, nil, http.StatusOK)
	if len(rows(t, out, "user_roles")) != 0 {
		t.Fatalf("expected empty result for unknown email, got %v", out)
	}

	out = s.mustCall(t, http.MethodGet, "/api/db?table=user_roles", adminEmail, nil, http.StatusOK)
	if len(rows(t, out, "user_roles")) != 2 {
		t.Fatalf("expected two records, got %v", out)
	}
	s.mustCall(t, http.MethodGet, "/api/db?table=user_roles", coachEmail, nil, http.StatusForbidden)
}

func TestTeamEventLifecycle(t *testing.T) {
	s := newTestServer(t)
	s.mustCall(t, http.MethodPost, "/api/session", adminEmail, nil, http.StatusOK)
	s.approve(t, coachEmail, "coach")
	s.approve(t, lucaEmail, "player")

	s.mustCall(t, http.MethodPost, "/api/db", coachEmail, map[string]any{
		"action": "add_team", "table": "teams",
		"data": map[string]any{"id": "T1", "name": "Esordienti", "category": "U12"},
	}, http.StatusOK)
	s.mustCall(t, http.MethodPost, "/api/db", coachEmail, map[string]any{
		"action": "add_player", "table": "players",
		"data": map[string]any{"id": "P1", "teamId": "T1", "name": "Luca Rossi", "number": "9", "email": lucaEmail},
	}, http.StatusOK)
	s.mustCall(t, http.MethodPost, "/api/db", coachEmail, map[string]any{
		"action": "add_event", "table": "events",
		"data": map[string]any{
			"id": "E1", "teamId": "T1", "type": "match", "title": "Campionato",
			"date": "2026-10-18", "time": "10:30", "opponent": "Virtus",
			"convocati": []string{"P1"},
		},
	}, http.StatusOK)

	// The player answers through the gateway and sees the answer on the event.
	out := s.mustCall(t, http.MethodPost, "/api/db", lucaEmail, map[string]any{
		"action": "submit_response",
		"data":   map[string]any{"eventId": "E1", "playerId": "P1", "status": "accepted"},
	}, http.StatusOK)
	if out["success"] != true {
		t.Fatalf("expected success, got %v", out)
	}

	out = s.mustCall(t, http.MethodGet, "/api/events/E1", lucaEmail, nil, http.StatusOK)
	event := out["event"].(map[string]any)
	responses := event["responses"].(map[string]any)
	answer, ok := responses["P1"].(map[string]any)
	if !ok || answer["status"] != "accepted" {
		t.Fatalf("expected accepted answer for P1, got %v", responses)
	}
	if event["teamId"] != "T1" || event["team_id"] != "T1" {
		t.Fatalf("expected both team id spellings, got %v", event)
	}
	if event["version"] != float64(2) {
		t.Fatalf("expected version 2, got %v", event["version"])
	}

	// A stale update is rejected, a current one goes through and keeps the answer.
	s.mustCall(t, http.MethodPost, "/api/db", coachEmail, map[string]any{
		"action": "update_event", "id": "E1", "expected_version": 1,
		"data": map[string]any{"teamId": "T1", "type": "match", "title": "Campionato", "date": "2026-10-18", "convocati": []string{"P1"}},
	}, http.StatusConflict)
	out = s.mustCall(t, http.MethodPost, "/api/db", coachEmail, map[string]any{
		"action": "update_event", "id": "E1", "expected_version": 2,
		"data": map[string]any{"teamId": "T1", "type": "match", "title": "Campionato (anticipo)", "date": "2026-10-17", "convocati": []string{"P1"}},
	}, http.StatusOK)
	updated := out["event"].(map[string]any)
	if updated["title"] != "Campionato (anticipo)" || updated["responses"].(map[string]any)["P1"] == nil {
		t.Fatalf("unexpected updated event: %v", updated)
	}

	// Deleting the team removes its roster and events.
	s.mustCall(t, http.MethodPost, "/api/db", coachEmail, map[string]any{"action": "delete_team", "table": "teams", "id": "T1"}, http.StatusOK)
	s.mustCall(t, http.MethodGet, "/api/events/E1", coachEmail, nil, http.StatusNotFound)

	out = s.mustCall(t, http.MethodGet, "/api/db?table=players", coachEmail, nil, http.StatusOK)
	if players := rows(t, out, "players"); len(players) != 0 {
		t.Fatalf("expected no players left, got %v", players)
	}
	out = s.mustCall(t, http.MethodGet, "/api/db?table=events", coachEmail, nil, http.StatusOK)
	if events := rows(t, out, "events"); len(events) != 0 {
		t.Fatalf("expected no events left, got %v", events)
	}
}

func TestAddEventAcceptsEmptyArrayResponses(t *testing.T) {
	s := newTestServer(t)
	s.mustCall(t, http.MethodPost, "/api/session", adminEmail, nil, http.StatusOK)
	s.approve(t, coachEmail, "coach")

	s.mustCall(t, http.MethodPost, "/api/db", coachEmail, map[string]any{
		"action": "add_team", "table": "teams",
		"data": map[string]any{"id": "T1", "name": "Esordienti"},
	}, http.StatusOK)
	s.mustCall(t, http.MethodPost, "/api/db", coachEmail, map[string]any{
		"action": "add_event", "table": "events",
		"data": map[string]any{
			"id": "E1", "teamId": "T1", "type": "training", "title": "Allenamento",
			"date": "2026-10-18", "responses": []any{},
		},
	}, http.StatusOK)
	s.mustCall(t, http.MethodPost, "/api/db", coachEmail, map[string]any{
		"action": "add_event", "table": "events",
		"data": map[string]any{
			"id": "E2", "teamId": "T1", "type": "training", "title": "Allenamento",
			"date": "2026-10-19", "responses": []any{map[string]any{"status": "accepted"}},
		},
	}, http.StatusBadRequest)

	out := s.mustCall(t, http.MethodGet, "/api/events/E1", coachEmail, nil, http.StatusOK)
	responses, ok := out["event"].(map[string]any)["responses"].(map[string]any)
	if !ok || len(responses) != 0 {
		t.Fatalf("expected empty responses object, got %v", out["event"])
	}
}

func TestSubmitResponseEndpoint(t *testing.T) {
	s := newTestServer(t)
	s.mustCall(t, http.MethodPost, "/api/session", adminEmail, nil, http.StatusOK)
	s.approve(t, lucaEmail, "player")

	s.mustCall(t, http.MethodPost, "/api/db", adminEmail, map[string]any{"action": "add_team", "data": map[string]any{"id": "T1", "name": "Pulcini"}}, http.StatusOK)
	for _, p := range []map[string]any{
		{"id": "P1", "teamId": "T1", "name": "Luca", "email": lucaEmail},
		{"id": "P2", "teamId": "T1", "name": "Marco"},
	} {
		s.mustCall(t, http.MethodPost, "/api/db", adminEmail, map[string]any{"action": "add_player", "data": p}, http.StatusOK)
	}
	s.mustCall(t, http.MethodPost, "/api/db", adminEmail, map[string]any{
		"action": "add_event",
		"data":   map[string]any{"id": "E1", "teamId": "T1", "type": "training", "title": "Allenamento", "date": "2026-10-16", "convocati": []string{"P1", "P2"}},
	}, http.StatusOK)

	out := s.mustCall(t, http.MethodPost, "/api/events/E1/responses", lucaEmail, map[string]any{"player_id": "P1", "status": "declined"}, http.StatusOK)
	if out["event"].(map[string]any)["responses"].(map[string]any)["P1"] == nil {
		t.Fatalf("expected P1 answer in %v", out)
	}

	s.mustCall(t, http.MethodPost, "/api/events/E1/responses", lucaEmail, map[string]any{"player_id": "P2", "status": "accepted"}, http.StatusForbidden)
	s.mustCall(t, http.MethodPost, "/api/events/E1/responses", lucaEmail, map[string]any{"player_id": "P1", "status": "forse"}, http.StatusBadRequest)
	s.mustCall(t, http.MethodPost, "/api/events/E404/responses", lucaEmail, map[string]any{"player_id": "P1", "status": "accepted"}, http.StatusNotFound)
}

func TestPrivacyPublicEndpoints(t *testing.T) {
	s := newTestServer(t)
	out := s.mustCall(t, http.MethodPost, "/api/privacy/age-verification", "", map[string]any{"birth_date": "1990-01-01"}, http.StatusOK)
	if out["requires_parental_consent"] != false {
		t.Fatalf("expected adult, got %v", out)
	}
	s.mustCall(t, http.MethodPost, "/api/privacy/age-verification", "", map[string]any{"birth_date": "01/01/1990"}, http.StatusBadRequest)
	s.mustCall(t, http.MethodGet, "/api/privacy/parental-consents/missing/confirm?token=abc", "", nil, http.StatusNotFound)
}

func TestDeleteAccountRequiresConfirmationWord(t *testing.T) {
	s := newTestServer(t)
	s.approve(t, lucaEmail, "player")
	s.mustCall(t, http.MethodPost, "/api/privacy/delete-account", lucaEmail, map[string]any{"confirmation": "elimina"}, http.StatusBadRequest)
}

func TestInviteRequiresStaff(t *testing.T) {
	s := newTestServer(t)
	s.approve(t, lucaEmail, "player")
	s.mustCall(t, http.MethodPost, "/api/invite-user", lucaEmail, map[string]any{"email": "x@presenza.test", "firstName": "X", "lastName": "Y"}, http.StatusForbidden)
	s.mustCall(t, http.MethodPost, "/api/invite-user", adminEmail, map[string]any{"email": "x@presenza.test", "firstName": "X", "lastName": "Y"}, http.StatusServiceUnavailable)
}

func TestEventWebsocketReceivesUpdates(t *testing.T) {
	s := newTestServer(t)
	s.mustCall(t, http.MethodPost, "/api/session", adminEmail, nil, http.StatusOK)
	s.mustCall(t, http.MethodPost, "/api/db", adminEmail, map[string]any{"action": "add_team", "data": map[string]any{"id": "T1", "name": "Pulcini"}}, http.StatusOK)
	s.mustCall(t, http.MethodPost, "/api/db", adminEmail, map[string]any{"action": "add_player", "data": map[string]any{"id": "P1", "teamId": "T1", "name": "Luca"}}, http.StatusOK)
	s.mustCall(t, http.MethodPost, "/api/db", adminEmail, map[string]any{
		"action": "add_event",
		"data":   map[string]any{"id": "E1", "teamId": "T1", "type": "training", "title": "Allenamento", "date": "2026-10-16", "convocati": []string{"P1"}},
	}, http.StatusOK)

	wsURL := "ws" + strings.TrimPrefix(s.URL, "http") + "/ws/events/E1?token=" + tokenFor(t, adminEmail)
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	deadline := time.Now().Add(2 * time.Second)
	for s.hub.RoomSize(live.EventRoom("E1")) == 0 {
		if time.Now().After(deadline) {
			t.Fatal("client never joined the event room")
		}
		time.Sleep(5 * time.Millisecond)
	}

	s.mustCall(t, http.MethodPost, "/api/events/E1/responses", adminEmail, map[string]any{"player_id": "P1", "status": "accepted"}, http.StatusOK)

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg struct {
		Type    string         `json:"type"`
		Payload map[string]any `json:"payload"`
		RoomID  string         `json:"room_id"`
	}
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("read message: %v", err)
	}
	if msg.Type != live.MessageEventUpdated || msg.RoomID != "event_E1" || msg.Payload["id"] != "E1" {
		t.Fatalf("unexpected message: %+v", msg)
	}
}

func TestWebsocketUnknownEvent(t *testing.T) {
	s := newTestServer(t)
	s.mustCall(t, http.MethodPost, "/api/session", adminEmail, nil, http.StatusOK)

	wsURL := "ws" + strings.TrimPrefix(s.URL, "http") + "/ws/events/nope?token=" + tokenFor(t, adminEmail)
	_, res, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err == nil {
		t.Fatal("expected handshake to fail")
	}
	if res == nil || res.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 handshake response, got %v", res)
	}
}
