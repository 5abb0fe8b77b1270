package handlers

import (
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/Dosada05/presenza-calcio/live"
	"github.com/Dosada05/presenza-calcio/services"
	"github.com/gorilla/websocket"
)

type WebSocketHandler struct {
	hub          *live.Hub
	eventService services.EventService
	upgrader     websocket.Upgrader
	logger       *slog.Logger
}

// NewWebSocketHandler accepts browser origins listed in allowedOrigins; "*" allows any.
func NewWebSocketHandler(hub *live.Hub, es services.EventService, allowedOrigins []string, logger *slog.Logger) *WebSocketHandler {
	h := &WebSocketHandler{hub: hub, eventService: es, logger: logger}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     originChecker(allowedOrigins),
	}
	return h
}

func originChecker(allowed []string) func(r *http.Request) bool {
	set := make(map[string]struct{}, len(allowed))
	for _, o := range allowed {
		if o == "*" {
			return func(*http.Request) bool { return true }
		}
		set[strings.TrimRight(strings.ToLower(o), "/")] = struct{}{}
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		u, err := url.Parse(origin)
		if err != nil {
			return false
		}
		_, ok := set[strings.ToLower(u.Scheme+"://"+u.Host)]
		return ok
	}
}

// ServeWs godoc
// @Summary      Live updates of one event
// @Description  Websocket feed of EVENT_UPDATED and EVENT_DELETED messages. The token may be passed as ?token=.
// @Tags         events
// @Param        eventID  path   string  true   "event id"
// @Param        token    query  string  false  "session token"
// @Router       /ws/events/{eventID} [get]
func (h *WebSocketHandler) ServeWs(w http.ResponseWriter, r *http.Request) {
	actor, ok := currentPrincipal(w, r)
	if !ok {
		return
	}
	eventID, err := getIDFromURL(r, "eventID")
	if err != nil {
		badRequestResponse(w, r, err)
		return
	}
	if _, err := h.eventService.GetEvent(r.Context(), actor, eventID); err != nil {
		mapServiceErrorToHTTP(w, r, err)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error.
		h.logger.WarnContext(r.Context(), "websocket upgrade failed", slog.String("event_id", eventID), slog.Any("error", err))
		return
	}

	client := live.NewClient(h.hub, conn, live.EventRoom(eventID))
	if !h.hub.Join(client) {
		_ = conn.Close()
		return
	}
	go client.WritePump()
	go client.ReadPump()

	h.logger.DebugContext(r.Context(), "websocket subscribed", slog.String("event_id", eventID), slog.String("email", actor.Email))
}
