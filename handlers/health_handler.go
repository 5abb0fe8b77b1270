package handlers

import (
	"context"
	"net/http"
	"time"
)

// Pinger is implemented by every database backend.
type Pinger interface {
	Ping(ctx context.Context) error
}

type HealthHandler struct {
	db Pinger
}

func NewHealthHandler(db Pinger) *HealthHandler {
	return &HealthHandler{db: db}
}

// Health godoc
// @Summary      Liveness and database reachability
// @Tags         health
// @Produce      json
// @Success      200  {object}  map[string]string
// @Failure      503  {object}  map[string]string
// @Router       /health [get]
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	status, code := "ok", http.StatusOK
	if err := h.db.Ping(ctx); err != nil {
		status, code = "database unreachable", http.StatusServiceUnavailable
	}
	if err := writeJSON(w, code, jsonResponse{"status": status}, nil); err != nil {
		serverErrorResponse(w, r, err)
	}
}
