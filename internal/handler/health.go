package handler

import (
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/twopix/pairing-server-go/internal/repository"
	"github.com/twopix/pairing-server-go/internal/sse"
)

// HealthHandler reports liveness plus a couple of cheap gauges: a database
// round trip via the account count, and the number of connected SSE clients.
type HealthHandler struct {
	accountRepo repository.AccountRepository
	broker      *sse.Broker
}

func NewHealthHandler(accountRepo repository.AccountRepository, broker *sse.Broker) *HealthHandler {
	return &HealthHandler{
		accountRepo: accountRepo,
		broker:      broker,
	}
}

// GET /health
func (h *HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	resp := map[string]any{
		"status":     "ok",
		"timestamp":  time.Now().UnixMilli(),
		"sseClients": h.broker.TotalClients(),
	}

	accounts, err := h.accountRepo.Count(r.Context())
	if err != nil {
		log.Error().Err(err).Msg("health check database query failed")
		resp["status"] = "degraded"
	} else {
		resp["accounts"] = accounts
	}

	status := http.StatusOK
	if resp["status"] != "ok" {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, resp)
}
