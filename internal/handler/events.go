package handler

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/twopix/pairing-server-go/internal/middleware"
	"github.com/twopix/pairing-server-go/internal/service"
	"github.com/twopix/pairing-server-go/internal/sse"
)

// EventsHandler streams pairing events to a client waiting for its partner
// to submit the displayed code.
type EventsHandler struct {
	broker         *sse.Broker
	pairingService *service.PairingService
}

func NewEventsHandler(broker *sse.Broker, pairingService *service.PairingService) *EventsHandler {
	return &EventsHandler{
		broker:         broker,
		pairingService: pairingService,
	}
}

func (h *EventsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	account := middleware.GetAccount(r.Context())
	if account == nil {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "Unauthorized"})
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "Streaming not supported"})
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	client := h.broker.Subscribe(account.ID)
	defer h.broker.Unsubscribe(client)

	log.Info().
		Str("accountId", account.ID).
		Int("accountClients", h.broker.ClientCount(account.ID)).
		Msg("sse connection established")

	ctx := r.Context()

	// A match resolved while the client was disconnected would otherwise
	// be lost, so report current pairing state up front.
	paired := false
	if pairing, err := h.pairingService.CurrentPairing(ctx, account.ID); err == nil && pairing != nil {
		paired = true
	}

	h.sendEvent(w, flusher, "connected", map[string]any{
		"accountId": account.ID,
		"paired":    paired,
	})

	heartbeat := time.NewTicker(sse.HeartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info().
				Str("accountId", account.ID).
				Msg("sse connection closed by client")
			return

		case <-client.Done:
			log.Info().
				Str("accountId", account.ID).
				Msg("sse connection closed by broker")
			return

		case event := <-client.Events:
			if err := h.sendRawEvent(w, flusher, event); err != nil {
				log.Error().Err(err).Msg("failed to send event")
				return
			}

		case <-heartbeat.C:
			if _, err := fmt.Fprintf(w, ": ping\n\n"); err != nil {
				log.Debug().
					Str("accountId", account.ID).
					Msg("heartbeat failed, closing connection")
				return
			}
			flusher.Flush()
		}
	}
}

func (h *EventsHandler) sendEvent(w http.ResponseWriter, flusher http.Flusher, eventType string, data any) error {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return err
	}

	return h.sendRawEvent(w, flusher, sse.Event{Type: eventType, Data: jsonData})
}

func (h *EventsHandler) sendRawEvent(w http.ResponseWriter, flusher http.Flusher, event sse.Event) error {
	if _, err := fmt.Fprintf(w, "event: %s\n", event.Type); err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "data: %s\n\n", event.Data); err != nil {
		return err
	}
	flusher.Flush()
	return nil
}
