package handler

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	apperrors "github.com/twopix/pairing-server-go/internal/errors"
	"github.com/twopix/pairing-server-go/internal/middleware"
	"github.com/twopix/pairing-server-go/internal/model"
	"github.com/twopix/pairing-server-go/internal/service"
)

type PairingHandler struct {
	pairingService *service.PairingService
}

func NewPairingHandler(pairingService *service.PairingService) *PairingHandler {
	return &PairingHandler{pairingService: pairingService}
}

func (h *PairingHandler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Post("/code", h.RequestCode)
	r.Get("/code", h.OpenCode)
	r.Post("/submit", h.SubmitCode)
	r.Get("/", h.Status)
	r.Delete("/", h.Unpair)

	return r
}

// POST /v1/pairing/code
// Issues a fresh Pix Code, superseding any open one.
func (h *PairingHandler) RequestCode(w http.ResponseWriter, r *http.Request) {
	account := middleware.GetAccount(r.Context())
	if account == nil {
		writeError(w, apperrors.Unauthorized("Unauthorized"))
		return
	}

	pc, err := h.pairingService.RequestCode(r.Context(), account.ID)
	if err != nil {
		log.Error().Err(err).Str("accountId", account.ID).Msg("failed to issue pix code")
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, formatCode(pc))
}

// GET /v1/pairing/code
// Re-displays the open code, e.g. after an app restart.
func (h *PairingHandler) OpenCode(w http.ResponseWriter, r *http.Request) {
	account := middleware.GetAccount(r.Context())
	if account == nil {
		writeError(w, apperrors.Unauthorized("Unauthorized"))
		return
	}

	pc, err := h.pairingService.OpenCode(r.Context(), account.ID)
	if err != nil {
		writeError(w, err)
		return
	}
	if pc == nil {
		writeError(w, apperrors.NotFound("Open Pix Code"))
		return
	}

	writeJSON(w, http.StatusOK, formatCode(pc))
}

// POST /v1/pairing/submit
func (h *PairingHandler) SubmitCode(w http.ResponseWriter, r *http.Request) {
	account := middleware.GetAccount(r.Context())
	if account == nil {
		writeError(w, apperrors.Unauthorized("Unauthorized"))
		return
	}

	var req struct {
		Code string `json:"code"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apperrors.ValidationError("Invalid request body"))
		return
	}
	if req.Code == "" {
		writeError(w, apperrors.MissingRequired("code"))
		return
	}

	outcome, err := h.pairingService.SubmitCode(r.Context(), req.Code, account.ID)
	if err != nil {
		writeError(w, err)
		return
	}

	switch outcome.Kind {
	case service.OutcomeMatched:
		writeJSON(w, http.StatusOK, map[string]any{
			"outcome":         outcome.Kind,
			"pairing":         formatPairing(outcome.Pairing),
			"partnerNotified": outcome.PartnerNotified,
		})
	case service.OutcomeSelfPairingRejected:
		writeError(w, apperrors.SelfPairingRejected())
	case service.OutcomeAlreadyPaired:
		writeError(w, apperrors.AlreadyPaired())
	default:
		writeError(w, apperrors.InvalidPairingCode())
	}
}

// GET /v1/pairing
func (h *PairingHandler) Status(w http.ResponseWriter, r *http.Request) {
	account := middleware.GetAccount(r.Context())
	if account == nil {
		writeError(w, apperrors.Unauthorized("Unauthorized"))
		return
	}

	pairing, err := h.pairingService.CurrentPairing(r.Context(), account.ID)
	if err != nil {
		writeError(w, err)
		return
	}

	if pairing == nil {
		writeJSON(w, http.StatusOK, map[string]any{"paired": false})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"paired":  true,
		"pairing": formatPairing(pairing),
		"partner": pairing.PartnerOf(account.ID),
	})
}

// DELETE /v1/pairing
func (h *PairingHandler) Unpair(w http.ResponseWriter, r *http.Request) {
	account := middleware.GetAccount(r.Context())
	if account == nil {
		writeError(w, apperrors.Unauthorized("Unauthorized"))
		return
	}

	if err := h.pairingService.Unpair(r.Context(), account.ID); err != nil {
		writeError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func formatCode(pc *model.PairingCode) map[string]any {
	return map[string]any{
		"code":      pc.Code,
		"issuedAt":  pc.IssuedAt.Format(time.RFC3339),
		"expiresAt": pc.ExpiresAt.Format(time.RFC3339),
		"expiresIn": int(time.Until(pc.ExpiresAt).Seconds()),
	}
}

func formatPairing(p *model.Pairing) map[string]any {
	return map[string]any{
		"id":            p.ID,
		"participantA":  p.ParticipantA,
		"participantB":  p.ParticipantB,
		"establishedAt": p.EstablishedAt.Format(time.RFC3339),
		"endedAt":       formatTime(p.EndedAt),
	}
}
