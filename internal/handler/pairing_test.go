package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"regexp"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/twopix/pairing-server-go/internal/database"
	"github.com/twopix/pairing-server-go/internal/middleware"
	"github.com/twopix/pairing-server-go/internal/model"
	"github.com/twopix/pairing-server-go/internal/repository"
	"github.com/twopix/pairing-server-go/internal/service"
	"github.com/twopix/pairing-server-go/internal/sse"
)

// In-memory doubles so handlers run against a real PairingService without
// Postgres or Redis.

type memTxRunner struct{}

func (memTxRunner) WithTx(ctx context.Context, fn database.TxFunc) error { return fn(nil) }

type memCodeRepo struct {
	mu   sync.Mutex
	rows map[string]*model.PairingCode
}

func newMemCodeRepo() *memCodeRepo {
	return &memCodeRepo{rows: make(map[string]*model.PairingCode)}
}

func (m *memCodeRepo) WithTx(tx *sqlx.Tx) repository.PairingCodeRepository { return m }

func (m *memCodeRepo) FindOpenByCode(ctx context.Context, code string) (*model.PairingCode, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if pc, ok := m.rows[code]; ok && pc.Status == model.CodeStatusOpen {
		cp := *pc
		return &cp, nil
	}
	return nil, nil
}

func (m *memCodeRepo) FindOpenByOwner(ctx context.Context, accountID string) (*model.PairingCode, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, pc := range m.rows {
		if pc.AccountID == accountID && pc.Status == model.CodeStatusOpen {
			cp := *pc
			return &cp, nil
		}
	}
	return nil, nil
}

func (m *memCodeRepo) Create(ctx context.Context, params model.CreatePairingCodeParams) (*model.PairingCode, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	pc := &model.PairingCode{
		Code:      params.Code,
		AccountID: params.AccountID,
		Status:    model.CodeStatusOpen,
		IssuedAt:  params.IssuedAt,
		ExpiresAt: params.ExpiresAt,
	}
	m.rows[params.Code] = pc
	cp := *pc
	return &cp, nil
}

func (m *memCodeRepo) Consume(ctx context.Context, code, consumedBy string, now time.Time) (*model.PairingCode, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	pc, ok := m.rows[code]
	if !ok || pc.Status != model.CodeStatusOpen || !now.Before(pc.ExpiresAt) {
		return nil, nil
	}
	pc.Status = model.CodeStatusConsumed
	pc.ConsumedAt = &now
	pc.ConsumedBy = &consumedBy
	cp := *pc
	return &cp, nil
}

func (m *memCodeRepo) MarkExpired(ctx context.Context, code string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if pc, ok := m.rows[code]; ok && pc.Status == model.CodeStatusOpen {
		pc.Status = model.CodeStatusExpired
	}
	return nil
}

func (m *memCodeRepo) ExpireOpenByOwner(ctx context.Context, accountID string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, pc := range m.rows {
		if pc.AccountID == accountID && pc.Status == model.CodeStatusOpen {
			pc.Status = model.CodeStatusExpired
			n++
		}
	}
	return n, nil
}

func (m *memCodeRepo) DeleteStale(ctx context.Context, before time.Time) (int64, error) {
	return 0, nil
}

type memPairingRepo struct {
	mu   sync.Mutex
	rows []*model.Pairing
}

func (m *memPairingRepo) WithTx(tx *sqlx.Tx) repository.PairingRepository { return m }

func (m *memPairingRepo) FindByID(ctx context.Context, id string) (*model.Pairing, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.rows {
		if p.ID == id {
			cp := *p
			return &cp, nil
		}
	}
	return nil, nil
}

func (m *memPairingRepo) FindActiveByAccount(ctx context.Context, accountID string) (*model.Pairing, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.rows {
		if p.EndedAt == nil && (p.ParticipantA == accountID || p.ParticipantB == accountID) {
			cp := *p
			return &cp, nil
		}
	}
	return nil, nil
}

func (m *memPairingRepo) Create(ctx context.Context, accountA, accountB string, establishedAt time.Time) (*model.Pairing, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, b := model.OrderParticipants(accountA, accountB)
	p := &model.Pairing{
		ID:            fmt.Sprintf("pairing-%d", len(m.rows)+1),
		ParticipantA:  a,
		ParticipantB:  b,
		EstablishedAt: establishedAt,
	}
	m.rows = append(m.rows, p)
	cp := *p
	return &cp, nil
}

func (m *memPairingRepo) End(ctx context.Context, id string, endedAt time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.rows {
		if p.ID == id && p.EndedAt == nil {
			p.EndedAt = &endedAt
			return true, nil
		}
	}
	return false, nil
}

type memPublisher struct{}

func (memPublisher) Publish(ctx context.Context, accountID string, event sse.Event) error {
	return nil
}

type pairingHarness struct {
	handler *PairingHandler
}

func newPairingHarness() *pairingHarness {
	svc := service.NewPairingService(
		memTxRunner{}, newMemCodeRepo(), &memPairingRepo{}, memPublisher{}, nil, 5*time.Minute, 5,
	)
	return &pairingHarness{handler: NewPairingHandler(svc)}
}

func (h *pairingHarness) do(t *testing.T, accountID, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()

	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
	}
	if accountID != "" {
		account := &model.Account{ID: accountID}
		req = req.WithContext(context.WithValue(req.Context(), middleware.AccountContextKey, account))
	}

	rec := httptest.NewRecorder()
	h.handler.Routes().ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	return body
}

var codePattern = regexp.MustCompile(`^[0-9]{6}$`)

func TestRequestCodeEndpoint(t *testing.T) {
	t.Run("issues a six digit code", func(t *testing.T) {
		h := newPairingHarness()
		rec := h.do(t, "alice", http.MethodPost, "/code", "")
		require.Equal(t, http.StatusCreated, rec.Code)

		body := decodeBody(t, rec)
		assert.Regexp(t, codePattern, body["code"])
		assert.Greater(t, body["expiresIn"].(float64), float64(0))
	})

	t.Run("requires authentication", func(t *testing.T) {
		h := newPairingHarness()
		rec := h.do(t, "", http.MethodPost, "/code", "")
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("paired account gets conflict", func(t *testing.T) {
		h := newPairingHarness()
		pairUp(t, h, "alice", "bob")

		rec := h.do(t, "alice", http.MethodPost, "/code", "")
		assert.Equal(t, http.StatusConflict, rec.Code)
		assert.Equal(t, "ALREADY_PAIRED", decodeBody(t, rec)["code"])
	})
}

func TestOpenCodeEndpoint(t *testing.T) {
	t.Run("not found without an open code", func(t *testing.T) {
		h := newPairingHarness()
		rec := h.do(t, "alice", http.MethodGet, "/code", "")
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("re-displays the issued code", func(t *testing.T) {
		h := newPairingHarness()
		issued := decodeBody(t, h.do(t, "alice", http.MethodPost, "/code", ""))

		rec := h.do(t, "alice", http.MethodGet, "/code", "")
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, issued["code"], decodeBody(t, rec)["code"])
	})
}

// pairUp pairs the two accounts through the public endpoints.
func pairUp(t *testing.T, h *pairingHarness, owner, submitter string) {
	t.Helper()
	issued := decodeBody(t, h.do(t, owner, http.MethodPost, "/code", ""))
	rec := h.do(t, submitter, http.MethodPost, "/submit",
		fmt.Sprintf(`{"code":%q}`, issued["code"]))
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestSubmitCodeEndpoint(t *testing.T) {
	t.Run("matching code pairs the accounts", func(t *testing.T) {
		h := newPairingHarness()
		issued := decodeBody(t, h.do(t, "alice", http.MethodPost, "/code", ""))

		rec := h.do(t, "bob", http.MethodPost, "/submit",
			fmt.Sprintf(`{"code":%q}`, issued["code"]))
		require.Equal(t, http.StatusOK, rec.Code)

		body := decodeBody(t, rec)
		assert.Equal(t, "matched", body["outcome"])
		pairing := body["pairing"].(map[string]any)
		assert.Equal(t, "alice", pairing["participantA"])
		assert.Equal(t, "bob", pairing["participantB"])
		assert.Equal(t, true, body["partnerNotified"])
	})

	t.Run("wrong code is a bad request", func(t *testing.T) {
		h := newPairingHarness()
		rec := h.do(t, "bob", http.MethodPost, "/submit", `{"code":"000000"}`)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, "INVALID_PAIRING_CODE", decodeBody(t, rec)["code"])
	})

	t.Run("own code is rejected", func(t *testing.T) {
		h := newPairingHarness()
		issued := decodeBody(t, h.do(t, "alice", http.MethodPost, "/code", ""))

		rec := h.do(t, "alice", http.MethodPost, "/submit",
			fmt.Sprintf(`{"code":%q}`, issued["code"]))
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, "SELF_PAIRING_REJECTED", decodeBody(t, rec)["code"])
	})

	t.Run("paired submitter gets conflict", func(t *testing.T) {
		h := newPairingHarness()
		pairUp(t, h, "alice", "bob")
		issued := decodeBody(t, h.do(t, "carol", http.MethodPost, "/code", ""))

		rec := h.do(t, "bob", http.MethodPost, "/submit",
			fmt.Sprintf(`{"code":%q}`, issued["code"]))
		assert.Equal(t, http.StatusConflict, rec.Code)
		assert.Equal(t, "ALREADY_PAIRED", decodeBody(t, rec)["code"])
	})

	t.Run("missing code field", func(t *testing.T) {
		h := newPairingHarness()
		rec := h.do(t, "bob", http.MethodPost, "/submit", `{}`)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, "MISSING_REQUIRED", decodeBody(t, rec)["code"])
	})

	t.Run("malformed body", func(t *testing.T) {
		h := newPairingHarness()
		rec := h.do(t, "bob", http.MethodPost, "/submit", `not json`)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, "VALIDATION_ERROR", decodeBody(t, rec)["code"])
	})
}

func TestStatusEndpoint(t *testing.T) {
	t.Run("unpaired account", func(t *testing.T) {
		h := newPairingHarness()
		rec := h.do(t, "alice", http.MethodGet, "/", "")
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, false, decodeBody(t, rec)["paired"])
	})

	t.Run("paired account sees the partner", func(t *testing.T) {
		h := newPairingHarness()
		pairUp(t, h, "alice", "bob")

		rec := h.do(t, "alice", http.MethodGet, "/", "")
		require.Equal(t, http.StatusOK, rec.Code)

		body := decodeBody(t, rec)
		assert.Equal(t, true, body["paired"])
		assert.Equal(t, "bob", body["partner"])
	})
}

func TestUnpairEndpoint(t *testing.T) {
	t.Run("ends the active pairing", func(t *testing.T) {
		h := newPairingHarness()
		pairUp(t, h, "alice", "bob")

		rec := h.do(t, "alice", http.MethodDelete, "/", "")
		assert.Equal(t, http.StatusNoContent, rec.Code)

		status := decodeBody(t, h.do(t, "bob", http.MethodGet, "/", ""))
		assert.Equal(t, false, status["paired"])
	})

	t.Run("not paired", func(t *testing.T) {
		h := newPairingHarness()
		rec := h.do(t, "alice", http.MethodDelete, "/", "")
		assert.Equal(t, http.StatusNotFound, rec.Code)
		assert.Equal(t, "NOT_PAIRED", decodeBody(t, rec)["code"])
	})
}
