package handler

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/twopix/pairing-server-go/internal/sse"
)

func TestHealthEndpoint(t *testing.T) {
	t.Run("reports ok with gauges", func(t *testing.T) {
		repo := &memAccountRepo{}
		broker := sse.NewBroker(nil)
		defer broker.Close()
		h := NewHealthHandler(repo, broker)

		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
		require.Equal(t, http.StatusOK, rec.Code)

		body := decodeBody(t, rec)
		assert.Equal(t, "ok", body["status"])
		assert.Equal(t, float64(0), body["accounts"])
		assert.Equal(t, float64(0), body["sseClients"])
	})
}
