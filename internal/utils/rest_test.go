package utils

import (
	"encoding/json"
	"math"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRespondWithError(t *testing.T) {
	tests := []struct {
		name    string
		code    int
		message string
	}{
		{"bad request", http.StatusBadRequest, "Invalid credit amount"},
		{"payment required", http.StatusPaymentRequired, "insufficient credits"},
		{"locked", http.StatusLocked, "account frozen"},
		{"internal server error", http.StatusInternalServerError, "Internal server error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			RespondWithError(w, tt.code, tt.message)

			assert.Equal(t, tt.code, w.Code)
			assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
			assert.Equal(t, "no-store", w.Header().Get("Cache-Control"))

			var response ErrorResponse
			require.NoError(t, json.NewDecoder(w.Body).Decode(&response))
			assert.Equal(t, tt.message, response.Error)
			assert.Equal(t, tt.code, response.Status)
		})
	}
}

func TestRespondWithJSON(t *testing.T) {
	t.Run("struct payload", func(t *testing.T) {
		w := httptest.NewRecorder()
		payload := struct {
			AccountID string `json:"account_id"`
			Count     int    `json:"count"`
		}{"alice", 3}

		require.NoError(t, RespondWithJSON(w, http.StatusCreated, payload))
		assert.Equal(t, http.StatusCreated, w.Code)
		assert.JSONEq(t, `{"account_id":"alice","count":3}`, w.Body.String())
	})

	t.Run("no content writes no body", func(t *testing.T) {
		w := httptest.NewRecorder()
		require.NoError(t, RespondWithJSON(w, http.StatusNoContent, struct{}{}))
		assert.Equal(t, http.StatusNoContent, w.Code)
		assert.Empty(t, w.Body.String())
	})

	t.Run("nil payload", func(t *testing.T) {
		w := httptest.NewRecorder()
		require.NoError(t, RespondWithJSON(w, http.StatusOK, nil))
		assert.Equal(t, "null\n", w.Body.String())
	})

	t.Run("unencodable payload becomes 500", func(t *testing.T) {
		w := httptest.NewRecorder()
		err := RespondWithJSON(w, http.StatusOK, map[string]float64{"value": math.Inf(1)})
		require.Error(t, err)
		assert.Equal(t, http.StatusInternalServerError, w.Code)

		var response ErrorResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
		assert.Equal(t, http.StatusInternalServerError, response.Status)
	})
}
