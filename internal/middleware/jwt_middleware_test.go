package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"credit_pool/internal/auth"
)

var testSecret = []byte("middleware-test-secret")

func token(t *testing.T, p auth.Principal) string {
	t.Helper()
	s, _, err := auth.SignToken(p, testSecret, time.Minute)
	require.NoError(t, err)
	return s
}

func echoPrincipal() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p, ok := GetPrincipal(r.Context())
		if !ok {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Header().Set("X-Account", p.AccountID)
		w.WriteHeader(http.StatusOK)
	})
}

func TestAuthenticate(t *testing.T) {
	alice := token(t, auth.Principal{AccountID: "alice"})

	tests := []struct {
		name        string
		header      string
		wantStatus  int
		wantAccount string
	}{
		{"valid bearer token", "Bearer " + alice, http.StatusOK, "alice"},
		{"missing header", "", http.StatusUnauthorized, ""},
		{"not bearer", "Basic " + alice, http.StatusUnauthorized, ""},
		{"empty bearer", "Bearer ", http.StatusUnauthorized, ""},
		{"invalid token", "Bearer nope", http.StatusUnauthorized, ""},
	}

	handler := Authenticate(testSecret)(echoPrincipal())
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/v1/credits/balance", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rr := httptest.NewRecorder()
			handler.ServeHTTP(rr, req)

			assert.Equal(t, tt.wantStatus, rr.Code)
			assert.Equal(t, tt.wantAccount, rr.Header().Get("X-Account"))
			if tt.wantStatus != http.StatusOK {
				assert.Contains(t, rr.Body.String(), "error")
			}
		})
	}
}

func TestRequireAdmin(t *testing.T) {
	handler := Authenticate(testSecret)(RequireAdmin(echoPrincipal()))

	tests := []struct {
		name       string
		principal  auth.Principal
		wantStatus int
	}{
		{"admin passes", auth.Principal{AccountID: "ops", IsAdmin: true}, http.StatusOK},
		{"account is forbidden", auth.Principal{AccountID: "alice"}, http.StatusForbidden},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/v1/admin/credits/adjust", nil)
			req.Header.Set("Authorization", "Bearer "+token(t, tt.principal))
			rr := httptest.NewRecorder()
			handler.ServeHTTP(rr, req)
			assert.Equal(t, tt.wantStatus, rr.Code)
		})
	}

	t.Run("without authenticate", func(t *testing.T) {
		rr := httptest.NewRecorder()
		RequireAdmin(echoPrincipal()).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))
		assert.Equal(t, http.StatusUnauthorized, rr.Code)
	})
}
