package auth

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/noah-isme/vaayugo-api/internal/common"
)

type staticRoles map[int64]string

func (s staticRoles) UserRole(_ context.Context, userID int64) (string, error) {
	role, ok := s[userID]
	if !ok {
		return "", errors.New("user not found")
	}
	return role, nil
}

func echoUser(w http.ResponseWriter, r *http.Request) {
	id, _ := common.UserID(r.Context())
	_, _ = w.Write([]byte(id))
}

func TestRequireAuth(t *testing.T) {
	svc := newTestService(t)
	mw := Middleware{Service: svc}
	handler := mw.RequireAuth(http.HandlerFunc(echoUser))

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/orders", nil))
	require.Equal(t, http.StatusUnauthorized, rr.Code)

	req := httptest.NewRequest(http.MethodGet, "/orders", nil)
	req.Header.Set("Authorization", "Bearer not-a-jwt")
	rr = httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	require.Equal(t, http.StatusUnauthorized, rr.Code)

	token, _, err := svc.SignAccessToken("42")
	require.NoError(t, err)
	req = httptest.NewRequest(http.MethodGet, "/orders", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rr = httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	require.Equal(t, http.StatusOK, rr.Code)
	require.Equal(t, "42", rr.Body.String())
}

func TestAuthenticateAllowsAnonymous(t *testing.T) {
	mw := Middleware{Service: newTestService(t)}
	handler := mw.Authenticate(http.HandlerFunc(echoUser))

	req := httptest.NewRequest(http.MethodPost, "/api/v1/cart/calculate", nil)
	req.Header.Set("Authorization", "Bearer garbage")
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	require.Equal(t, http.StatusOK, rr.Code)
	require.Empty(t, rr.Body.String())
}

func TestRequireRole(t *testing.T) {
	mw := Middleware{Roles: staticRoles{1: "admin", 2: "customer"}}
	handler := mw.RequireRole("admin")(http.HandlerFunc(echoUser))

	cases := []struct {
		name   string
		user   string
		status int
	}{
		{"anonymous", "", http.StatusUnauthorized},
		{"admin", "1", http.StatusOK},
		{"customer", "2", http.StatusForbidden},
		{"unknown user", "3", http.StatusForbidden},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/v1/admin/discount-rules", nil)
			if tc.user != "" {
				req = req.WithContext(common.WithUserID(req.Context(), tc.user))
			}
			rr := httptest.NewRecorder()
			handler.ServeHTTP(rr, req)
			require.Equal(t, tc.status, rr.Code)
		})
	}
}
