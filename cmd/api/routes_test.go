package main

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/vaayugo-api/internal/auth"
	"github.com/noah-isme/vaayugo-api/internal/health"
	"github.com/noah-isme/vaayugo-api/internal/security"
	"github.com/noah-isme/vaayugo-api/internal/shop"
)

type fixedRoles map[int64]string

func (f fixedRoles) UserRole(_ context.Context, id int64) (string, error) {
	return f[id], nil
}

type okChecker struct{}

func (okChecker) PingDB(context.Context, time.Duration) error    { return nil }
func (okChecker) PingRedis(context.Context, time.Duration) error { return nil }

func newTestRouter(t *testing.T) (http.Handler, *auth.Service) {
	t.Helper()
	svc, err := auth.NewService(auth.Config{Secret: "routes-test-secret", AccessTokenTTL: time.Hour})
	require.NoError(t, err)
	rt := routes{
		Logger:    zerolog.Nop(),
		BodyLimit: 1 << 20,
		Headers:   security.Headers{Enable: true, NoStore: true},
		Auth:      auth.Middleware{Service: svc, Roles: fixedRoles{1: shop.RoleAdmin, 2: shop.RoleCustomer}},
		Health:    health.Handler{Checker: okChecker{}},
	}
	return rt.handler(), svc
}

func TestHealthRoutes(t *testing.T) {
	h, _ := newTestRouter(t)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health/live", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.NotEmpty(t, rec.Header().Get("X-Content-Type-Options"))

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestOrdersRequireAuthentication(t *testing.T) {
	h, _ := newTestRouter(t)

	for _, tc := range []struct{ method, path string }{
		{http.MethodGet, "/api/v1/orders"},
		{http.MethodPost, "/api/v1/orders"},
		{http.MethodGet, "/api/v1/orders/7"},
		{http.MethodGet, "/api/v1/shops/3/discount-rules"},
	} {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(tc.method, tc.path, nil))
		require.Equal(t, http.StatusUnauthorized, rec.Code, "%s %s", tc.method, tc.path)
	}
}

func TestAdminRoutesRequireAdminRole(t *testing.T) {
	h, svc := newTestRouter(t)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/admin/delivery-fee-rules", nil))
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	token, _, err := svc.SignAccessToken("2")
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodGet, "/api/v1/admin/delivery-fee-rules", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusForbidden, rec.Code)
	require.Contains(t, rec.Body.String(), "FORBIDDEN")
}

func TestUnknownRouteIsNotFound(t *testing.T) {
	h, _ := newTestRouter(t)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/nope", nil))
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCalculateRejectsNonJSONBody(t *testing.T) {
	h, _ := newTestRouter(t)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/cart/calculate", strings.NewReader("items=1"))
	req.Header.Set("Content-Type", "text/plain")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusUnsupportedMediaType, rec.Code)
}
