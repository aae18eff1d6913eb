package security

import (
	"crypto/tls"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func okHandler(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusOK) }

func TestHeadersMiddlewareSetsSecurityHeaders(t *testing.T) {
	mw := Headers{Enable: true, EnableHSTS: true, HSTSMaxAge: 600, HSTSIncludeSubdomains: true, NoStore: true}
	req := httptest.NewRequest(http.MethodPost, "https://api.vaayugo.in/api/v1/cart/calculate", nil)
	req.TLS = &tls.ConnectionState{}
	rr := httptest.NewRecorder()
	mw.Middleware(http.HandlerFunc(okHandler)).ServeHTTP(rr, req)

	require.Equal(t, "nosniff", rr.Header().Get("X-Content-Type-Options"))
	require.Equal(t, "max-age=600; includeSubDomains", rr.Header().Get("Strict-Transport-Security"))
	require.Equal(t, "no-store", rr.Header().Get("Cache-Control"))
	require.Equal(t, "default-src 'none'; frame-ancestors 'none'", rr.Header().Get("Content-Security-Policy"))
}

func TestHeadersDefaultHSTSMaxAge(t *testing.T) {
	mw := Headers{Enable: true, EnableHSTS: true}
	req := httptest.NewRequest(http.MethodGet, "https://api.vaayugo.in/health/live", nil)
	req.TLS = &tls.ConnectionState{}
	rr := httptest.NewRecorder()
	mw.Middleware(http.HandlerFunc(okHandler)).ServeHTTP(rr, req)
	require.Equal(t, "max-age=31536000", rr.Header().Get("Strict-Transport-Security"))
}

func TestHeadersMiddlewarePlainHTTP(t *testing.T) {
	mw := Headers{Enable: true, EnableHSTS: true}
	rr := httptest.NewRecorder()
	mw.Middleware(http.HandlerFunc(okHandler)).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "http://localhost/health/live", nil))
	require.Empty(t, rr.Header().Get("Strict-Transport-Security"))
	require.Empty(t, rr.Header().Get("Cache-Control"))
}

func TestHeadersMiddlewareDisabled(t *testing.T) {
	mw := Headers{Enable: false, EnableHSTS: true}
	rr := httptest.NewRecorder()
	mw.Middleware(http.HandlerFunc(okHandler)).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "http://localhost", nil))
	require.Empty(t, rr.Header().Get("X-Content-Type-Options"))
}
