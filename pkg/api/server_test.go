package api

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"

	"github.com/famulus-ai/famulus/pkg/config"
)

// testServer builds a Server with no backing services. Only validation paths
// may run against it; happy paths are covered by the e2e tests, which have a
// real kernel.
func testServer() *Server {
	gin.SetMode(gin.TestMode)
	return &Server{
		cfg:    &config.Config{System: &config.SystemConfig{}},
		logger: slog.Default().With("component", "api"),
	}
}

// perform drives one request through the full router, identity middleware
// included.
func perform(s *Server, method, target string, body io.Reader, withIdentity bool) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, body)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if withIdentity {
		req.Header.Set(headerTenant, "tenant-1")
		req.Header.Set(headerUser, "user-1")
	}
	w := httptest.NewRecorder()
	s.Router().ServeHTTP(w, req)
	return w
}

func TestIdentityHeadersRequired(t *testing.T) {
	s := testServer()

	tests := []struct {
		name   string
		tenant string
		user   string
	}{
		{name: "no headers"},
		{name: "tenant only", tenant: "tenant-1"},
		{name: "user only", user: "user-1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/v1/sessions", nil)
			if tt.tenant != "" {
				req.Header.Set(headerTenant, tt.tenant)
			}
			if tt.user != "" {
				req.Header.Set(headerUser, tt.user)
			}
			w := httptest.NewRecorder()
			s.Router().ServeHTTP(w, req)

			assert.Equal(t, http.StatusBadRequest, w.Code)
			assert.Contains(t, w.Body.String(), "headers are required")
		})
	}
}

func TestSecurityHeadersSet(t *testing.T) {
	s := testServer()

	w := perform(s, http.MethodGet, "/api/v1/sessions?limit=0", nil, true)

	assert.Equal(t, "DENY", w.Header().Get("X-Frame-Options"))
	assert.Equal(t, "nosniff", w.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "strict-origin-when-cross-origin", w.Header().Get("Referrer-Policy"))
}
