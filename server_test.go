package main

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dugsi-admin/auth"
	"dugsi-admin/config"
)

func testConfig() *config.Config {
	return &config.Config{
		Env:            "DEV",
		Timezone:       "UTC",
		MorningStart:   "09:00",
		AfternoonStart: "13:00",
		RatesPerChild:  []int64{8000, 8000, 7000, 6500},
	}
}

func testRouter(t *testing.T, ping func() error) (*gin.Engine, *auth.Issuer) {
	return testRouterWith(t, testConfig(), ping)
}

func testRouterWith(t *testing.T, cfg *config.Config, ping func() error) (*gin.Engine, *auth.Issuer) {
	gin.SetMode(gin.TestMode)
	db, _, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	h, err := buildHandlers(cfg, sqlx.NewDb(db, "mysql"), nil)
	require.NoError(t, err)
	issuer := auth.NewIssuer("test-secret", time.Hour)
	return setupRouter(h, issuer, ping), issuer
}

func TestHealth(t *testing.T) {
	r, _ := testRouter(t, func() error { return nil })
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))

	down, _ := testRouter(t, func() error { return errors.New("connection refused") })
	w = httptest.NewRecorder()
	down.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestAdminRoutesRequireToken(t *testing.T) {
	r, _ := testRouter(t, nil)
	for _, route := range []struct{ method, path string }{
		{http.MethodGet, "/api/dugsi/registrations"},
		{http.MethodPost, "/api/dugsi/students/s-1/withdraw"},
		{http.MethodPost, "/api/dugsi/bank-verification"},
		{http.MethodGet, "/api/dugsi/check-ins"},
	} {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(route.method, route.path, nil))
		assert.Equal(t, http.StatusUnauthorized, w.Code, route.path)
	}
}

func TestAuthenticatedValidationFailsBeforeStorage(t *testing.T) {
	r, issuer := testRouter(t, nil)
	token, _, err := issuer.Issue("admin@example.org")
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/api/dugsi/bank-verification", strings.NewReader(`{"paymentIntentId":"bogus","descriptorCode":"SM11AA"}`))
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Request-ID", "req-1")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "req-1", w.Header().Get("X-Request-ID"))
}

func TestWebhookIsOutsideAuth(t *testing.T) {
	r, _ := testRouter(t, nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/webhooks/stripe", strings.NewReader(`{"id":"evt_1","type":"invoice.paid","data":{"object":{}}}`)))
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestWebhookInProdRequiresSigningSecret(t *testing.T) {
	cfg := testConfig()
	cfg.Env = "PROD"
	r, _ := testRouterWith(t, cfg, nil)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/webhooks/stripe", strings.NewReader(`{"id":"evt_1","type":"customer.subscription.updated","data":{"object":{"id":"sub_1"}}}`)))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
