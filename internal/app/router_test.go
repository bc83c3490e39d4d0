package app

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-pos/internal/observability"
	"github.com/odyssey-erp/odyssey-pos/internal/racks"
	"github.com/odyssey-erp/odyssey-pos/internal/shared"
)

const testSecret = "router-test-secret"

func testRouter(t *testing.T, readiness map[string]Pinger) http.Handler {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	cfg := &Config{AppEnv: "test", AppRequestTimeout: 5 * time.Second, RateLimitPerMinute: 1000}
	return NewRouter(RouterParams{
		Logger:       logger,
		Config:       cfg,
		Metrics:      observability.NewMetrics(),
		Actor:        shared.NewActorMiddleware(testSecret, logger).Handler,
		RacksHandler: racks.NewHandler(logger, racks.NewService(racks.Deps{Logger: logger})),
		Readiness:    readiness,
	})
}

func signedToken(t *testing.T, userID, storeID int64) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, shared.ActorClaims{
		StoreID: storeID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   strconv.FormatInt(userID, 10),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	})
	signed, err := token.SignedString([]byte(testSecret))
	require.NoError(t, err)
	return signed
}

func TestHealthz(t *testing.T) {
	rec := httptest.NewRecorder()
	testRouter(t, nil).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
	require.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
}

func TestReadyzReportsFailingDependency(t *testing.T) {
	router := testRouter(t, map[string]Pinger{
		"postgres": PingerFunc(func(context.Context) error { return nil }),
		"redis":    PingerFunc(func(context.Context) error { return errors.New("connection refused") }),
	})
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)

	var body struct {
		Checks map[string]string `json:"checks"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, map[string]string{"postgres": "up", "redis": "down"}, body.Checks)
}

func TestAPIRequiresBearerToken(t *testing.T) {
	router := testRouter(t, nil)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/racks/1", nil))
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/racks/abc", nil)
	req.Header.Set("Authorization", "Bearer "+signedToken(t, 42, 1))
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusBadRequest, rec.Code, "a valid token reaches the rack handler")
}

func TestConfigLocation(t *testing.T) {
	var cfg *Config
	require.Equal(t, time.UTC, cfg.Location())

	t.Setenv("JWT_SECRET", "s")
	t.Setenv("STORE_TIMEZONE", "Asia/Kolkata")
	loaded, err := LoadConfig()
	require.NoError(t, err)
	require.Equal(t, "Asia/Kolkata", loaded.Location().String())

	t.Setenv("STORE_TIMEZONE", "Mars/Olympus")
	_, err = LoadConfig()
	require.Error(t, err)
}
