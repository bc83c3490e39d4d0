package shared

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
)

func signToken(t *testing.T, secret string, subject string, storeID int64) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, ActorClaims{
		StoreID: storeID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	})
	raw, err := token.SignedString([]byte(secret))
	require.NoError(t, err)
	return raw
}

func TestActorMiddleware(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	mw := NewActorMiddleware("s3cret", logger)

	var got Actor
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got, _ = ActorFromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	})

	req := httptest.NewRequest(http.MethodGet, "/purchases/1", nil)
	req.Header.Set("Authorization", "Bearer "+signToken(t, "s3cret", "42", 7))
	rec := httptest.NewRecorder()
	mw.Handler(next).ServeHTTP(rec, req)
	require.Equal(t, http.StatusNoContent, rec.Code)
	require.Equal(t, Actor{UserID: 42, StoreID: 7}, got)

	for name, header := range map[string]string{
		"missing":      "",
		"wrong secret": "Bearer " + signToken(t, "other", "42", 7),
		"no store":     "Bearer " + signToken(t, "s3cret", "42", 0),
		"bad subject":  "Bearer " + signToken(t, "s3cret", "alice", 7),
	} {
		req := httptest.NewRequest(http.MethodGet, "/purchases/1", nil)
		if header != "" {
			req.Header.Set("Authorization", header)
		}
		rec := httptest.NewRecorder()
		mw.Handler(next).ServeHTTP(rec, req)
		require.Equal(t, http.StatusUnauthorized, rec.Code, name)
	}
}
