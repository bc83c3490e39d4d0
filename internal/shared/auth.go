package shared

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/odyssey-erp/odyssey-pos/internal/platform/httpx"
)

// ActorClaims is the JWT payload issued by the upstream auth service.
type ActorClaims struct {
	StoreID int64 `json:"store_id"`
	jwt.RegisteredClaims
}

// ActorMiddleware resolves the acting user and store from a bearer token.
// Token issuance and permission checks live outside this service.
type ActorMiddleware struct {
	secret []byte
	logger *slog.Logger
}

// NewActorMiddleware constructs the middleware.
func NewActorMiddleware(secret string, logger *slog.Logger) *ActorMiddleware {
	return &ActorMiddleware{secret: []byte(secret), logger: logger}
}

// Handler rejects requests without a valid actor.
func (m *ActorMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		actor, err := m.parse(r.Header.Get("Authorization"))
		if err != nil {
			m.logger.Warn("actor rejected", slog.String("path", r.URL.Path), slog.Any("error", err))
			httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "valid bearer token required")
			return
		}
		next.ServeHTTP(w, r.WithContext(ContextWithActor(r.Context(), actor)))
	})
}

func (m *ActorMiddleware) parse(header string) (Actor, error) {
	raw, ok := strings.CutPrefix(header, "Bearer ")
	if !ok || raw == "" {
		return Actor{}, errors.New("missing bearer token")
	}
	var claims ActorClaims
	_, err := jwt.ParseWithClaims(raw, &claims, func(t *jwt.Token) (any, error) {
		return m.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return Actor{}, err
	}
	userID, err := strconv.ParseInt(claims.Subject, 10, 64)
	if err != nil {
		return Actor{}, errors.New("subject must be a numeric user id")
	}
	actor := Actor{UserID: userID, StoreID: claims.StoreID}
	if !actor.Valid() {
		return Actor{}, errors.New("token lacks user or store")
	}
	return actor, nil
}
