package httpmiddleware

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
)

type userIDKey struct{}

// WithUserID returns a context carrying the authenticated user id.
func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userIDKey{}, userID)
}

// UserIDFromContext returns the authenticated user id set by Authenticate.
func UserIDFromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(userIDKey{}).(string)
	return id, ok && id != ""
}

// Authenticate verifies an HS256 bearer token signed with secret and stores
// the user id in the request context. The id is read from the "id" claim
// (string or number) and falls back to "sub". Requests without a valid
// token get 401.
func Authenticate(secret []byte) Middleware {
	parser := jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	keyFunc := func(*jwt.Token) (any, error) { return secret, nil }

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw, ok := bearerToken(r)
			if !ok {
				WriteError(w, http.StatusUnauthorized, "Unauthorized", "missing bearer token")
				return
			}

			claims := jwt.MapClaims{}
			if _, err := parser.ParseWithClaims(raw, claims, keyFunc); err != nil {
				zctx.From(r.Context()).Debug("Token rejected", zap.Error(err))
				WriteError(w, http.StatusUnauthorized, "Unauthorized", "invalid token")
				return
			}
			userID, err := userIDFromClaims(claims)
			if err != nil {
				WriteError(w, http.StatusUnauthorized, "Unauthorized", err.Error())
				return
			}

			ctx := WithUserID(r.Context(), userID)
			ctx = zctx.With(ctx, zap.String("user_id", userID))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func bearerToken(r *http.Request) (string, bool) {
	h := r.Header.Get("Authorization")
	scheme, token, ok := strings.Cut(h, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

func userIDFromClaims(claims jwt.MapClaims) (string, error) {
	switch v := claims["id"].(type) {
	case string:
		if v != "" {
			return v, nil
		}
	case float64:
		if v == float64(int64(v)) {
			return strconv.FormatInt(int64(v), 10), nil
		}
		return "", errors.New("token id claim is not an integer")
	}
	sub, err := claims.GetSubject()
	if err != nil || sub == "" {
		return "", errors.New("token has no user id")
	}
	return sub, nil
}
