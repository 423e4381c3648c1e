package middleware

import (
	"context"
	"net/http"
	"processmap-server/core"
	"processmap-server/handlers/auth"
	"strings"

	"github.com/go-chi/render"
	"github.com/sirupsen/logrus"
)

type contextKey string

const ClaimsContextKey = contextKey("claims")

func AuthJWT(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			render.Status(r, http.StatusUnauthorized)
			render.JSON(w, r, map[string]string{"error": "Authorization header is required"})
			return
		}

		parts := strings.Split(authHeader, " ")
		if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
			render.Status(r, http.StatusUnauthorized)
			render.JSON(w, r, map[string]string{"error": "Authorization header format must be Bearer {token}"})
			return
		}

		claims, err := auth.ParseJWT(parts[1])
		if err != nil {
			logrus.WithError(err).Debug("Rejected bearer token")
			render.Status(r, http.StatusUnauthorized)
			render.JSON(w, r, map[string]string{"error": "Invalid token"})
			return
		}

		next.ServeHTTP(w, r.WithContext(WithClaims(r.Context(), claims)))
	})
}

// WithClaims stores verified claims in the context.
func WithClaims(ctx context.Context, claims *auth.AppClaims) context.Context {
	return context.WithValue(ctx, ClaimsContextKey, claims)
}

// CallerFrom returns the authenticated caller, or false when the request
// carries no claims.
func CallerFrom(ctx context.Context) (core.Caller, bool) {
	claims, ok := ctx.Value(ClaimsContextKey).(*auth.AppClaims)
	if !ok || claims == nil || claims.Subject == "" {
		return core.Caller{}, false
	}
	return core.Caller{UserID: claims.Subject, OrganizationID: claims.OrganizationID}, true
}
