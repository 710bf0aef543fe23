package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/getsentry/sentry-go"
)

type contextKey int

const claimsContextKey contextKey = iota

func ContextWithClaims(ctx context.Context, claims *Claims) context.Context {
	return context.WithValue(ctx, claimsContextKey, claims)
}

func ClaimsFromContext(ctx context.Context) (*Claims, bool) {
	claims, ok := ctx.Value(claimsContextKey).(*Claims)
	return claims, ok && claims != nil
}

// RequireAuth rejects requests without a valid, unrevoked access token.
func RequireAuth(service *Service) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, ok := bearerToken(r)
			if !ok {
				writeError(w, http.StatusUnauthorized, "missing or invalid authorization header")
				return
			}

			claims, err := service.Authenticate(r.Context(), token)
			if err != nil {
				if IsTokenError(err) {
					writeError(w, http.StatusUnauthorized, tokenErrorMessage(err))
					return
				}
				sentry.CaptureException(err)
				writeError(w, http.StatusInternalServerError, "failed to authenticate")
				return
			}

			next.ServeHTTP(w, r.WithContext(ContextWithClaims(r.Context(), claims)))
		})
	}
}

// RequireAdmin must run after RequireAuth. Role is read from the user record.
func RequireAdmin(users userLookup) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims, ok := ClaimsFromContext(r.Context())
			if !ok {
				writeError(w, http.StatusUnauthorized, "authentication required")
				return
			}

			user, err := users.FindByID(r.Context(), claims.Subject)
			if err != nil {
				if errors.Is(err, ErrUserNotFound) {
					writeError(w, http.StatusUnauthorized, "authentication required")
					return
				}
				sentry.CaptureException(err)
				writeError(w, http.StatusInternalServerError, "failed to authorize")
				return
			}
			if !user.IsAdmin {
				writeError(w, http.StatusForbidden, "admin access required")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func bearerToken(r *http.Request) (string, bool) {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if header == "" {
		return "", false
	}

	scheme, token, found := strings.Cut(header, " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}

	token = strings.TrimSpace(token)
	return token, token != ""
}

func tokenErrorMessage(err error) string {
	switch {
	case errors.Is(err, ErrExpiredToken):
		return "token has expired"
	case errors.Is(err, ErrRevokedToken):
		return "token has been revoked"
	default:
		return "invalid token"
	}
}
