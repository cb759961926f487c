package handlers

import (
	"context"
	"net/http"
	"slices"
	"strings"

	"github.com/clinicbook/scheduling/libs/auth"
	"github.com/clinicbook/scheduling/services/scheduling-service/internal/lifecycle"
)

type claimsKey struct{}

// RequireRole verifies the bearer token and rejects callers whose role is not
// in roles. Verified claims are placed on the request context.
func RequireRole(secret string, roles ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			token, ok := strings.CutPrefix(header, "Bearer ")
			if !ok || token == "" {
				writeJSON(w, http.StatusUnauthorized, errorBody{Error: errorDetail{Kind: "unauthorized", Message: "missing bearer token"}})
				return
			}
			claims, err := auth.ParseAndVerifyHS256(token, secret)
			if err != nil {
				writeJSON(w, http.StatusUnauthorized, errorBody{Error: errorDetail{Kind: "unauthorized", Message: "invalid token"}})
				return
			}
			if !slices.Contains(roles, claims.Role) {
				writeJSON(w, http.StatusForbidden, errorBody{Error: errorDetail{Kind: "forbidden", Message: "insufficient role"}})
				return
			}
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), claimsKey{}, claims)))
		})
	}
}

// OptionalAuth attaches verified claims when a bearer token is present but
// lets unauthenticated requests through. Cancellation uses it: patients call
// anonymously, staff carry a token and gain the wider cancellation window.
func OptionalAuth(secret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			if token, ok := strings.CutPrefix(header, "Bearer "); ok && token != "" {
				if claims, err := auth.ParseAndVerifyHS256(token, secret); err == nil {
					r = r.WithContext(context.WithValue(r.Context(), claimsKey{}, claims))
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}

// ActorFromContext maps the authenticated role to a lifecycle actor.
// Unauthenticated requests act as the patient.
func ActorFromContext(ctx context.Context) lifecycle.Actor {
	claims, ok := ctx.Value(claimsKey{}).(*auth.Claims)
	if !ok {
		return lifecycle.ActorPatient
	}
	switch claims.Role {
	case "admin":
		return lifecycle.ActorAdmin
	case "doctor":
		return lifecycle.ActorDoctor
	default:
		return lifecycle.ActorPatient
	}
}
