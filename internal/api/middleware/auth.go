package middleware

import (
	"context"
	"errors"
	"log"
	"net/http"

	"aca_backend/internal/common"
	"aca_backend/internal/common/security"
	"aca_backend/internal/domain/model"

	"github.com/go-chi/jwtauth/v5"
)

type contextKey string

const IdentityCtxKey contextKey = "identity"

// Authenticator rejects requests whose bearer token is missing or failed
// verification, and stores the caller's identity in the request context.
func Authenticator(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, claims, err := jwtauth.FromContext(r.Context())
		if errors.Is(err, jwtauth.ErrNoTokenFound) || (err == nil && token == nil) {
			common.RespondWithError(w, http.StatusUnauthorized, "Unauthorized")
			return
		}
		if err != nil {
			common.RespondWithError(w, http.StatusUnauthorized, "Invalid token")
			return
		}

		identity, err := security.IdentityFromClaims(claims)
		if err != nil {
			log.Printf("WARN: rejecting token with bad claims: %v", err)
			common.RespondWithError(w, http.StatusUnauthorized, "Invalid token")
			return
		}

		ctx := context.WithValue(r.Context(), IdentityCtxKey, identity)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func TeacherOnly(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		identity, ok := GetIdentityFromContext(r.Context())
		if !ok || !identity.IsTeacher() {
			common.RespondWithError(w, http.StatusForbidden, "Teacher access required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// Helper to get the authenticated caller from context
func GetIdentityFromContext(ctx context.Context) (model.Identity, bool) {
	identity, ok := ctx.Value(IdentityCtxKey).(model.Identity)
	return identity, ok
}
