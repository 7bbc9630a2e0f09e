package api

import (
	"context"
	"net/http"
	"strings"

	"github.com/herbalyze/herbalyze/internal/auth"
	"github.com/herbalyze/herbalyze/internal/config"
	"github.com/herbalyze/herbalyze/pkg/models"
)

type contextKey string

const claimsKey contextKey = "claims"

// AuthMiddleware validates the bearer token and stores its claims in the
// request context.
func AuthMiddleware(cfg *config.Config) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				respondError(w, http.StatusUnauthorized, "Missing authorization header")
				return
			}

			parts := strings.Split(authHeader, " ")
			if len(parts) != 2 || parts[0] != "Bearer" {
				respondError(w, http.StatusUnauthorized, "Invalid authorization header format")
				return
			}

			claims, err := auth.ParseAccessToken(cfg.JWTSecret, parts[1])
			if err != nil {
				respondError(w, http.StatusUnauthorized, "Invalid or expired token")
				return
			}

			ctx := context.WithValue(r.Context(), claimsKey, claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// claimsFrom pulls the authenticated claims out of the context. Only
// valid below AuthMiddleware.
func claimsFrom(r *http.Request) (*auth.Claims, bool) {
	claims, ok := r.Context().Value(claimsKey).(*auth.Claims)
	return claims, ok
}

// RequireRoles rejects requests whose role is not in the allowed set.
// The switch is exhaustive so adding a role forces a decision here.
func RequireRoles(allowed ...models.Role) func(http.Handler) http.Handler {
	allowedSet := make(map[models.Role]bool, len(allowed))
	for _, role := range allowed {
		allowedSet[role] = true
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims, ok := claimsFrom(r)
			if !ok {
				respondError(w, http.StatusUnauthorized, "Not authenticated")
				return
			}

			switch claims.Role {
			case models.RolePatient, models.RoleDoctor, models.RoleAdmin:
				if !allowedSet[claims.Role] {
					respondError(w, http.StatusForbidden, "Insufficient role")
					return
				}
			case models.RolePendingDoctor:
				respondError(w, http.StatusForbidden, "Your doctor verification is still pending admin approval")
				return
			case models.RoleRejectedDoctor:
				respondError(w, http.StatusForbidden, "Your doctor verification was rejected")
				return
			default:
				respondError(w, http.StatusForbidden, "Unknown role")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
