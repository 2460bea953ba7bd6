/**
 * @description
 * Staff authentication middleware. Back-office requests carry an HS256 bearer token whose
 * claims name the staff member (`sub`), the business they act for (`tenant_id`) and an
 * optional `role`. Platform administrators (`role: admin`) may act for any tenant.
 *
 * @dependencies
 * - github.com/golang-jwt/jwt/v5: token parsing and signature verification.
 */

package api

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/golang-jwt/jwt/v5"
)

type contextKey string

const staffClaimsKey contextKey = "staffClaims"

// RoleAdmin marks a platform administrator.
const RoleAdmin = "admin"

// StaffClaims is the authenticated caller of a back-office request.
type StaffClaims struct {
	UserID   string
	TenantID string
	Role     string
}

// IsAdmin reports whether the caller may act for every tenant.
func (c StaffClaims) IsAdmin() bool {
	return c.Role == RoleAdmin
}

// StaffAuthMiddleware validates staff JWTs signed with secret and injects the claims into context.
func StaffAuthMiddleware(secret string) func(http.Handler) http.Handler {
	key := []byte(secret)
	parser := jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if len(key) == 0 {
				writeError(w, http.StatusServiceUnavailable, "authentication_unavailable", "Staff authentication is not configured")
				return
			}

			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				writeError(w, http.StatusUnauthorized, "unauthorized", "Authorization header required")
				return
			}

			// Extract the token from "Bearer <token>"
			tokenString := strings.TrimPrefix(authHeader, "Bearer ")
			if tokenString == authHeader {
				writeError(w, http.StatusUnauthorized, "unauthorized", "Invalid Authorization header format")
				return
			}

			token, err := parser.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
				if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
					return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
				}
				return key, nil
			})
			if err != nil || !token.Valid {
				writeError(w, http.StatusUnauthorized, "unauthorized", "Invalid token")
				return
			}

			mapClaims, ok := token.Claims.(jwt.MapClaims)
			if !ok {
				writeError(w, http.StatusUnauthorized, "unauthorized", "Invalid token claims")
				return
			}

			claims := StaffClaims{}
			claims.UserID, _ = mapClaims["sub"].(string)
			claims.TenantID, _ = mapClaims["tenant_id"].(string)
			claims.Role, _ = mapClaims["role"].(string)
			if claims.UserID == "" {
				writeError(w, http.StatusUnauthorized, "unauthorized", "User ID not found in token")
				return
			}

			ctx := context.WithValue(r.Context(), staffClaimsKey, claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireTenantAccess rejects callers whose token is scoped to a different tenant than the
// {tenantID} URL parameter.
func RequireTenantAccess(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims, ok := GetStaffClaims(r.Context())
		if !ok {
			writeError(w, http.StatusUnauthorized, "unauthorized", "Missing staff claims")
			return
		}
		if !claims.IsAdmin() && !strings.EqualFold(claims.TenantID, chi.URLParam(r, "tenantID")) {
			writeError(w, http.StatusForbidden, "forbidden", "Token is not valid for this business")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// RequireAdmin rejects callers without the admin role.
func RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims, ok := GetStaffClaims(r.Context())
		if !ok || !claims.IsAdmin() {
			writeError(w, http.StatusForbidden, "forbidden", "Administrator access required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// GetStaffClaims retrieves the authenticated staff claims from the request context.
func GetStaffClaims(ctx context.Context) (StaffClaims, bool) {
	claims, ok := ctx.Value(staffClaimsKey).(StaffClaims)
	return claims, ok
}
