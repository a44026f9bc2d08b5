package auth

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/kudichat/kudichat/pkg/config"
	"github.com/kudichat/kudichat/pkg/utils"
)

// AdminClaims is what the dashboard middleware puts on the request context.
type AdminClaims struct {
	Email string
	Name  string
}

// AdminJWTMiddleware guards the dashboard routes. Tokens are minted by the
// Google login handler and only for allow-listed emails, but the allow-list
// is re-checked here so removing an email locks the holder out immediately.
func AdminJWTMiddleware(cfg config.Config) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				utils.BuildErrorResponse(w, http.StatusUnauthorized, "Authorization required", nil)
				return
			}

			tokenString := strings.Replace(authHeader, "Bearer ", "", 1)
			token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
				if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
					return nil, fmt.Errorf("unexpected signing method")
				}
				return []byte(cfg.JWTSecret), nil
			})
			if err != nil || !token.Valid {
				utils.BuildErrorResponse(w, http.StatusUnauthorized, "Invalid token", nil)
				return
			}

			claims, ok := token.Claims.(jwt.MapClaims)
			if !ok {
				utils.BuildErrorResponse(w, http.StatusUnauthorized, "Invalid token claims", nil)
				return
			}

			email, _ := claims[utils.EmailKey].(string)
			if !IsAdminEmail(cfg, email) {
				utils.BuildErrorResponse(w, http.StatusForbidden, "Not an admin account", nil)
				return
			}

			name, _ := claims["name"].(string)
			ctx := context.WithValue(r.Context(), utils.AdminKey, AdminClaims{Email: email, Name: name})
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// AdminFromContext returns the authenticated admin, or false outside the
// guarded routes.
func AdminFromContext(ctx context.Context) (AdminClaims, bool) {
	claims, ok := ctx.Value(utils.AdminKey).(AdminClaims)
	return claims, ok
}

func IsAdminEmail(cfg config.Config, email string) bool {
	if email == "" {
		return false
	}
	for _, allowed := range cfg.AdminEmails {
		if strings.EqualFold(strings.TrimSpace(allowed), email) {
			return true
		}
	}
	return false
}
