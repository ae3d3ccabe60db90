// Package middleware содержит HTTP middleware киоск-API умной тележки.
package middleware

import (
	"context"
	"net/http"
	"slices"

	"github.com/mmeshcher/smartcart/internal/model"
)

type contextKey string

const roleKey contextKey = "role"

// RoleSource возвращает роль владельца текущего действующего токена.
type RoleSource func() (model.Role, bool)

// AuthMiddleware пропускает запросы только при наличии действующей сессии нужной роли.
type AuthMiddleware struct {
	role RoleSource
}

// NewAuthMiddleware создаёт middleware поверх источника роли.
func NewAuthMiddleware(source RoleSource) *AuthMiddleware {
	return &AuthMiddleware{
		role: source,
	}
}

// Middleware требует любую действующую сессию и кладёт её роль в контекст запроса.
func (a *AuthMiddleware) Middleware(next http.Handler) http.Handler {
	return a.RequireRole()(next)
}

// RequireRole требует действующую сессию одной из ролей. Без ролей подходит любая.
func (a *AuthMiddleware) RequireRole(roles ...model.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			role, ok := a.role()
			if !ok {
				http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
				return
			}

			if len(roles) > 0 && !slices.Contains(roles, role) {
				http.Error(w, http.StatusText(http.StatusForbidden), http.StatusForbidden)
				return
			}

			ctx := context.WithValue(r.Context(), roleKey, role)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// GetRoleFromContext извлекает роль пользователя из контекста запроса.
func GetRoleFromContext(ctx context.Context) (model.Role, bool) {
	role, ok := ctx.Value(roleKey).(model.Role)
	return role, ok
}
