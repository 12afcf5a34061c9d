package middleware

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/haulhub/backend/internal/models"
)

// SuspensionCheck blocks suspended or banned haulers from taking on new
// work. Runs after JWTAuth; non-hauler principals pass through untouched.
// A suspension that has expired no longer blocks, even before the profile
// row is cleaned up.
func SuspensionCheck(pool *pgxpool.Pool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p := PrincipalFromCtx(r.Context())
			if p == nil {
				http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
				return
			}
			if p.Role != models.RoleHauler {
				next.ServeHTTP(w, r)
				return
			}
			status, until, err := accountStandingFn(r.Context(), pool, p.ID)
			if err != nil {
				http.Error(w, `{"error":"failed to check account standing"}`, http.StatusInternalServerError)
				return
			}
			if status == models.AccountBanned {
				http.Error(w, `{"error":"account is banned"}`, http.StatusForbidden)
				return
			}
			if status == models.AccountSuspended && until != nil && time.Now().Before(*until) {
				http.Error(w, `{"error":"account is suspended"}`, http.StatusForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// accountStandingFn looks up account status and suspension deadline.
// Tests can replace this to avoid hitting a real database.
var accountStandingFn = defaultAccountStanding

func defaultAccountStanding(ctx context.Context, pool *pgxpool.Pool, userID uuid.UUID) (string, *time.Time, error) {
	var status string
	var until *time.Time
	err := pool.QueryRow(ctx, `
		SELECT u.account_status, p.suspended_until
		FROM users u
		LEFT JOIN hauler_profiles p ON p.user_id = u.id
		WHERE u.id = $1
	`, userID).Scan(&status, &until)
	return status, until, err
}
