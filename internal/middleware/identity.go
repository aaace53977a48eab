package middleware

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/hitoshi/calendarbridge/internal/model"
)

// NewEmailParamGuard はURLパラメータのemailが認証済みユーザーと一致することを要求するミドルウェアを返す。
// chiのルーティング後に評価されるよう、ルート単位で適用する。
func NewEmailParamGuard(param string) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			email := EmailFromContext(r.Context())
			if email == "" {
				WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
				return
			}
			if !strings.EqualFold(chi.URLParam(r, param), email) {
				WriteErrorResponse(w, http.StatusForbidden, model.NewForbiddenError())
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
