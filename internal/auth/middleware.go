package auth

import (
	"log/slog"
	"net/http"

	"github.com/frahmantamala/league-payments/internal"
	"github.com/frahmantamala/league-payments/internal/transport"
	"github.com/frahmantamala/league-payments/pkg/logger"
)

type Middleware struct {
	*transport.BaseHandler
	Validator TokenValidator
}

func NewMiddleware(validator TokenValidator, lg *slog.Logger) *Middleware {
	return &Middleware{
		BaseHandler: transport.NewBaseHandler(lg),
		Validator:   validator,
	}
}

// Authenticate requires a valid bearer token and puts the operator id on the
// request context and its logger.
func (m *Middleware) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := m.ExtractTokenFromHeader(r)
		if token == "" {
			m.HandleError(w, internal.ErrInvalidToken.WithMessage("missing authorization token"))
			return
		}

		claims, err := m.Validator.ValidateToken(token)
		if err != nil {
			logger.Scoped(r.Context(), m.Logger).Warn("auth middleware: token rejected", "error", err, "path", r.URL.Path)
			m.HandleServiceError(w, err)
			return
		}

		ctx := internal.ContextWithOperatorID(r.Context(), claims.OperatorID)
		ctx = logger.With(ctx, "operator_id", claims.OperatorID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
