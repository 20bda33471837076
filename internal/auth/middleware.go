package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/getsentry/sentry-go"

	"cms-auth/internal/observability"
)

type contextKey struct{}

func WithAccount(ctx context.Context, account *Account) context.Context {
	return context.WithValue(ctx, contextKey{}, account)
}

// AccountFromContext returns the principal attached by the guard, or nil.
func AccountFromContext(ctx context.Context) *Account {
	account, _ := ctx.Value(contextKey{}).(*Account)
	return account
}

// Guard authenticates bearer tokens against live account state.
type Guard struct {
	service *Service
	logger  *observability.Logger
}

func NewGuard(service *Service, logger *observability.Logger) *Guard {
	return &Guard{service: service, logger: logger}
}

func (g *Guard) Require(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		account, ok := g.authenticate(w, r)
		if !ok {
			return
		}
		next.ServeHTTP(w, r.WithContext(WithAccount(r.Context(), account)))
	})
}

// Optional attaches the principal when the request carries a usable token and
// otherwise passes the request through untouched.
func (g *Guard) Optional(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, err := bearerToken(r)
		if err != nil {
			next.ServeHTTP(w, r)
			return
		}

		account, err := g.service.Authenticate(r.Context(), token)
		if err != nil {
			next.ServeHTTP(w, r)
			return
		}
		next.ServeHTTP(w, r.WithContext(WithAccount(r.Context(), account)))
	})
}

func (g *Guard) RequirePermission(resource Resource, action Action, next http.Handler) http.Handler {
	return g.Require(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		account := AccountFromContext(r.Context())
		if !g.service.Authorize(account, resource, action) {
			writeError(w, http.StatusForbidden, "Access denied. Missing permission: "+string(action)+" on "+string(resource))
			return
		}
		next.ServeHTTP(w, r)
	}))
}

func (g *Guard) RequireRole(next http.Handler, roles ...Role) http.Handler {
	return g.Require(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !HasRole(AccountFromContext(r.Context()), roles...) {
			names := make([]string, len(roles))
			for i, role := range roles {
				names[i] = string(role)
			}
			writeError(w, http.StatusForbidden, "Access denied. Required roles: "+strings.Join(names, ", "))
			return
		}
		next.ServeHTTP(w, r)
	}))
}

func (g *Guard) authenticate(w http.ResponseWriter, r *http.Request) (*Account, bool) {
	token, err := bearerToken(r)
	if err != nil {
		writeError(w, http.StatusUnauthorized, unauthenticatedMessage(errorReason(err)))
		return nil, false
	}

	account, err := g.service.Authenticate(r.Context(), token)
	if err != nil {
		var unauthErr *UnauthenticatedError
		if !errors.As(err, &unauthErr) {
			sentry.CaptureException(err)
			g.logger.Error("authenticate_request_failed", map[string]any{"error": err.Error()})
			writeError(w, http.StatusInternalServerError, "authentication error")
			return nil, false
		}

		g.logRejection(r, unauthErr)
		writeError(w, http.StatusUnauthorized, unauthenticatedMessage(unauthErr.Reason))
		return nil, false
	}
	return account, true
}

func (g *Guard) logRejection(r *http.Request, err *UnauthenticatedError) {
	fields := map[string]any{
		"path":   r.URL.Path,
		"ip":     observability.ClientIP(r),
		"reason": string(err.Reason),
	}
	switch err.Reason {
	case ReasonExpiredCredential:
		g.logger.Info("auth_token_expired", fields)
	case ReasonInvalidCredential:
		g.logger.Warn("auth_token_malformed", fields)
	default:
		g.logger.Info("auth_rejected", fields)
	}
}

func bearerToken(r *http.Request) (string, error) {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if header == "" {
		return "", unauthenticated(ReasonMissingCredential, nil)
	}

	parts := strings.SplitN(header, " ", 2)
	if len(parts) == 1 && strings.EqualFold(parts[0], "Bearer") {
		return "", unauthenticated(ReasonMissingCredential, nil)
	}
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", unauthenticated(ReasonInvalidCredential, ErrTokenMalformed)
	}

	token := strings.TrimSpace(parts[1])
	if token == "" {
		return "", unauthenticated(ReasonMissingCredential, nil)
	}
	return token, nil
}

func errorReason(err error) UnauthenticatedReason {
	var unauthErr *UnauthenticatedError
	if errors.As(err, &unauthErr) {
		return unauthErr.Reason
	}
	return ReasonInvalidCredential
}

func unauthenticatedMessage(reason UnauthenticatedReason) string {
	switch reason {
	case ReasonMissingCredential:
		return "Access denied. No token provided."
	case ReasonExpiredCredential:
		return "Token has expired."
	case ReasonAccountNotFound:
		return "Invalid token. User not found."
	case ReasonDeactivated:
		return "Account is deactivated."
	case ReasonLocked:
		return "Account is temporarily locked due to too many failed login attempts."
	default:
		return "Invalid token."
	}
}
