package auth

import (
	"context"
	"net/http"
	"parlor/internal/api"
	"parlor/internal/models"
	"strings"
)

const ServiceKeyHeader = "X-API-KEY"

type contextKey int

const (
	userKey contextKey = iota
	serviceKey
)

func WithUser(ctx context.Context, user *models.User) context.Context {
	return context.WithValue(ctx, userKey, user)
}

// UserFromContext returns the user attached by RequireUser or RequireUserOrService.
func UserFromContext(ctx context.Context) (*models.User, bool) {
	user, ok := ctx.Value(userKey).(*models.User)
	return user, ok && user != nil
}

func WithService(ctx context.Context) context.Context {
	return context.WithValue(ctx, serviceKey, true)
}

func IsService(ctx context.Context) bool {
	v, _ := ctx.Value(serviceKey).(bool)
	return v
}

// TokenFromRequest reads ?token= first, then the Authorization header
// with or without a Bearer prefix.
func TokenFromRequest(r *http.Request) string {
	if token := r.URL.Query().Get("token"); token != "" {
		return token
	}

	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if len(header) > 7 && strings.EqualFold(header[:7], "bearer ") {
		return strings.TrimSpace(header[7:])
	}
	return header
}

func (p Principal) attach(ctx context.Context) context.Context {
	if p.Service {
		return WithService(ctx)
	}
	return WithUser(ctx, p.User)
}

// RequireUser rejects requests without a valid end-user token.
// It also serves as the connect gate in front of websocket upgrades.
func (g *Gate) RequireUser(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, err := g.Authenticate(r.Context(), TokenFromRequest(r))
		if err == nil && p.User == nil {
			g.reject("service_key_as_token", nil)
			err = models.ErrUnauthorized
		}
		if err != nil {
			api.WriteError(w, models.ErrUnauthorized)
			return
		}
		next(w, r.WithContext(p.attach(r.Context())))
	}
}

func (g *Gate) RequireService(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !g.IsServiceKey(r.Header.Get(ServiceKeyHeader)) {
			g.reject("service_key", nil)
			api.WriteError(w, models.ErrUnauthorized)
			return
		}
		next(w, r.WithContext(WithService(r.Context())))
	}
}

// RequireUserOrService accepts the service key in its header or a user token.
// Each credential is only honored in its own place.
func (g *Gate) RequireUserOrService(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		credential, viaHeader := r.Header.Get(ServiceKeyHeader), true
		if credential == "" {
			credential, viaHeader = TokenFromRequest(r), false
		}

		p, err := g.Authenticate(r.Context(), credential)
		switch {
		case err != nil:
		case viaHeader && !p.Service:
			g.reject("service_key", nil)
			err = models.ErrUnauthorized
		case !viaHeader && p.Service:
			g.reject("service_key_as_token", nil)
			err = models.ErrUnauthorized
		}
		if err != nil {
			api.WriteError(w, models.ErrUnauthorized)
			return
		}
		next(w, r.WithContext(p.attach(r.Context())))
	}
}
