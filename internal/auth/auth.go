package auth

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"parlor/internal/metrics"
	"parlor/internal/models"
	"time"

	"github.com/c-pro/geche"
	"github.com/golang-jwt/jwt/v5"
)

const DefaultCacheTTL = time.Minute

// Principal is the result of a successful authentication.
// Service principals carry no user.
type Principal struct {
	User    *models.User
	Service bool
}

type Config struct {
	APIKey   string
	CacheTTL time.Duration
}

type verifiedToken struct {
	user    models.User
	expires time.Time
}

// Gate verifies end-user tokens and the shared service key.
type Gate struct {
	Config
	verifier TokenVerifier
	verified geche.Geche[string, verifiedToken]
	now      func() time.Time
	logger   *slog.Logger
}

func NewGate(ctx context.Context, config Config, verifier TokenVerifier) (*Gate, error) {
	if verifier == nil {
		return nil, errors.New("token verifier is required")
	}
	if config.CacheTTL <= 0 {
		config.CacheTTL = DefaultCacheTTL
	}

	return &Gate{
		Config:   config,
		verifier: verifier,
		verified: geche.NewMapTTLCache[string, verifiedToken](ctx, config.CacheTTL, config.CacheTTL),
		now:      time.Now,
		logger:   slog.With("component", "auth"),
	}, nil
}

// Authenticate accepts either the service key or an end-user token.
func (g *Gate) Authenticate(ctx context.Context, credential string) (Principal, error) {
	if g.IsServiceKey(credential) {
		return Principal{Service: true}, nil
	}

	user, err := g.VerifyToken(ctx, credential)
	if err != nil {
		return Principal{}, err
	}
	return Principal{User: &user}, nil
}

// IsServiceKey compares in constant time. An unset key never matches.
func (g *Gate) IsServiceKey(key string) bool {
	if g.APIKey == "" || key == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(g.APIKey), []byte(key)) == 1
}

// VerifyToken returns the user for a valid token. Every failure is ErrUnauthorized;
// the cause is logged and counted.
func (g *Gate) VerifyToken(ctx context.Context, token string) (models.User, error) {
	if token == "" {
		g.reject("missing", nil)
		return models.User{}, models.ErrUnauthorized
	}

	key := tokenKey(token)
	now := g.now()
	if cached, err := g.verified.Get(key); err == nil {
		if now.Before(cached.expires) {
			metrics.TokenCacheTotal.WithLabelValues("hit").Inc()
			return cached.user, nil
		}
		_ = g.verified.Del(key)
	}
	metrics.TokenCacheTotal.WithLabelValues("miss").Inc()

	user, expires, err := g.verifier.Verify(ctx, token)
	if err != nil {
		g.reject(failureReason(err), err)
		return models.User{}, fmt.Errorf("%w: %v", models.ErrUnauthorized, err)
	}
	if !now.Before(expires) {
		g.reject("expired", nil)
		return models.User{}, models.ErrUnauthorized
	}

	g.verified.Set(key, verifiedToken{user: user, expires: expires})
	return user, nil
}

func (g *Gate) reject(reason string, err error) {
	metrics.AuthFailuresTotal.WithLabelValues(reason).Inc()
	if err != nil {
		g.logger.Info("credential rejected", "reason", reason, "error", err)
		return
	}
	g.logger.Info("credential rejected", "reason", reason)
}

func failureReason(err error) string {
	switch {
	case errors.Is(err, ErrNoSubject):
		return "no_subject"
	case errors.Is(err, jwt.ErrTokenExpired):
		return "expired"
	case errors.Is(err, jwt.ErrTokenMalformed):
		return "malformed"
	case errors.Is(err, jwt.ErrTokenSignatureInvalid):
		return "signature"
	case errors.Is(err, jwt.ErrTokenUnverifiable):
		return "keyset"
	default:
		return "invalid"
	}
}

func tokenKey(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}
