package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"parlor/internal/content"
	"parlor/internal/models"
	"time"

	"github.com/MicahParks/keyfunc/v2"
	"github.com/golang-jwt/jwt/v5"
)

var ErrNoSubject = errors.New("token has no subject")

var jwksMethods = []string{"RS256", "RS384", "RS512", "PS256", "PS384", "PS512", "ES256", "ES384", "ES512", "EdDSA"}

// TokenVerifier checks a token and returns its user and expiry.
type TokenVerifier interface {
	Verify(ctx context.Context, token string) (models.User, time.Time, error)
}

// Claims are the registered claims plus the profile claims a user is built from.
type Claims struct {
	jwt.RegisteredClaims
	Name              string `json:"name,omitempty"`
	PreferredUsername string `json:"preferred_username,omitempty"`
	Username          string `json:"username,omitempty"`
	Picture           string `json:"picture,omitempty"`
}

func (c *Claims) User() (models.User, error) {
	if c.Subject == "" {
		return models.User{}, ErrNoSubject
	}

	name := c.Name
	if name == "" {
		name = c.PreferredUsername
	}
	if name == "" {
		name = c.Username
	}

	return models.User{
		ID:     c.Subject,
		Name:   content.DisplayName(name),
		Avatar: c.Picture,
	}, nil
}

type JWTVerifier struct {
	keyfunc jwt.Keyfunc
	options []jwt.ParserOption
	close   func()
}

// NewJWTVerifier verifies tokens with an arbitrary key function.
// An empty issuer disables the issuer check.
func NewJWTVerifier(kf jwt.Keyfunc, issuer string, methods []string) *JWTVerifier {
	options := []jwt.ParserOption{
		jwt.WithExpirationRequired(),
		jwt.WithValidMethods(methods),
	}
	if issuer != "" {
		options = append(options, jwt.WithIssuer(issuer))
	}
	return &JWTVerifier{keyfunc: kf, options: options}
}

// NewJWKSVerifier fetches the key set and keeps it refreshed in the background
// until ctx is done or Close is called.
func NewJWKSVerifier(ctx context.Context, jwksURL, issuer string) (*JWTVerifier, error) {
	slog.Info("loading JWKS", "jwks_url", jwksURL)

	jwks, err := keyfunc.Get(jwksURL, keyfunc.Options{
		Ctx:                 ctx,
		RefreshInterval:     5 * time.Minute,
		RefreshRateLimit:    time.Minute,
		RefreshTimeout:      10 * time.Second,
		RefreshUnknownKID:   true,
		RefreshErrorHandler: func(err error) { slog.Error("JWKS refresh error", "error", err) },
	})
	if err != nil {
		return nil, fmt.Errorf("failed to fetch JWKS: %w", err)
	}

	v := NewJWTVerifier(jwks.Keyfunc, issuer, jwksMethods)
	v.close = jwks.EndBackground
	return v, nil
}

// NewHMACVerifier verifies HS256 tokens signed with a shared secret. Development only.
func NewHMACVerifier(secret, issuer string) *JWTVerifier {
	key := []byte(secret)
	return NewJWTVerifier(func(*jwt.Token) (any, error) {
		return key, nil
	}, issuer, []string{jwt.SigningMethodHS256.Alg()})
}

func (v *JWTVerifier) Verify(_ context.Context, tokenString string) (models.User, time.Time, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, v.keyfunc, v.options...)
	if err != nil {
		return models.User{}, time.Time{}, fmt.Errorf("token validation failed: %w", err)
	}
	if !token.Valid {
		return models.User{}, time.Time{}, errors.New("token is not valid")
	}

	user, err := claims.User()
	if err != nil {
		return models.User{}, time.Time{}, err
	}

	return user, claims.ExpiresAt.Time, nil
}

func (v *JWTVerifier) Close() {
	if v.close != nil {
		v.close()
	}
}

// SignDevToken mints an HS256 token for user valid for ttl.
func SignDevToken(secret, issuer string, user models.User, ttl time.Duration, now time.Time) (string, error) {
	if secret == "" {
		return "", errors.New("secret is required")
	}
	if user.ID == "" {
		return "", ErrNoSubject
	}

	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   user.ID,
			Issuer:    issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		Name:    user.Name,
		Picture: user.Avatar,
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return token, nil
}
