package auth

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"parlor/internal/models"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

const (
	testSecret = "dev-secret"
	testIssuer = "parlor-test"
	testAPIKey = "service-key"
)

type countingVerifier struct {
	TokenVerifier
	calls atomic.Int32
}

func (v *countingVerifier) Verify(ctx context.Context, token string) (models.User, time.Time, error) {
	v.calls.Add(1)
	return v.TokenVerifier.Verify(ctx, token)
}

func newTestGate(t *testing.T) (*Gate, *countingVerifier) {
	t.Helper()
	verifier := &countingVerifier{TokenVerifier: NewHMACVerifier(testSecret, testIssuer)}
	gate, err := NewGate(context.Background(), Config{APIKey: testAPIKey, CacheTTL: time.Minute}, verifier)
	require.NoError(t, err)
	return gate, verifier
}

func signToken(t *testing.T, user models.User, ttl time.Duration) string {
	t.Helper()
	token, err := SignDevToken(testSecret, testIssuer, user, ttl, time.Now())
	require.NoError(t, err)
	return token
}

func TestGate_VerifyToken(t *testing.T) {
	gate, verifier := newTestGate(t)
	ctx := context.Background()
	alice := models.User{ID: "u1", Name: "Alice", Avatar: "https://example.com/a.png"}

	t.Run("valid", func(t *testing.T) {
		user, err := gate.VerifyToken(ctx, signToken(t, alice, time.Hour))
		require.NoError(t, err)
		require.Equal(t, alice, user)
	})

	t.Run("cached", func(t *testing.T) {
		token := signToken(t, models.User{ID: "u2", Name: "Bob"}, time.Hour)
		before := verifier.calls.Load()
		for range 3 {
			_, err := gate.VerifyToken(ctx, token)
			require.NoError(t, err)
		}
		require.Equal(t, before+1, verifier.calls.Load())
	})

	t.Run("cache ignores expired entries", func(t *testing.T) {
		token := signToken(t, models.User{ID: "u3"}, time.Hour)
		_, err := gate.VerifyToken(ctx, token)
		require.NoError(t, err)

		gate.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
		defer func() { gate.now = time.Now }()

		_, err = gate.VerifyToken(ctx, token)
		require.ErrorIs(t, err, models.ErrUnauthorized)
	})

	t.Run("missing", func(t *testing.T) {
		_, err := gate.VerifyToken(ctx, "")
		require.ErrorIs(t, err, models.ErrUnauthorized)
	})

	t.Run("garbage", func(t *testing.T) {
		_, err := gate.VerifyToken(ctx, "not-a-jwt")
		require.ErrorIs(t, err, models.ErrUnauthorized)
	})

	t.Run("expired", func(t *testing.T) {
		token, err := SignDevToken(testSecret, testIssuer, alice, time.Minute, time.Now().Add(-time.Hour))
		require.NoError(t, err)
		_, err = gate.VerifyToken(ctx, token)
		require.ErrorIs(t, err, models.ErrUnauthorized)
	})

	t.Run("wrong secret", func(t *testing.T) {
		token, err := SignDevToken("other-secret", testIssuer, alice, time.Hour, time.Now())
		require.NoError(t, err)
		_, err = gate.VerifyToken(ctx, token)
		require.ErrorIs(t, err, models.ErrUnauthorized)
	})

	t.Run("wrong issuer", func(t *testing.T) {
		token, err := SignDevToken(testSecret, "someone-else", alice, time.Hour, time.Now())
		require.NoError(t, err)
		_, err = gate.VerifyToken(ctx, token)
		require.ErrorIs(t, err, models.ErrUnauthorized)
	})
}

func TestClaims_User(t *testing.T) {
	c := Claims{PreferredUsername: "pref", Username: "uname"}
	_, err := c.User()
	require.True(t, errors.Is(err, ErrNoSubject))

	c.Subject = "u1"
	u, err := c.User()
	require.NoError(t, err)
	require.Equal(t, "pref", u.Name)

	c.Name = "Full Name"
	u, _ = c.User()
	require.Equal(t, "Full Name", u.Name)

	c = Claims{Username: "uname"}
	c.Subject = "u1"
	u, _ = c.User()
	require.Equal(t, "uname", u.Name)
}

func TestGate_Authenticate(t *testing.T) {
	gate, _ := newTestGate(t)
	ctx := context.Background()

	p, err := gate.Authenticate(ctx, testAPIKey)
	require.NoError(t, err)
	require.True(t, p.Service)
	require.Nil(t, p.User)

	p, err = gate.Authenticate(ctx, signToken(t, models.User{ID: "u1"}, time.Hour))
	require.NoError(t, err)
	require.False(t, p.Service)
	require.Equal(t, "u1", p.User.ID)

	_, err = gate.Authenticate(ctx, "service-key-but-wrong")
	require.ErrorIs(t, err, models.ErrUnauthorized)
}

func TestGate_IsServiceKey_EmptyNeverMatches(t *testing.T) {
	gate, err := NewGate(context.Background(), Config{}, NewHMACVerifier(testSecret, ""))
	require.NoError(t, err)
	require.False(t, gate.IsServiceKey(""))
	require.False(t, gate.IsServiceKey("anything"))
}

func TestTokenFromRequest(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/ws?token=abc", nil)
	require.Equal(t, "abc", TokenFromRequest(r))

	r = httptest.NewRequest(http.MethodGet, "/ws", nil)
	r.Header.Set("Authorization", "Bearer xyz")
	require.Equal(t, "xyz", TokenFromRequest(r))

	r.Header.Set("Authorization", "raw-token")
	require.Equal(t, "raw-token", TokenFromRequest(r))

	r.Header.Del("Authorization")
	require.Equal(t, "", TokenFromRequest(r))
}

func TestMiddleware(t *testing.T) {
	gate, _ := newTestGate(t)
	token := signToken(t, models.User{ID: "u1", Name: "Alice"}, time.Hour)

	var (
		gotUser    *models.User
		gotService bool
	)
	next := func(w http.ResponseWriter, r *http.Request) {
		gotUser, _ = UserFromContext(r.Context())
		gotService = IsService(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}

	serve := func(h http.HandlerFunc, setup func(r *http.Request)) int {
		gotUser, gotService = nil, false
		r := httptest.NewRequest(http.MethodGet, "/", nil)
		setup(r)
		rec := httptest.NewRecorder()
		h(rec, r)
		return rec.Code
	}

	withToken := func(r *http.Request) { r.Header.Set("Authorization", "Bearer "+token) }
	withKey := func(key string) func(r *http.Request) {
		return func(r *http.Request) { r.Header.Set(ServiceKeyHeader, key) }
	}
	keyAsToken := func(r *http.Request) { r.URL.RawQuery = "token=" + testAPIKey }
	tokenAsKey := withKey(token)
	none := func(*http.Request) {}

	t.Run("RequireUser", func(t *testing.T) {
		require.Equal(t, http.StatusNoContent, serve(gate.RequireUser(next), withToken))
		require.Equal(t, "u1", gotUser.ID)
		require.Equal(t, http.StatusUnauthorized, serve(gate.RequireUser(next), none))
		require.Equal(t, http.StatusUnauthorized, serve(gate.RequireUser(next), withKey(testAPIKey)))
		require.Equal(t, http.StatusUnauthorized, serve(gate.RequireUser(next), keyAsToken))
	})

	t.Run("RequireService", func(t *testing.T) {
		require.Equal(t, http.StatusNoContent, serve(gate.RequireService(next), withKey(testAPIKey)))
		require.True(t, gotService)
		require.Equal(t, http.StatusUnauthorized, serve(gate.RequireService(next), withKey("wrong")))
		require.Equal(t, http.StatusUnauthorized, serve(gate.RequireService(next), withToken))
	})

	t.Run("RequireUserOrService", func(t *testing.T) {
		h := gate.RequireUserOrService(next)
		require.Equal(t, http.StatusNoContent, serve(h, withKey(testAPIKey)))
		require.True(t, gotService)
		require.Nil(t, gotUser)

		require.Equal(t, http.StatusNoContent, serve(h, withToken))
		require.False(t, gotService)
		require.Equal(t, "u1", gotUser.ID)

		require.Equal(t, http.StatusUnauthorized, serve(h, withKey("wrong")))
		require.Equal(t, http.StatusUnauthorized, serve(h, none))
		require.Equal(t, http.StatusUnauthorized, serve(h, keyAsToken))
		require.Equal(t, http.StatusUnauthorized, serve(h, tokenAsKey))
	})
}
