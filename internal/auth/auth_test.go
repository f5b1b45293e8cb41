package auth

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/spec-kit/call-signaling/internal/domain"
	apperrors "github.com/spec-kit/call-signaling/pkg/util/errorutil"
)

func TestTokenRoundTrip(t *testing.T) {
	tm := NewTokenManager("secret", 5)

	token, expiresAt, err := tm.GenerateToken("u1", domain.RoleCustomer)
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(5*time.Minute), expiresAt, time.Second)

	claims, err := tm.ParseToken(token)
	require.NoError(t, err)
	assert.Equal(t, domain.Identity{UserID: "u1", Role: domain.RoleCustomer}, claims.Identity())
}

func TestParseTokenRejects(t *testing.T) {
	tm := NewTokenManager("secret", 5)

	other, _, err := NewTokenManager("other", 5).GenerateToken("u1", domain.RoleSupporter)
	require.NoError(t, err)
	_, err = tm.ParseToken(other)
	assert.Error(t, err, "wrong key")

	expired := jwt.NewWithClaims(jwt.SigningMethodHS256, &Claims{RegisteredClaims: jwt.RegisteredClaims{
		Subject:   "u1",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Minute)),
	}})
	raw, err := expired.SignedString([]byte("secret"))
	require.NoError(t, err)
	_, err = tm.ParseToken(raw)
	assert.Error(t, err, "expired")

	anonymous := jwt.NewWithClaims(jwt.SigningMethodHS256, &Claims{})
	raw, err = anonymous.SignedString([]byte("secret"))
	require.NoError(t, err)
	_, err = tm.ParseToken(raw)
	assert.Error(t, err, "no subject")

	_, _, err = tm.GenerateToken("", domain.RoleCustomer)
	assert.Error(t, err)
}

func newTestApp(handlers ...fiber.Handler) *fiber.App {
	app := fiber.New(fiber.Config{
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			de := apperrors.ToDomainError(err)
			return c.Status(de.HTTPStatus).SendString(de.Code)
		},
	})
	handlers = append(handlers, func(c *fiber.Ctx) error {
		identity, _ := IdentityFromContext(c)
		return c.SendString(identity.UserID)
	})
	app.Get("/", handlers...)
	return app
}

func TestAuthMiddleware(t *testing.T) {
	tm := NewTokenManager("secret", 5)
	token, _, err := tm.GenerateToken("u1", domain.RoleCustomer)
	require.NoError(t, err)
	app := newTestApp(NewAuthMiddleware(tm).Handle)

	tests := []struct {
		name   string
		target string
		header string
		status int
		body   string
	}{
		{name: "bearer header", target: "/", header: "Bearer " + token, status: http.StatusOK, body: "u1"},
		{name: "query token", target: "/?token=" + token, status: http.StatusOK, body: "u1"},
		{name: "missing", target: "/", status: http.StatusUnauthorized, body: "UNAUTHORIZED"},
		{name: "bad scheme", target: "/", header: "Basic abc", status: http.StatusUnauthorized, body: "UNAUTHORIZED"},
		{name: "bad token", target: "/", header: "Bearer nope", status: http.StatusUnauthorized, body: "UNAUTHORIZED"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tt.target, nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			resp, err := app.Test(req)
			require.NoError(t, err)
			defer resp.Body.Close()

			body, _ := io.ReadAll(resp.Body)
			assert.Equal(t, tt.status, resp.StatusCode)
			assert.Equal(t, tt.body, string(body))
		})
	}
}

func TestRequireServiceKey(t *testing.T) {
	hash, err := HashServiceKey("s3cret", bcrypt.MinCost)
	require.NoError(t, err)
	require.NoError(t, CompareServiceKey(hash, "s3cret"))

	app := newTestApp(RequireServiceKey(hash))
	for key, status := range map[string]int{
		"s3cret": http.StatusOK,
		"wrong":  http.StatusUnauthorized,
		"":       http.StatusUnauthorized,
	} {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		if key != "" {
			req.Header.Set(ServiceKeyHeader, key)
		}
		resp, err := app.Test(req)
		require.NoError(t, err)
		assert.Equal(t, status, resp.StatusCode, "key %q", key)
	}

	closed := newTestApp(RequireServiceKey(""))
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(ServiceKeyHeader, "s3cret")
	resp, err := closed.Test(req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}
