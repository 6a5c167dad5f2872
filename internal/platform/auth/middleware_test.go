package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testSigningKey = []byte("test-secret-key-for-unit-tests-only")

func createTestToken(t *testing.T, claims Claims, key []byte) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenStr, err := token.SignedString(key)
	require.NoError(t, err)
	return tokenStr
}

func validClaims(sub string) Claims {
	return Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   sub,
			Issuer:    "hms-test",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
		Roles: []string{"STAFF"},
	}
}

func callMiddleware(mw echo.MiddlewareFunc, header string) (echo.Context, error) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if header != "" {
		req.Header.Set("Authorization", header)
	}
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	var seen echo.Context
	err := mw(func(c echo.Context) error {
		seen = c
		return c.NoContent(http.StatusOK)
	})(c)
	return seen, err
}

func assertStatus(t *testing.T, err error, code int) {
	t.Helper()
	httpErr, ok := err.(*echo.HTTPError)
	require.True(t, ok, "expected *echo.HTTPError, got %T", err)
	assert.Equal(t, code, httpErr.Code)
}

func TestJWTMiddleware_MissingHeader(t *testing.T) {
	_, err := callMiddleware(JWTMiddleware(JWTConfig{SigningKey: testSigningKey}), "")
	assertStatus(t, err, http.StatusUnauthorized)
}

func TestJWTMiddleware_InvalidFormat(t *testing.T) {
	tests := []struct {
		name   string
		header string
	}{
		{"no bearer prefix", "Token abc123"},
		{"missing token", "Bearer"},
		{"empty value", "Bearer "},
		{"basic auth", "Basic dXNlcjpwYXNz"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := callMiddleware(JWTMiddleware(JWTConfig{SigningKey: testSigningKey}), tt.header)
			assertStatus(t, err, http.StatusUnauthorized)
		})
	}
}

func TestJWTMiddleware_ValidToken(t *testing.T) {
	sub := uuid.NewString()
	tokenStr := createTestToken(t, validClaims(sub), testSigningKey)

	c, err := callMiddleware(JWTMiddleware(JWTConfig{SigningKey: testSigningKey, Issuer: "hms-test"}), "Bearer "+tokenStr)
	require.NoError(t, err)
	require.NotNil(t, c)

	ctx := c.Request().Context()
	assert.Equal(t, sub, UserIDFromContext(ctx))
	assert.Equal(t, []string{"staff"}, RolesFromContext(ctx))
	id, ok := UserUUIDFromContext(ctx)
	assert.True(t, ok)
	assert.Equal(t, sub, id.String())
}

func TestJWTMiddleware_WrongKey(t *testing.T) {
	tokenStr := createTestToken(t, validClaims(uuid.NewString()), []byte("some-other-key"))
	_, err := callMiddleware(JWTMiddleware(JWTConfig{SigningKey: testSigningKey}), "Bearer "+tokenStr)
	assertStatus(t, err, http.StatusUnauthorized)
}

func TestJWTMiddleware_WrongIssuer(t *testing.T) {
	tokenStr := createTestToken(t, validClaims(uuid.NewString()), testSigningKey)
	_, err := callMiddleware(JWTMiddleware(JWTConfig{SigningKey: testSigningKey, Issuer: "someone-else"}), "Bearer "+tokenStr)
	assertStatus(t, err, http.StatusUnauthorized)
}

func TestJWTMiddleware_Expired(t *testing.T) {
	claims := validClaims(uuid.NewString())
	claims.ExpiresAt = jwt.NewNumericDate(time.Now().Add(-time.Minute))
	tokenStr := createTestToken(t, claims, testSigningKey)

	_, err := callMiddleware(JWTMiddleware(JWTConfig{SigningKey: testSigningKey}), "Bearer "+tokenStr)
	assertStatus(t, err, http.StatusUnauthorized)
}

func TestJWTMiddleware_SubjectNotUUID(t *testing.T) {
	tokenStr := createTestToken(t, validClaims("user-123"), testSigningKey)
	_, err := callMiddleware(JWTMiddleware(JWTConfig{SigningKey: testSigningKey}), "Bearer "+tokenStr)
	assertStatus(t, err, http.StatusUnauthorized)
}

func TestJWTMiddleware_Skipper(t *testing.T) {
	cfg := JWTConfig{SigningKey: testSigningKey, Skipper: func(echo.Context) bool { return true }}
	_, err := callMiddleware(JWTMiddleware(cfg), "")
	assert.NoError(t, err)
}

func TestDevAuthMiddleware_NoHeader(t *testing.T) {
	c, err := callMiddleware(DevAuthMiddleware(JWTMiddleware(JWTConfig{SigningKey: testSigningKey})), "")
	require.NoError(t, err)

	ctx := c.Request().Context()
	assert.Equal(t, DevUserID.String(), UserIDFromContext(ctx))
	assert.Equal(t, []string{RoleAdmin}, RolesFromContext(ctx))
}

func TestDevAuthMiddleware_VerifiesPresentedToken(t *testing.T) {
	_, err := callMiddleware(DevAuthMiddleware(JWTMiddleware(JWTConfig{SigningKey: testSigningKey})), "Bearer garbage")
	assertStatus(t, err, http.StatusUnauthorized)
}
