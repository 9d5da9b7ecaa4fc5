package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-secret"

func signToken(t *testing.T, secret string, claims jwt.RegisteredClaims) string {
	t.Helper()
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	require.NoError(t, err)
	return signed
}

func newRouter(audience string) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.GET("/private", JWTMiddleware(testSecret, audience), func(c *gin.Context) {
		c.String(http.StatusOK, c.GetString(SubjectKey))
	})
	return router
}

func do(router *gin.Engine, header string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/private", nil)
	if header != "" {
		req.Header.Set("Authorization", header)
	}
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)
	return resp
}

func TestJWTMiddlewareAcceptsValidToken(t *testing.T) {
	token := signToken(t, testSecret, jwt.RegisteredClaims{
		Subject:   "user-1",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	})

	resp := do(newRouter(""), "Bearer "+token)
	assert.Equal(t, http.StatusOK, resp.Code)
	assert.Equal(t, "user-1", resp.Body.String())
}

func TestJWTMiddlewareRejects(t *testing.T) {
	expired := signToken(t, testSecret, jwt.RegisteredClaims{
		Subject:   "user-1",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Hour)),
	})
	wrongKey := signToken(t, "other", jwt.RegisteredClaims{Subject: "user-1"})
	noSubject := signToken(t, testSecret, jwt.RegisteredClaims{})

	for name, header := range map[string]string{
		"missing header": "",
		"wrong scheme":   "Basic abc",
		"empty token":    "Bearer ",
		"expired":        "Bearer " + expired,
		"wrong key":      "Bearer " + wrongKey,
		"no subject":     "Bearer " + noSubject,
	} {
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, http.StatusUnauthorized, do(newRouter(""), header).Code)
		})
	}
}

func TestJWTMiddlewareAudience(t *testing.T) {
	router := newRouter("imagenet")

	good := signToken(t, testSecret, jwt.RegisteredClaims{Subject: "u", Audience: jwt.ClaimStrings{"imagenet"}})
	bad := signToken(t, testSecret, jwt.RegisteredClaims{Subject: "u", Audience: jwt.ClaimStrings{"other"}})

	assert.Equal(t, http.StatusOK, do(router, "Bearer "+good).Code)
	assert.Equal(t, http.StatusUnauthorized, do(router, "Bearer "+bad).Code)
}
