package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	jwt "github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
)

const testSecret = "escrow-test-secret"

var testCaller = common.HexToAddress("0x00000000000000000000000000000000000000a1")

func signToken(t *testing.T, claims jwt.MapClaims, secret string) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(secret))
	require.NoError(t, err)
	return signed
}

func captureCaller(seen *[20]byte, ok *bool) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		*seen, *ok = CallerFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	})
}

func TestAuthenticatorAcceptsValidToken(t *testing.T) {
	auth := NewAuthenticator(AuthConfig{Enabled: true, HMACSecret: testSecret, Issuer: "escrow", Audience: "api"}, nil)
	var seen [20]byte
	var ok bool
	handler := auth.Middleware(captureCaller(&seen, &ok))

	token := signToken(t, jwt.MapClaims{
		"sub": testCaller.Hex(),
		"iss": "escrow",
		"aud": []string{"api"},
		"exp": time.Now().Add(time.Hour).Unix(),
	}, testSecret)
	req := httptest.NewRequest(http.MethodPost, "/v1/transactions", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)

	require.Equal(t, http.StatusOK, res.Code)
	require.True(t, ok)
	require.Equal(t, [20]byte(testCaller), seen)
}

func TestAuthenticatorRejectsBadTokens(t *testing.T) {
	auth := NewAuthenticator(AuthConfig{Enabled: true, HMACSecret: testSecret, Issuer: "escrow"}, nil)
	handler := auth.Middleware(okHandler())
	future := time.Now().Add(time.Hour).Unix()

	cases := map[string]string{
		"missing":      "",
		"wrong secret": "Bearer " + signToken(t, jwt.MapClaims{"sub": testCaller.Hex(), "iss": "escrow", "exp": future}, "other"),
		"wrong issuer": "Bearer " + signToken(t, jwt.MapClaims{"sub": testCaller.Hex(), "iss": "x", "exp": future}, testSecret),
		"expired":      "Bearer " + signToken(t, jwt.MapClaims{"sub": testCaller.Hex(), "iss": "escrow", "exp": time.Now().Add(-time.Hour).Unix()}, testSecret),
		"no expiry":    "Bearer " + signToken(t, jwt.MapClaims{"sub": testCaller.Hex(), "iss": "escrow"}, testSecret),
		"bad subject":  "Bearer " + signToken(t, jwt.MapClaims{"sub": "merchant-1", "iss": "escrow", "exp": future}, testSecret),
	}
	for name, header := range cases {
		req := httptest.NewRequest(http.MethodPost, "/v1/transactions", nil)
		if header != "" {
			req.Header.Set("Authorization", header)
		}
		res := httptest.NewRecorder()
		handler.ServeHTTP(res, req)
		require.Equal(t, http.StatusUnauthorized, res.Code, name)
	}
}

func TestAuthenticatorOptionalPaths(t *testing.T) {
	auth := NewAuthenticator(AuthConfig{Enabled: true, HMACSecret: testSecret, OptionalPaths: []string{"/v1/merchants"}}, nil)
	var seen [20]byte
	var ok bool
	handler := auth.Middleware(captureCaller(&seen, &ok))

	res := httptest.NewRecorder()
	handler.ServeHTTP(res, httptest.NewRequest(http.MethodGet, "/v1/merchants/0xabc/reputation", nil))
	require.Equal(t, http.StatusOK, res.Code)
	require.False(t, ok)

	res = httptest.NewRecorder()
	handler.ServeHTTP(res, httptest.NewRequest(http.MethodPost, "/v1/merchants/0xabc/reputation", nil))
	require.Equal(t, http.StatusUnauthorized, res.Code)
}

func TestAuthenticatorDisabledUsesHeader(t *testing.T) {
	auth := NewAuthenticator(AuthConfig{}, nil)
	var seen [20]byte
	var ok bool
	handler := auth.Middleware(captureCaller(&seen, &ok))

	req := httptest.NewRequest(http.MethodPost, "/v1/transactions", nil)
	req.Header.Set(CallerHeader, testCaller.Hex())
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)
	require.Equal(t, http.StatusOK, res.Code)
	require.Equal(t, [20]byte(testCaller), seen)

	req = httptest.NewRequest(http.MethodPost, "/v1/transactions", nil)
	req.Header.Set(CallerHeader, "0x0000000000000000000000000000000000000000")
	res = httptest.NewRecorder()
	handler.ServeHTTP(res, req)
	require.Equal(t, http.StatusUnauthorized, res.Code)
}

func TestRequestIDAssignsAndReuses(t *testing.T) {
	var seen string
	handler := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = RequestIDFromContext(r.Context())
	}))

	res := httptest.NewRecorder()
	handler.ServeHTTP(res, httptest.NewRequest(http.MethodGet, "/", nil))
	require.NotEmpty(t, seen)
	require.Equal(t, seen, res.Header().Get(RequestIDHeader))

	const supplied = "6f1c1f4e-5f0e-4c55-9a55-2b0d1f3f8a10"
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(RequestIDHeader, supplied)
	handler.ServeHTTP(httptest.NewRecorder(), req)
	require.Equal(t, supplied, seen)

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(RequestIDHeader, "not-a-uuid")
	handler.ServeHTTP(httptest.NewRecorder(), req)
	require.NotEqual(t, "not-a-uuid", seen)
}

func TestCORSPreflight(t *testing.T) {
	handler := CORS(CORSConfig{AllowedOrigins: []string{"https://shop.example"}})(okHandler())
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, httptest.NewRequest(http.MethodOptions, "/v1/transactions", nil))
	require.Equal(t, http.StatusNoContent, res.Code)
	require.Equal(t, "https://shop.example", res.Header().Get("Access-Control-Allow-Origin"))
	require.Contains(t, res.Header().Get("Access-Control-Allow-Headers"), "Idempotency-Key")
}
