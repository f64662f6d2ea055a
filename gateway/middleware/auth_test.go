package middleware

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"

	"cdpchain/crypto"
)

const testSecret = "unit-test-secret"

func testCaller() crypto.Address {
	return crypto.MustNewAddress(crypto.AccountPrefix, bytes.Repeat([]byte{0x11}, crypto.AddressLength))
}

func callerEcho(t *testing.T, want crypto.Address) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got, ok := CallerFromContext(r.Context())
		if !ok || !got.Equal(want) {
			t.Errorf("unexpected caller %v (%v)", got, ok)
		}
		w.WriteHeader(http.StatusOK)
	})
}

func authed(token string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/v1/positions/SOL/open", nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return req
}

func TestAuthenticatorAcceptsValidToken(t *testing.T) {
	auth := NewAuthenticator(AuthConfig{Enabled: true, HMACSecret: testSecret, Issuer: "cdp"}, nil)
	token, err := IssueToken(testSecret, testCaller(), nil, "cdp", time.Hour)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	res := httptest.NewRecorder()
	auth.Middleware()(callerEcho(t, testCaller())).ServeHTTP(res, authed(token))
	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", res.Code)
	}
}

func TestAuthenticatorRejections(t *testing.T) {
	auth := NewAuthenticator(AuthConfig{Enabled: true, HMACSecret: testSecret, Issuer: "cdp"}, nil)
	valid, _ := IssueToken(testSecret, testCaller(), nil, "cdp", time.Hour)
	wrongSecret, _ := IssueToken("other", testCaller(), nil, "cdp", time.Hour)
	wrongIssuer, _ := IssueToken(testSecret, testCaller(), nil, "elsewhere", time.Hour)
	expired, _ := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": testCaller().String(),
		"iss": "cdp",
		"exp": time.Now().Add(-time.Hour).Unix(),
	}).SignedString([]byte(testSecret))
	badSubject, _ := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "alice",
		"iss": "cdp",
	}).SignedString([]byte(testSecret))

	cases := []struct {
		name   string
		token  string
		scopes []string
		want   int
	}{
		{"missing", "", nil, http.StatusUnauthorized},
		{"wrong secret", wrongSecret, nil, http.StatusUnauthorized},
		{"wrong issuer", wrongIssuer, nil, http.StatusUnauthorized},
		{"expired", expired, nil, http.StatusUnauthorized},
		{"bad subject", badSubject, nil, http.StatusUnauthorized},
		{"missing scope", valid, []string{ScopeAdmin}, http.StatusForbidden},
	}
	for _, tc := range cases {
		res := httptest.NewRecorder()
		auth.Middleware(tc.scopes...)(okHandler()).ServeHTTP(res, authed(tc.token))
		if res.Code != tc.want {
			t.Fatalf("%s: expected %d, got %d", tc.name, tc.want, res.Code)
		}
	}
}

func TestAuthenticatorAdminScope(t *testing.T) {
	auth := NewAuthenticator(AuthConfig{Enabled: true, HMACSecret: testSecret}, nil)
	token, err := IssueToken(testSecret, testCaller(), []string{ScopeAdmin}, "", time.Hour)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	res := httptest.NewRecorder()
	auth.Middleware(ScopeAdmin)(callerEcho(t, testCaller())).ServeHTTP(res, authed(token))
	if res.Code != http.StatusOK {
		t.Fatalf("expected admin access, got %d", res.Code)
	}
}

func TestAuthenticatorDisabledUsesCallerHeader(t *testing.T) {
	auth := NewAuthenticator(AuthConfig{}, nil)
	req := authed("")
	req.Header.Set("X-Caller", testCaller().String())
	res := httptest.NewRecorder()
	auth.Middleware(ScopeAdmin)(callerEcho(t, testCaller())).ServeHTTP(res, req)
	if res.Code != http.StatusOK {
		t.Fatalf("expected pass-through, got %d", res.Code)
	}

	req = authed("")
	req.Header.Set("X-Caller", "garbage")
	res = httptest.NewRecorder()
	auth.Middleware()(okHandler()).ServeHTTP(res, req)
	if res.Code != http.StatusUnauthorized {
		t.Fatalf("expected invalid caller to be rejected, got %d", res.Code)
	}
}
