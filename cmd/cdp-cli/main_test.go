package main

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"cdpchain/cmd/internal/secret"
	"cdpchain/crypto"
	"cdpchain/gateway/middleware"
)

type capturedRequest struct {
	method string
	path   string
	auth   string
	body   map[string]any
}

func captureServer(t *testing.T, status int, response string) (*httptest.Server, *capturedRequest) {
	t.Helper()
	captured := &capturedRequest{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		captured.method = r.Method
		captured.path = r.URL.RequestURI()
		captured.auth = r.Header.Get("Authorization")
		raw, _ := io.ReadAll(r.Body)
		if len(raw) > 0 {
			_ = json.Unmarshal(raw, &captured.body)
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(response))
	}))
	t.Cleanup(srv.Close)
	return srv, captured
}

func TestOpenSendsDecimalAmounts(t *testing.T) {
	srv, captured := captureServer(t, http.StatusOK, `{"receipt":{"digest":"ab"}}`)
	var stdout, stderr bytes.Buffer
	code := run([]string{"open", "-api", srv.URL, "-token", "tok", "-asset", "SOL", "-collateral", "1000", "-debt", "500"}, &stdout, &stderr)
	if code != 0 {
		t.Fatalf("unexpected exit %d: %s", code, stderr.String())
	}
	if captured.method != http.MethodPost || captured.path != "/v1/positions/SOL/open" {
		t.Fatalf("unexpected request %s %s", captured.method, captured.path)
	}
	if captured.auth != "Bearer tok" {
		t.Fatalf("unexpected auth header %q", captured.auth)
	}
	if captured.body["collateral"] != "1000" || captured.body["debt"] != "500" {
		t.Fatalf("unexpected body %v", captured.body)
	}
	if !strings.Contains(stdout.String(), `"digest": "ab"`) {
		t.Fatalf("expected pretty printed response, got %q", stdout.String())
	}
}

func TestQueryCommandsBuildPaths(t *testing.T) {
	srv, captured := captureServer(t, http.StatusOK, `{}`)
	owner := crypto.MustNewAddress(crypto.AccountPrefix, bytes.Repeat([]byte{0x01}, crypto.AddressLength)).String()
	cases := []struct {
		args []string
		want string
	}{
		{[]string{"health", "-asset", "SOL", "-owner", owner}, "/v1/positions/SOL/" + owner + "/health"},
		{[]string{"balance", "-owner", owner, "-asset", "CUSD"}, "/v1/balances/" + owner + "/CUSD"},
		{[]string{"positions", "-asset", "SOL"}, "/v1/positions/SOL"},
		{[]string{"stakes", "-asset", "SOL"}, "/v1/stability/SOL"},
		{[]string{"liquidate", "-asset", "SOL", "-owner", owner}, "/v1/positions/SOL/" + owner + "/liquidate"},
		{[]string{"events", "-type", "cdp.positionLiquidated", "-limit", "5"}, "/v1/events?limit=5&type=cdp.positionLiquidated"},
	}
	for _, tc := range cases {
		var stdout, stderr bytes.Buffer
		args := append(tc.args, "-api", srv.URL)
		if code := run(args, &stdout, &stderr); code != 0 {
			t.Fatalf("%v: unexpected exit %d: %s", tc.args, code, stderr.String())
		}
		if captured.path != tc.want {
			t.Fatalf("%v: got path %s want %s", tc.args, captured.path, tc.want)
		}
	}
}

func TestMissingPathFlagsAreRejected(t *testing.T) {
	var stdout, stderr bytes.Buffer
	if code := run([]string{"pool", "-api", "http://127.0.0.1:1"}, &stdout, &stderr); code == 0 {
		t.Fatalf("expected failure without -asset")
	}
}

func TestAPIErrorsAreReported(t *testing.T) {
	srv, _ := captureServer(t, http.StatusConflict, `{"error":"cdp: position already exists","reason":"duplicate_position"}`)
	var stdout, stderr bytes.Buffer
	code := run([]string{"open", "-api", srv.URL, "-asset", "SOL", "-collateral", "1", "-debt", "1"}, &stdout, &stderr)
	if code == 0 {
		t.Fatalf("expected failure")
	}
	if !strings.Contains(stderr.String(), "duplicate_position") || !strings.Contains(stderr.String(), "409") {
		t.Fatalf("unexpected error output %q", stderr.String())
	}
}

func TestTokenIsAcceptedByAuthenticator(t *testing.T) {
	t.Setenv(envAuthSecret, "cli-secret")
	secretSource = secret.NewSource(envAuthSecret, "token signing secret")
	owner := crypto.MustNewAddress(crypto.AccountPrefix, bytes.Repeat([]byte{0x02}, crypto.AddressLength))

	var stdout, stderr bytes.Buffer
	if code := run([]string{"token", "-sub", owner.String(), "-admin", "-issuer", "cdp"}, &stdout, &stderr); code != 0 {
		t.Fatalf("unexpected exit %d: %s", code, stderr.String())
	}
	token := strings.TrimSpace(stdout.String())

	auth := middleware.NewAuthenticator(middleware.AuthConfig{Enabled: true, HMACSecret: "cli-secret", Issuer: "cdp"}, nil)
	handler := auth.Middleware(middleware.ScopeAdmin)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		caller, ok := middleware.CallerFromContext(r.Context())
		if !ok || !caller.Equal(owner) {
			t.Errorf("unexpected caller %v", caller)
		}
	}))
	req := httptest.NewRequest(http.MethodPost, "/v1/pools", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)
	if res.Code != http.StatusOK {
		t.Fatalf("token rejected with %d", res.Code)
	}
}

func TestKeygenPrintsAddress(t *testing.T) {
	var stdout, stderr bytes.Buffer
	if code := run([]string{"keygen"}, &stdout, &stderr); code != 0 {
		t.Fatalf("unexpected exit %d: %s", code, stderr.String())
	}
	if !strings.HasPrefix(stdout.String(), "address: cdp1") {
		t.Fatalf("unexpected output %q", stdout.String())
	}
}
