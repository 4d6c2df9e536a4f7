package app

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"postboard/cmd/identity"
	"postboard/cmd/internal/auth/refresh"
	"postboard/cmd/security/token"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func TestRuntimeBaseURL(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		in   string
		want string
	}{
		{name: "explicit localhost", in: "127.0.0.1:8080", want: "http://127.0.0.1:8080"},
		{name: "bind all v4", in: "0.0.0.0:8080", want: "http://127.0.0.1:8080"},
		{name: "bind all v6", in: "[::]:9090", want: "http://127.0.0.1:9090"},
		{name: "port only", in: ":7000", want: "http://127.0.0.1:7000"},
		{name: "ipv6 host", in: "[2001:db8::1]:9090", want: "http://[2001:db8::1]:9090"},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got := runtimeBaseURL(tc.in)
			if got != tc.want {
				t.Fatalf("runtimeBaseURL(%q)=%q want=%q", tc.in, got, tc.want)
			}
		})
	}
}

func TestNewRefreshStore_Selection(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	cases := []struct {
		name     string
		kind     string
		rdb      *redis.Client
		wantKind string
		wantErr  bool
	}{
		{name: "auto without db", kind: "", wantKind: RefreshStoreMemory},
		{name: "explicit auto", kind: RefreshStoreAuto, wantKind: RefreshStoreMemory},
		{name: "memory", kind: "MEMORY", wantKind: RefreshStoreMemory},
		{name: "redis", kind: RefreshStoreRedis, rdb: rdb, wantKind: RefreshStoreRedis},
		{name: "redis without client", kind: RefreshStoreRedis, wantErr: true},
		{name: "postgres without pool", kind: RefreshStorePostgres, wantErr: true},
		{name: "unknown", kind: "dynamo", wantErr: true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			store, kind, err := newRefreshStore(Config{RefreshStore: tc.kind}, nil, tc.rdb, 0)
			if tc.wantErr {
				if err == nil {
					t.Fatalf("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("newRefreshStore: %v", err)
			}
			if kind != tc.wantKind || store == nil {
				t.Fatalf("kind=%q store=%T want %q", kind, store, tc.wantKind)
			}
		})
	}
}

func TestNewVerifiers_NoDevInProduction(t *testing.T) {
	t.Parallel()

	if _, ok := newVerifiers(Config{Env: "local"})[identity.DevProvider]; !ok {
		t.Fatalf("expected dev verifier in local env")
	}
	if v := newVerifiers(Config{Env: "production"}); len(v) != 0 {
		t.Fatalf("expected no verifiers in production, got %v", v.Providers())
	}
}

func TestValidateSecurityConfig(t *testing.T) {
	key := strings.Repeat("k", token.MinHMACKeyBytes)

	t.Setenv(token.HMACEnvKey, "")
	if err := ValidateSecurityConfig(Config{}, token.Hasher{}); err != nil {
		t.Fatalf("policy off: %v", err)
	}
	if err := ValidateSecurityConfig(Config{RequireTokenHMAC: true}, token.Hasher{}); !errors.Is(err, token.ErrHMACKeyMissing) {
		t.Fatalf("expected missing key error, got %v", err)
	}

	t.Setenv(token.HMACEnvKey, "short")
	if err := ValidateSecurityConfig(Config{RequireTokenHMAC: true}, token.HasherFromEnv()); !errors.Is(err, token.ErrHMACKeyTooShort) {
		t.Fatalf("expected short key error, got %v", err)
	}

	t.Setenv(token.HMACEnvKey, key)
	if err := ValidateSecurityConfig(Config{RequireTokenHMAC: true}, token.Hasher{}); err == nil {
		t.Fatalf("expected non-HMAC hasher error")
	}
	if err := ValidateSecurityConfig(Config{RequireTokenHMAC: true}, token.HasherFromEnv()); err != nil {
		t.Fatalf("valid policy: %v", err)
	}
}

func TestMigrationsEmbedded(t *testing.T) {
	t.Parallel()

	b, err := migrationsFS.ReadFile("migrations/00001_init.sql")
	if err != nil {
		t.Fatalf("read embedded migration: %v", err)
	}
	sql := string(b)
	for _, want := range []string{"-- +goose Up", "refresh_tokens", "user_identities", "audit_log", "-- +goose Down"} {
		if !strings.Contains(sql, want) {
			t.Fatalf("migration missing %q", want)
		}
	}
}

func newInMemoryApp(t *testing.T) *App {
	t.Helper()

	t.Setenv("POSTBOARD_ACCESS_TOKEN_SECRET", strings.Repeat("a", 32))
	t.Setenv(token.HMACEnvKey, "")
	t.Setenv("POSTBOARD_REFRESH_TTL", "")
	t.Setenv("POSTBOARD_REFRESH_REUSE_POLICY", "")

	cfg := Config{
		Env:          "local",
		HTTPAddr:     "127.0.0.1:0",
		RefreshStore: RefreshStoreAuto,
	}
	log := slog.New(slog.NewTextHandler(io.Discard, nil))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	a, err := New(ctx, cfg, log)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if a.refreshStore != RefreshStoreMemory {
		t.Fatalf("refresh store = %q", a.refreshStore)
	}
	return a
}

func TestApp_HealthAndMetrics(t *testing.T) {
	a := newInMemoryApp(t)
	srv := httptest.NewServer(a.Handler())
	defer srv.Close()

	res, err := http.Get(srv.URL + "/healthz")
	if err != nil {
		t.Fatalf("healthz: %v", err)
	}
	_ = res.Body.Close()
	if res.StatusCode != http.StatusOK {
		t.Fatalf("healthz status = %d", res.StatusCode)
	}
	if res.Header.Get("X-Content-Type-Options") != "nosniff" || res.Header.Get(RequestIDHeader) == "" {
		t.Fatalf("missing middleware headers: %v", res.Header)
	}

	res, err = http.Get(srv.URL + "/readyz")
	if err != nil {
		t.Fatalf("readyz: %v", err)
	}
	_ = res.Body.Close()
	if res.StatusCode != http.StatusOK {
		t.Fatalf("readyz status = %d", res.StatusCode)
	}

	res, err = http.Post(srv.URL+"/auth/login", "application/json", strings.NewReader(`{"provider":"dev","id_token":"dev:alice"}`))
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	_ = res.Body.Close()
	if res.StatusCode != http.StatusOK {
		t.Fatalf("login status = %d", res.StatusCode)
	}

	res, err = http.Get(srv.URL + "/metrics")
	if err != nil {
		t.Fatalf("metrics: %v", err)
	}
	body, _ := io.ReadAll(res.Body)
	_ = res.Body.Close()
	if !strings.Contains(string(body), "postboard_refresh_issued_total 1") {
		t.Fatalf("metrics missing issued counter:\n%s", body)
	}
}

func TestApp_ReadinessRequiresDB(t *testing.T) {
	a := newInMemoryApp(t)
	a.cfg.ReadinessRequireDB = true

	rr := httptest.NewRecorder()
	a.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("readyz status = %d, want 503", rr.Code)
	}
}

func TestApp_RedisStoreEndToEnd(t *testing.T) {
	mr := miniredis.RunT(t)

	t.Setenv("POSTBOARD_ACCESS_TOKEN_SECRET", strings.Repeat("a", 32))
	t.Setenv(token.HMACEnvKey, "")

	cfg := Config{Env: "local", RedisURL: "redis://" + mr.Addr() + "/0", RefreshStore: RefreshStoreRedis}
	log := slog.New(slog.NewTextHandler(io.Discard, nil))

	a, err := New(context.Background(), cfg, log)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(a.close)

	h := a.Handler()
	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/auth/login", strings.NewReader(`{"provider":"dev","id_token":"dev:bob"}`))
	h.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("login status = %d body=%s", rr.Code, rr.Body.String())
	}

	keys := mr.Keys()
	found := false
	for _, k := range keys {
		if strings.HasPrefix(k, refresh.DefaultRedisPrefix+":dg:") {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected refresh digest key in redis, got %v", keys)
	}
}
