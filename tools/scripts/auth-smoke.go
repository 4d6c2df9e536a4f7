// Package main provides a CI-friendly smoke test for the postboard auth flow.
//
// It validates against a running server with the dev identity provider:
//   - login sets an HttpOnly refresh cookie and returns an access token
//   - /me accepts the access token
//   - refresh rotates the cookie
//   - replaying the old cookie follows the configured reuse policy
//   - logout revokes the session and clears the cookie
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"
)

const (
	refreshCookieName = "refresh_token"
	maxReadBytes      = 1 << 20 // 1MiB
)

type session struct {
	UserID      string `json:"user_id"`
	TokenType   string `json:"token_type"`
	AccessToken string `json:"access_token"`
}

type smokeClient struct {
	base    *url.URL
	http    *http.Client
	timeout time.Duration
	verbose bool
}

func main() {
	var (
		baseURL = flag.String("url", "http://127.0.0.1:8080", "Server base URL")
		subject = flag.String("subject", "", "Dev subject to sign in as (default: random)")
		policy  = flag.String("reuse-policy", "allow", "Server reuse policy: allow or revoke_family")
		timeout = flag.Duration("timeout", 7*time.Second, "Per-step timeout")
		verbose = flag.Bool("v", false, "Verbose output")
	)
	flag.Parse()

	base, err := validateBaseURL(*baseURL)
	if err != nil {
		fatalf("invalid -url: %v", err)
	}
	if *policy != "allow" && *policy != "revoke_family" {
		fatalf("invalid -reuse-policy: %q", *policy)
	}
	if strings.TrimSpace(*subject) == "" {
		*subject = fmt.Sprintf("smoke-%d", time.Now().UnixNano())
	}

	c := &smokeClient{
		base:    base,
		http:    newHTTPClient(),
		timeout: *timeout,
		verbose: *verbose,
	}
	root := context.Background()

	first, sess := c.mustLogin(root, *subject)
	c.mustMe(root, sess)

	second, sess2 := c.mustRefresh(root, first)
	if second.Value == first.Value {
		fatalf("refresh: cookie was not rotated")
	}
	if sess2.UserID != sess.UserID {
		fatalf("refresh: user changed: %s -> %s", sess.UserID, sess2.UserID)
	}

	status := c.refreshStatus(root, first)
	switch *policy {
	case "allow":
		if status != http.StatusOK {
			fatalf("replay: expected 200 under allow, got %d", status)
		}
	case "revoke_family":
		if status != http.StatusUnauthorized {
			fatalf("replay: expected 401 under revoke_family, got %d", status)
		}
		if got := c.refreshStatus(root, second); got != http.StatusUnauthorized {
			fatalf("replay: successor should be revoked, got %d", got)
		}
		fmt.Printf("OK: user_id=%s reuse_policy=%s\n", sess.UserID, *policy)
		return
	}

	third, _ := c.mustRefresh(root, second)
	c.mustLogout(root, third)
	if got := c.refreshStatus(root, third); got != http.StatusUnauthorized {
		fatalf("logout: refresh after logout returned %d", got)
	}

	fmt.Printf("OK: user_id=%s reuse_policy=%s\n", sess.UserID, *policy)
}

// newHTTPClient never follows redirects; every step asserts on the first response.
func newHTTPClient() *http.Client {
	return &http.Client{
		CheckRedirect: func(*http.Request, []*http.Request) error { return http.ErrUseLastResponse },
	}
}

func validateBaseURL(raw string) (*url.URL, error) {
	u, err := url.Parse(strings.TrimRight(strings.TrimSpace(raw), "/"))
	if err != nil {
		return nil, err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("unsupported scheme: %s", u.Scheme)
	}
	if strings.TrimSpace(u.Host) == "" {
		return nil, errors.New("missing host")
	}
	return u, nil
}

func (c *smokeClient) mustLogin(parent context.Context, subject string) (*http.Cookie, session) {
	body := fmt.Sprintf(`{"provider":"dev","id_token":%q}`, "dev:"+subject)
	res, raw := c.mustDo(parent, http.MethodPost, "/auth/login", body, nil, "")
	if res.StatusCode != http.StatusOK {
		fatalf("login: status %d: %s", res.StatusCode, raw)
	}

	cookie := mustRefreshCookie("login", res)
	if !cookie.HttpOnly {
		fatalf("login: refresh cookie is not HttpOnly")
	}
	if strings.Contains(string(raw), cookie.Value) {
		fatalf("login: refresh token leaked into response body")
	}

	sess := mustSession("login", raw)
	if c.verbose {
		fmt.Printf("login: user_id=%s max_age=%d\n", sess.UserID, cookie.MaxAge)
	}
	return cookie, sess
}

func (c *smokeClient) mustMe(parent context.Context, sess session) {
	res, raw := c.mustDo(parent, http.MethodGet, "/me", "", nil, sess.AccessToken)
	if res.StatusCode != http.StatusOK {
		fatalf("me: status %d: %s", res.StatusCode, raw)
	}
	var out struct {
		UserID string `json:"user_id"`
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		fatalf("me: decode: %v", err)
	}
	if out.UserID != sess.UserID {
		fatalf("me: user_id=%q want %q", out.UserID, sess.UserID)
	}
}

func (c *smokeClient) mustRefresh(parent context.Context, cookie *http.Cookie) (*http.Cookie, session) {
	res, raw := c.mustDo(parent, http.MethodPost, "/auth/refresh", "", cookie, "")
	if res.StatusCode != http.StatusOK {
		fatalf("refresh: status %d: %s", res.StatusCode, raw)
	}
	next := mustRefreshCookie("refresh", res)
	sess := mustSession("refresh", raw)
	if c.verbose {
		fmt.Printf("refresh: user_id=%s rotated\n", sess.UserID)
	}
	return next, sess
}

func (c *smokeClient) mustLogout(parent context.Context, cookie *http.Cookie) {
	res, raw := c.mustDo(parent, http.MethodPost, "/auth/logout", "", cookie, "")
	if res.StatusCode != http.StatusNoContent {
		fatalf("logout: status %d: %s", res.StatusCode, raw)
	}
	if cleared := mustRefreshCookie("logout", res); cleared.MaxAge >= 0 {
		fatalf("logout: cookie not cleared (max_age=%d)", cleared.MaxAge)
	}
}

func (c *smokeClient) refreshStatus(parent context.Context, cookie *http.Cookie) int {
	res, _ := c.mustDo(parent, http.MethodPost, "/auth/refresh", "", cookie, "")
	return res.StatusCode
}

func (c *smokeClient) mustDo(parent context.Context, method, path, body string, cookie *http.Cookie, bearer string) (*http.Response, []byte) {
	ctx, cancel := context.WithTimeout(parent, c.timeout)
	defer cancel()

	var rdr io.Reader
	if body != "" {
		rdr = strings.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base.JoinPath(path).String(), rdr)
	if err != nil {
		fatalf("%s %s: %v", method, path, err)
	}
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if cookie != nil {
		req.AddCookie(&http.Cookie{Name: cookie.Name, Value: cookie.Value})
	}
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}

	res, err := c.http.Do(req)
	if err != nil {
		fatalf("%s %s: %v", method, path, err)
	}
	defer func() { _ = res.Body.Close() }()

	raw, err := io.ReadAll(io.LimitReader(res.Body, maxReadBytes))
	if err != nil {
		fatalf("%s %s: read body: %v", method, path, err)
	}
	return res, raw
}

func mustRefreshCookie(step string, res *http.Response) *http.Cookie {
	for _, c := range res.Cookies() {
		if c.Name == refreshCookieName {
			return c
		}
	}
	fatalf("%s: no %s cookie in response", step, refreshCookieName)
	return nil
}

func mustSession(step string, raw []byte) session {
	var s session
	if err := json.Unmarshal(raw, &s); err != nil {
		fatalf("%s: decode session: %v", step, err)
	}
	if s.UserID == "" || s.AccessToken == "" || !strings.EqualFold(s.TokenType, "bearer") {
		fatalf("%s: incomplete session body: %s", step, raw)
	}
	return s
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "FAIL: "+format+"\n", args...)
	os.Exit(1)
}
