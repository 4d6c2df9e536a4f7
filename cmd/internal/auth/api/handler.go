package authapi

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"postboard/cmd/identity"
	"postboard/cmd/internal/auth/access"
	"postboard/cmd/internal/auth/refresh"
)

// Handler wires HTTP auth endpoints to the refresh and access token managers.
type Handler struct {
	log *slog.Logger
	cfg Config

	refresh   *refresh.Manager
	access    *access.Manager
	verifier  identity.Verifier
	directory identity.Directory
	audit     Auditor

	loginLimiter   *ipLimiter
	refreshLimiter *ipLimiter

	now func() time.Time
}

// HandlerOption configures optional auth handler dependencies.
type HandlerOption func(*Handler)

// WithAuditor overrides the default log-only auditor.
func WithAuditor(a Auditor) HandlerOption {
	return func(h *Handler) {
		if h == nil || a == nil {
			return
		}
		h.audit = a
	}
}

// WithClock overrides the handler time source (tests).
func WithClock(now func() time.Time) HandlerOption {
	return func(h *Handler) {
		if h == nil || now == nil {
			return
		}
		h.now = now
	}
}

// NewHandler constructs an auth Handler.
func NewHandler(
	log *slog.Logger,
	cfg Config,
	refreshTokens *refresh.Manager,
	accessTokens *access.Manager,
	verifier identity.Verifier,
	directory identity.Directory,
	opts ...HandlerOption,
) (*Handler, error) {
	if log == nil {
		log = slog.Default()
	}
	if refreshTokens == nil || accessTokens == nil {
		return nil, errors.New("auth: token managers are required")
	}
	if verifier == nil || directory == nil {
		return nil, errors.New("auth: identity verifier and directory are required")
	}
	if cfg.RefreshCookieName == "" {
		cfg.RefreshCookieName = DefaultRefreshCookieName
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = 64 << 10
	}

	h := &Handler{
		log:            log,
		cfg:            cfg,
		refresh:        refreshTokens,
		access:         accessTokens,
		verifier:       verifier,
		directory:      directory,
		audit:          LogAuditor{Log: log},
		loginLimiter:   newIPLimiter(cfg.LoginIPMax, cfg.LoginIPWindow),
		refreshLimiter: newIPLimiter(cfg.RefreshIPMax, cfg.RefreshIPWindow),
		now:            func() time.Time { return time.Now().UTC() },
	}

	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(h)
	}

	return h, nil
}

// Register wires auth routes onto the provided mux.
func (h *Handler) Register(mux *http.ServeMux) {
	if h == nil || mux == nil {
		return
	}
	mux.HandleFunc("/auth/login", h.handleLogin)
	mux.HandleFunc("/auth/bootstrap", h.handleBootstrap)
	mux.HandleFunc("/auth/refresh", h.handleRefresh)
	mux.HandleFunc("/auth/logout", h.handleLogout)
	mux.HandleFunc("/me", h.handleMe)
}

// ---- handlers ----

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	ctx := r.Context()
	now := h.now()
	ip := clientIP(r, h.cfg.TrustProxy)
	ua := strings.TrimSpace(r.UserAgent())

	if ok, retryAfter := h.loginLimiter.Allow(ipKey(ip), now); !ok {
		h.auditRateLimited(ctx, "login", ip, ua)
		writeRateLimited(w, retryAfter)
		return
	}

	var req loginRequest
	if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
		if errors.Is(err, errBodyTooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, codeInvalidJSON, "request body too large")
			return
		}
		writeError(w, http.StatusBadRequest, codeInvalidJSON, "invalid request body")
		return
	}
	provider := identity.NormalizeProvider(req.Provider)
	idToken := strings.TrimSpace(req.IDToken)
	if provider == "" || idToken == "" {
		writeError(w, http.StatusBadRequest, codeInvalidRequest, "provider and id_token are required")
		return
	}

	profile, err := h.verifier.Verify(ctx, provider, idToken)
	if err != nil {
		switch {
		case identity.IsInvalidInput(err):
			h.auditLoginFailed(ctx, provider, "unsupported_provider", ip, ua)
			writeError(w, http.StatusBadRequest, codeInvalidRequest, "unsupported provider")
		case identity.IsUnverified(err):
			h.auditLoginFailed(ctx, provider, "unverified", ip, ua)
			writeError(w, http.StatusUnauthorized, codeInvalidCredentials, "invalid credentials")
		default:
			h.log.Error("auth.login.verify.fail", "err", err, "provider", provider)
			writeError(w, http.StatusServiceUnavailable, codeServerBusy, "please retry later")
		}
		return
	}

	userID, err := h.directory.Resolve(ctx, profile)
	if err != nil {
		if identity.IsInvalidInput(err) {
			h.auditLoginFailed(ctx, provider, "invalid_profile", ip, ua)
			writeError(w, http.StatusUnauthorized, codeInvalidCredentials, "invalid credentials")
			return
		}
		h.log.Error("auth.login.resolve.fail", "err", err, "provider", provider)
		writeServerError(w)
		return
	}

	issued, ok := h.startSession(ctx, w, userID, now, "auth.login")
	if !ok {
		return
	}
	h.auditLoginSuccess(ctx, userID, issued.ID, provider, ip, ua)
}

// handleBootstrap issues a refresh cookie for a caller that already holds a
// valid access token (e.g. a client upgrading from a bearer-only session).
func (h *Handler) handleBootstrap(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	claims, ok := h.requireAuth(w, r)
	if !ok {
		return
	}

	ctx := r.Context()
	issued, ok := h.startSession(ctx, w, claims.Subject, h.now(), "auth.bootstrap")
	if !ok {
		return
	}
	h.auditBootstrap(ctx, claims.Subject, issued.ID, clientIP(r, h.cfg.TrustProxy), strings.TrimSpace(r.UserAgent()))
}

func (h *Handler) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	ctx := r.Context()
	now := h.now()
	ip := clientIP(r, h.cfg.TrustProxy)
	ua := strings.TrimSpace(r.UserAgent())

	if ok, retryAfter := h.refreshLimiter.Allow(ipKey(ip), now); !ok {
		h.auditRateLimited(ctx, "refresh", ip, ua)
		writeRateLimited(w, retryAfter)
		return
	}

	oldToken, ok := h.refreshTokenFromCookie(r)
	if !ok {
		h.clearRefreshCookie(w)
		writeSessionNotActive(w)
		return
	}

	rot, err := h.refresh.Rotate(ctx, oldToken)
	if err != nil {
		switch {
		case errors.Is(err, refresh.ErrReuseDetected):
			h.log.Warn("auth.refresh.reuse_detected",
				"user_id", rot.SubjectID, "record_id", rot.PreviousID,
				"ip", ipKey(ip), "policy", string(refresh.ReuseRevokeFamily))
			h.auditRefreshReuse(ctx, rot.SubjectID, rot.PreviousID, ip, ua)
			h.clearRefreshCookie(w)
			writeSessionNotActive(w)
		case refresh.IsInactive(err):
			h.log.Info("auth.refresh.inactive", "reason", refreshFailureReason(err))
			h.clearRefreshCookie(w)
			writeSessionNotActive(w)
		default:
			h.log.Error("auth.refresh.fail", "err", err)
			writeServerError(w)
		}
		return
	}

	if rot.Reused {
		h.log.Warn("auth.refresh.reuse_detected",
			"user_id", rot.Next.SubjectID,
			"record_id", rot.PreviousID,
			"ip", ipKey(ip),
		)
		h.auditRefreshReuse(ctx, rot.Next.SubjectID, rot.PreviousID, ip, ua)
	}

	accessToken, accessExp, err := h.access.Issue(rot.Next.SubjectID, now)
	if err != nil {
		h.log.Error("auth.refresh.access_token.fail", "err", err)
		writeServerError(w)
		return
	}

	h.auditRefreshSuccess(ctx, rot.Next.SubjectID, rot.Next.ID, ip, ua)

	h.setRefreshCookie(w, rot.Next.Token, rot.Next.ExpiresAt, now)
	writeJSON(w, http.StatusOK, sessionResponse{
		UserID:          rot.Next.SubjectID,
		TokenType:       "Bearer",
		AccessToken:     accessToken,
		AccessExpiresAt: accessExp,
	})
}

// handleLogout revokes the presented refresh token on a best-effort basis and
// always clears the cookie.
func (h *Handler) handleLogout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	ctx := r.Context()
	if token, ok := h.refreshTokenFromCookie(r); ok {
		if v, err := h.refresh.Verify(ctx, token); err == nil {
			if err := h.refresh.RevokeByID(ctx, v.ID); err != nil {
				h.log.Error("auth.logout.revoke.fail", "err", err, "record_id", v.ID)
			} else {
				h.auditLogout(ctx, v.SubjectID, v.ID, clientIP(r, h.cfg.TrustProxy), strings.TrimSpace(r.UserAgent()))
			}
		} else if !refresh.IsInactive(err) {
			h.log.Error("auth.logout.verify.fail", "err", err)
		}
	}

	h.clearRefreshCookie(w)
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleMe(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	claims, ok := h.requireAuth(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, meResponse{UserID: claims.Subject})
}

// ---- helpers ----

// startSession issues a refresh token plus an access token for userID, sets
// the cookie and writes the JSON body. It reports false after writing an error.
func (h *Handler) startSession(ctx context.Context, w http.ResponseWriter, userID string, now time.Time, event string) (refresh.Issued, bool) {
	issued, err := h.refresh.Issue(ctx, userID)
	if err != nil {
		h.log.Error(event+".issue_refresh.fail", "err", err)
		writeServerError(w)
		return refresh.Issued{}, false
	}

	accessToken, accessExp, err := h.access.Issue(userID, now)
	if err != nil {
		h.log.Error(event+".access_token.fail", "err", err)
		writeServerError(w)
		return refresh.Issued{}, false
	}

	h.setRefreshCookie(w, issued.Token, issued.ExpiresAt, now)
	writeJSON(w, http.StatusOK, sessionResponse{
		UserID:          userID,
		TokenType:       "Bearer",
		AccessToken:     accessToken,
		AccessExpiresAt: accessExp,
	})
	return issued, true
}

func (h *Handler) requireAuth(w http.ResponseWriter, r *http.Request) (access.Claims, bool) {
	token := bearerToken(r)
	if token == "" {
		writeError(w, http.StatusUnauthorized, codeUnauthorized, "missing bearer token")
		return access.Claims{}, false
	}
	claims, err := h.access.Verify(token, h.now())
	if err != nil {
		writeError(w, http.StatusUnauthorized, codeUnauthorized, "invalid token")
		return access.Claims{}, false
	}
	return claims, true
}

func bearerToken(r *http.Request) string {
	raw := strings.TrimSpace(r.Header.Get("Authorization"))
	if raw == "" {
		return ""
	}
	parts := strings.SplitN(raw, " ", 2)
	if len(parts) != 2 {
		return ""
	}
	if !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

func refreshFailureReason(err error) string {
	switch {
	case errors.Is(err, refresh.ErrNotFound):
		return "not_found"
	case errors.Is(err, refresh.ErrRevoked):
		return "revoked"
	case errors.Is(err, refresh.ErrExpired):
		return "expired"
	default:
		return "other"
	}
}

func clientIP(r *http.Request, trustProxy bool) net.IP {
	if trustProxy {
		if ip := parseForwardedIP(r.Header.Get("X-Forwarded-For")); ip != nil {
			return ip
		}
		if ip := net.ParseIP(strings.TrimSpace(r.Header.Get("X-Real-IP"))); ip != nil {
			return ip
		}
	}
	host, _, err := net.SplitHostPort(strings.TrimSpace(r.RemoteAddr))
	if err == nil {
		if ip := net.ParseIP(host); ip != nil {
			return ip
		}
	}
	return nil
}

func parseForwardedIP(raw string) net.IP {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	for _, p := range parts {
		if ip := net.ParseIP(strings.TrimSpace(p)); ip != nil {
			return ip
		}
	}
	return nil
}
