package authapi

import (
	"net/http"
	"strings"
	"time"
)

// setRefreshCookie writes the refresh cookie: HttpOnly, SameSite=Lax, Path=/,
// Secure outside local, Max-Age = exp - now.
func (h *Handler) setRefreshCookie(w http.ResponseWriter, value string, exp, now time.Time) {
	if h == nil || w == nil {
		return
	}

	maxAge := int(exp.Sub(now) / time.Second)
	if maxAge <= 0 {
		h.clearRefreshCookie(w)
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     h.cfg.RefreshCookieName,
		Value:    value,
		Path:     "/",
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   h.cfg.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
}

func (h *Handler) clearRefreshCookie(w http.ResponseWriter) {
	if h == nil || w == nil {
		return
	}
	http.SetCookie(w, &http.Cookie{
		Name:     h.cfg.RefreshCookieName,
		Value:    "",
		Path:     "/",
		Expires:  time.Unix(0, 0).UTC(),
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.cfg.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
}

func (h *Handler) refreshTokenFromCookie(r *http.Request) (string, bool) {
	if h == nil || r == nil {
		return "", false
	}
	c, err := r.Cookie(h.cfg.RefreshCookieName)
	if err != nil {
		return "", false
	}
	v := strings.TrimSpace(c.Value)
	if v == "" {
		return "", false
	}
	return v, true
}
