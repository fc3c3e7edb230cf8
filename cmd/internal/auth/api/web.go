package authapi

import (
	"net"
	"net/http"
	"strings"
	"time"
)

func (h *Handler) setSessionCookie(w http.ResponseWriter, id string, exp time.Time, now time.Time) {
	http.SetCookie(w, &http.Cookie{
		Name:     h.cfg.SessionCookieName,
		Value:    id,
		Path:     h.cfg.CookiePath,
		Domain:   h.cfg.CookieDomain,
		Expires:  exp,
		MaxAge:   maxAge(exp, now),
		HttpOnly: true,
		Secure:   h.cfg.Production,
		SameSite: h.cfg.CookieSameSite,
	})
}

func (h *Handler) setRememberCookie(w http.ResponseWriter, value string, now time.Time) {
	exp := now.Add(h.cfg.RememberCookieTTL)
	http.SetCookie(w, &http.Cookie{
		Name:     h.cfg.RememberCookieName,
		Value:    value,
		Path:     h.cfg.CookiePath,
		Domain:   h.cfg.CookieDomain,
		Expires:  exp,
		MaxAge:   maxAge(exp, now),
		HttpOnly: true,
		Secure:   h.cfg.Production,
		SameSite: h.cfg.CookieSameSite,
	})
}

func (h *Handler) clearSessionCookies(w http.ResponseWriter) {
	h.expireCookie(w, h.cfg.SessionCookieName)
	h.expireCookie(w, h.cfg.RememberCookieName)
}

func (h *Handler) expireCookie(w http.ResponseWriter, name string) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    "",
		Path:     h.cfg.CookiePath,
		Domain:   h.cfg.CookieDomain,
		Expires:  time.Unix(0, 0).UTC(),
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.cfg.Production,
		SameSite: h.cfg.CookieSameSite,
	})
}

func (h *Handler) sessionIDFromCookie(r *http.Request) string {
	c, err := r.Cookie(h.cfg.SessionCookieName)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(c.Value)
}

func maxAge(exp, now time.Time) int {
	secs := int(exp.Sub(now) / time.Second)
	if secs <= 0 {
		return -1
	}
	return secs
}

// clientIP returns the request's client address. Forwarding headers are only
// honored when trustProxy is set.
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
	for _, p := range strings.Split(raw, ",") {
		if ip := net.ParseIP(strings.TrimSpace(p)); ip != nil {
			return ip
		}
	}
	return nil
}
