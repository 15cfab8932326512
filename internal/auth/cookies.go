package auth

import (
	"net/http"
	"strings"
	"time"
	"unicode/utf8"
)

const (
	AccessCookieName  = "access_token"
	RefreshCookieName = "refresh_token"
	OAuthCookieName   = "session_token"
)

// CookieOptions decides the attributes shared by every auth cookie.
type CookieOptions struct {
	// TrustForwardedProto treats X-Forwarded-Proto: https as TLS. Enable it
	// only when a TLS-terminating proxy sits in front of the service.
	TrustForwardedProto bool
}

// Secure reports whether the request arrived over TLS.
func (o CookieOptions) Secure(r *http.Request) bool {
	if r.TLS != nil {
		return true
	}
	return o.TrustForwardedProto && strings.EqualFold(r.Header.Get("X-Forwarded-Proto"), "https")
}

// Set writes an HttpOnly, SameSite=Lax cookie scoped to "/".
func (o CookieOptions) Set(w http.ResponseWriter, r *http.Request, name, value string, ttl time.Duration) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Secure:   o.Secure(r),
		MaxAge:   int(ttl.Seconds()),
		Expires:  time.Now().Add(ttl),
	})
}

// Clear expires the named cookie.
func (o CookieOptions) Clear(w http.ResponseWriter, r *http.Request, name string) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    "",
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Secure:   o.Secure(r),
		MaxAge:   -1,
		Expires:  time.Unix(0, 0),
	})
}

func cookieValue(r *http.Request, name string) string {
	c, err := r.Cookie(name)
	if err != nil {
		return ""
	}
	return c.Value
}

// ClientIP returns the host part of the request's remote address, which may
// have been rewritten from forwarding headers.
func ClientIP(r *http.Request) string {
	return hostOnly(r.RemoteAddr)
}

// truncateString cuts s to at most maxLen bytes without splitting a rune.
// Invalid UTF-8 is replaced first so the result is always valid text.
func truncateString(s string, maxLen int) string {
	s = strings.ToValidUTF8(s, "\uFFFD")
	if len(s) <= maxLen {
		return s
	}
	cut := maxLen
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}
