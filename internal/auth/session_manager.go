package auth

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
)

// DefaultStoreTimeout bounds every store round trip made while handling a request.
const DefaultStoreTimeout = 5 * time.Second

// SessionManager owns the access/refresh cookie pair. A browser moves from
// anonymous to authenticated on CreateSession, stays authenticated through
// Refresh, and returns to anonymous on Logout or a failed Refresh.
//
// Refresh tokens are not rotated: the same refresh token renews access tokens
// until its session row expires or is deleted.
type SessionManager struct {
	codec        *TokenCodec
	users        UserStore
	sessions     SessionStore
	cookies      CookieOptions
	logger       *slog.Logger
	storeTimeout time.Duration
	now          func() time.Time
}

// SessionManagerOption customizes a SessionManager.
type SessionManagerOption func(*SessionManager)

// WithStoreTimeout overrides DefaultStoreTimeout.
func WithStoreTimeout(d time.Duration) SessionManagerOption {
	return func(m *SessionManager) {
		if d > 0 {
			m.storeTimeout = d
		}
	}
}

// WithCookieOptions sets the cookie attribute policy.
func WithCookieOptions(o CookieOptions) SessionManagerOption {
	return func(m *SessionManager) { m.cookies = o }
}

// WithSessionClock replaces the time source used for session rows.
func WithSessionClock(now func() time.Time) SessionManagerOption {
	return func(m *SessionManager) { m.now = now }
}

// NewSessionManager creates a SessionManager.
func NewSessionManager(codec *TokenCodec, users UserStore, sessions SessionStore, logger *slog.Logger, opts ...SessionManagerOption) *SessionManager {
	m := &SessionManager{
		codec:        codec,
		users:        users,
		sessions:     sessions,
		logger:       logger,
		storeTimeout: DefaultStoreTimeout,
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Cookies returns the cookie attribute policy in use.
func (m *SessionManager) Cookies() CookieOptions { return m.cookies }

// CreateSession mints an access and refresh token for the user, persists the
// session row keyed by the refresh token hash, and writes both cookies. An
// error means the login did not happen and no cookie was written.
func (m *SessionManager) CreateSession(ctx context.Context, w http.ResponseWriter, r *http.Request, user *User) error {
	now := m.now()
	sessionID := uuid.New()

	accessToken, err := m.codec.SignAccessToken(AccessClaims{UserID: user.ID, Email: user.Email, Role: user.Role})
	if err != nil {
		return fmt.Errorf("sign access token: %w", err)
	}
	refreshToken, err := m.codec.SignRefreshToken(user.ID, sessionID)
	if err != nil {
		return fmt.Errorf("sign refresh token: %w", err)
	}

	session := Session{
		ID:               sessionID,
		UserID:           user.ID,
		RefreshTokenHash: hashToken(refreshToken),
		ExpiresAt:        now.Add(m.codec.RefreshTTL()),
		CreatedAt:        now,
		LastUsedAt:       now,
		UserAgent:        truncateString(r.UserAgent(), 512),
		IPAddress:        truncateString(ClientIP(r), 45),
	}

	storeCtx, cancel := context.WithTimeout(ctx, m.storeTimeout)
	defer cancel()
	if _, err := m.sessions.CreateSession(storeCtx, session); err != nil {
		return fmt.Errorf("create session: %w", err)
	}

	m.cookies.Set(w, r, AccessCookieName, accessToken, m.codec.AccessTTL())
	m.cookies.Set(w, r, RefreshCookieName, refreshToken, m.codec.RefreshTTL())
	return nil
}

// Refresh exchanges the refresh cookie for a new access token. It fails
// closed: any missing cookie, bad token, missing session, ownership mismatch
// or store error yields nil and leaves the cookies untouched. On success only
// the access cookie is rewritten.
func (m *SessionManager) Refresh(w http.ResponseWriter, r *http.Request) *AccessClaims {
	raw := cookieValue(r, RefreshCookieName)
	if raw == "" {
		return nil
	}

	claims, err := m.codec.VerifyRefreshToken(raw)
	if err != nil {
		m.logger.Debug("refresh rejected", "reason", "token", "error", err)
		return nil
	}

	ctx, cancel := context.WithTimeout(r.Context(), m.storeTimeout)
	defer cancel()

	session, err := m.sessions.FindSessionByRefreshHash(ctx, hashToken(raw))
	if err != nil {
		m.logger.Warn("refresh session lookup failed", "error", err)
		return nil
	}
	if session == nil {
		m.logger.Debug("refresh rejected", "reason", "no live session")
		return nil
	}
	if session.UserID != claims.UserID || session.ID != claims.SessionID {
		m.logger.Warn("refresh rejected: session does not match token", "session_id", session.ID)
		return nil
	}

	user, err := m.users.FindUserByID(ctx, session.UserID)
	if err != nil {
		m.logger.Warn("refresh user lookup failed", "error", err)
		return nil
	}
	if user == nil {
		return nil
	}

	if err := m.sessions.TouchSession(ctx, session.ID); err != nil {
		m.logger.Warn("refresh touch failed", "session_id", session.ID, "error", err)
		return nil
	}

	access := AccessClaims{UserID: user.ID, Email: user.Email, Role: user.Role}
	token, err := m.codec.SignAccessToken(access)
	if err != nil {
		m.logger.Error("refresh sign failed", "error", err)
		return nil
	}

	m.cookies.Set(w, r, AccessCookieName, token, m.codec.AccessTTL())
	return &access
}

// Logout deletes the session behind the refresh cookie when it can, and
// always clears both cookies.
func (m *SessionManager) Logout(w http.ResponseWriter, r *http.Request) {
	defer m.ClearCookies(w, r)

	raw := cookieValue(r, RefreshCookieName)
	if raw == "" {
		return
	}
	if _, err := m.codec.VerifyRefreshToken(raw); err != nil {
		m.logger.Debug("logout with unverifiable refresh token", "error", err)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), m.storeTimeout)
	defer cancel()

	m.deleteSessionByToken(ctx, raw)
}

func (m *SessionManager) deleteSessionByToken(ctx context.Context, raw string) {
	session, err := m.sessions.FindSessionByRefreshHash(ctx, hashToken(raw))
	if err != nil {
		m.logger.Warn("logout session lookup failed", "error", err)
		return
	}
	if session == nil {
		return
	}
	if err := m.sessions.DeleteSession(ctx, session.ID); err != nil {
		m.logger.Warn("logout session delete failed", "session_id", session.ID, "error", err)
	}
}

// LogoutAllSessions deletes every session of the user and clears the cookies
// on the current response. It returns the number of sessions removed.
func (m *SessionManager) LogoutAllSessions(w http.ResponseWriter, r *http.Request, userID uuid.UUID) int64 {
	defer m.ClearCookies(w, r)

	ctx, cancel := context.WithTimeout(r.Context(), m.storeTimeout)
	defer cancel()

	n, err := m.sessions.DeleteUserSessions(ctx, userID)
	if err != nil {
		m.logger.Error("logout all sessions failed", "user_id", userID, "error", err)
		return 0
	}
	return n
}

// ClearCookies expires the access and refresh cookies.
func (m *SessionManager) ClearCookies(w http.ResponseWriter, r *http.Request) {
	m.cookies.Clear(w, r, AccessCookieName)
	m.cookies.Clear(w, r, RefreshCookieName)
}

// CleanupExpiredSessions removes all expired sessions from the store.
func (m *SessionManager) CleanupExpiredSessions(ctx context.Context) (int64, error) {
	return m.sessions.DeleteExpiredSessions(ctx)
}
