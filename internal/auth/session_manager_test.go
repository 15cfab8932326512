package auth

import (
	"context"
	"crypto/tls"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
)

type sessionStoreStub struct {
	*InMemoryRepository

	createSession            func(ctx context.Context, s Session) (Session, error)
	findSessionByRefreshHash func(ctx context.Context, hash string) (*Session, error)
	deleteSession            func(ctx context.Context, id uuid.UUID) error
	deleteUserSessions       func(ctx context.Context, userID uuid.UUID) (int64, error)
}

func (s *sessionStoreStub) CreateSession(ctx context.Context, session Session) (Session, error) {
	if s.createSession != nil {
		return s.createSession(ctx, session)
	}
	return s.InMemoryRepository.CreateSession(ctx, session)
}

func (s *sessionStoreStub) FindSessionByRefreshHash(ctx context.Context, hash string) (*Session, error) {
	if s.findSessionByRefreshHash != nil {
		return s.findSessionByRefreshHash(ctx, hash)
	}
	return s.InMemoryRepository.FindSessionByRefreshHash(ctx, hash)
}

func (s *sessionStoreStub) DeleteSession(ctx context.Context, id uuid.UUID) error {
	if s.deleteSession != nil {
		return s.deleteSession(ctx, id)
	}
	return s.InMemoryRepository.DeleteSession(ctx, id)
}

func (s *sessionStoreStub) DeleteUserSessions(ctx context.Context, userID uuid.UUID) (int64, error) {
	if s.deleteUserSessions != nil {
		return s.deleteUserSessions(ctx, userID)
	}
	return s.InMemoryRepository.DeleteUserSessions(ctx, userID)
}

type sessionFixture struct {
	repo    *InMemoryRepository
	store   *sessionStoreStub
	codec   *TokenCodec
	manager *SessionManager
	user    User
}

func newSessionFixture(t *testing.T) *sessionFixture {
	t.Helper()
	repo := NewInMemoryRepository()
	user, err := repo.CreateUser(context.Background(), User{ID: uuid.New(), Email: "s@example.com", Role: RoleUser})
	if err != nil {
		t.Fatalf("CreateUser returned error: %v", err)
	}
	store := &sessionStoreStub{InMemoryRepository: repo}
	codec := newTestCodec(t)
	return &sessionFixture{
		repo:    repo,
		store:   store,
		codec:   codec,
		manager: NewSessionManager(codec, repo, store, testLogger()),
		user:    user,
	}
}

// login runs CreateSession and returns the cookies it wrote.
func (f *sessionFixture) login(t *testing.T) map[string]*http.Cookie {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/api/auth/login", nil)
	req.Header.Set("User-Agent", "test-agent")
	rec := httptest.NewRecorder()
	if err := f.manager.CreateSession(context.Background(), rec, req, &f.user); err != nil {
		t.Fatalf("CreateSession returned error: %v", err)
	}
	return cookieMap(rec)
}

func cookieMap(rec *httptest.ResponseRecorder) map[string]*http.Cookie {
	out := make(map[string]*http.Cookie)
	for _, c := range rec.Result().Cookies() {
		out[c.Name] = c
	}
	return out
}

func requestWith(cookies ...*http.Cookie) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/api/auth/refresh", nil)
	for _, c := range cookies {
		req.AddCookie(&http.Cookie{Name: c.Name, Value: c.Value})
	}
	return req
}

func TestCreateSessionWritesCookiesAndHashedRow(t *testing.T) {
	f := newSessionFixture(t)
	cookies := f.login(t)

	access, refresh := cookies[AccessCookieName], cookies[RefreshCookieName]
	if access == nil || refresh == nil {
		t.Fatalf("expected both cookies, got %v", cookies)
	}
	for _, c := range []*http.Cookie{access, refresh} {
		if !c.HttpOnly || c.SameSite != http.SameSiteLaxMode || c.Path != "/" || c.Secure {
			t.Fatalf("unexpected cookie attributes: %+v", c)
		}
	}
	if access.MaxAge != int(AccessTokenTTL.Seconds()) || refresh.MaxAge != int(RefreshTokenTTL.Seconds()) {
		t.Fatalf("unexpected cookie lifetimes: access=%d refresh=%d", access.MaxAge, refresh.MaxAge)
	}

	session, err := f.repo.FindSessionByRefreshHash(context.Background(), hashToken(refresh.Value))
	if err != nil || session == nil {
		t.Fatalf("expected session stored under refresh hash, got %v, %v", session, err)
	}
	if session.RefreshTokenHash == refresh.Value || strings.Contains(session.RefreshTokenHash, refresh.Value) {
		t.Fatal("raw refresh token must never be stored")
	}
	if session.UserID != f.user.ID || session.UserAgent != "test-agent" {
		t.Fatalf("unexpected session row: %+v", session)
	}
	if d := time.Until(session.ExpiresAt); d < RefreshTokenTTL-time.Minute || d > RefreshTokenTTL {
		t.Fatalf("expected session to expire in about %s, got %s", RefreshTokenTTL, d)
	}

	claims, err := f.codec.VerifyRefreshToken(refresh.Value)
	if err != nil || claims.SessionID != session.ID {
		t.Fatalf("expected refresh token bound to session %s, got %+v, %v", session.ID, claims, err)
	}
}

func TestTruncateStringKeepsValidUTF8(t *testing.T) {
	tests := []struct {
		name string
		in   string
		max  int
		want string
	}{
		{name: "short", in: "agent", max: 512, want: "agent"},
		{name: "ascii cut", in: strings.Repeat("a", 600), max: 512, want: strings.Repeat("a", 512)},
		{name: "rune straddles limit", in: strings.Repeat("a", 511) + "é", max: 512, want: strings.Repeat("a", 511)},
		{name: "four byte rune", in: "ab" + "😀", max: 4, want: "ab"},
		{name: "invalid input", in: "a\xffb", max: 512, want: "a\uFFFDb"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := truncateString(tt.in, tt.max)
			if got != tt.want {
				t.Fatalf("expected %q, got %q", tt.want, got)
			}
			if !utf8.ValidString(got) || len(got) > tt.max {
				t.Fatalf("expected valid UTF-8 within %d bytes, got %q", tt.max, got)
			}
		})
	}
}

func TestCreateSessionStoresValidUserAgent(t *testing.T) {
	f := newSessionFixture(t)
	var stored Session
	f.store.createSession = func(ctx context.Context, s Session) (Session, error) {
		stored = s
		return f.repo.CreateSession(ctx, s)
	}

	req := httptest.NewRequest(http.MethodPost, "/api/auth/login", nil)
	req.Header.Set("User-Agent", strings.Repeat("a", 511)+"é")
	if err := f.manager.CreateSession(context.Background(), httptest.NewRecorder(), req, &f.user); err != nil {
		t.Fatalf("CreateSession returned error: %v", err)
	}
	if !utf8.ValidString(stored.UserAgent) || len(stored.UserAgent) != 511 {
		t.Fatalf("expected user agent cut before the split rune, got %d bytes", len(stored.UserAgent))
	}
}

func TestCreateSessionSecureOverTLS(t *testing.T) {
	f := newSessionFixture(t)
	req := httptest.NewRequest(http.MethodPost, "/api/auth/login", nil)
	req.TLS = &tls.ConnectionState{}
	rec := httptest.NewRecorder()

	if err := f.manager.CreateSession(context.Background(), rec, req, &f.user); err != nil {
		t.Fatalf("CreateSession returned error: %v", err)
	}
	for _, c := range rec.Result().Cookies() {
		if !c.Secure {
			t.Fatalf("expected secure cookie over TLS: %+v", c)
		}
	}
}

func TestCookieOptionsForwardedProto(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Forwarded-Proto", "https")

	if (CookieOptions{}).Secure(req) {
		t.Fatal("expected forwarded proto to be ignored by default")
	}
	if !(CookieOptions{TrustForwardedProto: true}).Secure(req) {
		t.Fatal("expected forwarded proto to be honored when trusted")
	}
}

func TestCreateSessionStoreErrorPropagates(t *testing.T) {
	f := newSessionFixture(t)
	f.store.createSession = func(ctx context.Context, s Session) (Session, error) {
		return Session{}, errors.New("db down")
	}
	rec := httptest.NewRecorder()

	err := f.manager.CreateSession(context.Background(), rec, httptest.NewRequest(http.MethodPost, "/", nil), &f.user)
	if err == nil || !strings.Contains(err.Error(), "create session") {
		t.Fatalf("expected create session error, got %v", err)
	}
	if len(rec.Result().Cookies()) != 0 {
		t.Fatal("expected no cookies when the session was not stored")
	}
}

func TestRefreshIssuesNewAccessCookieOnly(t *testing.T) {
	f := newSessionFixture(t)
	cookies := f.login(t)
	rec := httptest.NewRecorder()

	claims := f.manager.Refresh(rec, requestWith(cookies[RefreshCookieName]))
	if claims == nil || claims.UserID != f.user.ID || claims.Email != f.user.Email {
		t.Fatalf("expected refreshed claims for user, got %+v", claims)
	}

	written := cookieMap(rec)
	if _, ok := written[RefreshCookieName]; ok {
		t.Fatal("refresh token must not be rotated")
	}
	access, ok := written[AccessCookieName]
	if !ok {
		t.Fatal("expected a new access cookie")
	}
	if _, err := f.codec.VerifyAccessToken(access.Value); err != nil {
		t.Fatalf("expected valid access token, got %v", err)
	}
}

func TestRefreshPicksUpRoleChanges(t *testing.T) {
	f := newSessionFixture(t)
	cookies := f.login(t)

	f.user.Role = RoleAdmin
	if _, err := f.repo.UpdateUser(context.Background(), f.user); err != nil {
		t.Fatalf("UpdateUser returned error: %v", err)
	}

	claims := f.manager.Refresh(httptest.NewRecorder(), requestWith(cookies[RefreshCookieName]))
	if claims == nil || claims.Role != RoleAdmin {
		t.Fatalf("expected refreshed role admin, got %+v", claims)
	}
}

func TestConcurrentRefreshesBothSucceed(t *testing.T) {
	f := newSessionFixture(t)
	cookies := f.login(t)

	var wg sync.WaitGroup
	results := make([]*AccessClaims, 2)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = f.manager.Refresh(httptest.NewRecorder(), requestWith(cookies[RefreshCookieName]))
		}(i)
	}
	wg.Wait()

	for i, r := range results {
		if r == nil {
			t.Fatalf("refresh %d failed", i)
		}
	}
	session, _ := f.repo.FindSessionByRefreshHash(context.Background(), hashToken(cookies[RefreshCookieName].Value))
	if session == nil {
		t.Fatal("expected session row to survive concurrent refreshes")
	}
}

func TestRefreshFailsClosed(t *testing.T) {
	tests := []struct {
		name  string
		setup func(t *testing.T, f *sessionFixture, refresh *http.Cookie) *http.Request
	}{
		{
			name: "no cookie",
			setup: func(t *testing.T, f *sessionFixture, refresh *http.Cookie) *http.Request {
				return requestWith()
			},
		},
		{
			name: "garbage token",
			setup: func(t *testing.T, f *sessionFixture, refresh *http.Cookie) *http.Request {
				return requestWith(&http.Cookie{Name: RefreshCookieName, Value: "garbage"})
			},
		},
		{
			name: "access token in refresh cookie",
			setup: func(t *testing.T, f *sessionFixture, refresh *http.Cookie) *http.Request {
				token, _ := f.codec.SignAccessToken(AccessClaims{UserID: f.user.ID, Email: f.user.Email, Role: RoleUser})
				return requestWith(&http.Cookie{Name: RefreshCookieName, Value: token})
			},
		},
		{
			name: "session deleted",
			setup: func(t *testing.T, f *sessionFixture, refresh *http.Cookie) *http.Request {
				_, _ = f.repo.DeleteUserSessions(context.Background(), f.user.ID)
				return requestWith(refresh)
			},
		},
		{
			name: "ownership mismatch",
			setup: func(t *testing.T, f *sessionFixture, refresh *http.Cookie) *http.Request {
				f.store.findSessionByRefreshHash = func(ctx context.Context, hash string) (*Session, error) {
					s, err := f.repo.FindSessionByRefreshHash(ctx, hash)
					if s != nil {
						s.UserID = uuid.New()
					}
					return s, err
				}
				return requestWith(refresh)
			},
		},
		{
			name: "session expired",
			setup: func(t *testing.T, f *sessionFixture, refresh *http.Cookie) *http.Request {
				f.repo.now = func() time.Time { return time.Now().Add(RefreshTokenTTL + time.Hour) }
				return requestWith(refresh)
			},
		},
		{
			name: "store error",
			setup: func(t *testing.T, f *sessionFixture, refresh *http.Cookie) *http.Request {
				f.store.findSessionByRefreshHash = func(ctx context.Context, hash string) (*Session, error) {
					return nil, errors.New("db down")
				}
				return requestWith(refresh)
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newSessionFixture(t)
			cookies := f.login(t)
			req := tt.setup(t, f, cookies[RefreshCookieName])
			rec := httptest.NewRecorder()

			if claims := f.manager.Refresh(rec, req); claims != nil {
				t.Fatalf("expected refresh to fail, got %+v", claims)
			}
			if n := len(rec.Result().Cookies()); n != 0 {
				t.Fatalf("expected cookies untouched, %d written", n)
			}
		})
	}
}

func TestLogoutDeletesSessionAndClearsCookies(t *testing.T) {
	f := newSessionFixture(t)
	cookies := f.login(t)
	rec := httptest.NewRecorder()

	f.manager.Logout(rec, requestWith(cookies[AccessCookieName], cookies[RefreshCookieName]))

	assertCookiesCleared(t, rec)
	if s, _ := f.repo.FindSessionByRefreshHash(context.Background(), hashToken(cookies[RefreshCookieName].Value)); s != nil {
		t.Fatal("expected session to be deleted")
	}
	if claims := f.manager.Refresh(httptest.NewRecorder(), requestWith(cookies[RefreshCookieName])); claims != nil {
		t.Fatal("expected refresh to fail after logout")
	}
}

func TestLogoutClearsCookiesWhenStoreFails(t *testing.T) {
	f := newSessionFixture(t)
	cookies := f.login(t)
	f.store.deleteSession = func(ctx context.Context, id uuid.UUID) error {
		return errors.New("db down")
	}
	rec := httptest.NewRecorder()

	f.manager.Logout(rec, requestWith(cookies[RefreshCookieName]))

	assertCookiesCleared(t, rec)
}

func TestLogoutWithoutCookies(t *testing.T) {
	f := newSessionFixture(t)
	rec := httptest.NewRecorder()

	f.manager.Logout(rec, requestWith())

	assertCookiesCleared(t, rec)
}

func TestLogoutAllSessions(t *testing.T) {
	f := newSessionFixture(t)
	first := f.login(t)
	f.login(t)
	rec := httptest.NewRecorder()

	n := f.manager.LogoutAllSessions(rec, requestWith(first[RefreshCookieName]), f.user.ID)
	if n != 2 {
		t.Fatalf("expected 2 sessions revoked, got %d", n)
	}
	assertCookiesCleared(t, rec)
}

func TestLogoutAllSessionsStoreError(t *testing.T) {
	f := newSessionFixture(t)
	f.store.deleteUserSessions = func(ctx context.Context, userID uuid.UUID) (int64, error) {
		return 0, errors.New("db down")
	}
	rec := httptest.NewRecorder()

	if n := f.manager.LogoutAllSessions(rec, requestWith(), f.user.ID); n != 0 {
		t.Fatalf("expected 0 on store error, got %d", n)
	}
	assertCookiesCleared(t, rec)
}

func TestCleanupExpiredSessions(t *testing.T) {
	f := newSessionFixture(t)
	f.login(t)
	_, _ = f.repo.CreateSession(context.Background(), Session{ID: uuid.New(), UserID: f.user.ID, RefreshTokenHash: "old", ExpiresAt: time.Now().Add(-time.Minute)})

	n, err := f.manager.CleanupExpiredSessions(context.Background())
	if err != nil {
		t.Fatalf("CleanupExpiredSessions returned error: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 expired session removed, got %d", n)
	}
}

func assertCookiesCleared(t *testing.T, rec *httptest.ResponseRecorder) {
	t.Helper()
	cookies := cookieMap(rec)
	for _, name := range []string{AccessCookieName, RefreshCookieName} {
		c, ok := cookies[name]
		if !ok {
			t.Fatalf("expected %s to be cleared", name)
		}
		if c.MaxAge >= 0 || c.Value != "" {
			t.Fatalf("expected %s to be expired, got %+v", name, c)
		}
	}
}
