package http

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"net/netip"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"housegen/internal/auth"
	"housegen/internal/config"
	"housegen/internal/platform/metrics"
	"housegen/internal/ratelimit"
)

const testPassword = "Str0ng!pass"

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type captureNotifier struct {
	mu   sync.Mutex
	sent []auth.Notification
}

func (n *captureNotifier) Notify(_ context.Context, msg auth.Notification) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, msg)
	return nil
}

// lastToken returns the token of the most recent notification of kind.
func (n *captureNotifier) lastToken(kind auth.NotificationKind) string {
	n.mu.Lock()
	defer n.mu.Unlock()
	for i := len(n.sent) - 1; i >= 0; i-- {
		if n.sent[i].Kind == kind {
			return n.sent[i].Token
		}
	}
	return ""
}

func (n *captureNotifier) sentKind(kind auth.NotificationKind) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	for _, msg := range n.sent {
		if msg.Kind == kind {
			return true
		}
	}
	return false
}

type testEnvOptions struct {
	trusted     []netip.Prefix
	authLimit   int
	google      googleAuthenticator
	withMetrics bool
	// sessions replaces the in-memory session store when set.
	sessions auth.SessionStore
}

// failingSessions is a session store whose inserts always fail.
type failingSessions struct {
	*auth.InMemoryRepository
	err error
}

func (f failingSessions) CreateSession(context.Context, auth.Session) (auth.Session, error) {
	return auth.Session{}, f.err
}

type testEnv struct {
	repo     *auth.InMemoryRepository
	notifier *captureNotifier
	codec    *auth.TokenCodec
	adapter  *auth.OAuthAdapter
	metrics  *metrics.Metrics
	handler  http.Handler
}

func newTestEnv(t *testing.T, opts testEnvOptions) *testEnv {
	t.Helper()
	logger := testLogger()

	repo := auth.NewInMemoryRepository()
	notifier := &captureNotifier{}
	codec, err := auth.NewTokenCodec(auth.TokenConfig{AccessSecret: "access-secret", RefreshSecret: "refresh-secret"})
	if err != nil {
		t.Fatalf("NewTokenCodec: %v", err)
	}
	adapter, err := auth.NewOAuthAdapter(repo, auth.OAuthConfig{SessionSecret: "oauth-secret"}, logger)
	if err != nil {
		t.Fatalf("NewOAuthAdapter: %v", err)
	}

	env := &testEnv{repo: repo, notifier: notifier, codec: codec, adapter: adapter}
	if opts.withMetrics {
		env.metrics = metrics.New()
	}

	accounts := auth.NewService(repo, notifier, logger, auth.ServiceConfig{BcryptCost: 4})
	var sessionStore auth.SessionStore = repo
	if opts.sessions != nil {
		sessionStore = opts.sessions
	}
	sessions := auth.NewSessionManager(codec, repo, sessionStore, logger)
	resolver := auth.NewResolver(logger, []auth.Provider{
		auth.NewOAuthProvider(adapter),
		auth.NewCookieProvider(codec),
		auth.NewHeaderProvider(opts.trusted),
	}, auth.WithResolveObserver(env.metrics.ObserveResolution))

	generations, err := ratelimit.NewMemoryCounter(ratelimit.Config{Limit: 20, Window: time.Hour})
	if err != nil {
		t.Fatalf("NewMemoryCounter: %v", err)
	}
	deps := Dependencies{
		Accounts:    accounts,
		Sessions:    sessions,
		Resolver:    resolver,
		Generations: generations,
		Metrics:     env.metrics,
	}
	if opts.authLimit > 0 {
		limiter, err := ratelimit.NewMemoryCounter(ratelimit.Config{Limit: opts.authLimit, Window: time.Minute})
		if err != nil {
			t.Fatalf("NewMemoryCounter: %v", err)
		}
		deps.AuthLimiter = limiter
	}
	if opts.google != nil {
		deps.Google = opts.google
		deps.OAuthAdapter = adapter
	}

	cfg := config.Config{
		Environment:    "development",
		AllowedOrigins: []string{"http://frontend.test"},
		FrontendURL:    "http://frontend.test",
	}
	env.handler = NewRouter(cfg, deps, logger)
	return env
}

// client is a cookie-holding browser against a live test server.
type client struct {
	t      *testing.T
	server *httptest.Server
	http   *http.Client
}

func (e *testEnv) newClient(t *testing.T) *client {
	t.Helper()
	server := httptest.NewServer(e.handler)
	t.Cleanup(server.Close)
	jar, err := cookiejar.New(nil)
	if err != nil {
		t.Fatalf("cookiejar: %v", err)
	}
	return &client{
		t:      t,
		server: server,
		http: &http.Client{
			Jar: jar,
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
	}
}

// do sends a JSON request and decodes a JSON response body into out when
// out is non-nil.
func (c *client) do(method, path string, body any, out any) *http.Response {
	c.t.Helper()
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			c.t.Fatalf("marshal: %v", err)
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, c.server.URL+path, reader)
	if err != nil {
		c.t.Fatalf("new request: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.http.Do(req)
	if err != nil {
		c.t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			c.t.Fatalf("decode %s %s: %v", method, path, err)
		}
	}
	return resp
}

func (c *client) cookie(name string) string {
	c.t.Helper()
	req, _ := http.NewRequest(http.MethodGet, c.server.URL, nil)
	for _, ck := range c.http.Jar.Cookies(req.URL) {
		if ck.Name == name {
			return ck.Value
		}
	}
	return ""
}

type userEnvelope struct {
	User  userResponse `json:"user"`
	Error string       `json:"error"`
}

type errorBody struct {
	Error string `json:"error"`
}

// seedUser stores a verified password account directly.
func (e *testEnv) seedUser(t *testing.T, email string, role auth.Role) auth.User {
	t.Helper()
	hash, err := auth.HashPassword(testPassword, 4)
	if err != nil {
		t.Fatalf("HashPassword: %v", err)
	}
	now := time.Now()
	user, err := e.repo.CreateUser(context.Background(), auth.User{
		ID:            uuid.New(),
		Email:         email,
		PasswordHash:  hash,
		EmailVerified: true,
		Role:          role,
		CreatedAt:     now,
		UpdatedAt:     now,
	})
	if err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	return user
}

func (c *client) login(email string) {
	c.t.Helper()
	resp := c.do(http.MethodPost, "/api/auth/login", loginRequest{Email: email, Password: testPassword}, nil)
	if resp.StatusCode != http.StatusOK {
		c.t.Fatalf("login %s: expected 200, got %d", email, resp.StatusCode)
	}
}
