package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/netip"
	"strings"

	"github.com/google/uuid"
)

// UserIDHeader lets a trusted proxy assert the caller's user id.
const UserIDHeader = "X-User-Id"

// Source records which mechanism produced an Identity.
type Source string

const (
	SourceOAuth  Source = "oauth"
	SourceCookie Source = "cookie"
	SourceHeader Source = "header"
)

// Identity is the normalized caller. A nil *Identity means anonymous.
type Identity struct {
	UserID    uuid.UUID
	Email     string
	Role      Role
	AvatarRef string
	Source    Source
}

// IsAdmin reports whether the identity carries the admin role.
func (i *Identity) IsAdmin() bool { return i != nil && i.Role == RoleAdmin }

// Provider is one authentication mechanism. TryResolve returns nil, nil when
// the request carries nothing for this mechanism.
type Provider interface {
	Name() string
	TryResolve(r *http.Request) (*Identity, error)
}

// Resolver asks each provider in order and returns the first identity found.
type Resolver struct {
	providers []Provider
	logger    *slog.Logger
	observe   func(outcome string)
}

// ResolverOption customizes a Resolver.
type ResolverOption func(*Resolver)

// WithResolveObserver is called once per Resolve with the winning source, or
// "anonymous".
func WithResolveObserver(fn func(outcome string)) ResolverOption {
	return func(r *Resolver) { r.observe = fn }
}

// NewResolver creates a Resolver that consults providers in the given order.
// Nil providers are skipped, so optional mechanisms can be passed unconditionally.
func NewResolver(logger *slog.Logger, providers []Provider, opts ...ResolverOption) *Resolver {
	r := &Resolver{logger: logger}
	for _, p := range providers {
		if p != nil && !isNilProvider(p) {
			r.providers = append(r.providers, p)
		}
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func isNilProvider(p Provider) bool {
	switch v := p.(type) {
	case *OAuthProvider:
		return v == nil
	case *CookieProvider:
		return v == nil
	case *HeaderProvider:
		return v == nil
	}
	return false
}

// Resolve returns the caller's identity or nil. It never fails: a provider
// error is logged and the next provider is tried.
func (res *Resolver) Resolve(r *http.Request) *Identity {
	for _, p := range res.providers {
		id, err := p.TryResolve(r)
		if err != nil {
			res.logger.Debug("auth provider rejected request", "provider", p.Name(), "error", err)
			continue
		}
		if id != nil {
			res.record(string(id.Source))
			return id
		}
	}
	res.record("anonymous")
	return nil
}

func (res *Resolver) record(outcome string) {
	if res.observe != nil {
		res.observe(outcome)
	}
}

// OAuthProvider resolves the OAuth session cookie.
type OAuthProvider struct {
	adapter *OAuthAdapter
}

func NewOAuthProvider(adapter *OAuthAdapter) *OAuthProvider {
	if adapter == nil {
		return nil
	}
	return &OAuthProvider{adapter: adapter}
}

func (p *OAuthProvider) Name() string { return string(SourceOAuth) }

func (p *OAuthProvider) TryResolve(r *http.Request) (*Identity, error) {
	raw := cookieValue(r, OAuthCookieName)
	if raw == "" {
		return nil, nil
	}
	claims, err := p.adapter.VerifySessionToken(raw)
	if err != nil {
		return nil, err
	}
	return &Identity{
		UserID:    claims.UserID,
		Email:     claims.Email,
		Role:      claims.Role,
		AvatarRef: claims.AvatarRef,
		Source:    SourceOAuth,
	}, nil
}

// CookieProvider resolves the access token cookie. It never refreshes.
type CookieProvider struct {
	codec *TokenCodec
}

func NewCookieProvider(codec *TokenCodec) *CookieProvider {
	return &CookieProvider{codec: codec}
}

func (p *CookieProvider) Name() string { return string(SourceCookie) }

func (p *CookieProvider) TryResolve(r *http.Request) (*Identity, error) {
	raw := cookieValue(r, AccessCookieName)
	if raw == "" {
		return nil, nil
	}
	claims, err := p.codec.VerifyAccessToken(raw)
	if err != nil {
		return nil, err
	}
	return &Identity{
		UserID: claims.UserID,
		Email:  claims.Email,
		Role:   claims.Role,
		Source: SourceCookie,
	}, nil
}

var errUntrustedPeer = errors.New("trust header from untrusted peer")

// HeaderProvider honors UserIDHeader from peers inside the trusted networks.
// With no trusted networks it never resolves anything.
type HeaderProvider struct {
	trusted []netip.Prefix
}

// NewHeaderProvider returns nil when no networks are trusted.
func NewHeaderProvider(trusted []netip.Prefix) *HeaderProvider {
	if len(trusted) == 0 {
		return nil
	}
	return &HeaderProvider{trusted: trusted}
}

func (p *HeaderProvider) Name() string { return string(SourceHeader) }

func (p *HeaderProvider) TryResolve(r *http.Request) (*Identity, error) {
	raw := strings.TrimSpace(r.Header.Get(UserIDHeader))
	if raw == "" {
		return nil, nil
	}
	if !p.isTrusted(PeerAddr(r)) {
		return nil, errUntrustedPeer
	}
	userID, err := uuid.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("trust header: %w", err)
	}
	return &Identity{UserID: userID, Role: RoleUser, Source: SourceHeader}, nil
}

func (p *HeaderProvider) isTrusted(peer string) bool {
	return InTrustedNetworks(p.trusted, peer)
}

// InTrustedNetworks reports whether the peer address lies in one of the
// trusted prefixes.
func InTrustedNetworks(trusted []netip.Prefix, peer string) bool {
	addr, err := netip.ParseAddr(peer)
	if err != nil {
		return false
	}
	addr = addr.Unmap()
	for _, prefix := range trusted {
		if prefix.Contains(addr) {
			return true
		}
	}
	return false
}

// ParseTrustedNetworks parses CIDRs or bare addresses.
func ParseTrustedNetworks(values []string) ([]netip.Prefix, error) {
	var prefixes []netip.Prefix
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		if !strings.Contains(v, "/") {
			addr, err := netip.ParseAddr(v)
			if err != nil {
				return nil, fmt.Errorf("trusted network %q: %w", v, err)
			}
			prefixes = append(prefixes, netip.PrefixFrom(addr.Unmap(), addr.Unmap().BitLen()))
			continue
		}
		prefix, err := netip.ParsePrefix(v)
		if err != nil {
			return nil, fmt.Errorf("trusted network %q: %w", v, err)
		}
		prefixes = append(prefixes, prefix.Masked())
	}
	return prefixes, nil
}

type peerAddrKey struct{}

// WithPeerAddr records the address of the directly connected peer. It must
// be captured before any middleware rewrites RemoteAddr from forwarding headers.
func WithPeerAddr(ctx context.Context, remoteAddr string) context.Context {
	return context.WithValue(ctx, peerAddrKey{}, hostOnly(remoteAddr))
}

// PeerAddr returns the captured peer address, falling back to RemoteAddr.
func PeerAddr(r *http.Request) string {
	if v, ok := r.Context().Value(peerAddrKey{}).(string); ok {
		return v
	}
	return hostOnly(r.RemoteAddr)
}

func hostOnly(addr string) string {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return addr
	}
	return host
}
