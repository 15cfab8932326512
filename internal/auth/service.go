package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/mail"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

const (
	DefaultVerificationTTL = 24 * time.Hour
	DefaultResetTTL        = time.Hour

	oneTimeTokenLength = 48
	maxEmailLength     = 254
	maxNameLength      = 100
)

// NotificationKind names the message a Notifier is asked to deliver.
type NotificationKind string

const (
	NotifyEmailVerification NotificationKind = "email_verification"
	NotifyPasswordReset     NotificationKind = "password_reset"
	NotifyPasswordChanged   NotificationKind = "password_changed"
)

// Notification carries a message for a user. Token is the raw single-use
// token and is only set for verification and reset messages.
type Notification struct {
	Kind      NotificationKind
	UserID    uuid.UUID
	Email     string
	Name      string
	Token     string
	ExpiresAt time.Time
}

// Notifier delivers account messages out of band.
type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

// ServiceConfig tunes the accounts service.
type ServiceConfig struct {
	BcryptCost      int
	VerificationTTL time.Duration
	ResetTTL        time.Duration
}

// Service provides the password account flows: registration, login, email
// verification and password reset or change.
type Service struct {
	repo            Repository
	notifier        Notifier
	logger          *slog.Logger
	cost            int
	verificationTTL time.Duration
	resetTTL        time.Duration
	now             func() time.Time

	dummyOnce sync.Once
	dummyHash string
}

// NewService creates a new accounts Service.
func NewService(repo Repository, notifier Notifier, logger *slog.Logger, cfg ServiceConfig) *Service {
	if cfg.BcryptCost == 0 {
		cfg.BcryptCost = DefaultBcryptCost
	}
	if cfg.VerificationTTL <= 0 {
		cfg.VerificationTTL = DefaultVerificationTTL
	}
	if cfg.ResetTTL <= 0 {
		cfg.ResetTTL = DefaultResetTTL
	}
	return &Service{
		repo:            repo,
		notifier:        notifier,
		logger:          logger,
		cost:            cfg.BcryptCost,
		verificationTTL: cfg.VerificationTTL,
		resetTTL:        cfg.ResetTTL,
		now:             time.Now,
	}
}

// NormalizeEmail trims and lower-cases an email address.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func validateEmail(email string) error {
	if email == "" {
		return validationError("email is required")
	}
	if len(email) > maxEmailLength {
		return validationError("email is too long")
	}
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return validationError("email is invalid")
	}
	return nil
}

// RegisterInput is the payload of a password registration.
type RegisterInput struct {
	Email    string
	Password string
	Name     string
}

// Register creates a password account with an unverified email and sends a
// verification token.
func (s *Service) Register(ctx context.Context, in RegisterInput) (*User, error) {
	email := NormalizeEmail(in.Email)
	if err := validateEmail(email); err != nil {
		return nil, err
	}
	name := strings.TrimSpace(in.Name)
	if len([]rune(name)) > maxNameLength {
		return nil, validationError("name is too long")
	}
	if check := ValidatePasswordStrength(in.Password); !check.Valid {
		return nil, validationError(check.Reason)
	}

	existing, err := s.repo.FindUserByEmail(ctx, email)
	if err != nil {
		return nil, fmt.Errorf("find user: %w", err)
	}
	if existing != nil {
		return nil, ErrEmailTaken
	}

	hash, err := HashPassword(in.Password, s.cost)
	if err != nil {
		return nil, err
	}

	now := s.now()
	created, err := s.repo.CreateUser(ctx, User{
		ID:           uuid.New(),
		Email:        email,
		PasswordHash: hash,
		Name:         name,
		Role:         RoleUser,
		CreatedAt:    now,
		UpdatedAt:    now,
	})
	if err != nil {
		if errors.Is(err, ErrEmailTaken) {
			return nil, ErrEmailTaken
		}
		return nil, fmt.Errorf("create user: %w", err)
	}

	s.logger.Info("user registered", "user_id", created.ID)
	s.sendOneTimeToken(ctx, &created, PurposeEmailVerification, NotifyEmailVerification, s.verificationTTL)
	return &created, nil
}

// Login checks an email and password. Unknown emails and wrong passwords both
// yield ErrInvalidCredentials, and both pay the cost of a bcrypt comparison.
func (s *Service) Login(ctx context.Context, email, password string) (*User, error) {
	email = NormalizeEmail(email)
	if email == "" || password == "" {
		return nil, ErrInvalidCredentials
	}

	user, err := s.repo.FindUserByEmail(ctx, email)
	if err != nil {
		return nil, fmt.Errorf("find user: %w", err)
	}
	if user == nil || !user.HasPassword() {
		VerifyPassword(password, s.timingHash())
		return nil, ErrInvalidCredentials
	}
	if !VerifyPassword(password, user.PasswordHash) {
		return nil, ErrInvalidCredentials
	}
	return user, nil
}

func (s *Service) timingHash() string {
	s.dummyOnce.Do(func() {
		hash, err := HashPassword("timing-equalizer-Pa55!", s.cost)
		if err != nil {
			s.logger.Error("dummy hash failed", "error", err)
			return
		}
		s.dummyHash = hash
	})
	return s.dummyHash
}

// VerifyEmail consumes an email verification token and marks the owner's
// email verified.
func (s *Service) VerifyEmail(ctx context.Context, token string) (*User, error) {
	rec, err := s.claimOneTimeToken(ctx, PurposeEmailVerification, token)
	if err != nil {
		return nil, err
	}

	user, err := s.repo.FindUserByID(ctx, rec.UserID)
	if err != nil {
		return nil, fmt.Errorf("find user: %w", err)
	}
	if user == nil {
		return nil, ErrTokenNotFound
	}
	if user.EmailVerified {
		return user, nil
	}

	user.EmailVerified = true
	updated, err := s.repo.UpdateUser(ctx, *user)
	if err != nil {
		return nil, fmt.Errorf("update user: %w", err)
	}
	s.logger.Info("email verified", "user_id", updated.ID)
	return &updated, nil
}

// ResendVerification issues a fresh verification token for an unverified user.
func (s *Service) ResendVerification(ctx context.Context, userID uuid.UUID) error {
	user, err := s.repo.FindUserByID(ctx, userID)
	if err != nil {
		return fmt.Errorf("find user: %w", err)
	}
	if user == nil {
		return ErrUserNotFound
	}
	if user.EmailVerified {
		return validationError("email is already verified")
	}
	s.sendOneTimeToken(ctx, user, PurposeEmailVerification, NotifyEmailVerification, s.verificationTTL)
	return nil
}

// RequestPasswordReset sends a reset token when the email belongs to a user.
// It reports success either way so callers cannot probe for accounts.
func (s *Service) RequestPasswordReset(ctx context.Context, email string) error {
	email = NormalizeEmail(email)
	if email == "" {
		return nil
	}
	user, err := s.repo.FindUserByEmail(ctx, email)
	if err != nil {
		s.logger.Error("password reset lookup failed", "error", err)
		return nil
	}
	if user == nil {
		s.logger.Debug("password reset for unknown email")
		return nil
	}
	s.sendOneTimeToken(ctx, user, PurposePasswordReset, NotifyPasswordReset, s.resetTTL)
	return nil
}

// ResetPasswordWithToken consumes a reset token, sets the new password and
// revokes every session of the user.
func (s *Service) ResetPasswordWithToken(ctx context.Context, token, newPassword string) error {
	if check := ValidatePasswordStrength(newPassword); !check.Valid {
		return validationError(check.Reason)
	}

	rec, err := s.claimOneTimeToken(ctx, PurposePasswordReset, token)
	if err != nil {
		return err
	}

	user, err := s.repo.FindUserByID(ctx, rec.UserID)
	if err != nil {
		return fmt.Errorf("find user: %w", err)
	}
	if user == nil {
		return ErrTokenNotFound
	}
	return s.setPassword(ctx, user, newPassword)
}

// ChangePassword replaces the password of a signed-in user after checking the
// current one. Every session of the user is revoked.
func (s *Service) ChangePassword(ctx context.Context, userID uuid.UUID, current, next string) error {
	user, err := s.repo.FindUserByID(ctx, userID)
	if err != nil {
		return fmt.Errorf("find user: %w", err)
	}
	if user == nil {
		return ErrUserNotFound
	}
	if !user.HasPassword() || !VerifyPassword(current, user.PasswordHash) {
		return ErrInvalidCredentials
	}
	if check := ValidatePasswordStrength(next); !check.Valid {
		return validationError(check.Reason)
	}
	if current == next {
		return validationError("new password must differ from the current password")
	}
	return s.setPassword(ctx, user, next)
}

func (s *Service) setPassword(ctx context.Context, user *User, password string) error {
	hash, err := HashPassword(password, s.cost)
	if err != nil {
		return err
	}
	revoked, err := s.repo.SetPasswordAndRevokeSessions(ctx, user.ID, hash)
	if err != nil {
		return fmt.Errorf("set password: %w", err)
	}
	s.logger.Info("password updated", "user_id", user.ID, "sessions_revoked", revoked)

	if err := s.notify(ctx, Notification{
		Kind:   NotifyPasswordChanged,
		UserID: user.ID,
		Email:  user.Email,
		Name:   user.Name,
	}); err != nil {
		s.logger.Warn("password change notification failed", "user_id", user.ID, "error", err)
	}
	return nil
}

// CurrentUser loads the user behind a resolved identity.
func (s *Service) CurrentUser(ctx context.Context, id uuid.UUID) (*User, error) {
	user, err := s.repo.FindUserByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("find user: %w", err)
	}
	if user == nil {
		return nil, ErrUserNotFound
	}
	return user, nil
}

// SetRole changes the role of the account with the given email. Sessions are
// left alone; the new role reaches access tokens on their next refresh.
func (s *Service) SetRole(ctx context.Context, email string, role Role) (*User, error) {
	if !role.Valid() {
		return nil, validationError(fmt.Sprintf("unknown role %q", role))
	}
	user, err := s.repo.FindUserByEmail(ctx, NormalizeEmail(email))
	if err != nil {
		return nil, fmt.Errorf("find user: %w", err)
	}
	if user == nil {
		return nil, ErrUserNotFound
	}
	if user.Role == role {
		return user, nil
	}
	user.Role = role
	updated, err := s.repo.UpdateUser(ctx, *user)
	if err != nil {
		return nil, fmt.Errorf("update user: %w", err)
	}
	s.logger.Info("user role changed", "user_id", updated.ID, "role", role)
	return &updated, nil
}

// PurgeExpired removes expired sessions and single-use tokens.
func (s *Service) PurgeExpired(ctx context.Context) (sessions, tokens int64, err error) {
	sessions, err = s.repo.DeleteExpiredSessions(ctx)
	if err != nil {
		return 0, 0, fmt.Errorf("purge sessions: %w", err)
	}
	tokens, err = s.repo.DeleteExpiredOneTimeTokens(ctx)
	if err != nil {
		return sessions, 0, fmt.Errorf("purge tokens: %w", err)
	}
	return sessions, tokens, nil
}

// claimOneTimeToken looks up a live token and deletes it. Only the caller
// whose delete removed the row wins; a concurrent second use sees
// ErrTokenNotFound.
func (s *Service) claimOneTimeToken(ctx context.Context, purpose TokenPurpose, raw string) (*OneTimeToken, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, ErrTokenNotFound
	}
	hash := hashToken(raw)

	rec, err := s.repo.FindOneTimeToken(ctx, purpose, hash)
	if err != nil {
		return nil, fmt.Errorf("find token: %w", err)
	}
	if rec == nil {
		return nil, ErrTokenNotFound
	}

	claimed, err := s.repo.DeleteOneTimeToken(ctx, purpose, hash)
	if err != nil {
		return nil, fmt.Errorf("consume token: %w", err)
	}
	if !claimed || !rec.ExpiresAt.After(s.now()) {
		return nil, ErrTokenNotFound
	}
	return rec, nil
}

// sendOneTimeToken stores a fresh token and hands the raw value to the
// notifier. Failures are logged; the calling flow still succeeds.
func (s *Service) sendOneTimeToken(ctx context.Context, user *User, purpose TokenPurpose, kind NotificationKind, ttl time.Duration) {
	raw, err := GenerateRandomToken(oneTimeTokenLength)
	if err != nil {
		s.logger.Error("generate token failed", "purpose", purpose, "error", err)
		return
	}
	now := s.now()
	rec := OneTimeToken{
		TokenHash: hashToken(raw),
		Purpose:   purpose,
		UserID:    user.ID,
		ExpiresAt: now.Add(ttl),
		CreatedAt: now,
	}
	if err := s.repo.CreateOneTimeToken(ctx, rec); err != nil {
		s.logger.Error("store token failed", "purpose", purpose, "user_id", user.ID, "error", err)
		return
	}
	if err := s.notify(ctx, Notification{
		Kind:      kind,
		UserID:    user.ID,
		Email:     user.Email,
		Name:      user.Name,
		Token:     raw,
		ExpiresAt: rec.ExpiresAt,
	}); err != nil {
		s.logger.Warn("notification failed", "kind", kind, "user_id", user.ID, "error", err)
	}
}

func (s *Service) notify(ctx context.Context, n Notification) error {
	if s.notifier == nil {
		return nil
	}
	return s.notifier.Notify(ctx, n)
}
