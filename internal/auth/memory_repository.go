package auth

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// InMemoryRepository keeps users, sessions and single-use tokens in process
// memory. It is meant for local development and tests.
type InMemoryRepository struct {
	mu       sync.RWMutex
	users    map[uuid.UUID]User
	byEmail  map[string]uuid.UUID
	sessions map[uuid.UUID]Session
	tokens   map[oneTimeKey]OneTimeToken
	now      func() time.Time
}

type oneTimeKey struct {
	purpose TokenPurpose
	hash    string
}

// NewInMemoryRepository constructs an empty repository.
func NewInMemoryRepository() *InMemoryRepository {
	return &InMemoryRepository{
		users:    make(map[uuid.UUID]User),
		byEmail:  make(map[string]uuid.UUID),
		sessions: make(map[uuid.UUID]Session),
		tokens:   make(map[oneTimeKey]OneTimeToken),
		now:      time.Now,
	}
}

func (r *InMemoryRepository) FindUserByEmail(_ context.Context, email string) (*User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	id, ok := r.byEmail[email]
	if !ok {
		return nil, nil
	}
	user := r.users[id]
	return &user, nil
}

func (r *InMemoryRepository) FindUserByID(_ context.Context, id uuid.UUID) (*User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	user, ok := r.users[id]
	if !ok {
		return nil, nil
	}
	return &user, nil
}

func (r *InMemoryRepository) CreateUser(_ context.Context, user User) (User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, taken := r.byEmail[user.Email]; taken {
		return User{}, ErrEmailTaken
	}
	r.users[user.ID] = user
	r.byEmail[user.Email] = user.ID
	return user, nil
}

func (r *InMemoryRepository) UpdateUser(_ context.Context, user User) (User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	existing, ok := r.users[user.ID]
	if !ok {
		return User{}, ErrUserNotFound
	}
	existing.Name = user.Name
	existing.AvatarURL = user.AvatarURL
	existing.EmailVerified = user.EmailVerified
	existing.Role = user.Role
	existing.UpdatedAt = r.now()
	r.users[user.ID] = existing
	return existing, nil
}

func (r *InMemoryRepository) SetPasswordAndRevokeSessions(_ context.Context, userID uuid.UUID, passwordHash string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	user, ok := r.users[userID]
	if !ok {
		return 0, ErrUserNotFound
	}
	user.PasswordHash = passwordHash
	user.UpdatedAt = r.now()
	r.users[userID] = user

	return r.deleteUserSessionsLocked(userID), nil
}

func (r *InMemoryRepository) CreateSession(_ context.Context, session Session) (Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.sessions[session.ID] = session
	return session, nil
}

func (r *InMemoryRepository) FindSessionByRefreshHash(_ context.Context, refreshHash string) (*Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	now := r.now()
	for _, s := range r.sessions {
		if s.RefreshTokenHash == refreshHash && s.ExpiresAt.After(now) {
			found := s
			return &found, nil
		}
	}
	return nil, nil
}

func (r *InMemoryRepository) TouchSession(_ context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if s, ok := r.sessions[id]; ok {
		s.LastUsedAt = r.now()
		r.sessions[id] = s
	}
	return nil
}

func (r *InMemoryRepository) DeleteSession(_ context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.sessions, id)
	return nil
}

func (r *InMemoryRepository) DeleteUserSessions(_ context.Context, userID uuid.UUID) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.deleteUserSessionsLocked(userID), nil
}

func (r *InMemoryRepository) deleteUserSessionsLocked(userID uuid.UUID) int64 {
	var n int64
	for id, s := range r.sessions {
		if s.UserID == userID {
			delete(r.sessions, id)
			n++
		}
	}
	return n
}

func (r *InMemoryRepository) DeleteExpiredSessions(_ context.Context) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	var n int64
	for id, s := range r.sessions {
		if !s.ExpiresAt.After(now) {
			delete(r.sessions, id)
			n++
		}
	}
	return n, nil
}

func (r *InMemoryRepository) CreateOneTimeToken(_ context.Context, token OneTimeToken) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.tokens[oneTimeKey{purpose: token.Purpose, hash: token.TokenHash}] = token
	return nil
}

func (r *InMemoryRepository) FindOneTimeToken(_ context.Context, purpose TokenPurpose, tokenHash string) (*OneTimeToken, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	token, ok := r.tokens[oneTimeKey{purpose: purpose, hash: tokenHash}]
	if !ok {
		return nil, nil
	}
	return &token, nil
}

func (r *InMemoryRepository) DeleteOneTimeToken(_ context.Context, purpose TokenPurpose, tokenHash string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := oneTimeKey{purpose: purpose, hash: tokenHash}
	if _, ok := r.tokens[key]; !ok {
		return false, nil
	}
	delete(r.tokens, key)
	return true, nil
}

func (r *InMemoryRepository) DeleteExpiredOneTimeTokens(_ context.Context) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	var n int64
	for key, token := range r.tokens {
		if !token.ExpiresAt.After(now) {
			delete(r.tokens, key)
			n++
		}
	}
	return n, nil
}
