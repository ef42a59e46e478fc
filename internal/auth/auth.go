// Package auth provides the thin authentication collaborator: credential
// verification and session-token resolution into a stable identity.
package auth

import (
	"context"

	"github.com/google/uuid"

	"github.com/inkwire/inkwire/errs"
)

// ErrInvalidCredentials covers unknown usernames and wrong passwords alike so
// callers cannot distinguish the two.
var ErrInvalidCredentials = errs.New("auth", errs.CodeAuth,
	errs.WithMessage("invalid username or password"))

// ErrUnknownSession signals an expired or never-issued session token.
var ErrUnknownSession = errs.New("auth", errs.CodeAuth,
	errs.WithMessage("unknown session token"))

// Credentials carries one login attempt.
type Credentials struct {
	Username string
	Password string
}

// Resolver turns an opaque session token into the authenticated identity.
// The identity is opaque to the publish pipeline and never derived inside it.
type Resolver interface {
	Resolve(ctx context.Context, token string) (uuid.UUID, error)
}

// Store persists users and sessions.
type Store interface {
	// FindCredentials returns the user id and stored password hash for a
	// username, or a not_found error.
	FindCredentials(ctx context.Context, username string) (uuid.UUID, string, error)
	CreateSession(ctx context.Context, token string, userID uuid.UUID) error
	LookupSession(ctx context.Context, token string) (uuid.UUID, error)
}

// Service validates credentials and issues session tokens.
type Service struct {
	store Store
}

// NewService builds a Service over the given store.
func NewService(store Store) *Service {
	return &Service{store: store}
}

// fallbackHash is verified when the username is unknown so that lookup
// misses and password mismatches take comparable time.
const fallbackHash = "$argon2id$v=19$m=15360,t=2,p=1$gZiV/M1gPc22ElAH/Jh1Hw$CWOrkoo7oJBQ/iyh7uJ0LO2aLEfrHwTWllSAxT0zRno"

// Login verifies credentials and returns a fresh session token.
func (s *Service) Login(ctx context.Context, creds Credentials) (string, error) {
	userID, storedHash, err := s.store.FindCredentials(ctx, creds.Username)
	if err != nil {
		if errs.CodeOf(err) == errs.CodeNotFound {
			_, _ = VerifyPassword(fallbackHash, creds.Password)
			return "", ErrInvalidCredentials
		}
		return "", errs.New("auth", errs.CodePersistence,
			errs.WithMessage("load credentials"), errs.WithCause(err))
	}
	ok, err := VerifyPassword(storedHash, creds.Password)
	if err != nil {
		return "", errs.New("auth", errs.CodePersistence,
			errs.WithMessage("verify password hash"), errs.WithCause(err))
	}
	if !ok {
		return "", ErrInvalidCredentials
	}

	token := uuid.NewString()
	if err := s.store.CreateSession(ctx, token, userID); err != nil {
		return "", errs.New("auth", errs.CodePersistence,
			errs.WithMessage("create session"), errs.WithCause(err))
	}
	return token, nil
}

// Resolve implements Resolver.
func (s *Service) Resolve(ctx context.Context, token string) (uuid.UUID, error) {
	if token == "" {
		return uuid.Nil, ErrUnknownSession
	}
	userID, err := s.store.LookupSession(ctx, token)
	if err != nil {
		if errs.CodeOf(err) == errs.CodeNotFound {
			return uuid.Nil, ErrUnknownSession
		}
		return uuid.Nil, errs.New("auth", errs.CodePersistence,
			errs.WithMessage("lookup session"), errs.WithCause(err))
	}
	return userID, nil
}

var _ Resolver = (*Service)(nil)
