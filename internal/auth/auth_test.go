package auth

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"

	"github.com/inkwire/inkwire/errs"
)

type memoryAuthStore struct {
	users    map[string]struct {
		id   uuid.UUID
		hash string
	}
	sessions map[string]uuid.UUID
}

func newMemoryAuthStore() *memoryAuthStore {
	return &memoryAuthStore{
		users: make(map[string]struct {
			id   uuid.UUID
			hash string
		}),
		sessions: make(map[string]uuid.UUID),
	}
}

func (s *memoryAuthStore) FindCredentials(_ context.Context, username string) (uuid.UUID, string, error) {
	user, ok := s.users[username]
	if !ok {
		return uuid.Nil, "", errs.New("auth", errs.CodeNotFound, errs.WithMessage("unknown user"))
	}
	return user.id, user.hash, nil
}

func (s *memoryAuthStore) CreateSession(_ context.Context, token string, userID uuid.UUID) error {
	s.sessions[token] = userID
	return nil
}

func (s *memoryAuthStore) LookupSession(_ context.Context, token string) (uuid.UUID, error) {
	id, ok := s.sessions[token]
	if !ok {
		return uuid.Nil, errs.New("auth", errs.CodeNotFound, errs.WithMessage("unknown session"))
	}
	return id, nil
}

func TestHashAndVerifyPassword(t *testing.T) {
	hash, err := HashPassword("correct horse battery staple")
	if err != nil {
		t.Fatalf("hash password: %v", err)
	}
	ok, err := VerifyPassword(hash, "correct horse battery staple")
	if err != nil || !ok {
		t.Fatalf("expected password to verify, ok=%v err=%v", ok, err)
	}
	ok, err = VerifyPassword(hash, "wrong password")
	if err != nil {
		t.Fatalf("verify with wrong password errored: %v", err)
	}
	if ok {
		t.Fatalf("wrong password must not verify")
	}
}

func TestVerifyPasswordRejectsMalformedHash(t *testing.T) {
	if _, err := VerifyPassword("not-a-hash", "pw"); err == nil {
		t.Fatalf("expected malformed hash error")
	}
}

func TestLoginIssuesResolvableSession(t *testing.T) {
	store := newMemoryAuthStore()
	hash, err := HashPassword("s3cret")
	if err != nil {
		t.Fatalf("hash password: %v", err)
	}
	userID := uuid.New()
	store.users["edith"] = struct {
		id   uuid.UUID
		hash string
	}{id: userID, hash: hash}

	svc := NewService(store)
	token, err := svc.Login(context.Background(), Credentials{Username: "edith", Password: "s3cret"})
	if err != nil {
		t.Fatalf("login failed: %v", err)
	}
	resolved, err := svc.Resolve(context.Background(), token)
	if err != nil {
		t.Fatalf("resolve failed: %v", err)
	}
	if resolved != userID {
		t.Fatalf("resolved identity mismatch: got %s want %s", resolved, userID)
	}
}

func TestLoginRejectsBadCredentials(t *testing.T) {
	store := newMemoryAuthStore()
	hash, err := HashPassword("s3cret")
	if err != nil {
		t.Fatalf("hash password: %v", err)
	}
	store.users["edith"] = struct {
		id   uuid.UUID
		hash string
	}{id: uuid.New(), hash: hash}

	svc := NewService(store)
	if _, err := svc.Login(context.Background(), Credentials{Username: "edith", Password: "nope"}); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials for wrong password, got %v", err)
	}
	if _, err := svc.Login(context.Background(), Credentials{Username: "ghost", Password: "nope"}); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials for unknown user, got %v", err)
	}
}

func TestResolveRejectsUnknownToken(t *testing.T) {
	svc := NewService(newMemoryAuthStore())
	if _, err := svc.Resolve(context.Background(), "bogus"); !errors.Is(err, ErrUnknownSession) {
		t.Fatalf("expected ErrUnknownSession, got %v", err)
	}
	if _, err := svc.Resolve(context.Background(), ""); !errors.Is(err, ErrUnknownSession) {
		t.Fatalf("expected ErrUnknownSession for empty token, got %v", err)
	}
}
