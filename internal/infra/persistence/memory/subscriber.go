package memory

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/inkwire/inkwire/errs"
	"github.com/inkwire/inkwire/internal/domain/subscriber"
)

// SubscriberStore keeps subscribers and confirmation tokens in memory.
type SubscriberStore struct {
	mu          sync.Mutex
	subscribers map[uuid.UUID]subscriber.Subscriber
	order       []uuid.UUID
	tokens      map[string]uuid.UUID
}

// NewSubscriberStore creates an empty in-memory subscriber store.
func NewSubscriberStore() *SubscriberStore {
	return &SubscriberStore{
		mu:          sync.Mutex{},
		subscribers: make(map[uuid.UUID]subscriber.Subscriber),
		order:       nil,
		tokens:      make(map[string]uuid.UUID),
	}
}

// FetchConfirmed implements subscriber.Source. Emails keep insertion order.
func (s *SubscriberStore) FetchConfirmed(_ context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var emails []string
	for _, id := range s.order {
		sub := s.subscribers[id]
		if sub.Status == subscriber.StatusConfirmed {
			emails = append(emails, sub.Email)
		}
	}
	return emails, nil
}

// Insert implements subscriber.Store.
func (s *SubscriberStore) Insert(_ context.Context, sub subscriber.Subscriber) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.subscribers[sub.ID]; exists {
		return errs.New("subscriber", errs.CodeConflict,
			errs.WithMessage("subscriber already exists"),
			errs.WithField("id", sub.ID.String()))
	}
	s.subscribers[sub.ID] = sub
	s.order = append(s.order, sub.ID)
	return nil
}

// StoreToken implements subscriber.Store.
func (s *SubscriberStore) StoreToken(_ context.Context, subscriberID uuid.UUID, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.subscribers[subscriberID]; !exists {
		return errs.New("subscriber", errs.CodeNotFound,
			errs.WithMessage("unknown subscriber"),
			errs.WithField("id", subscriberID.String()))
	}
	s.tokens[token] = subscriberID
	return nil
}

// ConfirmByToken implements subscriber.Store.
func (s *SubscriberStore) ConfirmByToken(_ context.Context, token string) (uuid.UUID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.tokens[token]
	if !ok {
		return uuid.Nil, errs.New("subscriber", errs.CodeNotFound,
			errs.WithMessage("unknown subscription token"))
	}
	sub := s.subscribers[id]
	sub.Status = subscriber.StatusConfirmed
	s.subscribers[id] = sub
	return id, nil
}

var _ subscriber.Store = (*SubscriberStore)(nil)
