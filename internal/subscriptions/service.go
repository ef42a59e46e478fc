// Package subscriptions implements the signup and confirmation flow that
// feeds the confirmed-recipient list.
package subscriptions

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/inkwire/inkwire/errs"
	"github.com/inkwire/inkwire/internal/domain/recipient"
	"github.com/inkwire/inkwire/internal/domain/subscriber"
	"github.com/inkwire/inkwire/internal/notify"
	"github.com/inkwire/inkwire/internal/observability"
)

// ErrInvalidSubscription covers malformed signup input.
var ErrInvalidSubscription = errs.New("subscriptions", errs.CodeInvalid,
	errs.WithMessage("invalid subscription request"))

// ErrUnknownToken signals a confirmation token that matches no subscriber.
var ErrUnknownToken = errs.New("subscriptions", errs.CodeNotFound,
	errs.WithMessage("unknown subscription token"))

// Request carries one signup attempt.
type Request struct {
	Email string
	Name  string
}

// Service persists new subscribers and drives token confirmation. A
// confirmation email is sent on signup; its failure does not undo the stored
// subscriber since the token stays valid for a later resend.
type Service struct {
	store    subscriber.Store
	notifier notify.Notifier
	baseURL  string
	now      func() time.Time
}

// Option customises Service construction.
type Option func(*Service)

// WithClock overrides the subscription timestamp source.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// NewService builds the signup flow. baseURL is the externally reachable
// prefix for confirmation links.
func NewService(store subscriber.Store, notifier notify.Notifier, baseURL string, opts ...Option) *Service {
	svc := &Service{
		store:    store,
		notifier: notifier,
		baseURL:  strings.TrimRight(baseURL, "/"),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(svc)
	}
	return svc
}

// Subscribe validates the request, stores the subscriber as pending, and
// sends the confirmation email.
func (s *Service) Subscribe(ctx context.Context, req Request) (uuid.UUID, error) {
	addr, err := recipient.Parse(req.Email)
	if err != nil {
		return uuid.Nil, errs.New("subscriptions", errs.CodeInvalid,
			errs.WithMessage("invalid email address"), errs.WithCause(err))
	}
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return uuid.Nil, errs.New("subscriptions", errs.CodeInvalid,
			errs.WithMessage("name required"))
	}

	sub := subscriber.Subscriber{
		ID:           uuid.New(),
		Email:        addr.String(),
		Name:         name,
		Status:       subscriber.StatusPending,
		SubscribedAt: s.now().UTC(),
	}
	if err := s.store.Insert(ctx, sub); err != nil {
		return uuid.Nil, errs.New("subscriptions", errs.CodePersistence,
			errs.WithMessage("store subscriber"), errs.WithCause(err))
	}

	token := uuid.NewString()
	if err := s.store.StoreToken(ctx, sub.ID, token); err != nil {
		return uuid.Nil, errs.New("subscriptions", errs.CodePersistence,
			errs.WithMessage("store confirmation token"), errs.WithCause(err))
	}

	if err := s.notifier.Send(ctx, addr, s.confirmationMessage(token)); err != nil {
		observability.Log().Warn("confirmation email failed",
			observability.Field{Key: "subscriber_id", Value: sub.ID.String()},
			observability.Field{Key: "error", Value: err.Error()})
	}
	return sub.ID, nil
}

// Confirm flips the subscriber matching token to confirmed.
func (s *Service) Confirm(ctx context.Context, token string) (uuid.UUID, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return uuid.Nil, ErrUnknownToken
	}
	id, err := s.store.ConfirmByToken(ctx, token)
	if err != nil {
		if errs.CodeOf(err) == errs.CodeNotFound {
			return uuid.Nil, ErrUnknownToken
		}
		return uuid.Nil, errs.New("subscriptions", errs.CodePersistence,
			errs.WithMessage("confirm subscription"), errs.WithCause(err))
	}
	return id, nil
}

func (s *Service) confirmationMessage(token string) notify.Message {
	link := fmt.Sprintf("%s/subscriptions/confirm?subscription_token=%s",
		s.baseURL, url.QueryEscape(token))
	return notify.Message{
		Title: "Welcome to our newsletter!",
		HTMLBody: fmt.Sprintf(
			"Welcome to our newsletter!<br />Click <a href=\"%s\">here</a> to confirm your subscription.", link),
		TextBody: fmt.Sprintf(
			"Welcome to our newsletter!\nVisit %s to confirm your subscription.", link),
	}
}
