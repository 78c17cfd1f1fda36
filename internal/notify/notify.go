// Package notify delivers workflow notifications to project stakeholders.
package notify

import (
	"context"
	"errors"
	"time"

	"taxline/internal/domain"
	"taxline/internal/repo"
)

// Notifier delivers one notification to a set of staff profiles.
// Implementations must not mutate recipients.
type Notifier interface {
	Name() string
	Notify(ctx context.Context, recipients []domain.Profile, title, message string) error
}

// InboxNotifier writes in-app inbox entries.
type InboxNotifier struct {
	Repo repo.Repo
	Now  func() time.Time
}

func (n InboxNotifier) Name() string { return "inbox" }

func (n InboxNotifier) Notify(ctx context.Context, recipients []domain.Profile, title, message string) error {
	now := time.Now
	if n.Now != nil {
		now = n.Now
	}
	ts := now().UTC().Format(time.RFC3339)
	var errs []error
	for _, p := range recipients {
		_, err := n.Repo.InsertNotification(ctx, domain.Notification{
			UserID:    p.ID,
			Title:     title,
			Message:   message,
			CreatedAt: ts,
		})
		if err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Multi fans a notification out to every configured channel. Channel
// failures are collected, not short-circuited, so one bad channel does
// not starve the others.
type Multi []Notifier

func (m Multi) Name() string { return "multi" }

func (m Multi) Notify(ctx context.Context, recipients []domain.Profile, title, message string) error {
	var errs []error
	for _, n := range m {
		if err := n.Notify(ctx, recipients, title, message); err != nil {
			errs = append(errs, &ChannelError{Channel: n.Name(), Err: err})
		}
	}
	return errors.Join(errs...)
}

// ChannelError wraps a delivery failure with the channel that produced it.
type ChannelError struct {
	Channel string
	Err     error
}

func (e *ChannelError) Error() string { return e.Channel + ": " + e.Err.Error() }
func (e *ChannelError) Unwrap() error { return e.Err }
