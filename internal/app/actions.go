package app

import (
	"context"
	"strings"
	"time"

	"github.com/nhle/eventdesk/internal/model"
	"github.com/nhle/eventdesk/internal/source/email"
)

// mirrorTimeout bounds one best-effort remote update.
const mirrorTimeout = 10 * time.Second

// The inbox is updated first and the change is then mirrored to where the
// notification came from. Remote failures are logged and otherwise
// ignored; the next poll reconciles.

// MarkRead marks id read locally and remotely.
func (s *Services) MarkRead(ctx context.Context, id string) error {
	n, ok := s.Inbox.Get(id)
	if !ok || n.Read {
		return nil
	}
	s.Inbox.MarkAsRead(id)
	return s.mirror(ctx, "mark read", id, func(ctx context.Context) error {
		if s.isMail(id) {
			return s.Mailbox.MarkRead(ctx, n)
		}
		return s.API.MarkRead(ctx, id)
	})
}

// MarkAllRead marks every notification read locally and remotely.
func (s *Services) MarkAllRead(ctx context.Context) error {
	var unreadMail []model.Notification
	for _, n := range s.Inbox.All() {
		if !n.Read && s.isMail(n.ID) {
			unreadMail = append(unreadMail, n)
		}
	}
	s.Inbox.MarkAllAsRead()

	return s.mirror(ctx, "mark all read", "", func(ctx context.Context) error {
		for _, n := range unreadMail {
			if err := s.Mailbox.MarkRead(ctx, n); err != nil {
				s.Log.Debug().Err(err).Str("id", n.ID).Msg("mailbox mark read")
			}
		}
		return s.API.MarkAllRead(ctx)
	})
}

// Delete removes id locally and, for platform notifications, remotely.
// Mailbox messages are never deleted from the server.
func (s *Services) Delete(ctx context.Context, id string) error {
	if _, ok := s.Inbox.Get(id); !ok {
		return nil
	}
	s.Inbox.Remove(id)
	if s.isMail(id) {
		return nil
	}
	return s.mirror(ctx, "delete", id, func(ctx context.Context) error {
		return s.API.Delete(ctx, id)
	})
}

// ClearAll empties the inbox locally and on the platform.
func (s *Services) ClearAll(ctx context.Context) error {
	s.Inbox.ClearAll()
	return s.mirror(ctx, "clear all", "", s.API.ClearAll)
}

func (s *Services) isMail(id string) bool {
	return s.Mailbox != nil && strings.HasPrefix(id, email.IDPrefix)
}

func (s *Services) mirror(ctx context.Context, what, id string, fn func(context.Context) error) error {
	if !s.Session.IsAuthenticated() || !s.Netwatch.Online() {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, mirrorTimeout)
	defer cancel()

	if err := fn(ctx); err != nil {
		s.Log.Warn().Err(err).Str("action", what).Str("id", id).Msg("remote update failed")
		return err
	}
	return nil
}
