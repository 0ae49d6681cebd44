package source

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/nhle/eventdesk/internal/model"
)

// AuthError indicates that authentication has failed or expired for a source.
// It is returned by source clients when a 401 response is received.
type AuthError struct {
	SourceType SourceType
	Message    string
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("auth error (%s): %s", e.SourceType, e.Message)
}

// IsAuthError reports whether err (or any error in its chain) is an AuthError.
func IsAuthError(err error) bool {
	var authErr *AuthError
	return errors.As(err, &authErr)
}

// SourceType identifies where notifications come from.
type SourceType string

const (
	SourceTypeAPI   SourceType = "api"
	SourceTypeEmail SourceType = "email"
)

// Fetcher retrieves the current notification list for the signed-in user.
// The scheduler calls it once per poll.
type Fetcher interface {
	// Type returns the source type identifier.
	Type() SourceType

	// FetchNotifications returns the latest notifications, newest first.
	FetchNotifications(ctx context.Context) ([]model.Notification, error)
}

// Multi fans a poll out to several fetchers and concatenates their
// results. It fails only when every fetcher fails, so an unreachable
// mailbox does not hide API notifications.
type Multi struct {
	fetchers []Fetcher
}

// NewMulti returns a Multi over the non-nil fetchers.
func NewMulti(fetchers ...Fetcher) *Multi {
	m := &Multi{}
	for _, f := range fetchers {
		if f != nil {
			m.fetchers = append(m.fetchers, f)
		}
	}
	return m
}

// Type reports the type of the first fetcher.
func (m *Multi) Type() SourceType {
	if len(m.fetchers) == 0 {
		return SourceTypeAPI
	}
	return m.fetchers[0].Type()
}

// FetchNotifications polls each fetcher in order. A rejected platform
// session is returned as-is so the caller can end it; a rejected mailbox
// login only counts as that fetcher failing.
func (m *Multi) FetchNotifications(ctx context.Context) ([]model.Notification, error) {
	if len(m.fetchers) == 0 {
		return nil, errors.New("no notification sources configured")
	}

	var (
		all  []model.Notification
		errs []string
		ok   int
	)
	for _, f := range m.fetchers {
		ns, err := f.FetchNotifications(ctx)
		if err != nil {
			var authErr *AuthError
			if errors.As(err, &authErr) && authErr.SourceType == SourceTypeAPI {
				return nil, err
			}
			errs = append(errs, fmt.Sprintf("%s: %v", f.Type(), err))
			continue
		}
		ok++
		all = append(all, ns...)
	}

	if ok == 0 {
		return nil, fmt.Errorf("all sources failed: %s", strings.Join(errs, "; "))
	}
	return all, nil
}
