package email

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/emersion/go-imap/v2/imapclient"

	"github.com/nhle/eventdesk/internal/model"
	"github.com/nhle/eventdesk/internal/source"
)

// IDPrefix marks notifications that originate from the mailbox.
const IDPrefix = "mail-"

// maxMessageLen caps the body copied into a notification.
const maxMessageLen = 500

// subjectRule classifies the center's transactional mail by subject.
type subjectRule struct {
	prefix   string
	typ      model.NotificationType
	priority model.Priority
	category string
}

var subjectRules = []subjectRule{
	{"reservation confirmed", model.NotificationSuccess, model.PriorityMedium, "reservation"},
	{"reservation cancelled", model.NotificationWarning, model.PriorityHigh, "reservation"},
	{"checked in", model.NotificationSuccess, model.PriorityLow, "checkin"},
	{"invitation declined", model.NotificationWarning, model.PriorityMedium, "invitation"},
	{"welcome to", model.NotificationInfo, model.PriorityLow, "account"},
}

// Adapter implements source.Fetcher for the user's mailbox.
type Adapter struct {
	box *mailbox
	cfg model.MailboxConfig
	now func() time.Time
}

var _ source.Fetcher = (*Adapter)(nil)

// NewAdapter creates a new mailbox source adapter.
func NewAdapter(cfg model.MailboxConfig, password string) *Adapter {
	return &Adapter{
		box: newMailbox(cfg, password),
		cfg: cfg,
		now: time.Now,
	}
}

// Type returns the source type identifier for Email.
func (a *Adapter) Type() source.SourceType {
	return source.SourceTypeEmail
}

// ValidateConnection logs in and selects INBOX. It returns the mailbox
// address on success.
func (a *Adapter) ValidateConnection(ctx context.Context) (string, error) {
	err := a.box.withInbox(ctx, func(*imapclient.Client) error { return nil })
	if err != nil {
		return "", fmt.Errorf("validating mailbox: %w", err)
	}
	return a.cfg.Username + "@" + a.cfg.Host, nil
}

// FetchNotifications turns recent mail from the center into
// notifications.
func (a *Adapter) FetchNotifications(ctx context.Context) ([]model.Notification, error) {
	days := a.cfg.LookbackDays
	if days < 1 {
		days = 7
	}
	since := a.now().AddDate(0, 0, -days)

	msgs, err := a.box.recent(ctx, since, a.cfg.Sender, a.cfg.Limit)
	if err != nil {
		return nil, fmt.Errorf("fetching mailbox: %w", err)
	}

	ns := make([]model.Notification, 0, len(msgs))
	for i := len(msgs) - 1; i >= 0; i-- {
		ns = append(ns, MessageToNotification(msgs[i]))
	}
	return ns, nil
}

// MarkRead sets \Seen on the message behind a mailbox notification.
func (a *Adapter) MarkRead(ctx context.Context, n model.Notification) error {
	uid, err := UIDOf(n)
	if err != nil {
		return err
	}
	return a.box.markSeen(ctx, uid)
}

// MessageToNotification converts a parsed message into a notification.
func MessageToNotification(msg ParsedMessage) model.Notification {
	env := msg.Envelope
	typ, priority, category := classify(env.Subject)

	body := msg.TextBody
	if strings.TrimSpace(body) == "" && msg.HTMLBody != "" {
		body = stripHTML(msg.HTMLBody)
	}

	id := IDPrefix + sanitizeID(env.MessageID)
	if env.MessageID == "" {
		id = fmt.Sprintf("%suid-%d", IDPrefix, env.UID)
	}

	meta := map[string]any{
		"uid":  strconv.FormatUint(uint64(env.UID), 10),
		"from": env.From,
	}
	if env.FromAddr != "" {
		meta["from_addr"] = env.FromAddr
	}
	if len(msg.Attachments) > 0 {
		names := make([]string, 0, len(msg.Attachments))
		for _, att := range msg.Attachments {
			names = append(names, fmt.Sprintf("%s (%s)", att.Filename, formatSize(att.Size)))
		}
		meta["attachments"] = strings.Join(names, "; ")
	}

	return model.Notification{
		ID:        id,
		Type:      typ,
		Priority:  priority,
		Title:     env.Subject,
		Message:   truncate(strings.TrimSpace(body), maxMessageLen),
		Timestamp: env.Date,
		Read:      env.Seen(),
		Category:  category,
		Metadata:  meta,
	}
}

// UIDOf returns the IMAP UID recorded on a mailbox notification.
func UIDOf(n model.Notification) (uint32, error) {
	if !strings.HasPrefix(n.ID, IDPrefix) {
		return 0, fmt.Errorf("notification %s is not from the mailbox", n.ID)
	}
	raw, _ := n.Metadata["uid"].(string)
	uid, err := strconv.ParseUint(raw, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid email UID %q: %w", raw, err)
	}
	return uint32(uid), nil
}

func classify(subject string) (model.NotificationType, model.Priority, string) {
	s := strings.ToLower(strings.TrimSpace(subject))
	for _, r := range subjectRules {
		if strings.HasPrefix(s, r.prefix) {
			return r.typ, r.priority, r.category
		}
	}
	return model.NotificationInfo, model.PriorityMedium, "email"
}

func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return string(r[:n-1]) + "…"
}

// sanitizeID removes or replaces characters that are not safe for use
// in a notification ID.
var idUnsafeChars = regexp.MustCompile(`[^a-zA-Z0-9._-]`)

func sanitizeID(s string) string {
	return idUnsafeChars.ReplaceAllString(s, "_")
}

// htmlTagPattern matches HTML tags for stripping.
var htmlTagPattern = regexp.MustCompile(`<[^>]*>`)

// stripHTML removes HTML tags from a string and decodes common
// entities, providing a basic plain-text rendering.
func stripHTML(html string) string {
	if html == "" {
		return ""
	}

	result := html
	for _, tag := range []string{
		"<br>", "<br/>", "<br />", "</p>", "</div>", "</li>",
	} {
		result = strings.ReplaceAll(result, tag, "\n")
	}

	result = htmlTagPattern.ReplaceAllString(result, "")

	replacer := strings.NewReplacer(
		"&amp;", "&",
		"&lt;", "<",
		"&gt;", ">",
		"&quot;", `"`,
		"&#39;", "'",
		"&nbsp;", " ",
	)
	result = replacer.Replace(result)

	for strings.Contains(result, "\n\n\n") {
		result = strings.ReplaceAll(result, "\n\n\n", "\n\n")
	}

	return strings.TrimSpace(result)
}

// formatSize formats a byte size into a human-readable string.
func formatSize(bytes int64) string {
	switch {
	case bytes >= 1024*1024:
		return fmt.Sprintf("%.1f MB", float64(bytes)/(1024*1024))
	case bytes >= 1024:
		return fmt.Sprintf("%.1f KB", float64(bytes)/1024)
	default:
		return fmt.Sprintf("%d B", bytes)
	}
}
