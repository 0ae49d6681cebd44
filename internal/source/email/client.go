package email

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net"
	"strings"
	"time"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"
	"github.com/emersion/go-message/mail"

	"github.com/nhle/eventdesk/internal/model"
	"github.com/nhle/eventdesk/internal/source"
)

const inboxName = "INBOX"

// mailbox opens short-lived IMAP sessions against the user's INBOX. Each
// operation dials, logs in, selects and logs out again, so a poll never
// holds a connection between ticks.
type mailbox struct {
	addr     string
	username string
	password string
	tls      bool
}

func newMailbox(cfg model.MailboxConfig, password string) *mailbox {
	port := cfg.Port
	if port == "" {
		port = "993"
		if !cfg.TLS {
			port = "143"
		}
	}
	return &mailbox{
		addr:     net.JoinHostPort(cfg.Host, port),
		username: cfg.Username,
		password: password,
		tls:      cfg.TLS,
	}
}

func (m *mailbox) dial() (*imapclient.Client, error) {
	if m.tls {
		return imapclient.DialTLS(m.addr, nil)
	}
	return imapclient.DialStartTLS(m.addr, nil)
}

// withInbox runs fn on an authenticated client with INBOX selected.
// Cancelling ctx closes the connection, which unblocks pending commands.
func (m *mailbox) withInbox(ctx context.Context, fn func(*imapclient.Client) error) error {
	client, err := m.dial()
	if err != nil {
		return fmt.Errorf("connecting to IMAP %s: %w", m.addr, err)
	}
	stop := context.AfterFunc(ctx, func() { _ = client.Close() })
	defer stop()
	defer func() { _ = client.Logout().Wait() }()

	if err := client.Login(m.username, m.password).Wait(); err != nil {
		return &source.AuthError{
			SourceType: source.SourceTypeEmail,
			Message:    fmt.Sprintf("mailbox login failed for %s: %v", m.username, err),
		}
	}
	if _, err := client.Select(inboxName, nil).Wait(); err != nil {
		return fmt.Errorf("selecting %s: %w", inboxName, err)
	}

	if err := fn(client); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return err
	}
	return nil
}

// recent returns up to limit messages received since the given time,
// oldest first. Bodies are fetched with PEEK so polling leaves \Seen alone.
func (m *mailbox) recent(ctx context.Context, since time.Time, sender string, limit int) ([]ParsedMessage, error) {
	var messages []ParsedMessage
	err := m.withInbox(ctx, func(client *imapclient.Client) error {
		criteria := &imap.SearchCriteria{Since: since}
		if sender != "" {
			criteria.Header = []imap.SearchCriteriaHeaderField{{Key: "From", Value: sender}}
		}
		found, err := client.UIDSearch(criteria, nil).Wait()
		if err != nil {
			return fmt.Errorf("searching messages: %w", err)
		}

		uids := found.AllUIDs()
		if len(uids) == 0 {
			return nil
		}
		if limit > 0 && len(uids) > limit {
			uids = uids[len(uids)-limit:]
		}

		body := &imap.FetchItemBodySection{Peek: true}
		fetch := client.Fetch(imap.UIDSetNum(uids...), &imap.FetchOptions{
			UID:         true,
			Flags:       true,
			Envelope:    true,
			BodySection: []*imap.FetchItemBodySection{body},
		})
		for msg := fetch.Next(); msg != nil; msg = fetch.Next() {
			buf, err := msg.Collect()
			if err != nil {
				continue
			}
			parsed := ParsedMessage{Envelope: toEnvelope(buf)}
			if raw := buf.FindBodySection(body); raw != nil {
				parsed.TextBody, parsed.HTMLBody, parsed.Attachments = parseMIMEBody(raw)
			}
			messages = append(messages, parsed)
		}
		if err := fetch.Close(); err != nil {
			return fmt.Errorf("fetching messages: %w", err)
		}
		return nil
	})
	return messages, err
}

// markSeen adds \Seen to one message.
func (m *mailbox) markSeen(ctx context.Context, uid uint32) error {
	return m.withInbox(ctx, func(client *imapclient.Client) error {
		return client.Store(imap.UIDSetNum(imap.UID(uid)), &imap.StoreFlags{
			Op:     imap.StoreFlagsAdd,
			Silent: true,
			Flags:  []imap.Flag{imap.FlagSeen},
		}, nil).Close()
	})
}

func toEnvelope(buf *imapclient.FetchMessageBuffer) Envelope {
	env := Envelope{UID: uint32(buf.UID)}
	for _, f := range buf.Flags {
		env.Flags = append(env.Flags, string(f))
	}
	e := buf.Envelope
	if e == nil {
		return env
	}

	env.MessageID = e.MessageID
	env.Subject = e.Subject
	env.Date = e.Date
	if len(e.From) > 0 {
		env.FromAddr = e.From[0].Addr()
		env.From = e.From[0].Name
		if env.From == "" {
			env.From = env.FromAddr
		}
	}
	return env
}

// parseMIMEBody walks a raw RFC 5322 message and returns its plain and
// HTML bodies plus attachment metadata. Unparseable input is treated as
// plain text.
func parseMIMEBody(raw []byte) (text, html string, attachments []Attachment) {
	r, err := mail.CreateReader(bytes.NewReader(raw))
	if err != nil {
		return string(raw), "", nil
	}
	defer r.Close()

	for {
		part, err := r.NextPart()
		if err != nil {
			// io.EOF ends the walk; a malformed part ends it early.
			return text, html, attachments
		}

		switch h := part.Header.(type) {
		case *mail.InlineHeader:
			ct, _, _ := h.ContentType()
			b, err := io.ReadAll(part.Body)
			if err != nil {
				continue
			}
			if strings.HasPrefix(ct, "text/plain") && text == "" {
				text = string(b)
			} else if strings.HasPrefix(ct, "text/html") && html == "" {
				html = string(b)
			}

		case *mail.AttachmentHeader:
			name, _ := h.Filename()
			ct, _, _ := h.ContentType()
			n, err := io.Copy(io.Discard, part.Body)
			if err != nil {
				continue
			}
			attachments = append(attachments, Attachment{Filename: name, Size: n, MIMEType: ct})
		}
	}
}
