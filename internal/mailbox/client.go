// Package mailbox is the client for the mailbox admin surface: mailbox
// lookup and archive enablement.
package mailbox

import (
	"context"
	"fmt"
	"net/url"

	"github.com/bulkprov/bulkprov/internal/backend"
)

// Mailbox is the provisioned mailbox resource for an identity.
type Mailbox struct {
	Identity             string `json:"identity"`
	PrimarySMTPAddress   string `json:"primarySmtpAddress"`
	ArchiveStatus        string `json:"archiveStatus,omitempty"`
	AutoExpandingArchive bool   `json:"autoExpandingArchiveEnabled"`
}

// Client issues mailbox API calls over an authenticated session.
type Client struct {
	session *backend.Session
}

// NewClient wraps an established mailbox session.
func NewClient(session *backend.Session) *Client {
	return &Client{session: session}
}

// FindMailbox looks up the mailbox for a principal name.
// Returns backend.ErrNotFound while the mailbox has not been provisioned.
func (c *Client) FindMailbox(ctx context.Context, upn string) (*Mailbox, error) {
	var mbx Mailbox
	path := fmt.Sprintf("/mailboxes/%s", url.PathEscape(upn))
	if err := c.session.Do(ctx, "GET", path, nil, &mbx); err != nil {
		return nil, err
	}
	return &mbx, nil
}

// EnableArchive turns on the base archive for a mailbox.
func (c *Client) EnableArchive(ctx context.Context, upn string) error {
	path := fmt.Sprintf("/mailboxes/%s/enable-archive", url.PathEscape(upn))
	if err := c.session.Do(ctx, "POST", path, nil, nil); err != nil {
		return fmt.Errorf("enable archive for %s: %w", upn, err)
	}
	return nil
}

// EnableAutoExpandingArchive turns on auto-expanding archive capacity.
// Only valid once the base archive is active; callers treat failure as
// best-effort.
func (c *Client) EnableAutoExpandingArchive(ctx context.Context, upn string) error {
	path := fmt.Sprintf("/mailboxes/%s/enable-auto-expanding-archive", url.PathEscape(upn))
	if err := c.session.Do(ctx, "POST", path, nil, nil); err != nil {
		return fmt.Errorf("enable auto-expanding archive for %s: %w", upn, err)
	}
	return nil
}
