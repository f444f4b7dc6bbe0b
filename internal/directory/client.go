// Package directory is the client for the cloud identity surface: user
// lookup and creation, usage location, subscribed SKUs and license
// assignment.
package directory

import (
	"context"
	"fmt"
	"net/url"

	"github.com/bulkprov/bulkprov/internal/backend"
)

// Client issues directory API calls over an authenticated session.
type Client struct {
	session *backend.Session
}

// NewClient wraps an established directory session.
func NewClient(session *backend.Session) *Client {
	return &Client{session: session}
}

// FindUser looks up an identity by principal name.
// Returns backend.ErrNotFound when no identity exists.
func (c *Client) FindUser(ctx context.Context, upn string) (*User, error) {
	var user User
	path := fmt.Sprintf("/users/%s", url.PathEscape(upn))
	if err := c.session.Do(ctx, "GET", path, nil, &user); err != nil {
		return nil, err
	}
	return &user, nil
}

// CreateUser provisions a new identity.
func (c *Client) CreateUser(ctx context.Context, req CreateUserRequest) (*User, error) {
	var user User
	if err := c.session.Do(ctx, "POST", "/users", req, &user); err != nil {
		return nil, fmt.Errorf("create user %s: %w", req.UserPrincipalName, err)
	}
	return &user, nil
}

// SetUsageLocation patches the regional code required before licensing.
func (c *Client) SetUsageLocation(ctx context.Context, upn, code string) error {
	path := fmt.Sprintf("/users/%s", url.PathEscape(upn))
	body := map[string]string{"usageLocation": code}
	if err := c.session.Do(ctx, "PATCH", path, body, nil); err != nil {
		return fmt.Errorf("set usage location for %s: %w", upn, err)
	}
	return nil
}

// ListSubscribedSKUs returns the tenant's license pools.
func (c *Client) ListSubscribedSKUs(ctx context.Context) ([]SubscribedSKU, error) {
	var list skuList
	if err := c.session.Do(ctx, "GET", "/subscribedSkus", nil, &list); err != nil {
		return nil, fmt.Errorf("list subscribed SKUs: %w", err)
	}
	return list.Value, nil
}

// AssignLicenses adds and removes license SKUs on an identity in one call.
func (c *Client) AssignLicenses(ctx context.Context, upn string, add, remove []string) error {
	req := assignLicenseRequest{
		AddLicenses:    make([]assignedLicense, 0, len(add)),
		RemoveLicenses: remove,
	}
	if req.RemoveLicenses == nil {
		req.RemoveLicenses = []string{}
	}
	for _, skuID := range add {
		req.AddLicenses = append(req.AddLicenses, assignedLicense{SKUID: skuID})
	}

	path := fmt.Sprintf("/users/%s/assignLicense", url.PathEscape(upn))
	if err := c.session.Do(ctx, "POST", path, req, nil); err != nil {
		return fmt.Errorf("assign licenses to %s: %w", upn, err)
	}
	return nil
}
