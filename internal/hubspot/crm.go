package hubspot

import (
	"context"
	"net/http"
	"net/url"
)

// ListPropertyGroups returns contact property groups with their properties.
func (c *Client) ListPropertyGroups(ctx context.Context) ([]PropertyGroup, error) {
	var groups []PropertyGroup
	err := c.do(ctx, call{
		op:     "properties.groups",
		method: http.MethodGet,
		url:    c.api("properties/v1/contacts/groups/?includeProperties=true"),
		expect: http.StatusOK,
		out:    &groups,
	})
	return groups, err
}

// ListOwners returns up to 500 owners.
func (c *Client) ListOwners(ctx context.Context) ([]Owner, error) {
	var page struct {
		Results []Owner `json:"results"`
	}
	err := c.do(ctx, call{op: "owners.list", method: http.MethodGet, url: c.api("crm/v3/owners?limit=500"), expect: http.StatusOK, out: &page})
	return page.Results, err
}

// ListContacts returns the first page of contacts. The bridge uses it as a
// cheap authenticated call to test the connection.
func (c *Client) ListContacts(ctx context.Context) ([]Contact, error) {
	var page struct {
		Contacts []Contact `json:"contacts"`
	}
	err := c.do(ctx, call{op: "contacts.list", method: http.MethodGet, url: c.api("contacts/v1/lists/all/contacts/all"), expect: http.StatusOK, out: &page})
	return page.Contacts, err
}

// SubmitForm posts a submission to the forms host.
func (c *Client) SubmitForm(ctx context.Context, portalID, guid string, sub Submission) (*SubmitResult, error) {
	var res SubmitResult
	err := c.do(ctx, call{
		op:     "forms.submit",
		method: http.MethodPost,
		url:    c.formsBase + "/submissions/v3/integration/submit/" + url.PathEscape(portalID) + "/" + url.PathEscape(guid),
		body:   sub,
		expect: http.StatusOK,
		out:    &res,
	})
	if err != nil {
		return nil, err
	}
	return &res, nil
}

// RevokeToken invalidates refreshToken; success is 204.
func (c *Client) RevokeToken(ctx context.Context, refreshToken string) error {
	return c.do(ctx, call{
		op:     "oauth.revoke",
		method: http.MethodDelete,
		url:    c.api("oauth/v1/refresh-tokens/" + url.PathEscape(refreshToken)),
		expect: http.StatusNoContent,
		plain:  true,
	})
}
