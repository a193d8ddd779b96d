package hubspot

import (
	"context"
	"net/http"
	"net/url"
)

// ListForms returns every form of the portal.
func (c *Client) ListForms(ctx context.Context) ([]Form, error) {
	var forms []Form
	err := c.do(ctx, call{op: "forms.list", method: http.MethodGet, url: c.api("forms/v2/forms"), expect: http.StatusOK, out: &forms})
	return forms, err
}

// GetForm fetches one form. A missing form is an errs.NotFound error.
func (c *Client) GetForm(ctx context.Context, guid string) (*Form, error) {
	var form Form
	err := c.do(ctx, call{op: "forms.get", method: http.MethodGet, url: c.api("forms/v2/forms/" + url.PathEscape(guid)), expect: http.StatusOK, out: &form})
	if err != nil {
		return nil, err
	}
	return &form, nil
}

// CreateForm creates form and returns the stored version with its GUID.
func (c *Client) CreateForm(ctx context.Context, form *Form) (*Form, error) {
	var created Form
	err := c.do(ctx, call{op: "forms.create", method: http.MethodPost, url: c.api("forms/v2/forms"), body: form, expect: http.StatusOK, out: &created})
	if err != nil {
		return nil, err
	}
	return &created, nil
}

// UpdateForm replaces the definition of guid. The API updates with POST.
func (c *Client) UpdateForm(ctx context.Context, guid string, form *Form) (*Form, error) {
	var updated Form
	err := c.do(ctx, call{op: "forms.update", method: http.MethodPost, url: c.api("forms/v2/forms/" + url.PathEscape(guid)), body: form, expect: http.StatusOK, out: &updated})
	if err != nil {
		return nil, err
	}
	return &updated, nil
}

// DeleteForm deletes guid; success is 204.
func (c *Client) DeleteForm(ctx context.Context, guid string) error {
	return c.do(ctx, call{op: "forms.delete", method: http.MethodDelete, url: c.api("forms/v2/forms/" + url.PathEscape(guid)), expect: http.StatusNoContent})
}
