// Package crm is the GraphQL client for the external contact CRM.
package crm

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/matheus3301/mirror/internal/source"
	"github.com/tidwall/gjson"
	"go.uber.org/zap"
)

const contactsQuery = `query Contacts($offset: Int!, $limit: Int!) {
  contacts(offset: $offset, limit: $limit) {
    id firstName lastName email company
    instagramHandle whatsappPhone phones socialHandles updatedAt
  }
}`

const updateContactMutation = `mutation UpdateContact($id: ID!, $input: ContactInput!) {
  updateContact(id: $id, input: $input) { id }
}`

// Client queries the CRM's GraphQL endpoint.
type Client struct {
	endpoint string
	token    string
	http     *http.Client
	logger   *zap.Logger
}

// New creates a client. A nil httpClient selects a client with a 30s timeout.
func New(endpoint, token string, httpClient *http.Client, logger *zap.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{endpoint: endpoint, token: token, http: httpClient, logger: logger}
}

var _ source.ContactSource = (*Client)(nil)

// ListContacts returns up to limit contacts starting at offset.
func (c *Client) ListContacts(ctx context.Context, offset, limit int) ([]source.ContactRecord, error) {
	data, err := c.query(ctx, "list contacts", contactsQuery, map[string]any{"offset": offset, "limit": limit})
	if err != nil {
		return nil, err
	}
	var out []source.ContactRecord
	data.Get("contacts").ForEach(func(_, v gjson.Result) bool {
		rec := source.ContactRecord{
			ExternalID: v.Get("id").String(),
			FirstName:  v.Get("firstName").String(),
			LastName:   v.Get("lastName").String(),
			Email:      v.Get("email").String(),
			Company:    v.Get("company").String(),
			Handle:     v.Get("instagramHandle").String(),
			Phone:      v.Get("whatsappPhone").String(),
		}
		for _, p := range v.Get("phones").Array() {
			rec.Phones = append(rec.Phones, p.String())
		}
		for _, h := range v.Get("socialHandles").Array() {
			rec.SocialHandles = append(rec.SocialHandles, h.String())
		}
		if ts := v.Get("updatedAt").String(); ts != "" {
			// Unparseable timestamps stay zero and never look newer than a pull.
			t, err := time.Parse(time.RFC3339, ts)
			if err != nil {
				c.logger.Warn("unparseable contact updatedAt",
					zap.String("external_id", rec.ExternalID),
					zap.String("updated_at", ts),
					zap.Error(err))
			}
			rec.UpdatedAt = t
		}
		out = append(out, rec)
		return true
	})
	return out, nil
}

// UpdateContact pushes locally edited fields for the CRM record externalID.
func (c *Client) UpdateContact(ctx context.Context, externalID string, f source.ContactFields) error {
	input := map[string]any{
		"firstName":       f.FirstName,
		"lastName":        f.LastName,
		"email":           f.Email,
		"company":         f.Company,
		"instagramHandle": f.Handle,
		"whatsappPhone":   f.Phone,
		"notes":           f.Notes,
	}
	data, err := c.query(ctx, "update contact", updateContactMutation, map[string]any{"id": externalID, "input": input})
	if err != nil {
		return err
	}
	if !data.Get("updateContact.id").Exists() {
		return &source.TransportError{Op: "update contact", Message: "contact " + externalID + " not updated"}
	}
	return nil
}

// query posts a GraphQL document and returns the "data" member of the response.
// GraphQL-level errors are reported as transport errors carrying the first message.
func (c *Client) query(ctx context.Context, op, doc string, vars map[string]any) (gjson.Result, error) {
	payload, err := json.Marshal(map[string]any{"query": doc, "variables": vars})
	if err != nil {
		return gjson.Result{}, &source.TransportError{Op: op, Message: err.Error()}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(payload))
	if err != nil {
		return gjson.Result{}, &source.TransportError{Op: op, Message: err.Error()}
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return gjson.Result{}, &source.TransportError{Op: op, Message: err.Error()}
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 16<<20))
	if err != nil {
		return gjson.Result{}, &source.TransportError{Op: op, Status: resp.StatusCode, Message: err.Error()}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg := gjson.GetBytes(body, "errors.0.message").String()
		if msg == "" {
			msg = strings.TrimSpace(string(body))
		}
		return gjson.Result{}, &source.TransportError{Op: op, Status: resp.StatusCode, Message: msg}
	}
	if !gjson.ValidBytes(body) {
		return gjson.Result{}, &source.TransportError{Op: op, Status: resp.StatusCode, Message: "invalid JSON response"}
	}
	if msg := gjson.GetBytes(body, "errors.0.message"); msg.Exists() {
		return gjson.Result{}, &source.TransportError{Op: op, Status: resp.StatusCode, Message: msg.String()}
	}
	return gjson.GetBytes(body, "data"), nil
}
