package crm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"
)

// DefaultBaseURL is the CRM REST API root.
const DefaultBaseURL = "https://www.zohoapis.com/bigin/v1"

// defaultRequestTimeout bounds each CRM API call.
const defaultRequestTimeout = 30 * time.Second

// Contact is a CRM contact record.
type Contact struct {
	FirstName string `json:"First_Name,omitempty"`
	LastName  string `json:"Last_Name"`
	Mobile    string `json:"Mobile,omitempty"`
}

// Deal is a CRM pipeline record.
type Deal struct {
	Name        string  `json:"Deal_Name"`
	Pipeline    string  `json:"Pipeline,omitempty"`
	Stage       string  `json:"Stage,omitempty"`
	Amount      float64 `json:"Amount,omitempty"`
	Description string  `json:"Description,omitempty"`
	ContactID   string  `json:"-"`
	OwnerID     string  `json:"-"`
}

// DealUpdate carries the fields updated after pricing completes.
type DealUpdate struct {
	Stage       string
	Amount      float64
	Description string
}

// API is the subset of CRM operations used by the sync pipeline.
type API interface {
	FindContactByPhone(ctx context.Context, phone string) (string, error)
	CreateContact(ctx context.Context, c Contact) (string, error)
	UpdateContact(ctx context.Context, id string, c Contact) error
	CreateDeal(ctx context.Context, d Deal) (string, error)
	UpdateDeal(ctx context.Context, id string, u DealUpdate) error
	CreateNote(ctx context.Context, dealID, title, content string) (string, error)
	CheckToken(ctx context.Context) error
}

// Client talks to the CRM REST API.
type Client struct {
	baseURL    string
	tokens     *TokenProvider
	httpClient *http.Client
}

var _ API = (*Client)(nil)

// ClientOpts holds configuration options for the CRM client.
type ClientOpts struct {
	BaseURL    string
	Tokens     *TokenProvider
	HTTPClient *http.Client
}

// ClientOption defines a configuration option for the CRM client.
type ClientOption func(*ClientOpts)

// WithBaseURL overrides the API root (used in tests).
func WithBaseURL(u string) ClientOption {
	return func(o *ClientOpts) { o.BaseURL = u }
}

// WithTokenProvider sets the access-token source.
func WithTokenProvider(tp *TokenProvider) ClientOption {
	return func(o *ClientOpts) { o.Tokens = tp }
}

// WithHTTPClient injects a custom HTTP client.
func WithHTTPClient(c *http.Client) ClientOption {
	return func(o *ClientOpts) { o.HTTPClient = c }
}

// NewClient creates a CRM client.
func NewClient(opts ...ClientOption) *Client {
	var cfg ClientOpts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: defaultRequestTimeout}
	}
	if cfg.Tokens == nil {
		cfg.Tokens = NewTokenProvider()
	}
	slog.Debug("CRM client created", "baseURL", cfg.BaseURL)
	return &Client{baseURL: cfg.BaseURL, tokens: cfg.Tokens, httpClient: cfg.HTTPClient}
}

// recordEnvelope is the {"data": [...]} wrapper the CRM uses on writes.
type recordEnvelope struct {
	Data []map[string]any `json:"data"`
}

type writeResult struct {
	Data []struct {
		Code    string `json:"code"`
		Status  string `json:"status"`
		Details struct {
			ID string `json:"id"`
		} `json:"details"`
	} `json:"data"`
}

// do performs one authenticated request, retrying once after a 401 with a
// freshly refreshed token. The response body is returned for 2xx statuses;
// 204 and 304 yield a nil body.
func (c *Client) do(ctx context.Context, method, path string, body []byte) ([]byte, error) {
	var lastStatus int
	for attempt := 0; attempt < 2; attempt++ {
		token, err := c.tokens.Token(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to obtain CRM token: %w", err)
		}

		var reader io.Reader
		if body != nil {
			reader = bytes.NewReader(body)
		}
		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
		if err != nil {
			return nil, fmt.Errorf("failed to build CRM request: %w", err)
		}
		req.Header.Set("Authorization", "Zoho-oauthtoken "+token)
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return nil, fmt.Errorf("CRM request failed: %w", err)
		}
		respBody, readErr := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
		resp.Body.Close()
		if readErr != nil {
			return nil, fmt.Errorf("failed to read CRM response: %w", readErr)
		}

		lastStatus = resp.StatusCode
		switch {
		case resp.StatusCode == http.StatusUnauthorized:
			slog.Warn("CRM request unauthorized, refreshing token", "method", method, "path", path, "attempt", attempt)
			c.tokens.Invalidate()
			continue
		case resp.StatusCode == http.StatusNoContent || resp.StatusCode == http.StatusNotModified:
			return nil, nil
		case resp.StatusCode >= 400:
			slog.Error("CRM request rejected", "method", method, "path", path, "status", resp.StatusCode)
			return nil, fmt.Errorf("CRM request %s %s rejected with status %d", method, path, resp.StatusCode)
		default:
			return respBody, nil
		}
	}
	return nil, fmt.Errorf("CRM request %s %s unauthorized after token refresh (status %d)", method, path, lastStatus)
}

// writeRecord posts or puts one record and returns its id.
func (c *Client) writeRecord(ctx context.Context, method, path string, record map[string]any) (string, error) {
	payload, err := json.Marshal(recordEnvelope{Data: []map[string]any{record}})
	if err != nil {
		return "", fmt.Errorf("failed to marshal CRM record: %w", err)
	}
	respBody, err := c.do(ctx, method, path, payload)
	if err != nil {
		return "", err
	}
	var res writeResult
	if err := json.Unmarshal(respBody, &res); err != nil {
		return "", fmt.Errorf("failed to decode CRM write response: %w", err)
	}
	if len(res.Data) == 0 {
		return "", fmt.Errorf("CRM write response contained no records")
	}
	if res.Data[0].Status != "" && res.Data[0].Status != "success" {
		return "", fmt.Errorf("CRM write failed with code %s", res.Data[0].Code)
	}
	return res.Data[0].Details.ID, nil
}

// FindContactByPhone searches contacts by mobile number. It returns the
// record id, or the empty string when no contact matches.
func (c *Client) FindContactByPhone(ctx context.Context, phone string) (string, error) {
	criteria := url.QueryEscape(fmt.Sprintf("(Mobile:equals:%s)", phone))
	respBody, err := c.do(ctx, http.MethodGet, "/Contacts/search?criteria="+criteria, nil)
	if err != nil {
		return "", err
	}
	if respBody == nil {
		// 204: no matching records.
		return "", nil
	}
	var res struct {
		Data []struct {
			ID string `json:"id"`
		} `json:"data"`
	}
	if err := json.Unmarshal(respBody, &res); err != nil {
		return "", fmt.Errorf("failed to decode CRM search response: %w", err)
	}
	if len(res.Data) == 0 {
		return "", nil
	}
	return res.Data[0].ID, nil
}

// CreateContact creates a contact record and returns its id.
func (c *Client) CreateContact(ctx context.Context, contact Contact) (string, error) {
	record := map[string]any{"Last_Name": contact.LastName}
	if contact.FirstName != "" {
		record["First_Name"] = contact.FirstName
	}
	if contact.Mobile != "" {
		record["Mobile"] = contact.Mobile
	}
	id, err := c.writeRecord(ctx, http.MethodPost, "/Contacts", record)
	if err != nil {
		return "", fmt.Errorf("failed to create CRM contact: %w", err)
	}
	slog.Info("CRM contact created", "contactID", id)
	return id, nil
}

// UpdateContact updates an existing contact record.
func (c *Client) UpdateContact(ctx context.Context, id string, contact Contact) error {
	record := map[string]any{"Last_Name": contact.LastName}
	if contact.FirstName != "" {
		record["First_Name"] = contact.FirstName
	}
	if contact.Mobile != "" {
		record["Mobile"] = contact.Mobile
	}
	if _, err := c.writeRecord(ctx, http.MethodPut, "/Contacts/"+id, record); err != nil {
		return fmt.Errorf("failed to update CRM contact %s: %w", id, err)
	}
	slog.Debug("CRM contact updated", "contactID", id)
	return nil
}

// CreateDeal creates a pipeline record and returns its id.
func (c *Client) CreateDeal(ctx context.Context, d Deal) (string, error) {
	record := map[string]any{"Deal_Name": d.Name}
	if d.Pipeline != "" {
		record["Pipeline"] = d.Pipeline
	}
	if d.Stage != "" {
		record["Stage"] = d.Stage
	}
	if d.Amount != 0 {
		record["Amount"] = d.Amount
	}
	if d.Description != "" {
		record["Description"] = d.Description
	}
	if d.ContactID != "" {
		record["Contact_Name"] = map[string]any{"id": d.ContactID}
	}
	if d.OwnerID != "" {
		record["Owner"] = map[string]any{"id": d.OwnerID}
	}
	id, err := c.writeRecord(ctx, http.MethodPost, "/Deals", record)
	if err != nil {
		return "", fmt.Errorf("failed to create CRM deal: %w", err)
	}
	slog.Info("CRM deal created", "dealID", id, "name", d.Name)
	return id, nil
}

// UpdateDeal applies a stage/amount/description update to a deal.
func (c *Client) UpdateDeal(ctx context.Context, id string, u DealUpdate) error {
	record := map[string]any{}
	if u.Stage != "" {
		record["Stage"] = u.Stage
	}
	if u.Amount != 0 {
		record["Amount"] = u.Amount
	}
	if u.Description != "" {
		record["Description"] = u.Description
	}
	if _, err := c.writeRecord(ctx, http.MethodPut, "/Deals/"+id, record); err != nil {
		return fmt.Errorf("failed to update CRM deal %s: %w", id, err)
	}
	slog.Debug("CRM deal updated", "dealID", id, "stage", u.Stage)
	return nil
}

// CreateNote attaches a note to a deal and returns the note id.
func (c *Client) CreateNote(ctx context.Context, dealID, title, content string) (string, error) {
	record := map[string]any{
		"Note_Title":   title,
		"Note_Content": content,
		"Parent_Id":    map[string]any{"id": dealID},
		"se_module":    "Deals",
	}
	id, err := c.writeRecord(ctx, http.MethodPost, "/Notes", record)
	if err != nil {
		return "", fmt.Errorf("failed to create CRM note on deal %s: %w", dealID, err)
	}
	slog.Debug("CRM note created", "dealID", dealID, "noteID", id)
	return id, nil
}

// CheckToken verifies that credentials are usable by fetching a token and
// issuing a cheap read against the API.
func (c *Client) CheckToken(ctx context.Context) error {
	if _, err := c.tokens.Token(ctx); err != nil {
		return err
	}
	if _, err := c.do(ctx, http.MethodGet, "/Contacts?per_page=1", nil); err != nil {
		return fmt.Errorf("CRM token check failed: %w", err)
	}
	return nil
}
