package catalog

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"golang.org/x/time/rate"
)

// DefaultTimeout bounds a single API call.
const DefaultTimeout = 30 * time.Second

// maxErrorBody caps how much of an error response is read into messages.
const maxErrorBody = 4 << 10

// APIError is returned for non-2xx responses other than 409 on create.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("catalog api: status %d", e.StatusCode)
	}
	return fmt.Sprintf("catalog api: status %d: %s", e.StatusCode, e.Message)
}

// Config configures a Client.
type Config struct {
	BaseURL string
	Timeout time.Duration

	// RatePerSecond throttles outgoing calls; 0 disables throttling.
	RatePerSecond float64
	Burst         int

	// HTTPClient overrides the default client (tests).
	HTTPClient *http.Client
}

// Client talks to the remote catalog API.
type Client struct {
	base    *url.URL
	http    *http.Client
	limiter *rate.Limiter
}

// New creates a Client for the API rooted at cfg.BaseURL.
func New(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, errors.New("catalog: base URL is required")
	}
	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil {
		return nil, errors.Wrap(err, "catalog: parse base URL")
	}

	hc := cfg.HTTPClient
	if hc == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = DefaultTimeout
		}
		hc = &http.Client{Timeout: timeout}
	}

	c := &Client{base: base, http: hc}
	if cfg.RatePerSecond > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSecond), burst)
	}
	return c, nil
}

// CreateVariant creates a Variant.
func (c *Client) CreateVariant(ctx context.Context, in VariantInput) (CreateOutcome, error) {
	return c.create(ctx, KindVariant, in)
}

// CreateSpecificVariant creates a SpecificVariant under in.VariantID.
func (c *Client) CreateSpecificVariant(ctx context.Context, in SpecificVariantInput) (CreateOutcome, error) {
	return c.create(ctx, KindSpecificVariant, in)
}

// CreateProduct creates a Product under in.SpecificVariantID.
func (c *Client) CreateProduct(ctx context.Context, in ProductInput) (CreateOutcome, error) {
	return c.create(ctx, KindProduct, in)
}

// FindVariant looks up a Variant by exact name. Returns nil if none matches.
func (c *Client) FindVariant(ctx context.Context, name string) (*Entity, error) {
	q := url.Values{"name": {name}}
	return c.findByName(ctx, KindVariant, q, name)
}

// FindSpecificVariant looks up a SpecificVariant by parent id and exact name.
func (c *Client) FindSpecificVariant(ctx context.Context, variantID, name string) (*Entity, error) {
	q := url.Values{"name": {name}, "variantId": {variantID}}
	return c.findByName(ctx, KindSpecificVariant, q, name)
}

// List returns every record of a collection as raw JSON objects.
func (c *Client) List(ctx context.Context, kind Kind) ([]json.RawMessage, error) {
	env, status, err := c.do(ctx, http.MethodGet, c.endpoint(kind, nil), nil)
	if err != nil {
		return nil, err
	}
	if status < 200 || status > 299 {
		return nil, &APIError{StatusCode: status, Message: env.Message}
	}
	if !env.hasData() {
		return []json.RawMessage{}, nil
	}

	var items []json.RawMessage
	if err := jsonAPI.Unmarshal(env.Data, &items); err != nil {
		return nil, errors.Wrapf(err, "catalog: decode %s list", kind)
	}
	return items, nil
}

func (c *Client) create(ctx context.Context, kind Kind, payload any) (CreateOutcome, error) {
	body, err := jsonAPI.Marshal(payload)
	if err != nil {
		return CreateOutcome{}, errors.Wrapf(err, "catalog: encode %s payload", kind)
	}

	env, status, err := c.do(ctx, http.MethodPost, c.endpoint(kind, nil), body)
	if err != nil {
		return CreateOutcome{}, err
	}

	switch {
	case status == http.StatusConflict:
		out := CreateOutcome{Status: AlreadyExists, Message: env.Message}
		if env.hasData() {
			var ent Entity
			if err := jsonAPI.Unmarshal(env.Data, &ent); err == nil && ent.ID != "" {
				out.Entity = &ent
			}
		}
		return out, nil
	case status < 200 || status > 299:
		return CreateOutcome{}, &APIError{StatusCode: status, Message: env.Message}
	}

	if !env.hasData() {
		return CreateOutcome{Status: Failed, Message: env.Message}, nil
	}
	var ent Entity
	if err := jsonAPI.Unmarshal(env.Data, &ent); err != nil {
		return CreateOutcome{}, errors.Wrapf(err, "catalog: decode created %s", kind)
	}
	return CreateOutcome{Status: Created, Entity: &ent, Message: env.Message}, nil
}

func (c *Client) findByName(ctx context.Context, kind Kind, q url.Values, name string) (*Entity, error) {
	env, status, err := c.do(ctx, http.MethodGet, c.endpoint(kind, q), nil)
	if err != nil {
		return nil, err
	}
	if status == http.StatusNotFound {
		return nil, nil
	}
	if status < 200 || status > 299 {
		return nil, &APIError{StatusCode: status, Message: env.Message}
	}
	if !env.hasData() {
		return nil, nil
	}

	var items []Entity
	if err := jsonAPI.Unmarshal(env.Data, &items); err != nil {
		// Some deployments answer a name query with a single object.
		var one Entity
		if err2 := jsonAPI.Unmarshal(env.Data, &one); err2 != nil {
			return nil, errors.Wrapf(err, "catalog: decode %s lookup", kind)
		}
		items = []Entity{one}
	}
	for i := range items {
		if items[i].Name == name && items[i].ID != "" {
			return &items[i], nil
		}
	}
	return nil, nil
}

func (c *Client) endpoint(kind Kind, q url.Values) string {
	u := *c.base
	u.Path = u.Path + "/" + string(kind)
	if q != nil {
		u.RawQuery = q.Encode()
	}
	return u.String()
}

// do performs one request and decodes the envelope. Transport failures and
// undecodable 2xx bodies are errors; other statuses are returned to the caller.
func (c *Client) do(ctx context.Context, method, target string, body []byte) (envelope, int, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return envelope{}, 0, errors.Wrap(err, "catalog: rate limit wait")
		}
	}

	var rdr io.Reader
	if body != nil {
		rdr = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, rdr)
	if err != nil {
		return envelope{}, 0, errors.Wrap(err, "catalog: build request")
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return envelope{}, 0, errors.Wrapf(err, "catalog: %s %s", method, req.URL.Path)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return envelope{}, resp.StatusCode, errors.Wrap(err, "catalog: read response")
	}

	var env envelope
	if len(bytes.TrimSpace(raw)) > 0 {
		if err := jsonAPI.Unmarshal(raw, &env); err != nil {
			if resp.StatusCode >= 200 && resp.StatusCode <= 299 {
				return envelope{}, resp.StatusCode, errors.Wrap(err, "catalog: decode response")
			}
			// Non-JSON error page: keep a bounded snippet as the message.
			if len(raw) > maxErrorBody {
				raw = raw[:maxErrorBody]
			}
			env.Message = strings.TrimSpace(string(raw))
		}
	}
	return env, resp.StatusCode, nil
}
