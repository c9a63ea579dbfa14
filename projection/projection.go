// Package projection is the HTTP administration client for the
// projections subsystem (§6): a thin REST client, kept deliberately
// on net/http rather than a third-party HTTP client, since nothing in
// the example pack reaches for one — idiomatic Go leans on net/http
// for this kind of small, low-traffic admin surface.
package projection

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/fkabongo/eventlogclient/client"
)

// Mode selects a built-in projection kind for Create.
type Mode string

const (
	ModeOneTime     Mode = "onetime"
	ModeContinuous  Mode = "continuous"
	ModeTransient   Mode = "transient"
)

// Result is the outcome of an administration call, mirroring the
// status-code taxonomy of §6.
type Result int

const (
	ResultCreated Result = iota
	ResultDeleted
	ResultAlreadyExists
	ResultNotFound
	ResultUnableToDelete
	ResultOK
)

func (r Result) String() string {
	switch r {
	case ResultCreated:
		return "Created"
	case ResultDeleted:
		return "Deleted"
	case ResultAlreadyExists:
		return "AlreadyExists"
	case ResultNotFound:
		return "NotFound"
	case ResultUnableToDelete:
		return "UnableToDelete"
	case ResultOK:
		return "OK"
	default:
		return "Unknown"
	}
}

// AdminError is returned for any non-2xx response that maps to one of
// the documented outcomes other than plain success.
type AdminError struct {
	Result Result
	Reason string
}

func (e *AdminError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("projection: %s: %s", e.Result, e.Reason)
	}
	return fmt.Sprintf("projection: %s", e.Result)
}

// Client administers projections over HTTP.
type Client struct {
	baseURL    string
	httpClient *http.Client
	login      string
	password   string
}

// Config configures a Client.
type Config struct {
	BaseURL  string
	Login    string
	Password string
	Timeout  time.Duration
}

// New builds a projection administration Client.
func New(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL:    cfg.BaseURL,
		httpClient: &http.Client{Timeout: timeout},
		login:      cfg.Login,
		password:   cfg.Password,
	}
}

// Create defines a new projection of the given mode, query, running
// its JS source.
func (c *Client) Create(ctx context.Context, mode Mode, name, query string, emitEnabled bool) (Result, error) {
	q := url.Values{}
	q.Set("name", name)
	q.Set("type", "JS")
	q.Set("emit", boolString(emitEnabled))
	res, body, err := c.do(ctx, http.MethodPost, fmt.Sprintf("/projections/%s?%s", mode, q.Encode()), []byte(query))
	if err != nil {
		return 0, err
	}
	switch res.StatusCode {
	case http.StatusCreated:
		return ResultCreated, nil
	case http.StatusConflict:
		return ResultAlreadyExists, &AdminError{Result: ResultAlreadyExists, Reason: string(body)}
	default:
		return 0, statusError(res, body)
	}
}

// Info is the decoded response of GET /projection/{name}.
type Info struct {
	Name      string `json:"name"`
	Status    string `json:"status"`
	Mode      string `json:"mode"`
	Enabled   bool   `json:"enabled"`
	Position  string `json:"position"`
}

// Describe fetches a projection's status.
func (c *Client) Describe(ctx context.Context, name string) (Info, Result, error) {
	res, body, err := c.do(ctx, http.MethodGet, "/projection/"+url.PathEscape(name), nil)
	if err != nil {
		return Info{}, 0, err
	}
	switch res.StatusCode {
	case http.StatusOK:
		var info Info
		if err := json.Unmarshal(body, &info); err != nil {
			return Info{}, 0, fmt.Errorf("projection: decode describe response: %w", err)
		}
		return info, ResultOK, nil
	case http.StatusNotFound:
		return Info{}, ResultNotFound, &AdminError{Result: ResultNotFound}
	default:
		return Info{}, 0, statusError(res, body)
	}
}

// State fetches a projection's current emitted state document.
func (c *Client) State(ctx context.Context, name string) (json.RawMessage, Result, error) {
	return c.fetchDocument(ctx, "/projection/"+url.PathEscape(name)+"/state")
}

// ResultOf fetches a projection's final result document (one-time and
// transient projections only).
func (c *Client) ResultOf(ctx context.Context, name string) (json.RawMessage, Result, error) {
	return c.fetchDocument(ctx, "/projection/"+url.PathEscape(name)+"/result")
}

func (c *Client) fetchDocument(ctx context.Context, path string) (json.RawMessage, Result, error) {
	res, body, err := c.do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, 0, err
	}
	switch res.StatusCode {
	case http.StatusOK:
		return json.RawMessage(body), ResultOK, nil
	case http.StatusNotFound:
		return nil, ResultNotFound, &AdminError{Result: ResultNotFound}
	default:
		return nil, 0, statusError(res, body)
	}
}

// Enable turns a disabled projection on.
func (c *Client) Enable(ctx context.Context, name string) (Result, error) {
	return c.command(ctx, name, "enable")
}

// Disable turns a projection off without deleting it.
func (c *Client) Disable(ctx context.Context, name string) (Result, error) {
	return c.command(ctx, name, "disable")
}

func (c *Client) command(ctx context.Context, name, command string) (Result, error) {
	res, body, err := c.do(ctx, http.MethodPost, fmt.Sprintf("/projection/%s/command/%s", url.PathEscape(name), command), nil)
	if err != nil {
		return 0, err
	}
	switch res.StatusCode {
	case http.StatusOK:
		return ResultOK, nil
	case http.StatusNotFound:
		return ResultNotFound, &AdminError{Result: ResultNotFound}
	default:
		return 0, statusError(res, body)
	}
}

// Delete removes a projection.
func (c *Client) Delete(ctx context.Context, name string) (Result, error) {
	res, body, err := c.do(ctx, http.MethodDelete, "/projection/"+url.PathEscape(name), nil)
	if err != nil {
		return 0, err
	}
	switch res.StatusCode {
	case http.StatusOK:
		return ResultDeleted, nil
	case http.StatusNotFound:
		return ResultNotFound, &AdminError{Result: ResultNotFound}
	case http.StatusConflict:
		return ResultUnableToDelete, &AdminError{Result: ResultUnableToDelete, Reason: string(body)}
	default:
		return 0, statusError(res, body)
	}
}

func (c *Client) do(ctx context.Context, method, path string, body []byte) (*http.Response, []byte, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, nil, fmt.Errorf("projection: build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.login != "" {
		req.SetBasicAuth(c.login, c.password)
	}
	res, err := c.httpClient.Do(req)
	if err != nil {
		return nil, nil, fmt.Errorf("projection: %s %s: %w", method, path, err)
	}
	defer res.Body.Close()
	respBody, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, nil, fmt.Errorf("projection: read response body: %w", err)
	}
	return res, respBody, nil
}

func statusError(res *http.Response, body []byte) error {
	if res.StatusCode == http.StatusUnauthorized {
		return client.ErrAccessDenied
	}
	return fmt.Errorf("projection: unexpected status %d: %s", res.StatusCode, string(body))
}

func boolString(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}
