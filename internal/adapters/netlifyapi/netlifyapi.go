// Package netlifyapi implements ports.DeployAPI against the Netlify REST API
// using the file digest deploy method.
package netlifyapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/mcdonaldj/sitedrop/internal/ports"
)

// DefaultBaseURL is the public Netlify API root.
const DefaultBaseURL = "https://api.netlify.com/api/v1"

// maxErrorBody caps how much of an error response is kept as detail.
const maxErrorBody = 4096

// Client talks to the Netlify API with a personal access token.
type Client struct {
	BaseURL    string
	Token      string
	HTTPClient *http.Client
}

// New returns a client. An empty baseURL means DefaultBaseURL.
func New(baseURL, token string) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{
		BaseURL: baseURL,
		Token:   token,
		// Per-call deadlines come from the caller's context.
		HTTPClient: &http.Client{},
	}
}

// Configured reports whether the client has a token to send.
func (c *Client) Configured() bool {
	return strings.TrimSpace(c.Token) != ""
}

type siteResponse struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	URL    string `json:"url"`
	SSLURL string `json:"ssl_url"`
}

type deployResponse struct {
	ID           string   `json:"id"`
	SiteID       string   `json:"site_id"`
	State        string   `json:"state"`
	Required     []string `json:"required"`
	SSLURL       string   `json:"ssl_url"`
	URL          string   `json:"url"`
	ErrorMessage string   `json:"error_message"`
}

func (d deployResponse) toPort() ports.Deploy {
	u := d.SSLURL
	if u == "" {
		u = d.URL
	}
	return ports.Deploy{
		ID:           d.ID,
		SiteID:       d.SiteID,
		State:        d.State,
		Required:     d.Required,
		URL:          u,
		ErrorMessage: d.ErrorMessage,
	}
}

func (c *Client) endpoint(path string) string {
	return strings.TrimRight(c.BaseURL, "/") + path
}

// CreateSite creates a new, empty site.
func (c *Client) CreateSite(ctx context.Context, name string) (ports.Site, error) {
	body := map[string]string{}
	if name != "" {
		body["name"] = name
	}
	var resp siteResponse
	if err := c.doJSON(ctx, "create site", http.MethodPost, "/sites", body, &resp); err != nil {
		return ports.Site{}, err
	}
	u := resp.SSLURL
	if u == "" {
		u = resp.URL
	}
	return ports.Site{ID: resp.ID, Name: resp.Name, URL: u}, nil
}

// CreateDeploy opens a file digest deploy. Manifest keys are sent with a
// leading slash as the API expects.
func (c *Client) CreateDeploy(ctx context.Context, siteID string, files map[string]string) (ports.Deploy, error) {
	if siteID == "" {
		return ports.Deploy{}, fmt.Errorf("site id required")
	}
	payload := struct {
		Files map[string]string `json:"files"`
	}{Files: make(map[string]string, len(files))}
	for p, digest := range files {
		payload.Files["/"+strings.TrimPrefix(p, "/")] = digest
	}

	var resp deployResponse
	if err := c.doJSON(ctx, "create deploy", http.MethodPost, "/sites/"+url.PathEscape(siteID)+"/deploys", payload, &resp); err != nil {
		return ports.Deploy{}, err
	}
	return resp.toPort(), nil
}

// UploadFile streams one file body into the deploy.
func (c *Client) UploadFile(ctx context.Context, deployID, path string, body io.Reader, size int64) error {
	if deployID == "" {
		return fmt.Errorf("deploy id required")
	}
	target := "/deploys/" + url.PathEscape(deployID) + "/files/" + escapePath(path)
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, c.endpoint(target), body)
	if err != nil {
		return fmt.Errorf("new request: %w", err)
	}
	req.ContentLength = size
	if size == 0 {
		req.Body = http.NoBody
	}
	req.Header.Set("Content-Type", "application/octet-stream")
	return c.do(req, "upload "+path, nil)
}

// GetDeploy returns the current deploy state.
func (c *Client) GetDeploy(ctx context.Context, deployID string) (ports.Deploy, error) {
	var resp deployResponse
	if err := c.doJSON(ctx, "get deploy", http.MethodGet, "/deploys/"+url.PathEscape(deployID), nil, &resp); err != nil {
		return ports.Deploy{}, err
	}
	return resp.toPort(), nil
}

func (c *Client) doJSON(ctx context.Context, op, method, path string, body any, out any) error {
	var payload io.Reader
	if body != nil {
		buf := &bytes.Buffer{}
		if err := json.NewEncoder(buf).Encode(body); err != nil {
			return fmt.Errorf("encode json: %w", err)
		}
		payload = buf
	}

	req, err := http.NewRequestWithContext(ctx, method, c.endpoint(path), payload)
	if err != nil {
		return fmt.Errorf("new request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return c.do(req, op, out)
}

func (c *Client) do(req *http.Request, op string, out any) error {
	if c.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.Token)
	}
	req.Header.Set("Accept", "application/json")

	client := c.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return &ports.RemoteError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &ports.RemoteError{
			Op:         op,
			StatusCode: resp.StatusCode,
			Detail:     errorDetail(data, resp.Status),
			RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After"), time.Now()),
		}
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &ports.RemoteError{Op: op, StatusCode: resp.StatusCode, Detail: "malformed response", Err: fmt.Errorf("decode json: %w", err)}
	}
	return nil
}

// errorDetail prefers the "message" field of a JSON error body.
func errorDetail(body []byte, status string) string {
	var parsed struct {
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	if json.Unmarshal(body, &parsed) == nil {
		if parsed.Message != "" {
			return parsed.Message
		}
		if parsed.Error != "" {
			return parsed.Error
		}
	}
	msg := strings.TrimSpace(string(body))
	if msg == "" {
		return status
	}
	return msg
}

// parseRetryAfter accepts delta-seconds or an HTTP date.
func parseRetryAfter(v string, now time.Time) time.Duration {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil {
		if secs < 0 {
			return 0
		}
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := t.Sub(now); d > 0 {
			return d
		}
	}
	return 0
}

func escapePath(p string) string {
	parts := strings.Split(strings.TrimPrefix(p, "/"), "/")
	for i, part := range parts {
		parts[i] = url.PathEscape(part)
	}
	return strings.Join(parts, "/")
}

// Compile-time check that Client implements ports.DeployAPI.
var _ ports.DeployAPI = (*Client)(nil)
