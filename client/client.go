// Package client is the Go client for the autopilot server: session
// lifecycle calls plus the UI command poll/ack cycle.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

type Client struct {
	BaseURL string
	HTTP    *http.Client
	APIKey  string
	Project string
}

type Option func(*Client)

func WithAPIKey(key string) Option {
	return func(c *Client) {
		c.APIKey = strings.TrimSpace(key)
	}
}

func WithProject(project string) Option {
	return func(c *Client) {
		c.Project = strings.TrimSpace(project)
	}
}

func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		if httpClient != nil {
			c.HTTP = httpClient
		}
	}
}

func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		HTTP:    &http.Client{Timeout: 10 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type Session struct {
	ID                 string          `json:"id"`
	Project            string          `json:"projectId"`
	Prompt             string          `json:"prompt"`
	Options            json.RawMessage `json:"options,omitempty"`
	UISessionID        string          `json:"uiSessionId,omitempty"`
	Status             string          `json:"status"`
	CancellationReason string          `json:"cancellationReason,omitempty"`
	Messages           []Message       `json:"messages"`
	CreatedAt          string          `json:"createdAt"`
	UpdatedAt          string          `json:"updatedAt"`
}

type Message struct {
	ID        string            `json:"id"`
	SessionID string            `json:"sessionId"`
	Seq       uint64            `json:"seq"`
	Body      string            `json:"message"`
	Kind      string            `json:"kind,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	CreatedAt string            `json:"createdAt"`
}

type Command struct {
	ID           int64           `json:"id"`
	Project      string          `json:"projectId"`
	SessionID    string          `json:"sessionId"`
	Type         string          `json:"type"`
	Payload      json.RawMessage `json:"payload"`
	Meta         json.RawMessage `json:"meta"`
	Acknowledged bool            `json:"acknowledged"`
	CreatedAt    string          `json:"createdAt"`
}

type sessionEnvelope struct {
	Success bool    `json:"success"`
	Session Session `json:"session"`
	Error   string  `json:"error"`
	Details string  `json:"details"`
}

type StartSessionRequest struct {
	Prompt      string          `json:"prompt"`
	Options     json.RawMessage `json:"options,omitempty"`
	UISessionID string          `json:"uiSessionId,omitempty"`
}

func (c *Client) StartSession(ctx context.Context, req StartSessionRequest) (Session, error) {
	body := map[string]any{
		"projectId":   c.Project,
		"prompt":      req.Prompt,
		"options":     req.Options,
		"uiSessionId": req.UISessionID,
	}
	resp, err := c.postJSON(ctx, "/agent/autopilot", body)
	if err != nil {
		return Session{}, err
	}
	defer resp.Body.Close()
	var out sessionEnvelope
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return Session{}, err
	}
	if resp.StatusCode != http.StatusAccepted {
		return Session{}, fmt.Errorf("start session failed: %d %s", resp.StatusCode, out.Error)
	}
	return out.Session, nil
}

func (c *Client) GetSession(ctx context.Context, id string) (Session, error) {
	endpoint := "/agent/autopilot/sessions/" + url.PathEscape(id) +
		"?projectId=" + url.QueryEscape(c.Project)
	resp, err := c.get(ctx, endpoint)
	if err != nil {
		return Session{}, err
	}
	defer resp.Body.Close()
	var out sessionEnvelope
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return Session{}, err
	}
	if resp.StatusCode != http.StatusOK {
		return Session{}, fmt.Errorf("get session failed: %d %s", resp.StatusCode, out.Error)
	}
	return out.Session, nil
}

func (c *Client) EnqueueMessage(ctx context.Context, sessionID, message, kind string, metadata map[string]string) (Session, error) {
	body := map[string]any{
		"projectId": c.Project,
		"message":   message,
		"kind":      kind,
		"metadata":  metadata,
	}
	endpoint := "/agent/autopilot/sessions/" + url.PathEscape(sessionID) + "/messages"
	resp, err := c.postJSON(ctx, endpoint, body)
	if err != nil {
		return Session{}, err
	}
	defer resp.Body.Close()
	var out sessionEnvelope
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return Session{}, err
	}
	if resp.StatusCode != http.StatusOK {
		return Session{}, fmt.Errorf("enqueue message failed: %d %s", resp.StatusCode, out.Error)
	}
	return out.Session, nil
}

func (c *Client) CancelSession(ctx context.Context, sessionID, reason string) (Session, error) {
	endpoint := "/agent/autopilot/sessions/" + url.PathEscape(sessionID) + "/cancel"
	resp, err := c.postJSON(ctx, endpoint, map[string]string{
		"projectId": c.Project,
		"reason":    reason,
	})
	if err != nil {
		return Session{}, err
	}
	defer resp.Body.Close()
	var out sessionEnvelope
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return Session{}, err
	}
	if resp.StatusCode != http.StatusOK {
		return Session{}, fmt.Errorf("cancel session failed: %d %s", resp.StatusCode, out.Error)
	}
	return out.Session, nil
}

func (c *Client) ResumeSessions(ctx context.Context, uiSessionID string, limit int) ([]string, error) {
	resp, err := c.postJSON(ctx, "/agent/autopilot/resume", map[string]any{
		"projectId":   c.Project,
		"uiSessionId": uiSessionID,
		"limit":       limit,
	})
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	var out struct {
		Success           bool     `json:"success"`
		ResumedSessionIDs []string `json:"resumedSessionIds"`
		Error             string   `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("resume failed: %d %s", resp.StatusCode, out.Error)
	}
	return out.ResumedSessionIDs, nil
}

// AgentRequest submits a one-shot request and returns the raw result body.
func (c *Client) AgentRequest(ctx context.Context, prompt string, options json.RawMessage) (json.RawMessage, error) {
	resp, err := c.postJSON(ctx, "/agent/request", map[string]any{
		"projectId": c.Project,
		"prompt":    prompt,
		"options":   options,
	})
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	var raw json.RawMessage
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("agent request failed: %d", resp.StatusCode)
	}
	return raw, nil
}

func (c *Client) postJSON(ctx context.Context, path string, payload any) (*http.Response, error) {
	buf, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+path, bytes.NewReader(buf))
	if err != nil {
		return nil, err
	}
	c.applyHeaders(req)
	req.Header.Set("Content-Type", "application/json")
	return c.HTTP.Do(req)
}

func (c *Client) get(ctx context.Context, path string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+path, nil)
	if err != nil {
		return nil, err
	}
	c.applyHeaders(req)
	return c.HTTP.Do(req)
}

func (c *Client) applyHeaders(req *http.Request) {
	if c.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.APIKey)
	}
}
