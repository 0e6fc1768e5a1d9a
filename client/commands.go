package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
)

// SendCommand enqueues one UI command for the session.
func (c *Client) SendCommand(ctx context.Context, sessionID, cmdType string, payload, meta json.RawMessage) error {
	resp, err := c.postJSON(ctx, "/agent/ui/commands", map[string]any{
		"projectId": c.Project,
		"sessionId": sessionID,
		"command": map[string]any{
			"type":    cmdType,
			"payload": payload,
			"meta":    meta,
		},
	})
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("send command failed: %d", resp.StatusCode)
	}
	return nil
}

// ListCommands returns all commands for the session, acknowledged or not,
// in ascending id order.
func (c *Client) ListCommands(ctx context.Context, sessionID string) ([]Command, error) {
	endpoint := "/agent/ui/commands?projectId=" + url.QueryEscape(c.Project) +
		"&sessionId=" + url.QueryEscape(sessionID)
	resp, err := c.get(ctx, endpoint)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("list commands failed: %d", resp.StatusCode)
	}
	var out struct {
		Commands []Command `json:"commands"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, err
	}
	return out.Commands, nil
}

// AckCommands marks the ids acknowledged. Safe to repeat after a replay.
func (c *Client) AckCommands(ctx context.Context, sessionID string, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	resp, err := c.postJSON(ctx, "/agent/ui/commands/ack", map[string]any{
		"projectId":  c.Project,
		"sessionId":  sessionID,
		"commandIds": ids,
	})
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("ack commands failed: %d", resp.StatusCode)
	}
	return nil
}

// PollCommands lists pending commands, hands each to handle in id order,
// and acks the ones handled without error. Delivery is at-least-once, so
// handle must tolerate replay. Returns the ids acknowledged.
func (c *Client) PollCommands(ctx context.Context, sessionID string, handle func(Command) error) ([]int64, error) {
	cmds, err := c.ListCommands(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	var acked []int64
	for _, cmd := range cmds {
		if cmd.Acknowledged {
			continue
		}
		if err := handle(cmd); err != nil {
			break
		}
		acked = append(acked, cmd.ID)
	}
	if err := c.AckCommands(ctx, sessionID, acked); err != nil {
		return nil, err
	}
	return acked, nil
}

// GetSnapshot fetches the last-known UI state, or ok=false when the server
// has none for the session.
func (c *Client) GetSnapshot(ctx context.Context, sessionID string) (json.RawMessage, bool, error) {
	endpoint := "/agent/ui/snapshot?projectId=" + url.QueryEscape(c.Project) +
		"&sessionId=" + url.QueryEscape(sessionID)
	resp, err := c.get(ctx, endpoint)
	if err != nil {
		return nil, false, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, false, fmt.Errorf("get snapshot failed: %d", resp.StatusCode)
	}
	var out struct {
		State json.RawMessage `json:"state"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, false, err
	}
	if len(out.State) == 0 {
		return nil, false, nil
	}
	return out.State, true, nil
}

// UpsertSnapshot replaces the stored UI state wholesale.
func (c *Client) UpsertSnapshot(ctx context.Context, sessionID string, state json.RawMessage) error {
	resp, err := c.postJSON(ctx, "/agent/ui/snapshot", map[string]any{
		"projectId": c.Project,
		"sessionId": sessionID,
		"snapshot":  state,
	})
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("upsert snapshot failed: %d", resp.StatusCode)
	}
	return nil
}
