package uibus

import (
	"context"
	"encoding/json"
)

// Command types emitted by the helpers.
const (
	CommandNavigateTab = "NAVIGATE_TAB"
	CommandOpenFile    = "OPEN_FILE"
	CommandShowToast   = "SHOW_TOAST"
)

// Helpers exposes the fixed command shapes the execution loop emits. It is
// a thin adapter over Bus.Send bound to one (project, session) key; it
// holds no state of its own.
type Helpers struct {
	bus       *Bus
	project   string
	sessionID string
}

func NewHelpers(bus *Bus, project string, sessionID any) Helpers {
	return Helpers{bus: bus, project: project, sessionID: NormalizeSessionID(sessionID)}
}

func (h Helpers) NavigateTab(ctx context.Context, tab string) error {
	return h.send(ctx, CommandNavigateTab, map[string]string{"tab": tab})
}

func (h Helpers) OpenFile(ctx context.Context, path string) error {
	return h.send(ctx, CommandOpenFile, map[string]string{"path": path})
}

func (h Helpers) ShowToast(ctx context.Context, message, level string) error {
	return h.send(ctx, CommandShowToast, map[string]string{"message": message, "level": level})
}

func (h Helpers) send(ctx context.Context, cmdType string, payload any) error {
	buf, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	_, err = h.bus.Send(ctx, h.project, h.sessionID, &CommandInput{Type: cmdType, Payload: buf})
	return err
}
