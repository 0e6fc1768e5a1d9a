package main

import (
	"context"
	"fmt"

	httpapi "github.com/mistakeknot/autopilot/internal/http"
	"github.com/mistakeknot/autopilot/internal/orchestrator"
)

// devRunner stands in until a planner is linked through pkg/embedded. It
// acknowledges each instruction with a toast and keeps the session open
// until it is cancelled.
type devRunner struct{}

func (devRunner) Step(ctx context.Context, req orchestrator.StepRequest) (orchestrator.StepResult, error) {
	if req.Message != nil {
		_ = req.UI.ShowToast(ctx, fmt.Sprintf("Received: %s", req.Message.Body), "info")
	}
	return orchestrator.StepResult{}, nil
}

// devAgentHandler echoes one-shot requests back to the caller.
func devAgentHandler(ctx context.Context, req httpapi.AgentRequest) (any, error) {
	return map[string]any{
		"projectId": req.Project,
		"prompt":    req.Prompt,
		"options":   req.Options,
		"note":      "no planner configured; echoing request",
	}, nil
}
