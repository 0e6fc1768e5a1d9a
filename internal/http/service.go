// Package httpapi is the boundary layer: it decodes requests, delegates to
// the orchestrator and command bus, and maps error kinds to status codes.
package httpapi

import (
	"context"
	"encoding/json"

	"github.com/mistakeknot/autopilot/internal/orchestrator"
	"github.com/mistakeknot/autopilot/internal/uibus"
)

// AgentRequest is a one-shot agent invocation, outside any session.
type AgentRequest struct {
	Project string
	Prompt  string
	Options json.RawMessage
}

// AgentRequestHandler runs a one-shot request and returns the result that
// becomes the response body.
type AgentRequestHandler func(ctx context.Context, req AgentRequest) (any, error)

type Service struct {
	orch    *orchestrator.Orchestrator
	bus     *uibus.Bus
	oneShot AgentRequestHandler
}

func NewService(orch *orchestrator.Orchestrator, bus *uibus.Bus) *Service {
	return &Service{orch: orch, bus: bus}
}

// WithAgentHandler installs the one-shot /agent/request handler. Without
// one the endpoint reports an internal failure.
func (s *Service) WithAgentHandler(h AgentRequestHandler) *Service {
	s.oneShot = h
	return s
}
