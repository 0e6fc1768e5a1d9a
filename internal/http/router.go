package httpapi

import "net/http"

// NewRouter wires the session and UI-bus endpoints, the websocket
// subscription path, and an optional middleware (auth) around everything.
func NewRouter(svc *Service, wsHandler http.Handler, mw func(http.Handler) http.Handler) http.Handler {
	mux := http.NewServeMux()
	wrap := func(h http.HandlerFunc) http.Handler {
		handler := http.Handler(h)
		if mw != nil {
			handler = mw(handler)
		}
		return handler
	}

	mux.Handle("/agent/request", wrap(svc.handleAgentRequest))
	mux.Handle("/agent/autopilot", wrap(svc.handleAutopilotStart))
	mux.Handle("/agent/autopilot/sessions/", wrap(svc.handleSessionAction))
	mux.Handle("/agent/autopilot/resume", wrap(svc.handleResume))

	mux.Handle("/agent/ui/snapshot", wrap(svc.handleSnapshot))
	mux.Handle("/agent/ui/commands", wrap(svc.handleCommands))
	mux.Handle("/agent/ui/commands/ack", wrap(svc.handleAckCommands))

	if wsHandler != nil {
		if mw != nil {
			mux.Handle("/ws/sessions/", mw(wsHandler))
		} else {
			mux.Handle("/ws/sessions/", wsHandler)
		}
	}

	return mux
}
