package agent

import "errors"

var (
	errAgentStarted = errors.New("agent: already started")
	errAgentStopped = errors.New("agent: stopped")
)
