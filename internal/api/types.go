package api

// ErrorResponse is returned on errors
type ErrorResponse struct {
	Error string `json:"error"`
}

// HealthzResponse is returned by GET /healthz.
type HealthzResponse struct {
	Status        string `json:"status"`
	UptimeSeconds int64  `json:"uptime_seconds"`
	Endpoint      string `json:"endpoint"`
	ActionsLoaded int    `json:"actions_loaded"`
}

// ActionInfo describes one registered action.
type ActionInfo struct {
	Name        string `json:"name"`
	Plugin      string `json:"plugin,omitempty"`
	Version     string `json:"version,omitempty"`
	Description string `json:"description,omitempty"`
	Digest      string `json:"digest,omitempty"`
	Builtin     bool   `json:"builtin,omitempty"`
}

// ActionsResponse is returned by GET /actions.
type ActionsResponse struct {
	Actions []ActionInfo `json:"actions"`
}
