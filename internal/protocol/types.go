package protocol

// Version is the only protocol version executable plugins may speak.
const Version = 1

// Request is the envelope written to an executable plugin's stdin, one per invocation.
type Request struct {
	Protocol  int            `json:"protocol"`
	RequestID string         `json:"request_id"`
	Action    string         `json:"action"`
	Args      []string       `json:"args"`
	Config    map[string]any `json:"config"`
}

// Response is the envelope read back from the plugin's stdout.
type Response struct {
	Status string     `json:"status"` // ok | error
	Detail string     `json:"detail,omitempty"`
	Error  string     `json:"error,omitempty"`
	Logs   []LogEntry `json:"logs,omitempty"`
}

// LogEntry represents a log message from a plugin.
type LogEntry struct {
	Level   string `json:"level"` // info | warn | error | debug
	Message string `json:"message"`
}

// OK reports whether the plugin signalled success.
func (r *Response) OK() bool {
	return r.Status == StatusOK
}

const (
	StatusOK    = "ok"
	StatusError = "error"
)
