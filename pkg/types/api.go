package types

// GenerateRequest is the payload of POST /v1/generate.
type GenerateRequest struct {
	// Selected editor text used as the prompt.
	// example: The quick brown fox
	Text string `json:"text" example:"The quick brown fox"`
	// Length budget for this request; 0 uses the saved session value.
	// example: 50
	MaxTokens int `json:"max_tokens,omitempty" example:"50"`
	// Answer to the confirmation prompt, when the server asks for one.
	// example: true
	Confirm bool `json:"confirm,omitempty" example:"true"`
}

// GenerateResponse is returned by POST /v1/generate.
type GenerateResponse struct {
	// Text to put in place of the selection. Equals the request text when
	// nothing was generated.
	Text string `json:"text"`
	// Whether Text differs from the selection because generation succeeded.
	Replaced bool `json:"replaced"`
	// Messages that a local editor would have shown to the user.
	Messages []string `json:"messages,omitempty"`
}

// MaxTokensRequest is the payload of PUT /v1/max_tokens.
type MaxTokensRequest struct {
	// example: 256
	MaxTokens int `json:"max_tokens" example:"256"`
}

// MessagesResponse carries user-facing messages for command endpoints.
type MessagesResponse struct {
	Messages []string `json:"messages"`
}

// ErrorResponse is a consistent JSON error payload.
type ErrorResponse struct {
	// Error message.
	// example: invalid JSON body
	Error string `json:"error" example:"invalid JSON body"`
	// HTTP status code.
	// example: 400
	Code int `json:"code" example:"400"`
}

// WorkerStatus summarizes the supervised worker process.
type WorkerStatus struct {
	// Lifecycle state (stopped, starting, ready, busy, stuck, exited).
	// example: ready
	State string `json:"state" example:"ready"`
	// Process ID of the worker, when running.
	// example: 12345
	PID int `json:"pid,omitempty" example:"12345"`
	// Payload channel path shared with the worker.
	PayloadPath string `json:"payload_path,omitempty"`
	// Unix seconds when the current worker reached ready.
	StartedUnix int64 `json:"started_unix,omitempty"`
	// Generations completed by this supervisor.
	Generations uint64 `json:"generations_total"`
	// Worker (re)starts performed by this supervisor.
	Starts uint64 `json:"starts_total"`
	// Last protocol or startup error, if any.
	LastError string `json:"last_error,omitempty"`
}

// StatusResponse is returned by GET /status.
type StatusResponse struct {
	// Backend kind serving generations.
	// example: llama
	Backend string `json:"backend" example:"llama"`
	// Session length budget.
	// example: 256
	MaxTokens int `json:"max_tokens" example:"256"`
	// Worker details; absent for in-process backends.
	Worker *WorkerStatus `json:"worker,omitempty"`
	// Length budget requested so far, per backend.
	TokensRequested map[string]int `json:"total_tokens_requested,omitempty"`
	// Uptime of the server in seconds.
	UptimeSeconds int64 `json:"uptime_seconds"`
	// Server time in unix seconds.
	ServerTimeUnix int64 `json:"server_time_unix"`
}
