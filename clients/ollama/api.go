package ollama

import (
	"fmt"
	"time"
)

// DefaultHost is where a local Ollama listens unless told otherwise.
const DefaultHost = "http://localhost:11434"

type VersionResponse struct {
	Version string `json:"version"`
}

type ShowRequest struct {
	Model string `json:"model"`
}

type ShowResponse struct {
	License    string       `json:"license,omitempty"`
	Modelfile  string       `json:"modelfile,omitempty"`
	Parameters string       `json:"parameters,omitempty"`
	Template   string       `json:"template,omitempty"`
	Details    ModelDetails `json:"details"`
	ModifiedAt time.Time    `json:"modified_at"`
}

type ModelDetails struct {
	Format            string `json:"format"`
	Family            string `json:"family"`
	ParameterSize     string `json:"parameter_size"`
	QuantizationLevel string `json:"quantization_level"`
}

// GenerateRequest is the body of /api/generate.
// System is dropped from the JSON when empty, so the model template decides the instruction.
type GenerateRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
	System string `json:"system,omitempty"`
	Stream bool   `json:"stream"`
}

// GenerateChunk is one NDJSON line of a streaming generate response.
// Response is a pointer to tell a missing field from an empty fragment.
type GenerateChunk struct {
	Model      string    `json:"model"`
	CreatedAt  time.Time `json:"created_at"`
	Response   *string   `json:"response,omitempty"`
	Done       bool      `json:"done"`
	DoneReason string    `json:"done_reason,omitempty"`
	Error      string    `json:"error,omitempty"`

	// the following are only present in the final chunk
	TotalDuration   time.Duration `json:"total_duration,omitempty"`
	LoadDuration    time.Duration `json:"load_duration,omitempty"`
	PromptEvalCount int           `json:"prompt_eval_count,omitempty"`
	EvalCount       int           `json:"eval_count,omitempty"`
	EvalDuration    time.Duration `json:"eval_duration,omitempty"`
}

// Error is the body Ollama returns along with a non-2xx status.
type Error struct {
	Message string `json:"error"`
}

// StatusError reports a non-2xx response from the server.
type StatusError struct {
	StatusCode int
	Message    string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("ollama responds status %d", e.StatusCode)
	}
	return fmt.Sprintf("ollama responds status %d: %s", e.StatusCode, e.Message)
}
