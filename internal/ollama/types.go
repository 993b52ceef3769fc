package ollama

import (
	"time"

	"github.com/kalambet/fakeollama/internal/backend"
)

// Synthetic timing constants reported to native clients. They carry no real
// timing meaning; clients only display them.
const (
	DurationPerToken      = 100000
	SyntheticLoadDuration = 1234567
	DefaultTemperature    = 0.7
)

// RoleAssistant is the role of every record produced by the gateway.
const RoleAssistant = "assistant"

// Message is a single conversation turn.
type Message = backend.Message

// ChatRequest is the body of POST /api/chat. Sampling options sent by the
// client are not read.
type ChatRequest struct {
	Model    string    `json:"model"`
	Messages []Message `json:"messages"`
	Stream   bool      `json:"stream"`
}

// GenerateRequest is the body of POST /api/generate.
type GenerateRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
	Stream bool   `json:"stream"`
}

// ChatRequest converts a generate request into a single-message chat request.
func (g GenerateRequest) ChatRequest() ChatRequest {
	return ChatRequest{
		Model:    g.Model,
		Messages: []Message{{Role: "user", Content: g.Prompt}},
		Stream:   g.Stream,
	}
}

// ChatResponse is one native record: a streamed chunk, the streamed terminal
// record, or the single non-streaming response. The timing and count fields
// are pointers so that they are omitted entirely when unset.
type ChatResponse struct {
	Model              string  `json:"model"`
	CreatedAt          string  `json:"created_at"`
	Message            Message `json:"message"`
	Done               bool    `json:"done"`
	TotalDuration      *int64  `json:"total_duration,omitempty"`
	LoadDuration       *int64  `json:"load_duration,omitempty"`
	PromptEvalCount    *int64  `json:"prompt_eval_count,omitempty"`
	PromptEvalDuration *int64  `json:"prompt_eval_duration,omitempty"`
	EvalCount          *int64  `json:"eval_count,omitempty"`
	EvalDuration       *int64  `json:"eval_duration,omitempty"`
}

// TagsResponse is the body of GET /api/tags.
type TagsResponse struct {
	Models []Model `json:"models"`
}

// Model is one catalog entry.
type Model struct {
	Name       string       `json:"name"`
	Model      string       `json:"model"`
	ModifiedAt string       `json:"modified_at"`
	Size       int64        `json:"size"`
	Digest     string       `json:"digest"`
	Details    ModelDetails `json:"details"`
}

// ModelDetails describes a catalog entry's format and family.
type ModelDetails struct {
	ParentModel       string   `json:"parent_model"`
	Format            string   `json:"format"`
	Family            string   `json:"family"`
	Families          []string `json:"families"`
	ParameterSize     string   `json:"parameter_size"`
	QuantizationLevel string   `json:"quantization_level"`
}

// Timestamp formats t the way native clients expect created_at values.
func Timestamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}
