package ollama

import (
	"time"

	"github.com/kalambet/fakeollama/internal/backend"
)

// ToBackendRequest maps a native chat request onto the backend schema.
// Model, messages and the stream flag are copied verbatim; the temperature
// is always DefaultTemperature.
func ToBackendRequest(req ChatRequest) backend.ChatRequest {
	temp := DefaultTemperature
	return backend.ChatRequest{
		Model:       req.Model,
		Messages:    req.Messages,
		Stream:      req.Stream,
		Temperature: &temp,
	}
}

// NewChunk builds a non-terminal streamed record carrying one content delta.
func NewChunk(content, model string, now time.Time) ChatResponse {
	return ChatResponse{
		Model:     model,
		CreatedAt: Timestamp(now),
		Message:   Message{Role: RoleAssistant, Content: content},
	}
}

// TerminalChunk builds the final streamed record. All timing and count
// fields are present and zero.
func TerminalChunk(model string, now time.Time) ChatResponse {
	return ChatResponse{
		Model:              model,
		CreatedAt:          Timestamp(now),
		Message:            Message{Role: RoleAssistant, Content: ""},
		Done:               true,
		TotalDuration:      ptr(0),
		LoadDuration:       ptr(0),
		PromptEvalCount:    ptr(0),
		PromptEvalDuration: ptr(0),
		EvalCount:          ptr(0),
		EvalDuration:       ptr(0),
	}
}

// Usage holds the token counts reported by the backend.
type Usage struct {
	PromptTokens     int64
	CompletionTokens int64
	TotalTokens      int64
}

// Aggregated builds the single non-streaming record. Durations are derived
// from token counts, never from elapsed time.
func Aggregated(content, model string, u Usage, now time.Time) ChatResponse {
	return ChatResponse{
		Model:              model,
		CreatedAt:          Timestamp(now),
		Message:            Message{Role: RoleAssistant, Content: content},
		Done:               true,
		TotalDuration:      ptr(u.TotalTokens * DurationPerToken),
		LoadDuration:       ptr(SyntheticLoadDuration),
		PromptEvalCount:    ptr(u.PromptTokens),
		PromptEvalDuration: ptr(u.PromptTokens * DurationPerToken),
		EvalCount:          ptr(u.CompletionTokens),
		EvalDuration:       ptr(u.CompletionTokens * DurationPerToken),
	}
}

func ptr(v int64) *int64 { return &v }
