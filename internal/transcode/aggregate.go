package transcode

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/kalambet/fakeollama/internal/ollama"
)

// ErrMalformedBody is returned by Aggregate when the backend body is not JSON.
var ErrMalformedBody = errors.New("malformed backend response")

// Aggregate reads one complete backend body and returns the single native
// record describing it. Only a body that is not valid JSON is an error;
// missing fields and fields of an unexpected type read as "" or 0.
func Aggregate(r io.Reader, model string, now time.Time) (ollama.ChatResponse, error) {
	body, err := io.ReadAll(r)
	if err != nil {
		return ollama.ChatResponse{}, fmt.Errorf("reading backend response: %w", err)
	}

	doc, err := parseDocument(body)
	if err != nil {
		return ollama.ChatResponse{}, fmt.Errorf("%w: %v", ErrMalformedBody, err)
	}

	usage := field(doc, "usage")
	u := ollama.Usage{
		PromptTokens:     tokenCount(field(usage, "prompt_tokens")),
		CompletionTokens: tokenCount(field(usage, "completion_tokens")),
		TotalTokens:      tokenCount(field(usage, "total_tokens")),
	}
	content := str(field(field(index(field(doc, "choices"), 0), "message"), "content"))
	return ollama.Aggregated(content, model, u, now), nil
}

// parseDocument decodes exactly one JSON value, keeping numbers as
// json.Number.
func parseDocument(body []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()

	var doc any
	if err := dec.Decode(&doc); err != nil {
		return nil, err
	}
	if _, err := dec.Token(); err != io.EOF {
		return nil, errors.New("unexpected data after top-level value")
	}
	return doc, nil
}

// field returns v[key] when v is an object, nil otherwise.
func field(v any, key string) any {
	m, _ := v.(map[string]any)
	return m[key]
}

// index returns v[i] when v is an array long enough, nil otherwise.
func index(v any, i int) any {
	a, _ := v.([]any)
	if i < 0 || i >= len(a) {
		return nil
	}
	return a[i]
}

// str returns v when it is a string, "" otherwise.
func str(v any) string {
	s, _ := v.(string)
	return s
}

// tokenCount returns v when it is a non-negative integer, 0 otherwise.
func tokenCount(v any) int64 {
	n, ok := v.(json.Number)
	if !ok {
		return 0
	}
	i, err := n.Int64()
	if err != nil || i < 0 {
		return 0
	}
	return i
}
