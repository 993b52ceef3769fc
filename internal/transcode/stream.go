// Package transcode turns backend chat completion responses into native
// records: Decoder for SSE streams, Aggregate for complete bodies.
package transcode

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/kalambet/fakeollama/internal/ollama"
)

var (
	dataPrefix   = []byte("data: ")
	doneSentinel = []byte("[DONE]")
)

// DefaultMaxLineSize bounds a single backend line. A longer line ends the
// stream with bufio.ErrTooLong.
const DefaultMaxLineSize = 4 << 20

type state int

const (
	stateStreaming state = iota
	stateTerminated
)

// Option configures a Decoder.
type Option func(*Decoder)

// WithClock sets the time source used for created_at.
func WithClock(now func() time.Time) Option {
	return func(d *Decoder) { d.now = now }
}

// WithMaxLineSize overrides DefaultMaxLineSize.
func WithMaxLineSize(n int) Option {
	return func(d *Decoder) { d.maxLineSize = n }
}

// WithForceTerminal controls what happens when the backend stream ends
// cleanly without a [DONE] sentinel. When enabled, a terminal record is
// emitted anyway; otherwise the sequence just ends.
func WithForceTerminal(on bool) Option {
	return func(d *Decoder) { d.forceTerminal = on }
}

// Decoder reads a backend SSE stream and yields native records one at a
// time. Lines are reassembled across read boundaries before parsing. A
// Decoder belongs to a single request and is not safe for concurrent use.
type Decoder struct {
	sc            *bufio.Scanner
	model         string
	now           func() time.Time
	forceTerminal bool
	maxLineSize   int

	state        state
	emitted      int
	terminalSent bool
}

// NewDecoder returns a Decoder reading from r. Records are stamped with model.
func NewDecoder(r io.Reader, model string, opts ...Option) *Decoder {
	d := &Decoder{
		model:       model,
		now:         time.Now,
		maxLineSize: DefaultMaxLineSize,
	}
	for _, o := range opts {
		o(d)
	}
	d.sc = bufio.NewScanner(r)
	d.sc.Buffer(make([]byte, 0, min(4096, d.maxLineSize)), d.maxLineSize)
	return d
}

// Next returns the next record. It returns io.EOF once the terminal record
// has been returned or the stream ended without one. Any other error means
// the backend stream broke mid-read or sent an oversized line; no terminal
// record follows it.
func (d *Decoder) Next() (ollama.ChatResponse, error) {
	for d.state == stateStreaming {
		if !d.sc.Scan() {
			return d.finish(d.sc.Err())
		}
		if rec, ok := d.decodeLine(d.sc.Bytes()); ok {
			d.emitted++
			return rec, nil
		}
	}
	return ollama.ChatResponse{}, io.EOF
}

// Emitted reports how many records Next has returned so far.
func (d *Decoder) Emitted() int { return d.emitted }

// Terminated reports whether the terminal record has been produced.
func (d *Decoder) Terminated() bool { return d.terminalSent }

// finish ends the stream. A nil err means the backend closed cleanly.
func (d *Decoder) finish(err error) (ollama.ChatResponse, error) {
	d.state = stateTerminated
	if err != nil {
		return ollama.ChatResponse{}, fmt.Errorf("reading backend stream: %w", err)
	}
	if d.forceTerminal {
		d.emitted++
		d.terminalSent = true
		return ollama.TerminalChunk(d.model, d.now()), nil
	}
	return ollama.ChatResponse{}, io.EOF
}

// decodeLine maps one backend line to at most one record. Blank lines,
// unparseable lines and empty deltas yield nothing.
func (d *Decoder) decodeLine(line []byte) (ollama.ChatResponse, bool) {
	payload := bytes.TrimSpace(bytes.TrimPrefix(line, dataPrefix))
	if len(payload) == 0 {
		return ollama.ChatResponse{}, false
	}
	if bytes.Equal(payload, doneSentinel) {
		d.state = stateTerminated
		d.terminalSent = true
		return ollama.TerminalChunk(d.model, d.now()), true
	}

	var ev streamEvent
	if err := json.Unmarshal(payload, &ev); err != nil {
		return ollama.ChatResponse{}, false
	}
	content, ok := ev.deltaContent()
	if !ok || content == "" {
		return ollama.ChatResponse{}, false
	}
	return ollama.NewChunk(content, d.model, d.now()), true
}

// streamEvent is the subset of a chat.completion.chunk the gateway reads.
type streamEvent struct {
	Choices []struct {
		Delta struct {
			Content *string `json:"content"`
		} `json:"delta"`
	} `json:"choices"`
}

// deltaContent returns choices[0].delta.content and whether it was present.
func (e streamEvent) deltaContent() (string, bool) {
	if len(e.Choices) == 0 || e.Choices[0].Delta.Content == nil {
		return "", false
	}
	return *e.Choices[0].Delta.Content, true
}
