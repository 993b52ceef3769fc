package transcode

import (
	"bufio"
	"errors"
	"io"
	"strings"
	"testing"
	"testing/iotest"
	"time"

	"github.com/kalambet/fakeollama/internal/ollama"
)

var fixedNow = time.Date(2024, 7, 1, 12, 0, 0, 0, time.UTC)

func fixedClock() time.Time { return fixedNow }

// collect drains d, failing the test on any error other than io.EOF.
func collect(t *testing.T, d *Decoder) []ollama.ChatResponse {
	t.Helper()
	var out []ollama.ChatResponse
	for {
		rec, err := d.Next()
		if err == io.EOF {
			return out
		}
		if err != nil {
			t.Fatalf("Next: %v", err)
		}
		out = append(out, rec)
	}
}

const helloWorld = "data: {\"choices\":[{\"delta\":{\"content\":\"Hello\"}}]}\n\n" +
	"data: {\"choices\":[{\"delta\":{\"content\":\" World\"}}]}\n\n" +
	"data: [DONE]\n"

func TestDecoder_HelloWorld(t *testing.T) {
	d := NewDecoder(strings.NewReader(helloWorld), "llama2", WithClock(fixedClock))
	recs := collect(t, d)

	if len(recs) != 3 {
		t.Fatalf("got %d records, want 3", len(recs))
	}
	if recs[0].Message.Content != "Hello" || recs[0].Done {
		t.Errorf("recs[0] = %+v", recs[0])
	}
	if recs[1].Message.Content != " World" || recs[1].Done {
		t.Errorf("recs[1] = %+v", recs[1])
	}
	last := recs[2]
	if !last.Done || last.Message.Content != "" || last.Message.Role != "assistant" {
		t.Errorf("terminal = %+v", last)
	}
	if last.TotalDuration == nil || *last.TotalDuration != 0 || last.EvalCount == nil || *last.EvalCount != 0 {
		t.Errorf("terminal timing fields not zero-filled: %+v", last)
	}
	if recs[0].TotalDuration != nil {
		t.Errorf("non-terminal record carries timing fields: %+v", recs[0])
	}
	if recs[0].Model != "llama2" || recs[0].CreatedAt != ollama.Timestamp(fixedNow) {
		t.Errorf("recs[0] model/created_at = %q/%q", recs[0].Model, recs[0].CreatedAt)
	}
	if !d.Terminated() || d.Emitted() != 3 {
		t.Errorf("Terminated() = %v, Emitted() = %d", d.Terminated(), d.Emitted())
	}
}

func TestDecoder_SplitAcrossReads(t *testing.T) {
	d := NewDecoder(iotest.OneByteReader(strings.NewReader(helloWorld)), "llama2")
	recs := collect(t, d)

	if len(recs) != 3 {
		t.Fatalf("got %d records, want 3", len(recs))
	}
	if recs[0].Message.Content != "Hello" || recs[1].Message.Content != " World" {
		t.Errorf("contents = %q, %q", recs[0].Message.Content, recs[1].Message.Content)
	}
}

func TestDecoder_SkipsNonContentLines(t *testing.T) {
	tests := []struct {
		name string
		line string
	}{
		{"empty delta", `data: {"choices":[{"delta":{"content":""}}]}`},
		{"role only", `data: {"choices":[{"delta":{"role":"assistant"}}]}`},
		{"null content", `data: {"choices":[{"delta":{"content":null}}]}`},
		{"no choices", `data: {"choices":[]}`},
		{"garbage", `data: {"choices":[{"delta":`},
		{"comment", `: keep-alive`},
		{"blank", `   `},
		{"event field", `event: message`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := tt.line + "\n" + "data: [DONE]\n"
			recs := collect(t, NewDecoder(strings.NewReader(in), "m"))
			if len(recs) != 1 || !recs[0].Done {
				t.Errorf("got %+v, want only the terminal record", recs)
			}
		})
	}
}

func TestDecoder_StopsAtDone(t *testing.T) {
	in := "data: [DONE]\n" + `data: {"choices":[{"delta":{"content":"late"}}]}` + "\n"
	recs := collect(t, NewDecoder(strings.NewReader(in), "m"))
	if len(recs) != 1 || !recs[0].Done {
		t.Errorf("got %+v, want only the terminal record", recs)
	}
}

func TestDecoder_UnprefixedAndCRLF(t *testing.T) {
	in := "{\"choices\":[{\"delta\":{\"content\":\"a\"}}]}\r\n" +
		"data: {\"choices\":[{\"delta\":{\"content\":\"b\"}}]}\r\n" +
		"data:  [DONE] \r\n"
	recs := collect(t, NewDecoder(strings.NewReader(in), "m"))
	if len(recs) != 3 {
		t.Fatalf("got %d records, want 3", len(recs))
	}
	if recs[0].Message.Content != "a" || recs[1].Message.Content != "b" || !recs[2].Done {
		t.Errorf("recs = %+v", recs)
	}
}

func TestDecoder_EOFWithoutDone(t *testing.T) {
	in := `data: {"choices":[{"delta":{"content":"x"}}]}` // no trailing newline

	t.Run("forced terminal", func(t *testing.T) {
		d := NewDecoder(strings.NewReader(in), "m", WithForceTerminal(true))
		recs := collect(t, d)
		if len(recs) != 2 || recs[0].Message.Content != "x" || !recs[1].Done {
			t.Errorf("recs = %+v", recs)
		}
		if !d.Terminated() {
			t.Error("Terminated() = false, want true")
		}
	})

	t.Run("reference behavior", func(t *testing.T) {
		d := NewDecoder(strings.NewReader(in), "m", WithForceTerminal(false))
		recs := collect(t, d)
		if len(recs) != 1 || recs[0].Done {
			t.Errorf("recs = %+v", recs)
		}
		if d.Terminated() {
			t.Error("Terminated() = true, want false")
		}
	})
}

func TestDecoder_ReadError(t *testing.T) {
	boom := errors.New("connection reset")
	r := io.MultiReader(
		strings.NewReader(`data: {"choices":[{"delta":{"content":"x"}}]}`+"\n"),
		iotest.ErrReader(boom),
	)
	d := NewDecoder(r, "m", WithForceTerminal(true))

	rec, err := d.Next()
	if err != nil || rec.Message.Content != "x" {
		t.Fatalf("first Next = %+v, %v", rec, err)
	}
	if _, err := d.Next(); !errors.Is(err, boom) {
		t.Fatalf("second Next error = %v, want %v", err, boom)
	}
	if _, err := d.Next(); err != io.EOF {
		t.Errorf("Next after failure = %v, want io.EOF", err)
	}
	if d.Terminated() {
		t.Error("terminal record emitted after read error")
	}
}

func TestDecoder_CountProperty(t *testing.T) {
	deltas := []string{"a", "", "b", "", "", "c", "d"}
	var sb strings.Builder
	nonEmpty := 0
	for _, c := range deltas {
		sb.WriteString(`data: {"choices":[{"delta":{"content":"` + c + `"}}]}` + "\n\n")
		if c != "" {
			nonEmpty++
		}
	}
	sb.WriteString("data: [DONE]\n\n")

	first := collect(t, NewDecoder(strings.NewReader(sb.String()), "m", WithClock(fixedClock)))
	second := collect(t, NewDecoder(strings.NewReader(sb.String()), "m", WithClock(fixedClock)))

	if len(first) != nonEmpty+1 {
		t.Fatalf("got %d records, want %d", len(first), nonEmpty+1)
	}
	for i, rec := range first {
		if rec.Done != (i == len(first)-1) {
			t.Errorf("record %d Done = %v", i, rec.Done)
		}
		if rec.Message.Content != second[i].Message.Content || rec.Done != second[i].Done {
			t.Errorf("record %d differs between runs: %+v vs %+v", i, rec, second[i])
		}
	}
}

func TestDecoder_LineTooLong(t *testing.T) {
	ok := `data: {"choices":[{"delta":{"content":"x"}}]}` + "\n"
	huge := "data: " + strings.Repeat("a", 256)
	d := NewDecoder(strings.NewReader(ok+huge), "m", WithForceTerminal(true), WithMaxLineSize(128))

	rec, err := d.Next()
	if err != nil || rec.Message.Content != "x" {
		t.Fatalf("first Next = %+v, %v", rec, err)
	}
	if _, err := d.Next(); !errors.Is(err, bufio.ErrTooLong) {
		t.Fatalf("second Next error = %v, want bufio.ErrTooLong", err)
	}
	if d.Terminated() {
		t.Error("terminal record emitted after oversized line")
	}
}
