package sse

import (
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func readAll(t *testing.T, input string) []Event {
	t.Helper()
	r := NewReader(strings.NewReader(input))
	var events []Event
	for {
		ev, err := r.Next()
		if err == io.EOF {
			return events
		}
		require.NoError(t, err)
		events = append(events, ev)
	}
}

func TestReader_Next(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  []Event
	}{
		{
			name:  "named event",
			input: "event: process_started\ndata: {\"message\":\"ok\"}\n\n",
			want:  []Event{{Name: "process_started", Data: `{"message":"ok"}`}},
		},
		{
			name:  "default name",
			input: "data: hello\n\n",
			want:  []Event{{Name: DefaultEventName, Data: "hello"}},
		},
		{
			name:  "multi-line data",
			input: "event: final_result\ndata: line one\ndata: line two\n\n",
			want:  []Event{{Name: "final_result", Data: "line one\nline two"}},
		},
		{
			name:  "comments and crlf",
			input: ": keepalive\r\nevent: connected\r\ndata: {}\r\n\r\n",
			want:  []Event{{Name: "connected", Data: "{}"}},
		},
		{
			name:  "lone cr",
			input: "event: connected\rdata: x\r\r",
			want:  []Event{{Name: "connected", Data: "x"}},
		},
		{
			name:  "event without data is dropped",
			input: "event: ping\n\nevent: connected\ndata: 1\n\n",
			want:  []Event{{Name: "connected", Data: "1"}},
		},
		{
			name:  "trailing event flushed at eof",
			input: "event: completed\ndata: done",
			want:  []Event{{Name: "completed", Data: "done"}},
		},
		{
			name:  "no space after colon",
			input: "event:timeout\ndata:{}\n\n",
			want:  []Event{{Name: "timeout", Data: "{}"}},
		},
		{
			name:  "empty stream",
			input: "",
			want:  nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, readAll(t, tt.input))
		})
	}
}

func TestReader_IDAndRetry(t *testing.T) {
	r := NewReader(strings.NewReader("id: 7\nretry: 2500\nevent: connected\ndata: {}\n\ndata: next\n\n"))

	first, err := r.Next()
	require.NoError(t, err)
	assert.Equal(t, "7", first.ID)
	assert.Equal(t, 2500*time.Millisecond, first.Retry)

	second, err := r.Next()
	require.NoError(t, err)
	assert.Equal(t, "7", second.ID, "last event id carries over")
	assert.Zero(t, second.Retry)
	assert.Equal(t, "7", r.LastEventID())

	_, err = r.Next()
	assert.ErrorIs(t, err, io.EOF)
}
