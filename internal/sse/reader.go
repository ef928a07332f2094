package sse

import (
	"bufio"
	"bytes"
	"io"
	"strconv"
	"strings"
	"time"
)

// DefaultEventName is used for events that carry no event field
const DefaultEventName = "message"

// Event is a single dispatched server-sent event
type Event struct {
	Name  string
	Data  string
	ID    string
	Retry time.Duration
}

// Reader decodes a text/event-stream body
type Reader struct {
	scanner *bufio.Scanner
	lastID  string
}

// NewReader creates a reader over the given stream
func NewReader(r io.Reader) *Reader {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	scanner.Split(scanLines)
	return &Reader{scanner: scanner}
}

// LastEventID returns the most recent id field seen on the stream
func (r *Reader) LastEventID() string {
	return r.lastID
}

// Next returns the next event. It returns io.EOF once the stream ends.
func (r *Reader) Next() (Event, error) {
	var (
		name    string
		data    strings.Builder
		hasData bool
		retry   time.Duration
	)

	dispatch := func() (Event, bool) {
		if !hasData {
			name = ""
			return Event{}, false
		}
		if name == "" {
			name = DefaultEventName
		}
		return Event{
			Name:  name,
			Data:  strings.TrimSuffix(data.String(), "\n"),
			ID:    r.lastID,
			Retry: retry,
		}, true
	}

	for r.scanner.Scan() {
		line := r.scanner.Text()

		if line == "" {
			if ev, ok := dispatch(); ok {
				return ev, nil
			}
			data.Reset()
			continue
		}

		// Comment line
		if strings.HasPrefix(line, ":") {
			continue
		}

		field, value, _ := strings.Cut(line, ":")
		value = strings.TrimPrefix(value, " ")

		switch field {
		case "event":
			name = value
		case "data":
			data.WriteString(value)
			data.WriteByte('\n')
			hasData = true
		case "id":
			if !strings.ContainsRune(value, 0) {
				r.lastID = value
			}
		case "retry":
			if ms, err := strconv.Atoi(value); err == nil && ms >= 0 {
				retry = time.Duration(ms) * time.Millisecond
			}
		}
	}

	if err := r.scanner.Err(); err != nil {
		return Event{}, err
	}

	// Stream ended without a trailing blank line
	if ev, ok := dispatch(); ok {
		return ev, nil
	}
	return Event{}, io.EOF
}

// scanLines splits on LF, CRLF or a lone CR
func scanLines(data []byte, atEOF bool) (advance int, token []byte, err error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}
	if i := bytes.IndexAny(data, "\r\n"); i >= 0 {
		if data[i] == '\r' {
			if i+1 < len(data) {
				if data[i+1] == '\n' {
					return i + 2, data[:i], nil
				}
				return i + 1, data[:i], nil
			}
			if !atEOF {
				// Need more data to know whether LF follows
				return 0, nil, nil
			}
		}
		return i + 1, data[:i], nil
	}
	if atEOF {
		return len(data), data, nil
	}
	return 0, nil, nil
}
