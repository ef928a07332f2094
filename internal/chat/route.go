package chat

import (
	"fmt"
	"net/url"
	"strings"
)

const chatPath = "/chat"

// Route is the location of the chat view: which conversation is open, which
// message should be brought into view, and whether the last submission failed.
type Route struct {
	ConversationID string
	MessageID      string
	IsError        bool
}

// Generic reports whether the route points at a new, unsaved chat
func (r Route) Generic() bool {
	return r.ConversationID == ""
}

// String renders the route as a path with query parameters
func (r Route) String() string {
	path := chatPath
	if r.ConversationID != "" {
		path += "/" + url.PathEscape(r.ConversationID)
	}

	q := url.Values{}
	if r.MessageID != "" {
		q.Set("msgId", r.MessageID)
	}
	if r.IsError {
		q.Set("isError", "true")
	}
	if len(q) == 0 {
		return path
	}
	return path + "?" + q.Encode()
}

// ParseRoute reads a route such as /chat/abc123?msgId=m42
func ParseRoute(raw string) (Route, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return Route{}, fmt.Errorf("%w: %v", ErrInvalidRoute, err)
	}

	path := strings.TrimRight(u.EscapedPath(), "/")
	if path != chatPath && !strings.HasPrefix(path, chatPath+"/") {
		return Route{}, fmt.Errorf("%w: %q is not a chat route", ErrInvalidRoute, raw)
	}

	var r Route
	if rest := strings.TrimPrefix(path, chatPath); rest != "" {
		escaped := strings.TrimPrefix(rest, "/")
		id, err := url.PathUnescape(escaped)
		if err != nil || id == "" || strings.Contains(escaped, "/") {
			return Route{}, fmt.Errorf("%w: bad conversation id in %q", ErrInvalidRoute, raw)
		}
		r.ConversationID = id
	}

	q := u.Query()
	r.MessageID = q.Get("msgId")
	r.IsError = q.Get("isError") == "true"
	return r, nil
}
