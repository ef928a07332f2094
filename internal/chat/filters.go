package chat

import (
	"fmt"
	"strings"
	"time"

	"athena-chat/internal/athena"
)

// DateLayout is the date format of the start/end filter
const DateLayout = "2006-01-02"

// Filters narrows which documents a question is answered from
type Filters struct {
	DocumentTypes []string
	From          time.Time
	To            time.Time
}

// Validate checks the date range
func (f Filters) Validate() error {
	if !f.From.IsZero() && !f.To.IsZero() && f.From.After(f.To) {
		return fmt.Errorf("%w: %s > %s", ErrInvalidDateRange, f.From.Format(DateLayout), f.To.Format(DateLayout))
	}
	return nil
}

// IsZero reports whether no filter is set
func (f Filters) IsZero() bool {
	return len(f.DocumentTypes) == 0 && f.From.IsZero() && f.To.IsZero()
}

// String describes the filters for display
func (f Filters) String() string {
	types := "all"
	if len(f.DocumentTypes) > 0 {
		types = strings.Join(f.DocumentTypes, ",")
	}
	from, to := formatDate(f.From), formatDate(f.To)
	if from == "" {
		from = "-"
	}
	if to == "" {
		to = "-"
	}
	return fmt.Sprintf("types=%s from=%s to=%s", types, from, to)
}

// request builds the submission body for question
func (f Filters) request(question, conversationID string) athena.ChatRequest {
	var types athena.DocumentTypes
	for _, t := range f.DocumentTypes {
		if t = strings.TrimSpace(t); t != "" && !strings.EqualFold(t, "all") {
			types = append(types, t)
		}
	}
	return athena.ChatRequest{
		Question:       question,
		DocumentType:   types,
		StartTime:      formatDate(f.From),
		EndTime:        formatDate(f.To),
		EnableSSE:      true,
		ConversationID: conversationID,
	}
}

// ParseFilters reads "types=pdf,video from=2024-01-01 to=2024-03-31"
func ParseFilters(args []string) (Filters, error) {
	var f Filters
	for _, arg := range args {
		key, value, ok := strings.Cut(arg, "=")
		if !ok {
			return Filters{}, fmt.Errorf("filter %q is not key=value", arg)
		}
		switch strings.ToLower(key) {
		case "types", "type":
			for _, t := range strings.Split(value, ",") {
				if t = strings.TrimSpace(t); t != "" && !strings.EqualFold(t, "all") {
					f.DocumentTypes = append(f.DocumentTypes, t)
				}
			}
		case "from", "start":
			d, err := time.Parse(DateLayout, value)
			if err != nil {
				return Filters{}, fmt.Errorf("invalid from date %q: %w", value, err)
			}
			f.From = d
		case "to", "end":
			d, err := time.Parse(DateLayout, value)
			if err != nil {
				return Filters{}, fmt.Errorf("invalid to date %q: %w", value, err)
			}
			f.To = d
		default:
			return Filters{}, fmt.Errorf("unknown filter %q", key)
		}
	}
	return f, f.Validate()
}

func formatDate(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(DateLayout)
}
