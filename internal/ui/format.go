package ui

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"athena-chat/internal/athena"
)

// FormatReference renders a source or related document as one line:
// its name, where in the document the match is, and its score.
func FormatReference(ref athena.DocumentReference) string {
	var b strings.Builder
	b.WriteString(referenceName(ref))

	if page, ok := metaInt(ref.Metadata, "page", "page_number"); ok {
		fmt.Fprintf(&b, " · p.%d", page)
	}
	if start, ok := metaSeconds(ref.Metadata, "start_time", "start"); ok {
		if end, ok := metaSeconds(ref.Metadata, "end_time", "end"); ok && end > start {
			fmt.Fprintf(&b, " · %s–%s", formatClock(start), formatClock(end))
		} else {
			fmt.Fprintf(&b, " · %s", formatClock(start))
		}
	}
	if ref.Score > 0 {
		fmt.Fprintf(&b, " · score %.2f", ref.Score)
	}
	if ref.DeletedAt != "" {
		b.WriteString(" · deleted")
	} else if ref.UpdatedAt != "" {
		if t, err := time.Parse(time.RFC3339, ref.UpdatedAt); err == nil {
			fmt.Fprintf(&b, " · updated %s", t.Format("2006-01-02"))
		}
	}
	return b.String()
}

func referenceName(ref athena.DocumentReference) string {
	for _, key := range []string{"title", "file_name", "filename", "name"} {
		if s, ok := ref.Metadata[key].(string); ok && strings.TrimSpace(s) != "" {
			return truncate(strings.TrimSpace(s), 60)
		}
	}
	switch {
	case ref.DocumentID != "":
		return "document " + ref.DocumentID
	case ref.KnowledgeEntryID != "":
		return "knowledge entry " + ref.KnowledgeEntryID
	default:
		return "untitled source"
	}
}

func metaInt(meta map[string]any, keys ...string) (int, bool) {
	for _, key := range keys {
		switch v := meta[key].(type) {
		case float64:
			return int(v), true
		case int:
			return v, true
		case string:
			if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
				return n, true
			}
		}
	}
	return 0, false
}

// metaSeconds reads a media offset given as seconds or as "mm:ss"/"hh:mm:ss"
func metaSeconds(meta map[string]any, keys ...string) (float64, bool) {
	for _, key := range keys {
		switch v := meta[key].(type) {
		case float64:
			return v, true
		case int:
			return float64(v), true
		case string:
			if s, ok := parseClock(v); ok {
				return s, true
			}
		}
	}
	return 0, false
}

func parseClock(s string) (float64, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f, true
	}
	parts := strings.Split(s, ":")
	if len(parts) > 3 {
		return 0, false
	}
	total := 0.0
	for _, p := range parts {
		n, err := strconv.ParseFloat(p, 64)
		if err != nil || n < 0 {
			return 0, false
		}
		total = total*60 + n
	}
	return total, true
}

func formatClock(seconds float64) string {
	total := int(math.Floor(seconds))
	h, m, s := total/3600, (total%3600)/60, total%60
	if h > 0 {
		return fmt.Sprintf("%d:%02d:%02d", h, m, s)
	}
	return fmt.Sprintf("%02d:%02d", m, s)
}

// Helper functions

func truncate(s string, maxLen int) string {
	r := []rune(s)
	if len(r) <= maxLen {
		return s
	}
	return string(r[:maxLen-3]) + "..."
}

func formatDuration(d time.Duration) string {
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
	return fmt.Sprintf("%.1fs", d.Seconds())
}
