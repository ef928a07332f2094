package terminal

import (
	"bufio"
	"errors"
	"io"
	"os"
	"strings"

	"golang.org/x/term"
)

// continuation at the end of a line keeps the question open, the terminal
// counterpart of Shift+Enter
const continuation = `\`

const defaultWidth = 80

// Input reads questions and commands from the user
type Input struct {
	reader *bufio.Reader
	// prompt is shown before every continuation line
	prompt func()
}

// NewInput creates an input reading from r. continuationPrompt, when set,
// runs before each continuation line is read.
func NewInput(r io.Reader, continuationPrompt func()) *Input {
	return &Input{reader: bufio.NewReader(r), prompt: continuationPrompt}
}

// ReadUserInput reads one entry. Lines ending in a backslash are joined with
// newlines; a plain Enter submits.
func (in *Input) ReadUserInput() (string, error) {
	var lines []string
	for {
		line, err := in.reader.ReadString('\n')
		if err != nil {
			if !errors.Is(err, io.EOF) || (line == "" && len(lines) == 0) {
				return "", err
			}
			// Input ended mid-entry: submit what was typed
			lines = append(lines, strings.TrimSuffix(strings.TrimRight(line, "\r\n"), continuation))
			return joinLines(lines), nil
		}

		line = strings.TrimRight(line, "\r\n")
		if strings.HasSuffix(line, continuation) {
			lines = append(lines, strings.TrimSuffix(line, continuation))
			if in.prompt != nil {
				in.prompt()
			}
			continue
		}
		lines = append(lines, line)
		return joinLines(lines), nil
	}
}

func joinLines(lines []string) string {
	return strings.TrimSpace(strings.Join(lines, "\n"))
}

// IsTerminal reports whether f is connected to a terminal
func IsTerminal(f *os.File) bool {
	return term.IsTerminal(int(f.Fd()))
}

// Width returns the column count of f, or 80 when it is not a terminal
func Width(f *os.File) int {
	if !IsTerminal(f) {
		return defaultWidth
	}
	w, _, err := term.GetSize(int(f.Fd()))
	if err != nil || w <= 0 {
		return defaultWidth
	}
	return w
}
