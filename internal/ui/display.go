package ui

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/glamour"
	"github.com/fatih/color"
	"github.com/patrickmn/go-cache"

	"athena-chat/internal/athena"
	"athena-chat/internal/chat"
	"athena-chat/internal/history"
)

// Options configures a Display
type Options struct {
	Out         io.Writer
	Width       int
	Plain       bool
	Color       bool
	TypingDelay time.Duration
	// ToastTTL is how long a toast id stays suppressed after it was shown
	ToastTTL time.Duration
}

type palette struct {
	user, bot, dim, info, warn, err, success, highlight *color.Color
}

func newPalette(enabled bool) palette {
	mk := func(attrs ...color.Attribute) *color.Color {
		c := color.New(attrs...)
		if enabled {
			c.EnableColor()
		} else {
			c.DisableColor()
		}
		return c
	}
	return palette{
		user:      mk(color.FgGreen, color.Bold),
		bot:       mk(color.FgCyan, color.Bold),
		dim:       mk(color.FgHiBlack),
		info:      mk(color.FgCyan),
		warn:      mk(color.FgYellow),
		err:       mk(color.FgRed),
		success:   mk(color.FgGreen),
		highlight: mk(color.FgMagenta, color.Bold),
	}
}

// Display renders a chat session to the terminal. Every write happens on
// one render goroutine, so observer callbacks never wait for the terminal.
type Display struct {
	out         io.Writer
	width       int
	plain       bool
	typingDelay time.Duration
	renderer    *glamour.TermRenderer
	colors      palette

	toasts   *cache.Cache
	toastTTL time.Duration

	jobs      chan func()
	quit      chan struct{}
	stopped   chan struct{}
	closeOnce sync.Once
	turnDone  chan struct{}
	typing    atomic.Bool

	// Owned by the render goroutine
	prev         []athena.Message
	lastProgress chat.Progress
	lastRoute    string
	turnStart    time.Time
	highlightGen uint64
}

// NewDisplay creates a display and starts its render goroutine
func NewDisplay(opts Options) *Display {
	if opts.Out == nil {
		opts.Out = os.Stdout
	}
	if opts.Width <= 0 {
		opts.Width = 80
	}
	if opts.ToastTTL <= 0 {
		opts.ToastTTL = 5 * time.Second
	}

	d := &Display{
		out:         opts.Out,
		width:       opts.Width,
		plain:       opts.Plain,
		typingDelay: opts.TypingDelay,
		colors:      newPalette(opts.Color),
		toasts:      cache.New(opts.ToastTTL, 2*opts.ToastTTL),
		toastTTL:    opts.ToastTTL,
		jobs:        make(chan func(), 256),
		quit:        make(chan struct{}),
		stopped:     make(chan struct{}),
		turnDone:    make(chan struct{}, 1),
	}

	if !opts.Plain {
		style := glamour.WithAutoStyle()
		if !opts.Color {
			style = glamour.WithStandardStyle("notty")
		}
		// Create markdown renderer
		renderer, err := glamour.NewTermRenderer(style, glamour.WithWordWrap(max(opts.Width-10, 20)))
		if err == nil {
			d.renderer = renderer
		}
	}

	go d.run()
	return d
}

func (d *Display) run() {
	defer close(d.stopped)
	for {
		select {
		case job := <-d.jobs:
			job()
		case <-d.quit:
			for {
				select {
				case job := <-d.jobs:
					job()
				default:
					return
				}
			}
		}
	}
}

func (d *Display) enqueue(job func()) {
	select {
	case d.jobs <- job:
	case <-d.quit:
	}
}

// Flush waits until everything queued so far has been written
func (d *Display) Flush() {
	done := make(chan struct{})
	d.enqueue(func() { close(done) })
	select {
	case <-done:
	case <-d.stopped:
	}
}

// Close writes what is queued and stops the render goroutine. Typing
// animations still running are completed at once.
func (d *Display) Close() {
	d.closeOnce.Do(func() { close(d.quit) })
	<-d.stopped
}

// TurnDone receives once per finished turn, after its output was written
func (d *Display) TurnDone() <-chan struct{} {
	return d.turnDone
}

// ResetTurn discards a turn-finished signal nobody waited for
func (d *Display) ResetTurn() {
	select {
	case <-d.turnDone:
	default:
	}
}

// Typing reports whether an answer is still being typed out
func (d *Display) Typing() bool {
	return d.typing.Load()
}

// chat.Observer

// ProgressChanged narrates the active stage
func (d *Display) ProgressChanged(p chat.Progress) {
	d.enqueue(func() { d.renderProgress(p) })
}

// MessagesChanged prints whatever appeared in the list since the last call
func (d *Display) MessagesChanged(msgs []athena.Message) {
	d.enqueue(func() { d.renderMessages(msgs) })
}

// RouteChanged shows which conversation is open
func (d *Display) RouteChanged(r chat.Route) {
	d.enqueue(func() { d.renderRoute(r) })
}

// Toast shows message unless a toast with the same id is still showing
func (d *Display) Toast(id, message string) {
	if err := d.toasts.Add(id, message, d.toastTTL); err != nil {
		return
	}
	d.enqueue(func() {
		d.colors.err.Fprintf(d.out, "✗ %s\n", message)
	})
}

// Highlight prints the deep-linked message again, marked, and closes the
// mark after dur unless another message was highlighted meanwhile
func (d *Display) Highlight(msg athena.Message, dur time.Duration) {
	msg.ShouldType = false
	d.enqueue(func() {
		d.highlightGen++
		gen := d.highlightGen
		d.colors.highlight.Fprintf(d.out, "\n➜ Linked message %s\n", msg.ID)
		d.renderMessage(msg, d.colors.highlight, "")
		if dur <= 0 {
			return
		}
		time.AfterFunc(dur, func() {
			d.enqueue(func() {
				if gen == d.highlightGen {
					d.colors.dim.Fprintf(d.out, "  ⋯ end of linked message %s\n", msg.ID)
				}
			})
		})
	})
}

// TurnFinished signals TurnDone once the turn's output is written
func (d *Display) TurnFinished() {
	d.enqueue(func() {
		d.turnStart = time.Time{}
		select {
		case d.turnDone <- struct{}{}:
		default:
		}
	})
}

func (d *Display) renderProgress(p chat.Progress) {
	if p == d.lastProgress {
		return
	}
	d.lastProgress = p
	if !p.Active() {
		return
	}
	if p.Stage == chat.StageConnecting {
		d.turnStart = time.Now()
	}

	c := d.colors.dim
	switch p.Stage {
	case chat.StageError:
		c = d.colors.err
	case chat.StageTimeout:
		c = d.colors.warn
	case chat.StageRetrievedDocuments, chat.StageResponseCompleted:
		c = d.colors.info
	}
	c.Fprintf(d.out, "  ⋯ %s\n", p.Message)
}

func (d *Display) renderRoute(r chat.Route) {
	s := r.String()
	if s == d.lastRoute {
		return
	}
	d.lastRoute = s
	if r.IsError {
		d.colors.warn.Fprintf(d.out, "⚠ The last question failed. Use /new to start over.\n")
		return
	}
	d.colors.dim.Fprintf(d.out, "↳ %s\n", s)
}

// renderMessages diffs msgs against the previous snapshot. The list only
// grows at both ends or changes its head in place; anything else is a new
// conversation and is printed whole.
func (d *Display) renderMessages(msgs []athena.Message) {
	prev := d.prev
	d.prev = msgs
	if len(msgs) == 0 {
		return
	}

	offset, ok := align(prev, msgs)
	if !ok {
		if len(msgs) > 1 {
			d.colors.dim.Fprintf(d.out, "── %d messages ──\n", len(msgs))
		}
		for i := len(msgs) - 1; i >= 0; i-- {
			msg := msgs[i]
			msg.ShouldType = false
			d.renderMessage(msg, nil, "")
		}
		return
	}

	if older := msgs[offset+len(prev):]; len(older) > 0 {
		d.colors.dim.Fprintf(d.out, "── %d earlier messages ──\n", len(older))
		for i := len(older) - 1; i >= 0; i-- {
			msg := older[i]
			msg.ShouldType = false
			d.renderMessage(msg, nil, "")
		}
	}

	if head := msgs[offset]; head.ID != "" && head.Answer != prev[0].Answer {
		d.renderMessage(head, nil, "updated")
	}

	for i := offset - 1; i >= 0; i-- {
		d.renderMessage(msgs[i], nil, "")
	}
}

// align finds where prev sits inside next
func align(prev, next []athena.Message) (int, bool) {
	if len(prev) == 0 {
		return 0, false
	}
	for k := 0; k+len(prev) <= len(next); k++ {
		same := true
		for i := range prev {
			if !sameMessage(prev[i], next[k+i]) {
				same = false
				break
			}
		}
		if same {
			return k, true
		}
	}
	return 0, false
}

func sameMessage(a, b athena.Message) bool {
	if a.Sender != b.Sender || a.ID != b.ID {
		return false
	}
	if a.ID == "" {
		return a.Answer == b.Answer
	}
	return true
}

func (d *Display) renderMessage(msg athena.Message, accent *color.Color, note string) {
	var header *color.Color
	var who string
	if msg.Sender == athena.SenderUser {
		header, who = d.colors.user, "You"
	} else {
		header, who = d.colors.bot, "Athena"
	}
	if accent != nil {
		header = accent
	}

	fmt.Fprintln(d.out)
	header.Fprintf(d.out, "┌─ %s", who)
	if note != "" {
		d.colors.dim.Fprintf(d.out, " (%s)", note)
	}
	fmt.Fprintln(d.out)

	body := d.formatAnswer(msg.Answer)
	if msg.ShouldType && d.typingDelay > 0 {
		d.typeOut(body)
	} else {
		fmt.Fprint(d.out, body)
	}

	d.renderReferences("📚 Sources", msg.SourceDocuments)
	d.renderReferences("🔗 Related", msg.RelatedDocuments)

	if msg.ShouldType && !d.turnStart.IsZero() {
		d.colors.dim.Fprintf(d.out, "│ ⏱️  %s\n", formatDuration(time.Since(d.turnStart)))
	}
	d.colors.dim.Fprintln(d.out, "└")
}

// formatAnswer renders the answer and prefixes every line with the gutter
func (d *Display) formatAnswer(answer string) string {
	text := answer
	if d.renderer != nil {
		if rendered, err := d.renderer.Render(answer); err == nil {
			text = rendered
		} else {
			text = PlainText(answer)
		}
	} else {
		text = PlainText(answer)
	}

	gutter := d.colors.dim.Sprint("│")
	var b strings.Builder
	for _, line := range strings.Split(strings.Trim(text, "\n"), "\n") {
		b.WriteString(gutter)
		b.WriteString(" ")
		b.WriteString(line)
		b.WriteString("\n")
	}
	return b.String()
}

// typeOut writes text word by word
func (d *Display) typeOut(text string) {
	d.typing.Store(true)
	defer d.typing.Store(false)

	words := strings.SplitAfter(text, " ")
	for i, w := range words {
		select {
		case <-d.quit:
			fmt.Fprint(d.out, strings.Join(words[i:], ""))
			return
		default:
		}
		fmt.Fprint(d.out, w)
		time.Sleep(d.typingDelay)
	}
}

func (d *Display) renderReferences(title string, refs []athena.DocumentReference) {
	if len(refs) == 0 {
		return
	}
	d.colors.dim.Fprintf(d.out, "│\n│ %s:\n", title)
	for _, ref := range refs {
		d.colors.dim.Fprintf(d.out, "│    • %s\n", FormatReference(ref))
	}
}

// Direct output used by the REPL

func (d *Display) print(fn func(w io.Writer)) {
	d.enqueue(func() { fn(d.out) })
}

// PrintWelcome displays the welcome message
func (d *Display) PrintWelcome(host string) {
	d.print(func(w io.Writer) {
		d.colors.bot.Fprintln(w, "╔══════════════════════════════════════╗")
		d.colors.bot.Fprintln(w, "║   athena-chat · AthenaPro assistant  ║")
		d.colors.bot.Fprintln(w, "╚══════════════════════════════════════╝")
		d.colors.dim.Fprintf(w, "\nHost: %s\n", host)
		d.colors.dim.Fprintln(w, "Commands: /new | /open <id> | /goto <msgId> | /more | /recent | /filter | /route <path> | /exit")
		d.colors.dim.Fprintln(w, "End a line with \\ to continue on the next one. Ctrl-C stops an answer.")
		fmt.Fprintln(w)
	})
}

// PrintPrompt displays the input prompt
func (d *Display) PrintPrompt() {
	d.print(func(w io.Writer) {
		fmt.Fprintln(w)
		d.colors.user.Fprint(w, "❯ ")
	})
}

// PrintContinuation displays the prompt of a continuation line
func (d *Display) PrintContinuation() {
	d.print(func(w io.Writer) { d.colors.dim.Fprint(w, "… ") })
}

// PrintInfo displays info message
func (d *Display) PrintInfo(msg string) {
	d.print(func(w io.Writer) { d.colors.info.Fprintf(w, "ℹ %s\n", msg) })
}

// PrintWarning displays warning message
func (d *Display) PrintWarning(msg string) {
	d.print(func(w io.Writer) { d.colors.warn.Fprintf(w, "⚠ %s\n", msg) })
}

// PrintError displays error message
func (d *Display) PrintError(err error) {
	d.print(func(w io.Writer) { d.colors.err.Fprintf(w, "✗ Error: %v\n", err) })
}

// PrintSuccess displays success message
func (d *Display) PrintSuccess(msg string) {
	d.print(func(w io.Writer) { d.colors.success.Fprintf(w, "✓ %s\n", msg) })
}

// PrintRecent lists recently used conversations
func (d *Display) PrintRecent(entries []history.Entry) {
	d.print(func(w io.Writer) {
		if len(entries) == 0 {
			d.colors.dim.Fprintln(w, "No recent conversations.")
			return
		}
		d.colors.info.Fprintln(w, "Recent conversations:")
		for i, e := range entries {
			title := e.Title
			if title == "" {
				title = "(untitled)"
			}
			fmt.Fprintf(w, "  %2d. %s ", i+1, truncate(title, max(d.width-40, 20)))
			d.colors.dim.Fprintf(w, "%s · %s\n", e.ConversationID, e.UpdatedAt.Local().Format("2006-01-02 15:04"))
		}
	})
}

// PrintGoodbye displays goodbye message
func (d *Display) PrintGoodbye() {
	d.print(func(w io.Writer) {
		d.colors.bot.Fprintln(w, "\nGoodbye! 👋")
	})
}
