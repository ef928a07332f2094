package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"athena-chat/internal/athena"
	"athena-chat/internal/chat"
	"athena-chat/internal/config"
	"athena-chat/internal/history"
	"athena-chat/internal/logger"
	"athena-chat/internal/terminal"
	"athena-chat/internal/ui"
)

const recentLimit = 10

func main() {
	// Parse command-line flags
	cfg, startRoute, err := loadConfig(os.Args[1:], os.Stderr)
	if errors.Is(err, flag.ErrHelp) {
		os.Exit(0)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Configuration error: %v\n", err)
		os.Exit(1)
	}

	log := logger.New(logger.Options{FilePath: cfg.LogFile, Verbose: cfg.Verbose})

	// Initialize display
	display := ui.NewDisplay(ui.Options{
		Out:         os.Stdout,
		Width:       terminal.Width(os.Stdout),
		Plain:       cfg.Plain,
		Color:       terminal.IsTerminal(os.Stdout),
		TypingDelay: cfg.TypingDelay,
	})

	// Initialize components
	client := athena.NewClient(cfg.Host, cfg.Token, cfg.RequestTimeout, log)
	session := chat.NewSession(chat.NewAthenaBackend(client), display, log, cfg.Options())
	recent := history.NewManager(cfg.HistoryPath, cfg.MaxHistory)

	// Load recent conversations
	if err := recent.Load(); err != nil {
		display.PrintWarning(fmt.Sprintf("Failed to load recent conversations: %v", err))
	}

	app := &app{
		cfg:     cfg,
		log:     log,
		display: display,
		session: session,
		recent:  recent,
		filters: cfg.Filters(),
		sigs:    make(chan os.Signal, 1),
	}
	signal.Notify(app.sigs, os.Interrupt, syscall.SIGTERM)

	code := app.run(startRoute)
	session.Stop()
	display.Close()
	_ = log.Sync()
	os.Exit(code)
}

// loadConfig layers defaults, config file, environment and flags
func loadConfig(args []string, stderr io.Writer) (*config.Config, string, error) {
	fs := flag.NewFlagSet("athena-chat", flag.ContinueOnError)
	fs.SetOutput(stderr)

	configPath := fs.String("config", config.DefaultPath(), "Path to the YAML config file")
	host := fs.String("host", "", "AthenaPro chat host URL")
	token := fs.String("token", "", "API bearer token")
	timeout := fs.Duration("timeout", 0, "REST request timeout")
	pace := fs.Duration("pace", 0, "Delay between two narrated stream events")
	typingDelay := fs.Duration("typing-delay", 0, "Delay between typed words of an answer (0 disables the animation)")
	types := fs.String("types", "", "Default document types, comma separated")
	plain := fs.Bool("plain", false, "Print answers as plain text instead of rendered markdown")
	verbose := fs.Bool("verbose", false, "Enable verbose logging on stderr")
	logFile := fs.String("log-file", "", "Log file path")
	route := fs.String("route", "", "Chat route to open on start, e.g. /chat/<id>?msgId=<msg>")

	if err := fs.Parse(args); err != nil {
		return nil, "", err
	}

	cfg := config.NewConfig()
	if err := cfg.LoadFile(*configPath); err != nil {
		return nil, "", err
	}
	if err := cfg.LoadEnv(config.DotEnvFiles()...); err != nil {
		return nil, "", err
	}

	// Flags win over file and environment, but only when given
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "host":
			cfg.Host = *host
		case "token":
			cfg.Token = *token
		case "timeout":
			cfg.RequestTimeout = *timeout
		case "pace":
			cfg.Pace = *pace
		case "typing-delay":
			cfg.TypingDelay = *typingDelay
		case "types":
			cfg.DocumentTypes = splitList(*types)
		case "plain":
			cfg.Plain = *plain
		case "verbose":
			cfg.Verbose = *verbose
		case "log-file":
			cfg.LogFile = *logFile
		}
	})
	cfg.Host = strings.TrimRight(cfg.Host, "/")

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		return nil, "", err
	}
	return cfg, *route, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// app is the interactive loop around one chat session
type app struct {
	cfg     *config.Config
	log     *zap.Logger
	display *ui.Display
	session *chat.Session
	recent  *history.Manager
	filters chat.Filters
	sigs    chan os.Signal
}

func (a *app) run(startRoute string) int {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a.display.PrintWelcome(a.cfg.Host)

	if startRoute != "" {
		if a.openRoute(ctx, startRoute) {
			return 0
		}
	}

	lines := make(chan string)
	go func() {
		defer close(lines)
		input := terminal.NewInput(os.Stdin, a.display.PrintContinuation)
		for {
			line, err := input.ReadUserInput()
			if err != nil {
				return
			}
			lines <- line
		}
	}()

	// Main conversation loop
	for {
		a.display.PrintPrompt()

		select {
		case line, ok := <-lines:
			if !ok {
				a.display.PrintGoodbye()
				return 0
			}
			if quit := a.handle(ctx, line); quit {
				a.display.PrintGoodbye()
				return 0
			}
		case <-a.sigs:
			// Ctrl-C while idle exits
			a.display.PrintGoodbye()
			return 0
		}
	}
}

// handle runs one line of input and reports whether the user asked to quit
func (a *app) handle(ctx context.Context, line string) bool {
	line = strings.TrimSpace(line)
	if line == "" {
		return false
	}
	if !strings.HasPrefix(line, "/") {
		return a.ask(ctx, line)
	}

	fields := strings.Fields(line)
	cmd, args := fields[0], fields[1:]

	switch cmd {
	case "/exit", "/quit":
		return true

	case "/help":
		a.display.PrintWelcome(a.cfg.Host)

	case "/new":
		a.session.NewChat()
		a.display.PrintSuccess("Started a new chat.")

	case "/open":
		if len(args) != 1 {
			a.display.PrintWarning("Usage: /open <conversation id>")
			return false
		}
		id := args[0]
		if entry, ok := a.recent.Lookup(id); ok {
			id = entry.ConversationID
		}
		return a.navigate(ctx, chat.Route{ConversationID: id})

	case "/goto":
		if len(args) != 1 {
			a.display.PrintWarning("Usage: /goto <message id>")
			return false
		}
		if a.session.ConversationID() == "" {
			a.display.PrintWarning("Open a conversation first.")
			return false
		}
		return a.interruptible(ctx, func(ctx context.Context) error {
			return a.session.FindMessage(ctx, args[0])
		})

	case "/more":
		return a.interruptible(ctx, func(ctx context.Context) error {
			n, err := a.session.LoadMore(ctx)
			if err == nil && n == 0 && !a.session.Cursor().HasMore {
				a.display.PrintInfo("No older messages.")
			}
			return err
		})

	case "/history":
		c := a.session.Cursor()
		a.display.PrintInfo(fmt.Sprintf("%s · %d messages · pages %v · more: %t",
			a.session.Route(), len(a.session.Messages()), c.FetchedPages, c.HasMore))

	case "/recent":
		a.display.PrintRecent(a.recent.Recent(recentLimit))

	case "/filter":
		a.filter(args)

	case "/route":
		if len(args) != 1 {
			a.display.PrintWarning("Usage: /route /chat/<id>?msgId=<message id>")
			return false
		}
		return a.openRoute(ctx, args[0])

	default:
		a.display.PrintWarning(fmt.Sprintf("Unknown command %s. Type /help for the list.", cmd))
	}
	return false
}

// ask submits a question and waits until its turn has finished, typing
// included, so the next prompt never overlaps an answer
func (a *app) ask(ctx context.Context, question string) bool {
	newConversation := a.session.ConversationID() == ""
	a.display.ResetTurn()

	if err := a.session.Submit(ctx, question, a.filters); err != nil {
		switch {
		case errors.Is(err, chat.ErrEmptyQuestion), errors.Is(err, chat.ErrCanceled):
		case errors.Is(err, chat.ErrTurnInFlight), errors.Is(err, chat.ErrInvalidDateRange):
			a.display.PrintWarning(err.Error())
		default:
			// Already reported as a toast
			a.log.Debug("submission failed", zap.Error(err))
		}
		return false
	}

	quit := false
	select {
	case <-a.display.TurnDone():
	case sig := <-a.sigs:
		a.session.Stop()
		a.display.PrintInfo("Stopped.")
		a.waitTurn()
		quit = sig == syscall.SIGTERM
	}

	if id := a.session.ConversationID(); id != "" {
		title := ""
		if newConversation {
			title = question
		}
		if err := a.recent.Touch(id, title); err != nil {
			a.log.Warn("failed to save recent conversations", zap.Error(err))
		}
	}
	return quit
}

func (a *app) waitTurn() {
	select {
	case <-a.display.TurnDone():
	case <-time.After(2 * time.Second):
	}
}

func (a *app) openRoute(ctx context.Context, raw string) bool {
	r, err := chat.ParseRoute(raw)
	if err != nil {
		a.display.PrintError(err)
		return false
	}
	return a.navigate(ctx, r)
}

func (a *app) navigate(ctx context.Context, r chat.Route) bool {
	quit := a.interruptible(ctx, func(ctx context.Context) error {
		return a.session.Navigate(ctx, r)
	})
	if id := a.session.ConversationID(); id != "" && id == r.ConversationID {
		if err := a.recent.Touch(id, ""); err != nil {
			a.log.Warn("failed to save recent conversations", zap.Error(err))
		}
	}
	return quit
}

// interruptible runs fn and cancels it on Ctrl-C. Failures were already
// shown as toasts, so they are only logged.
func (a *app) interruptible(ctx context.Context, fn func(ctx context.Context) error) bool {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- fn(ctx) }()

	quit := false
	var err error
	select {
	case err = <-done:
	case sig := <-a.sigs:
		cancel()
		err = <-done
		quit = sig == syscall.SIGTERM
	}
	if err != nil && !errors.Is(err, chat.ErrCanceled) {
		a.log.Debug("command failed", zap.Error(err))
	}
	a.display.Flush()
	return quit
}

func (a *app) filter(args []string) {
	switch {
	case len(args) == 0:
		a.display.PrintInfo("Filters: " + a.filters.String())
		return
	case len(args) == 1 && args[0] == "clear":
		a.filters = a.cfg.Filters()
	default:
		f, err := chat.ParseFilters(args)
		if err != nil {
			a.display.PrintError(err)
			return
		}
		a.filters = f
	}
	a.display.PrintSuccess("Filters: " + a.filters.String())
}
