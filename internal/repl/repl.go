// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package repl implements the interactive read-eval-print loop.
//
// Input beginning with the configured prefix character is dispatched
// through the command registry. Everything else goes to the active
// mode: chat turns stream through the completion API and persist to
// the conversation store, image turns generate a picture and write it
// to the output directory without touching the store.
package repl

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"
	"unicode/utf8"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
	"github.com/peterh/liner"

	"aiplay/internal/commands"
	"aiplay/internal/config"
	"aiplay/internal/openai"
	"aiplay/internal/session"
	"aiplay/internal/store"
	"aiplay/internal/ui/styles"
)

// =============================================================================
// STYLES
// =============================================================================

var (
	// Prompt style
	promptStyle = lipgloss.NewStyle().
			Foreground(styles.Cyan).
			Bold(true)

	// Welcome banner style
	welcomeStyle = lipgloss.NewStyle().
			Foreground(styles.Purple).
			Bold(true)

	// Info style
	infoStyle = lipgloss.NewStyle().
			Foreground(styles.TextSecondary)

	// Command output style
	commandStyle = lipgloss.NewStyle().
			Foreground(styles.Emerald)

	// Warning style
	warningStyle = lipgloss.NewStyle().
			Foreground(styles.Amber)

	// Error style
	errorStyle = lipgloss.NewStyle().
			Foreground(styles.Rose)

	// Session summary header
	summaryHeaderStyle = lipgloss.NewStyle().
				Foreground(styles.Cyan).
				Bold(true)

	// Muted detail style
	mutedStyle = lipgloss.NewStyle().
			Foreground(styles.TextMuted)
)

// =============================================================================
// REPL
// =============================================================================

// REPL is the interactive session driver.
type REPL struct {
	cfg      *config.Config
	store    *store.ConversationStore
	session  *session.Session
	client   *openai.Client
	registry *commands.Registry
	parser   *commands.Parser
	input    *LineReader
	output   *termenv.Output

	// cancelFunc aborts the in-flight API call on interrupt. Guarded
	// by cancelMu, the signal goroutine reads it concurrently.
	cancelMu   sync.Mutex
	cancelFunc context.CancelFunc

	// Session statistics
	startTime   time.Time
	turnCount   int
	totalTokens int
	imageCount  int
}

// New creates a REPL wired to the given collaborators.
func New(cfg *config.Config, st *store.ConversationStore, client *openai.Client) *REPL {
	return &REPL{
		cfg:       cfg,
		store:     st,
		session:   session.New(st),
		client:    client,
		registry:  commands.NewRegistry(),
		parser:    commands.NewParser(prefixRune(cfg.Global.ActionPrefix)),
		output:    termenv.NewOutput(os.Stdout),
		startTime: time.Now(),
	}
}

func prefixRune(s string) rune {
	r, _ := utf8.DecodeRuneInString(s)
	if r == utf8.RuneError {
		return ':'
	}
	return r
}

// Print writes a line of command output.
func (r *REPL) Print(s string) {
	fmt.Println(commandStyle.Render(s))
}

// ClearScreen wipes the terminal.
func (r *REPL) ClearScreen() {
	r.output.ClearScreen()
}

// Run drives the interactive loop until quit, Ctrl+C or EOF.
func (r *REPL) Run() error {
	applyColorSetting(r.cfg.Global.Color)

	r.printWelcome()

	r.input = NewLineReader()
	defer r.input.Close()

	// An interrupt during a stream cancels the stream. At the prompt
	// the reader owns the terminal in raw mode, so Ctrl+C surfaces as
	// liner.ErrPromptAborted; a signal delivered from outside never
	// reaches the blocked read and the handler drives shutdown itself.
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	go func() {
		for range sigChan {
			if r.cancelInFlight() {
				continue
			}
			r.shutdown()
		}
	}()

	for {
		// The prefix can change mid-session via set.
		r.parser.SetPrefix(prefixRune(r.cfg.Global.ActionPrefix))

		input, err := r.input.ReadInput(r.prompt())
		if err != nil {
			if err == liner.ErrPromptAborted {
				fmt.Println()
				r.printExitSummary()
				return nil
			}
			// EOF (Ctrl+D) or other input error ends the session
			fmt.Println()
			r.printExitSummary()
			return nil
		}

		input = strings.TrimSpace(input)
		if input == "" {
			continue
		}

		result := r.parser.Parse(input)
		if result.IsCommand {
			ctx := &commands.Context{
				Config:     r.cfg,
				Session:    r.session,
				Store:      r.store,
				Term:       r,
				Registry:   r.registry,
				SaveConfig: r.cfg.Save,
			}
			if err := r.registry.Execute(ctx, result); err != nil {
				r.reportCommandError(err)
			}
			if ctx.QuitRequested() {
				r.printExitSummary()
				return nil
			}
			continue
		}

		switch r.session.Mode() {
		case session.ModeImage:
			if err := r.imageTurn(input); err != nil {
				r.reportError(err)
			}
		default:
			if err := r.chatTurn(input); err != nil {
				r.reportError(err)
			}
		}
	}
}

func (r *REPL) prompt() string {
	return promptStyle.Render(fmt.Sprintf("%s> ", r.session.Mode()))
}

// =============================================================================
// INTERRUPT HANDLING
// =============================================================================

// setCancel publishes the cancel function for the in-flight API call,
// or clears it with nil.
func (r *REPL) setCancel(cancel context.CancelFunc) {
	r.cancelMu.Lock()
	r.cancelFunc = cancel
	r.cancelMu.Unlock()
}

// takeCancel claims the in-flight cancel function, leaving nil behind.
func (r *REPL) takeCancel() context.CancelFunc {
	r.cancelMu.Lock()
	cancel := r.cancelFunc
	r.cancelFunc = nil
	r.cancelMu.Unlock()
	return cancel
}

// cancelInFlight aborts the in-flight API call, if any. Reports
// whether a call was cancelled.
func (r *REPL) cancelInFlight() bool {
	cancel := r.takeCancel()
	if cancel == nil {
		return false
	}
	cancel()
	fmt.Fprintln(os.Stderr, "\n"+warningStyle.Render("[Cancelled]"))
	return true
}

// shutdown ends the session from the signal goroutine while the main
// loop is blocked at the prompt. The store is closed here because the
// process exits without unwinding main.
func (r *REPL) shutdown() {
	fmt.Println()
	r.printExitSummary()
	if r.input != nil {
		r.input.Close()
	}
	r.store.Close()
	os.Exit(0)
}

// =============================================================================
// CHAT TURNS
// =============================================================================

// chatTurn runs one user exchange: persist the user message, stream
// the reply, persist the assistant message. A failed stream rolls the
// user message out of the in-memory history so the next turn is not
// poisoned by a half-finished exchange.
func (r *REPL) chatTurn(input string) error {
	ctx, cancel := context.WithCancel(context.Background())
	r.setCancel(cancel)
	defer func() {
		r.setCancel(nil)
		cancel()
	}()

	if err := r.session.AppendUser(ctx, input); err != nil {
		return err
	}

	// Render markdown only on a TTY, stream raw tokens otherwise so
	// piped output stays clean.
	useMarkdown := IsStdoutTTY()

	fmt.Println()

	result, err := r.client.ChatStream(ctx, openai.ChatRequest{
		Model:       r.cfg.Chat.Model,
		Temperature: r.cfg.Chat.Temperature,
		Messages:    openai.ChatMessagesFrom(r.session.Messages()),
	}, func(token string) {
		if !useMarkdown {
			fmt.Print(token)
		}
	})
	if err != nil {
		// Roll the turn back so retrying starts clean.
		r.session.DropLast()
		return err
	}

	if useMarkdown {
		fmt.Print(renderMarkdown(result.Content))
	}
	fmt.Println()

	if err := r.session.AppendAssistant(ctx, result.Content, result.Usage); err != nil {
		fmt.Fprintf(os.Stderr, "%s reply shown but not saved: %v\n",
			warningStyle.Render("[Warning]"), err)
	}

	r.turnCount++
	if result.Usage != nil {
		r.totalTokens += result.Usage.TotalTokens
		fmt.Println(mutedStyle.Render(fmt.Sprintf("[%d tokens, %.1fs]",
			result.Usage.TotalTokens, result.Duration.Seconds())))
	}
	fmt.Println()

	return nil
}

// =============================================================================
// IMAGE TURNS
// =============================================================================

// imageTurn generates one image from the prompt and writes it to the
// output directory. Image exchanges are not recorded in the store;
// the PNG on disk is the artifact.
func (r *REPL) imageTurn(prompt string) error {
	ctx, cancel := context.WithCancel(context.Background())
	r.setCancel(cancel)
	defer func() {
		r.setCancel(nil)
		cancel()
	}()

	fmt.Println(infoStyle.Render("Generating image..."))

	result, err := r.client.GenerateImage(ctx, openai.ImageRequest{
		Prompt: prompt,
		Model:  r.cfg.Image.Model,
		Size:   r.cfg.Image.Size,
		Format: r.cfg.Image.Format,
	})
	if err != nil {
		return err
	}

	path, err := saveImage(r.cfg.Global.OutputDir, prompt, result.Data)
	if err != nil {
		return err
	}

	r.imageCount++
	fmt.Printf("%s %s\n", commandStyle.Render("Saved"), path)
	if result.RevisedPrompt != "" {
		fmt.Println(mutedStyle.Render("Revised prompt: " + result.RevisedPrompt))
	}
	fmt.Println()

	return nil
}

// =============================================================================
// ERROR REPORTING
// =============================================================================

// reportCommandError renders dispatch failures, each kind distinctly.
func (r *REPL) reportCommandError(err error) {
	var unknownCmd *commands.UnknownCommandError
	var invalidArgs *commands.InvalidArgumentsError
	var alreadyInMode *session.AlreadyInModeError

	prefix := r.cfg.Global.ActionPrefix

	switch {
	case errors.As(err, &unknownCmd):
		fmt.Printf("%s %v. Try %shelp.\n", errorStyle.Render("[Error]"), err, prefix)
	case errors.As(err, &invalidArgs):
		fmt.Printf("%s %s\n", errorStyle.Render("[Error]"), invalidArgs.Reason)
		fmt.Println(infoStyle.Render("Usage: " + prefix + invalidArgs.Usage))
	case errors.As(err, &alreadyInMode):
		fmt.Println(infoStyle.Render(fmt.Sprintf("Already in %s mode.", alreadyInMode.Mode)))
	case errors.Is(err, config.ErrUnknownKey):
		fmt.Printf("%s %v. See %ssettings for the available keys.\n",
			errorStyle.Render("[Error]"), err, prefix)
	case errors.Is(err, config.ErrInvalidValue):
		fmt.Printf("%s %v\n", errorStyle.Render("[Error]"), err)
	default:
		r.reportError(err)
	}
}

// reportError renders turn failures.
func (r *REPL) reportError(err error) {
	if errors.Is(err, context.Canceled) {
		// Cancellation already printed its notice
		return
	}
	fmt.Fprintf(os.Stderr, "%s %v\n", errorStyle.Render("[Error]"), err)
}

// =============================================================================
// BANNERS
// =============================================================================

func (r *REPL) printWelcome() {
	prefix := r.cfg.Global.ActionPrefix

	fmt.Println()
	fmt.Println(welcomeStyle.Render("aiplay"))
	fmt.Println(infoStyle.Render(strings.Repeat("─", 30)))
	fmt.Printf("%s %s\n",
		infoStyle.Render("Chat model:"),
		commandStyle.Render(r.cfg.Chat.Model))
	fmt.Printf("%s %s\n",
		infoStyle.Render("Image model:"),
		commandStyle.Render(r.cfg.Image.Model))

	if !r.client.IsConfigured() {
		fmt.Printf("%s %s\n",
			infoStyle.Render("API key:"),
			warningStyle.Render("not set (set OPENAI_API_KEY)"))
	}

	fmt.Println()
	fmt.Println(infoStyle.Render(fmt.Sprintf(
		"Type a message and press Enter. Commands: %shelp, %squit", prefix, prefix)))
	fmt.Println()
}

func (r *REPL) printExitSummary() {
	if r.turnCount == 0 && r.imageCount == 0 {
		fmt.Println(infoStyle.Render("Goodbye!"))
		return
	}

	elapsed := time.Since(r.startTime).Round(time.Second)

	fmt.Println()
	fmt.Println(summaryHeaderStyle.Render("Session Summary"))
	fmt.Println(infoStyle.Render(strings.Repeat("─", 15)))
	fmt.Printf("  %s %d\n", infoStyle.Render("Chat turns:"), r.turnCount)
	if r.imageCount > 0 {
		fmt.Printf("  %s %d\n", infoStyle.Render("Images:"), r.imageCount)
	}
	if r.totalTokens > 0 {
		fmt.Printf("  %s %d\n", infoStyle.Render("Tokens:"), r.totalTokens)
	}
	fmt.Printf("  %s %s\n", infoStyle.Render("Duration:"), elapsed.String())

	fmt.Println()
	fmt.Println(infoStyle.Render("Goodbye!"))
}
