// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package commands provides the prefixed command system for the REPL.
//
// Input starting with the configured prefix character is parsed into a
// verb and arguments, then dispatched through an explicit verb-to-
// handler table. Failures are typed so the REPL can render each kind
// distinctly.
package commands

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"aiplay/internal/config"
	"aiplay/internal/session"
	"aiplay/internal/store"
	"aiplay/internal/util"
)

// =============================================================================
// COMMAND DEFINITION
// =============================================================================

// Command represents a prefixed command that can be executed.
type Command struct {
	// Name is the primary command verb (e.g., "help")
	Name string

	// Aliases are alternative verbs (e.g., "h", "?")
	Aliases []string

	// Description is shown in help output
	Description string

	// Usage shows argument syntax (e.g., "set <key> <value>")
	Usage string

	// MinArgs and MaxArgs bound the accepted argument count.
	// MaxArgs of -1 means unbounded.
	MinArgs int
	MaxArgs int

	// Handler executes the command
	Handler func(ctx *Context, args []string) error

	// Category for grouping in help display
	Category string
}

// Terminal is the output surface handlers write to. The REPL supplies
// an implementation that applies styling.
type Terminal interface {
	// Print writes a line of output.
	Print(s string)
	// ClearScreen wipes the visible terminal contents.
	ClearScreen()
}

// Context carries the collaborators a handler may touch.
type Context struct {
	Config  *config.Config
	Session *session.Session
	Store   *store.ConversationStore
	Term    Terminal

	// SaveConfig persists configuration changes. May be nil in tests.
	SaveConfig func() error

	// Registry lets handlers enumerate commands for help output.
	Registry *Registry

	// quit flags that the REPL should stop after this command.
	quit bool
}

// RequestQuit marks the session for shutdown.
func (c *Context) RequestQuit() {
	c.quit = true
}

// QuitRequested reports whether a handler asked to stop.
func (c *Context) QuitRequested() bool {
	return c.quit
}

// =============================================================================
// COMMAND REGISTRY
// =============================================================================

// Registry holds all registered commands.
type Registry struct {
	commands map[string]*Command
	aliases  map[string]*Command
}

// NewRegistry creates a registry with all built-in commands.
func NewRegistry() *Registry {
	r := &Registry{
		commands: make(map[string]*Command),
		aliases:  make(map[string]*Command),
	}
	r.registerBuiltins()
	return r
}

// Register adds a command to the registry.
func (r *Registry) Register(cmd *Command) {
	r.commands[cmd.Name] = cmd
	for _, alias := range cmd.Aliases {
		r.aliases[alias] = cmd
	}
}

// Get retrieves a command by verb or alias.
func (r *Registry) Get(name string) *Command {
	if cmd, ok := r.commands[name]; ok {
		return cmd
	}
	if cmd, ok := r.aliases[name]; ok {
		return cmd
	}
	return nil
}

// All returns all registered commands sorted by name.
func (r *Registry) All() []*Command {
	cmds := make([]*Command, 0, len(r.commands))
	for _, cmd := range r.commands {
		cmds = append(cmds, cmd)
	}
	sort.Slice(cmds, func(i, j int) bool { return cmds[i].Name < cmds[j].Name })
	return cmds
}

// Execute looks up and runs the command from a parse result.
func (r *Registry) Execute(ctx *Context, result ParseResult) error {
	cmd := r.Get(result.CommandName)
	if cmd == nil {
		return &UnknownCommandError{Name: result.CommandName}
	}

	if len(result.Args) < cmd.MinArgs || (cmd.MaxArgs >= 0 && len(result.Args) > cmd.MaxArgs) {
		return &InvalidArgumentsError{
			Command: cmd.Name,
			Usage:   cmd.Usage,
			Reason:  argCountReason(cmd, len(result.Args)),
		}
	}

	return cmd.Handler(ctx, result.Args)
}

func argCountReason(cmd *Command, got int) string {
	if got < cmd.MinArgs {
		return fmt.Sprintf("expected at least %d argument(s), got %d", cmd.MinArgs, got)
	}
	return fmt.Sprintf("expected at most %d argument(s), got %d", cmd.MaxArgs, got)
}

// =============================================================================
// BUILT-IN COMMANDS
// =============================================================================

func (r *Registry) registerBuiltins() {
	r.Register(&Command{
		Name:        "help",
		Aliases:     []string{"h", "?"},
		Description: "Show available commands",
		Usage:       "help",
		MaxArgs:     0,
		Category:    "General",
		Handler:     handleHelp,
	})

	r.Register(&Command{
		Name:        "quit",
		Aliases:     []string{"q", "exit"},
		Description: "Exit the program",
		Usage:       "quit",
		MaxArgs:     0,
		Category:    "General",
		Handler:     handleQuit,
	})

	r.Register(&Command{
		Name:        "clear",
		Aliases:     []string{"cls"},
		Description: "Clear the screen and start a fresh conversation",
		Usage:       "clear",
		MaxArgs:     0,
		Category:    "Conversation",
		Handler:     handleClear,
	})

	r.Register(&Command{
		Name:        "chat",
		Description: "Switch to chat mode",
		Usage:       "chat",
		MaxArgs:     0,
		Category:    "Modes",
		Handler:     handleChatMode,
	})

	r.Register(&Command{
		Name:        "image",
		Aliases:     []string{"img"},
		Description: "Switch to image generation mode",
		Usage:       "image",
		MaxArgs:     0,
		Category:    "Modes",
		Handler:     handleImageMode,
	})

	r.Register(&Command{
		Name:        "history",
		Aliases:     []string{"hist"},
		Description: "Show the current conversation and recent chats",
		Usage:       "history",
		MaxArgs:     0,
		Category:    "Conversation",
		Handler:     handleHistory,
	})

	r.Register(&Command{
		Name:        "settings",
		Description: "Show settings for the active mode",
		Usage:       "settings",
		MaxArgs:     0,
		Category:    "Settings",
		Handler:     handleSettings,
	})

	r.Register(&Command{
		Name:        "set",
		Description: "Change a setting for the active mode",
		Usage:       "set <key> <value>",
		MinArgs:     2,
		MaxArgs:     2,
		Category:    "Settings",
		Handler:     handleSet,
	})
}

// =============================================================================
// HANDLERS
// =============================================================================

func handleHelp(ctx *Context, args []string) error {
	var b strings.Builder
	b.WriteString("Available commands:\n")
	for _, cmd := range ctx.Registry.All() {
		verb := cmd.Name
		if len(cmd.Aliases) > 0 {
			verb = fmt.Sprintf("%s (%s)", cmd.Name, strings.Join(cmd.Aliases, ", "))
		}
		b.WriteString(fmt.Sprintf("  %-20s %s\n", verb, cmd.Description))
	}
	b.WriteString("\nAnything else is sent to the active mode.")
	ctx.Term.Print(b.String())
	return nil
}

func handleQuit(ctx *Context, args []string) error {
	ctx.RequestQuit()
	return nil
}

func handleClear(ctx *Context, args []string) error {
	ctx.Session.Reset()
	ctx.Term.ClearScreen()
	return nil
}

func handleChatMode(ctx *Context, args []string) error {
	if err := ctx.Session.SwitchMode(session.ModeChat); err != nil {
		return err
	}
	ctx.Term.Print("Switched to chat mode.")
	return nil
}

func handleImageMode(ctx *Context, args []string) error {
	if err := ctx.Session.SwitchMode(session.ModeImage); err != nil {
		return err
	}
	ctx.Term.Print("Switched to image mode. Describe the image you want, e.g. \"a watercolor fox in the snow\".")
	return nil
}

// historyPreviewWidth bounds message content in the history listing.
const historyPreviewWidth = 60

func handleHistory(ctx *Context, args []string) error {
	var b strings.Builder

	messages := ctx.Session.Messages()
	if len(messages) == 0 {
		b.WriteString("No messages in the current conversation.\n")
	} else {
		b.WriteString("Current conversation:\n")
		for _, msg := range messages {
			b.WriteString(fmt.Sprintf("  %s %s\n",
				util.PadWidth(string(msg.Role)+":", 11),
				util.TruncateWidth(msg.Content, historyPreviewWidth)))
		}
	}

	if ctx.Store != nil {
		chats, err := ctx.Store.ListChats(context.Background())
		if err != nil {
			return err
		}
		if len(chats) > 0 {
			b.WriteString("\nRecent chats:\n")
			const maxListed = 10
			for i, chat := range chats {
				if i == maxListed {
					b.WriteString(fmt.Sprintf("  ... and %d more\n", len(chats)-maxListed))
					break
				}
				b.WriteString(fmt.Sprintf("  #%-6d %s\n",
					chat.ID, chat.UpdatedAt.Format("2006-01-02 15:04")))
			}
		}
	}

	ctx.Term.Print(strings.TrimRight(b.String(), "\n"))
	return nil
}

func handleSettings(ctx *Context, args []string) error {
	var b strings.Builder

	b.WriteString(fmt.Sprintf("Mode: %s\n\n", ctx.Session.Mode()))

	var modeSettings []config.Setting
	switch ctx.Session.Mode() {
	case session.ModeImage:
		modeSettings = ctx.Config.ImageSettings()
	default:
		modeSettings = ctx.Config.ChatSettings()
	}

	b.WriteString(fmt.Sprintf("%s settings:\n", ctx.Session.Mode()))
	for _, s := range modeSettings {
		b.WriteString(fmt.Sprintf("  %s: %s\n", s.Key, s.Value))
	}

	b.WriteString("\nglobal settings:\n")
	for _, s := range ctx.Config.GlobalSettings() {
		b.WriteString(fmt.Sprintf("  %s: %s\n", s.Key, s.Value))
	}

	ctx.Term.Print(strings.TrimRight(b.String(), "\n"))
	return nil
}

func handleSet(ctx *Context, args []string) error {
	key := args[0]
	value := args[1]

	// Mode settings shadow globals, a key is tried against the active
	// mode first and falls through to the global table.
	var err error
	switch ctx.Session.Mode() {
	case session.ModeImage:
		err = ctx.Config.SetImage(key, value)
	default:
		err = ctx.Config.SetChat(key, value)
	}
	if errors.Is(err, config.ErrUnknownKey) {
		err = ctx.Config.SetGlobal(key, value)
	}
	if err != nil {
		return err
	}

	if ctx.SaveConfig != nil {
		if saveErr := ctx.SaveConfig(); saveErr != nil {
			ctx.Term.Print(fmt.Sprintf("Warning: setting applied but not saved: %v", saveErr))
			return nil
		}
	}

	ctx.Term.Print(fmt.Sprintf("%s = %s", key, value))
	return nil
}
