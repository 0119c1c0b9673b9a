// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package commands

import "fmt"

// =============================================================================
// DISPATCH ERRORS
// =============================================================================

// UnknownCommandError reports a verb with no registered command.
type UnknownCommandError struct {
	Name string
}

func (e *UnknownCommandError) Error() string {
	if e.Name == "" {
		return "empty command"
	}
	return fmt.Sprintf("unknown command %q", e.Name)
}

// InvalidArgumentsError reports arguments a command cannot accept.
type InvalidArgumentsError struct {
	Command string
	Usage   string
	Reason  string
}

func (e *InvalidArgumentsError) Error() string {
	return fmt.Sprintf("invalid arguments for %q: %s (usage: %s)", e.Command, e.Reason, e.Usage)
}
