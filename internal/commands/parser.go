// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package commands

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// =============================================================================
// PARSE RESULT
// =============================================================================

// ParseResult contains the result of parsing user input.
type ParseResult struct {
	// IsCommand is true if the input starts with the command prefix
	IsCommand bool

	// CommandName is the parsed verb without the prefix (e.g., "help")
	CommandName string

	// Args are the parsed arguments
	Args []string

	// RawInput is the original input string, trimmed
	RawInput string

	// RawArgs is the unparsed arguments portion
	RawArgs string
}

// =============================================================================
// PARSER
// =============================================================================

// Parser splits prefixed input into a verb and arguments. The prefix
// character is configurable; everything without the prefix is content
// for the active mode.
type Parser struct {
	prefix rune
}

// NewParser creates a parser for the given prefix character.
func NewParser(prefix rune) *Parser {
	return &Parser{prefix: prefix}
}

// Prefix returns the active prefix character.
func (p *Parser) Prefix() rune {
	return p.prefix
}

// SetPrefix changes the prefix character. Takes effect on the next
// Parse call.
func (p *Parser) SetPrefix(prefix rune) {
	p.prefix = prefix
}

// Parse parses user input. Returns IsCommand=false when the input does
// not start with the prefix character.
func (p *Parser) Parse(input string) ParseResult {
	input = strings.TrimSpace(input)

	result := ParseResult{RawInput: input}

	first, size := utf8.DecodeRuneInString(input)
	if first != p.prefix {
		return result
	}
	result.IsCommand = true

	rest := input[size:]
	parts := splitCommandLine(rest)
	if len(parts) == 0 {
		return result
	}

	result.CommandName = parts[0]
	if len(parts) > 1 {
		result.Args = parts[1:]
		if idx := strings.Index(rest, parts[0]); idx >= 0 {
			result.RawArgs = strings.TrimSpace(rest[idx+len(parts[0]):])
		}
	}

	return result
}

// =============================================================================
// ARGUMENT PARSING
// =============================================================================

// splitCommandLine splits a command line into tokens, respecting quotes.
// Supports both single and double quotes for arguments with spaces.
func splitCommandLine(input string) []string {
	var tokens []string
	var current strings.Builder
	var inSingleQuote, inDoubleQuote bool

	runes := []rune(input)
	for i := 0; i < len(runes); i++ {
		char := runes[i]

		switch {
		case char == '\'' && !inDoubleQuote:
			inSingleQuote = !inSingleQuote

		case char == '"' && !inSingleQuote:
			inDoubleQuote = !inDoubleQuote

		case char == '\\' && i+1 < len(runes) && (inDoubleQuote || inSingleQuote):
			// Escape sequence inside quotes
			next := runes[i+1]
			if next == '"' || next == '\'' || next == '\\' {
				current.WriteRune(next)
				i++
			} else {
				current.WriteRune(char)
			}

		case unicode.IsSpace(char) && !inSingleQuote && !inDoubleQuote:
			// Space outside quotes ends the current token
			if current.Len() > 0 {
				tokens = append(tokens, current.String())
				current.Reset()
			}

		default:
			current.WriteRune(char)
		}
	}

	if current.Len() > 0 {
		tokens = append(tokens, current.String())
	}

	return tokens
}
