// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package repl

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestImageFilename(t *testing.T) {
	name := imageFilename("A cat in space!")

	assert.True(t, strings.HasPrefix(name, "a-cat-in-space-"), "got %q", name)
	assert.True(t, strings.HasSuffix(name, ".png"))

	// Repeated prompts must not collide.
	other := imageFilename("A cat in space!")
	assert.NotEqual(t, name, other)
}

func TestImageFilenameLongPromptBounded(t *testing.T) {
	prompt := strings.Repeat("very detailed scenery ", 20)
	name := imageFilename(prompt)

	// slug cap + hyphen + 8 char suffix + extension
	assert.LessOrEqual(t, len(name), maxSlugRunes+1+8+len(".png"))
}

func TestSaveImageWritesFile(t *testing.T) {
	dir := t.TempDir()
	data := []byte("\x89PNG fake")

	path, err := saveImage(dir, "tiny test image", data)
	require.NoError(t, err)
	assert.Equal(t, dir, filepath.Dir(path))

	written, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, data, written)
}

func TestSaveImageCreatesOutputDir(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "output")

	path, err := saveImage(dir, "prompt", []byte("data"))
	require.NoError(t, err)
	assert.FileExists(t, path)
}

func TestColorsEnabled(t *testing.T) {
	t.Setenv("NO_COLOR", "")
	t.Setenv("FORCE_COLOR", "")

	assert.False(t, colorsEnabled("never"))
	assert.True(t, colorsEnabled("always"))

	t.Setenv("NO_COLOR", "1")
	assert.False(t, colorsEnabled("auto"))
	// Explicit always still wins over NO_COLOR being unset rules
	assert.True(t, colorsEnabled("always"))

	t.Setenv("NO_COLOR", "")
	t.Setenv("FORCE_COLOR", "1")
	assert.True(t, colorsEnabled("auto"))
}

func TestPrefixRune(t *testing.T) {
	assert.Equal(t, ':', prefixRune(":"))
	assert.Equal(t, '/', prefixRune("/"))
	assert.Equal(t, ':', prefixRune(""))
}

func TestCancelInFlightRouting(t *testing.T) {
	r := &REPL{}

	// Idle at the prompt: nothing to cancel, signal means shutdown.
	assert.False(t, r.cancelInFlight())

	cancelled := false
	r.setCancel(func() { cancelled = true })

	assert.True(t, r.cancelInFlight())
	assert.True(t, cancelled)

	// The cancel function is consumed, a second signal is idle again.
	assert.False(t, r.cancelInFlight())
}

func TestSetCancelConcurrentWithTake(t *testing.T) {
	r := &REPL{}
	done := make(chan struct{})

	go func() {
		for i := 0; i < 1000; i++ {
			r.setCancel(func() {})
			r.setCancel(nil)
		}
		close(done)
	}()
	for i := 0; i < 1000; i++ {
		if cancel := r.takeCancel(); cancel != nil {
			cancel()
		}
	}
	<-done

	assert.Nil(t, r.takeCancel())
}

func TestGetTerminalWidthFallback(t *testing.T) {
	// Test processes have no TTY, so the fallback width applies.
	if IsStdoutTTY() {
		t.Skip("stdout is a terminal")
	}
	assert.Equal(t, DefaultTerminalWidth, GetTerminalWidth())
}
