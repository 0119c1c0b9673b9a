// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package repl

import (
	"fmt"
	"path/filepath"

	"github.com/google/uuid"

	"aiplay/internal/util"
)

// maxSlugRunes bounds the prompt-derived part of image filenames.
const maxSlugRunes = 48

// imageFilename builds a filename from the prompt with a unique suffix
// so repeated prompts never collide.
func imageFilename(prompt string) string {
	slug := util.Slugify(prompt, maxSlugRunes)
	suffix := uuid.NewString()[:8]
	return fmt.Sprintf("%s-%s.png", slug, suffix)
}

// saveImage writes image bytes into the output directory atomically
// and returns the written path.
func saveImage(outputDir string, prompt string, data []byte) (string, error) {
	path := filepath.Join(outputDir, imageFilename(prompt))
	if err := util.AtomicWriteFile(path, data, 0644); err != nil {
		return "", fmt.Errorf("failed to save image: %w", err)
	}
	return path, nil
}
