// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package ux

import (
	"os"
	"strings"
	"sync"
)

// PersonalityLevel grades how much of the terminal dressing the CLI emits.
type PersonalityLevel string

const (
	// PersonalityFull is everything: colors, icons, spinners.
	PersonalityFull PersonalityLevel = "full"

	// PersonalityStandard is colors and icons without the extras.
	PersonalityStandard PersonalityLevel = "standard"

	// PersonalityMinimal is icons on plain text.
	PersonalityMinimal PersonalityLevel = "minimal"

	// PersonalityMachine is plain prefixed lines for pipes and CI.
	PersonalityMachine PersonalityLevel = "machine"
)

var (
	levelMu sync.RWMutex
	level   = PersonalityFull
)

// Level returns the process-wide personality level.
func Level() PersonalityLevel {
	levelMu.RLock()
	defer levelMu.RUnlock()
	return level
}

// SetLevel replaces the process-wide level. Tests use it to save and
// restore around output assertions.
func SetLevel(l PersonalityLevel) {
	levelMu.Lock()
	defer levelMu.Unlock()
	level = l
}

// ParseLevel reads a level name, accepting short forms. Unrecognized input
// falls back to standard rather than failing; a wrong --personality value
// should never kill a command.
func ParseLevel(s string) PersonalityLevel {
	switch strings.ToLower(s) {
	case "full", "f":
		return PersonalityFull
	case "standard", "std", "s":
		return PersonalityStandard
	case "minimal", "min", "m":
		return PersonalityMinimal
	case "machine", "quiet", "q":
		return PersonalityMachine
	default:
		return PersonalityStandard
	}
}

// InitLevel picks the level for this run: the PHYLAX_PERSONALITY environment
// variable wins, a non-terminal stdout forces machine mode, otherwise full.
func InitLevel() {
	switch env := os.Getenv("PHYLAX_PERSONALITY"); {
	case env != "":
		SetLevel(ParseLevel(env))
	case !isTerminal():
		SetLevel(PersonalityMachine)
	default:
		SetLevel(PersonalityFull)
	}
}

func isTerminal() bool {
	info, err := os.Stdout.Stat()
	return err == nil && info.Mode()&os.ModeCharDevice != 0
}

// IsInteractive reports whether prompting the user is appropriate: an
// interactive terminal and a non-machine personality.
func IsInteractive() bool {
	return Level() != PersonalityMachine && isTerminal()
}

// ShouldShowProgress reports whether animated progress belongs in the
// output. Only the full personality animates; the others print static
// lines so captured output stays clean.
func ShouldShowProgress() bool {
	return Level() == PersonalityFull
}

// ShouldShowColors reports whether styled output belongs in the output.
// Minimal mode keeps the icons but drops the styling.
func ShouldShowColors() bool {
	switch Level() {
	case PersonalityMachine, PersonalityMinimal:
		return false
	}
	return true
}
