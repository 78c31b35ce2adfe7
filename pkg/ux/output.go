// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package ux styles the Phylax CLI's human output. Every helper honors the
// personality level, so the same call prints a teal checkmark on a terminal
// and a greppable "OK:" line in a pipeline. Command results that scripts
// consume (trace JSON, reports) never go through this package.
package ux

import (
	"fmt"
	"io"
	"os"

	"github.com/charmbracelet/lipgloss"
)

// Aleutian palette: arctic teals for the brand, conventional amber and red
// for trouble.
var (
	ColorTealBright  = lipgloss.Color("#2CD7C7")
	ColorTealPrimary = lipgloss.Color("#20B9B4")
	ColorTealVibrant = lipgloss.Color("#1D9EA3")
	ColorTealMedium  = lipgloss.Color("#1D9DA0")
	ColorSlate       = lipgloss.Color("#2C4A54")

	ColorSuccess = ColorTealBright
	ColorWarning = lipgloss.Color("#F4D03F")
	ColorError   = lipgloss.Color("#E74C3C")
)

// Pre-built styles shared across the package. Commands compose output from
// the helper functions below; these exist for the few places (prompt theme,
// spinner frames) that style text directly.
var (
	StyleTitle     = lipgloss.NewStyle().Bold(true).Foreground(ColorTealBright)
	StyleSuccess   = lipgloss.NewStyle().Foreground(ColorSuccess)
	StyleWarning   = lipgloss.NewStyle().Foreground(ColorWarning)
	StyleError     = lipgloss.NewStyle().Foreground(ColorError)
	StyleMuted     = lipgloss.NewStyle().Foreground(ColorSlate)
	StyleHighlight = lipgloss.NewStyle().Bold(true).Foreground(ColorTealPrimary)
)

// Icon is a status glyph with a default style.
type Icon string

const (
	IconSuccess Icon = "✓"
	IconWarning Icon = "⚠"
	IconError   Icon = "✗"
	IconPending Icon = "○"
)

var iconStyles = map[Icon]lipgloss.Style{
	IconSuccess: StyleSuccess,
	IconWarning: StyleWarning,
	IconError:   StyleError,
	IconPending: StyleMuted,
}

// styled applies style only when the personality allows color.
func styled(style lipgloss.Style, text string) string {
	if !ShouldShowColors() {
		return text
	}
	return style.Render(text)
}

// Render returns the icon colored by its meaning, or plain when colors are
// off.
func (i Icon) Render() string {
	style, ok := iconStyles[i]
	if !ok {
		return string(i)
	}
	return styled(style, string(i))
}

// statusLine prints one icon-tagged line. Machine mode writes "PREFIX: text"
// to w instead, so scripts can grep for OK/WARN/ERROR.
func statusLine(w io.Writer, prefix string, icon Icon, style lipgloss.Style, text string) {
	if Level() == PersonalityMachine {
		fmt.Fprintf(w, "%s: %s\n", prefix, text)
		return
	}
	fmt.Printf("%s %s\n", icon.Render(), styled(style, text))
}

// Success prints a pass line. Machine form goes to stdout: a reported
// success is a result, not a diagnostic.
func Success(text string) { statusLine(os.Stdout, "OK", IconSuccess, StyleSuccess, text) }

// Warning prints a warning line; machine form goes to stderr.
func Warning(text string) { statusLine(os.Stderr, "WARN", IconWarning, StyleWarning, text) }

// Error prints a failure line; machine form goes to stderr.
func Error(text string) { statusLine(os.Stderr, "ERROR", IconError, StyleError, text) }

// Title prints a bold heading. Machine mode prints nothing; headings are
// decoration.
func Title(text string) {
	if Level() == PersonalityMachine {
		return
	}
	fmt.Println(styled(StyleTitle, text))
}

// Info prints a neutral line. Machine mode keeps the text, bare.
func Info(text string) {
	if Level() == PersonalityMachine {
		fmt.Println(text)
		return
	}
	fmt.Printf("%s %s\n", styled(StyleMuted, "│"), text)
}

// Muted prints secondary text, or nothing in machine mode.
func Muted(text string) {
	if Level() == PersonalityMachine {
		return
	}
	fmt.Println(styled(StyleMuted, text))
}
