// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package ux

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/charmbracelet/huh"
	"github.com/mattn/go-isatty"
)

// ErrNonInteractive indicates a prompt was requested without a terminal.
// Callers should fall back to a flag (e.g. --yes) in this case.
var ErrNonInteractive = errors.New("prompt requires an interactive terminal")

// PromptOption describes one selectable choice in a Select prompt.
type PromptOption struct {
	// Label is the text shown to the user.
	Label string

	// Description is optional secondary text shown next to the label.
	Description string

	// Value is returned when this option is chosen.
	Value string

	// Recommended marks the option the prompt suggests by default.
	Recommended bool
}

// BlessPromptOptions describes the trace shown in a bless confirmation.
type BlessPromptOptions struct {
	// TraceID is the trace being blessed or unblessed.
	TraceID string

	// Provider and Model identify the backend that produced the output.
	Provider string
	Model    string

	// Output is the trace's final output text (truncated for display).
	Output string

	// OutputHash is the canonical output hash recorded at bless time.
	OutputHash string

	// Unbless switches the wording to golden-status removal.
	Unbless bool
}

// promptTheme returns the huh form theme: the Aleutian palette when colors
// are on, the bare base theme otherwise.
func promptTheme() *huh.Theme {
	t := huh.ThemeBase()
	if !ShouldShowColors() {
		return t
	}

	t.Focused.Title = t.Focused.Title.Foreground(ColorTealBright).Bold(true)
	t.Focused.Description = t.Focused.Description.Foreground(ColorSlate)
	t.Focused.SelectSelector = t.Focused.SelectSelector.Foreground(ColorTealPrimary)
	t.Focused.SelectedOption = t.Focused.SelectedOption.Foreground(ColorTealBright)
	t.Focused.FocusedButton = t.Focused.FocusedButton.Background(ColorTealVibrant)
	t.Focused.BlurredButton = t.Focused.BlurredButton.Background(ColorSlate)
	t.Blurred.Title = t.Blurred.Title.Foreground(ColorTealMedium)

	return t
}

// promptAvailable reports whether interactive prompts can run.
//
// Prompts need stdin attached to a terminal; personality machine mode
// disables them regardless.
func promptAvailable() bool {
	if !IsInteractive() {
		return false
	}
	return isatty.IsTerminal(os.Stdin.Fd()) || isatty.IsCygwinTerminal(os.Stdin.Fd())
}

// Confirm shows a yes/no prompt and returns the user's choice.
//
// Returns ErrNonInteractive when no terminal is attached, so callers can
// require an explicit flag instead of silently proceeding.
func Confirm(title, description string) (bool, error) {
	if !promptAvailable() {
		return false, ErrNonInteractive
	}

	confirmed := false
	form := huh.NewForm(
		huh.NewGroup(
			huh.NewConfirm().
				Title(title).
				Description(description).
				Affirmative("Yes").
				Negative("No").
				Value(&confirmed),
		),
	).WithTheme(promptTheme())

	if err := form.Run(); err != nil {
		return false, fmt.Errorf("confirm prompt: %w", err)
	}
	return confirmed, nil
}

// Select shows a single-choice prompt and returns the chosen value.
func Select(title string, options []PromptOption) (string, error) {
	if !promptAvailable() {
		return "", ErrNonInteractive
	}

	huhOpts := make([]huh.Option[string], 0, len(options))
	for _, opt := range options {
		label := opt.Label
		if opt.Recommended {
			label += " (recommended)"
		}
		if opt.Description != "" {
			label += "  " + styled(StyleMuted, truncate(opt.Description, 48))
		}
		huhOpts = append(huhOpts, huh.NewOption(label, opt.Value))
	}

	var value string
	form := huh.NewForm(
		huh.NewGroup(
			huh.NewSelect[string]().
				Title(title).
				Options(huhOpts...).
				Value(&value),
		),
	).WithTheme(promptTheme())

	if err := form.Run(); err != nil {
		return "", fmt.Errorf("select prompt: %w", err)
	}
	return value, nil
}

// blessPromptText builds the title and summary body for ConfirmBless. The
// body shows what the user is about to pin as golden: the trace identity,
// the backend that produced it, and the head of the output.
func blessPromptText(opts BlessPromptOptions) (title, body string) {
	title = "Bless this trace as golden?"
	if opts.Unbless {
		title = "Remove golden status from this trace?"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Trace:  %s\n", opts.TraceID)
	fmt.Fprintf(&b, "Model:  %s/%s\n", opts.Provider, opts.Model)
	if opts.OutputHash != "" {
		fmt.Fprintf(&b, "Hash:   %s\n", opts.OutputHash)
	}
	if opts.Output != "" {
		fmt.Fprintf(&b, "Output: %s", truncate(opts.Output, 200))
	}
	return title, b.String()
}

// ConfirmBless shows the bless (or unbless) confirmation for a trace.
// Returns ErrNonInteractive without a terminal.
func ConfirmBless(opts BlessPromptOptions) (bool, error) {
	title, body := blessPromptText(opts)
	return Confirm(title, body)
}

// truncate shortens s to at most maxLen characters, ellipsized.
func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return "..."
	}
	return s[:maxLen-3] + "..."
}
