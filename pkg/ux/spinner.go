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
	"fmt"
	"sync"
	"time"
)

// SpinnerType selects the animation frames.
type SpinnerType int

const (
	SpinnerDots SpinnerType = iota
	SpinnerPulse
	SpinnerOrbit
	SpinnerScan
)

var spinnerFrames = map[SpinnerType][]string{
	SpinnerDots:  {"⠋", "⠙", "⠹", "⠸", "⠼", "⠴", "⠦", "⠧", "⠇", "⠏"},
	SpinnerPulse: {"·", "•", "●", "•"},
	SpinnerOrbit: {"◜", "◠", "◝", "◞", "◡", "◟"},
	SpinnerScan:  {"▖", "▘", "▝", "▗"},
}

const spinnerInterval = 80 * time.Millisecond

// Spinner animates a message on one terminal line while work runs. Below
// full personality it degrades to a single static line (the muted info
// form for humans, "PROGRESS:" for machine consumers), so long-running
// commands still say what they are doing in CI logs.
type Spinner struct {
	mu       sync.Mutex
	message  string
	kind     SpinnerType
	running  bool
	animated bool
	stop     chan struct{}
	done     chan struct{}
}

// NewSpinner builds a dots spinner with the given message. Nothing is
// printed until Start.
func NewSpinner(message string) *Spinner {
	return &Spinner{
		message: message,
		kind:    SpinnerDots,
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
}

// WithType swaps the animation frames. Call before Start.
func (s *Spinner) WithType(t SpinnerType) *Spinner {
	s.kind = t
	return s
}

// Start begins animating, or prints the one-shot progress line when
// animation is off. Calling Start twice is a no-op.
func (s *Spinner) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}
	s.running = true

	if !ShouldShowProgress() {
		if Level() == PersonalityMachine {
			fmt.Printf("PROGRESS: %s\n", s.message)
		} else {
			Info(s.message)
		}
		return
	}

	s.animated = true
	go s.animate()
}

// animate owns the terminal line until stop is closed, then erases it.
func (s *Spinner) animate() {
	frames := spinnerFrames[s.kind]
	ticker := time.NewTicker(spinnerInterval)
	defer ticker.Stop()

	frame := 0
	for {
		select {
		case <-s.stop:
			fmt.Print("\r\033[K")
			close(s.done)
			return
		case <-ticker.C:
			s.mu.Lock()
			message := s.message
			s.mu.Unlock()
			fmt.Printf("\r%s %s", StyleHighlight.Render(frames[frame]), message)
			frame = (frame + 1) % len(frames)
		}
	}
}

// Stop ends the animation and clears the line. Safe to call when the
// spinner never animated, and safe to call twice.
func (s *Spinner) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	animated := s.animated
	s.animated = false
	s.mu.Unlock()

	if !animated {
		return
	}
	close(s.stop)
	<-s.done
}

// UpdateMessage swaps the message mid-run; the next frame picks it up.
func (s *Spinner) UpdateMessage(message string) {
	s.mu.Lock()
	s.message = message
	s.mu.Unlock()
}

// StopWithSuccess stops the spinner and prints a pass line in its place.
func (s *Spinner) StopWithSuccess(message string) { s.Stop(); Success(message) }

// StopWithError stops the spinner and prints a failure line in its place.
func (s *Spinner) StopWithError(message string) { s.Stop(); Error(message) }

// StopWithWarning stops the spinner and prints a warning line in its place.
func (s *Spinner) StopWithWarning(message string) { s.Stop(); Warning(message) }

// WithSpinner animates message while fn runs, then reports the outcome:
// a success line echoing message, or a failure line carrying fn's error.
// The error comes back unchanged either way.
func WithSpinner(message string, fn func() error) error {
	spin := NewSpinner(message)
	spin.Start()

	err := fn()
	if err != nil {
		spin.StopWithError(fmt.Sprintf("%s: %v", message, err))
	} else {
		spin.StopWithSuccess(message)
	}
	return err
}
