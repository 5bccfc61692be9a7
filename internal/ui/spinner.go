// Package ui holds terminal feedback for long-running CLI commands.
package ui

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/charmbracelet/lipgloss"
)

var frames = []string{"⠋", "⠙", "⠹", "⠸", "⠼", "⠴", "⠦", "⠧", "⠇", "⠏"}

// Spinner animates a message on a terminal while work runs. On anything
// else it prints the message once.
type Spinner struct {
	w       io.Writer
	animate bool
	style   lipgloss.Style

	mu      sync.Mutex
	message string
	active  bool
	done    chan struct{}
	wg      sync.WaitGroup
}

// NewSpinner returns a spinner writing to w. Animation and color are only
// used when w is a terminal and color is wanted.
func NewSpinner(w io.Writer, message string, color bool) *Spinner {
	s := &Spinner{w: w, message: message, style: lipgloss.NewStyle(), done: make(chan struct{})}
	if f, ok := w.(*os.File); ok {
		if fi, err := f.Stat(); err == nil && fi.Mode()&os.ModeCharDevice != 0 {
			s.animate = true
		}
	}
	if color && s.animate && os.Getenv("NO_COLOR") == "" {
		s.style = s.style.Foreground(lipgloss.Color("#4ecca3"))
	}
	return s
}

// Start begins spinning; the first frame shows within 100ms.
func (s *Spinner) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active {
		return
	}
	s.active = true

	if !s.animate {
		fmt.Fprintf(s.w, "%s...\n", s.message)
		return
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(100 * time.Millisecond)
		defer ticker.Stop()

		for i := 0; ; i = (i + 1) % len(frames) {
			select {
			case <-s.done:
				fmt.Fprint(s.w, "\r\033[K")
				return
			case <-ticker.C:
				s.mu.Lock()
				fmt.Fprintf(s.w, "\r%s %s", s.style.Render(frames[i]), s.message)
				s.mu.Unlock()
			}
		}
	}()
}

// Update changes the message while the spinner runs.
func (s *Spinner) Update(message string) {
	s.mu.Lock()
	s.message = message
	s.mu.Unlock()
}

// Stop halts the spinner and prints final, if not empty.
func (s *Spinner) Stop(final string) {
	s.mu.Lock()
	if !s.active {
		s.mu.Unlock()
		return
	}
	s.active = false
	s.mu.Unlock()

	close(s.done)
	s.wg.Wait()

	if final != "" {
		fmt.Fprintln(s.w, final)
	}
}

// Run shows message while fn runs and reports how it ended.
func Run(w io.Writer, message string, color bool, fn func() error) error {
	s := NewSpinner(w, message, color)
	s.Start()
	err := fn()
	if err != nil {
		s.Stop("✗ " + message)
	} else {
		s.Stop("")
	}
	return err
}
