// Package secret resolves operator secrets (admin tokens, signing secrets,
// keystore passphrases) from the environment or an interactive prompt.
package secret

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"golang.org/x/term"
)

// Source lazily resolves one secret. The first result is cached.
type Source struct {
	envVar string
	label  string

	// prompt reads from the terminal; tests replace it.
	prompt func(label string) (string, error)

	once  sync.Once
	value string
	err   error
}

// NewSource checks envVar before prompting on stderr for label.
func NewSource(envVar, label string) *Source {
	return &Source{
		envVar: strings.TrimSpace(envVar),
		label:  strings.TrimSpace(label),
		prompt: terminalPrompt(os.Stdin, os.Stderr),
	}
}

// Static returns a Source that always yields value.
func Static(value string) *Source {
	s := &Source{}
	s.once.Do(func() { s.value = value })
	return s
}

// Get returns the secret. Whitespace-only values are rejected.
func (s *Source) Get() (string, error) {
	s.once.Do(func() {
		if s.envVar != "" {
			if value, ok := os.LookupEnv(s.envVar); ok {
				if strings.TrimSpace(value) == "" {
					s.err = fmt.Errorf("%s is set but empty", s.envVar)
					return
				}
				s.value = strings.TrimSpace(value)
				return
			}
		}
		if s.prompt == nil {
			s.err = fmt.Errorf("%s required; set %s", s.label, s.envVar)
			return
		}
		value, err := s.prompt(s.label)
		if err != nil {
			if s.envVar != "" {
				s.err = fmt.Errorf("%w; set %s or run interactively", err, s.envVar)
			} else {
				s.err = err
			}
			return
		}
		if strings.TrimSpace(value) == "" {
			s.err = fmt.Errorf("%s cannot be empty", s.label)
			return
		}
		s.value = value
	})
	return s.value, s.err
}

// ErrNoTerminal is returned when a prompt is needed but stdin is not a TTY.
var ErrNoTerminal = errors.New("no terminal available for prompt")

func terminalPrompt(in *os.File, out io.Writer) func(string) (string, error) {
	return func(label string) (string, error) {
		fd := int(in.Fd())
		if !term.IsTerminal(fd) {
			return "", fmt.Errorf("%s: %w", label, ErrNoTerminal)
		}
		fmt.Fprintf(out, "Enter %s: ", label)
		raw, err := term.ReadPassword(fd)
		fmt.Fprintln(out)
		if err != nil {
			return "", fmt.Errorf("read %s: %w", label, err)
		}
		return string(raw), nil
	}
}
