// Package prompt asks the operator to pick from numbered lists or type
// free-form values.
package prompt

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/mattn/go-isatty"
)

// ErrNoChoices is returned when a menu has nothing to pick from.
var ErrNoChoices = errors.New("no choices available")

// InvalidChoiceError reports input that is not a number within the menu range.
type InvalidChoiceError struct {
	Input string
	Min   int
	Max   int
}

func (e *InvalidChoiceError) Error() string {
	return fmt.Sprintf("invalid choice %q: enter a number between %d and %d", e.Input, e.Min, e.Max)
}

// Menu is a numbered list. Items are numbered from 1; when Zero is set it is
// offered as entry 0.
type Menu struct {
	Question string
	Items    []string
	Zero     string
}

// Min is the lowest accepted number.
func (m Menu) Min() int {
	if m.Zero != "" {
		return 0
	}
	return 1
}

// Max is the highest accepted number.
func (m Menu) Max() int {
	return len(m.Items)
}

// Empty reports whether the menu offers no entry at all.
func (m Menu) Empty() bool {
	return len(m.Items) == 0 && m.Zero == ""
}

// Resolve validates raw operator input and returns the chosen number.
func (m Menu) Resolve(input string) (int, error) {
	if m.Empty() {
		return 0, ErrNoChoices
	}
	trimmed := strings.TrimSpace(input)
	n, err := strconv.Atoi(trimmed)
	if err != nil || n < m.Min() || n > m.Max() {
		return 0, &InvalidChoiceError{Input: trimmed, Min: m.Min(), Max: m.Max()}
	}
	return n, nil
}

// Prompter collects operator input.
type Prompter interface {
	// Select shows m and returns the chosen number.
	Select(ctx context.Context, m Menu) (int, error)
	// Input asks a free-form question; a blank answer yields fallback.
	Input(ctx context.Context, question, fallback string) (string, error)
}

// New returns a terminal UI prompter when in is an interactive terminal and
// plain is false, and a line-oriented prompter otherwise.
func New(in io.Reader, out io.Writer, plain bool) Prompter {
	if f, ok := in.(*os.File); ok && !plain && IsTerminal(f) {
		return NewHuhPrompter()
	}
	return NewLinePrompter(in, out)
}

// IsTerminal reports whether f is attached to a terminal.
func IsTerminal(f *os.File) bool {
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}
