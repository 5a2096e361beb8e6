package prompt

import (
	"context"
	"fmt"
	"strings"

	"github.com/charmbracelet/huh"
)

// HuhPrompter renders menus as interactive terminal forms.
type HuhPrompter struct{}

// NewHuhPrompter creates a HuhPrompter.
func NewHuhPrompter() *HuhPrompter {
	return &HuhPrompter{}
}

// Select shows the menu as a select field. The returned number follows the
// same numbering as LinePrompter.
func (p *HuhPrompter) Select(ctx context.Context, m Menu) (int, error) {
	if m.Empty() {
		return 0, ErrNoChoices
	}

	options := make([]huh.Option[int], 0, len(m.Items)+1)
	if m.Zero != "" {
		options = append(options, huh.NewOption(fmt.Sprintf("[0] %s", m.Zero), 0))
	}
	for i, item := range m.Items {
		options = append(options, huh.NewOption(fmt.Sprintf("[%d] %s", i+1, item), i+1))
	}

	choice := m.Min()
	err := huh.NewForm(
		huh.NewGroup(
			huh.NewSelect[int]().
				Title(m.Question).
				Options(options...).
				Value(&choice),
		),
	).RunWithContext(ctx)
	if err != nil {
		return 0, err
	}

	// Re-validate so both prompters share one range check.
	return m.Resolve(fmt.Sprint(choice))
}

// Input shows a single text field with fallback as placeholder.
func (p *HuhPrompter) Input(ctx context.Context, question, fallback string) (string, error) {
	var answer string
	err := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title(question).
				Placeholder(fallback).
				Value(&answer),
		),
	).RunWithContext(ctx)
	if err != nil {
		return "", err
	}
	if answer = strings.TrimSpace(answer); answer != "" {
		return answer, nil
	}
	return fallback, nil
}
