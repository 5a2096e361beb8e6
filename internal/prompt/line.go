package prompt

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
)

// DefaultMaxAttempts is how many invalid answers LinePrompter tolerates per question.
const DefaultMaxAttempts = 3

// LinePrompter reads one answer per line. It suits pipes and scripts.
type LinePrompter struct {
	in          *bufio.Reader
	out         io.Writer
	MaxAttempts int
}

// NewLinePrompter creates a LinePrompter reading from in and writing to out.
func NewLinePrompter(in io.Reader, out io.Writer) *LinePrompter {
	return &LinePrompter{
		in:          bufio.NewReader(in),
		out:         out,
		MaxAttempts: DefaultMaxAttempts,
	}
}

// Select renders the menu and re-asks after invalid input, up to MaxAttempts times.
func (p *LinePrompter) Select(ctx context.Context, m Menu) (int, error) {
	if m.Empty() {
		return 0, ErrNoChoices
	}

	fmt.Fprintln(p.out, m.Question)
	if m.Zero != "" {
		fmt.Fprintf(p.out, "[0] %s\n", m.Zero)
	}
	for i, item := range m.Items {
		fmt.Fprintf(p.out, "[%d] %s\n", i+1, item)
	}

	attempts := p.MaxAttempts
	if attempts <= 0 {
		attempts = DefaultMaxAttempts
	}

	var lastErr error
	for i := 0; i < attempts; i++ {
		fmt.Fprintf(p.out, "[%d-%d]? ", m.Min(), m.Max())
		line, err := p.readLine(ctx)
		if err != nil {
			return 0, err
		}
		n, err := m.Resolve(line)
		if err == nil {
			return n, nil
		}
		var invalid *InvalidChoiceError
		if !errors.As(err, &invalid) {
			return 0, err
		}
		fmt.Fprintln(p.out, invalid.Error())
		lastErr = err
	}
	return 0, lastErr
}

// Input prints "question (fallback)? " and returns the trimmed answer.
func (p *LinePrompter) Input(ctx context.Context, question, fallback string) (string, error) {
	if fallback != "" {
		fmt.Fprintf(p.out, "%s (%s)? ", question, fallback)
	} else {
		fmt.Fprintf(p.out, "%s? ", question)
	}
	line, err := p.readLine(ctx)
	if err != nil {
		return "", err
	}
	if answer := strings.TrimSpace(line); answer != "" {
		return answer, nil
	}
	return fallback, nil
}

func (p *LinePrompter) readLine(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	line, err := p.in.ReadString('\n')
	if err != nil {
		// A last line without newline is still an answer.
		if errors.Is(err, io.EOF) && line != "" {
			return strings.TrimRight(line, "\r\n"), nil
		}
		if errors.Is(err, io.EOF) {
			return "", fmt.Errorf("input closed before an answer was given: %w", io.ErrUnexpectedEOF)
		}
		return "", fmt.Errorf("failed to read input: %w", err)
	}
	return strings.TrimRight(line, "\r\n"), nil
}
