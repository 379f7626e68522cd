package pipeline

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
)

// Confirmer answers the early-verification and review gates.
type Confirmer interface {
	Confirm(ctx context.Context, prompt string) (bool, error)
}

// AutoConfirm approves every gate. It is the default for unattended runs.
type AutoConfirm struct{}

func (AutoConfirm) Confirm(context.Context, string) (bool, error) { return true, nil }

// ConfirmFunc adapts a function to Confirmer.
type ConfirmFunc func(ctx context.Context, prompt string) (bool, error)

func (f ConfirmFunc) Confirm(ctx context.Context, prompt string) (bool, error) { return f(ctx, prompt) }

// PromptConfirmer asks on Out and reads a y/n answer from In.
type PromptConfirmer struct {
	In  io.Reader
	Out io.Writer

	lines chan string
}

func NewPromptConfirmer(in io.Reader, out io.Writer) *PromptConfirmer {
	return &PromptConfirmer{In: in, Out: out}
}

func (p *PromptConfirmer) Confirm(ctx context.Context, prompt string) (bool, error) {
	if p.lines == nil {
		p.lines = make(chan string)
		go func() {
			defer close(p.lines)
			sc := bufio.NewScanner(p.In)
			for sc.Scan() {
				p.lines <- sc.Text()
			}
		}()
	}

	fmt.Fprintf(p.Out, "%s [y/N]: ", prompt)
	select {
	case <-ctx.Done():
		return false, ctx.Err()
	case line, ok := <-p.lines:
		if !ok {
			return false, io.EOF
		}
		switch strings.ToLower(strings.TrimSpace(line)) {
		case "y", "yes":
			return true, nil
		}
		return false, nil
	}
}
