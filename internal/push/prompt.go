package push

import (
	"context"
	"errors"
	"io"

	"github.com/charmbracelet/huh"
)

// Prompter asks the user a yes/no question.
type Prompter interface {
	Confirm(ctx context.Context, title, description string) (bool, error)
}

// HuhPrompter asks with a huh confirm form.
type HuhPrompter struct {
	In  io.Reader
	Out io.Writer
}

// Confirm runs the form. Aborting it counts as no.
func (p HuhPrompter) Confirm(ctx context.Context, title, description string) (bool, error) {
	var allow bool
	form := huh.NewForm(
		huh.NewGroup(
			huh.NewConfirm().
				Title(title).
				Description(description).
				Affirmative("Allow").
				Negative("Block").
				Value(&allow),
		),
	)
	if p.In != nil {
		form = form.WithInput(p.In)
	}
	if p.Out != nil {
		form = form.WithOutput(p.Out)
	}

	if err := form.RunWithContext(ctx); err != nil {
		if errors.Is(err, huh.ErrUserAborted) {
			return false, nil
		}
		return false, err
	}
	return allow, nil
}

// AnswerPrompter answers every question with a fixed value. It backs the
// --yes flag.
type AnswerPrompter bool

// Confirm returns the fixed answer.
func (a AnswerPrompter) Confirm(context.Context, string, string) (bool, error) {
	return bool(a), nil
}
