package desktop

import (
	"context"
	"errors"

	"github.com/wailsapp/wails/v2/pkg/runtime"

	"github.com/runbar/runbar/internal/service"
)

// DialogPrompter answers port conflicts with a native message dialog
type DialogPrompter struct {
	app    *App
	dialog func(ctx context.Context, opts runtime.MessageDialogOptions) (string, error)
}

// NewDialogPrompter creates a prompter that shows dialogs in app's window.
func NewDialogPrompter(app *App) *DialogPrompter {
	return &DialogPrompter{app: app, dialog: runtime.MessageDialog}
}

// Prompt shows the conflict and maps the pressed button to a decision.
func (p *DialogPrompter) Prompt(ctx context.Context, c service.Conflict) (service.Decision, error) {
	if p.app == nil || p.app.ctx == nil {
		return service.DecisionIgnore, errors.New("window not ready")
	}

	options := c.Options()
	buttons := make([]string, 0, len(options))
	for _, d := range options {
		buttons = append(buttons, d.Label())
	}

	message := c.Describe()
	if c.PostSpawn && c.Line != "" {
		message += "\n\n" + c.Line
	}

	pressed, err := p.dialog(p.app.ctx, runtime.MessageDialogOptions{
		Type:          runtime.QuestionDialog,
		Title:         "Port conflict: " + c.Service.Name,
		Message:       message,
		Buttons:       buttons,
		DefaultButton: service.DecisionIgnore.Label(),
		CancelButton:  service.DecisionIgnore.Label(),
	})
	if err != nil {
		return service.DecisionIgnore, err
	}
	for _, d := range options {
		if d.Label() == pressed {
			return d, nil
		}
	}
	return service.DecisionIgnore, nil
}
