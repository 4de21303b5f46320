package ui

import (
	"context"
	"fmt"

	"github.com/charmbracelet/huh"

	"github.com/runbar/runbar/internal/service"
)

// Prompter asks about port conflicts on the terminal
type Prompter struct{}

// Prompt shows the offered decisions and returns the chosen one.
func (Prompter) Prompt(ctx context.Context, c service.Conflict) (service.Decision, error) {
	options := make([]huh.Option[service.Decision], 0, len(c.Options()))
	for _, d := range c.Options() {
		options = append(options, huh.NewOption(d.Label(), d))
	}

	choice := service.DecisionIgnore
	desc := c.Describe()
	if c.PostSpawn && c.Line != "" {
		desc += "\n\n" + c.Line
	}

	form := huh.NewForm(
		huh.NewGroup(
			huh.NewSelect[service.Decision]().
				Title(fmt.Sprintf("Port conflict: %s", c.Service.Name)).
				Description(desc).
				Options(options...).
				Value(&choice),
		),
	)
	if err := form.RunWithContext(ctx); err != nil {
		return service.DecisionIgnore, err
	}
	return choice, nil
}
