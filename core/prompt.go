package core

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/josephlewis42/jsh/core/config"
)

const DefaultPromptMaxLength = 30

// minPromptMaxLength leaves room for the "..." marker of a shortened
// directory.
const minPromptMaxLength = 8

// PromptRenderer builds the "[jobs]cwd$ " prompt.
type PromptRenderer struct {
	// MaxLength bounds the directory part of the prompt.
	MaxLength int

	ok   *color.Color
	fail *color.Color
	cwd  *color.Color
}

// NewPromptRenderer creates a renderer. mode is one of the config color
// modes, tty tells whether auto mode should colour.
func NewPromptRenderer(mode string, tty bool, maxLength int) *PromptRenderer {
	switch {
	case maxLength <= 0:
		maxLength = DefaultPromptMaxLength
	case maxLength < minPromptMaxLength:
		maxLength = minPromptMaxLength
	}
	p := &PromptRenderer{
		MaxLength: maxLength,
		ok:        color.New(color.FgGreen),
		fail:      color.New(color.FgRed),
		cwd:       color.New(color.FgYellow),
	}

	enable := mode == config.ColorAlways || (mode != config.ColorNever && tty)
	for _, c := range []*color.Color{p.ok, p.fail, p.cwd} {
		if enable {
			c.EnableColor()
		} else {
			c.DisableColor()
		}
	}
	return p
}

// ShortenDir keeps the tail of long directories.
func (p *PromptRenderer) ShortenDir(cwd string) string {
	if len(cwd) > p.MaxLength-2 {
		return "..." + cwd[len(cwd)-(p.MaxLength-8):]
	}
	return cwd
}

// Render returns the prompt for the given job count, last exit code and
// working directory.
func (p *PromptRenderer) Render(njobs, lastExitCode int, cwd string) string {
	status := p.ok
	if lastExitCode != 0 {
		status = p.fail
	}
	return fmt.Sprintf("%s%s$ ", status.Sprintf("[%d]", njobs), p.cwd.Sprint(p.ShortenDir(cwd)))
}
