package core

import (
	"io"
	"os"

	"github.com/abiosoft/readline"
	"github.com/josephlewis42/jsh/core/config"
	"golang.org/x/term"
)

// NewReadlineReader creates the line editor for an interactive session.
// Editing output, prompt included, goes to stderr. Input is only consumed
// while a line is being read so foreground jobs get what is typed.
func NewReadlineReader(cfg *config.Configuration, stdin *os.File, stderr io.Writer) (*readline.Instance, error) {
	rlConfig := &readline.Config{
		Stdin:           stdin,
		Stdout:          stderr,
		Stderr:          stderr,
		HistoryFile:     cfg.HistoryPath(),
		HistoryLimit:    cfg.HistoryLimit,
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",

		FuncIsTerminal: func() bool {
			return term.IsTerminal(int(stdin.Fd()))
		},
	}

	if err := rlConfig.Init(); err != nil {
		return nil, err
	}

	return readline.NewEx(rlConfig)
}
