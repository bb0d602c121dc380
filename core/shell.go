package core

import (
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"strings"

	"github.com/abiosoft/readline"
	"github.com/josephlewis42/jsh/core/config"
	"github.com/josephlewis42/jsh/core/env"
	"github.com/josephlewis42/jsh/core/jobs"
	"github.com/josephlewis42/jsh/core/shell"
	"github.com/spf13/afero"
)

// LineReader is the line editing front end.
type LineReader interface {
	Readline() (string, error)
	SetPrompt(prompt string)
	Close() error
}

var _ LineReader = (*readline.Instance)(nil)

type exitGate int

const (
	gateRunning exitGate = iota
	gateWarned
	gateConfirmed
)

type Shell struct {
	Env    env.Env
	Jobs   *jobs.Table
	Log    *log.Logger
	Prompt *PromptRenderer

	// LastExitCode is the status of the last command, it becomes the
	// shell's exit code.
	LastExitCode int

	stdio      *Stdio
	fs         afero.Fs
	term       *terminal
	waiter     jobs.Waiter
	pipe       func() (r, w *os.File, err error)
	executable func() (string, error)

	// stage is set when running a single builtin for a pipeline.
	stage   bool
	gate    exitGate
	writers []int
}

// NewShell creates a shell using the given standard streams. The process
// environment is copied.
func NewShell(stdin, stdout, stderr *os.File, cfg *config.Configuration, logger *log.Logger) *Shell {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}

	term := newTerminal(stdin)
	table := jobs.NewTable()
	table.Log = logger

	s := &Shell{
		Env:        env.FromOS(),
		Jobs:       table,
		Log:        logger,
		Prompt:     NewPromptRenderer(cfg.ColorPrompt, term.interactive, cfg.PromptMaxLength),
		stdio:      NewStdio(stdin, stdout, stderr),
		fs:         afero.NewOsFs(),
		term:       term,
		waiter:     jobs.Wait4,
		pipe:       os.Pipe,
		executable: os.Executable,
	}
	_ = s.Env.Unsetenv(StageEnv)

	if wd, err := os.Getwd(); err == nil {
		_ = s.Env.Setenv(env.PWD, wd)
	}

	return s
}

// Interactive reports whether the shell owns a terminal.
func (s *Shell) Interactive() bool {
	return s.term.interactive
}

// Exited reports whether exit has been confirmed.
func (s *Shell) Exited() bool {
	return s.gate == gateConfirmed
}

func (s *Shell) Stdout() io.Writer {
	return s.stdio.Stdout()
}

func (s *Shell) Stderr() io.Writer {
	return s.stdio.Stderr()
}

// Errorf prints a diagnostic line to the shell's stderr.
func (s *Shell) Errorf(format string, a ...interface{}) {
	fmt.Fprintf(s.Stderr(), "jsh: "+format+"\n", a...)
}

// PromptString renders the prompt for the current state.
func (s *Shell) PromptString() string {
	cwd, err := os.Getwd()
	if err != nil {
		cwd = s.Env.Getenv(env.PWD)
	}
	return s.Prompt.Render(s.Jobs.Len(), s.LastExitCode, cwd)
}

// RunLine parses and executes one line, returning its exit code.
func (s *Shell) RunLine(line string) int {
	if strings.TrimSpace(line) == "" {
		return s.LastExitCode
	}

	chain, err := shell.Parse(line)
	defer chain.Close()

	var syntaxErr *shell.SyntaxError
	switch {
	case errors.As(err, &syntaxErr):
		s.Errorf("%v", syntaxErr)
		s.LastExitCode = 2
		return s.LastExitCode
	case err != nil:
		s.Errorf("%v", err)
		s.LastExitCode = 1
		return s.LastExitCode
	}

	return s.Execute(chain, false)
}

// Reconcile collects job state changes and reports them on stderr. Exited
// substitution writers are reaped too.
func (s *Shell) Reconcile(report bool) {
	s.reapWriters()
	s.Jobs.Reconcile(s.waiter, s.Stderr(), report)
}

// Start prepares an interactive session: the shell takes the terminal and
// stops reacting to keyboard and job control signals. The returned function
// undoes the signal handling.
func (s *Shell) Start() (func(), error) {
	if !s.term.interactive {
		return func() {}, nil
	}
	if err := s.term.acquire(); err != nil {
		return func() {}, err
	}
	return catchJobSignals(), nil
}

// Run reads lines until end of input or a confirmed exit and returns the
// exit code for the shell process.
func (s *Shell) Run(rl LineReader) int {
	for !s.Exited() {
		rl.SetPrompt(s.PromptString())
		line, err := rl.Readline()

		switch {
		case err == io.EOF:
			return s.LastExitCode // Input closed, quit.

		case err == readline.ErrInterrupt:
			continue

		case err != nil:
			s.Log.Printf("Error readline: %v", err)
			return s.LastExitCode

		default:
			s.RunLine(line)
		}

		s.Reconcile(false)
	}

	return s.LastExitCode
}
