package core

import (
	"fmt"
	"io"
	"log"
	"os"

	"github.com/josephlewis42/jsh/core/config"
	"github.com/josephlewis42/jsh/core/jobs"
	"github.com/spf13/afero"
	"sigs.k8s.io/yaml"
)

const (
	// StageEnv carries the shell state to a builtin running as a pipeline
	// stage.
	StageEnv = "JSH_STAGE"

	// StageCommand is the subcommand that runs a builtin as a stage.
	StageCommand = "stage"
)

// StageState is the part of the shell visible to a builtin running in a
// child process.
type StageState struct {
	LastExitCode int           `json:"last_exit_code"`
	Jobs         jobs.Snapshot `json:"jobs"`
}

func (s *Shell) stageEnv() (string, error) {
	state := StageState{
		LastExitCode: s.LastExitCode,
		Jobs:         s.Jobs.Snapshot(),
	}
	out, err := yaml.Marshal(state)
	if err != nil {
		return "", fmt.Errorf("encoding stage state: %w", err)
	}
	return StageEnv + "=" + string(out), nil
}

// ParseStageState decodes the value of StageEnv.
func ParseStageState(value string) (*StageState, error) {
	var state StageState
	if err := yaml.UnmarshalStrict([]byte(value), &state); err != nil {
		return nil, fmt.Errorf("decoding stage state: %w", err)
	}
	return &state, nil
}

// RunStage runs the builtin named by args[0] with the state found in the
// environment and returns its exit code.
func RunStage(args []string) int {
	if len(args) == 0 {
		fmt.Fprintln(os.Stderr, "jsh: stage: missing builtin")
		return 2
	}

	builtin, ok := AllBuiltins[args[0]]
	if !ok {
		fmt.Fprintf(os.Stderr, "jsh: %s: not a builtin\n", args[0])
		return 127
	}

	state, err := ParseStageState(os.Getenv(StageEnv))
	if err != nil {
		fmt.Fprintf(os.Stderr, "jsh: %s: %v\n", args[0], err)
		return 1
	}

	s := NewStageShell(state, os.Stdin, os.Stdout, os.Stderr)
	return builtin.Main(s, s.stdio, args)
}

// NewStageShell creates a shell restored from state. It can't wait on the
// restored jobs and refuses to move them between foreground and background.
func NewStageShell(state *StageState, stdin, stdout, stderr *os.File) *Shell {
	cfg := config.Default(afero.NewOsFs(), "")
	s := NewShell(stdin, stdout, stderr, cfg, log.New(io.Discard, "", 0))
	s.Jobs = jobs.FromSnapshot(state.Jobs)
	s.LastExitCode = state.LastExitCode
	s.waiter = jobs.Nop
	s.stage = true
	return s
}
