package core

import (
	"os"
	"strings"
	"testing"

	"github.com/josephlewis42/jsh/core/config"
	"github.com/josephlewis42/jsh/core/jobs"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStageState(t *testing.T) {
	s := NewShell(os.Stdin, os.Stdout, os.Stderr, config.Default(afero.NewMemMapFs(), ""), nil)
	s.LastExitCode = 42
	s.Jobs.Add(100, []int{100}, 100, jobs.Stopped, "vim notes")
	s.Jobs.Add(200, []int{200, 201}, 201, jobs.Running, "tail -f log | grep x")

	kv, err := s.stageEnv()
	require.NoError(t, err)
	value := strings.TrimPrefix(kv, StageEnv+"=")
	require.NotEqual(t, kv, value)

	state, err := ParseStageState(value)
	require.NoError(t, err)

	restored := NewStageShell(state, os.Stdin, os.Stdout, os.Stderr)
	assert.Equal(t, 42, restored.LastExitCode)
	assert.Equal(t, s.Jobs.Snapshot(), restored.Jobs.Snapshot())
	assert.True(t, restored.stage)
}

func TestParseStageState_invalid(t *testing.T) {
	_, err := ParseStageState("last_exit_code: 1\nunknown: true\n")
	assert.Error(t, err)
}

func TestRunStage_unknownBuiltin(t *testing.T) {
	assert.Equal(t, 127, RunStage([]string{"ls"}))
	assert.Equal(t, 2, RunStage(nil))
}
