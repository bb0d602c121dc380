package core

import (
	"os"
	"testing"
)

// Builtins in pipelines re-execute the test binary, which then acts as the
// stage runner.
func TestMain(m *testing.M) {
	if os.Getenv(StageEnv) != "" && len(os.Args) > 1 && os.Args[1] == StageCommand {
		os.Exit(RunStage(os.Args[2:]))
	}
	os.Exit(m.Run())
}
