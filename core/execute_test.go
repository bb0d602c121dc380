package core

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/josephlewis42/jsh/core/config"
	"github.com/josephlewis42/jsh/core/jobs"
	"github.com/sebdah/goldie/v2"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testShell is a non-interactive shell whose output goes to files.
type testShell struct {
	*Shell

	stdout string
	stderr string
}

func newTestShell(t *testing.T) *testShell {
	t.Helper()

	dir := t.TempDir()
	stdin, err := os.Open(os.DevNull)
	require.NoError(t, err)
	stdout, err := os.Create(filepath.Join(dir, "stdout"))
	require.NoError(t, err)
	stderr, err := os.Create(filepath.Join(dir, "stderr"))
	require.NoError(t, err)

	s := NewShell(stdin, stdout, stderr, config.Default(afero.NewMemMapFs(), ""), nil)

	wd, err := os.Getwd()
	require.NoError(t, err)
	t.Cleanup(func() {
		for _, j := range s.Jobs.Jobs() {
			Kill(s, s.stdio, nil, []string{"-9", fmt.Sprint(j.PID)})
		}
		os.Chdir(wd)
		stdin.Close()
		stdout.Close()
		stderr.Close()
	})

	return &testShell{Shell: s, stdout: stdout.Name(), stderr: stderr.Name()}
}

func (ts *testShell) Stdout(t *testing.T) string {
	return readFile(t, ts.stdout)
}

func (ts *testShell) Stderr(t *testing.T) string {
	return readFile(t, ts.stderr)
}

func newGoldie(t *testing.T) *goldie.Goldie {
	return goldie.New(
		t,
		goldie.WithFixtureDir(filepath.Join("testdata", "golden")),
		goldie.WithDiffEngine(goldie.ColoredDiff),
		goldie.WithTestNameForDir(true),
	)
}

func TestShell_RunLine(t *testing.T) {
	cases := map[string]struct {
		line       string
		wantCode   int
		wantStdout string
		wantStderr string
	}{
		"simple":             {line: "echo hi", wantCode: 0, wantStdout: "hi\n"},
		"last stage decides": {line: "false | true", wantCode: 0},
		"failing last stage": {line: "true | false", wantCode: 1},
		"pipeline":           {line: "echo one two | tr a-z A-Z", wantStdout: "ONE TWO\n"},
		"three stages":       {line: "printf 'b\\na\\n' | sort | head -n 1", wantStdout: "a\n"},
		"substitution":       {line: "cat <( echo sub )", wantStdout: "sub\n"},
		"two substitutions":  {line: "cat <( echo one ) <( echo two )", wantStdout: "one\ntwo\n"},
		"nested":             {line: "cat <( cat <( echo deep ) )", wantStdout: "deep\n"},
		"substitution input": {line: "cat < <( echo fed )", wantStdout: "fed\n"},
		"builtin in pipeline": {
			line:       "help | head -n 1",
			wantStdout: "jsh, an interactive shell with job control.\n",
		},
		"not found": {
			line:       "jsh-no-such-command",
			wantCode:   127,
			wantStderr: "jsh: jsh-no-such-command: command not found\n",
		},
		"syntax error": {
			line:       "| echo",
			wantCode:   2,
			wantStderr: "jsh: syntax error near unexpected token `|'\n",
		},
		"blank line": {line: "   ", wantCode: 0},
	}

	for tn, tc := range cases {
		t.Run(tn, func(t *testing.T) {
			s := newTestShell(t)

			code := s.RunLine(tc.line)

			assert.Equal(t, tc.wantCode, code)
			assert.Equal(t, tc.wantCode, s.LastExitCode)
			assert.Equal(t, tc.wantStdout, s.Stdout(t))
			assert.Equal(t, tc.wantStderr, s.Stderr(t))
		})
	}
}

func TestShell_RunLine_signaledExitCode(t *testing.T) {
	s := newTestShell(t)

	assert.Equal(t, 137, s.RunLine("sh -c 'kill -9 $$'"))
}

func TestShell_RunLine_redirections(t *testing.T) {
	dir := t.TempDir()
	out := filepath.Join(dir, "out")
	s := newTestShell(t)

	assert.Equal(t, 0, s.RunLine("echo first > "+out))
	assert.Equal(t, "first\n", readFile(t, out))

	assert.NotEqual(t, 0, s.RunLine("echo again > "+out))
	assert.Equal(t, "first\n", readFile(t, out))
	assert.Contains(t, s.Stderr(t), out)

	assert.Equal(t, 0, s.RunLine("echo second >> "+out))
	assert.Equal(t, 0, s.RunLine("cat < "+out+" | tr a-z A-Z >| "+out+".upper"))
	assert.Equal(t, "FIRST\nSECOND\n", readFile(t, out+".upper"))

	assert.NotEqual(t, 0, s.RunLine("ls "+filepath.Join(dir, "missing")+" 2>| "+filepath.Join(dir, "err")))
	assert.NotEmpty(t, readFile(t, filepath.Join(dir, "err")))
}

func TestShell_RunLine_redirectFailureStartsNothing(t *testing.T) {
	dir := t.TempDir()
	marker := filepath.Join(dir, "marker")
	s := newTestShell(t)
	wd, err := os.Getwd()
	require.NoError(t, err)

	code := s.RunLine("touch " + marker + " | cat > /jsh/no/such/dir/file")

	assert.NotEqual(t, 0, code)
	assert.NoFileExists(t, marker)
	assert.Equal(t, 0, s.Jobs.Len())
	after, err := os.Getwd()
	require.NoError(t, err)
	assert.Equal(t, wd, after)
}

func TestShell_launchClosesPipes(t *testing.T) {
	s := newTestShell(t)
	var created []*os.File
	s.pipe = func() (*os.File, *os.File, error) {
		r, w, err := os.Pipe()
		if err == nil {
			created = append(created, r, w)
		}
		return r, w, err
	}

	assert.Equal(t, 0, s.RunLine("echo a | cat | cat | cat"))

	assert.Len(t, created, 6)
	for _, f := range created {
		assert.ErrorIs(t, f.Close(), os.ErrClosed)
	}
	assert.Equal(t, "a\n", s.Stdout(t))
}

func TestShell_background(t *testing.T) {
	s := newTestShell(t)

	assert.Equal(t, 0, s.RunLine("sleep 5 &"))
	require.Equal(t, 1, s.Jobs.Len())
	job := s.Jobs.Jobs()[0]
	assert.Equal(t, fmt.Sprintf("[1] %d Running sleep 5\n", job.PID), s.Stderr(t))

	assert.Equal(t, 0, s.RunLine("jobs"))
	assert.Equal(t, fmt.Sprintf("[1] %d Running sleep 5\n", job.PID), s.Stdout(t))

	// The stage copy of the shell sees the same table.
	assert.Equal(t, 0, s.RunLine("jobs | cat"))
	assert.Equal(t, strings.Repeat(fmt.Sprintf("[1] %d Running sleep 5\n", job.PID), 2), s.Stdout(t))
}

func TestShell_killStoppedJob(t *testing.T) {
	s := newTestShell(t)

	require.Equal(t, 0, s.RunLine("sleep 30 &"))
	job := s.Jobs.Jobs()[0]

	require.Equal(t, 0, s.RunLine("kill -19 %1"))
	require.Eventually(t, func() bool {
		s.Reconcile(false)
		return job.State == jobs.Stopped
	}, 5*time.Second, 10*time.Millisecond)

	require.Equal(t, 0, s.RunLine("kill -9 %1"))
	require.Eventually(t, func() bool {
		s.Reconcile(false)
		return s.Jobs.Len() == 0
	}, 5*time.Second, 10*time.Millisecond)
	s.Reconcile(true)

	stderr := s.Stderr(t)
	assert.Equal(t, 1, strings.Count(stderr, "Stopped sleep 30"), stderr)
	assert.Equal(t, 1, strings.Count(stderr, "Killed sleep 30"), stderr)
	assert.Equal(t, 1, s.Jobs.NextID())
}

func TestShell_fg(t *testing.T) {
	s := newTestShell(t)

	require.Equal(t, 0, s.RunLine("sh -c 'sleep 0.2; exit 3' &"))
	assert.Equal(t, 3, s.RunLine("fg %1"))
	assert.Equal(t, 0, s.Jobs.Len())
}

func TestShell_substitutionWritersFinishFirst(t *testing.T) {
	marker := filepath.Join(t.TempDir(), "marker")
	s := newTestShell(t)

	assert.Equal(t, 0, s.RunLine("true <( sh -c 'sleep 0.3; touch "+marker+"' )"))
	assert.FileExists(t, marker)
	assert.Empty(t, s.writers)
}

func TestShell_substitutionWriterGetsSigpipe(t *testing.T) {
	s := newTestShell(t)

	// The reader exits at once, the endless writer must not hold up the line.
	assert.Equal(t, 0, s.RunLine("head -c 1 <( yes )"))
	assert.Equal(t, "y", s.Stdout(t))
	assert.Empty(t, s.writers)
}

func TestShell_backgroundSubstitutionWriterKept(t *testing.T) {
	s := newTestShell(t)

	assert.Equal(t, 0, s.RunLine("cat <( sleep 5 ) &"))
	assert.Len(t, s.writers, 1)
}

// procState returns the state letter of pid from /proc.
func procState(t *testing.T, pid int) string {
	t.Helper()
	stat, err := os.ReadFile(fmt.Sprintf("/proc/%d/stat", pid))
	if err != nil {
		return ""
	}
	fields := strings.Fields(string(stat[strings.LastIndexByte(string(stat), ')')+1:]))
	if len(fields) == 0 {
		return ""
	}
	return fields[0]
}
