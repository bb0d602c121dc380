package core

import (
	"errors"
	"io"
	"os"
	"path/filepath"
	"syscall"
	"testing"

	"github.com/josephlewis42/jsh/core/shell"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, path, contents string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(contents), 0644))
}

func readFile(t *testing.T, path string) string {
	t.Helper()
	contents, err := os.ReadFile(path)
	require.NoError(t, err)
	return string(contents)
}

func TestStdio_Apply(t *testing.T) {
	cases := map[string]struct {
		existing string
		kind     shell.RedirectKind
		want     string
		wantErr  error
	}{
		"output creates":         {kind: shell.RedirectOutput, want: "new"},
		"output refuses clobber": {existing: "old", kind: shell.RedirectOutput, wantErr: syscall.EEXIST},
		"clobber truncates":      {existing: "old contents", kind: shell.RedirectOutputClobber, want: "new"},
		"append":                 {existing: "old ", kind: shell.RedirectOutputAppend, want: "old new"},
		"stderr creates":         {kind: shell.RedirectStderr, want: "new"},
		"stderr refuses clobber": {existing: "old", kind: shell.RedirectStderr, wantErr: syscall.EEXIST},
		"stderr clobber":         {existing: "old contents", kind: shell.RedirectStderrClobber, want: "new"},
		"stderr append":          {existing: "old ", kind: shell.RedirectStderrAppend, want: "old new"},
	}

	for tn, tc := range cases {
		t.Run(tn, func(t *testing.T) {
			target := filepath.Join(t.TempDir(), "target")
			if tc.existing != "" {
				writeFile(t, target, tc.existing)
			}

			stdio := NewStdio(os.Stdin, os.Stdout, os.Stderr)
			err := stdio.Apply([]shell.Redirection{{Kind: tc.kind, Target: target}})
			if tc.wantErr != nil {
				var redirectErr *RedirectError
				require.True(t, errors.As(err, &redirectErr))
				assert.Equal(t, target, redirectErr.Target)
				assert.ErrorIs(t, err, tc.wantErr)
				assert.Equal(t, tc.existing, readFile(t, target))
				return
			}
			require.NoError(t, err)

			f := stdio.Files()[tc.kind.Fd()]
			_, err = io.WriteString(f, "new")
			require.NoError(t, err)
			require.NoError(t, stdio.Close())

			assert.Equal(t, tc.want, readFile(t, target))
		})
	}
}

func TestStdio_Apply_input(t *testing.T) {
	in := filepath.Join(t.TempDir(), "in")
	writeFile(t, in, "hello")

	stdio := NewStdio(os.Stdin, os.Stdout, os.Stderr)
	require.NoError(t, stdio.Apply([]shell.Redirection{{Kind: shell.RedirectInput, Target: in}}))
	defer stdio.Close()

	contents, err := io.ReadAll(stdio.Stdin())
	require.NoError(t, err)
	assert.Equal(t, "hello", string(contents))
	assert.Same(t, os.Stdout, stdio.Stdout())
}

func TestStdio_Apply_laterOverrides(t *testing.T) {
	dir := t.TempDir()
	first := filepath.Join(dir, "first")
	second := filepath.Join(dir, "second")

	stdio := NewStdio(os.Stdin, os.Stdout, os.Stderr)
	require.NoError(t, stdio.Apply([]shell.Redirection{
		{Kind: shell.RedirectOutput, Target: first},
		{Kind: shell.RedirectOutputClobber, Target: second},
	}))

	_, err := io.WriteString(stdio.Stdout(), "out")
	require.NoError(t, err)
	require.NoError(t, stdio.Close())

	// Both are opened in order, only the last receives output.
	assert.Equal(t, "", readFile(t, first))
	assert.Equal(t, "out", readFile(t, second))
}

func TestStdio_Apply_noRollback(t *testing.T) {
	dir := t.TempDir()
	out := filepath.Join(dir, "out")

	stdio := NewStdio(os.Stdin, os.Stdout, os.Stderr)
	defer stdio.Close()

	err := stdio.Apply([]shell.Redirection{
		{Kind: shell.RedirectOutput, Target: out},
		{Kind: shell.RedirectInput, Target: filepath.Join(dir, "missing")},
		{Kind: shell.RedirectStderr, Target: filepath.Join(dir, "never")},
	})

	var redirectErr *RedirectError
	require.True(t, errors.As(err, &redirectErr))
	assert.ErrorIs(t, err, os.ErrNotExist)
	assert.Equal(t, filepath.Join(dir, "missing"), redirectErr.Target)

	assert.NotSame(t, os.Stdout, stdio.Stdout())
	assert.Same(t, os.Stdin, stdio.Stdin())
	assert.Same(t, os.Stderr, stdio.Stderr())
	assert.NoFileExists(t, filepath.Join(dir, "never"))
}

func TestStdio_Apply_substitutionSink(t *testing.T) {
	r, w, err := os.Pipe()
	require.NoError(t, err)
	defer r.Close()

	stdio := NewStdio(os.Stdin, os.Stdout, os.Stderr)
	require.NoError(t, stdio.Apply([]shell.Redirection{{Kind: shell.RedirectSubstitution, Pipe: w}}))
	assert.Same(t, w, stdio.Stdout())

	// The pipe belongs to the chain, not the table.
	require.NoError(t, stdio.Close())
	_, err = io.WriteString(w, "still open")
	require.NoError(t, err)
	require.NoError(t, w.Close())

	contents, err := io.ReadAll(r)
	require.NoError(t, err)
	assert.Equal(t, "still open", string(contents))
}
