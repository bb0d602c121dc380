package core

import (
	"fmt"
	"os"

	"github.com/josephlewis42/jsh/core/shell"
)

// RedirectError is returned when a redirection target can't be opened.
type RedirectError struct {
	Target string
	Err    error
}

func (e *RedirectError) Error() string {
	return fmt.Sprintf("%s: %v", e.Target, e.Err)
}

func (e *RedirectError) Unwrap() error {
	return e.Err
}

// Stdio is the standard input, output and error a command runs with.
type Stdio struct {
	files [3]*os.File
	owned [3]bool
}

// NewStdio creates a table from borrowed files.
func NewStdio(stdin, stdout, stderr *os.File) *Stdio {
	return &Stdio{files: [3]*os.File{stdin, stdout, stderr}}
}

func (s *Stdio) Stdin() *os.File  { return s.files[0] }
func (s *Stdio) Stdout() *os.File { return s.files[1] }
func (s *Stdio) Stderr() *os.File { return s.files[2] }

// Files returns the table in descriptor order.
func (s *Stdio) Files() []*os.File {
	return s.files[:]
}

// Set installs f at fd, closing the previous file if the table owned it.
func (s *Stdio) Set(fd int, f *os.File, owned bool) {
	if s.owned[fd] && s.files[fd] != nil && s.files[fd] != f {
		s.files[fd].Close()
	}
	s.files[fd] = f
	s.owned[fd] = owned
}

// Apply performs redirections in order, later ones overriding earlier ones.
// The first failure stops processing; slots already redirected stay that
// way.
func (s *Stdio) Apply(redirections []shell.Redirection) error {
	for _, r := range redirections {
		if r.Kind == shell.RedirectSubstitution {
			s.Set(r.Kind.Fd(), r.Pipe, false)
			continue
		}

		f, err := os.OpenFile(r.Target, r.Kind.Flags(), shell.RedirectFileMode)
		if err != nil {
			return &RedirectError{Target: r.Target, Err: unwrapPathError(err)}
		}
		s.Set(r.Kind.Fd(), f, true)
	}
	return nil
}

// Close releases the files the table opened itself.
func (s *Stdio) Close() error {
	var lastErr error
	for fd := range s.files {
		if s.owned[fd] && s.files[fd] != nil {
			if err := s.files[fd].Close(); err != nil {
				lastErr = err
			}
		}
		s.owned[fd] = false
	}
	return lastErr
}

func unwrapPathError(err error) error {
	if pe, ok := err.(*os.PathError); ok {
		return pe.Err
	}
	return err
}
