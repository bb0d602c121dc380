package core

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sys/unix"
	"golang.org/x/term"
)

// terminal tracks which process group owns the controlling terminal.
type terminal struct {
	fd          int
	shellPgid   int
	interactive bool
}

func newTerminal(f *os.File) *terminal {
	fd := int(f.Fd())
	return &terminal{
		fd:          fd,
		shellPgid:   unix.Getpgrp(),
		interactive: term.IsTerminal(fd),
	}
}

// acquire waits until the shell is in the foreground, moves it into its own
// process group and takes the terminal. It must run before job control
// signals are caught, the wait relies on SIGTTIN stopping the shell.
func (t *terminal) acquire() error {
	if !t.interactive {
		return nil
	}

	for {
		fg, err := unix.IoctlGetInt(t.fd, unix.TIOCGPGRP)
		if err != nil {
			return fmt.Errorf("tcgetpgrp: %w", err)
		}
		if fg == unix.Getpgrp() {
			break
		}
		unix.Kill(-unix.Getpgrp(), unix.SIGTTIN)
	}

	// A session leader can't change its group and already leads one.
	_ = unix.Setpgid(0, 0)
	t.shellPgid = unix.Getpgrp()
	return t.give(t.shellPgid)
}

// give hands the terminal to pgid.
func (t *terminal) give(pgid int) error {
	if !t.interactive || pgid <= 0 {
		return nil
	}

	signal.Ignore(syscall.SIGTTOU)
	defer signal.Reset(syscall.SIGTTOU)

	if err := unix.IoctlSetPointerInt(t.fd, unix.TIOCSPGRP, pgid); err != nil {
		return fmt.Errorf("tcsetpgrp: %w", err)
	}
	return nil
}

// reclaim returns the terminal to the shell.
func (t *terminal) reclaim() error {
	return t.give(t.shellPgid)
}

// catchJobSignals keeps keyboard and job control signals from stopping or
// killing the shell. Handled signals are reset to their defaults in
// children, ignored ones would not be.
func catchJobSignals() (stop func()) {
	ch := make(chan os.Signal, 16)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGQUIT, syscall.SIGTSTP, syscall.SIGTTIN, syscall.SIGTERM)

	done := make(chan struct{})
	go func() {
		for {
			select {
			case <-ch:
			case <-done:
				return
			}
		}
	}()

	return func() {
		signal.Stop(ch)
		close(done)
	}
}
