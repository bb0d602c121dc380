package core

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"syscall"

	"github.com/josephlewis42/jsh/core/jobs"
	"github.com/josephlewis42/jsh/core/shell"
	"golang.org/x/sys/unix"
)

// Execute runs every pipeline of the chain and returns the last exit code.
// With substituting set the pipelines are writers of a process substitution:
// they never get the terminal and are waited for by the pipeline reading
// from them.
func (s *Shell) Execute(chain shell.Chain, substituting bool) int {
	for _, p := range chain.Pipelines() {
		if s.Exited() {
			break
		}
		s.LastExitCode = s.runPipeline(p, substituting)
	}
	return s.LastExitCode
}

func (s *Shell) runPipeline(p shell.Chain, substituting bool) int {
	// Writers started for this pipeline, nested ones included, are collected
	// apart from those of earlier lines.
	outer := s.writers
	s.writers = nil
	for _, cmd := range p {
		for _, sub := range cmd.Substitutions {
			s.Execute(sub.Chain, true)
			closeSinks(sub.Chain)
		}
	}
	started := s.writers
	s.writers = outer
	defer s.reapWriters()
	defer closeSubstitutionReaders(p)

	code, detached := s.runConsumer(p, substituting)
	closeSubstitutionReaders(p)

	if detached {
		s.writers = append(s.writers, started...)
		return code
	}
	s.waitWriters(started)
	return code
}

// runConsumer runs the pipeline itself. detached is set when it is still
// running or stopped once runConsumer returns.
func (s *Shell) runConsumer(p shell.Chain, substituting bool) (code int, detached bool) {
	if len(p) == 1 && !p.Background() && !substituting {
		if builtin, ok := AllBuiltins[p[0].Name]; ok {
			return s.runBuiltin(builtin, p[0]), false
		}
	}

	l, err := s.launch(p, !p.Background() && !substituting)
	if err != nil {
		s.Errorf("%v", err)
		return 1, false
	}
	closeSubstitutionReaders(p)

	if l.pgid == 0 {
		return l.lastCode, false
	}

	job := jobs.NewJob(l.pgid, l.pids, l.last, jobs.Running, p.Text())

	switch {
	case substituting:
		s.writers = append(s.writers, l.pgid)
		return 0, true

	case p.Background():
		s.Jobs.Track(job)
		job.Print(s.Stderr())
		return 0, true
	}

	stopped, code := s.waitForeground(job, s.Stderr())
	if stopped {
		s.Jobs.Track(job)
		job.Print(s.Stderr())
		return code, true
	}
	if l.last == 0 {
		return l.lastCode, false
	}
	return code, false
}

// runBuiltin runs a builtin inside the shell with its own redirections.
func (s *Shell) runBuiltin(builtin ShellBuiltin, cmd *shell.Command) int {
	stdio := NewStdio(s.stdio.Stdin(), s.stdio.Stdout(), s.stdio.Stderr())
	defer stdio.Close()

	if err := stdio.Apply(cmd.Redirections); err != nil {
		s.Errorf("%v", err)
		return 1
	}
	return builtin.Main(s, stdio, cmd.Argv())
}

type launched struct {
	pgid int
	pids []int

	// last is the pid of the final stage, zero if it didn't start in which
	// case lastCode holds its status.
	last     int
	lastCode int
}

// launch starts one process per segment, all in the group of the first
// process started. Pipes and redirections are set up before anything runs
// so a failure leaves no processes behind.
func (s *Shell) launch(p shell.Chain, foreground bool) (*launched, error) {
	stdios := make([]*Stdio, len(p))
	closeAll := func() {
		for _, stdio := range stdios {
			if stdio != nil {
				stdio.Close()
			}
		}
	}

	var prevRead *os.File
	for i, cmd := range p {
		stdio := NewStdio(s.stdio.Stdin(), s.stdio.Stdout(), s.stdio.Stderr())
		stdios[i] = stdio
		if prevRead != nil {
			stdio.Set(0, prevRead, true)
			prevRead = nil
		}
		if cmd.Piped && i < len(p)-1 {
			r, w, err := s.pipe()
			if err != nil {
				closeAll()
				return nil, fmt.Errorf("pipe: %w", err)
			}
			stdio.Set(1, w, true)
			prevRead = r
		}
	}

	for i, cmd := range p {
		if err := stdios[i].Apply(cmd.Redirections); err != nil {
			closeAll()
			return nil, err
		}
	}
	defer closeAll()

	l := &launched{}
	for i, cmd := range p {
		pid, code := s.startStage(cmd, stdios[i], l.pgid, foreground && l.pgid == 0)
		stdios[i].Close()

		if i == len(p)-1 {
			l.last = pid
			l.lastCode = code
		}
		if pid == 0 {
			continue
		}

		l.pids = append(l.pids, pid)
		if l.pgid == 0 {
			l.pgid = pid
			// The leader normally took the terminal itself, a failure here
			// only means it is already gone.
			if foreground {
				if err := s.term.give(pid); err != nil {
					s.Log.Printf("give terminal to %d: %v", pid, err)
				}
			}
		}
	}

	s.Log.Printf("launched pgid %d pids %v: %s", l.pgid, l.pids, p.Text())
	return l, nil
}

// startStage starts one segment. It returns the pid, or zero and the exit
// code describing why nothing was started.
func (s *Shell) startStage(cmd *shell.Command, stdio *Stdio, pgid int, leader bool) (int, int) {
	path, argv, environ, code := s.resolve(cmd, stdio)
	if code != 0 {
		return 0, code
	}

	files := append([]*os.File(nil), stdio.Files()...)
	for _, sub := range cmd.Substitutions {
		fd := sub.Fd()
		if fd < 0 {
			continue
		}
		for len(files) <= fd {
			files = append(files, nil)
		}
		files[fd] = sub.File
	}

	sys := &syscall.SysProcAttr{Setpgid: true, Pgid: pgid}
	if leader && s.term.interactive {
		sys.Foreground = true
		sys.Ctty = s.term.fd
	}

	proc, err := os.StartProcess(path, argv, &os.ProcAttr{
		Env:   environ,
		Files: files,
		Sys:   sys,
	})
	if err != nil {
		fmt.Fprintf(stdio.Stderr(), "jsh: %s: %v\n", cmd.Name, unwrapPathError(err))
		if errors.Is(err, fs.ErrPermission) {
			return 0, 126
		}
		return 0, 127
	}

	pid := proc.Pid
	proc.Release()
	return pid, 0
}

// resolve finds what to execute for cmd. Builtins run in a copy of the
// shell started in stage mode.
func (s *Shell) resolve(cmd *shell.Command, stdio *Stdio) (path string, argv, environ []string, code int) {
	environ = s.Env.Environ()

	if _, ok := AllBuiltins[cmd.Name]; ok {
		self, err := s.executable()
		if err != nil {
			fmt.Fprintf(stdio.Stderr(), "jsh: %s: %v\n", cmd.Name, err)
			return "", nil, nil, 1
		}
		stageEnv, err := s.stageEnv()
		if err != nil {
			fmt.Fprintf(stdio.Stderr(), "jsh: %s: %v\n", cmd.Name, err)
			return "", nil, nil, 1
		}
		argv = append([]string{self, StageCommand}, cmd.Argv()...)
		return self, argv, append(environ, stageEnv), 0
	}

	path, err := LookPath(s.fs, s.Env, cmd.Name)
	switch {
	case err == nil:
		return path, cmd.Argv(), environ, 0
	case errors.Is(err, fs.ErrPermission):
		fmt.Fprintf(stdio.Stderr(), "jsh: %s: permission denied\n", cmd.Name)
		return "", nil, nil, 126
	default:
		fmt.Fprintf(stdio.Stderr(), "jsh: %s: command not found\n", cmd.Name)
		return "", nil, nil, 127
	}
}

// waitForeground blocks until every member of the job has terminated or
// one of them stops. The terminal is returned to the shell afterwards, a
// failure to do so is reported on stderr.
func (s *Shell) waitForeground(job *jobs.Job, stderr io.Writer) (stopped bool, code int) {
	defer func() {
		if err := s.term.reclaim(); err != nil {
			fmt.Fprintf(stderr, "jsh: %v\n", err)
		}
	}()

	for job.Members() > 0 {
		pid, ws, err := s.waiter.Wait(job.PID, unix.WUNTRACED)
		switch {
		case errors.Is(err, unix.EINTR):
			continue
		case err != nil:
			s.Log.Printf("wait pgid %d: %v", job.PID, err)
			return false, job.ExitCode()
		case pid <= 0:
			return false, job.ExitCode()
		}

		job.Apply(pid, ws)
		if ws.Stopped() {
			return true, jobs.ExitCode(ws)
		}
	}
	return false, job.ExitCode()
}

// waitWriters blocks until every process of the given writer groups has
// terminated. Their readers are closed by now so writers still producing
// output get EOF or SIGPIPE.
func (s *Shell) waitWriters(pgids []int) {
	for _, pgid := range pgids {
		for {
			pid, _, err := s.waiter.Wait(pgid, 0)
			if errors.Is(err, unix.EINTR) {
				continue
			}
			if err != nil || pid <= 0 {
				break
			}
		}
	}
}

// reapWriters collects substitution writers that have exited.
func (s *Shell) reapWriters() {
	live := s.writers[:0]
	for _, pgid := range s.writers {
		alive := true
		for {
			pid, _, err := s.waiter.Wait(pgid, unix.WNOHANG)
			if errors.Is(err, unix.EINTR) {
				continue
			}
			if err != nil {
				alive = false
			}
			if err != nil || pid <= 0 {
				break
			}
		}
		if alive {
			live = append(live, pgid)
		}
	}
	s.writers = live
}

// closeSinks closes the shell's copy of the write ends feeding a
// substitution, once its writer owns them.
func closeSinks(chain shell.Chain) {
	for _, cmd := range chain {
		for _, r := range cmd.Redirections {
			if r.Kind == shell.RedirectSubstitution && r.Pipe != nil {
				r.Pipe.Close()
			}
		}
	}
}

func closeSubstitutionReaders(p shell.Chain) {
	for _, cmd := range p {
		for _, sub := range cmd.Substitutions {
			sub.File.Close()
		}
	}
}
