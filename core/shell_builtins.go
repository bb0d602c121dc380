package core

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/josephlewis42/jsh/core/env"
	"github.com/josephlewis42/jsh/core/jobs"
	"github.com/pborman/getopt/v2"
	"golang.org/x/sys/unix"
)

// AllBuiltins holds a list of all registered shell builtins
var AllBuiltins = make(map[string]ShellBuiltin)

type ShellBuiltin interface {
	Main(s *Shell, stdio *Stdio, args []string) int
}

type ShellBuiltinFunc func(s *Shell, stdio *Stdio, args []string) int

func (f ShellBuiltinFunc) Main(s *Shell, stdio *Stdio, args []string) int {
	return f(s, stdio, args)
}

var _ ShellBuiltin = (ShellBuiltinFunc)(nil)

// BuiltinCommand is a builtin with usage text and getopt based parsing.
type BuiltinCommand struct {
	// Use holds a one line usage string
	Use string
	// Short holds a one line description of the command.
	Short string
	// RawArgs skips option parsing, operands are the arguments as given.
	RawArgs bool
	// Flags registers the command's options on a fresh set.
	Flags func(opts *getopt.Set)

	Run func(s *Shell, stdio *Stdio, opts *getopt.Set, operands []string) int
}

var _ ShellBuiltin = (*BuiltinCommand)(nil)

// PrintHelp writes help for the command to the given writer.
func (b *BuiltinCommand) PrintHelp(w io.Writer, opts *getopt.Set) {
	fmt.Fprint(w, "usage: ")
	fmt.Fprintln(w, b.Use)
	fmt.Fprintln(w, b.Short)
	if opts != nil {
		fmt.Fprintln(w)
		fmt.Fprintln(w, "Flags:")
		opts.PrintOptions(w)
	}
}

// Main implements ShellBuiltin.
func (b *BuiltinCommand) Main(s *Shell, stdio *Stdio, args []string) int {
	if b.RawArgs {
		return b.Run(s, stdio, nil, args[1:])
	}

	opts := getopt.New()
	if b.Flags != nil {
		b.Flags(opts)
	}
	showHelp := opts.BoolLong("help", 'h', "show this help and exit")

	if err := opts.Getopt(args, nil); err != nil {
		fmt.Fprintf(stdio.Stderr(), "%s: %s\n", args[0], err)
		b.PrintHelp(stdio.Stderr(), opts)
		return 1
	}

	if *showHelp {
		b.PrintHelp(stdio.Stdout(), opts)
		return 0
	}

	return b.Run(s, stdio, opts, opts.Args())
}

// Cd is the cd shell builtin
func Cd(s *Shell, stdio *Stdio, _ *getopt.Set, operands []string) int {
	var target string
	switch {
	case len(operands) > 1:
		fmt.Fprintln(stdio.Stderr(), "cd: too many arguments")
		return 1
	case len(operands) == 0:
		home, ok := s.Env.LookupEnv(env.Home)
		if !ok || home == "" {
			fmt.Fprintln(stdio.Stderr(), "cd: HOME not set")
			return 1
		}
		target = home
	case operands[0] == "-":
		old, ok := s.Env.LookupEnv(env.OldPWD)
		if !ok || old == "" {
			fmt.Fprintln(stdio.Stderr(), "cd: OLDPWD not set")
			return 1
		}
		target = old
	default:
		target = operands[0]
	}

	resolved, err := filepath.Abs(target)
	if err == nil {
		resolved, err = filepath.EvalSymlinks(resolved)
	}
	if err != nil {
		fmt.Fprintf(stdio.Stderr(), "cd: %s: %v\n", target, unwrapPathError(err))
		return 1
	}

	previous, _ := os.Getwd()
	if err := os.Chdir(resolved); err != nil {
		fmt.Fprintf(stdio.Stderr(), "cd: %s: %v\n", target, unwrapPathError(err))
		return 1
	}

	_ = s.Env.Setenv(env.OldPWD, previous)
	_ = s.Env.Setenv(env.PWD, resolved)
	return 0
}

// Exit quits the shell. With jobs left the first attempt only warns.
func Exit(s *Shell, stdio *Stdio, _ *getopt.Set, operands []string) int {
	if s.Jobs.Len() > 0 && s.gate != gateWarned {
		fmt.Fprintln(stdio.Stderr(), "jsh: There are jobs in progress. Use 'exit' again to terminate.")
		s.gate = gateWarned
		return 1
	}

	code := s.LastExitCode
	switch len(operands) {
	case 0:
	case 1:
		n, err := strconv.Atoi(operands[0])
		if err != nil {
			fmt.Fprintf(stdio.Stderr(), "exit: %s: numeric argument required\n", operands[0])
			n = 2
		}
		code = n
	default:
		fmt.Fprintln(stdio.Stderr(), "exit: too many arguments")
		return 1
	}

	s.gate = gateConfirmed
	return code & 0xff
}

// Pwd prints the working directory.
func Pwd(s *Shell, stdio *Stdio, _ *getopt.Set, _ []string) int {
	wd, err := os.Getwd()
	if err != nil {
		fmt.Fprintf(stdio.Stderr(), "pwd: %v\n", err)
		return 1
	}
	fmt.Fprintln(stdio.Stdout(), wd)
	return 0
}

// LastStatus prints the previous exit code, which is then reset.
func LastStatus(s *Shell, stdio *Stdio, _ *getopt.Set, _ []string) int {
	fmt.Fprintln(stdio.Stdout(), s.LastExitCode)
	s.LastExitCode = 0
	return 0
}

// Jobs lists jobs, with -t each one is followed by its process ancestry.
func Jobs(s *Shell, stdio *Stdio, opts *getopt.Set, operands []string) int {
	if len(operands) > 0 {
		fmt.Fprintln(stdio.Stderr(), "jobs: too many arguments")
		return 1
	}

	tree := opts.IsSet('t')
	s.Jobs.ReconcileEach(s.waiter, true, func(j *jobs.Job) {
		j.Print(stdio.Stdout())
		if tree && !j.State.Terminal() {
			jobs.WriteAncestry(stdio.Stdout(), j.PID, nil)
		}
	})
	return 0
}

// parseJobSpec accepts %N or N.
func parseJobSpec(spec string) (int, bool) {
	id, err := strconv.Atoi(strings.TrimPrefix(spec, "%"))
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

func (s *Shell) jobFromOperands(operands []string) (*jobs.Job, error) {
	if len(operands) != 1 {
		return nil, jobs.ErrNoSuchJob
	}
	id, ok := parseJobSpec(operands[0])
	if !ok {
		return nil, jobs.ErrNoSuchJob
	}
	return s.Jobs.Lookup(id)
}

// Fg continues a job in the foreground and waits for it.
func Fg(s *Shell, stdio *Stdio, _ *getopt.Set, operands []string) int {
	if s.stage {
		fmt.Fprintln(stdio.Stderr(), "fg: no job control in this context")
		return 1
	}

	job, err := s.jobFromOperands(operands)
	if err != nil {
		fmt.Fprintln(stdio.Stderr(), "fg: invalid arguments")
		return 1
	}

	fmt.Fprintln(stdio.Stderr(), job.Command)
	if err := s.term.give(job.PID); err != nil {
		fmt.Fprintf(stdio.Stderr(), "fg: %v\n", err)
	}
	if err := unix.Kill(-job.PID, unix.SIGCONT); err != nil {
		s.Log.Printf("fg: continue pgid %d: %v", job.PID, err)
	}
	job.State = jobs.Running

	stopped, code := s.waitForeground(job, stdio.Stderr())
	if stopped {
		job.Print(stdio.Stderr())
		return code
	}

	s.Jobs.Remove(job.PID)
	return code
}

// Bg continues a stopped job in the background.
func Bg(s *Shell, stdio *Stdio, _ *getopt.Set, operands []string) int {
	if s.stage {
		fmt.Fprintln(stdio.Stderr(), "bg: no job control in this context")
		return 1
	}

	job, err := s.jobFromOperands(operands)
	if err != nil {
		fmt.Fprintln(stdio.Stderr(), "bg: invalid arguments")
		return 1
	}

	if err := unix.Kill(-job.PID, unix.SIGCONT); err != nil {
		s.Log.Printf("bg: continue pgid %d: %v", job.PID, err)
	}
	job.State = jobs.Running
	job.Print(stdio.Stdout())
	return 0
}

const killUsage = "kill: incorrect arguments , try 'kill [-sig] pid' or 'kill [-sig] %job'"

func isStopSignal(sig unix.Signal) bool {
	switch sig {
	case unix.SIGSTOP, unix.SIGTSTP, unix.SIGTTIN, unix.SIGTTOU:
		return true
	}
	return false
}

// groupStopped reports whether the group is stopped right now. Pending wait
// events are applied to job first, a group that isn't a job is asked
// directly.
func (s *Shell) groupStopped(pgid int, job *jobs.Job) bool {
	if job != nil {
		if _, err := job.Refresh(s.waiter); err != nil {
			s.Log.Printf("kill: wait pgid %d: %v", pgid, err)
		}
		return job.State == jobs.Stopped
	}

	for {
		pid, ws, err := s.waiter.Wait(pgid, unix.WNOHANG|unix.WUNTRACED|unix.WCONTINUED)
		if errors.Is(err, unix.EINTR) {
			continue
		}
		return err == nil && pid > 0 && ws.Stopped()
	}
}

// Kill sends a signal to the process group of a job or pid.
func Kill(s *Shell, stdio *Stdio, _ *getopt.Set, args []string) int {
	sig := unix.SIGTERM
	if len(args) == 2 && strings.HasPrefix(args[0], "-") {
		n, err := strconv.Atoi(args[0][1:])
		if err != nil || n < 0 || n > 64 {
			fmt.Fprintf(stdio.Stderr(), "kill: %s : invalid signal specification\n", args[0][1:])
			return 1
		}
		sig = unix.Signal(n)
		args = args[1:]
	}
	if len(args) != 1 || strings.HasPrefix(args[0], "-") {
		fmt.Fprintln(stdio.Stderr(), killUsage)
		return 1
	}
	target := args[0]

	var pgid int
	var job *jobs.Job
	if strings.HasPrefix(target, "%") {
		id, ok := parseJobSpec(target)
		var err error
		if ok {
			job, err = s.Jobs.Lookup(id)
		}
		if !ok || err != nil {
			fmt.Fprintf(stdio.Stderr(), "kill: %s : no such job\n", target)
			return 1
		}
		pgid = job.PID
	} else {
		pid, err := strconv.Atoi(target)
		if err != nil || pid <= 0 {
			fmt.Fprintf(stdio.Stderr(), "kill: %s : arguments must be process or job IDs\n", target)
			return 1
		}
		pgid = pid
		job, _ = s.Jobs.LookupPID(pid)
	}

	wasStopped := s.groupStopped(pgid, job)

	switch err := unix.Kill(-pgid, sig); {
	case err == nil:
	case errors.Is(err, unix.EPERM):
		fmt.Fprintf(stdio.Stderr(), "kill: (%s) - operation not permitted\n", target)
		return 1
	case errors.Is(err, unix.ESRCH):
		fmt.Fprintf(stdio.Stderr(), "kill: (%s) - no such process\n", target)
		return 1
	default:
		fmt.Fprintf(stdio.Stderr(), "kill: (%s) - %v\n", target, err)
		return 1
	}

	// A stopped group only acts on the signal once it runs again.
	if wasStopped && sig != 0 && !isStopSignal(sig) {
		if err := unix.Kill(-pgid, unix.SIGCONT); err != nil {
			s.Log.Printf("kill: continue pgid %d: %v", pgid, err)
		}
	}
	return 0
}

// Help lists the builtins.
func Help(s *Shell, stdio *Stdio, _ *getopt.Set, _ []string) int {
	w := stdio.Stdout()
	fmt.Fprintln(w, "jsh, an interactive shell with job control.")
	fmt.Fprintln(w, "These commands are defined internally. Type `name --help' to find out more.")
	fmt.Fprintln(w)

	for _, name := range BuiltinNames() {
		if cmd, ok := AllBuiltins[name].(*BuiltinCommand); ok {
			fmt.Fprintf(w, "  %-28s %s\n", cmd.Use, cmd.Short)
		} else {
			fmt.Fprintf(w, "  %s\n", name)
		}
	}

	return 0
}

// BuiltinNames returns the sorted builtin names.
func BuiltinNames() []string {
	var names []string
	for k := range AllBuiltins {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

func init() {
	AllBuiltins["cd"] = &BuiltinCommand{
		Use:   "cd [dir|-]",
		Short: "Change the working directory, - returns to the previous one.",
		Run:   Cd,
	}
	AllBuiltins["exit"] = &BuiltinCommand{
		Use:     "exit [code]",
		Short:   "Exit the shell with code or the last exit code.",
		RawArgs: true,
		Run:     Exit,
	}
	AllBuiltins["pwd"] = &BuiltinCommand{
		Use:   "pwd",
		Short: "Print the working directory.",
		Run:   Pwd,
	}
	AllBuiltins["?"] = &BuiltinCommand{
		Use:     "?",
		Short:   "Print the last exit code and reset it.",
		RawArgs: true,
		Run:     LastStatus,
	}
	AllBuiltins["jobs"] = &BuiltinCommand{
		Use:   "jobs [-t]",
		Short: "List jobs, -t adds each job's process ancestry.",
		Flags: func(opts *getopt.Set) {
			opts.Bool('t', "show the process tree of each job")
		},
		Run: Jobs,
	}
	AllBuiltins["fg"] = &BuiltinCommand{
		Use:   "fg %job",
		Short: "Continue a job in the foreground.",
		Run:   Fg,
	}
	AllBuiltins["bg"] = &BuiltinCommand{
		Use:   "bg %job",
		Short: "Continue a stopped job in the background.",
		Run:   Bg,
	}
	AllBuiltins["kill"] = &BuiltinCommand{
		Use:     "kill [-sig] (pid|%job)",
		Short:   "Send a signal, SIGTERM by default, to a process group.",
		RawArgs: true,
		Run:     Kill,
	}
	AllBuiltins["help"] = &BuiltinCommand{
		Use:   "help",
		Short: "List the builtin commands.",
		Run:   Help,
	}
}
