package shell

import "os"

// RedirectKind identifies a redirection operator.
type RedirectKind int

const (
	RedirectOutput RedirectKind = iota
	RedirectInput
	RedirectOutputClobber
	RedirectOutputAppend
	RedirectStderr
	RedirectStderrClobber
	RedirectStderrAppend

	// RedirectSubstitution sends stdout to the write end of a process
	// substitution pipe. It has no operator text.
	RedirectSubstitution
)

type redirectInfo struct {
	op    string
	fd    int
	flags int
}

var redirectTable = [...]redirectInfo{
	RedirectOutput:        {op: ">", fd: 1, flags: os.O_WRONLY | os.O_CREATE | os.O_EXCL},
	RedirectInput:         {op: "<", fd: 0, flags: os.O_RDONLY},
	RedirectOutputClobber: {op: ">|", fd: 1, flags: os.O_WRONLY | os.O_TRUNC | os.O_CREATE},
	RedirectOutputAppend:  {op: ">>", fd: 1, flags: os.O_WRONLY | os.O_APPEND | os.O_CREATE},
	RedirectStderr:        {op: "2>", fd: 2, flags: os.O_WRONLY | os.O_CREATE | os.O_EXCL},
	RedirectStderrClobber: {op: "2>|", fd: 2, flags: os.O_WRONLY | os.O_TRUNC | os.O_CREATE},
	RedirectStderrAppend:  {op: "2>>", fd: 2, flags: os.O_WRONLY | os.O_APPEND | os.O_CREATE},
	RedirectSubstitution:  {op: "", fd: 1, flags: os.O_WRONLY},
}

// RedirectFileMode is the permission requested for files created by a
// redirection, before the umask.
const RedirectFileMode os.FileMode = 0666

// LookupRedirect returns the kind for the operator text op.
func LookupRedirect(op string) (RedirectKind, bool) {
	for kind, info := range redirectTable {
		if info.op != "" && info.op == op {
			return RedirectKind(kind), true
		}
	}
	return 0, false
}

// Operator returns the operator text, empty for substitution sinks.
func (k RedirectKind) Operator() string {
	return redirectTable[k].op
}

// Fd returns the standard stream the redirection replaces.
func (k RedirectKind) Fd() int {
	return redirectTable[k].fd
}

// Flags returns the flags the target is opened with.
func (k RedirectKind) Flags() int {
	return redirectTable[k].flags
}

func (k RedirectKind) String() string {
	if k == RedirectSubstitution {
		return "substitution"
	}
	return k.Operator()
}

// Redirection is a single (kind, target) pair attached to a command.
type Redirection struct {
	Kind   RedirectKind
	Target string

	// Pipe is the already open write end for RedirectSubstitution.
	Pipe *os.File
}
