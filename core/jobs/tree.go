package jobs

import (
	"fmt"
	"io"
	"strings"

	ps "github.com/mitchellh/go-ps"
)

// ProcessFinder looks up a process, returning nil if it does not exist.
type ProcessFinder func(pid int) (ps.Process, error)

const maxTreeDepth = 64

// WriteAncestry prints pid and its ancestors, one per line, indented four
// spaces per generation.
func WriteAncestry(out io.Writer, pid int, find ProcessFinder) {
	if find == nil {
		find = ps.FindProcess
	}

	for depth := 1; pid > 0 && depth <= maxTreeDepth; depth++ {
		proc, err := find(pid)
		if err != nil || proc == nil {
			break
		}
		fmt.Fprintf(out, "%s|-%d\n", strings.Repeat("    ", depth), proc.Pid())
		pid = proc.PPid()
	}
}
