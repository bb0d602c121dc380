// Package jobs tracks background and stopped process groups.
package jobs

import (
	"errors"
	"fmt"
	"io"
	"log"

	"golang.org/x/sys/unix"
)

// ErrNoSuchJob is returned when a job id or pid is not in the table.
var ErrNoSuchJob = errors.New("no such job")

// State is the lifecycle state of a job.
type State int

const (
	Running State = iota
	Stopped
	Done
	Killed
	Detached
)

var stateWords = [...]string{
	Running:  "Running ",
	Stopped:  "Stopped ",
	Done:     "Done\t",
	Killed:   "Killed ",
	Detached: "Detached ",
}

// String returns the word used in job listings, including its separator.
func (s State) String() string {
	if s < 0 || int(s) >= len(stateWords) {
		return fmt.Sprintf("State(%d) ", int(s))
	}
	return stateWords[s]
}

// Terminal reports whether the job has finished.
func (s State) Terminal() bool {
	return s == Done || s == Killed
}

// Job is a process group known to the shell.
type Job struct {
	ID      int    `json:"id"`
	PID     int    `json:"pid"`
	State   State  `json:"state"`
	Command string `json:"command"`

	members map[int]bool
	last    int
	status  unix.WaitStatus

	// shown is the state last printed in a listing.
	shown State
}

// NewJob creates a job for the group led by pid. members lists every pid in
// the group, last is the final stage whose status becomes the job's.
func NewJob(pid int, members []int, last int, state State, command string) *Job {
	j := &Job{
		PID:     pid,
		State:   state,
		Command: command,
		members: make(map[int]bool),
		last:    last,
		shown:   state,
	}
	for _, m := range members {
		j.members[m] = true
	}
	return j
}

// Apply records a wait status reported for pid.
func (j *Job) Apply(pid int, ws unix.WaitStatus) {
	switch {
	case ws.Exited(), ws.Signaled():
		delete(j.members, pid)
		if pid == j.last {
			j.status = ws
		}
		if len(j.members) == 0 {
			if j.status.Signaled() {
				j.State = Killed
			} else {
				j.State = Done
			}
		}
	case ws.Stopped():
		j.State = Stopped
	case ws.Continued():
		j.State = Running
	}
}

// Refresh applies every pending state change of the group without
// blocking. It reports true once the group has no children left to wait for.
func (j *Job) Refresh(w Waiter) (bool, error) {
	for {
		pid, ws, err := w.Wait(j.PID, unix.WNOHANG|unix.WUNTRACED|unix.WCONTINUED)
		switch {
		case errors.Is(err, unix.EINTR):
			continue
		case errors.Is(err, unix.ECHILD):
			return true, nil
		case err != nil:
			return false, err
		case pid <= 0:
			return false, nil
		}
		j.Apply(pid, ws)
	}
}

// Members returns the number of group members not yet reaped.
func (j *Job) Members() int {
	return len(j.members)
}

// ExitCode is the exit code of the last stage, as far as it is known.
func (j *Job) ExitCode() int {
	return ExitCode(j.status)
}

// Print writes the job's listing line to out and remembers its state as
// reported.
func (j *Job) Print(out io.Writer) {
	fmt.Fprintln(out, j)
	j.shown = j.State
}

// String formats the job as a listing line without the newline.
func (j *Job) String() string {
	return fmt.Sprintf("[%d] %d %s%s", j.ID, j.PID, j.State, j.Command)
}

// Table is the ordered set of jobs.
type Table struct {
	jobs   []*Job
	nextID int

	// Log receives a trace of job transitions.
	Log *log.Logger
}

// NewTable creates an empty table.
func NewTable() *Table {
	return &Table{
		nextID: 1,
		Log:    log.New(io.Discard, "", 0),
	}
}

// Add assigns the next id to a new job and appends it to the table.
func (t *Table) Add(pid int, members []int, last int, state State, command string) *Job {
	return t.Track(NewJob(pid, members, last, state, command))
}

// Track assigns the next id to j and appends it to the table.
func (t *Table) Track(j *Job) *Job {
	j.ID = t.nextID
	t.nextID++
	t.jobs = append(t.jobs, j)
	t.Log.Printf("job %d: pgid %d %s%s", j.ID, j.PID, j.State, j.Command)
	return j
}

// Remove deletes the job led by pid. The id counter is rolled back when the
// removed job held the highest id.
func (t *Table) Remove(pid int) bool {
	for i, j := range t.jobs {
		if j.PID != pid {
			continue
		}
		t.jobs = append(t.jobs[:i], t.jobs[i+1:]...)
		if j.ID == t.nextID-1 {
			t.nextID--
		}
		t.Log.Printf("job %d: removed", j.ID)
		return true
	}
	return false
}

// Lookup finds a job by id.
func (t *Table) Lookup(id int) (*Job, error) {
	for _, j := range t.jobs {
		if j.ID == id {
			return j, nil
		}
	}
	return nil, ErrNoSuchJob
}

// LookupPID finds a job by its group leader.
func (t *Table) LookupPID(pid int) (*Job, error) {
	for _, j := range t.jobs {
		if j.PID == pid {
			return j, nil
		}
	}
	return nil, ErrNoSuchJob
}

// Len returns the number of jobs.
func (t *Table) Len() int {
	return len(t.jobs)
}

// NextID returns the id the next job will get.
func (t *Table) NextID() int {
	return t.nextID
}

// Jobs returns a copy of the job list in table order.
func (t *Table) Jobs() []*Job {
	return append([]*Job(nil), t.jobs...)
}

// Reconcile collects pending state changes of every job without blocking.
// Finished jobs are printed once and removed, jobs whose state changed since
// they were last printed are printed, and the rest are printed only when
// report is set. Jobs whose group has no children left are dropped silently.
func (t *Table) Reconcile(w Waiter, out io.Writer, report bool) {
	t.ReconcileEach(w, report, func(j *Job) {
		j.Print(out)
	})
}

// ReconcileEach is Reconcile with the printing of each selected job left to
// show. Finished jobs are passed to show before they are removed.
func (t *Table) ReconcileEach(w Waiter, report bool, show func(j *Job)) {
	for _, j := range t.Jobs() {
		before := j.State

		gone, err := j.Refresh(w)
		if err != nil {
			t.Log.Printf("job %d: wait: %v", j.ID, err)
		}

		if j.State != before {
			t.Log.Printf("job %d: %s-> %s", j.ID, before, j.State)
		}

		switch {
		case j.State.Terminal():
			show(j)
			t.Remove(j.PID)
		case gone:
			t.Remove(j.PID)
		case j.State != j.shown || report:
			show(j)
			j.shown = j.State
		}
	}
}

// Snapshot is a serializable copy of a table.
type Snapshot struct {
	NextID int    `json:"next_id"`
	Jobs   []*Job `json:"jobs"`
}

// Snapshot copies the visible state of the table.
func (t *Table) Snapshot() Snapshot {
	snap := Snapshot{NextID: t.nextID}
	for _, j := range t.jobs {
		snap.Jobs = append(snap.Jobs, &Job{ID: j.ID, PID: j.PID, State: j.State, Command: j.Command})
	}
	return snap
}

// FromSnapshot rebuilds a table. Restored jobs have no known members.
func FromSnapshot(snap Snapshot) *Table {
	t := NewTable()
	for _, j := range snap.Jobs {
		t.jobs = append(t.jobs, NewJob(j.PID, nil, 0, j.State, j.Command))
		t.jobs[len(t.jobs)-1].ID = j.ID
	}
	if snap.NextID > 0 {
		t.nextID = snap.NextID
	}
	return t
}
