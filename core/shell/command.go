package shell

import (
	"os"
	"strings"
)

// Substitution is a nested chain whose stdout is readable by the owning
// command through Path.
type Substitution struct {
	Chain Chain

	// File is the read end of the pipe, Path names it as /dev/fd/N.
	File *os.File
	Path string
}

// Fd returns the descriptor number Path refers to.
func (s *Substitution) Fd() int {
	return fdFromPath(s.Path)
}

// Command is one pipeline segment.
type Command struct {
	Name          string
	Args          []string
	Redirections  []Redirection
	Substitutions []Substitution

	// Piped is set when stdout feeds the next segment.
	Piped bool
	// Background is set on the last segment of a pipeline ended by &.
	Background bool
}

// Argv returns the name followed by the arguments.
func (c *Command) Argv() []string {
	return append([]string{c.Name}, c.Args...)
}

// Close releases every descriptor owned by the command, including those of
// nested substitutions. It is safe to call more than once.
func (c *Command) Close() {
	for _, r := range c.Redirections {
		if r.Pipe != nil {
			r.Pipe.Close()
		}
	}
	for _, sub := range c.Substitutions {
		if sub.File != nil {
			sub.File.Close()
		}
		sub.Chain.Close()
	}
}

func (c *Command) substitutionFor(word string) *Substitution {
	for i := range c.Substitutions {
		if c.Substitutions[i].Path == word {
			return &c.Substitutions[i]
		}
	}
	return nil
}

func (c *Command) renderWord(word string) string {
	if sub := c.substitutionFor(word); sub != nil {
		return "<( " + sub.Chain.String() + " )"
	}
	return Quote(word)
}

func (c *Command) String() string {
	words := []string{Quote(c.Name)}
	for _, arg := range c.Args {
		words = append(words, c.renderWord(arg))
	}
	for _, r := range c.Redirections {
		if r.Kind == RedirectSubstitution {
			continue
		}
		words = append(words, r.Kind.Operator(), c.renderWord(r.Target))
	}
	return strings.Join(words, " ")
}

// Chain is the ordered list of segments parsed from one line.
type Chain []*Command

// Pipelines splits the chain into independently executed pipelines. Each
// pipeline ends at a segment that is not piped or that is backgrounded.
func (c Chain) Pipelines() []Chain {
	var out []Chain
	start := 0
	for i, cmd := range c {
		if !cmd.Piped || cmd.Background {
			out = append(out, c[start:i+1])
			start = i + 1
		}
	}
	if start < len(c) {
		out = append(out, c[start:])
	}
	return out
}

// Background reports whether the chain ends with &.
func (c Chain) Background() bool {
	return len(c) > 0 && c[len(c)-1].Background
}

// Close releases every descriptor the parser opened for the chain.
func (c Chain) Close() {
	for _, cmd := range c {
		cmd.Close()
	}
}

// String renders the chain as a command line.
func (c Chain) String() string {
	var parts []string
	for _, cmd := range c {
		parts = append(parts, cmd.String())
		switch {
		case cmd.Piped:
			parts = append(parts, "|")
		case cmd.Background:
			parts = append(parts, "&")
		}
	}
	return strings.Join(parts, " ")
}

// Text renders the chain without a trailing background marker, the form
// shown in job listings.
func (c Chain) Text() string {
	return strings.TrimSuffix(c.String(), " &")
}

// Quote returns word in a form the parser reads back as the same word.
func Quote(word string) string {
	if word != "" && !strings.ContainsAny(word, " \t\n\r\v\f'\"\\") {
		return word
	}
	return "'" + strings.ReplaceAll(word, "'", `'\''`) + "'"
}
