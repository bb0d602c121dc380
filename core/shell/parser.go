// Package shell turns a command line into a Chain of commands.
//
// Words are split the way a POSIX shell splits them (whitespace, single and
// double quotes, backslash escapes). A word spelled exactly like one of the
// operators below is always an operator:
//
//	|  &  >  >|  >>  <  2>  2>|  2>>  <(  )
//
// Expansions of any kind are not performed.
package shell

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/anmitsu/go-shlex"
)

const (
	opPipe       = "|"
	opBackground = "&"
	opSubOpen    = "<("
	opSubClose   = ")"

	devFdPrefix = "/dev/fd/"
)

// IsOperator reports whether word is a shell operator.
func IsOperator(word string) bool {
	switch word {
	case opPipe, opBackground, opSubOpen, opSubClose:
		return true
	}
	_, ok := LookupRedirect(word)
	return ok
}

// SyntaxError is returned for malformed command lines.
type SyntaxError struct {
	// Token is the offending token, "newline" for end of input.
	Token string
	// Reason replaces the default message when set.
	Reason string
}

func (e *SyntaxError) Error() string {
	if e.Reason != "" {
		return "syntax error: " + e.Reason
	}
	return fmt.Sprintf("syntax error near unexpected token `%s'", e.Token)
}

func unexpected(tok string) *SyntaxError {
	return &SyntaxError{Token: tok}
}

var errNewline = unexpected("newline")

type parser struct {
	tokens []string
	pos    int
}

func (p *parser) next() (string, bool) {
	if p.pos >= len(p.tokens) {
		return "", false
	}
	tok := p.tokens[p.pos]
	p.pos++
	return tok, true
}

// Parse parses a line into a Chain. On error the partially built chain is
// returned alongside it so the caller can Close it.
func Parse(line string) (Chain, error) {
	tokens, err := shlex.Split(line, true)
	if err != nil {
		return nil, &SyntaxError{Token: "newline", Reason: strings.ToLower(err.Error())}
	}

	p := &parser{tokens: tokens}
	return p.chain(false)
}

func (p *parser) chain(inSubstitution bool) (Chain, error) {
	var chain Chain
	var cur *Command

	for {
		tok, ok := p.next()
		if !ok {
			if inSubstitution {
				return chain, &SyntaxError{Token: "newline", Reason: "unexpected end of input, expected `)'"}
			}
			return chain, nil
		}

		if cur == nil {
			if inSubstitution && tok == opSubClose && len(chain) == 0 {
				return chain, &SyntaxError{Token: tok, Reason: "empty process substitution"}
			}
			if IsOperator(tok) {
				return chain, unexpected(tok)
			}
			cur = &Command{Name: tok}
			chain = append(chain, cur)
			continue
		}

		switch tok {
		case opPipe:
			if p.pos >= len(p.tokens) {
				return chain, errNewline
			}
			cur.Piped = true
			cur = nil

		case opBackground:
			if inSubstitution {
				return chain, unexpected(tok)
			}
			cur.Background = true
			cur = nil

		case opSubOpen:
			sub, err := p.substitution()
			if err != nil {
				return chain, err
			}
			cur.Substitutions = append(cur.Substitutions, sub)
			cur.Args = append(cur.Args, sub.Path)

		case opSubClose:
			if !inSubstitution {
				return chain, unexpected(tok)
			}
			return chain, nil

		default:
			kind, isRedirect := LookupRedirect(tok)
			if !isRedirect {
				cur.Args = append(cur.Args, tok)
				continue
			}

			target, ok := p.next()
			switch {
			case !ok:
				return chain, errNewline
			case target == opSubOpen:
				sub, err := p.substitution()
				if err != nil {
					return chain, err
				}
				cur.Substitutions = append(cur.Substitutions, sub)
				target = sub.Path
			case IsOperator(target):
				return chain, unexpected(target)
			}
			cur.Redirections = append(cur.Redirections, Redirection{Kind: kind, Target: target})
		}
	}
}

// substitution parses up to the matching ) and connects the nested chain to
// a fresh pipe.
func (p *parser) substitution() (Substitution, error) {
	nested, err := p.chain(true)
	if err != nil {
		nested.Close()
		return Substitution{}, err
	}

	r, w, err := os.Pipe()
	if err != nil {
		nested.Close()
		return Substitution{}, fmt.Errorf("pipe: %w", err)
	}

	last := nested[len(nested)-1]
	last.Redirections = append(last.Redirections, Redirection{
		Kind:   RedirectSubstitution,
		Target: strconv.Itoa(int(w.Fd())),
		Pipe:   w,
	})

	return Substitution{
		Chain: nested,
		File:  r,
		Path:  devFdPrefix + strconv.Itoa(int(r.Fd())),
	}, nil
}

func fdFromPath(path string) int {
	n, err := strconv.Atoi(strings.TrimPrefix(path, devFdPrefix))
	if err != nil || !strings.HasPrefix(path, devFdPrefix) {
		return -1
	}
	return n
}
