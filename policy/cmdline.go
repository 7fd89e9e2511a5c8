package policy

import (
	"errors"
	"fmt"
	"strings"

	"github.com/google/shlex"
)

// Redirect is one file redirection of a command. Op is one of "<", ">",
// ">>", "2>", "2>>" or "2>&1"; Target is empty for "2>&1".
type Redirect struct {
	Op     string
	Target string
}

// Command is one process of a pipeline.
type Command struct {
	Argv      []string
	Redirects []Redirect
	// Globs holds the indexes of Argv words with unquoted *, ? or [.
	Globs []int
}

// Pipeline is a sequence of commands joined by "|". Op connects it to the
// previous pipeline of the line: "" for the first, then "&&", "||" or ";".
type Pipeline struct {
	Op       string
	Commands []Command
}

// Argvs lists the argv of every command in the line.
func Argvs(line []Pipeline) [][]string {
	var out [][]string
	for _, p := range line {
		for _, c := range p.Commands {
			out = append(out, c.Argv)
		}
	}
	return out
}

var (
	errNewline      = errors.New("newlines are not allowed")
	errSubstitution = errors.New("command substitution is not allowed")
	errExpansion    = errors.New("variable expansion is not allowed")
	errBackground   = errors.New("background jobs are not allowed")
	errSubshell     = errors.New("subshells are not allowed")
	errUnterminated = errors.New("unterminated quote")
)

type tokenKind int

const (
	wordToken tokenKind = iota
	opToken
)

type token struct {
	kind tokenKind
	text string // operator, or the raw word with its quoting
	glob bool
}

// ParseLine splits a command line into pipelines without invoking a shell.
// Operators are recognised wherever they appear outside quotes, attached to
// a word or not. Anything that would need a shell to evaluate (command or
// variable substitution, subshells, background jobs, here-documents,
// newlines) is rejected.
func ParseLine(line string) ([]Pipeline, error) {
	tokens, err := lex(line)
	if err != nil {
		return nil, err
	}
	return parse(tokens)
}

func lex(line string) ([]token, error) {
	var (
		tokens []token
		word   strings.Builder
		glob   bool
		quoted bool // the current word had a quote or escape
	)
	flush := func() {
		if word.Len() > 0 {
			tokens = append(tokens, token{kind: wordToken, text: word.String(), glob: glob})
		}
		word.Reset()
		glob, quoted = false, false
	}
	op := func(s string) {
		flush()
		tokens = append(tokens, token{kind: opToken, text: s})
	}

	rs := []rune(line)
	peek := func(i int) rune {
		if i < len(rs) {
			return rs[i]
		}
		return 0
	}

	for i := 0; i < len(rs); i++ {
		r := rs[i]
		switch r {
		case '\n', '\r':
			return nil, errNewline
		case ' ', '\t':
			flush()
		case '\\':
			if i+1 >= len(rs) {
				return nil, errors.New("trailing backslash")
			}
			if rs[i+1] == '\n' || rs[i+1] == '\r' {
				return nil, errNewline
			}
			word.WriteRune(r)
			word.WriteRune(rs[i+1])
			quoted = true
			i++
		case '\'':
			end := i + 1
			for end < len(rs) && rs[end] != '\'' {
				if rs[end] == '\n' || rs[end] == '\r' {
					return nil, errNewline
				}
				end++
			}
			if end >= len(rs) {
				return nil, errUnterminated
			}
			word.WriteString(string(rs[i : end+1]))
			quoted = true
			i = end
		case '"':
			end, err := scanDouble(rs, i+1)
			if err != nil {
				return nil, err
			}
			word.WriteString(string(rs[i : end+1]))
			quoted = true
			i = end
		case '`':
			return nil, errSubstitution
		case '$':
			if err := checkDollar(peek(i + 1)); err != nil {
				return nil, err
			}
			word.WriteRune(r)
		case '(', ')':
			return nil, errSubshell
		case '#':
			if word.Len() == 0 {
				return nil, errors.New("comments are not allowed")
			}
			word.WriteRune(r)
		case '|':
			switch peek(i + 1) {
			case '|':
				op("||")
				i++
			case '&':
				return nil, errors.New("|& is not allowed")
			default:
				op("|")
			}
		case '&':
			if peek(i+1) != '&' {
				return nil, errBackground
			}
			op("&&")
			i++
		case ';':
			op(";")
		case '<':
			switch peek(i + 1) {
			case '<', '(', '>', '&':
				return nil, fmt.Errorf("%q is not allowed", string(rs[i:i+2]))
			}
			op("<")
		case '>':
			fd := ""
			if !quoted && (word.String() == "1" || word.String() == "2") {
				fd = word.String()
				word.Reset()
			}
			n, err := redirectOp(rs, i, fd)
			if err != nil {
				return nil, err
			}
			op(n.op)
			i += n.width - 1
		default:
			if r == '*' || r == '?' || r == '[' {
				glob = true
			}
			word.WriteRune(r)
		}
	}
	flush()
	return tokens, nil
}

// scanDouble returns the index of the closing double quote.
func scanDouble(rs []rune, i int) (int, error) {
	for ; i < len(rs); i++ {
		switch rs[i] {
		case '"':
			return i, nil
		case '\n', '\r':
			return 0, errNewline
		case '`':
			return 0, errSubstitution
		case '\\':
			i++
		case '$':
			if i+1 < len(rs) {
				if err := checkDollar(rs[i+1]); err != nil {
					return 0, err
				}
			}
		}
	}
	return 0, errUnterminated
}

func checkDollar(next rune) error {
	switch {
	case next == '(':
		return errSubstitution
	case next == '{', next == '_', next >= 'a' && next <= 'z', next >= 'A' && next <= 'Z',
		next >= '0' && next <= '9', strings.ContainsRune("@*#?$!-", next):
		return errExpansion
	}
	return nil
}

type redirect struct {
	op    string
	width int
}

// redirectOp reads the output redirection starting at rs[i] == '>'.
// fd is "1", "2" or "" for a bare '>'.
func redirectOp(rs []rune, i int, fd string) (redirect, error) {
	rest := string(rs[i:])
	switch {
	case strings.HasPrefix(rest, ">&1") && fd == "2":
		return redirect{"2>&1", 3}, nil
	case strings.HasPrefix(rest, ">&"), strings.HasPrefix(rest, ">|"):
		return redirect{}, fmt.Errorf("%q is not allowed", fd+rest[:2])
	case strings.HasPrefix(rest, ">>"):
		if fd == "2" {
			return redirect{"2>>", 2}, nil
		}
		return redirect{">>", 2}, nil
	default:
		if fd == "2" {
			return redirect{"2>", 1}, nil
		}
		return redirect{">", 1}, nil
	}
}

func parse(tokens []token) ([]Pipeline, error) {
	var (
		line    []Pipeline
		pipe    Pipeline
		cmd     Command
		pending string // redirect waiting for its target
	)
	endCommand := func(next string) error {
		if pending != "" {
			return fmt.Errorf("missing target for %q", pending)
		}
		if len(cmd.Argv) == 0 {
			return fmt.Errorf("missing command before %q", next)
		}
		pipe.Commands = append(pipe.Commands, cmd)
		cmd = Command{}
		return nil
	}

	for _, tok := range tokens {
		if tok.kind == wordToken {
			text, err := unquote(tok.text)
			if err != nil {
				return nil, err
			}
			if pending != "" {
				cmd.Redirects = append(cmd.Redirects, Redirect{Op: pending, Target: text})
				pending = ""
				continue
			}
			if tok.glob {
				cmd.Globs = append(cmd.Globs, len(cmd.Argv))
			}
			cmd.Argv = append(cmd.Argv, text)
			continue
		}

		switch tok.text {
		case "2>&1":
			if pending != "" {
				return nil, fmt.Errorf("missing target for %q", pending)
			}
			cmd.Redirects = append(cmd.Redirects, Redirect{Op: tok.text})
		case "<", ">", ">>", "2>", "2>>":
			if pending != "" {
				return nil, fmt.Errorf("missing target for %q", pending)
			}
			pending = tok.text
		case "|":
			if err := endCommand(tok.text); err != nil {
				return nil, err
			}
		default: // &&, ||, ;
			if err := endCommand(tok.text); err != nil {
				return nil, err
			}
			line = append(line, pipe)
			pipe = Pipeline{Op: tok.text}
		}
	}

	if len(cmd.Argv) == 0 && pending == "" && len(pipe.Commands) == 0 && pipe.Op == ";" {
		// trailing ";"
		return line, nil
	}
	if err := endCommand("end of line"); err != nil {
		return nil, err
	}
	return append(line, pipe), nil
}

// unquote removes the quoting of one raw word.
func unquote(raw string) (string, error) {
	words, err := shlex.Split(raw)
	if err != nil {
		return "", err
	}
	switch len(words) {
	case 0:
		return "", nil
	case 1:
		return words[0], nil
	default:
		return "", fmt.Errorf("cannot parse word %q", raw)
	}
}
