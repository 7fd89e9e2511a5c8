package policy

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
)

// DefaultAllowedCommands is the allow-set used when policy.toml has no
// [shell] allowlist.
var DefaultAllowedCommands = []string{
	"cat", "cut", "date", "df", "diff", "du", "echo", "file", "find", "git",
	"grep", "head", "ls", "mkdir", "pwd", "sort", "stat", "tail", "touch",
	"tr", "tree", "uniq", "wc",
}

// ForbiddenPattern is a command shape that is denied even when its leading
// token is allowed. Each pattern checks the parsed commands and then the raw
// line.
type ForbiddenPattern struct {
	Name    string
	command func(c Command, piped bool) bool
	raw     func(line string) bool
}

func (fp ForbiddenPattern) matches(line string, pipelines []Pipeline) bool {
	for _, p := range pipelines {
		for i, c := range p.Commands {
			if fp.command != nil && fp.command(c, i > 0) {
				return true
			}
		}
	}
	return fp.raw != nil && fp.raw(line)
}

var (
	recursiveRootDelete = regexp.MustCompile(`(?i)(?:^|[\s;&|(])rm\s+(?:-\S+\s+)*(?:-[a-z]*r[a-z]*|--recursive)\s+(?:-\S+\s+)*/\*?(?:\s|$)`)
	networkFetch        = regexp.MustCompile(`(?i)(?:^|[\s;&|(])(?:curl|wget|aria2c|axel|xh|httpie)\b[^|;&]*\b(?:https?|ftp)://`)
	rootRedirect        = regexp.MustCompile(`>>?\s*(/\S*)`)
	processReplacement  = regexp.MustCompile(`(?:^|[;&|(]\s*)\s*exec(?:\s|$)`)
	pipeToShell         = regexp.MustCompile(`\|\s*(?:sudo\s+)?(?:\S*/)?(?:ba|z|da|k|c|tc|fi|a)?sh(?:\s|$)`)
)

// redirectSinks are absolute paths a redirection may target.
var redirectSinks = map[string]bool{
	"/dev/null":   true,
	"/dev/stdout": true,
	"/dev/stderr": true,
}

var (
	shells   = map[string]bool{"sh": true, "bash": true, "zsh": true, "dash": true, "ksh": true, "csh": true, "tcsh": true, "fish": true, "ash": true}
	fetchers = map[string]bool{"curl": true, "wget": true, "aria2c": true, "axel": true, "xh": true, "http": true, "https": true}
	findExec = map[string]bool{"-exec": true, "-execdir": true, "-ok": true, "-okdir": true}
)

// ForbiddenPatterns is the fixed set of denied command shapes.
var ForbiddenPatterns = []ForbiddenPattern{
	{Name: "recursive delete of /", command: deletesRoot, raw: recursiveRootDelete.MatchString},
	{Name: "network fetch", command: fetchesURL, raw: networkFetch.MatchString},
	{Name: "redirect to absolute path", command: redirectsOutside, raw: func(line string) bool {
		for _, m := range rootRedirect.FindAllStringSubmatch(line, -1) {
			if !redirectSinks[m[1]] {
				return true
			}
		}
		return false
	}},
	{Name: "exec process replacement", command: func(c Command, _ bool) bool {
		return program(c) == "exec"
	}, raw: processReplacement.MatchString},
	{Name: "pipe into shell", command: func(c Command, piped bool) bool {
		name := program(c)
		if name == "sudo" && len(c.Argv) > 1 {
			name = filepath.Base(c.Argv[1])
		}
		return piped && shells[name]
	}, raw: pipeToShell.MatchString},
	{Name: "find -exec", command: func(c Command, _ bool) bool {
		if program(c) != "find" {
			return false
		}
		for _, arg := range c.Argv[1:] {
			if findExec[arg] {
				return true
			}
		}
		return false
	}},
}

func program(c Command) string {
	if len(c.Argv) == 0 {
		return ""
	}
	return filepath.Base(c.Argv[0])
}

func deletesRoot(c Command, _ bool) bool {
	if program(c) != "rm" {
		return false
	}
	recursive, root := false, false
	for _, arg := range c.Argv[1:] {
		switch {
		case arg == "--recursive":
			recursive = true
		case strings.HasPrefix(arg, "--"):
		case strings.HasPrefix(arg, "-"):
			if strings.ContainsAny(arg, "rR") {
				recursive = true
			}
		default:
			if clean := filepath.Clean(arg); clean == "/" || clean == "/*" {
				root = true
			}
		}
	}
	return recursive && root
}

func fetchesURL(c Command, _ bool) bool {
	if !fetchers[program(c)] {
		return false
	}
	for _, arg := range c.Argv[1:] {
		lower := strings.ToLower(arg)
		for _, scheme := range []string{"http://", "https://", "ftp://"} {
			if strings.Contains(lower, scheme) {
				return true
			}
		}
	}
	return false
}

// redirectsOutside reports an output redirection to an absolute path other
// than a sink, or to a relative path that climbs out of the working directory.
func redirectsOutside(c Command, _ bool) bool {
	for _, r := range c.Redirects {
		if r.Op == "<" || r.Op == "2>&1" {
			continue
		}
		if filepath.IsAbs(r.Target) {
			if !redirectSinks[r.Target] {
				return true
			}
			continue
		}
		if clean := filepath.Clean(r.Target); clean == ".." || strings.HasPrefix(clean, "../") {
			return true
		}
	}
	return false
}

// Whitelist checks shell command lines against an allow-set of leading
// tokens and the forbidden patterns.
type Whitelist struct {
	allowed  map[string]struct{}
	denylist []string
}

// NewWhitelist builds a whitelist from allowed leading tokens.
func NewWhitelist(allowed []string) *Whitelist {
	w := &Whitelist{allowed: make(map[string]struct{}, len(allowed))}
	for _, cmd := range allowed {
		if cmd = strings.TrimSpace(cmd); cmd != "" {
			w.allowed[cmd] = struct{}{}
		}
	}
	return w
}

// WhitelistFromPolicy builds the whitelist for a skill's policy table,
// falling back to DefaultAllowedCommands.
func WhitelistFromPolicy(p *Policy, skill string) *Whitelist {
	sp := p.SkillPolicy(skill)
	allowed := sp.Allowlist
	if len(allowed) == 0 {
		allowed = DefaultAllowedCommands
	}
	w := NewWhitelist(allowed)
	w.denylist = append(w.denylist, sp.Denylist...)
	return w
}

// Allows reports whether cmd is in the allow-set.
func (w *Whitelist) Allows(cmd string) bool {
	_, ok := w.allowed[cmd]
	return ok
}

// IsAllowed decides whether raw may run. When it may not, reason says why.
// Every command of every pipeline must be in the allow-set.
func (w *Whitelist) IsAllowed(raw string) (bool, string) {
	line := strings.TrimSpace(raw)
	if line == "" {
		return false, "empty command"
	}

	pipelines, err := ParseLine(line)
	if err != nil {
		return false, fmt.Sprintf("cannot parse command: %v", err)
	}
	argvs := Argvs(pipelines)
	if len(argvs) == 0 {
		return false, "empty command"
	}

	for _, argv := range argvs {
		if !w.Allows(argv[0]) {
			return false, fmt.Sprintf("command not allowed: %s", argv[0])
		}
	}

	for _, fp := range ForbiddenPatterns {
		if fp.matches(line, pipelines) {
			return false, fmt.Sprintf("forbidden pattern: %s", fp.Name)
		}
	}

	for _, pattern := range w.denylist {
		for _, argv := range argvs {
			if matchCommand(pattern, argv) {
				return false, fmt.Sprintf("command matches deny pattern: %s", pattern)
			}
		}
	}

	return true, ""
}

// matchCommand matches argv against a deny pattern. A trailing "*" word
// matches any remaining arguments; otherwise the match is exact.
func matchCommand(pattern string, argv []string) bool {
	words := strings.Fields(pattern)
	if len(words) == 0 {
		return false
	}

	if words[len(words)-1] == "*" {
		words = words[:len(words)-1]
		if len(argv) < len(words) {
			return false
		}
	} else if len(words) != len(argv) {
		return false
	}

	for i, w := range words {
		if argv[i] != w {
			return false
		}
	}
	return true
}
