// Package policy decides what skills may touch: which commands the shell
// may run (Whitelist) and which paths the filesystem skills may read or
// write (Policy).
package policy

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
)

// ProtectedFiles cannot be written by skills.
var ProtectedFiles = []string{
	"courier.toml",
	"courier.yaml",
	"courier.yml",
	"policy.toml",
	".env",
}

// Policy is the security policy loaded from policy.toml.
type Policy struct {
	DefaultDeny bool
	Workspace   string
	HomeDir     string
	ConfigDir   string // directory holding courier.toml and policy.toml
	Skills      map[string]*SkillPolicy
}

// SkillPolicy holds the per-skill table of a policy file.
type SkillPolicy struct {
	Enabled   bool
	Allow     []string // path globs
	Deny      []string // path globs, deny wins
	Allowlist []string // leading command tokens (shell, git)
	Denylist  []string // command prefixes, "*" as the last word matches any tail
}

// New creates a permissive policy with no skill tables.
func New() *Policy {
	homeDir, _ := os.UserHomeDir()
	return &Policy{
		HomeDir: homeDir,
		Skills:  make(map[string]*SkillPolicy),
	}
}

// LoadFile loads a policy from a TOML file.
func LoadFile(path string) (*Policy, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read policy file: %w", err)
	}
	pol, err := Parse(string(content))
	if err != nil {
		return nil, err
	}
	if abs, err := filepath.Abs(filepath.Dir(path)); err == nil {
		pol.ConfigDir = abs
	}
	return pol, nil
}

// Parse parses a policy from TOML content. Top-level keys default_deny and
// workspace are scalars; every table is a skill section.
func Parse(content string) (*Policy, error) {
	var raw map[string]interface{}
	if _, err := toml.Decode(content, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse policy: %w", err)
	}

	pol := New()
	for key, value := range raw {
		switch key {
		case "default_deny":
			if v, ok := value.(bool); ok {
				pol.DefaultDeny = v
			}
			continue
		case "workspace":
			if v, ok := value.(string); ok {
				pol.Workspace = v
			}
			continue
		}

		table, ok := value.(map[string]interface{})
		if !ok {
			continue
		}

		sp := &SkillPolicy{Enabled: true}
		if v, ok := table["enabled"].(bool); ok {
			sp.Enabled = v
		}
		if v, ok := table["allow"].([]interface{}); ok {
			sp.Allow = toStringSlice(v)
		}
		if v, ok := table["deny"].([]interface{}); ok {
			sp.Deny = toStringSlice(v)
		}
		if v, ok := table["allowlist"].([]interface{}); ok {
			sp.Allowlist = toStringSlice(v)
		}
		if v, ok := table["denylist"].([]interface{}); ok {
			sp.Denylist = toStringSlice(v)
		}
		pol.Skills[key] = sp
	}

	return pol, nil
}

func toStringSlice(v []interface{}) []string {
	result := make([]string, 0, len(v))
	for _, item := range v {
		if s, ok := item.(string); ok {
			result = append(result, s)
		}
	}
	return result
}

// SkillPolicy returns the table for a skill, or an enabled default.
func (p *Policy) SkillPolicy(skill string) *SkillPolicy {
	if p != nil && p.Skills != nil {
		if sp, ok := p.Skills[skill]; ok {
			return sp
		}
	}
	return &SkillPolicy{Enabled: true}
}

// IsSkillEnabled checks if a skill is enabled.
func (p *Policy) IsSkillEnabled(skill string) bool {
	return p.SkillPolicy(skill).Enabled
}

// IsProtectedFile checks if path resolves to a protected config file.
// Symlinks are resolved so a link cannot be used to reach one.
func (p *Policy) IsProtectedFile(path string) bool {
	realPath := resolve(path)
	baseName := filepath.Base(realPath)

	for _, protected := range ProtectedFiles {
		if baseName == protected {
			return true
		}
	}

	if p.ConfigDir != "" {
		configReal := resolve(p.ConfigDir)
		if filepath.Dir(realPath) == configReal {
			for _, protected := range ProtectedFiles {
				if baseName == protected {
					return true
				}
			}
		}
	}
	return false
}

// resolve makes path absolute and follows symlinks as far as they exist.
func resolve(path string) string {
	absPath, err := filepath.Abs(path)
	if err != nil {
		absPath = path
	}
	if real, err := filepath.EvalSymlinks(absPath); err == nil {
		return real
	}
	// File may not exist yet: resolve the parent instead.
	if realDir, err := filepath.EvalSymlinks(filepath.Dir(absPath)); err == nil {
		return filepath.Join(realDir, filepath.Base(absPath))
	}
	return absPath
}

// CheckPath reports whether skill may access path. write marks mutating
// access, which additionally refuses protected files.
func (p *Policy) CheckPath(skill, path string, write bool) (bool, string) {
	sp := p.SkillPolicy(skill)
	if !sp.Enabled {
		return false, fmt.Sprintf("skill %s is disabled", skill)
	}

	absPath := resolve(path)

	if write && p.IsProtectedFile(absPath) {
		return false, fmt.Sprintf("path %s is a protected config file", path)
	}

	for _, pattern := range sp.Deny {
		if matchPath(p.expandPattern(pattern), absPath) {
			return false, fmt.Sprintf("path %s matches deny pattern %s", path, pattern)
		}
	}

	if len(sp.Allow) > 0 {
		for _, pattern := range sp.Allow {
			if matchPath(p.expandPattern(pattern), absPath) {
				return true, ""
			}
		}
		return false, fmt.Sprintf("path %s not in allow list", path)
	}

	if p.DefaultDeny {
		return false, fmt.Sprintf("path %s not in allow list (default_deny=true)", path)
	}
	return true, ""
}

// expandPattern expands $WORKSPACE and ~ in patterns.
func (p *Policy) expandPattern(pattern string) string {
	if strings.HasPrefix(pattern, "$WORKSPACE") {
		pattern = strings.Replace(pattern, "$WORKSPACE", p.Workspace, 1)
	}
	if strings.HasPrefix(pattern, "~") {
		pattern = strings.Replace(pattern, "~", p.HomeDir, 1)
	}
	return pattern
}

// matchPath matches a path against a glob; "**" spans directories.
func matchPath(pattern, path string) bool {
	pattern = filepath.Clean(pattern)
	path = filepath.Clean(path)

	if !strings.Contains(pattern, "**") {
		matched, _ := filepath.Match(pattern, path)
		return matched
	}

	parts := strings.SplitN(pattern, "**", 2)
	prefix := strings.TrimSuffix(parts[0], string(filepath.Separator))
	suffix := strings.TrimPrefix(parts[1], string(filepath.Separator))

	remaining := path
	if prefix != "" {
		if path != prefix && !strings.HasPrefix(path, prefix+string(filepath.Separator)) {
			return false
		}
		remaining = strings.TrimPrefix(strings.TrimPrefix(path, prefix), string(filepath.Separator))
	}

	if suffix == "" {
		return true
	}
	if strings.HasSuffix(remaining, suffix) {
		return true
	}
	matched, _ := filepath.Match(suffix, filepath.Base(remaining))
	return matched
}
