package skills

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/vinayprograms/courier/core"
	apperrors "github.com/vinayprograms/courier/errors"
	"github.com/vinayprograms/courier/policy"
)

const defaultReadLimit = 256 * 1024

// Workspace confines filesystem skills to one directory tree and applies
// the path policy.
type Workspace struct {
	Root   string
	Policy *policy.Policy
}

// Resolve returns the absolute form of path, which must stay inside the
// workspace after symlink resolution.
func (w Workspace) Resolve(path string) (string, error) {
	if path == "" {
		return "", apperrors.New(apperrors.ErrCodeInvalidInput, "path is required")
	}
	root, err := filepath.Abs(w.Root)
	if err != nil {
		return "", fmt.Errorf("invalid workspace: %w", err)
	}
	if real, err := filepath.EvalSymlinks(root); err == nil {
		root = real
	}

	abs := filepath.Clean(path)
	if !filepath.IsAbs(abs) {
		abs = filepath.Join(root, abs)
	}

	// resolve the parent, the file itself may not exist yet
	dir := filepath.Dir(abs)
	if real, err := filepath.EvalSymlinks(dir); err == nil {
		dir = real
	}
	resolved := filepath.Join(dir, filepath.Base(abs))
	if real, err := filepath.EvalSymlinks(resolved); err == nil {
		resolved = real
	}

	if resolved != root && !strings.HasPrefix(resolved, root+string(filepath.Separator)) {
		return "", apperrors.Denied(fmt.Sprintf("path %s is outside the workspace", path))
	}
	return resolved, nil
}

// check resolves path and applies the policy for skill.
func (w Workspace) check(skill, path string, write bool) (string, error) {
	abs, err := w.Resolve(path)
	if err != nil {
		return "", err
	}
	if w.Policy != nil {
		if ok, reason := w.Policy.CheckPath(skill, abs, write); !ok {
			return "", apperrors.Denied("policy denied: " + reason)
		}
	}
	return abs, nil
}

// relative renders abs relative to the workspace root.
func (w Workspace) relative(abs string) string {
	root, _ := filepath.Abs(w.Root)
	if real, err := filepath.EvalSymlinks(root); err == nil {
		root = real
	}
	if rel, err := filepath.Rel(root, abs); err == nil {
		return rel
	}
	return abs
}

// --- read_file ---

// ReadFile reads a workspace file.
type ReadFile struct{ WS Workspace }

func (s *ReadFile) Name() string { return "read_file" }

func (s *ReadFile) Description() string {
	return "Read a text file from the workspace."
}

func (s *ReadFile) Parameters() map[string]interface{} {
	return schema([]string{"path"}, map[string]interface{}{
		"path":      prop("string", "File path, relative to the workspace"),
		"max_bytes": prop("integer", "Maximum bytes to return (default 262144)"),
	})
}

func (s *ReadFile) Execute(ctx context.Context, args Args) (core.Outcome, error) {
	path, err := args.String("path")
	if err != nil {
		return core.Outcome{}, err
	}
	abs, err := s.WS.check(s.Name(), path, false)
	if err != nil {
		return core.Outcome{}, err
	}

	f, err := os.Open(abs)
	if err != nil {
		return core.Outcome{}, fmt.Errorf("failed to read file: %w", err)
	}
	defer f.Close()

	limit := args.IntOr("max_bytes", defaultReadLimit)
	if limit <= 0 || limit > defaultReadLimit {
		limit = defaultReadLimit
	}
	data, err := io.ReadAll(io.LimitReader(f, int64(limit)+1))
	if err != nil {
		return core.Outcome{}, fmt.Errorf("failed to read file: %w", err)
	}
	if len(data) > limit {
		return core.Succeeded(string(data[:limit]) + "\n[truncated]"), nil
	}
	return core.Succeeded(string(data)), nil
}

// --- write_file ---

// WriteFile writes a workspace file, creating parent directories.
type WriteFile struct{ WS Workspace }

func (s *WriteFile) Name() string { return "write_file" }

func (s *WriteFile) Description() string {
	return "Write content to a file in the workspace. Creates parent directories if needed."
}

func (s *WriteFile) Parameters() map[string]interface{} {
	return schema([]string{"path", "content"}, map[string]interface{}{
		"path":    prop("string", "File path, relative to the workspace"),
		"content": prop("string", "Content to write"),
		"append":  prop("boolean", "Append instead of overwriting"),
	})
}

func (s *WriteFile) Execute(ctx context.Context, args Args) (core.Outcome, error) {
	path, err := args.String("path")
	if err != nil {
		return core.Outcome{}, err
	}
	content, err := args.String("content")
	if err != nil {
		return core.Outcome{}, err
	}
	abs, err := s.WS.check(s.Name(), path, true)
	if err != nil {
		return core.Outcome{}, err
	}

	if err := os.MkdirAll(filepath.Dir(abs), 0755); err != nil {
		return core.Outcome{}, fmt.Errorf("failed to create directory: %w", err)
	}
	flags := os.O_CREATE | os.O_WRONLY | os.O_TRUNC
	if args.BoolOr("append", false) {
		flags = os.O_CREATE | os.O_WRONLY | os.O_APPEND
	}
	f, err := os.OpenFile(abs, flags, 0644)
	if err != nil {
		return core.Outcome{}, fmt.Errorf("failed to write file: %w", err)
	}
	if _, err := f.WriteString(content); err != nil {
		f.Close()
		return core.Outcome{}, fmt.Errorf("failed to write file: %w", err)
	}
	if err := f.Close(); err != nil {
		return core.Outcome{}, fmt.Errorf("failed to write file: %w", err)
	}
	return core.Succeeded(fmt.Sprintf("wrote %d bytes to %s", len(content), s.WS.relative(abs))), nil
}

// --- list_dir ---

// ListDir lists a workspace directory.
type ListDir struct{ WS Workspace }

func (s *ListDir) Name() string { return "list_dir" }

func (s *ListDir) Description() string {
	return "List the entries of a workspace directory. Directories end with '/'."
}

func (s *ListDir) Parameters() map[string]interface{} {
	return schema(nil, map[string]interface{}{
		"path": prop("string", "Directory path, relative to the workspace (default '.')"),
	})
}

func (s *ListDir) Execute(ctx context.Context, args Args) (core.Outcome, error) {
	abs, err := s.WS.check(s.Name(), args.StringOr("path", "."), false)
	if err != nil {
		return core.Outcome{}, err
	}
	entries, err := os.ReadDir(abs)
	if err != nil {
		return core.Outcome{}, fmt.Errorf("failed to list directory: %w", err)
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() {
			name += "/"
		}
		names = append(names, name)
	}
	sort.Strings(names)
	if len(names) == 0 {
		return core.Succeeded("(empty)"), nil
	}
	return core.Succeeded(strings.Join(names, "\n")), nil
}
