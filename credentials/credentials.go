// Package credentials loads secrets from a credentials.toml kept outside
// the main config file.
//
// Each table names a provider and holds its api_key. A generic [llm]
// table serves every provider without its own table, and [nats] holds
// bus authentication:
//
//	[anthropic]
//	api_key = "sk-ant-..."
//
//	[nats]
//	token = "s3cret"
package credentials

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/BurntSushi/toml"
)

// FileName is the credentials file looked up in each standard directory.
const FileName = "credentials.toml"

// ErrInsecurePermissions is returned when group or others can access the file.
var ErrInsecurePermissions = fmt.Errorf("credentials file has insecure permissions")

// Credentials holds the secrets of one file.
type Credentials struct {
	// Path is the file the secrets came from.
	Path string

	llm       string
	providers map[string]string
	nats      NATS
}

// NATS authenticates the bus connection.
type NATS struct {
	Token    string `toml:"token"`
	User     string `toml:"user"`
	Password string `toml:"password"`
}

// Empty reports whether no NATS secret is set.
func (n NATS) Empty() bool { return n.Token == "" && n.User == "" }

// StandardPaths returns the lookup order: working directory first, then
// the user config directory.
func StandardPaths() []string {
	paths := []string{FileName}
	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "courier", FileName))
	}
	return paths
}

// Load reads the first credentials file found. A missing file is not an
// error: nil credentials fall back to the environment.
func Load() (*Credentials, error) {
	for _, path := range StandardPaths() {
		if _, err := os.Stat(path); err == nil {
			return LoadFile(path)
		}
	}
	return nil, nil
}

// LoadFile reads path. On Unix the file must not be accessible to group
// or others.
func LoadFile(path string) (*Credentials, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if runtime.GOOS != "windows" {
		if mode := info.Mode().Perm(); mode&0o077 != 0 {
			return nil, fmt.Errorf("%w: %s has mode %04o (use 0600 or 0400)", ErrInsecurePermissions, path, mode)
		}
	}

	var raw map[string]interface{}
	if _, err := toml.DecodeFile(path, &raw); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}

	creds := &Credentials{Path: path, providers: make(map[string]string)}
	for name, value := range raw {
		table, ok := value.(map[string]interface{})
		if !ok {
			continue
		}
		if name == "nats" {
			creds.nats.Token, _ = table["token"].(string)
			creds.nats.User, _ = table["user"].(string)
			creds.nats.Password, _ = table["password"].(string)
			continue
		}
		key, _ := table["api_key"].(string)
		if key == "" {
			continue
		}
		if name == "llm" {
			creds.llm = key
		} else {
			creds.providers[normalize(name)] = key
		}
	}
	return creds, nil
}

// APIKey returns the key for provider: its own table, then [llm].
// Nil credentials return "".
func (c *Credentials) APIKey(provider string) string {
	if c == nil {
		return ""
	}
	if key, ok := c.providers[normalize(provider)]; ok {
		return key
	}
	return c.llm
}

// NATS returns the bus secrets.
func (c *Credentials) NATS() NATS {
	if c == nil {
		return NATS{}
	}
	return c.nats
}

// normalize folds "OpenAI-Compat" and "openai_compat" onto one key.
func normalize(provider string) string {
	r := strings.NewReplacer("-", "", "_", "")
	return r.Replace(strings.ToLower(provider))
}
