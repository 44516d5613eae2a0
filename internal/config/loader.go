package config

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
)

const (
	maxConfigFileSize = 1024 * 1024 // 1MB

	appDir = "ctxgraph"
)

// sections are the top-level keys environment variables may set.
var sections = map[string]bool{
	"server":        true,
	"observability": true,
	"logging":       true,
	"retriever":     true,
	"cache":         true,
	"embeddings":    true,
	"persistence":   true,
}

// configDir is the per-user directory holding the config file and the
// default snapshot database.
func configDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolving home directory: %w", err)
	}
	return filepath.Join(home, ".config", appDir), nil
}

// DefaultPath returns ~/.config/ctxgraph/config.yaml.
func DefaultPath() (string, error) {
	dir, err := configDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.yaml"), nil
}

// EnsureConfigDir creates ~/.config/ctxgraph with 0700 permissions.
func EnsureConfigDir() error {
	dir, err := configDir()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("creating %s: %w", dir, err)
	}
	return nil
}

// LoadWithFile builds a Config from defaults, the YAML file at configPath
// and the environment, later sources winning. An empty configPath means
// DefaultPath. A missing file is skipped; an existing one must sit under
// ~/.config/ctxgraph/ or /etc/ctxgraph/, be mode 0600 or 0400 and be at
// most 1MB.
//
// Environment variables are lower-cased and split at the first underscore
// into section and field:
//
//	RETRIEVER_GRAPH_WEIGHT=0.7     -> retriever.graph_weight
//	EMBEDDINGS_FALLBACK=tei,hash   -> embeddings.fallback
//
// Variables naming an unknown section are ignored.
func LoadWithFile(configPath string) (*Config, error) {
	if configPath == "" {
		p, err := DefaultPath()
		if err != nil {
			return nil, err
		}
		configPath = p
	}
	if err := validateConfigPath(configPath); err != nil {
		return nil, fmt.Errorf("config path validation failed: %w", err)
	}

	k := koanf.New(".")
	content, err := readConfigFile(configPath)
	if err != nil {
		return nil, err
	}
	if content != nil {
		if err := k.Load(rawbytes.Provider(content), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("parsing %s: %w", configPath, err)
		}
	}
	if err := k.Load(env.Provider("", ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("reading environment: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}
	applyDefaults(&cfg)
	cfg.Persistence.Path = expandHome(cfg.Persistence.Path)
	cfg.Embeddings.CacheDir = expandHome(cfg.Embeddings.CacheDir)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &cfg, nil
}

// readConfigFile returns the file's bytes, or nil when it does not exist.
// Mode and size are checked on the open descriptor so a swapped file cannot
// slip past the checks.
func readConfigFile(path string) ([]byte, error) {
	f, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("opening config file: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("inspecting config file: %w", err)
	}
	if err := validateConfigFileProperties(info); err != nil {
		return nil, fmt.Errorf("config file validation failed: %w", err)
	}
	content, err := io.ReadAll(io.LimitReader(f, maxConfigFileSize+1))
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	return content, nil
}

// envKey maps SECTION_FIELD_NAME to section.field_name, or to "" for an
// unknown section.
func envKey(s string) string {
	section, field, ok := strings.Cut(strings.ToLower(s), "_")
	if !ok || !sections[section] {
		return ""
	}
	return section + "." + field
}

func expandHome(path string) string {
	rest, ok := strings.CutPrefix(path, "~/")
	if !ok {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, rest)
}

// validateConfigPath rejects paths outside the allowed directories after
// resolving symlinks. The file itself need not exist.
func validateConfigPath(path string) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("resolving path: %w", err)
	}
	if resolved, err := filepath.EvalSymlinks(abs); err == nil {
		abs = resolved
	}

	userDir, err := configDir()
	if err != nil {
		return err
	}
	for _, dir := range []string{userDir, filepath.Join("/etc", appDir)} {
		if rel, err := filepath.Rel(dir, abs); err == nil && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
			return nil
		}
	}
	return fmt.Errorf("config file must be in ~/.config/%s/ or /etc/%s/", appDir, appDir)
}

func validateConfigFileProperties(info os.FileInfo) error {
	if perm := info.Mode().Perm(); runtime.GOOS != "windows" && perm != 0o600 && perm != 0o400 {
		return fmt.Errorf("insecure config file permissions: %v (expected 0600 or 0400)", perm)
	}
	if info.Size() > maxConfigFileSize {
		return fmt.Errorf("config file too large: %d bytes (max %d)", info.Size(), maxConfigFileSize)
	}
	return nil
}
