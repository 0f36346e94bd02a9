package config

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/joho/godotenv"
	"github.com/mitchellh/mapstructure"
	"gopkg.in/yaml.v3"
)

const (
	// reloadDebounce coalesces the write bursts editors and orchestrators
	// produce when rewriting a config file.
	reloadDebounce = 100 * time.Millisecond

	// missingPollInterval paces the recovery loop after the config file
	// disappears (atomic replace, volume remount).
	missingPollInterval = 500 * time.Millisecond
)

// Loader loads the relay config from a YAML file and can watch it for
// changes. A reload that fails validation is rejected and the last good
// config stays in effect; live streams are never torn down by a bad edit.
type Loader struct {
	path     string
	onChange func(*Config)

	mu      sync.Mutex
	watcher *fsnotify.Watcher
	lastSum [sha256.Size]byte
	loaded  bool
}

// LoaderOption configures a Loader.
type LoaderOption func(*Loader)

// WithOnChange sets a callback invoked with each successfully reloaded config.
func WithOnChange(fn func(*Config)) LoaderOption {
	return func(l *Loader) {
		l.onChange = fn
	}
}

// NewLoader creates a Loader over the config file at path.
func NewLoader(path string, opts ...LoaderOption) (*Loader, error) {
	if path == "" {
		return nil, fmt.Errorf("config path is required")
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve config path: %w", err)
	}

	l := &Loader{path: abs}
	for _, opt := range opts {
		opt(l)
	}
	return l, nil
}

// Load reads, parses, and validates the configuration.
func (l *Loader) Load(ctx context.Context) (*Config, error) {
	cfg, _, err := l.load(true)
	return cfg, err
}

// load runs the full pipeline: read, parse, expand env vars, decode,
// defaults, validate. It records a digest of the raw bytes on success so
// Watch can skip no-op rewrites; force bypasses that check.
func (l *Loader) load(force bool) (*Config, bool, error) {
	data, err := os.ReadFile(l.path)
	if err != nil {
		return nil, false, fmt.Errorf("failed to read config file %s: %w", l.path, err)
	}

	sum := sha256.Sum256(data)
	l.mu.Lock()
	unchanged := l.loaded && sum == l.lastSum
	l.mu.Unlock()
	if unchanged && !force {
		return nil, false, nil
	}

	rawMap, err := parseBytes(data)
	if err != nil {
		return nil, false, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg := &Config{}
	if err := decodeConfig(expandEnvVars(rawMap), cfg); err != nil {
		return nil, false, fmt.Errorf("failed to decode config: %w", err)
	}

	cfg.SetDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, false, fmt.Errorf("config validation failed: %w", err)
	}

	l.mu.Lock()
	l.lastSum, l.loaded = sum, true
	l.mu.Unlock()
	return cfg, true, nil
}

// Watch blocks until ctx is cancelled, reloading the config whenever the
// file changes on disk. Each successful reload is handed to the onChange
// callback; invalid or byte-identical rewrites are logged and skipped.
// The watch survives atomic replaces that briefly remove the file.
func (l *Loader) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create file watcher: %w", err)
	}
	defer watcher.Close()

	// Watch the directory, not the file: editors replace files by rename
	// and a direct file watch dies with the old inode.
	dir := filepath.Dir(l.path)
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("failed to watch directory %s: %w", dir, err)
	}

	l.mu.Lock()
	l.watcher = watcher
	l.mu.Unlock()

	slog.Info("Watching config file", "path", l.path)

	var (
		debounce <-chan time.Time
		missing  *time.Ticker
		missingC <-chan time.Time
	)
	defer func() {
		if missing != nil {
			missing.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Base(ev.Name) != filepath.Base(l.path) {
				continue
			}
			switch {
			case ev.Op&(fsnotify.Write|fsnotify.Create) != 0:
				debounce = time.After(reloadDebounce)
				if missing != nil {
					missing.Stop()
					missing, missingC = nil, nil
				}
			case ev.Op&(fsnotify.Remove|fsnotify.Rename) != 0:
				slog.Warn("Config file disappeared, waiting for it to return", "path", l.path)
				if missing == nil {
					missing = time.NewTicker(missingPollInterval)
					missingC = missing.C
				}
			}

		case <-debounce:
			debounce = nil
			l.reload()

		case <-missingC:
			if _, err := os.Stat(l.path); err != nil {
				continue
			}
			missing.Stop()
			missing, missingC = nil, nil
			// The directory watch may have lapsed with the file; re-adding
			// an already-watched directory is harmless.
			if err := watcher.Add(dir); err != nil {
				slog.Error("Failed to re-establish config watch", "path", l.path, "error", err)
				return fmt.Errorf("failed to re-watch %s: %w", dir, err)
			}
			slog.Info("Config file is back", "path", l.path)
			l.reload()

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			slog.Error("Config watcher error", "error", err)
		}
	}
}

// reload applies a changed config or explains why it did not.
func (l *Loader) reload() {
	cfg, changed, err := l.load(false)
	if err != nil {
		slog.Error("Config reload rejected, keeping last good config", "error", err)
		return
	}
	if !changed {
		slog.Debug("Config file rewritten without changes", "path", l.path)
		return
	}

	slog.Info("Configuration reloaded", "path", l.path)
	if l.onChange != nil {
		l.onChange(cfg)
	}
}

// Close stops a running watch.
func (l *Loader) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.watcher != nil {
		err := l.watcher.Close()
		l.watcher = nil
		return err
	}
	return nil
}

// parseBytes parses raw bytes into a map.
// Supports YAML (primary) and JSON (fallback).
func parseBytes(data []byte) (map[string]any, error) {
	var result map[string]any

	// YAML is a superset of JSON
	if err := yaml.Unmarshal(data, &result); err == nil {
		return result, nil
	}

	if err := json.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("failed to parse as YAML or JSON: %w", err)
	}

	return result, nil
}

// decodeConfig decodes a map into a Config struct using mapstructure.
func decodeConfig(input map[string]any, output *Config) error {
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           output,
		TagName:          "yaml",
		WeaklyTypedInput: true,
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		),
	})
	if err != nil {
		return fmt.Errorf("failed to create decoder: %w", err)
	}

	if err := decoder.Decode(input); err != nil {
		return fmt.Errorf("failed to decode: %w", err)
	}

	return nil
}

// expandEnvVars recursively expands ${VAR} and $VAR patterns in a map.
func expandEnvVars(input map[string]any) map[string]any {
	result := make(map[string]any, len(input))
	for k, v := range input {
		result[k] = expandValue(v)
	}
	return result
}

func expandValue(v any) any {
	switch val := v.(type) {
	case string:
		return expandEnvString(val)
	case map[string]any:
		return expandEnvVars(val)
	case []any:
		result := make([]any, len(val))
		for i, item := range val {
			result[i] = expandValue(item)
		}
		return result
	default:
		return v
	}
}

// envVarPattern matches ${VAR}, ${VAR:-default}, and $VAR
var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}|\$([A-Za-z_][A-Za-z0-9_]*)`)

func expandEnvString(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		if strings.HasPrefix(match, "${") {
			inner := match[2 : len(match)-1]

			// ${VAR:-default}
			if idx := strings.Index(inner, ":-"); idx != -1 {
				varName := inner[:idx]
				defaultVal := inner[idx+2:]
				if val := os.Getenv(varName); val != "" {
					return val
				}
				return defaultVal
			}

			return os.Getenv(inner)
		}

		return os.Getenv(match[1:])
	})
}

// LoadEnvFiles loads .env.local and .env into the process environment.
// Missing files are not an error.
func LoadEnvFiles() error {
	envFiles := []string{".env.local", ".env"}

	for _, file := range envFiles {
		if err := godotenv.Load(file); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("failed to load %s: %w", file, err)
		}
	}

	return nil
}

// LoadFile is a convenience function for loading config from a file.
func LoadFile(ctx context.Context, path string) (*Config, *Loader, error) {
	loader, err := NewLoader(path)
	if err != nil {
		return nil, nil, err
	}

	cfg, err := loader.Load(ctx)
	if err != nil {
		return nil, nil, err
	}

	return cfg, loader, nil
}
