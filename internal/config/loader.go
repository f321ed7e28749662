package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
)

const (
	// FileName is the configuration file searched for by Find.
	FileName = ".devscontext.yaml"

	// EnvPrefix prefixes environment overrides. A double underscore marks
	// nesting: DEVSCONTEXT_SOURCES__JIRA__BASE_URL -> sources.jira.base_url.
	EnvPrefix = "DEVSCONTEXT_"

	maxConfigFileSize = 1024 * 1024 // 1MB
)

// Find walks up from dir looking for FileName and returns the first match.
// The empty string is returned when no file exists up to the filesystem root.
func Find(dir string) string {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return ""
	}
	for {
		candidate := filepath.Join(abs, FileName)
		if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
			return candidate
		}
		parent := filepath.Dir(abs)
		if parent == abs {
			return ""
		}
		abs = parent
	}
}

// Load reads configuration from configPath (searched for from the working
// directory when empty), applies environment overrides and defaults, and
// validates the result.
//
// Configuration precedence (highest to lowest):
//  1. DEVSCONTEXT_ environment variables
//  2. YAML config file
//  3. Defaults
func Load(configPath string) (*Config, error) {
	k := koanf.New(".")

	if configPath == "" {
		if wd, err := os.Getwd(); err == nil {
			configPath = Find(wd)
		}
	}

	if configPath != "" {
		content, err := readConfigFile(configPath)
		if err != nil {
			return nil, err
		}
		content = []byte(expandEnv(string(content)))
		if err := k.Load(rawbytes.Provider(content), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", configPath, err)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	explicit := make(map[string]bool)
	for _, key := range k.Keys() {
		explicit[key] = true
	}
	applyDefaults(&cfg, explicit)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// readConfigFile opens the file once and checks its size on the open
// descriptor before reading.
func readConfigFile(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	if info.Size() > maxConfigFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", info.Size(), maxConfigFileSize)
	}

	content, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return content, nil
}

// envKey maps DEVSCONTEXT_SOURCES__JIRA__BASE_URL to sources.jira.base_url.
func envKey(s string) string {
	trimmed := strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	return strings.ReplaceAll(trimmed, "__", ".")
}

// expandEnv substitutes ${VAR} and $VAR references. Unset variables expand
// to the empty string, matching shell behaviour.
func expandEnv(s string) string {
	return os.Expand(s, func(name string) string {
		return os.Getenv(name)
	})
}
