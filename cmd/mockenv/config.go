package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"maps"
	"os"
	"path/filepath"
	"strings"

	"github.com/tailscale/hujson"
	"gopkg.in/yaml.v3"

	"github.com/calvinalkan/mockenv/mockenv"
)

// ErrDuplicateConfigFiles is returned when more than one config file exists at
// the same location (e.g. both .json and .yaml).
var ErrDuplicateConfigFiles = errors.New("duplicate config files")

// ErrInvalidMock is returned when a mock entry is not null, a string, or an
// object with exactly stdout, stderr and exitCode.
var ErrInvalidMock = errors.New("invalid mock")

// configExtensions are probed in order when looking for a config file.
var configExtensions = []string{".json", ".jsonc", ".yaml", ".yml"}

// Config holds the application configuration.
type Config struct {
	Base      string              `json:"base,omitempty" yaml:"base,omitempty"`
	Port      *int                `json:"port,omitempty" yaml:"port,omitempty"`
	Strict    *bool               `json:"strict,omitempty" yaml:"strict,omitempty"`
	Shell     string              `json:"shell,omitempty" yaml:"shell,omitempty"`
	HostsFile string              `json:"hostsFile,omitempty" yaml:"hostsFile,omitempty"`
	Mocks     map[string]MockSpec `json:"mocks,omitempty" yaml:"mocks,omitempty"`
	Provide   []string            `json:"provide,omitempty" yaml:"provide,omitempty"`
	Hosts     map[string]string   `json:"hosts,omitempty" yaml:"hosts,omitempty"`
	Files     map[string]string   `json:"files,omitempty" yaml:"files,omitempty"`

	// Resolved (not serialized)
	EffectiveCwd      string   `json:"-" yaml:"-"`
	LoadedConfigFiles []string `json:"-" yaml:"-"`
}

// MockSpec is a canned outcome for a mocked command.
//
// In config files it is written as null (no output), a string (stdout) or
// an object with exactly the keys stdout, stderr and exitCode.
type MockSpec struct {
	Outcome mockenv.Outcome
}

type mockTriple struct {
	Stdout   *string `json:"stdout" yaml:"stdout"`
	Stderr   *string `json:"stderr" yaml:"stderr"`
	ExitCode *int    `json:"exitCode" yaml:"exitCode"`
}

func (t mockTriple) outcome() (mockenv.Outcome, error) {
	if t.Stdout == nil || t.Stderr == nil || t.ExitCode == nil {
		return mockenv.Outcome{}, fmt.Errorf("%w: object needs stdout, stderr and exitCode", ErrInvalidMock)
	}

	o := mockenv.Result(*t.Stdout, *t.Stderr, *t.ExitCode)

	_, err := o.Normalize()
	if err != nil {
		return mockenv.Outcome{}, fmt.Errorf("%w: %w", ErrInvalidMock, err)
	}

	return o, nil
}

// UnmarshalJSON implements json.Unmarshaler.
func (m *MockSpec) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)

	switch {
	case bytes.Equal(trimmed, []byte("null")):
		m.Outcome = mockenv.NoOutput()

		return nil
	case len(trimmed) > 0 && trimmed[0] == '"':
		var s string

		err := json.Unmarshal(trimmed, &s)
		if err != nil {
			return fmt.Errorf("%w: %w", ErrInvalidMock, err)
		}

		m.Outcome = mockenv.Stdout(s)

		return nil
	case len(trimmed) > 0 && trimmed[0] == '{':
		var t mockTriple

		dec := json.NewDecoder(bytes.NewReader(trimmed))
		dec.DisallowUnknownFields()

		err := dec.Decode(&t)
		if err != nil {
			return fmt.Errorf("%w: %w", ErrInvalidMock, err)
		}

		m.Outcome, err = t.outcome()

		return err
	default:
		return fmt.Errorf("%w: %s", ErrInvalidMock, trimmed)
	}
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (m *MockSpec) UnmarshalYAML(value *yaml.Node) error {
	switch value.Kind {
	case yaml.ScalarNode:
		if value.ShortTag() == "!!null" {
			m.Outcome = mockenv.NoOutput()

			return nil
		}

		m.Outcome = mockenv.Stdout(value.Value)

		return nil
	case yaml.MappingNode:
		for i := 0; i+1 < len(value.Content); i += 2 {
			switch key := value.Content[i].Value; key {
			case "stdout", "stderr", "exitCode":
			default:
				return fmt.Errorf("%w: unknown key %q (line %d)", ErrInvalidMock, key, value.Content[i].Line)
			}
		}

		var t mockTriple

		err := value.Decode(&t)
		if err != nil {
			return fmt.Errorf("%w: %w", ErrInvalidMock, err)
		}

		m.Outcome, err = t.outcome()

		return err
	default:
		return fmt.Errorf("%w: expected null, string or mapping (line %d)", ErrInvalidMock, value.Line)
	}
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	port := mockenv.DefaultPort

	return Config{
		Port:   &port,
		Strict: boolPtr(false),
	}
}

func boolPtr(b bool) *bool {
	return &b
}

// LoadConfigInput holds the inputs for LoadConfig.
type LoadConfigInput struct {
	WorkDirOverride string            // -C/--cwd flag value; if empty, os.Getwd() is used
	ConfigPath      string            // --config flag value
	Env             map[string]string // Environment variables (for XDG_CONFIG_HOME and HOME)
}

// LoadConfig loads configuration with the following precedence (later overrides earlier):
//  1. Built-in defaults
//  2. Global config: $XDG_CONFIG_HOME/mockenv/config.{json,jsonc,yaml,yml}
//     (defaults to ~/.config/mockenv/) - always loaded if exists
//  3. Project config OR --config path (not both):
//     - Without --config: .mockenv.{json,jsonc,yaml,yml} in workDir
//     - With --config: uses that path instead of project config
//
// JSON files support comments via tailscale/hujson. Only one config file may
// exist per location.
func LoadConfig(input LoadConfigInput) (Config, error) {
	workDir := input.WorkDirOverride
	if workDir == "" {
		var err error

		workDir, err = os.Getwd()
		if err != nil {
			return Config{}, fmt.Errorf("cannot get working directory: %w", err)
		}
	}

	if !filepath.IsAbs(workDir) {
		cwd, err := os.Getwd()
		if err != nil {
			return Config{}, fmt.Errorf("cannot get working directory: %w", err)
		}

		workDir = filepath.Join(cwd, workDir)
	}

	cfg := DefaultConfig()

	globalConfigBasePath, err := getUserConfigBasePath(input.Env)
	if err != nil {
		return Config{}, err
	}

	homeDir := homeDirFromEnv(input.Env)

	globalCfg, globalPath, err := loadOptionalConfig(globalConfigBasePath, homeDir)
	if err != nil {
		return Config{}, err
	}

	if globalPath != "" {
		cfg = mergeConfigs(&cfg, &globalCfg)
		cfg.LoadedConfigFiles = append(cfg.LoadedConfigFiles, globalPath)
	}

	if input.ConfigPath != "" {
		configPath, err := ResolvePath(input.ConfigPath, homeDir, workDir)
		if err != nil {
			return Config{}, err
		}

		explicitCfg, err := loadConfigFile(configPath, homeDir)
		if err != nil {
			return Config{}, err
		}

		cfg = mergeConfigs(&cfg, &explicitCfg)
		cfg.LoadedConfigFiles = append(cfg.LoadedConfigFiles, configPath)
	} else {
		projectCfg, projectPath, err := loadOptionalConfig(filepath.Join(workDir, ".mockenv"), homeDir)
		if err != nil {
			return Config{}, err
		}

		if projectPath != "" {
			cfg = mergeConfigs(&cfg, &projectCfg)
			cfg.LoadedConfigFiles = append(cfg.LoadedConfigFiles, projectPath)
		}
	}

	cfg.EffectiveCwd = workDir

	return cfg, nil
}

// loadOptionalConfig loads the config at basePath + one of configExtensions.
// A missing file yields an empty path and no error.
func loadOptionalConfig(basePath, homeDir string) (Config, string, error) {
	path, err := findConfigFile(basePath)
	if errors.Is(err, os.ErrNotExist) {
		return Config{}, "", nil
	}

	if err != nil {
		return Config{}, "", err
	}

	cfg, err := loadConfigFile(path, homeDir)
	if err != nil {
		return Config{}, "", err
	}

	return cfg, path, nil
}

// findConfigFile finds a config file at the given base path (directory +
// base name without extension). It returns an error if more than one
// extension matches and os.ErrNotExist if none does.
func findConfigFile(basePath string) (string, error) {
	var found []string

	for _, ext := range configExtensions {
		path := basePath + ext

		exists, err := fileExists(path)
		if err != nil {
			return "", err
		}

		if exists {
			found = append(found, path)
		}
	}

	switch len(found) {
	case 0:
		return "", os.ErrNotExist
	case 1:
		return found[0], nil
	default:
		return "", fmt.Errorf("%w: %s all exist; keep only one", ErrDuplicateConfigFiles, strings.Join(found, ", "))
	}
}

// fileExists checks if a file exists and is not a directory.
// Returns (true, nil) if file exists, (false, nil) if not found,
// or (false, error) for other errors (e.g., permission denied).
func fileExists(path string) (bool, error) {
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return false, nil
		}

		return false, fmt.Errorf("checking file %s: %w", path, err)
	}

	if info.IsDir() {
		return false, nil
	}

	return true, nil
}

// loadConfigFile loads and parses a config file. YAML is chosen by the .yaml
// and .yml extensions; anything else is parsed as JSON with comments.
// Unknown keys are rejected. Relative paths inside the file resolve against
// the file's directory.
func loadConfigFile(path, homeDir string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("reading config %s: %w", path, err)
	}

	var cfg Config

	switch filepath.Ext(path) {
	case ".yaml", ".yml":
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)

		err = dec.Decode(&cfg)
		if err != nil && !errors.Is(err, io.EOF) {
			return Config{}, fmt.Errorf("parsing config %s: %w", path, err)
		}
	default:
		standardized, err := hujson.Standardize(data)
		if err != nil {
			return Config{}, fmt.Errorf("parsing config %s: %w", path, err)
		}

		dec := json.NewDecoder(bytes.NewReader(standardized))
		dec.DisallowUnknownFields()

		err = dec.Decode(&cfg)
		if err != nil {
			return Config{}, fmt.Errorf("parsing config %s: %w", path, err)
		}
	}

	err = resolveConfigPaths(&cfg, homeDir, filepath.Dir(path))
	if err != nil {
		return Config{}, fmt.Errorf("config %s: %w", path, err)
	}

	return cfg, nil
}

func resolveConfigPaths(cfg *Config, homeDir, dir string) error {
	var err error

	if cfg.Base != "" {
		cfg.Base, err = ResolvePath(cfg.Base, homeDir, dir)
		if err != nil {
			return fmt.Errorf("base: %w", err)
		}
	}

	if cfg.Shell != "" {
		cfg.Shell, err = ResolvePath(cfg.Shell, homeDir, dir)
		if err != nil {
			return fmt.Errorf("shell: %w", err)
		}
	}

	if cfg.HostsFile != "" {
		cfg.HostsFile, err = ResolvePath(cfg.HostsFile, homeDir, dir)
		if err != nil {
			return fmt.Errorf("hostsFile: %w", err)
		}
	}

	return nil
}

// mergeConfigs merges override into base, with override taking precedence.
// Empty/zero values in override do not override base values. Maps are merged
// key by key.
func mergeConfigs(base, override *Config) Config {
	result := *base

	if override.Base != "" {
		result.Base = override.Base
	}

	if override.Port != nil {
		result.Port = override.Port
	}

	if override.Strict != nil {
		result.Strict = override.Strict
	}

	if override.Shell != "" {
		result.Shell = override.Shell
	}

	if override.HostsFile != "" {
		result.HostsFile = override.HostsFile
	}

	if len(override.Provide) > 0 {
		result.Provide = override.Provide
	}

	result.Mocks = mergeMaps(base.Mocks, override.Mocks)
	result.Hosts = mergeMaps(base.Hosts, override.Hosts)
	result.Files = mergeMaps(base.Files, override.Files)

	return result
}

func mergeMaps[V any](base, override map[string]V) map[string]V {
	if len(base) == 0 && len(override) == 0 {
		return nil
	}

	out := make(map[string]V, len(base)+len(override))
	maps.Copy(out, base)
	maps.Copy(out, override)

	return out
}

// homeDirFromEnv returns $HOME from env, falling back to os.UserHomeDir().
// It returns "" when neither is available.
func homeDirFromEnv(env map[string]string) string {
	if home := env["HOME"]; home != "" {
		return home
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}

	return home
}

// getUserConfigBasePath returns the user config base path (without extension).
// Uses env map for XDG_CONFIG_HOME instead of os.Getenv().
func getUserConfigBasePath(env map[string]string) (string, error) {
	if xdg, ok := env["XDG_CONFIG_HOME"]; ok && xdg != "" {
		return filepath.Join(xdg, "mockenv", "config"), nil
	}

	home := env["HOME"]
	if home == "" {
		var err error

		home, err = os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("getting home directory: %w", err)
		}
	}

	return filepath.Join(home, ".config", "mockenv", "config"), nil
}
