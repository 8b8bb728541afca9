package config

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/hpungsan/dridash/internal/settings"
)

// DirName is the name of both the global (~/.dridash) and repo-level (.dridash) directories.
const DirName = ".dridash"

// Config holds application configuration.
type Config struct {
	// APIBaseURL is the REST API root used for search and label requests.
	APIBaseURL string `json:"api_base_url,omitempty"`

	// WebBaseURL is the site root used for "open search" links.
	WebBaseURL string `json:"web_base_url,omitempty"`

	// StorageScope namespaces persisted state and is part of every cache fingerprint.
	StorageScope string `json:"storage_scope,omitempty"`

	// HTTPTimeoutSeconds bounds each API request.
	HTTPTimeoutSeconds int `json:"http_timeout_seconds,omitempty"`

	// Defaults replaces the built-in default settings layer field by field.
	Defaults settings.Partial `json:"defaults"`

	// AllowedPaths is an allowlist of directories for notes import/export.
	// Paths outside ~/.dridash/exports require either being in this list or AllowUnsafePaths=true.
	// Paths should be absolute (relative paths are ignored).
	AllowedPaths []string `json:"allowed_paths,omitempty"`

	// AllowUnsafePaths disables directory restrictions for notes import/export.
	// Symlink and extension checks still apply.
	AllowUnsafePaths bool `json:"allow_unsafe_paths,omitempty"`

	// DBMaxOpenConns limits the maximum number of open database connections.
	// 0 means use sql.DB default.
	DBMaxOpenConns int `json:"db_max_open_conns,omitempty"`

	// DBMaxIdleConns limits the maximum number of idle database connections.
	DBMaxIdleConns int `json:"db_max_idle_conns,omitempty"`

	// DisabledTools is a list of MCP tool names to exclude from registration.
	// Unknown tool names are logged as warnings.
	DisabledTools []string `json:"disabled_tools,omitempty"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		APIBaseURL:         "https://api.github.com",
		WebBaseURL:         "https://github.com",
		StorageScope:       "default",
		HTTPTimeoutSeconds: 30,
	}
}

// HTTPTimeout returns the request timeout as a duration.
func (c *Config) HTTPTimeout() time.Duration {
	return time.Duration(c.HTTPTimeoutSeconds) * time.Second
}

// DefaultSettings returns the built-in settings defaults with the configured
// Defaults layered on top.
func (c *Config) DefaultSettings() settings.Values {
	return settings.Defaults().Overlay(c.Defaults)
}

// Load loads configuration from baseDir/config.json.
// Returns default config if the file doesn't exist.
func Load(baseDir string) (*Config, error) {
	return loadFile(filepath.Join(baseDir, "config.json"))
}

// LoadWithRepo loads configuration from both the global (~/.dridash) and repo (.dridash) directories.
// Repo config is found by walking upward from startDir.
// Repo config takes precedence for scalar values; arrays are merged (deduplicated).
// Either or both configs may be missing.
func LoadWithRepo(globalDir, startDir string) (*Config, error) {
	global, err := loadFileRaw(filepath.Join(globalDir, "config.json"))
	if err != nil {
		return nil, err
	}

	repo, err := loadFileRaw(FindRepoConfig(startDir))
	if err != nil {
		return nil, err
	}

	return Merge(Merge(DefaultConfig(), global), repo), nil
}

// FindRepoConfig walks upward from startDir to find the nearest .dridash/config.json.
// Returns the path if found, or empty string if not found.
func FindRepoConfig(startDir string) string {
	if startDir == "" {
		return ""
	}
	dir := startDir
	for {
		configPath := filepath.Join(dir, DirName, "config.json")
		if _, err := os.Stat(configPath); err == nil {
			return configPath
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return ""
		}
		dir = parent
	}
}

// loadFileRaw returns a zero-valued config (not defaults) if the file doesn't exist.
func loadFileRaw(configPath string) (*Config, error) {
	if configPath == "" {
		return &Config{}, nil
	}
	data, err := os.ReadFile(configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return &Config{}, nil
		}
		return nil, err
	}

	cfg := &Config{}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func loadFile(configPath string) (*Config, error) {
	cfg, err := loadFileRaw(configPath)
	if err != nil {
		return nil, err
	}
	return Merge(DefaultConfig(), cfg), nil
}

// Merge combines base and overlay configs.
// Overlay values take precedence for scalars; arrays are merged and deduplicated.
func Merge(base, overlay *Config) *Config {
	result := &Config{}

	// Scalars: overlay wins if non-zero, else base
	result.APIBaseURL = pickString(overlay.APIBaseURL, base.APIBaseURL)
	result.WebBaseURL = pickString(overlay.WebBaseURL, base.WebBaseURL)
	result.StorageScope = pickString(overlay.StorageScope, base.StorageScope)
	result.HTTPTimeoutSeconds = pickInt(overlay.HTTPTimeoutSeconds, base.HTTPTimeoutSeconds)
	result.DBMaxOpenConns = pickInt(overlay.DBMaxOpenConns, base.DBMaxOpenConns)
	result.DBMaxIdleConns = pickInt(overlay.DBMaxIdleConns, base.DBMaxIdleConns)

	result.Defaults = mergeDefaults(base.Defaults, overlay.Defaults)

	// Booleans: overlay wins if true, else base
	result.AllowUnsafePaths = base.AllowUnsafePaths || overlay.AllowUnsafePaths

	// Arrays: merge and deduplicate
	result.AllowedPaths = mergeStringSlice(base.AllowedPaths, overlay.AllowedPaths)
	result.DisabledTools = mergeStringSlice(base.DisabledTools, overlay.DisabledTools)

	return result
}

func mergeDefaults(base, overlay settings.Partial) settings.Partial {
	out := settings.Partial{
		Repo:           pickString(overlay.Repo, base.Repo),
		DriToken:       pickString(overlay.DriToken, base.DriToken),
		Handle:         pickString(overlay.Handle, base.Handle),
		CoderBodyFlag:  pickString(overlay.CoderBodyFlag, base.CoderBodyFlag),
		CoderLabelFlag: pickString(overlay.CoderLabelFlag, base.CoderLabelFlag),
		UseBodyText:    base.UseBodyText,
	}
	if overlay.UseBodyText != nil {
		out.UseBodyText = overlay.UseBodyText
	}
	return out
}

func pickString(overlay, base string) string {
	if s := strings.TrimSpace(overlay); s != "" {
		return s
	}
	return base
}

func pickInt(overlay, base int) int {
	if overlay != 0 {
		return overlay
	}
	return base
}

// mergeStringSlice combines two slices, trims whitespace, and removes duplicates.
func mergeStringSlice(a, b []string) []string {
	seen := make(map[string]bool)
	result := make([]string, 0, len(a)+len(b))

	for _, list := range [][]string{a, b} {
		for _, s := range list {
			s = strings.TrimSpace(s)
			if s != "" && !seen[s] {
				seen[s] = true
				result = append(result, s)
			}
		}
	}

	if len(result) == 0 {
		return nil
	}
	return result
}
