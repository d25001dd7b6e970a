package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config is the root configuration for tta, stored in ~/.tta/config.json.
// The file supports single-line // comments for documentation purposes.
type Config struct {
	Server  ServerConfig  `json:"server"`
	Auth    AuthConfig    `json:"auth"`
	Storage StorageConfig `json:"storage"`
	Punch   PunchConfig   `json:"punch"`
	Log     LogConfig     `json:"log"`
}

// ServerConfig locates the HR backend.
type ServerConfig struct {
	// URL is the base URL of the Frappe site, e.g. "https://hr.example.com".
	URL string `json:"url"`
	// Timezone is the IANA timezone the backend stores datetimes in. Empty = UTC.
	Timezone string `json:"timezone"`
}

// AuthConfig selects and parameterises the authentication mode.
type AuthConfig struct {
	// Mode is "token" (API key/secret) or "oauth2".
	Mode      string `json:"mode"`
	APIKey    string `json:"api_key"`
	APISecret string `json:"api_secret"`

	ClientID     string `json:"client_id"`
	AuthorizeURL string `json:"authorize_url"`
	TokenURL     string `json:"token_url"`
	RedirectURL  string `json:"redirect_url"`
}

// StorageConfig selects the ledger backend.
type StorageConfig struct {
	// Backend is "json" or "sqlite".
	Backend string `json:"backend"`
}

// PunchConfig controls location capture.
type PunchConfig struct {
	// RequireLocation overrides the HR setting when set.
	RequireLocation *bool    `json:"require_location"`
	Latitude        *float64 `json:"latitude"`
	Longitude       *float64 `json:"longitude"`
}

// LogConfig controls diagnostic output on stderr.
type LogConfig struct {
	Level string `json:"level"`
}

const (
	AuthToken  = "token"
	AuthOAuth2 = "oauth2"

	// DefaultBackend is the ledger backend used when none is configured.
	DefaultBackend = "json"
	// DefaultLogLevel keeps command output free of diagnostics.
	DefaultLogLevel = "warn"
)

// Location returns the configured server timezone, UTC when unset.
func (c Config) Location() (*time.Location, error) {
	if c.Server.Timezone == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(c.Server.Timezone)
	if err != nil {
		return nil, fmt.Errorf("invalid server timezone %q: %w", c.Server.Timezone, err)
	}
	return loc, nil
}

// defaultConfig returns a Config pre-filled with sensible defaults.
func defaultConfig() Config {
	return Config{
		Auth:    AuthConfig{Mode: AuthToken},
		Storage: StorageConfig{Backend: DefaultBackend},
		Log:     LogConfig{Level: DefaultLogLevel},
	}
}

// configTemplate is the annotated config written on first run.
// Lines whose trimmed content starts with // are stripped before JSON parsing,
// allowing human-readable documentation inside the file.
const configTemplate = `// tta configuration – ~/.tta/config.json
//
// Values can also be supplied through the environment or a .env file:
// TTA_SERVER_URL, TTA_API_KEY, TTA_API_SECRET, TTA_STORAGE_BACKEND, TTA_LOG_LEVEL.
{
  // ── HR backend ───────────────────────────────────────────────────────────
  "server": {
    // Base URL of the Frappe HR site, e.g. "https://hr.example.com".
    "url": "",

    // IANA timezone the site stores times in, e.g. "Europe/Berlin".
    // Leave empty to use UTC.
    "timezone": ""
  },

  // ── Authentication ───────────────────────────────────────────────────────
  "auth": {
    // "token"  – API key and secret from your user settings (default)
    // "oauth2" – sign in with: tta login
    "mode": "token",
    "api_key": "",
    "api_secret": "",

    // OAuth2 client registered on the site (mode "oauth2" only).
    "client_id": "",
    "authorize_url": "",
    "token_url": "",
    "redirect_url": ""
  },

  // ── Local queue ──────────────────────────────────────────────────────────
  "storage": {
    // "json" (~/.tta/ledger.json) or "sqlite" (~/.tta/ledger.db)
    "backend": "json"
  },

  // ── Punch ────────────────────────────────────────────────────────────────
  "punch": {
    // null follows the HR Settings geolocation flag; true/false overrides it.
    "require_location": null,

    // Fixed position recorded with every punch. Leave null to record none.
    "latitude": null,
    "longitude": null
  },

  // ── Diagnostics ──────────────────────────────────────────────────────────
  "log": {
    // debug, info, warn or error
    "level": "warn"
  }
}
`

// BaseDir returns the tta data directory: $TTA_HOME, or ~/.tta.
func BaseDir() (string, error) {
	if dir := os.Getenv("TTA_HOME"); dir != "" {
		return dir, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory: %w", err)
	}
	return filepath.Join(home, ".tta"), nil
}

// configFilePath returns the path to config.json inside BaseDir.
func configFilePath() (string, error) {
	base, err := BaseDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(base, "config.json"), nil
}

// stripLineComments removes lines whose leading non-whitespace content starts
// with //. Only full-line comments are handled; inline comments are not stripped.
func stripLineComments(data []byte) []byte {
	var out []byte
	for _, line := range bytes.Split(data, []byte("\n")) {
		if bytes.HasPrefix(bytes.TrimLeft(line, " \t"), []byte("//")) {
			continue
		}
		out = append(out, line...)
		out = append(out, '\n')
	}
	return out
}

// Load reads the config file, creating it with annotated defaults on first
// run, then applies .env and environment overrides.
func Load() (Config, error) {
	// A missing .env is the normal case.
	_ = godotenv.Load()

	path, err := configFilePath()
	if err != nil {
		return defaultConfig(), err
	}

	cfg, err := loadFile(path)
	if err != nil {
		return cfg, err
	}
	applyEnv(&cfg)
	return cfg, nil
}

func loadFile(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		// First run: write the annotated template so users can discover options.
		if writeErr := writeDefault(path); writeErr != nil {
			fmt.Fprintf(os.Stderr, "Warning: could not create config file %s: %v\n", path, writeErr)
		}
		return defaultConfig(), nil
	}
	if err != nil {
		return defaultConfig(), fmt.Errorf("reading config file %s: %w", path, err)
	}

	cleaned := stripLineComments(data)
	var cfg Config
	if err := json.Unmarshal(cleaned, &cfg); err != nil {
		return defaultConfig(), fmt.Errorf("parsing config file %s: %w\nTip: delete the file to regenerate defaults", path, err)
	}

	// Fill zero-value fields with built-in defaults so callers always get
	// a usable Config even if the user only partially fills in the file.
	if cfg.Auth.Mode == "" {
		cfg.Auth.Mode = AuthToken
	}
	if cfg.Storage.Backend == "" {
		cfg.Storage.Backend = DefaultBackend
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = DefaultLogLevel
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	overrides := []struct {
		key string
		dst *string
	}{
		{"TTA_SERVER_URL", &cfg.Server.URL},
		{"TTA_API_KEY", &cfg.Auth.APIKey},
		{"TTA_API_SECRET", &cfg.Auth.APISecret},
		{"TTA_STORAGE_BACKEND", &cfg.Storage.Backend},
		{"TTA_LOG_LEVEL", &cfg.Log.Level},
	}
	for _, o := range overrides {
		if v := strings.TrimSpace(os.Getenv(o.key)); v != "" {
			*o.dst = v
		}
	}
	cfg.Server.URL = strings.TrimRight(cfg.Server.URL, "/")
}

// writeDefault creates the config directory and writes the annotated default
// config template.
func writeDefault(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	if err := os.WriteFile(path, []byte(configTemplate), 0o600); err != nil {
		return fmt.Errorf("writing default config: %w", err)
	}
	return nil
}
