package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

const (
	DefaultAPIBaseURL   = "https://api.github.com"
	DefaultAPIVersion   = "2022-11-28"
	DefaultAPITimeoutMS = 5000
	DefaultUserAgent    = "swa-github-repo-auth"
)

type Config struct {
	Server   ServerConfig   `koanf:"server"`
	Database DatabaseConfig `koanf:"database"`
	Log      LogConfig      `koanf:"log"`
	GitHub   GitHubConfig   `koanf:"github"`
	Access   AccessConfig   `koanf:"access"`
	Audit    AuditConfig    `koanf:"audit"`
}

type ServerConfig struct {
	Host string `koanf:"host"`
	Port int    `koanf:"port"`
}

type DatabaseConfig struct {
	URL      string `koanf:"url"`
	MaxConns int    `koanf:"max_conns"`
}

type LogConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

type GitHubConfig struct {
	RepoOwner string    `koanf:"repoowner"`
	RepoName  string    `koanf:"reponame"`
	API       APIConfig `koanf:"api"`
	App       AppConfig `koanf:"app"`
}

type APIConfig struct {
	BaseURL   string `koanf:"baseurl"`
	Version   string `koanf:"version"`
	TimeoutMS int    `koanf:"timeoutms"`
	UserAgent string `koanf:"useragent"`
}

// Timeout is the per-request deadline. Non-positive values fall back to the
// default.
func (c APIConfig) Timeout() time.Duration {
	if c.TimeoutMS <= 0 {
		return DefaultAPITimeoutMS * time.Millisecond
	}
	return time.Duration(c.TimeoutMS) * time.Millisecond
}

type AppConfig struct {
	ID             string `koanf:"id"`
	InstallationID string `koanf:"installationid"`
	PrivateKey     string `koanf:"privatekey"`
	PrivateKeyPath string `koanf:"privatekeypath"`
}

type AccessConfig struct {
	Mode string `koanf:"mode"`
	Role string `koanf:"role"`
}

type AuditConfig struct {
	BufferSize      int `koanf:"buffersize"`
	BatchSize       int `koanf:"batchsize"`
	FlushIntervalMS int `koanf:"flushintervalms"`

	// MinPermission is the repository permission needed to list decisions.
	// Token mode resolves every visible caller to read.
	MinPermission string `koanf:"minpermission"`
}

// legacyEnv maps the deployment variable names used by existing Static Web
// Apps configurations onto config keys.
var legacyEnv = map[string]string{
	"GITHUB_REPO_OWNER":          "github.repoowner",
	"GITHUB_REPO_NAME":           "github.reponame",
	"GITHUB_API_BASE_URL":        "github.api.baseurl",
	"GITHUB_API_VERSION":         "github.api.version",
	"GITHUB_API_TIMEOUT_MS":      "github.api.timeoutms",
	"GITHUB_API_USER_AGENT":      "github.api.useragent",
	"GITHUB_APP_ID":              "github.app.id",
	"GITHUB_APP_INSTALLATION_ID": "github.app.installationid",
	"GITHUB_APP_PRIVATE_KEY":     "github.app.privatekey",
}

func Load(configPaths ...string) (*Config, error) {
	k := koanf.New(".")

	// Defaults
	_ = k.Load(confmap.Provider(map[string]any{
		"server.port":           8080,
		"server.host":           "0.0.0.0",
		"database.max_conns":    10,
		"log.level":             "info",
		"log.format":            "json",
		"github.api.baseurl":    DefaultAPIBaseURL,
		"github.api.version":    DefaultAPIVersion,
		"github.api.timeoutms":  DefaultAPITimeoutMS,
		"github.api.useragent":  DefaultUserAgent,
		"access.mode":           "app",
		"access.role":           "authorized",
		"audit.buffersize":      4096,
		"audit.batchsize":       100,
		"audit.flushintervalms": 500,
		"audit.minpermission":   "maintain",
	}, "."), nil)

	// YAML file (optional)
	for _, path := range configPaths {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			// Config file is optional, skip if not found
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			return nil, fmt.Errorf("loading config file %s: %w", path, err)
		}
	}

	// GITHUB_REPO_OWNER -> github.repoowner, and the rest of legacyEnv
	_ = k.Load(env.ProviderWithValue("GITHUB_", ".", func(key, value string) (string, any) {
		path, ok := legacyEnv[key]
		if !ok || strings.TrimSpace(value) == "" {
			return "", nil
		}
		if key == "GITHUB_API_TIMEOUT_MS" {
			ms, err := strconv.Atoi(strings.TrimSpace(value))
			if err != nil {
				ms = 0
			}
			return path, ms
		}
		return path, value
	}), nil)

	// REPOAUTH_SERVER_PORT -> server.port
	_ = k.Load(env.Provider("REPOAUTH_", ".", func(s string) string {
		return strings.ReplaceAll(
			strings.ToLower(strings.TrimPrefix(s, "REPOAUTH_")),
			"_", ".",
		)
	}), nil)

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, err
	}
	cfg.normalize()

	if cfg.GitHub.App.PrivateKey == "" && cfg.GitHub.App.PrivateKeyPath != "" {
		data, err := os.ReadFile(cfg.GitHub.App.PrivateKeyPath)
		if err != nil {
			return nil, fmt.Errorf("reading GitHub App private key: %w", err)
		}
		cfg.GitHub.App.PrivateKey = strings.TrimSpace(string(data))
	}

	return &cfg, nil
}

func (c *Config) normalize() {
	g := &c.GitHub
	for _, s := range []*string{
		&g.RepoOwner, &g.RepoName,
		&g.API.BaseURL, &g.API.Version, &g.API.UserAgent,
		&g.App.ID, &g.App.InstallationID, &g.App.PrivateKey, &g.App.PrivateKeyPath,
		&c.Access.Mode, &c.Access.Role, &c.Audit.MinPermission,
	} {
		*s = strings.TrimSpace(*s)
	}
	if g.API.BaseURL == "" {
		g.API.BaseURL = DefaultAPIBaseURL
	}
	if g.API.Version == "" {
		g.API.Version = DefaultAPIVersion
	}
	if g.API.UserAgent == "" {
		g.API.UserAgent = DefaultUserAgent
	}
	if g.API.TimeoutMS <= 0 {
		g.API.TimeoutMS = DefaultAPITimeoutMS
	}
}

// Repository is "owner/name".
func (c *Config) Repository() string {
	return c.GitHub.RepoOwner + "/" + c.GitHub.RepoName
}

// Missing lists the absent required settings by their deployment variable
// names. App credentials are required only in app mode.
func (c *Config) Missing() []string {
	var missing []string
	if c.GitHub.RepoOwner == "" {
		missing = append(missing, "GITHUB_REPO_OWNER")
	}
	if c.GitHub.RepoName == "" {
		missing = append(missing, "GITHUB_REPO_NAME")
	}
	if strings.EqualFold(c.Access.Mode, "token") {
		return missing
	}
	if c.GitHub.App.ID == "" {
		missing = append(missing, "GITHUB_APP_ID")
	}
	if c.GitHub.App.InstallationID == "" {
		missing = append(missing, "GITHUB_APP_INSTALLATION_ID")
	}
	if c.GitHub.App.PrivateKey == "" {
		missing = append(missing, "GITHUB_APP_PRIVATE_KEY")
	}
	return missing
}

// Validate fails when any required setting is absent.
func (c *Config) Validate() error {
	if missing := c.Missing(); len(missing) > 0 {
		return fmt.Errorf("Missing required GitHub repository configuration: %s", strings.Join(missing, ", "))
	}
	return nil
}
