package config

import (
	"bytes"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config models teamtacles.yml.
type Config struct {
	Server struct {
		Addr     string `yaml:"addr"`
		BasePath string `yaml:"base_path"`
	} `yaml:"server"`
	Database struct {
		Path string `yaml:"path"`
	} `yaml:"database"`
	Auth struct {
		JWTSecret       string `yaml:"jwt_secret"`
		Issuer          string `yaml:"issuer"`
		TokenTTLSeconds int    `yaml:"token_ttl_seconds"`
	} `yaml:"auth"`
	Policy struct {
		OwnerIsResponsible bool `yaml:"owner_is_responsible"`
	} `yaml:"policy"`
	Log struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"log"`
	Bootstrap struct {
		Admin BootstrapAdmin `yaml:"admin"`
	} `yaml:"bootstrap"`
}

// BootstrapAdmin is an optional administrator created at startup when missing.
type BootstrapAdmin struct {
	Username string `yaml:"username"`
	Email    string `yaml:"email"`
	Password string `yaml:"password"`
}

func (b BootstrapAdmin) Enabled() bool {
	return b.Username != ""
}

const DefaultPath = "teamtacles.yml"

// Load reads and validates config from path.
func Load(path string) (*Config, error) {
	if path == "" {
		path = DefaultPath
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; generate one with tt config init", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// LoadOptional returns the defaults if the config file does not exist.
func LoadOptional(path string) (*Config, error) {
	if path == "" {
		path = DefaultPath
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// Validate ensures the config meets required structure. The JWT secret is
// checked separately by the commands that sign or verify tokens.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Server.Addr) == "" {
		return fmt.Errorf("config.server.addr is required")
	}
	if c.Server.BasePath != "" && !strings.HasPrefix(c.Server.BasePath, "/") {
		return fmt.Errorf("config.server.base_path must start with '/'")
	}
	if strings.TrimSpace(c.Database.Path) == "" {
		return fmt.Errorf("config.database.path is required")
	}
	if c.Auth.TokenTTLSeconds <= 0 {
		return fmt.Errorf("config.auth.token_ttl_seconds must be positive")
	}
	switch c.Log.Level {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("config.log.level %q is not one of debug, info, warn, error", c.Log.Level)
	}
	switch c.Log.Format {
	case "", "text", "json":
	default:
		return fmt.Errorf("config.log.format %q is not one of text, json", c.Log.Format)
	}
	admin := c.Bootstrap.Admin
	if admin.Enabled() && (admin.Email == "" || admin.Password == "") {
		return fmt.Errorf("config.bootstrap.admin requires username, email and password")
	}
	return nil
}

// RequireSecret reports a missing JWT secret.
func (c *Config) RequireSecret() error {
	if strings.TrimSpace(c.Auth.JWTSecret) == "" {
		return fmt.Errorf("auth.jwt_secret is required (set TEAMTACLES_JWT_SECRET)")
	}
	return nil
}

// GenerateDefault returns default config YAML.
func GenerateDefault() string {
	return defaultTemplate
}

// Default returns the default Config struct.
func Default() *Config {
	var cfg Config
	_ = yaml.NewDecoder(bytes.NewBufferString(defaultTemplate)).Decode(&cfg)
	return &cfg
}

// FromYAML parses and validates config from raw YAML bytes. Keys missing from
// the document keep their default values.
func FromYAML(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

const defaultTemplate = `server:
  addr: 127.0.0.1:8080
  base_path: /api

database:
  path: .teamtacles/teamtacles.db

auth:
  # Prefer TEAMTACLES_JWT_SECRET over committing a secret here.
  jwt_secret: ""
  issuer: teamtacles
  token_ttl_seconds: 3600

policy:
  # Task owners are added to the responsible set when a task is created
  # and whenever that set is replaced.
  owner_is_responsible: true

log:
  level: info
  format: text

bootstrap:
  admin:
    username: ""
    email: ""
    password: ""
`
