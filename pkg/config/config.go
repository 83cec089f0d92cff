// Package config loads NornicGraph server configuration.
//
// Values are layered: built-in defaults, then an optional YAML file, then
// environment variables. Validate is called last.
//
// Example Usage:
//
//	cfg, err := config.Load("nornicgraph.yaml")
//	if err != nil {
//		log.Fatalf("Invalid config: %v", err)
//	}
//	fmt.Printf("HTTP server: %s:%d\n", cfg.Server.Address, cfg.Server.Port)
//
// Environment Variables:
//
// Neo4j-Compatible:
//   - NEO4J_AUTH="username/password" or "none"
//
// NornicGraph-Specific:
//   - NORNICGRAPH_ADDRESS, NORNICGRAPH_PORT
//   - NORNICGRAPH_READ_TIMEOUT, NORNICGRAPH_WRITE_TIMEOUT, NORNICGRAPH_IDLE_TIMEOUT
//   - NORNICGRAPH_MAX_REQUEST_SIZE="10MB"
//   - NORNICGRAPH_CORS_ORIGINS="https://a.example,https://b.example"
//   - NORNICGRAPH_METRICS_ENABLED=true
//   - NORNICGRAPH_STORAGE_BACKEND="sqlite" or "badger"
//   - NORNICGRAPH_DATA_DIR="./data", NORNICGRAPH_IN_MEMORY=false
//   - NORNICGRAPH_AUTH_ENABLED, NORNICGRAPH_ADMIN_USER, NORNICGRAPH_ADMIN_PASSWORD
//   - NORNICGRAPH_JWT_SECRET, NORNICGRAPH_TOKEN_EXPIRY
//   - NORNICGRAPH_DEFAULT_DATABASE="neo4j", NORNICGRAPH_DATABASES="a,b"
//   - NORNICGRAPH_TX_TTL="30s", NORNICGRAPH_BOOKMARK_WAIT="1s"
//   - NORNICGRAPH_LOG_LEVEL="info", NORNICGRAPH_LOG_FORMAT="json"
package config

import (
	"errors"
	"fmt"
	"os"
	"slices"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"
)

// Storage backends.
const (
	BackendSQLite = "sqlite"
	BackendBadger = "badger"
)

// Log formats.
const (
	FormatJSON    = "json"
	FormatConsole = "console"
)

// Config holds all NornicGraph configuration.
//
// Configuration is organized into logical sections:
//   - Server: HTTP listener settings
//   - Storage: backend selection and data location
//   - Auth: authentication and the bootstrap admin account
//   - Databases: the catalog of database names
//   - Transactions: explicit transaction and bookmark timing
//   - Logging: level and encoding
type Config struct {
	Server       ServerConfig       `yaml:"server"`
	Storage      StorageConfig      `yaml:"storage"`
	Auth         AuthConfig         `yaml:"auth"`
	Databases    DatabasesConfig    `yaml:"databases"`
	Transactions TransactionsConfig `yaml:"transactions"`
	Logging      LoggingConfig      `yaml:"logging"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	// Address to bind to
	Address string `yaml:"address"`
	// Port for HTTP connections (default 7474)
	Port         int           `yaml:"port"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	IdleTimeout  time.Duration `yaml:"idle_timeout"`
	// MaxRequestSize accepts "10MB"-style sizes in YAML and env
	MaxRequestSize ByteSize `yaml:"max_request_size"`
	CORSOrigins    []string `yaml:"cors_origins"`
	EnableMetrics  bool     `yaml:"enable_metrics"`
	TLSCertFile    string   `yaml:"tls_cert_file,omitempty"`
	TLSKeyFile     string   `yaml:"tls_key_file,omitempty"`
}

// StorageConfig selects the storage backend.
type StorageConfig struct {
	// Backend is "sqlite" or "badger"
	Backend string `yaml:"backend"`
	// DataDir holds one file (sqlite) or directory (badger) per database
	DataDir string `yaml:"data_dir"`
	// InMemory keeps every database in memory; DataDir is ignored
	InMemory bool `yaml:"in_memory"`
}

// AuthConfig holds authentication settings.
type AuthConfig struct {
	// Enabled controls whether authentication is required
	Enabled bool `yaml:"enabled"`
	// AdminUser is created at startup when auth is enabled
	AdminUser     string `yaml:"admin_user"`
	AdminPassword string `yaml:"admin_password"`
	// MinPasswordLength for password policy
	MinPasswordLength int `yaml:"min_password_length"`
	// JWTSecret for signing bearer tokens
	JWTSecret string `yaml:"jwt_secret"`
	// TokenExpiry for bearer tokens; 0 never expires
	TokenExpiry     time.Duration `yaml:"token_expiry"`
	MaxFailedLogins int           `yaml:"max_failed_logins"`
	LockoutDuration time.Duration `yaml:"lockout_duration"`
}

// DatabasesConfig lists the databases the server hosts.
type DatabasesConfig struct {
	Default string   `yaml:"default"`
	Extra   []string `yaml:"extra"`
}

// TransactionsConfig holds transaction timing.
type TransactionsConfig struct {
	// TTL is how long an idle explicit transaction stays open
	TTL time.Duration `yaml:"ttl"`
	// BookmarkWait bounds how long a request waits for its bookmarks
	BookmarkWait time.Duration `yaml:"bookmark_wait"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	// Level (debug, info, warn, error)
	Level string `yaml:"level"`
	// Format (json, console)
	Format string `yaml:"format"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Address:        "0.0.0.0",
			Port:           7474,
			ReadTimeout:    30 * time.Second,
			WriteTimeout:   60 * time.Second,
			IdleTimeout:    120 * time.Second,
			MaxRequestSize: 10 << 20,
			CORSOrigins:    []string{"*"},
			EnableMetrics:  true,
		},
		Storage: StorageConfig{
			Backend: BackendSQLite,
			DataDir: "./data",
		},
		Auth: AuthConfig{
			Enabled:           false,
			AdminUser:         "admin",
			AdminPassword:     "admin",
			MinPasswordLength: 8,
			TokenExpiry:       24 * time.Hour,
			MaxFailedLogins:   5,
			LockoutDuration:   15 * time.Minute,
		},
		Databases: DatabasesConfig{
			Default: "neo4j",
		},
		Transactions: TransactionsConfig{
			TTL:          30 * time.Second,
			BookmarkWait: time.Second,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: FormatJSON,
		},
	}
}

// Load builds a Config from defaults, the YAML file at path (skipped when
// path is empty), the environment and finally overrides, then validates it.
func Load(path string, overrides ...func(*Config)) (*Config, error) {
	cfg := Default()
	if path != "" {
		if err := cfg.LoadFile(path); err != nil {
			return nil, err
		}
	}
	cfg.ApplyEnv()
	for _, override := range overrides {
		override(cfg)
	}
	if cfg.Auth.JWTSecret == "" {
		cfg.Auth.JWTSecret = generateDefaultSecret()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFromEnv returns the defaults overlaid with the environment. It does
// not validate.
func LoadFromEnv() *Config {
	cfg := Default()
	cfg.ApplyEnv()
	return cfg
}

// LoadFile overlays the YAML file at path. Keys absent from the file keep
// their current values.
func (c *Config) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

// WriteFile writes c as YAML to path. An existing file is replaced.
func (c *Config) WriteFile(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("write config %s: %w", path, err)
	}
	return nil
}

// ApplyEnv overlays environment variables onto c. Unset or unparsable
// variables leave the current value in place.
func (c *Config) ApplyEnv() {
	c.Server.Address = getEnv("NORNICGRAPH_ADDRESS", c.Server.Address)
	c.Server.Port = getEnvInt("NORNICGRAPH_PORT", c.Server.Port)
	c.Server.ReadTimeout = getEnvDuration("NORNICGRAPH_READ_TIMEOUT", c.Server.ReadTimeout)
	c.Server.WriteTimeout = getEnvDuration("NORNICGRAPH_WRITE_TIMEOUT", c.Server.WriteTimeout)
	c.Server.IdleTimeout = getEnvDuration("NORNICGRAPH_IDLE_TIMEOUT", c.Server.IdleTimeout)
	if v := os.Getenv("NORNICGRAPH_MAX_REQUEST_SIZE"); v != "" {
		if n, err := ParseByteSize(v); err == nil {
			c.Server.MaxRequestSize = n
		}
	}
	c.Server.CORSOrigins = getEnvStringSlice("NORNICGRAPH_CORS_ORIGINS", c.Server.CORSOrigins)
	c.Server.EnableMetrics = getEnvBool("NORNICGRAPH_METRICS_ENABLED", c.Server.EnableMetrics)
	c.Server.TLSCertFile = getEnv("NORNICGRAPH_TLS_CERT_FILE", c.Server.TLSCertFile)
	c.Server.TLSKeyFile = getEnv("NORNICGRAPH_TLS_KEY_FILE", c.Server.TLSKeyFile)

	c.Storage.Backend = strings.ToLower(getEnv("NORNICGRAPH_STORAGE_BACKEND", c.Storage.Backend))
	c.Storage.DataDir = getEnv("NORNICGRAPH_DATA_DIR", c.Storage.DataDir)
	c.Storage.InMemory = getEnvBool("NORNICGRAPH_IN_MEMORY", c.Storage.InMemory)

	// NEO4J_AUTH format: "username/password" or "none"
	if authStr := os.Getenv("NEO4J_AUTH"); authStr != "" {
		if authStr == "none" {
			c.Auth.Enabled = false
		} else {
			c.Auth.Enabled = true
			if user, pass, ok := strings.Cut(authStr, "/"); ok {
				c.Auth.AdminUser = user
				c.Auth.AdminPassword = pass
			} else {
				c.Auth.AdminPassword = authStr
			}
		}
	}
	c.Auth.Enabled = getEnvBool("NORNICGRAPH_AUTH_ENABLED", c.Auth.Enabled)
	c.Auth.AdminUser = getEnv("NORNICGRAPH_ADMIN_USER", c.Auth.AdminUser)
	c.Auth.AdminPassword = getEnv("NORNICGRAPH_ADMIN_PASSWORD", c.Auth.AdminPassword)
	c.Auth.MinPasswordLength = getEnvInt("NORNICGRAPH_MIN_PASSWORD_LENGTH", c.Auth.MinPasswordLength)
	c.Auth.JWTSecret = getEnv("NORNICGRAPH_JWT_SECRET", c.Auth.JWTSecret)
	c.Auth.TokenExpiry = getEnvDuration("NORNICGRAPH_TOKEN_EXPIRY", c.Auth.TokenExpiry)
	c.Auth.MaxFailedLogins = getEnvInt("NORNICGRAPH_MAX_FAILED_LOGINS", c.Auth.MaxFailedLogins)
	c.Auth.LockoutDuration = getEnvDuration("NORNICGRAPH_LOCKOUT_DURATION", c.Auth.LockoutDuration)

	c.Databases.Default = getEnv("NORNICGRAPH_DEFAULT_DATABASE", c.Databases.Default)
	c.Databases.Extra = getEnvStringSlice("NORNICGRAPH_DATABASES", c.Databases.Extra)

	c.Transactions.TTL = getEnvDuration("NORNICGRAPH_TX_TTL", c.Transactions.TTL)
	c.Transactions.BookmarkWait = getEnvDuration("NORNICGRAPH_BOOKMARK_WAIT", c.Transactions.BookmarkWait)

	c.Logging.Level = strings.ToLower(getEnv("NORNICGRAPH_LOG_LEVEL", c.Logging.Level))
	c.Logging.Format = strings.ToLower(getEnv("NORNICGRAPH_LOG_FORMAT", c.Logging.Format))
}

// Validate checks the configuration for logical errors and invalid values.
// Every problem found is reported, joined into one error.
func (c *Config) Validate() error {
	var errs []error

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("invalid http port: %d", c.Server.Port))
	}
	if c.Server.MaxRequestSize <= 0 {
		errs = append(errs, fmt.Errorf("invalid max request size: %d", c.Server.MaxRequestSize))
	}
	if (c.Server.TLSCertFile == "") != (c.Server.TLSKeyFile == "") {
		errs = append(errs, errors.New("tls needs both a certificate and a key file"))
	}

	switch c.Storage.Backend {
	case BackendSQLite, BackendBadger:
	default:
		errs = append(errs, fmt.Errorf("unknown storage backend %q (want %s or %s)",
			c.Storage.Backend, BackendSQLite, BackendBadger))
	}
	if !c.Storage.InMemory && c.Storage.DataDir == "" {
		errs = append(errs, errors.New("storage data dir is required unless in_memory is set"))
	}

	if c.Auth.Enabled {
		if c.Auth.AdminUser == "" {
			errs = append(errs, errors.New("authentication enabled but no admin user provided"))
		}
		if len(c.Auth.AdminPassword) < c.Auth.MinPasswordLength {
			errs = append(errs, fmt.Errorf("admin password must be at least %d characters", c.Auth.MinPasswordLength))
		}
		if c.Auth.JWTSecret == "" {
			errs = append(errs, errors.New("authentication enabled but no jwt secret provided"))
		}
	}

	if c.Databases.Default == "" {
		errs = append(errs, errors.New("default database name is required"))
	}
	seen := map[string]bool{}
	for _, name := range c.DatabaseNames() {
		if name == "" && c.Databases.Default == "" {
			continue // reported above
		}
		// Names become file and directory names under DataDir.
		if name == "" || seen[name] || strings.ContainsAny(name, `/\:`) || name == "." || name == ".." {
			errs = append(errs, fmt.Errorf("invalid or duplicate database name %q", name))
		}
		seen[name] = true
	}

	if c.Transactions.TTL <= 0 {
		errs = append(errs, fmt.Errorf("invalid transaction ttl: %s", c.Transactions.TTL))
	}
	if c.Transactions.BookmarkWait < 0 {
		errs = append(errs, fmt.Errorf("invalid bookmark wait: %s", c.Transactions.BookmarkWait))
	}

	if _, err := zapcore.ParseLevel(c.Logging.Level); err != nil {
		errs = append(errs, fmt.Errorf("invalid log level: %w", err))
	}
	if !slices.Contains([]string{FormatJSON, FormatConsole}, c.Logging.Format) {
		errs = append(errs, fmt.Errorf("unknown log format %q", c.Logging.Format))
	}

	return errors.Join(errs...)
}

// String returns a representation of the Config that is safe to log.
// Passwords and secrets are left out.
func (c *Config) String() string {
	return fmt.Sprintf(
		"Config{Auth: %v, HTTP: %s:%d, Storage: %s, DataDir: %s, InMemory: %v, Databases: %v}",
		c.Auth.Enabled,
		c.Server.Address, c.Server.Port,
		c.Storage.Backend, c.Storage.DataDir, c.Storage.InMemory,
		c.DatabaseNames(),
	)
}

// DatabaseNames returns the default database followed by the extra ones.
func (c *Config) DatabaseNames() []string {
	return append([]string{c.Databases.Default}, c.Databases.Extra...)
}

// ByteSize is a size in bytes that reads "10MB"-style strings from YAML.
type ByteSize int64

// UnmarshalYAML accepts plain integers and human-readable sizes.
func (b *ByteSize) UnmarshalYAML(node *yaml.Node) error {
	n, err := ParseByteSize(node.Value)
	if err != nil {
		return err
	}
	*b = n
	return nil
}

// MarshalYAML writes the size in the largest exact unit.
func (b ByteSize) MarshalYAML() (any, error) {
	return b.String(), nil
}

func (b ByteSize) String() string {
	units := []string{"TB", "GB", "MB", "KB"}
	for i, unit := range units {
		shift := uint(10 * (len(units) - i))
		if b > 0 && b%(1<<shift) == 0 {
			return strconv.FormatInt(int64(b>>shift), 10) + unit
		}
	}
	return strconv.FormatInt(int64(b), 10)
}

// ParseByteSize parses a human-readable size.
// Supports: "1024", "1KB", "1MB", "1GB", "1TB" (case-insensitive, B optional).
func ParseByteSize(s string) (ByteSize, error) {
	orig := s
	s = strings.TrimSpace(strings.ToUpper(s))
	s = strings.TrimSuffix(s, "B")

	var multiplier int64 = 1
	switch {
	case strings.HasSuffix(s, "K"):
		multiplier = 1 << 10
		s = strings.TrimSuffix(s, "K")
	case strings.HasSuffix(s, "M"):
		multiplier = 1 << 20
		s = strings.TrimSuffix(s, "M")
	case strings.HasSuffix(s, "G"):
		multiplier = 1 << 30
		s = strings.TrimSuffix(s, "G")
	case strings.HasSuffix(s, "T"):
		multiplier = 1 << 40
		s = strings.TrimSuffix(s, "T")
	}

	val, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil || val < 0 {
		return 0, fmt.Errorf("invalid size %q", orig)
	}
	return ByteSize(val * multiplier), nil
}

// Helper functions for environment variable parsing

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}

func getEnvBool(key string, defaultVal bool) bool {
	if val := os.Getenv(key); val != "" {
		val = strings.ToLower(val)
		return val == "true" || val == "1" || val == "yes" || val == "on"
	}
	return defaultVal
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
		// Try parsing as seconds
		if secs, err := strconv.Atoi(val); err == nil {
			return time.Duration(secs) * time.Second
		}
	}
	return defaultVal
}

func getEnvStringSlice(key string, defaultVal []string) []string {
	if val := os.Getenv(key); val != "" {
		parts := strings.Split(val, ",")
		result := make([]string, 0, len(parts))
		for _, p := range parts {
			if trimmed := strings.TrimSpace(p); trimmed != "" {
				result = append(result, trimmed)
			}
		}
		if len(result) > 0 {
			return result
		}
	}
	return defaultVal
}

func generateDefaultSecret() string {
	// Tokens signed with this secret do not survive a restart.
	return "CHANGE_ME_IN_PRODUCTION_" + strconv.FormatInt(time.Now().UnixNano(), 36)
}
