// Package config loads service configuration.
//
// Values are layered: built-in defaults, then an optional .env file, then an
// optional YAML file, then SANAMIND_* environment variables. The result is
// validated before it is returned; secrets have no defaults.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"sanamind.org/internal/blobstore"
)

// EnvPrefix namespaces environment overrides.
const EnvPrefix = "SANAMIND_"

var ErrInvalid = errors.New("config: invalid")

// Config is the full service configuration.
type Config struct {
	Environment string           `yaml:"environment"`
	Service     string           `yaml:"service"`
	LogLevel    string           `yaml:"log_level"`
	HTTP        HTTPConfig       `yaml:"http"`
	Database    DatabaseConfig   `yaml:"database"`
	Capability  CapabilityConfig `yaml:"capability"`
	Session     SessionConfig    `yaml:"session"`
	Audit       AuditConfig      `yaml:"audit"`
	Cipher      CipherConfig     `yaml:"cipher"`
	Artifacts   ArtifactsConfig  `yaml:"artifacts"`
}

type HTTPConfig struct {
	Addr             string        `yaml:"addr"`
	ReadTimeout      time.Duration `yaml:"read_timeout"`
	WriteTimeout     time.Duration `yaml:"write_timeout"`
	IdleTimeout      time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout  time.Duration `yaml:"shutdown_timeout"`
	AllowedOrigins   []string      `yaml:"allowed_origins"`
	DownloadRate     float64       `yaml:"download_rate"`
	DownloadBurst    int           `yaml:"download_burst"`
	MaxArtifactBytes int64         `yaml:"max_artifact_bytes"`
	// TrustForwardedFor takes the client IP from X-Forwarded-For. Enable only
	// behind a proxy that overwrites the header.
	TrustForwardedFor bool `yaml:"trust_forwarded_for"`
}

type DatabaseConfig struct {
	DSN string `yaml:"dsn"`
}

// CapabilityConfig configures bearer download links.
type CapabilityConfig struct {
	Secret     string        `yaml:"secret"`
	BaseURL    string        `yaml:"base_url"`
	Issuer     string        `yaml:"issuer"`
	DefaultTTL time.Duration `yaml:"default_ttl"`
}

type SessionConfig struct {
	Secret string        `yaml:"secret"`
	TTL    time.Duration `yaml:"ttl"`
}

// AuditConfig configures the access log writer. HashKey keys the IP hash.
type AuditConfig struct {
	HashKey      string        `yaml:"hash_key"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

// CipherConfig lists payload keys as base64 material by id. The first id in
// Order seals new payloads.
type CipherConfig struct {
	Keys  map[string]string `yaml:"keys"`
	Order []string          `yaml:"order"`
}

type ArtifactsConfig struct {
	Backend   string        `yaml:"backend"`
	Dir       string        `yaml:"dir"`
	RedisAddr string        `yaml:"redis_addr"`
	RedisDB   int           `yaml:"redis_db"`
	Password  string        `yaml:"password"`
	KeyPrefix string        `yaml:"key_prefix"`
	TTL       time.Duration `yaml:"ttl"`
}

// Blobstore converts the section into a blobstore.Config.
func (a ArtifactsConfig) Blobstore() blobstore.Config {
	return blobstore.Config{
		Backend:   a.Backend,
		Dir:       a.Dir,
		RedisAddr: a.RedisAddr,
		RedisDB:   a.RedisDB,
		Password:  a.Password,
		KeyPrefix: a.KeyPrefix,
		TTL:       a.TTL,
	}
}

// Default returns the built-in defaults.
func Default() Config {
	return Config{
		Environment: "development",
		Service:     "sanamind-dossier",
		LogLevel:    "info",
		HTTP: HTTPConfig{
			Addr:             ":8080",
			ReadTimeout:      15 * time.Second,
			WriteTimeout:     15 * time.Second,
			IdleTimeout:      60 * time.Second,
			ShutdownTimeout:  10 * time.Second,
			DownloadRate:     2,
			DownloadBurst:    10,
			MaxArtifactBytes: 20 << 20,
		},
		Capability: CapabilityConfig{
			BaseURL:    "http://localhost:8080",
			Issuer:     "sanamind",
			DefaultTTL: 72 * time.Hour,
		},
		Session: SessionConfig{TTL: 12 * time.Hour},
		Audit:   AuditConfig{WriteTimeout: 5 * time.Second},
		Artifacts: ArtifactsConfig{
			Backend: "fs",
			Dir:     "./data/artifacts",
		},
	}
}

// Load builds the configuration. yamlPath may be empty. A missing .env file is
// not an error.
func Load(yamlPath string) (Config, error) {
	return load(yamlPath, ".env", os.LookupEnv)
}

func load(yamlPath, dotenvPath string, lookup func(string) (string, bool)) (Config, error) {
	cfg := Default()

	if dotenvPath != "" {
		if err := godotenv.Load(dotenvPath); err != nil && !errors.Is(err, os.ErrNotExist) {
			return Config{}, fmt.Errorf("load %s: %w", dotenvPath, err)
		}
	}
	if yamlPath != "" {
		raw, err := os.ReadFile(yamlPath)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", yamlPath, err)
		}
	}
	if err := applyEnv(&cfg, lookup); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config, lookup func(string) (string, bool)) error {
	var errs []error
	str := func(name string, dst *string) {
		if v, ok := lookup(EnvPrefix + name); ok {
			*dst = strings.TrimSpace(v)
		}
	}
	dur := func(name string, dst *time.Duration) {
		if v, ok := lookup(EnvPrefix + name); ok {
			d, err := time.ParseDuration(strings.TrimSpace(v))
			if err != nil {
				errs = append(errs, fmt.Errorf("%w: %s%s: %v", ErrInvalid, EnvPrefix, name, err))
				return
			}
			*dst = d
		}
	}
	integer := func(name string, dst *int) {
		if v, ok := lookup(EnvPrefix + name); ok {
			n, err := strconv.Atoi(strings.TrimSpace(v))
			if err != nil {
				errs = append(errs, fmt.Errorf("%w: %s%s: %v", ErrInvalid, EnvPrefix, name, err))
				return
			}
			*dst = n
		}
	}

	str("ENV", &cfg.Environment)
	str("SERVICE", &cfg.Service)
	str("LOG_LEVEL", &cfg.LogLevel)
	str("HTTP_ADDR", &cfg.HTTP.Addr)
	dur("HTTP_SHUTDOWN_TIMEOUT", &cfg.HTTP.ShutdownTimeout)
	integer("HTTP_DOWNLOAD_BURST", &cfg.HTTP.DownloadBurst)
	if v, ok := lookup(EnvPrefix + "HTTP_ALLOWED_ORIGINS"); ok {
		cfg.HTTP.AllowedOrigins = splitList(v)
	}
	if v, ok := lookup(EnvPrefix + "HTTP_TRUST_FORWARDED_FOR"); ok {
		b, err := strconv.ParseBool(strings.TrimSpace(v))
		if err != nil {
			errs = append(errs, fmt.Errorf("%w: %sHTTP_TRUST_FORWARDED_FOR: %v", ErrInvalid, EnvPrefix, err))
		} else {
			cfg.HTTP.TrustForwardedFor = b
		}
	}
	if v, ok := lookup(EnvPrefix + "HTTP_DOWNLOAD_RATE"); ok {
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			errs = append(errs, fmt.Errorf("%w: %sHTTP_DOWNLOAD_RATE: %v", ErrInvalid, EnvPrefix, err))
		} else {
			cfg.HTTP.DownloadRate = f
		}
	}
	str("PG_DSN", &cfg.Database.DSN)
	str("CAPABILITY_SECRET", &cfg.Capability.Secret)
	str("CAPABILITY_BASE_URL", &cfg.Capability.BaseURL)
	str("CAPABILITY_ISSUER", &cfg.Capability.Issuer)
	dur("CAPABILITY_TTL", &cfg.Capability.DefaultTTL)
	str("SESSION_SECRET", &cfg.Session.Secret)
	dur("SESSION_TTL", &cfg.Session.TTL)
	str("AUDIT_HASH_KEY", &cfg.Audit.HashKey)
	dur("AUDIT_WRITE_TIMEOUT", &cfg.Audit.WriteTimeout)
	if v, ok := lookup(EnvPrefix + "CIPHER_KEYS"); ok {
		keys, order, err := parseKeyList(v)
		if err != nil {
			errs = append(errs, err)
		} else {
			cfg.Cipher.Keys, cfg.Cipher.Order = keys, order
		}
	}
	str("ARTIFACTS_BACKEND", &cfg.Artifacts.Backend)
	str("ARTIFACTS_DIR", &cfg.Artifacts.Dir)
	str("ARTIFACTS_REDIS_ADDR", &cfg.Artifacts.RedisAddr)
	str("ARTIFACTS_REDIS_PASSWORD", &cfg.Artifacts.Password)
	integer("ARTIFACTS_REDIS_DB", &cfg.Artifacts.RedisDB)
	dur("ARTIFACTS_TTL", &cfg.Artifacts.TTL)
	return errors.Join(errs...)
}

// parseKeyList parses "id:base64,id:base64". Order follows the input.
func parseKeyList(v string) (map[string]string, []string, error) {
	keys := make(map[string]string)
	var order []string
	for _, item := range splitList(v) {
		id, material, ok := strings.Cut(item, ":")
		id = strings.TrimSpace(id)
		if !ok || id == "" || strings.TrimSpace(material) == "" {
			return nil, nil, fmt.Errorf("%w: %sCIPHER_KEYS entry must be id:base64", ErrInvalid, EnvPrefix)
		}
		if _, dup := keys[id]; dup {
			return nil, nil, fmt.Errorf("%w: duplicate cipher key id %s", ErrInvalid, id)
		}
		keys[id] = strings.TrimSpace(material)
		order = append(order, id)
	}
	return keys, order, nil
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// Validate reports every problem at once.
func (c Config) Validate() error {
	var errs []error
	bad := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf("%w: "+format, append([]any{ErrInvalid}, args...)...))
	}
	if c.HTTP.Addr == "" {
		bad("http.addr is required")
	}
	if len(c.Capability.Secret) < 32 {
		bad("capability.secret must be at least 32 bytes")
	}
	if u, err := url.Parse(c.Capability.BaseURL); err != nil || u.Scheme == "" || u.Host == "" {
		bad("capability.base_url must be an absolute URL")
	}
	if c.Capability.DefaultTTL <= 0 {
		bad("capability.default_ttl must be positive")
	}
	if len(c.Session.Secret) < 32 {
		bad("session.secret must be at least 32 bytes")
	}
	if c.Session.Secret != "" && c.Session.Secret == c.Capability.Secret {
		bad("session.secret and capability.secret must differ")
	}
	if c.Audit.HashKey == "" {
		bad("audit.hash_key is required")
	}
	if len(c.Cipher.Order) == 0 {
		bad("cipher.order must name at least one key")
	}
	for _, id := range c.Cipher.Order {
		if _, ok := c.Cipher.Keys[id]; !ok {
			bad("cipher key %s is listed in order but not defined", id)
		}
	}
	if c.HTTP.DownloadRate <= 0 || c.HTTP.DownloadBurst <= 0 {
		bad("http.download_rate and http.download_burst must be positive")
	}
	if c.HTTP.MaxArtifactBytes <= 0 {
		bad("http.max_artifact_bytes must be positive")
	}
	switch strings.ToLower(c.Artifacts.Backend) {
	case "", "fs", "filesystem", "local":
		if c.Artifacts.Dir == "" {
			bad("artifacts.dir is required for the filesystem backend")
		}
	case "redis":
		if c.Artifacts.RedisAddr == "" {
			bad("artifacts.redis_addr is required for the redis backend")
		}
	default:
		bad("unknown artifacts.backend %q", c.Artifacts.Backend)
	}
	return errors.Join(errs...)
}
