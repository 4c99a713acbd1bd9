package config

import (
	stderrors "errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"

	"scanopy-mcp/pkg/errors"
)

// Config is the process configuration, read once at startup and passed to
// constructors explicitly.
type Config struct {
	BaseURL       string
	APIKey        string
	ConfirmString string

	OpenAPIURL      string
	OpenAPIFile     string
	OpenAPITTL      time.Duration
	RefreshSchedule string

	Timeout time.Duration

	WriteAllowlist []string
	AllowlistFile  string

	LogLevel     string
	TraceEnabled bool
}

// ConfigurationError reports a missing or invalid configuration value.
// It is fatal: the server does not start.
type ConfigurationError struct {
	Key    string
	Reason string
	Cause  error
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("configuration error: %s %s", e.Key, e.Reason)
}

func (e *ConfigurationError) Unwrap() error {
	return e.Cause
}

// StructuredError implements errors.Classifier
func (e *ConfigurationError) StructuredError() *errors.StructuredError {
	code := errors.ErrCodeInvalidConfig
	switch {
	case e.Key == EnvConfirmString:
		code = errors.ErrCodeInvalidConfirmText
	case strings.HasPrefix(e.Reason, "is required"):
		code = errors.ErrCodeMissingConfig
	}
	return errors.NewConfigurationError(code, e.Error(), e).WithContext("key", e.Key)
}

// LookupFunc matches os.LookupEnv
type LookupFunc func(key string) (string, bool)

// LoadEnvFile loads KEY=VALUE pairs from path into the process environment.
// Values already set in the environment win. A missing default file is not an error.
func LoadEnvFile(path string) error {
	explicit := path != ""
	if !explicit {
		path = DefaultEnvFileName
	}

	if err := godotenv.Load(path); err != nil {
		if !explicit && stderrors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return &ConfigurationError{Key: "env-file", Reason: fmt.Sprintf("could not be read: %s", path), Cause: err}
	}
	return nil
}

// Load reads configuration from the process environment
func Load() (*Config, error) {
	return FromLookup(os.LookupEnv)
}

// FromLookup builds and validates a Config from a lookup function
func FromLookup(lookup LookupFunc) (*Config, error) {
	get := func(key string) string {
		v, _ := lookup(key)
		return strings.TrimSpace(v)
	}

	cfg := &Config{
		BaseURL:         strings.TrimRight(get(EnvBaseURL), "/"),
		APIKey:          get(EnvAPIKey),
		OpenAPIURL:      get(EnvOpenAPIURL),
		OpenAPIFile:     get(EnvOpenAPIFile),
		RefreshSchedule: get(EnvOpenAPIRefresh),
		AllowlistFile:   get(EnvAllowlistFile),
		LogLevel:        get(EnvLogLevel),
	}

	if cfg.BaseURL == "" {
		return nil, &ConfigurationError{Key: EnvBaseURL, Reason: "is required"}
	}
	if cfg.APIKey == "" {
		return nil, &ConfigurationError{Key: EnvAPIKey, Reason: "is required"}
	}
	if u, err := url.Parse(cfg.BaseURL); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, &ConfigurationError{Key: EnvBaseURL, Reason: "must be an absolute http(s) URL", Cause: err}
	}

	// The confirmation string is compared byte-for-byte, so only presence is
	// checked after trimming; the raw value is kept.
	confirm, ok := lookup(EnvConfirmString)
	if !ok {
		confirm = DefaultConfirmString
	}
	if strings.TrimSpace(confirm) == "" {
		return nil, &ConfigurationError{Key: EnvConfirmString, Reason: "must be non-empty after trimming whitespace"}
	}
	cfg.ConfirmString = confirm

	if cfg.OpenAPIURL == "" {
		cfg.OpenAPIURL = cfg.BaseURL + DefaultOpenAPIPath
	}

	ttl, err := intSetting(get, EnvOpenAPITTL, DefaultOpenAPITTL, 0)
	if err != nil {
		return nil, err
	}
	cfg.OpenAPITTL = time.Duration(ttl) * time.Second

	timeout, err := intSetting(get, EnvTimeoutSeconds, DefaultTimeoutSeconds, 1)
	if err != nil {
		return nil, err
	}
	cfg.Timeout = time.Duration(timeout) * time.Second

	if cfg.RefreshSchedule != "" {
		if _, err := cron.ParseStandard(cfg.RefreshSchedule); err != nil {
			return nil, &ConfigurationError{Key: EnvOpenAPIRefresh, Reason: "is not a valid cron schedule", Cause: err}
		}
	}

	if raw := get(EnvTrace); raw != "" {
		enabled, err := strconv.ParseBool(raw)
		if err != nil {
			return nil, &ConfigurationError{Key: EnvTrace, Reason: "must be a boolean", Cause: err}
		}
		cfg.TraceEnabled = enabled
	}

	if cfg.LogLevel == "" {
		cfg.LogLevel = DefaultLogLevel
	}

	cfg.WriteAllowlist = append([]string(nil), DefaultWriteAllowlist...)
	if cfg.AllowlistFile != "" {
		names, err := LoadAllowlistFile(cfg.AllowlistFile)
		if err != nil {
			return nil, err
		}
		cfg.WriteAllowlist = names
	}

	return cfg, nil
}

func intSetting(get func(string) string, key string, def, min int) (int, error) {
	raw := get(key)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, &ConfigurationError{Key: key, Reason: "must be an integer", Cause: err}
	}
	if n < min {
		return 0, &ConfigurationError{Key: key, Reason: fmt.Sprintf("must be >= %d", min)}
	}
	return n, nil
}

// allowlistFile is the mapping form of an allowlist file
type allowlistFile struct {
	WriteAllowlist []string `yaml:"write_allowlist"`
}

// LoadAllowlistFile reads operation ids from a YAML file. The file holds either
// a plain sequence or a mapping with a write_allowlist sequence.
func LoadAllowlistFile(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &ConfigurationError{Key: EnvAllowlistFile, Reason: fmt.Sprintf("could not be read: %s", path), Cause: err}
	}

	var names []string
	if err := yaml.Unmarshal(data, &names); err != nil {
		var wrapped allowlistFile
		if err2 := yaml.Unmarshal(data, &wrapped); err2 != nil {
			return nil, &ConfigurationError{Key: EnvAllowlistFile, Reason: "is not a YAML list of operation ids", Cause: err2}
		}
		names = wrapped.WriteAllowlist
	}

	cleaned := make([]string, 0, len(names))
	for _, n := range names {
		if n = strings.TrimSpace(n); n != "" {
			cleaned = append(cleaned, n)
		}
	}
	return cleaned, nil
}
