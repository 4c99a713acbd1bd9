package config

import (
	stderrors "errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"scanopy-mcp/pkg/errors"
)

func lookupFrom(env map[string]string) LookupFunc {
	return func(key string) (string, bool) {
		v, ok := env[key]
		return v, ok
	}
}

func baseEnv() map[string]string {
	return map[string]string{
		EnvBaseURL: "https://scanopy.example.com/",
		EnvAPIKey:  "secret-token",
	}
}

func TestFromLookup(t *testing.T) {
	t.Run("defaults", func(t *testing.T) {
		cfg, err := FromLookup(lookupFrom(baseEnv()))
		require.NoError(t, err)

		assert.Equal(t, "https://scanopy.example.com", cfg.BaseURL)
		assert.Equal(t, "secret-token", cfg.APIKey)
		assert.Equal(t, DefaultConfirmString, cfg.ConfirmString)
		assert.Equal(t, "https://scanopy.example.com/openapi.json", cfg.OpenAPIURL)
		assert.Equal(t, 600*time.Second, cfg.OpenAPITTL)
		assert.Equal(t, 10*time.Second, cfg.Timeout)
		assert.Equal(t, DefaultWriteAllowlist, cfg.WriteAllowlist)
		assert.Equal(t, "INFO", cfg.LogLevel)
		assert.False(t, cfg.TraceEnabled)
	})

	t.Run("overrides", func(t *testing.T) {
		env := baseEnv()
		env[EnvConfirmString] = "  yes, really  "
		env[EnvOpenAPIURL] = "http://localhost:9000/openapi.yaml"
		env[EnvOpenAPITTL] = "0"
		env[EnvTimeoutSeconds] = "3"
		env[EnvOpenAPIRefresh] = "*/5 * * * *"
		env[EnvTrace] = "true"
		env[EnvLogLevel] = "debug"

		cfg, err := FromLookup(lookupFrom(env))
		require.NoError(t, err)

		assert.Equal(t, "  yes, really  ", cfg.ConfirmString, "confirm string is kept verbatim")
		assert.Equal(t, "http://localhost:9000/openapi.yaml", cfg.OpenAPIURL)
		assert.Equal(t, time.Duration(0), cfg.OpenAPITTL)
		assert.Equal(t, 3*time.Second, cfg.Timeout)
		assert.Equal(t, "*/5 * * * *", cfg.RefreshSchedule)
		assert.True(t, cfg.TraceEnabled)
		assert.Equal(t, "debug", cfg.LogLevel)
	})

	tests := []struct {
		name   string
		mutate func(map[string]string)
		key    string
		code   string
	}{
		{"missing base url", func(e map[string]string) { delete(e, EnvBaseURL) }, EnvBaseURL, errors.ErrCodeMissingConfig},
		{"missing api key", func(e map[string]string) { e[EnvAPIKey] = "   " }, EnvAPIKey, errors.ErrCodeMissingConfig},
		{"relative base url", func(e map[string]string) { e[EnvBaseURL] = "scanopy.local" }, EnvBaseURL, errors.ErrCodeInvalidConfig},
		{"empty confirm", func(e map[string]string) { e[EnvConfirmString] = "" }, EnvConfirmString, errors.ErrCodeInvalidConfirmText},
		{"whitespace confirm", func(e map[string]string) { e[EnvConfirmString] = " \t\n" }, EnvConfirmString, errors.ErrCodeInvalidConfirmText},
		{"bad ttl", func(e map[string]string) { e[EnvOpenAPITTL] = "ten" }, EnvOpenAPITTL, errors.ErrCodeInvalidConfig},
		{"negative ttl", func(e map[string]string) { e[EnvOpenAPITTL] = "-1" }, EnvOpenAPITTL, errors.ErrCodeInvalidConfig},
		{"zero timeout", func(e map[string]string) { e[EnvTimeoutSeconds] = "0" }, EnvTimeoutSeconds, errors.ErrCodeInvalidConfig},
		{"bad cron", func(e map[string]string) { e[EnvOpenAPIRefresh] = "every minute" }, EnvOpenAPIRefresh, errors.ErrCodeInvalidConfig},
		{"bad trace flag", func(e map[string]string) { e[EnvTrace] = "sometimes" }, EnvTrace, errors.ErrCodeInvalidConfig},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := baseEnv()
			tt.mutate(env)

			_, err := FromLookup(lookupFrom(env))
			require.Error(t, err)

			var cfgErr *ConfigurationError
			require.True(t, stderrors.As(err, &cfgErr))
			assert.Equal(t, tt.key, cfgErr.Key)

			se := errors.From(err)
			assert.Equal(t, errors.ErrorCategoryConfiguration, se.Category)
			assert.Equal(t, tt.code, se.Code)
			assert.False(t, se.IsRecoverable())
		})
	}

	t.Run("confirm error mentions non-empty", func(t *testing.T) {
		env := baseEnv()
		env[EnvConfirmString] = "   "
		_, err := FromLookup(lookupFrom(env))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "non-empty")
	})
}

func TestLoadAllowlistFile(t *testing.T) {
	dir := t.TempDir()

	t.Run("plain list", func(t *testing.T) {
		path := filepath.Join(dir, "list.yaml")
		require.NoError(t, os.WriteFile(path, []byte("- hosts.update\n- \" \"\n- networks.create\n"), 0o600))

		names, err := LoadAllowlistFile(path)
		require.NoError(t, err)
		assert.Equal(t, []string{"hosts.update", "networks.create"}, names)
	})

	t.Run("mapping form", func(t *testing.T) {
		path := filepath.Join(dir, "map.yaml")
		require.NoError(t, os.WriteFile(path, []byte("write_allowlist:\n  - ports.update\n"), 0o600))

		names, err := LoadAllowlistFile(path)
		require.NoError(t, err)
		assert.Equal(t, []string{"ports.update"}, names)
	})

	t.Run("replaces the built-in allowlist", func(t *testing.T) {
		path := filepath.Join(dir, "only.yaml")
		require.NoError(t, os.WriteFile(path, []byte("- subnets.create\n"), 0o600))

		env := baseEnv()
		env[EnvAllowlistFile] = path
		cfg, err := FromLookup(lookupFrom(env))
		require.NoError(t, err)
		assert.Equal(t, []string{"subnets.create"}, cfg.WriteAllowlist)
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := LoadAllowlistFile(filepath.Join(dir, "nope.yaml"))
		var cfgErr *ConfigurationError
		require.True(t, stderrors.As(err, &cfgErr))
		assert.Equal(t, EnvAllowlistFile, cfgErr.Key)
	})
}

func TestLoadEnvFile(t *testing.T) {
	t.Run("explicit file populates the environment", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "test.env")
		require.NoError(t, os.WriteFile(path, []byte("SCANOPY_TEST_ENV_FILE_VALUE=from-file\n"), 0o600))
		t.Cleanup(func() { os.Unsetenv("SCANOPY_TEST_ENV_FILE_VALUE") })

		require.NoError(t, LoadEnvFile(path))
		assert.Equal(t, "from-file", os.Getenv("SCANOPY_TEST_ENV_FILE_VALUE"))
	})

	t.Run("explicit missing file fails", func(t *testing.T) {
		err := LoadEnvFile(filepath.Join(t.TempDir(), "missing.env"))
		var cfgErr *ConfigurationError
		require.True(t, stderrors.As(err, &cfgErr))
	})
}
