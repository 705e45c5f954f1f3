package config

import (
	"net/netip"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func envMap(m map[string]string) LookupFunc {
	return func(key string) (string, bool) {
		v, ok := m[key]
		return v, ok
	}
}

func newFlagSet(t *testing.T, args ...string) *pflag.FlagSet {
	t.Helper()
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	RegisterFlags(fs)
	require.NoError(t, fs.Parse(args))
	return fs
}

func writeConfigFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "server.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestDefault(t *testing.T) {
	cfg := Default()

	assert.Equal(t, ":8000", cfg.Server.Addr)
	assert.Equal(t, "data/sync.db", cfg.Database.Path)
	assert.Equal(t, 5*time.Second, cfg.Database.BusyTimeout)
	assert.Equal(t, 4, cfg.Database.MaxOpenConns)
	assert.Equal(t, uint64(3), cfg.Database.SaveRetries)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.False(t, cfg.Auth.Enabled())
	assert.NoError(t, cfg.Validate())
}

func TestLoad_Precedence(t *testing.T) {
	path := writeConfigFile(t, `
server:
  addr: ":9000"
database:
  path: /srv/file.db
  busy_timeout: 2s
log:
  level: debug
  format: json
rate_limit:
  requests: 10
archive:
  bucket: backups
`)

	tests := []struct {
		env      map[string]string
		name     string
		wantAddr string
		wantDB   string
		wantLvl  string
		args     []string
	}{
		{
			name:     "file only",
			args:     []string{"--config", path},
			wantAddr: ":9000",
			wantDB:   "/srv/file.db",
			wantLvl:  "debug",
		},
		{
			name:     "legacy env overrides file",
			args:     []string{"-c", path},
			env:      map[string]string{LegacyDBPathEnv: "/legacy.db"},
			wantAddr: ":9000",
			wantDB:   "/legacy.db",
			wantLvl:  "debug",
		},
		{
			name:     "prefixed env wins over legacy env",
			args:     []string{"-c", path},
			env:      map[string]string{LegacyDBPathEnv: "/legacy.db", "TOOLSYNC_DB_PATH": "/env.db", "TOOLSYNC_LOG_LEVEL": "warn"},
			wantAddr: ":9000",
			wantDB:   "/env.db",
			wantLvl:  "warn",
		},
		{
			name:     "flags win over env",
			args:     []string{"-c", path, "--db", "/flag.db", "--addr", "127.0.0.1:1"},
			env:      map[string]string{"TOOLSYNC_DB_PATH": "/env.db", "TOOLSYNC_ADDR": ":7000"},
			wantAddr: "127.0.0.1:1",
			wantDB:   "/flag.db",
			wantLvl:  "debug",
		},
		{
			name:     "unset flags keep file values",
			args:     []string{"-c", path, "--log-level", "error"},
			wantAddr: ":9000",
			wantDB:   "/srv/file.db",
			wantLvl:  "error",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := load(newFlagSet(t, tt.args...), envMap(tt.env))
			require.NoError(t, err)

			assert.Equal(t, tt.wantAddr, cfg.Server.Addr)
			assert.Equal(t, tt.wantDB, cfg.Database.Path)
			assert.Equal(t, tt.wantLvl, cfg.Log.Level)
			// значения из файла, не перекрытые ничем
			assert.Equal(t, 2*time.Second, cfg.Database.BusyTimeout)
			assert.Equal(t, 10, cfg.RateLimit.Requests)
			assert.Equal(t, "backups", cfg.Archive.Bucket)
			// значения по умолчанию, отсутствующие в файле
			assert.Equal(t, 4, cfg.Database.MaxOpenConns)
			assert.Equal(t, "us-east-1", cfg.Archive.Region)
		})
	}
}

func TestLoad_WithoutFlagSet(t *testing.T) {
	cfg, err := load(nil, envMap(map[string]string{"TOOLSYNC_RATE_LIMIT_ENABLED": "false"}))
	require.NoError(t, err)
	assert.False(t, cfg.RateLimit.Enabled)
}

func TestLoad_RateLimitFlag(t *testing.T) {
	cfg, err := load(newFlagSet(t, "--rate-limit", "0"), envMap(nil))
	require.NoError(t, err)
	assert.False(t, cfg.RateLimit.Enabled)

	cfg, err = load(newFlagSet(t, "--rate-limit", "5"), envMap(nil))
	require.NoError(t, err)
	assert.True(t, cfg.RateLimit.Enabled)
	assert.Equal(t, 5, cfg.RateLimit.Requests)
}

func TestLoad_TrustedProxies(t *testing.T) {
	cfg, err := load(newFlagSet(t), envMap(nil))
	require.NoError(t, err)
	assert.Empty(t, cfg.RateLimit.TrustedProxies)

	cfg, err = load(newFlagSet(t), envMap(map[string]string{"TOOLSYNC_TRUSTED_PROXIES": "10.0.0.0/8, 192.168.1.1"}))
	require.NoError(t, err)
	assert.Equal(t, []string{"10.0.0.0/8", "192.168.1.1"}, cfg.RateLimit.TrustedProxies)

	prefixes, err := cfg.RateLimit.ProxyPrefixes()
	require.NoError(t, err)
	require.Len(t, prefixes, 2)
	assert.True(t, prefixes[0].Contains(netip.MustParseAddr("10.1.2.3")))
	assert.True(t, prefixes[1].Contains(netip.MustParseAddr("192.168.1.1")))
	assert.False(t, prefixes[1].Contains(netip.MustParseAddr("192.168.1.2")))

	// флаг перекрывает окружение
	cfg, err = load(newFlagSet(t, "--trusted-proxy", "127.0.0.1", "--trusted-proxy", "::1"),
		envMap(map[string]string{"TOOLSYNC_TRUSTED_PROXIES": "10.0.0.0/8"}))
	require.NoError(t, err)
	assert.Equal(t, []string{"127.0.0.1", "::1"}, cfg.RateLimit.TrustedProxies)
}

func TestLoad_Errors(t *testing.T) {
	tests := []struct {
		env  map[string]string
		name string
		file string
		want string
	}{
		{name: "bad duration", env: map[string]string{"TOOLSYNC_DB_BUSY_TIMEOUT": "soon"}, want: "TOOLSYNC_DB_BUSY_TIMEOUT"},
		{name: "bad int", env: map[string]string{"TOOLSYNC_DB_MAX_OPEN_CONNS": "many"}, want: "TOOLSYNC_DB_MAX_OPEN_CONNS"},
		{name: "bad bool", env: map[string]string{"TOOLSYNC_RATE_LIMIT_ENABLED": "maybe"}, want: "TOOLSYNC_RATE_LIMIT_ENABLED"},
		{name: "short secret", env: map[string]string{"TOOLSYNC_JWT_SECRET": "short"}, want: "jwt_secret"},
		{name: "bad format", env: map[string]string{"TOOLSYNC_LOG_FORMAT": "xml"}, want: "log.format"},
		{name: "broken yaml", file: "server: [", want: "failed to parse config file"},
		{name: "bad trusted proxy", env: map[string]string{"TOOLSYNC_TRUSTED_PROXIES": "10.0.0.0/99"}, want: "trusted_proxies"},
		{name: "zero connections", file: "database:\n  max_open_conns: 0\n", want: "max_open_conns"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var args []string
			if tt.file != "" {
				args = []string{"-c", writeConfigFile(t, tt.file)}
			}

			_, err := load(newFlagSet(t, args...), envMap(tt.env))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := load(newFlagSet(t, "-c", filepath.Join(t.TempDir(), "absent.yaml")), envMap(nil))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read config file")
}

func TestValidateArchive(t *testing.T) {
	cfg := Default()
	assert.Error(t, cfg.ValidateArchive())

	cfg.Archive.Bucket = "backups"
	assert.NoError(t, cfg.ValidateArchive())

	cfg.Archive.Region = ""
	assert.Error(t, cfg.ValidateArchive())
}
