package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// EnvPrefix префикс переменных окружения сервера
const EnvPrefix = "TOOLSYNC_"

// LegacyDBPathEnv задает путь к базе, как в первой версии сервера
const LegacyDBPathEnv = "SYNC_SERVER_DB_PATH"

// LookupFunc has the signature of os.LookupEnv.
type LookupFunc func(key string) (string, bool)

// ApplyEnv overlays environment variables onto cfg.
// TOOLSYNC_DB_PATH wins over SYNC_SERVER_DB_PATH when both are set.
func ApplyEnv(cfg *Config, lookup LookupFunc) error {
	if v, ok := lookup(LegacyDBPathEnv); ok && v != "" {
		cfg.Database.Path = v
	}

	e := envReader{lookup: lookup}

	e.str("ADDR", &cfg.Server.Addr)
	e.duration("READ_TIMEOUT", &cfg.Server.ReadTimeout)
	e.duration("WRITE_TIMEOUT", &cfg.Server.WriteTimeout)
	e.duration("SHUTDOWN_TIMEOUT", &cfg.Server.ShutdownTimeout)
	e.int64("MAX_BODY_BYTES", &cfg.Server.MaxBodyBytes)

	e.str("DB_PATH", &cfg.Database.Path)
	e.duration("DB_BUSY_TIMEOUT", &cfg.Database.BusyTimeout)
	e.int("DB_MAX_OPEN_CONNS", &cfg.Database.MaxOpenConns)
	e.uint64("DB_SAVE_RETRIES", &cfg.Database.SaveRetries)

	e.str("LOG_LEVEL", &cfg.Log.Level)
	e.str("LOG_FORMAT", &cfg.Log.Format)
	e.str("LOG_FILE", &cfg.Log.File)

	e.bool("RATE_LIMIT_ENABLED", &cfg.RateLimit.Enabled)
	e.int("RATE_LIMIT_REQUESTS", &cfg.RateLimit.Requests)
	e.duration("RATE_LIMIT_WINDOW", &cfg.RateLimit.Window)
	e.list("TRUSTED_PROXIES", &cfg.RateLimit.TrustedProxies)

	e.str("JWT_SECRET", &cfg.Auth.JWTSecret)
	e.duration("TOKEN_TTL", &cfg.Auth.TokenTTL)

	e.str("ARCHIVE_BUCKET", &cfg.Archive.Bucket)
	e.str("ARCHIVE_REGION", &cfg.Archive.Region)
	e.str("ARCHIVE_ENDPOINT", &cfg.Archive.Endpoint)
	e.str("ARCHIVE_ACCESS_KEY_ID", &cfg.Archive.AccessKeyID)
	e.str("ARCHIVE_SECRET_ACCESS_KEY", &cfg.Archive.SecretAccessKey)
	e.bool("ARCHIVE_USE_PATH_STYLE", &cfg.Archive.UsePathStyle)

	return e.err
}

// envReader запоминает первую ошибку разбора
type envReader struct {
	lookup LookupFunc
	err    error
}

func (e *envReader) get(name string) (string, string, bool) {
	key := EnvPrefix + name
	v, ok := e.lookup(key)
	if !ok || v == "" || e.err != nil {
		return key, "", false
	}
	return key, v, true
}

func (e *envReader) fail(key, value string, err error) {
	e.err = fmt.Errorf("invalid %s=%q: %w", key, value, err)
}

func (e *envReader) str(name string, dst *string) {
	if _, v, ok := e.get(name); ok {
		*dst = v
	}
}

// list разбирает значения через запятую
func (e *envReader) list(name string, dst *[]string) {
	_, v, ok := e.get(name)
	if !ok {
		return
	}
	var items []string
	for _, item := range strings.Split(v, ",") {
		if item = strings.TrimSpace(item); item != "" {
			items = append(items, item)
		}
	}
	*dst = items
}

func (e *envReader) duration(name string, dst *time.Duration) {
	key, v, ok := e.get(name)
	if !ok {
		return
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		e.fail(key, v, err)
		return
	}
	*dst = d
}

func (e *envReader) int(name string, dst *int) {
	key, v, ok := e.get(name)
	if !ok {
		return
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		e.fail(key, v, err)
		return
	}
	*dst = n
}

func (e *envReader) int64(name string, dst *int64) {
	key, v, ok := e.get(name)
	if !ok {
		return
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		e.fail(key, v, err)
		return
	}
	*dst = n
}

func (e *envReader) uint64(name string, dst *uint64) {
	key, v, ok := e.get(name)
	if !ok {
		return
	}
	n, err := strconv.ParseUint(v, 10, 64)
	if err != nil {
		e.fail(key, v, err)
		return
	}
	*dst = n
}

func (e *envReader) bool(name string, dst *bool) {
	key, v, ok := e.get(name)
	if !ok {
		return
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		e.fail(key, v, err)
		return
	}
	*dst = b
}
