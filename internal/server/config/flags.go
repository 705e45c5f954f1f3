package config

import (
	"os"

	"github.com/spf13/pflag"
)

// Flag names shared by the server commands.
const (
	FlagConfig      = "config"
	FlagAddr        = "addr"
	FlagDBPath      = "db"
	FlagLogLevel    = "log-level"
	FlagLogFormat   = "log-format"
	FlagLogFile     = "log-file"
	FlagJWTSecret   = "jwt-secret"
	FlagRateLimit   = "rate-limit"
	FlagSaveRetries = "save-retries"
	FlagTrustProxy  = "trusted-proxy"
)

// RegisterFlags adds the configuration flags to fs. Defaults shown in help
// come from Default(); only flags set explicitly override file and env.
func RegisterFlags(fs *pflag.FlagSet) {
	d := Default()

	fs.StringP(FlagConfig, "c", "", "path to YAML config file")
	fs.String(FlagAddr, d.Server.Addr, "HTTP listen address")
	fs.String(FlagDBPath, d.Database.Path, "path to the SQLite database")
	fs.String(FlagLogLevel, d.Log.Level, "log level: debug, info, warn, error")
	fs.String(FlagLogFormat, d.Log.Format, "log format: text or json")
	fs.String(FlagLogFile, d.Log.File, "write logs to this file with rotation instead of stderr")
	fs.String(FlagJWTSecret, "", "HMAC secret for device tokens; empty disables auth")
	fs.Int(FlagRateLimit, d.RateLimit.Requests, "requests per minute allowed from one IP, 0 disables")
	fs.Uint64(FlagSaveRetries, d.Database.SaveRetries, "retries of a save on a busy database")
	fs.StringSlice(FlagTrustProxy, nil, "proxy address or CIDR whose X-Forwarded-For is trusted (repeatable)")
}

// ApplyFlags copies explicitly set flags onto cfg.
func ApplyFlags(cfg *Config, fs *pflag.FlagSet) error {
	var err error
	set := func(name string, apply func() error) {
		if err == nil && fs.Changed(name) {
			err = apply()
		}
	}

	set(FlagAddr, func() (e error) { cfg.Server.Addr, e = fs.GetString(FlagAddr); return })
	set(FlagDBPath, func() (e error) { cfg.Database.Path, e = fs.GetString(FlagDBPath); return })
	set(FlagLogLevel, func() (e error) { cfg.Log.Level, e = fs.GetString(FlagLogLevel); return })
	set(FlagLogFormat, func() (e error) { cfg.Log.Format, e = fs.GetString(FlagLogFormat); return })
	set(FlagLogFile, func() (e error) { cfg.Log.File, e = fs.GetString(FlagLogFile); return })
	set(FlagJWTSecret, func() (e error) { cfg.Auth.JWTSecret, e = fs.GetString(FlagJWTSecret); return })
	set(FlagSaveRetries, func() (e error) { cfg.Database.SaveRetries, e = fs.GetUint64(FlagSaveRetries); return })
	set(FlagTrustProxy, func() (e error) {
		cfg.RateLimit.TrustedProxies, e = fs.GetStringSlice(FlagTrustProxy)
		return
	})
	set(FlagRateLimit, func() error {
		n, e := fs.GetInt(FlagRateLimit)
		if e != nil {
			return e
		}
		cfg.RateLimit.Enabled = n > 0
		if n > 0 {
			cfg.RateLimit.Requests = n
		}
		return nil
	})

	return err
}

// Load builds the configuration: defaults, then the YAML file named by
// --config, then environment, then explicitly set flags. fs may be nil.
func Load(fs *pflag.FlagSet) (*Config, error) {
	return load(fs, os.LookupEnv)
}

func load(fs *pflag.FlagSet, lookup LookupFunc) (*Config, error) {
	cfg := Default()

	if fs != nil {
		path, err := fs.GetString(FlagConfig)
		if err != nil {
			return nil, err
		}
		if path != "" {
			if err := LoadFile(cfg, path); err != nil {
				return nil, err
			}
		}
	}

	if err := ApplyEnv(cfg, lookup); err != nil {
		return nil, err
	}

	if fs != nil {
		if err := ApplyFlags(cfg, fs); err != nil {
			return nil, err
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
