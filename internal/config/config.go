// Package config resolves sandboxd's process-wide settings from
// environment variables, with an optional YAML override file, following
// the flat-constants shape of codebox/config.py translated into a Go
// struct built once at startup.
package config

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Config holds every setting resolved at process start. Nothing here
// changes for the lifetime of the process; commands and requests never
// carry their own copy.
type Config struct {
	NsjailBin      string  `yaml:"nsjail_bin"`
	NsjailCfg      string  `yaml:"nsjail_cfg"`
	CgroupMemMax   int64   `yaml:"cgroup_mem_max"`
	CgroupPidsMax  int64   `yaml:"cgroup_pids_max"`
	CgroupParent   string  `yaml:"cgroup_parent"`
	LogLevel       string  `yaml:"log_level"`
	LogFormat      string  `yaml:"log_format"`
	Env            string  `yaml:"env"`
	DefaultTimeout float64 `yaml:"default_timeout"`
}

// Defaults mirror codebox/config.py: a 64 MB memory cap, 12 PIDs, a
// 0.2-second default command timeout.
func Defaults() Config {
	return Config{
		NsjailBin:      "/usr/sbin/nsjail",
		NsjailCfg:      "/etc/sandboxd/nsjail.cfg",
		CgroupMemMax:   64_000_000,
		CgroupPidsMax:  12,
		CgroupParent:   "NSJAIL",
		LogLevel:       "info",
		LogFormat:      "text",
		Env:            "development",
		DefaultTimeout: 0.2,
	}
}

// envKeys maps each field to the environment variable that overrides it.
var envKeys = map[string]string{
	"NsjailBin":      "SANDBOXD_NSJAIL_BIN",
	"NsjailCfg":      "SANDBOXD_NSJAIL_CFG",
	"CgroupMemMax":   "SANDBOXD_CGROUP_MEM_MAX",
	"CgroupPidsMax":  "SANDBOXD_CGROUP_PIDS_MAX",
	"CgroupParent":   "SANDBOXD_CGROUP_PARENT",
	"LogLevel":       "SANDBOXD_LOG_LEVEL",
	"LogFormat":      "SANDBOXD_LOG_FORMAT",
	"Env":            "SANDBOXD_ENV",
	"DefaultTimeout": "SANDBOXD_DEFAULT_TIMEOUT",
}

// Load resolves a Config: defaults, overlaid by an optional YAML file at
// yamlPath (skipped entirely when yamlPath is empty or does not exist),
// overlaid by environment variables. A malformed override file is a fatal
// error — it is never silently ignored, since a config mistake here means
// every request runs with the wrong resource limits.
func Load(yamlPath string) (Config, error) {
	cfg := Defaults()

	if yamlPath != "" {
		if data, err := os.ReadFile(yamlPath); err == nil {
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return Config{}, fmt.Errorf("parse config file %q: %w", yamlPath, err)
			}
		} else if !os.IsNotExist(err) {
			return Config{}, fmt.Errorf("read config file %q: %w", yamlPath, err)
		}
	}

	if v, ok := os.LookupEnv(envKeys["NsjailBin"]); ok {
		cfg.NsjailBin = v
	}
	if v, ok := os.LookupEnv(envKeys["NsjailCfg"]); ok {
		cfg.NsjailCfg = v
	}
	if v, ok := os.LookupEnv(envKeys["CgroupParent"]); ok {
		cfg.CgroupParent = v
	}
	if v, ok := os.LookupEnv(envKeys["LogLevel"]); ok {
		cfg.LogLevel = v
	}
	if v, ok := os.LookupEnv(envKeys["LogFormat"]); ok {
		cfg.LogFormat = v
	}
	if v, ok := os.LookupEnv(envKeys["Env"]); ok {
		cfg.Env = v
	}
	if v, ok := os.LookupEnv(envKeys["CgroupMemMax"]); ok {
		parsed, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return Config{}, fmt.Errorf("parse %s=%q: %w", envKeys["CgroupMemMax"], v, err)
		}
		cfg.CgroupMemMax = parsed
	}
	if v, ok := os.LookupEnv(envKeys["CgroupPidsMax"]); ok {
		parsed, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return Config{}, fmt.Errorf("parse %s=%q: %w", envKeys["CgroupPidsMax"], v, err)
		}
		cfg.CgroupPidsMax = parsed
	}
	if v, ok := os.LookupEnv(envKeys["DefaultTimeout"]); ok {
		parsed, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return Config{}, fmt.Errorf("parse %s=%q: %w", envKeys["DefaultTimeout"], v, err)
		}
		cfg.DefaultTimeout = parsed
	}

	return cfg, nil
}
