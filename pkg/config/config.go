// Package config loads the engine configuration: built-in defaults,
// overlaid by an optional TOML file, overlaid by AUTORTHANC_*
// environment variables.
package config

import (
	_ "embed"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/adrg/xdg"
	"github.com/knadh/koanf/parsers/toml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/autorthanc/autorthanc/pkg/errors"
	"github.com/autorthanc/autorthanc/pkg/logging"
)

//go:embed defaults.toml
var defaultConfig []byte

const envPrefix = "AUTORTHANC_"

// Default locations probed when no config file is given explicitly.
var configCandidates = []string{
	"/etc/autorthanc/config.toml",
	"autorthanc.toml",
}

// ArchiveConfig locates the imaging archive.
type ArchiveConfig struct {
	URL      string        `koanf:"url"`
	Username string        `koanf:"username"`
	Password string        `koanf:"password"`
	Timeout  time.Duration `koanf:"timeout"`
}

// RulesConfig locates the rule definitions.
type RulesConfig struct {
	Dir string `koanf:"dir"`
}

// StagingConfig controls the export tree.
type StagingConfig struct {
	OutputRoot     string        `koanf:"output_root"`
	UID            int           `koanf:"uid"`
	GID            int           `koanf:"gid"`
	SettleAttempts int           `koanf:"settle_attempts"`
	SettleDelay    time.Duration `koanf:"settle_delay"`
}

// ForwardConfig identifies this node towards remote modalities.
type ForwardConfig struct {
	LocalAET string `koanf:"local_aet"`
}

// ServerConfig controls the HTTP surface.
type ServerConfig struct {
	Addr string `koanf:"addr"`
}

// WatcherConfig controls the changes-feed poller.
type WatcherConfig struct {
	PollInterval  time.Duration `koanf:"poll_interval"`
	ChangeLimit   int           `koanf:"change_limit"`
	ForceOnStable bool          `koanf:"force_on_stable"`
}

// JournalConfig controls the action journal.
type JournalConfig struct {
	Enabled bool   `koanf:"enabled"`
	Path    string `koanf:"path"`
}

// LogConfig controls the file log sink.
type LogConfig struct {
	File string `koanf:"file"`
}

// Config is the full engine configuration.
type Config struct {
	Archive ArchiveConfig `koanf:"archive"`
	Rules   RulesConfig   `koanf:"rules"`
	Staging StagingConfig `koanf:"staging"`
	Forward ForwardConfig `koanf:"forward"`
	Server  ServerConfig  `koanf:"server"`
	Watcher WatcherConfig `koanf:"watcher"`
	Journal JournalConfig `koanf:"journal"`
	Log     LogConfig     `koanf:"log"`
}

// Load builds the configuration. When path is empty, the default
// locations are probed and silently skipped if absent; an explicit path
// must exist.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(&rawBytesProvider{bytes: defaultConfig}, toml.Parser()); err != nil {
		return nil, errors.Wrap(err, errors.ErrConfigLoad, "failed to load built-in defaults")
	}

	if path != "" {
		if err := k.Load(file.Provider(path), toml.Parser()); err != nil {
			return nil, errors.Wrapf(err, errors.ErrConfigLoad,
				"failed to load config file %s", path)
		}
	} else {
		for _, candidate := range configCandidates {
			if _, err := os.Stat(candidate); err != nil {
				continue
			}
			if err := k.Load(file.Provider(candidate), toml.Parser()); err != nil {
				return nil, errors.Wrapf(err, errors.ErrConfigLoad,
					"failed to load config file %s", candidate)
			}
			break
		}
	}

	if err := k.Load(env.Provider(envPrefix, ".", envToKey), nil); err != nil {
		return nil, errors.Wrap(err, errors.ErrConfigLoad, "failed to load environment overrides")
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, errors.Wrap(err, errors.ErrConfigParse, "failed to decode configuration")
	}

	applyDefaults(&cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the structural requirements of the configuration.
func (c *Config) Validate() error {
	if c.Archive.URL == "" {
		return errors.New(errors.ErrConfigValid, "archive.url must be set")
	}
	if c.Rules.Dir == "" {
		return errors.New(errors.ErrConfigValid, "rules.dir must be set")
	}
	if c.Staging.OutputRoot == "" {
		return errors.New(errors.ErrConfigValid, "staging.output_root must be set")
	}
	if c.Watcher.PollInterval <= 0 {
		return errors.New(errors.ErrConfigValid, "watcher.poll_interval must be positive")
	}
	return nil
}

func applyDefaults(cfg *Config) {
	if cfg.Journal.Path == "" {
		cfg.Journal.Path = filepath.Join(xdg.StateHome, "autorthanc", "journal.db")
	}
	if cfg.Log.File == "" {
		cfg.Log.File = logging.DefaultLogFile()
	} else if strings.EqualFold(cfg.Log.File, "none") {
		cfg.Log.File = ""
	}
}

// envToKey maps AUTORTHANC_STAGING__OUTPUT_ROOT to staging.output_root.
// A double underscore separates sections so single underscores survive
// inside key names.
func envToKey(s string) string {
	s = strings.ToLower(strings.TrimPrefix(s, envPrefix))
	return strings.ReplaceAll(s, "__", ".")
}

// rawBytesProvider feeds the embedded defaults into koanf.
type rawBytesProvider struct {
	bytes []byte
}

func (r *rawBytesProvider) ReadBytes() ([]byte, error) {
	return r.bytes, nil
}

func (r *rawBytesProvider) Read() (map[string]interface{}, error) {
	return nil, errors.New(errors.ErrInternal, "rawBytesProvider does not support Read")
}
