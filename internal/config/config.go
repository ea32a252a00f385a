// Package config loads asarfs settings from the embedded defaults, an
// optional config file and ASARFS_* environment variables, in that order.
package config

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/afero"

	"github.com/dendrascience/asarfs/asarfs"
)

//go:embed config.default.yaml
var defaultConfig []byte

// EnvPrefix marks environment overrides. ASARFS_NO_ASAR sets noAsar,
// ASARFS_LOG_LEVEL sets log.level.
const EnvPrefix = "ASARFS_"

// ConfigPathEnv names a config file when no path is passed to Load.
const ConfigPathEnv = EnvPrefix + "CONFIG"

var ErrUnsupportedFormat = errors.New("unsupported config format")

type Config struct {
	Suffix        string    `koanf:"suffix"`
	NoAsar        bool      `koanf:"noAsar"`
	ProcessRole   string    `koanf:"processRole"`
	LogReads      bool      `koanf:"logReads"`
	Integrity     string    `koanf:"integrity"`
	SkipIntegrity bool      `koanf:"skipIntegrity"`
	Workers       int       `koanf:"workers"`
	TempDir       string    `koanf:"tempDir"`
	Log           LogConfig `koanf:"log"`
}

type LogConfig struct {
	Level  string `koanf:"level"`
	Pretty bool   `koanf:"pretty"`
}

type ConfigFormat string

const (
	JSONConfigFormat ConfigFormat = ".json"
	YAMLConfigFormat ConfigFormat = ".yaml"
	YMLConfigFormat  ConfigFormat = ".yml"
)

var parserMap = map[ConfigFormat]koanf.Parser{
	JSONConfigFormat: json.Parser(),
	YAMLConfigFormat: yaml.Parser(),
	YMLConfigFormat:  yaml.Parser(),
}

// envKeys maps the upper snake case environment names to config keys.
var envKeys = map[string]string{
	"suffix":         "suffix",
	"no_asar":        "noAsar",
	"process_role":   "processRole",
	"log_reads":      "logReads",
	"integrity":      "integrity",
	"skip_integrity": "skipIntegrity",
	"workers":        "workers",
	"temp_dir":       "tempDir",
	"log_level":      "log.level",
	"log_pretty":     "log.pretty",
}

// ConfigManager wraps the koanf instance the settings are merged into.
type ConfigManager struct {
	kf *koanf.Koanf
}

// NewConfigManager loads the defaults, then path (or $ASARFS_CONFIG), then the
// environment.
func NewConfigManager(path string) (*ConfigManager, error) {
	cm := &ConfigManager{kf: koanf.New(".")}

	if err := cm.LoadConfig(YAMLConfigFormat, rawbytes.Provider(defaultConfig)); err != nil {
		return nil, fmt.Errorf("loading defaults: %w", err)
	}

	if path == "" {
		path = os.Getenv(ConfigPathEnv)
	}
	if path != "" {
		if err := cm.LoadConfig(ConfigFormat(filepath.Ext(path)), file.Provider(path)); err != nil {
			return nil, fmt.Errorf("loading %s: %w", path, err)
		}
	}

	if err := cm.kf.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("loading environment: %w", err)
	}
	return cm, nil
}

// envKey returns "" for variables that are not settings, which koanf skips.
func envKey(name string) string {
	return envKeys[strings.ToLower(strings.TrimPrefix(name, EnvPrefix))]
}

// LoadConfig merges provider, parsed as format, over the current settings.
func (cm *ConfigManager) LoadConfig(format ConfigFormat, provider koanf.Provider) error {
	parser, ok := parserMap[format]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnsupportedFormat, format)
	}
	return cm.kf.Load(provider, parser)
}

// Set overrides a single key, typically from a command line flag.
func (cm *ConfigManager) Set(key string, value any) error {
	return cm.kf.Set(key, value)
}

func (cm *ConfigManager) Print() string {
	return cm.kf.Sprint()
}

func (cm *ConfigManager) GetConfig() (Config, error) {
	var c Config
	if err := cm.kf.Unmarshal("", &c); err != nil {
		return Config{}, fmt.Errorf("decoding config: %w", err)
	}
	return c, nil
}

// Options translates c into overlay options over base.
func (c Config) Options(base afero.Fs) asarfs.Options {
	opts := asarfs.Options{
		Suffix:        c.Suffix,
		NoAsar:        asarfs.DisabledFor(c.NoAsar, c.ProcessRole),
		LogReads:      c.LogReads,
		SkipIntegrity: c.SkipIntegrity,
		Workers:       c.Workers,
		TempDir:       c.TempDir,
	}
	if c.Integrity != "" {
		opts.Integrity = asarfs.FileSource{Fs: base, Path: c.Integrity}
	}
	return opts
}

// SetupLogging configures the global zerolog logger.
func (c Config) SetupLogging() {
	level, err := zerolog.ParseLevel(c.Log.Level)
	if err != nil || c.Log.Level == "" {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	if c.Log.Pretty {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"})
	}
	if err != nil {
		log.Warn().Str("level", c.Log.Level).Msg("unknown log level, using info")
	}
}
