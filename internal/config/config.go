package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/Napageneral/imsgexport/imessage"
)

// EnvPrefix prefixes every environment override, e.g. IMSGEXPORT_DB_PATH
const EnvPrefix = "IMSGEXPORT"

// Config holds the exporter configuration
type Config struct {
	Destination     string `mapstructure:"destination" yaml:"destination"`
	DBPath          string `mapstructure:"db_path" yaml:"db_path"`
	AttachmentsPath string `mapstructure:"attachments_path" yaml:"attachments_path"`
	Contact         string `mapstructure:"contact" yaml:"contact,omitempty"`
	ReadableOnly    bool   `mapstructure:"readable_only" yaml:"readable_only"`
	BackupOnly      bool   `mapstructure:"backup_only" yaml:"backup_only"`
	LogLevel        string `mapstructure:"log_level" yaml:"log_level"`
	LogFormat       string `mapstructure:"log_format" yaml:"log_format"`

	// ConfigFile is the file the values were read from, if any
	ConfigFile string `mapstructure:"-" yaml:"config_file,omitempty"`
}

// LoadOptions controls where Load looks for settings
type LoadOptions struct {
	// ConfigFile is a YAML file; falls back to $IMSGEXPORT_CONFIG
	ConfigFile string

	// EnvFile is loaded into the environment first if it exists (default ".env")
	EnvFile string

	// Flags whose changed values override everything else.
	// Flag names map to keys with dashes replaced by underscores.
	Flags *pflag.FlagSet
}

// Load resolves the configuration: defaults < config file < environment < flags
func Load(opts LoadOptions) (*Config, error) {
	envFile := opts.EnvFile
	if envFile == "" {
		envFile = ".env"
	}
	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load %s: %w", envFile, err)
	}

	v := viper.New()
	v.SetDefault("destination", "")
	v.SetDefault("db_path", imessage.DefaultChatDBPath())
	v.SetDefault("attachments_path", imessage.DefaultAttachmentsPath())
	v.SetDefault("contact", "")
	v.SetDefault("readable_only", false)
	v.SetDefault("backup_only", false)
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "auto")

	v.SetEnvPrefix(EnvPrefix)
	v.AutomaticEnv()

	configFile := opts.ConfigFile
	if configFile == "" {
		configFile = os.Getenv(EnvPrefix + "_CONFIG")
	}
	if configFile != "" {
		v.SetConfigFile(expandPath(configFile))
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", configFile, err)
		}
	}

	if opts.Flags != nil {
		var bindErr error
		opts.Flags.VisitAll(func(f *pflag.Flag) {
			if f.Name == "config" || f.Name == "help" || bindErr != nil {
				return
			}
			bindErr = v.BindPFlag(strings.ReplaceAll(f.Name, "-", "_"), f)
		})
		if bindErr != nil {
			return nil, fmt.Errorf("failed to bind flags: %w", bindErr)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	cfg.ConfigFile = configFile
	cfg.Destination = expandPath(cfg.Destination)
	cfg.DBPath = expandPath(cfg.DBPath)
	cfg.AttachmentsPath = expandPath(cfg.AttachmentsPath)

	return &cfg, nil
}

// Validate checks the settings needed to run an export
func (c *Config) Validate() error {
	if c.Destination == "" {
		return errors.New("destination directory is required")
	}
	if c.ReadableOnly && c.BackupOnly {
		return errors.New("readable-only and backup-only are mutually exclusive")
	}
	if c.DBPath == "" {
		return errors.New("db path is required")
	}
	return nil
}

// YAML renders the configuration as YAML
func (c *Config) YAML() (string, error) {
	out, err := yaml.Marshal(c)
	if err != nil {
		return "", fmt.Errorf("failed to encode config: %w", err)
	}
	return string(out), nil
}

// expandPath expands environment variables and a leading ~
func expandPath(path string) string {
	if path == "" {
		return ""
	}
	path = os.ExpandEnv(path)
	if path == "~" || strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			path = filepath.Join(home, strings.TrimPrefix(path, "~"))
		}
	}
	return path
}
