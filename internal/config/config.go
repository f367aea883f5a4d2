// Package config holds the service configuration loaded by viper from a YAML
// file, NINJA_BACKUP_MATE_* environment variables and command-line flags.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/ogichanchan/ninja-backup-mate/internal/database"
	"github.com/ogichanchan/ninja-backup-mate/internal/logging"
	"github.com/ogichanchan/ninja-backup-mate/internal/selection"
)

// EnvPrefix prefixes every environment variable override
const EnvPrefix = "NINJA_BACKUP_MATE"

// Config is the complete service configuration
type Config struct {
	Server   ServerConfig            `mapstructure:"server" yaml:"server"`
	Database database.DatabaseConfig `mapstructure:"database" yaml:"database"`
	Site     SiteConfig              `mapstructure:"site" yaml:"site"`
	Backup   BackupConfig            `mapstructure:"backup" yaml:"backup"`
	Auth     AuthConfig              `mapstructure:"auth" yaml:"auth"`
	Notices  NoticesConfig           `mapstructure:"notices" yaml:"notices"`
	Log      LogConfig               `mapstructure:"log" yaml:"log"`
}

// ServerConfig configures the admin HTTP listener
type ServerConfig struct {
	Addr string `mapstructure:"addr" yaml:"addr"`
}

// SiteConfig describes the WordPress installation
type SiteConfig struct {
	Name string `mapstructure:"name" yaml:"name"`
	Root string `mapstructure:"root" yaml:"root"`
}

// BackupConfig controls the scratch location and file selection
type BackupConfig struct {
	ScratchDir        string `mapstructure:"scratch_dir" yaml:"scratch_dir"`
	selection.Options `mapstructure:",squash" yaml:",inline"`
}

// AuthConfig configures admin session tokens and form nonces
type AuthConfig struct {
	Secret   string        `mapstructure:"secret" yaml:"secret"`
	TokenTTL time.Duration `mapstructure:"token_ttl" yaml:"token_ttl"`
	NonceTTL time.Duration `mapstructure:"nonce_ttl" yaml:"nonce_ttl"`
}

// NoticesConfig controls how long admin notices wait to be shown
type NoticesConfig struct {
	TTL time.Duration `mapstructure:"ttl" yaml:"ttl"`
}

// LogConfig configures the logrus logger
type LogConfig struct {
	Level  string `mapstructure:"level" yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"`
	File   string `mapstructure:"file" yaml:"file"`
}

// Default returns a configuration with every default applied
func Default() *Config {
	c := &Config{}
	c.SetDefaults()
	return c
}

// SetDefaults fills unset values
func (c *Config) SetDefaults() {
	if c.Server.Addr == "" {
		c.Server.Addr = "127.0.0.1:8080"
	}

	if c.Database.Host == "" {
		c.Database.Host = "localhost"
	}
	c.Database.SetDefaults()

	if c.Site.Root == "" {
		c.Site.Root = "/var/www/html"
	}

	if c.Backup.ScratchDir == "" {
		c.Backup.ScratchDir = os.TempDir()
	}
	if c.Backup.IncludeDirs == nil {
		c.Backup.IncludeDirs = append([]string(nil), selection.DefaultIncludeDirs...)
	}
	if c.Backup.IncludeFiles == nil {
		c.Backup.IncludeFiles = append([]string(nil), selection.DefaultIncludeFiles...)
	}
	if c.Backup.ExcludePatterns == nil {
		c.Backup.ExcludePatterns = append([]string(nil), selection.DefaultExcludePatterns...)
	}

	if c.Auth.TokenTTL == 0 {
		c.Auth.TokenTTL = 12 * time.Hour
	}
	if c.Auth.NonceTTL == 0 {
		c.Auth.NonceTTL = 12 * time.Hour
	}

	if c.Notices.TTL == 0 {
		c.Notices.TTL = 30 * time.Second
	}

	if c.Log.Level == "" {
		c.Log.Level = string(logging.LogLevelNormal)
	}
	if c.Log.Format == "" {
		c.Log.Format = "text"
	}
}

// Validate checks the configuration needed to run a backup. The auth secret is
// only required when serving HTTP, see ValidateServer.
func (c *Config) Validate() error {
	var errs []error

	if err := c.Database.Validate(); err != nil {
		errs = append(errs, err)
	}
	if c.Site.Root == "" {
		errs = append(errs, errors.New("site.root is required"))
	}
	if c.Backup.ScratchDir == "" {
		errs = append(errs, errors.New("backup.scratch_dir is required"))
	}

	switch logging.LogLevel(c.Log.Level) {
	case logging.LogLevelQuiet, logging.LogLevelNormal, logging.LogLevelVerbose, logging.LogLevelDebug:
	default:
		errs = append(errs, fmt.Errorf("log.level must be one of quiet, normal, verbose, debug, got %q", c.Log.Level))
	}
	if c.Log.Format != "text" && c.Log.Format != "json" {
		errs = append(errs, fmt.Errorf("log.format must be text or json, got %q", c.Log.Format))
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed: %w", errors.Join(errs...))
	}
	return nil
}

// ValidateServer checks the extra settings the HTTP front end needs
func (c *Config) ValidateServer() error {
	if err := c.Validate(); err != nil {
		return err
	}
	if c.Server.Addr == "" {
		return errors.New("server.addr is required")
	}
	if len(c.Auth.Secret) < 16 {
		return errors.New("auth.secret must be at least 16 characters")
	}
	return nil
}

// BindEnv makes v read NINJA_BACKUP_MATE_SECTION_KEY environment variables
func BindEnv(v *viper.Viper) {
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// AutomaticEnv only sees keys viper already knows about
	for _, key := range []string{
		"server.addr",
		"database.host", "database.port", "database.username", "database.password",
		"database.database", "database.timeout", "database.table_prefix",
		"site.name", "site.root",
		"backup.scratch_dir", "backup.include_dirs", "backup.include_files", "backup.exclude_patterns",
		"auth.secret", "auth.token_ttl", "auth.nonce_ttl",
		"notices.ttl",
		"log.level", "log.format", "log.file",
	} {
		v.BindEnv(key)
	}
}

// Load unmarshals v into a Config and applies defaults
func Load(v *viper.Viper) (*Config, error) {
	c := &Config{}
	if err := v.Unmarshal(c); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}
	c.SetDefaults()
	return c, nil
}

// SampleYAML renders an example configuration file with every default filled in
func SampleYAML() ([]byte, error) {
	c := Default()
	c.Database.Username = "wordpress"
	c.Database.Password = "change-me"
	c.Database.Database = "wordpress"
	c.Site.Name = "My WordPress Site"
	c.Backup.ScratchDir = "/var/tmp"
	c.Auth.Secret = "replace-with-a-long-random-secret"

	out, err := yaml.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("failed to render sample configuration: %w", err)
	}
	return out, nil
}
