package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/ogichanchan/ninja-backup-mate/internal/config"
	"github.com/ogichanchan/ninja-backup-mate/internal/logging"
)

var (
	cfgFile   string
	logLevel  string
	logFormat string
	logFile   string
	noColor   bool
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "ninja-backup-mate",
	Short: "Quick one-click backups of a WordPress database and custom files",
	Long: `Ninja Backup Mate produces a single zip archive holding a SQL dump of a
WordPress database (database.sql) and the site's custom files under files/:
themes, plugins, mu-plugins, wp-config.php, .htaccess and friends. Core
WordPress files and the uploads directory are left out to keep backups fast.

Backups can be taken from the command line or downloaded from the admin page
served by "ninja-backup-mate serve".

Examples:
  # Write a backup to the current directory
  ninja-backup-mate backup --config=/etc/ninja-backup-mate.yaml

  # Serve the admin page and mint a token to reach it
  ninja-backup-mate serve --config=/etc/ninja-backup-mate.yaml
  ninja-backup-mate token --user=admin

  # Start from a sample configuration
  ninja-backup-mate config > ninja-backup-mate.yaml`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.ninja-backup-mate.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (quiet, normal, verbose, debug)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "", "log format (text, json)")
	rootCmd.PersistentFlags().StringVar(&logFile, "log-file", "", "also write logs to this file")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "disable color output")

	viper.BindPFlag("log.level", rootCmd.PersistentFlags().Lookup("log-level"))
	viper.BindPFlag("log.format", rootCmd.PersistentFlags().Lookup("log-format"))
	viper.BindPFlag("log.file", rootCmd.PersistentFlags().Lookup("log-file"))

	rootCmd.AddCommand(newBackupCommand())
	rootCmd.AddCommand(newServeCommand())
	rootCmd.AddCommand(newTokenCommand())
	rootCmd.AddCommand(newConfigCommand())
	rootCmd.AddCommand(newVersionCommand())
}

// initConfig reads in config file and ENV variables if set.
func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		cobra.CheckErr(err)

		viper.AddConfigPath(home)
		viper.AddConfigPath(".")
		viper.SetConfigType("yaml")
		viper.SetConfigName(".ninja-backup-mate")
	}

	config.BindEnv(viper.GetViper())

	if err := viper.ReadInConfig(); err == nil {
		fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
	} else if cfgFile != "" {
		// An explicit --config that cannot be read is fatal
		cobra.CheckErr(fmt.Errorf("failed to read config file %s: %w", filepath.Clean(cfgFile), err))
	}
}

// loadConfig builds the configuration from viper and validates it
func loadConfig(forServer bool) (*config.Config, error) {
	cfg, err := config.Load(viper.GetViper())
	if err != nil {
		return nil, err
	}

	validate := cfg.Validate
	if forServer {
		validate = cfg.ValidateServer
	}
	if err := validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// newLogger writes logs to stderr so stdout stays free for command output
func newLogger(cfg *config.Config) (*logging.Logger, error) {
	return logging.NewLogger(logging.Config{
		Level:   logging.ParseLevel(cfg.Log.Level),
		Output:  os.Stderr,
		Format:  cfg.Log.Format,
		LogFile: cfg.Log.File,
	})
}
