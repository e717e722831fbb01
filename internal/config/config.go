// Copyright (c) 2024 Netskope, Inc. All rights reserved.

package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"gopkg.in/yaml.v3"
)

const (
	DefaultConfigFile  = "postexport.yaml"
	DefaultDBPort      = 3306
	DefaultDBName      = "wordpress"
	DefaultTablePrefix = "wp_"
	DefaultDBTimeout   = 30
	DefaultLogDir      = "/tmp"

	// ExportDirName is the fixed export directory under the content root.
	ExportDirName = "exports"

	envPrefix = "POSTEXPORT_"
)

// Config holds all configuration for the export tool.
type Config struct {
	// WordPress database
	DBHost         string
	DBPort         int
	DBUser         string
	DBPassword     string
	DBName         string
	TablePrefix    string
	DBTimeout      int    // seconds, per query
	DBSecret       string // AWS Secrets Manager secret holding the DB password
	DBSecretRegion string

	// AWS credentials for Secrets Manager, optional
	AWSAccessKeyID     string
	AWSSecretAccessKey string
	AWSSessionToken    string

	// ContentDir is the host's content root; exports land in ContentDir/exports.
	ContentDir string

	// SkipACFCheck trusts that custom fields are available even when the
	// plugin is not listed as active, e.g. when it is loaded as a must-use plugin.
	SkipACFCheck bool

	// Logging
	LogDir    string
	Debug     bool
	LogStdout bool
}

// Flags carries command-line overrides. Zero values mean "not set".
type Flags struct {
	ConfigFile     string
	DBHost         string
	DBPort         int
	DBUser         string
	DBPassword     string
	DBAuth         string // JSON file with user and password
	DBName         string
	TablePrefix    string
	DBSecret       string
	DBSecretRegion string
	DBTimeout      int
	SkipACFCheck   bool
	LogDir         string
	Debug          bool
	LogStdout      bool
}

// LoadConfig loads configuration from CLI flags, environment variables, and YAML file.
// Priority: CLI flags > environment variables > YAML file > defaults
func LoadConfig(f *Flags) (*Config, error) {
	if f == nil {
		f = &Flags{}
	}
	cfg := &Config{}

	configFile := f.ConfigFile
	if configFile == "" {
		configFile = DefaultConfigFile
	}
	if err := loadFromYAML(cfg, configFile); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to load config file: %w", err)
	}

	loadFromEnv(cfg)

	if err := cfg.applyFlags(f); err != nil {
		return nil, err
	}

	cfg.setDefaults()
	return cfg, nil
}

func (c *Config) applyFlags(f *Flags) error {
	if f.DBHost != "" {
		c.DBHost = f.DBHost
	}
	if f.DBPort > 0 {
		c.DBPort = f.DBPort
	}
	if f.DBUser != "" {
		c.DBUser = f.DBUser
	}
	if f.DBPassword != "" {
		c.DBPassword = f.DBPassword
	}
	if f.DBAuth != "" {
		if err := c.ReadDBAuth(f.DBAuth); err != nil {
			return fmt.Errorf("failed to read DB auth file: %w", err)
		}
	}
	if f.DBName != "" {
		c.DBName = f.DBName
	}
	if f.TablePrefix != "" {
		c.TablePrefix = f.TablePrefix
	}
	if f.DBSecret != "" {
		c.DBSecret = f.DBSecret
	}
	if f.DBSecretRegion != "" {
		c.DBSecretRegion = f.DBSecretRegion
	}
	if f.DBTimeout > 0 {
		c.DBTimeout = f.DBTimeout
	}
	if f.SkipACFCheck {
		c.SkipACFCheck = true
	}
	if f.LogDir != "" {
		c.LogDir = f.LogDir
	}
	if f.Debug {
		c.Debug = true
	}
	if f.LogStdout {
		c.LogStdout = true
	}
	return nil
}

func (c *Config) setDefaults() {
	if c.DBPort == 0 {
		c.DBPort = DefaultDBPort
	}
	if c.DBName == "" {
		c.DBName = DefaultDBName
	}
	if c.TablePrefix == "" {
		c.TablePrefix = DefaultTablePrefix
	}
	if c.DBTimeout == 0 {
		c.DBTimeout = DefaultDBTimeout
	}
	if c.LogDir == "" {
		c.LogDir = DefaultLogDir
	}
}

// Validate checks required fields. needDB is false for commands that never
// open the database, such as purge.
func (c *Config) Validate(needDB bool) error {
	if c.ContentDir == "" {
		return fmt.Errorf("content_dir is required (set content_dir in the config file or %sCONTENT_DIR)", envPrefix)
	}
	if !needDB {
		return nil
	}
	if c.DBHost == "" {
		return fmt.Errorf("db-host is required")
	}
	if c.DBSecret != "" && c.DBSecretRegion == "" {
		return fmt.Errorf("db-secret-region is required when db-secret is set")
	}
	return nil
}

// ExportDir returns the directory export files are written to.
func (c *Config) ExportDir() string {
	return filepath.Join(c.ContentDir, ExportDirName)
}

// DBAddress returns host:port for the WordPress database.
func (c *Config) DBAddress() string {
	if c.DBPort > 0 && c.DBPort != DefaultDBPort {
		return fmt.Sprintf("%s:%d", c.DBHost, c.DBPort)
	}
	return c.DBHost
}

// loadFromYAML loads configuration from a YAML file.
func loadFromYAML(cfg *Config, filepath string) error {
	data, err := os.ReadFile(filepath)
	if err != nil {
		return err
	}

	var yamlCfg struct {
		DBHost             string `yaml:"db_host"`
		DBPort             int    `yaml:"db_port"`
		DBUser             string `yaml:"db_user"`
		DBPassword         string `yaml:"db_password"`
		DBName             string `yaml:"db_name"`
		TablePrefix        string `yaml:"table_prefix"`
		DBTimeout          int    `yaml:"db_timeout"`
		DBSecret           string `yaml:"db_secret"`
		DBSecretRegion     string `yaml:"db_secret_region"`
		AWSAccessKeyID     string `yaml:"aws_access_key_id"`
		AWSSecretAccessKey string `yaml:"aws_secret_access_key"`
		AWSSessionToken    string `yaml:"aws_session_token"`
		ContentDir         string `yaml:"content_dir"`
		SkipACFCheck       bool   `yaml:"skip_acf_check"`
		LogDir             string `yaml:"log_dir"`
		Debug              bool   `yaml:"debug"`
		LogStdout          bool   `yaml:"log_stdout"`
	}

	if err := yaml.Unmarshal(data, &yamlCfg); err != nil {
		return err
	}

	if yamlCfg.DBHost != "" {
		cfg.DBHost = yamlCfg.DBHost
	}
	if yamlCfg.DBPort > 0 {
		cfg.DBPort = yamlCfg.DBPort
	}
	if yamlCfg.DBUser != "" {
		cfg.DBUser = yamlCfg.DBUser
	}
	if yamlCfg.DBPassword != "" {
		cfg.DBPassword = yamlCfg.DBPassword
	}
	if yamlCfg.DBName != "" {
		cfg.DBName = yamlCfg.DBName
	}
	if yamlCfg.TablePrefix != "" {
		cfg.TablePrefix = yamlCfg.TablePrefix
	}
	if yamlCfg.DBTimeout > 0 {
		cfg.DBTimeout = yamlCfg.DBTimeout
	}
	if yamlCfg.DBSecret != "" {
		cfg.DBSecret = yamlCfg.DBSecret
	}
	if yamlCfg.DBSecretRegion != "" {
		cfg.DBSecretRegion = yamlCfg.DBSecretRegion
	}
	if yamlCfg.AWSAccessKeyID != "" {
		cfg.AWSAccessKeyID = yamlCfg.AWSAccessKeyID
	}
	if yamlCfg.AWSSecretAccessKey != "" {
		cfg.AWSSecretAccessKey = yamlCfg.AWSSecretAccessKey
	}
	if yamlCfg.AWSSessionToken != "" {
		cfg.AWSSessionToken = yamlCfg.AWSSessionToken
	}
	if yamlCfg.ContentDir != "" {
		cfg.ContentDir = yamlCfg.ContentDir
	}
	cfg.SkipACFCheck = yamlCfg.SkipACFCheck
	if yamlCfg.LogDir != "" {
		cfg.LogDir = yamlCfg.LogDir
	}
	cfg.Debug = yamlCfg.Debug
	cfg.LogStdout = yamlCfg.LogStdout

	return nil
}

// loadFromEnv loads configuration from environment variables.
func loadFromEnv(cfg *Config) {
	if val := os.Getenv(envPrefix + "DB_HOST"); val != "" {
		cfg.DBHost = val
	}
	if val := os.Getenv(envPrefix + "DB_PORT"); val != "" {
		if port, err := strconv.Atoi(val); err == nil {
			cfg.DBPort = port
		}
	}
	if val := os.Getenv(envPrefix + "DB_USER"); val != "" {
		cfg.DBUser = val
	}
	if val := os.Getenv(envPrefix + "DB_PASSWORD"); val != "" {
		cfg.DBPassword = val
	}
	if val := os.Getenv(envPrefix + "DB_NAME"); val != "" {
		cfg.DBName = val
	}
	if val := os.Getenv(envPrefix + "TABLE_PREFIX"); val != "" {
		cfg.TablePrefix = val
	}
	if val := os.Getenv(envPrefix + "DB_TIMEOUT"); val != "" {
		if timeout, err := strconv.Atoi(val); err == nil {
			cfg.DBTimeout = timeout
		}
	}
	if val := os.Getenv(envPrefix + "DB_SECRET"); val != "" {
		cfg.DBSecret = val
	}
	if val := os.Getenv(envPrefix + "DB_SECRET_REGION"); val != "" {
		cfg.DBSecretRegion = val
	}
	// WP_CONTENT_DIR matches the host's own name for the content root.
	if val := os.Getenv("WP_CONTENT_DIR"); val != "" {
		cfg.ContentDir = val
	}
	if val := os.Getenv(envPrefix + "CONTENT_DIR"); val != "" {
		cfg.ContentDir = val
	}
	if val := os.Getenv(envPrefix + "SKIP_ACF_CHECK"); val != "" {
		cfg.SkipACFCheck = (val == "true" || val == "1")
	}
	if val := os.Getenv(envPrefix + "LOG_DIR"); val != "" {
		cfg.LogDir = val
	}
	if val := os.Getenv(envPrefix + "DEBUG"); val != "" {
		cfg.Debug = (val == "true" || val == "1")
	}
	if val := os.Getenv(envPrefix + "LOG_STDOUT"); val != "" {
		cfg.LogStdout = (val == "true" || val == "1")
	}
}

// GetDSN returns the WordPress database connection string. parseTime is left
// off so date columns come back in the host's own text format.
func (c *Config) GetDSN() string {
	dsn := fmt.Sprintf("tcp(%s)/%s?charset=utf8mb4", c.DBAddress(), c.DBName)
	if c.DBUser != "" {
		if c.DBPassword != "" {
			dsn = fmt.Sprintf("%s:%s@%s", c.DBUser, c.DBPassword, dsn)
		} else {
			dsn = fmt.Sprintf("%s@%s", c.DBUser, dsn)
		}
	}
	return dsn
}

// ReadDBAuth reads database credentials from an auth file (JSON format).
func (c *Config) ReadDBAuth(authFile string) error {
	if authFile == "" {
		return nil
	}

	data, err := os.ReadFile(authFile)
	if err != nil {
		return fmt.Errorf("failed to read auth file: %w", err)
	}

	var auth struct {
		User     string `json:"user"`
		Password string `json:"password"`
	}

	if err := json.Unmarshal(data, &auth); err != nil {
		return fmt.Errorf("failed to parse auth file: %w", err)
	}

	c.DBUser = auth.User
	c.DBPassword = auth.Password
	return nil
}
