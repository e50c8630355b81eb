// Package config supplies process-wide configuration: the database URL per
// database name and the connector that opens the storage engine for it.
// Values come from an optional anyblok.yaml plus ANYBLOK_* environment
// overrides.
package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/viper"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/glebarez/sqlite"
	"github.com/Gnonpi/anyblok/pkg/registry"
)

// Config is an opaque key-value configuration lookup.
type Config struct {
	v *viper.Viper
}

// New loads configuration from anyblok.yaml in the working directory (if
// present) and from ANYBLOK_* environment variables.
func New() (*Config, error) {
	v := viper.New()
	v.SetConfigName("anyblok")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.SetEnvPrefix("anyblok")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("database.url", "sqlite://:memory:")

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}
	return &Config{v: v}, nil
}

// DatabaseURL returns the connection URL for a database name. A per-database
// entry under databases.<name>.url wins over the global database.url.
func (c *Config) DatabaseURL(dbName string) string {
	if url := c.v.GetString("databases." + dbName + ".url"); url != "" {
		return url
	}
	return c.v.GetString("database.url")
}

// GetString exposes raw key lookup for callers with their own keys.
func (c *Config) GetString(key string) string {
	return c.v.GetString(key)
}

// Connector returns a registry connector that opens the engine for a
// database name based on its URL scheme: sqlite, postgres or mysql.
func (c *Config) Connector() registry.Connector {
	return func(dbName string) (*gorm.DB, error) {
		return Open(c.DatabaseURL(dbName))
	}
}

// Open opens a storage engine connection from a URL.
func Open(url string) (*gorm.DB, error) {
	cfg := &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)}

	switch {
	case strings.HasPrefix(url, "sqlite://"):
		return gorm.Open(sqlite.Open(strings.TrimPrefix(url, "sqlite://")), cfg)
	case strings.HasPrefix(url, "postgres://"), strings.HasPrefix(url, "postgresql://"):
		return gorm.Open(postgres.Open(url), cfg)
	case strings.HasPrefix(url, "mysql://"):
		return gorm.Open(mysql.Open(strings.TrimPrefix(url, "mysql://")), cfg)
	default:
		return nil, fmt.Errorf("unsupported database url %q", url)
	}
}
