package mysql

import (
	"fmt"
	"time"
)

// Config holds connection and pool settings for MySQL.
type Config struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string

	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration

	// LogLevel is one of "silent", "error", "warn", "info".
	LogLevel string
}

// DSN builds user:password@tcp(host:port)/dbname with UTC time parsing.
func (c *Config) DSN() string {
	return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=utf8mb4&parseTime=True&loc=UTC",
		c.User,
		c.Password,
		c.Host,
		c.Port,
		c.DBName,
	)
}
