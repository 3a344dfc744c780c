/**
 * @description
 * Thin GORM wrapper for MySQL: connects with retries, configures the pool and maps
 * a textual log level onto the GORM logger.
 *
 * @dependencies
 * - gorm.io/gorm, gorm.io/driver/mysql: ORM and MySQL dialector.
 */
package mysql

import (
	"fmt"
	"log"
	"time"

	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const (
	connectAttempts      = 10
	connectRetryInterval = 2 * time.Second
)

// Client wraps a *gorm.DB.
type Client struct {
	db *gorm.DB
}

// NewClient opens a MySQL connection, retrying while the server comes up.
func NewClient(cfg Config) (*Client, error) {
	gormConfig := &gorm.Config{
		SkipDefaultTransaction: true,
		TranslateError:         true,
		Logger:                 newLogger(cfg.LogLevel),
	}

	var db *gorm.DB
	var err error
	for i := 0; i < connectAttempts; i++ {
		db, err = gorm.Open(mysql.Open(cfg.DSN()), gormConfig)
		if err == nil {
			rawDB, dbErr := db.DB()
			if dbErr == nil {
				if err = rawDB.Ping(); err == nil {
					break
				}
			} else {
				err = dbErr
			}
		}
		if i < connectAttempts-1 {
			log.Printf("level=warn component=mysql msg=\"connect failed; retrying\" attempt=%d max=%d retry_in=%s err=%v", i+1, connectAttempts, connectRetryInterval, err)
			time.Sleep(connectRetryInterval)
		}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to connect to mysql after %d attempts: %w", connectAttempts, err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get sql.DB: %w", err)
	}
	if cfg.MaxIdleConns > 0 {
		sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}
	return &Client{db: db}, nil
}

// DB returns the underlying *gorm.DB.
func (c *Client) DB() *gorm.DB {
	return c.db
}

// Close closes the connection pool.
func (c *Client) Close() error {
	sqlDB, err := c.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func newLogger(level string) logger.Interface {
	var logLevel logger.LogLevel
	switch level {
	case "info":
		logLevel = logger.Info
	case "warn":
		logLevel = logger.Warn
	case "silent":
		logLevel = logger.Silent
	default:
		logLevel = logger.Error
	}
	return logger.Default.LogMode(logLevel)
}
