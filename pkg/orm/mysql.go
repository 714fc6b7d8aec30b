package orm

import (
	"fmt"
	"time"

	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type Config struct {
	DSN         string `mapstructure:"dsn" yaml:"dsn"`
	MaxIdle     int    `mapstructure:"max_idle" yaml:"max_idle"`
	MaxOpen     int    `mapstructure:"max_open" yaml:"max_open"`
	MaxLifetime int    `mapstructure:"max_lifetime" yaml:"max_lifetime"` // 秒
	LogLevel    string `mapstructure:"log_level" yaml:"log_level"`       // silent/error/warn/info
	AutoMigrate bool   `mapstructure:"auto_migrate" yaml:"auto_migrate"` // 启动时建表，仅开发环境
}

// GormConfig 各个 driver 共用；唯一键冲突翻译成 gorm.ErrDuplicatedKey，仓储层靠它判断幂等
func GormConfig(level string) *gorm.Config {
	return &gorm.Config{
		Logger:         logger.Default.LogMode(logLevel(level)),
		TranslateError: true,
	}
}

// NewMySQL 打开连接池；gorm.Open 会 ping 一次
func NewMySQL(c *Config) (*gorm.DB, error) {
	db, err := gorm.Open(mysql.Open(c.DSN), GormConfig(c.LogLevel))
	if err != nil {
		return nil, fmt.Errorf("open mysql: %w", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("mysql handle: %w", err)
	}
	maxOpen := c.MaxOpen
	if maxOpen <= 0 {
		maxOpen = 50
	}
	maxIdle := c.MaxIdle
	if maxIdle <= 0 || maxIdle > maxOpen {
		maxIdle = min(10, maxOpen)
	}
	lifetime := time.Duration(c.MaxLifetime) * time.Second
	if lifetime <= 0 {
		lifetime = time.Hour
	}
	sqlDB.SetMaxOpenConns(maxOpen)
	sqlDB.SetMaxIdleConns(maxIdle)
	sqlDB.SetConnMaxLifetime(lifetime)
	return db, nil
}

func logLevel(s string) logger.LogLevel {
	switch s {
	case "silent":
		return logger.Silent
	case "error":
		return logger.Error
	case "info":
		return logger.Info
	default:
		return logger.Warn
	}
}
