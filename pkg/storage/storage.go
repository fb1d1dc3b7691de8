// Package storage 根据配置选择会话历史的持久化后端。
package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/IMBotPlatform/StreamChat/pkg/chat"
)

// ErrUnsupportedDriver 表示 store.driver 无法识别。
var ErrUnsupportedDriver = errors.New("unsupported store driver")

// 支持的驱动名。
const (
	DriverMemory = "memory"
	DriverFile   = "file"
	DriverSQLite = "sqlite"
	DriverMySQL  = "mysql"
	DriverRedis  = "redis"
)

// Config 描述历史存储后端。
type Config struct {
	Driver string      `yaml:"driver"`
	Dir    string      `yaml:"dir,omitempty"` // file 驱动的目录
	DSN    string      `yaml:"dsn,omitempty"` // sqlite 路径或 mysql DSN
	Redis  RedisConfig `yaml:"redis,omitempty"`
}

// RedisConfig 为 redis 驱动的连接参数。
type RedisConfig struct {
	Addr     string        `yaml:"addr"`
	Username string        `yaml:"username,omitempty"`
	Password string        `yaml:"password,omitempty"`
	DB       int           `yaml:"db,omitempty"`
	Prefix   string        `yaml:"prefix,omitempty"`
	TTL      time.Duration `yaml:"ttl,omitempty"` // 0 表示不过期
}

// Validate 检查驱动名及其必填字段。
func (c Config) Validate() error {
	switch normalizeDriver(c.Driver) {
	case DriverMemory:
		return nil
	case DriverFile:
		if c.Dir == "" {
			return errors.New("store.dir is required for file driver")
		}
	case DriverSQLite, DriverMySQL:
		if c.DSN == "" {
			return fmt.Errorf("store.dsn is required for %s driver", c.Driver)
		}
	case DriverRedis:
		if c.Redis.Addr == "" {
			return errors.New("store.redis.addr is required for redis driver")
		}
	default:
		return fmt.Errorf("%w: %s", ErrUnsupportedDriver, c.Driver)
	}
	return nil
}

// Open 按驱动创建 chat.Store，返回的 close 函数释放底层连接。
//
// Driver -> (memory|file) -> 直接构造
//
//	   |
//	(sqlite|mysql) -> sql.Open -> Ping -> Migrate
//	   |
//	(redis) -> NewClient -> Ping
func Open(ctx context.Context, cfg Config, logger *zap.Logger) (chat.Store, func() error, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	noop := func() error { return nil }
	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}

	driver := normalizeDriver(cfg.Driver)
	logger.Info("opening history store", zap.String("driver", driver))
	switch driver {
	case DriverMemory:
		return chat.NewMemoryStore(), noop, nil
	case DriverFile:
		st, err := chat.NewFileStore(cfg.Dir, logger)
		if err != nil {
			return nil, nil, err
		}
		return st, noop, nil
	case DriverSQLite, DriverMySQL:
		st, err := OpenSQL(ctx, driver, cfg.DSN)
		if err != nil {
			return nil, nil, err
		}
		return st, st.Close, nil
	case DriverRedis:
		st, err := OpenRedis(ctx, cfg.Redis)
		if err != nil {
			return nil, nil, err
		}
		return st, st.Close, nil
	}
	return nil, nil, fmt.Errorf("%w: %s", ErrUnsupportedDriver, cfg.Driver)
}

func normalizeDriver(d string) string {
	d = strings.ToLower(strings.TrimSpace(d))
	switch d {
	case "", "mem":
		return DriverMemory
	case "sqlite3":
		return DriverSQLite
	}
	return d
}
