package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"camrate-server-go/internal/platform/errors"
	"camrate-server-go/internal/platform/storage/migrations"
)

// Config 数据库连接配置
type Config struct {
	DSN string
	// MaxOpenConns 为 0 时使用 1，sqlite 单写者
	MaxOpenConns int
}

// Open 打开 sqlite 数据库并执行全部迁移
func Open(cfg Config) (*gorm.DB, error) {
	dsn := strings.TrimSpace(cfg.DSN)
	if dsn == "" {
		return nil, errors.New(errors.KindStorage, "storage.open", "database dsn is empty")
	}

	if !isMemoryDSN(dsn) {
		dir := filepath.Dir(pathPart(dsn))
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, errors.Wrap(errors.KindStorage, "storage.mkdir", fmt.Sprintf("failed to create data directory %s", dir), err)
		}
	}

	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:  logger.Default.LogMode(logger.Silent),
		NowFunc: func() time.Time { return time.Now().UTC() },
	})
	if err != nil {
		return nil, errors.Wrap(errors.KindStorage, "storage.open", "failed to open database", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, errors.Wrap(errors.KindStorage, "storage.pool", "failed to access connection pool", err)
	}
	maxOpen := cfg.MaxOpenConns
	if maxOpen <= 0 {
		maxOpen = 1
	}
	sqlDB.SetMaxOpenConns(maxOpen)

	manager := NewMigrationManager(db)
	for _, m := range migrations.All() {
		manager.AddMigration(m)
	}
	if err := manager.RunMigrations(); err != nil {
		_ = sqlDB.Close()
		return nil, err
	}

	return db, nil
}

// Close 关闭底层连接
func Close(db *gorm.DB) error {
	if db == nil {
		return nil
	}
	sqlDB, err := db.DB()
	if err != nil {
		return errors.Wrap(errors.KindStorage, "storage.close", "failed to access connection pool", err)
	}
	return sqlDB.Close()
}

func isMemoryDSN(dsn string) bool {
	return strings.Contains(dsn, ":memory:") || strings.Contains(dsn, "mode=memory")
}

func pathPart(dsn string) string {
	dsn = strings.TrimPrefix(dsn, "file:")
	if idx := strings.IndexByte(dsn, '?'); idx >= 0 {
		dsn = dsn[:idx]
	}
	return dsn
}
