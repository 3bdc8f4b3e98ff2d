package storage

import (
	stderrors "errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"camrate-server-go/internal/platform/errors"
	"camrate-server-go/internal/platform/storage/migrations"
)

// Migration 数据库迁移接口
type Migration = migrations.Migration

// MigrationRecord 迁移记录
type MigrationRecord struct {
	ID        uint      `gorm:"primaryKey"`
	Version   string    `gorm:"uniqueIndex;not null"`
	Name      string    `gorm:"not null"`
	AppliedAt time.Time `gorm:"not null"`
}

// MigrationManager 迁移管理器
type MigrationManager struct {
	db         *gorm.DB
	migrations []Migration
}

// NewMigrationManager 创建迁移管理器
func NewMigrationManager(db *gorm.DB) *MigrationManager {
	return &MigrationManager{db: db}
}

// AddMigration 添加迁移
func (m *MigrationManager) AddMigration(migration Migration) {
	m.migrations = append(m.migrations, migration)
}

func (m *MigrationManager) applied() (map[string]bool, error) {
	if err := m.db.AutoMigrate(&MigrationRecord{}); err != nil {
		return nil, errors.Wrap(errors.KindStorage, "migration.create_table", "failed to create migration table", err)
	}

	var versions []string
	if err := m.db.Model(&MigrationRecord{}).Pluck("version", &versions).Error; err != nil {
		return nil, errors.Wrap(errors.KindStorage, "migration.get_applied", "failed to get applied migrations", err)
	}

	set := make(map[string]bool, len(versions))
	for _, v := range versions {
		set[v] = true
	}
	return set, nil
}

// Pending 返回尚未应用的迁移版本
func (m *MigrationManager) Pending() ([]string, error) {
	set, err := m.applied()
	if err != nil {
		return nil, err
	}
	var pending []string
	for _, migration := range m.migrations {
		if !set[migration.Version()] {
			pending = append(pending, migration.Version())
		}
	}
	return pending, nil
}

// RunMigrations 在各自的事务中执行所有待应用的迁移
func (m *MigrationManager) RunMigrations() error {
	set, err := m.applied()
	if err != nil {
		return err
	}

	for _, migration := range m.migrations {
		if set[migration.Version()] {
			continue
		}

		err := m.db.Transaction(func(tx *gorm.DB) error {
			if err := migration.Up(tx); err != nil {
				return errors.Wrap(errors.KindStorage, "migration.up", fmt.Sprintf("failed to run migration %s", migration.Version()), err)
			}
			record := &MigrationRecord{
				Version:   migration.Version(),
				Name:      migration.Description(),
				AppliedAt: time.Now(),
			}
			if err := tx.Create(record).Error; err != nil {
				return errors.Wrap(errors.KindStorage, "migration.record", "failed to record migration", err)
			}
			return nil
		})
		if err != nil {
			return err
		}
	}

	return nil
}

// RollbackMigration 回滚指定版本的迁移
func (m *MigrationManager) RollbackMigration(version string) error {
	var record MigrationRecord
	if err := m.db.Where("version = ?", version).First(&record).Error; err != nil {
		if stderrors.Is(err, gorm.ErrRecordNotFound) {
			return errors.New(errors.KindStorage, "migration.not_found", fmt.Sprintf("migration %s not found", version))
		}
		return errors.Wrap(errors.KindStorage, "migration.find_record", "failed to find migration record", err)
	}

	var target Migration
	for _, migration := range m.migrations {
		if migration.Version() == version {
			target = migration
			break
		}
	}
	if target == nil {
		return errors.New(errors.KindStorage, "migration.not_registered", fmt.Sprintf("migration %s not registered", version))
	}

	return m.db.Transaction(func(tx *gorm.DB) error {
		if err := target.Down(tx); err != nil {
			return errors.Wrap(errors.KindStorage, "migration.down", fmt.Sprintf("failed to rollback migration %s", version), err)
		}
		if err := tx.Delete(&record).Error; err != nil {
			return errors.Wrap(errors.KindStorage, "migration.delete_record", "failed to delete migration record", err)
		}
		return nil
	})
}

// GetMigrationHistory 获取迁移历史
func (m *MigrationManager) GetMigrationHistory() ([]MigrationRecord, error) {
	var records []MigrationRecord
	if err := m.db.Order("applied_at DESC").Find(&records).Error; err != nil {
		return nil, errors.Wrap(errors.KindStorage, "migration.history", "failed to get migration history", err)
	}
	return records, nil
}
