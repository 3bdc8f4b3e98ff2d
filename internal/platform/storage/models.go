package storage

import (
	"time"

	"gorm.io/datatypes"
)

// EvaluationRound 一次评估轮次的持久化记录
type EvaluationRound struct {
	ID            uint   `gorm:"primaryKey"`
	SessionID     string `gorm:"type:varchar(64);index;not null"`
	Outcome       string `gorm:"type:varchar(32);index;not null"`
	RecordKey     string `gorm:"type:varchar(64)"`
	Rate          int
	Fragments     int
	ResponseBytes int
	DurationMS    int64 `gorm:"column:duration_ms"`
	Detail        datatypes.JSON
	CreatedAt     time.Time `gorm:"index"`
}

// TableName 固定表名，与迁移保持一致
func (EvaluationRound) TableName() string {
	return "evaluation_rounds"
}
