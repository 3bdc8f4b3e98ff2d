package migrations

import (
	"gorm.io/gorm"
)

// Migration002RoundOutcomeIndex 为按结果统计添加索引
type Migration002RoundOutcomeIndex struct{}

func (m *Migration002RoundOutcomeIndex) Version() string {
	return "002_round_outcome_index"
}

func (m *Migration002RoundOutcomeIndex) Description() string {
	return "Index evaluation_rounds by outcome for stats queries"
}

func (m *Migration002RoundOutcomeIndex) Up(db *gorm.DB) error {
	return db.Exec(`CREATE INDEX IF NOT EXISTS idx_evaluation_rounds_outcome ON evaluation_rounds(outcome)`).Error
}

func (m *Migration002RoundOutcomeIndex) Down(db *gorm.DB) error {
	return db.Exec(`DROP INDEX IF EXISTS idx_evaluation_rounds_outcome`).Error
}
