package migrations

import (
	"gorm.io/gorm"
)

// Migration001EvaluationRounds 创建评估轮次表
type Migration001EvaluationRounds struct{}

func (m *Migration001EvaluationRounds) Version() string {
	return "001_evaluation_rounds"
}

func (m *Migration001EvaluationRounds) Description() string {
	return "Create evaluation_rounds history table"
}

func (m *Migration001EvaluationRounds) Up(db *gorm.DB) error {
	if err := db.Exec(`
		CREATE TABLE IF NOT EXISTS evaluation_rounds (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			session_id VARCHAR(64) NOT NULL,
			outcome VARCHAR(32) NOT NULL,
			record_key VARCHAR(64),
			rate INTEGER DEFAULT 0,
			fragments INTEGER DEFAULT 0,
			response_bytes INTEGER DEFAULT 0,
			duration_ms INTEGER DEFAULT 0,
			detail JSON,
			created_at DATETIME NOT NULL
		)
	`).Error; err != nil {
		return err
	}

	if err := db.Exec(`CREATE INDEX IF NOT EXISTS idx_evaluation_rounds_session_id ON evaluation_rounds(session_id)`).Error; err != nil {
		return err
	}
	return db.Exec(`CREATE INDEX IF NOT EXISTS idx_evaluation_rounds_created_at ON evaluation_rounds(created_at)`).Error
}

func (m *Migration001EvaluationRounds) Down(db *gorm.DB) error {
	return db.Exec(`DROP TABLE IF EXISTS evaluation_rounds`).Error
}
