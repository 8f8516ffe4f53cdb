package database

import (
	"context"
	"errors"
	"time"

	"github.com/MarcoPoloResearchLab/neighborly/backend/internal/posts"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	migrationCreateUserStatsView   = "2026-10-01_create_user_stats_view"
	migrationRepairPostReplyCounts = "2026-10-02_repair_post_reply_counts"
)

// The owner key mirrors posts.OwnerKey: neighbor id when present, otherwise nickname.
const userStatsViewQuery = `SELECT owner, CAST(SUM(post_count) AS BIGINT) AS post_count, CAST(SUM(reply_count) AS BIGINT) AS reply_count FROM (
	SELECT COALESCE(NULLIF(neighbor_id, ''), nickname) AS owner, COUNT(*) AS post_count, 0 AS reply_count
	FROM posts GROUP BY COALESCE(NULLIF(neighbor_id, ''), nickname)
	UNION ALL
	SELECT COALESCE(NULLIF(neighbor_id, ''), nickname) AS owner, 0 AS post_count, COUNT(*) AS reply_count
	FROM replies GROUP BY COALESCE(NULLIF(neighbor_id, ''), nickname)
) AS tallies GROUP BY owner`

type migrationRecord struct {
	Name             string `gorm:"column:name;primaryKey;size:190;not null"`
	AppliedAtSeconds int64  `gorm:"column:applied_at_s;not null"`
}

func (migrationRecord) TableName() string {
	return "db_migrations"
}

type migrationDefinition struct {
	name  string
	apply func(*gorm.DB) error
}

func applyMigrations(db *gorm.DB, logger *zap.Logger) error {
	migrations := []migrationDefinition{
		{name: migrationCreateUserStatsView, apply: createUserStatsView},
		{name: migrationRepairPostReplyCounts, apply: repairPostReplyCounts},
	}

	for _, migration := range migrations {
		var record migrationRecord
		err := db.Where("name = ?", migration.name).Take(&record).Error
		if err == nil {
			continue
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		if err := migration.apply(db); err != nil {
			return err
		}
		appliedAt := time.Now().UTC().Unix()
		if err := db.Create(&migrationRecord{Name: migration.name, AppliedAtSeconds: appliedAt}).Error; err != nil {
			return err
		}
		if logger != nil {
			logger.Info("database migration applied", zap.String("migration", migration.name))
		}
	}
	return nil
}

func createUserStatsView(db *gorm.DB) error {
	if err := db.Exec("DROP VIEW IF EXISTS " + posts.UserStatsView).Error; err != nil {
		return err
	}
	return db.Exec("CREATE VIEW " + posts.UserStatsView + " AS " + userStatsViewQuery).Error
}

func repairPostReplyCounts(db *gorm.DB) error {
	return RecomputeReplyCounts(context.Background(), db)
}

// RecomputeReplyCounts rewrites every post's reply_count from the replies table.
func RecomputeReplyCounts(ctx context.Context, db *gorm.DB) error {
	recount := db.Model(&posts.Reply{}).Select("COUNT(*)").Where("replies.post_id = posts.id")
	return db.WithContext(ctx).
		Session(&gorm.Session{AllowGlobalUpdate: true}).
		Model(&posts.Post{}).
		UpdateColumn("reply_count", recount).Error
}
