package database

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/neighborly/backend/internal/posts"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func openTestStore(testContext *testing.T) *gorm.DB {
	testContext.Helper()
	database, err := OpenSQLite(filepath.Join(testContext.TempDir(), "migration.db"), zap.NewNop())
	if err != nil {
		testContext.Fatalf("failed to open sqlite: %v", err)
	}
	sqlDB, err := database.DB()
	if err != nil {
		testContext.Fatalf("failed to access sql db: %v", err)
	}
	testContext.Cleanup(func() { _ = sqlDB.Close() })
	return database
}

func seedBoard(testContext *testing.T, database *gorm.DB) {
	testContext.Helper()
	createdAt := time.Date(2026, 2, 1, 12, 0, 0, 0, time.UTC)
	records := []any{
		&posts.Post{ID: "post-1", NeighborID: "n-priya", Nickname: "Priya", Neighborhood: "Oak Street", Offer: "Fixing sinks", Need: "Moving boxes", CreatedAt: createdAt, ReplyCount: 7},
		&posts.Post{ID: "post-2", NeighborID: "n-priya", Nickname: "Priya P.", Neighborhood: "Oak Street", Offer: "Tutoring", Need: "Ladder", CreatedAt: createdAt.Add(time.Minute)},
		&posts.Post{ID: "post-3", Nickname: "Legacy", Neighborhood: "Elm St", Offer: "Baking bread", Need: "Jam jars", CreatedAt: createdAt.Add(2 * time.Minute)},
		&posts.Reply{ID: "reply-1", PostID: "post-1", NeighborID: "n-sam", Nickname: "Sam", Neighborhood: "Elm St", Content: "I can help!", CreatedAt: createdAt.Add(3 * time.Minute)},
		&posts.Reply{ID: "reply-2", PostID: "post-1", Nickname: "Legacy", Neighborhood: "Elm St", Content: "Me too", CreatedAt: createdAt.Add(4 * time.Minute)},
	}
	for _, record := range records {
		if err := database.Create(record).Error; err != nil {
			testContext.Fatalf("failed to seed record: %v", err)
		}
	}
}

func TestApplyMigrationsRepairsReplyCounts(testContext *testing.T) {
	database := openTestStore(testContext)
	seedBoard(testContext, database)

	if err := database.Where("name = ?", migrationRepairPostReplyCounts).Delete(&migrationRecord{}).Error; err != nil {
		testContext.Fatalf("failed to reset migration record: %v", err)
	}
	if err := applyMigrations(database, zap.NewNop()); err != nil {
		testContext.Fatalf("failed to apply migrations: %v", err)
	}

	var stored posts.Post
	if err := database.Where("id = ?", "post-1").Take(&stored).Error; err != nil {
		testContext.Fatalf("failed to reload post: %v", err)
	}
	if stored.ReplyCount != 2 {
		testContext.Fatalf("expected reply count to be recomputed to 2, got %d", stored.ReplyCount)
	}

	var record migrationRecord
	if err := database.Where("name = ?", migrationRepairPostReplyCounts).Take(&record).Error; err != nil {
		testContext.Fatalf("expected migration record to be created: %v", err)
	}
	if record.AppliedAtSeconds == 0 {
		testContext.Fatalf("expected migration timestamp to be set")
	}
}

func TestUserStatsViewMatchesRecomputation(testContext *testing.T) {
	database := openTestStore(testContext)
	seedBoard(testContext, database)

	var rows []posts.UserStats
	if err := database.Table(posts.UserStatsView).Order("owner ASC").Find(&rows).Error; err != nil {
		testContext.Fatalf("failed to read stats view: %v", err)
	}

	want := map[string]posts.UserStats{
		"n-priya": {Owner: "n-priya", PostCount: 2, ReplyCount: 0},
		"Legacy":  {Owner: "Legacy", PostCount: 1, ReplyCount: 1},
		"n-sam":   {Owner: "n-sam", PostCount: 0, ReplyCount: 1},
	}
	if len(rows) != len(want) {
		testContext.Fatalf("expected %d stats rows, got %#v", len(want), rows)
	}
	for _, row := range rows {
		if want[row.Owner] != row {
			testContext.Fatalf("unexpected stats row %#v", row)
		}
	}
}

func TestRecomputeReplyCountsResetsOrphanedCounters(testContext *testing.T) {
	database := openTestStore(testContext)
	seedBoard(testContext, database)
	if err := database.Model(&posts.Post{ID: "post-3"}).UpdateColumn("reply_count", 4).Error; err != nil {
		testContext.Fatalf("failed to corrupt counter: %v", err)
	}

	if err := RecomputeReplyCounts(context.Background(), database); err != nil {
		testContext.Fatalf("recompute failed: %v", err)
	}

	var stored []posts.Post
	if err := database.Order("id ASC").Find(&stored).Error; err != nil {
		testContext.Fatalf("failed to load posts: %v", err)
	}
	expected := map[string]int64{"post-1": 2, "post-2": 0, "post-3": 0}
	for _, post := range stored {
		if post.ReplyCount != expected[post.ID] {
			testContext.Fatalf("post %s: expected %d replies, got %d", post.ID, expected[post.ID], post.ReplyCount)
		}
	}
}

func TestOpenRejectsUnknownDriver(testContext *testing.T) {
	if _, err := Open(Config{Driver: "oracle", Path: "x.db"}, nil); err == nil {
		testContext.Fatalf("expected unknown driver error")
	}
	if _, err := Open(Config{Driver: DriverPostgres}, nil); err == nil {
		testContext.Fatalf("expected missing dsn error")
	}
}
