package posts

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

type sequenceIDProvider struct {
	mu     sync.Mutex
	prefix string
	next   int
}

func (p *sequenceIDProvider) NewID() (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.next++
	return fmt.Sprintf("%s-%03d", p.prefix, p.next), nil
}

func openTestDatabase(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "posts.db")), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("failed to access sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	if err := db.AutoMigrate(&Post{}, &Reply{}); err != nil {
		t.Fatalf("failed to migrate schema: %v", err)
	}
	return db
}

func newTestService(t *testing.T, mode CounterMode) (*Service, *gorm.DB) {
	t.Helper()
	db := openTestDatabase(t)
	clockBase := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	var clockMu sync.Mutex
	ticks := 0
	service, err := NewService(ServiceConfig{
		Database:    db,
		IDProvider:  &sequenceIDProvider{prefix: "rec"},
		CounterMode: mode,
		Clock: func() time.Time {
			clockMu.Lock()
			defer clockMu.Unlock()
			ticks++
			return clockBase.Add(time.Duration(ticks) * time.Second)
		},
	})
	if err != nil {
		t.Fatalf("failed to construct service: %v", err)
	}
	return service, db
}

func mustCreatePost(t *testing.T, service *Service, input PostInput) Post {
	t.Helper()
	post, err := service.CreatePost(context.Background(), input)
	if err != nil {
		t.Fatalf("unexpected create post error: %v", err)
	}
	return post
}

func priyaPost() PostInput {
	return PostInput{
		NeighborID:   "neighbor-priya",
		Nickname:     "Priya",
		Neighborhood: "Oak Street",
		Offer:        "Fixing sinks",
		Need:         "Moving boxes",
	}
}
