package server

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/neighborly/backend/internal/changefeed"
	"github.com/MarcoPoloResearchLab/neighborly/backend/internal/database"
	"github.com/MarcoPoloResearchLab/neighborly/backend/internal/feed"
	"github.com/MarcoPoloResearchLab/neighborly/backend/internal/posts"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type sequenceIDProvider struct {
	mu   sync.Mutex
	next int
}

func (p *sequenceIDProvider) NewID() (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.next++
	return fmt.Sprintf("rec-%03d", p.next), nil
}

type testStack struct {
	db         *gorm.DB
	dispatcher *changefeed.Dispatcher
	aggregator *feed.Aggregator
	handler    http.Handler
}

func newTestStack(t *testing.T, configure func(*Dependencies)) testStack {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db, err := database.OpenSQLite(filepath.Join(t.TempDir(), "server.db"), zap.NewNop())
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("failed to access sql db: %v", err)
	}
	t.Cleanup(func() { _ = sqlDB.Close() })

	dispatcher := changefeed.NewDispatcher()
	if err := db.Use(changefeed.NewPlugin(dispatcher, posts.CollectionPosts, posts.CollectionReplies)); err != nil {
		t.Fatalf("failed to register change feed: %v", err)
	}

	base := time.Date(2026, 5, 9, 10, 0, 0, 0, time.UTC)
	var clockMu sync.Mutex
	ticks := 0
	service, err := posts.NewService(posts.ServiceConfig{
		Database:   db,
		IDProvider: &sequenceIDProvider{},
		Clock: func() time.Time {
			clockMu.Lock()
			defer clockMu.Unlock()
			ticks++
			return base.Add(time.Duration(ticks) * time.Second)
		},
	})
	if err != nil {
		t.Fatalf("failed to construct posts service: %v", err)
	}
	aggregator, err := feed.NewAggregator(feed.AggregatorConfig{Database: db, RepairCounters: true})
	if err != nil {
		t.Fatalf("failed to construct aggregator: %v", err)
	}

	deps := Dependencies{
		Submissions: service,
		Feed:        aggregator,
		Changes:     dispatcher,
		Logger:      zap.NewNop(),
	}
	if configure != nil {
		configure(&deps)
	}
	handler, err := NewHTTPHandler(deps)
	if err != nil {
		t.Fatalf("failed to construct http handler: %v", err)
	}
	return testStack{db: db, dispatcher: dispatcher, aggregator: aggregator, handler: handler}
}

func (s testStack) do(t *testing.T, method, target string, body any, cookies ...*http.Cookie) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	switch value := body.(type) {
	case nil:
		reader = bytes.NewReader(nil)
	case string:
		reader = bytes.NewReader([]byte(value))
	default:
		encoded, err := json.Marshal(value)
		if err != nil {
			t.Fatalf("failed to encode body: %v", err)
		}
		reader = bytes.NewReader(encoded)
	}
	request := httptest.NewRequest(method, target, reader)
	if body != nil {
		request.Header.Set("Content-Type", "application/json")
	}
	for _, cookie := range cookies {
		request.AddCookie(cookie)
	}
	recorder := httptest.NewRecorder()
	s.handler.ServeHTTP(recorder, request)
	return recorder
}

func decodeBody(t *testing.T, recorder *httptest.ResponseRecorder, target any) {
	t.Helper()
	if err := json.Unmarshal(recorder.Body.Bytes(), target); err != nil {
		t.Fatalf("failed to decode response %q: %v", recorder.Body.String(), err)
	}
}

type errorBody struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

type submitBody struct {
	Success bool         `json:"success"`
	Post    *posts.Post  `json:"post"`
	Reply   *posts.Reply `json:"reply"`
}

func priyaPayload() map[string]string {
	return map[string]string{
		"nickname":     "Priya",
		"neighborhood": "Oak Street",
		"offer":        "Fixing sinks",
		"need":         "Moving boxes",
	}
}
