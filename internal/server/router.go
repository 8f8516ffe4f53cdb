package server

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/neighborly/backend/internal/changefeed"
	"github.com/MarcoPoloResearchLab/neighborly/backend/internal/feed"
	"github.com/MarcoPoloResearchLab/neighborly/backend/internal/posts"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	defaultCookieName        = "neighborly_neighbor_id"
	defaultHeartbeatInterval = 25 * time.Second
)

var (
	errMissingSubmissions = errors.New("submission service dependency required")
	errMissingFeedLoader  = errors.New("feed loader dependency required")
)

type SubmissionService interface {
	Submit(ctx context.Context, submission posts.Submission) (posts.SubmissionResult, error)
}

// FeedSnapshotter serves the shared default-page feed, typically a feed.Reconciler.
type FeedSnapshotter interface {
	Snapshot(ctx context.Context) (feed.Feed, error)
}

type ChangeSubscriber interface {
	Subscribe(ctx context.Context, topics ...string) (<-chan changefeed.Event, func())
}

type Dependencies struct {
	Submissions SubmissionService
	Feed        feed.Loader
	// Snapshots serves requests without a limit. Optional.
	Snapshots FeedSnapshotter
	// Changes backs the stream and websocket routes, which are omitted when nil.
	Changes           ChangeSubscriber
	Logger            *zap.Logger
	CookieName        string
	AllowedOrigins    []string
	HeartbeatInterval time.Duration
	// Shutdown ends open streams when closed, so server shutdown can drain them.
	Shutdown <-chan struct{}
}

func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.Submissions == nil {
		return nil, errMissingSubmissions
	}
	if deps.Feed == nil {
		return nil, errMissingFeedLoader
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	cookieName := strings.TrimSpace(deps.CookieName)
	if cookieName == "" {
		cookieName = defaultCookieName
	}
	heartbeat := deps.HeartbeatInterval
	if heartbeat <= 0 {
		heartbeat = defaultHeartbeatInterval
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(corsMiddleware(deps.AllowedOrigins))

	handler := &httpHandler{
		submissions: deps.Submissions,
		loader:      deps.Feed,
		snapshots:   deps.Snapshots,
		changes:     deps.Changes,
		logger:      logger,
		cookieName:  cookieName,
		heartbeat:   heartbeat,
		upgrader:    newUpgrader(),
		shutdown:    deps.Shutdown,
	}

	api := router.Group("/api")
	api.POST("/post", handler.handleSubmit)
	api.GET("/identity", handler.handleIdentity)
	api.GET("/feed", handler.handleFeed)
	if deps.Changes != nil {
		api.GET("/feed/stream", handler.handleFeedStream)
		api.GET("/feed/ws", handler.handleFeedSocket)
	}

	return router, nil
}

func corsMiddleware(origins []string) gin.HandlerFunc {
	allowed := make([]string, 0, len(origins))
	wildcard := len(origins) == 0
	for _, origin := range origins {
		trimmed := strings.TrimSpace(origin)
		if trimmed == "" {
			continue
		}
		if trimmed == "*" {
			wildcard = true
		}
		allowed = append(allowed, trimmed)
	}
	cfg := cors.Config{
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowHeaders: []string{"Content-Type", "Last-Event-ID"},
		MaxAge:       12 * time.Hour,
	}
	if wildcard {
		cfg.AllowAllOrigins = true
	} else {
		// The identity cookie only travels on credentialed requests from listed origins.
		cfg.AllowOrigins = allowed
		cfg.AllowCredentials = true
	}
	return cors.New(cfg)
}

type httpHandler struct {
	submissions SubmissionService
	loader      feed.Loader
	snapshots   FeedSnapshotter
	changes     ChangeSubscriber
	logger      *zap.Logger
	cookieName  string
	heartbeat   time.Duration
	upgrader    websocket.Upgrader
	shutdown    <-chan struct{}
}
