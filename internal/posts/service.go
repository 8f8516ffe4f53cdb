package posts

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	errMissingDatabase   = errors.New("database handle is required")
	errMissingIDProvider = errors.New("id provider is required")
	errUnknownCounter    = errors.New("unknown counter mode")
	noOpLogger           = zap.NewNop()
)

const (
	opServiceNew  = "posts.service.new"
	opCreatePost  = "posts.create_post"
	opCreateReply = "posts.create_reply"

	fieldPostID     = "post_id"
	fieldNeighborID = "neighbor_id"
	columnReplyCnt  = "reply_count"
	queryPostID     = "id = ?"
)

// CounterMode selects how the parent post's reply counter is advanced.
type CounterMode string

const (
	// CounterModeAtomic issues reply_count = reply_count + 1 in the store.
	CounterModeAtomic CounterMode = "atomic"
	// CounterModeReadWrite reads the counter and writes the incremented value back.
	// Concurrent replies to one post can under-count in this mode.
	CounterModeReadWrite CounterMode = "read_write"
)

// ParseCounterMode validates a configured counter mode.
func ParseCounterMode(value string) (CounterMode, error) {
	switch CounterMode(strings.ToLower(strings.TrimSpace(value))) {
	case CounterModeAtomic, "":
		return CounterModeAtomic, nil
	case CounterModeReadWrite:
		return CounterModeReadWrite, nil
	default:
		return "", fmt.Errorf("%w: %q", errUnknownCounter, value)
	}
}

type IDProvider interface {
	NewID() (string, error)
}

type ServiceConfig struct {
	Database    *gorm.DB
	Clock       func() time.Time
	IDProvider  IDProvider
	CounterMode CounterMode
	Logger      *zap.Logger
}

// Service writes posts and replies and keeps the denormalized reply counter current.
type Service struct {
	db          *gorm.DB
	clock       func() time.Time
	idProvider  IDProvider
	counterMode CounterMode
	logger      *zap.Logger
}

func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, newServiceError(opServiceNew, "missing_database", ErrStore, errMissingDatabase)
	}
	if cfg.IDProvider == nil {
		return nil, newServiceError(opServiceNew, "missing_id_provider", ErrStore, errMissingIDProvider)
	}

	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}

	counterMode, err := ParseCounterMode(string(cfg.CounterMode))
	if err != nil {
		return nil, newServiceError(opServiceNew, "invalid_counter_mode", ErrValidation, err)
	}

	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}

	return &Service{
		db:          cfg.Database,
		clock:       clock,
		idProvider:  cfg.IDProvider,
		counterMode: counterMode,
		logger:      logger,
	}, nil
}

// Submit dispatches to CreateReply when a post id is present and to CreatePost otherwise.
func (s *Service) Submit(ctx context.Context, submission Submission) (SubmissionResult, error) {
	if submission.IsReply() {
		reply, err := s.CreateReply(ctx, submission.ReplyInput())
		if err != nil {
			return SubmissionResult{}, err
		}
		return SubmissionResult{Reply: &reply}, nil
	}
	post, err := s.CreatePost(ctx, submission.PostInput())
	if err != nil {
		return SubmissionResult{}, err
	}
	return SubmissionResult{Post: &post}, nil
}

// CreatePost validates and stores a new post with a zero reply count.
func (s *Service) CreatePost(ctx context.Context, input PostInput) (Post, error) {
	if s.db == nil {
		s.logError(opCreatePost, "missing_database", errMissingDatabase)
		return Post{}, newServiceError(opCreatePost, "missing_database", ErrStore, errMissingDatabase)
	}

	normalized, err := input.normalize()
	if err != nil {
		return Post{}, newServiceError(opCreatePost, "invalid_input", ErrValidation, err)
	}

	postID, err := s.idProvider.NewID()
	if err != nil {
		s.logError(opCreatePost, "id_generation_failed", err)
		return Post{}, newServiceError(opCreatePost, "id_generation_failed", ErrStore, err)
	}

	post := Post{
		ID:           postID,
		NeighborID:   normalized.NeighborID,
		Nickname:     normalized.Nickname,
		Neighborhood: normalized.Neighborhood,
		Offer:        normalized.Offer,
		Need:         normalized.Need,
		CreatedAt:    s.clock().UTC(),
		ReplyCount:   0,
	}
	if err := s.db.WithContext(ctx).Create(&post).Error; err != nil {
		s.logError(opCreatePost, "insert_failed", err,
			zap.String(fieldPostID, post.ID),
			zap.String(fieldNeighborID, post.NeighborID))
		return Post{}, newServiceError(opCreatePost, "insert_failed", ErrStore, err)
	}

	return post, nil
}

// CreateReply stores a reply and then advances the parent post's reply counter.
// A counter failure after the reply is stored is logged and tolerated; the counter is
// recomputed from the replies table on the next feed load.
func (s *Service) CreateReply(ctx context.Context, input ReplyInput) (Reply, error) {
	if s.db == nil {
		s.logError(opCreateReply, "missing_database", errMissingDatabase)
		return Reply{}, newServiceError(opCreateReply, "missing_database", ErrStore, errMissingDatabase)
	}

	normalized, err := input.normalize()
	if err != nil {
		return Reply{}, newServiceError(opCreateReply, "invalid_input", ErrValidation, err)
	}

	db := s.db.WithContext(ctx)

	var parent Post
	err = db.Select("id").Where(queryPostID, normalized.PostID).Take(&parent).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Reply{}, newServiceError(opCreateReply, "post_not_found", ErrNotFound, err)
	}
	if err != nil {
		s.logError(opCreateReply, "post_lookup_failed", err, zap.String(fieldPostID, normalized.PostID))
		return Reply{}, newServiceError(opCreateReply, "post_lookup_failed", ErrStore, err)
	}

	replyID, err := s.idProvider.NewID()
	if err != nil {
		s.logError(opCreateReply, "id_generation_failed", err, zap.String(fieldPostID, normalized.PostID))
		return Reply{}, newServiceError(opCreateReply, "id_generation_failed", ErrStore, err)
	}

	reply := Reply{
		ID:           replyID,
		PostID:       normalized.PostID,
		NeighborID:   normalized.NeighborID,
		Nickname:     normalized.Nickname,
		Neighborhood: normalized.Neighborhood,
		Content:      normalized.Content,
		CreatedAt:    s.clock().UTC(),
	}
	if err := db.Create(&reply).Error; err != nil {
		s.logError(opCreateReply, "insert_failed", err,
			zap.String(fieldPostID, reply.PostID),
			zap.String(fieldNeighborID, reply.NeighborID))
		return Reply{}, newServiceError(opCreateReply, "insert_failed", ErrStore, err)
	}

	if err := s.incrementReplyCount(db, reply.PostID); err != nil {
		s.loggerOrDefault().Warn("reply counter increment failed",
			zap.String("operation", opCreateReply),
			zap.String("counter_mode", string(s.counterMode)),
			zap.String(fieldPostID, reply.PostID),
			zap.Error(err))
	}

	return reply, nil
}

func (s *Service) incrementReplyCount(db *gorm.DB, postID string) error {
	target := &Post{ID: postID}
	if s.counterMode == CounterModeReadWrite {
		var current Post
		if err := db.Select("id", columnReplyCnt).Where(queryPostID, postID).Take(&current).Error; err != nil {
			return err
		}
		return db.Model(target).UpdateColumn(columnReplyCnt, current.ReplyCount+1).Error
	}

	result := db.Model(target).UpdateColumn(columnReplyCnt, gorm.Expr(columnReplyCnt+" + ?", 1))
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

func (s *Service) loggerOrDefault() *zap.Logger {
	if s == nil || s.logger == nil {
		return noOpLogger
	}
	return s.logger
}

func (s *Service) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	s.loggerOrDefault().Error("posts service error", attrs...)
}
