package feed

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/MarcoPoloResearchLab/neighborly/backend/internal/posts"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	DefaultPageSize        = 20
	DefaultMaxPageSize     = 200
	maxNeighborhoodOptions = 50

	opAggregatorNew = "feed.aggregator.new"
	opLoadFeed      = "feed.load_feed"
	fieldPostID     = "post_id"
)

var (
	errMissingDatabase = errors.New("database handle is required")
	noOpLogger         = zap.NewNop()
)

// Entry is a post with its reply transcript and author display hints.
type Entry struct {
	posts.Post
	Replies   []posts.Reply `json:"replies"`
	Badges    Badges        `json:"badges"`
	AvatarURL string        `json:"avatarUrl"`
}

// Feed is one loaded page of the board.
type Feed struct {
	Posts         []Entry                    `json:"posts"`
	Stats         map[string]posts.UserStats `json:"stats"`
	StatsScope    StatsScope                 `json:"statsScope"`
	Neighborhoods []string                   `json:"neighborhoods"`
	PageSize      int                        `json:"pageSize"`
}

// Filter returns a copy of the feed holding only the posts matching the criteria.
// Stats and neighborhoods describe the loaded page and are left as they are.
func (f Feed) Filter(criteria Criteria) Feed {
	filtered := f
	filtered.Posts = Apply(f.Posts, criteria)
	return filtered
}

// Loader loads a feed page. The aggregator and the HTTP client both implement it.
type Loader interface {
	LoadFeed(ctx context.Context, pageSize int) (Feed, error)
}

type AggregatorConfig struct {
	Database       *gorm.DB
	StatsSource    StatsSource
	RepairCounters bool
	DefaultPage    int
	MaxPage        int
	Logger         *zap.Logger
}

// Aggregator assembles feed pages from the posts and replies tables.
type Aggregator struct {
	db             *gorm.DB
	statsSource    StatsSource
	repairCounters bool
	defaultPage    int
	maxPage        int
	logger         *zap.Logger
}

func NewAggregator(cfg AggregatorConfig) (*Aggregator, error) {
	if cfg.Database == nil {
		return nil, fmt.Errorf("%s: %w", opAggregatorNew, errMissingDatabase)
	}
	source, err := ParseStatsSource(string(cfg.StatsSource))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", opAggregatorNew, err)
	}
	defaultPage := cfg.DefaultPage
	if defaultPage <= 0 {
		defaultPage = DefaultPageSize
	}
	maxPage := cfg.MaxPage
	if maxPage <= 0 {
		maxPage = DefaultMaxPageSize
	}
	if defaultPage > maxPage {
		defaultPage = maxPage
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	return &Aggregator{
		db:             cfg.Database,
		statsSource:    source,
		repairCounters: cfg.RepairCounters,
		defaultPage:    defaultPage,
		maxPage:        maxPage,
		logger:         logger,
	}, nil
}

// PageSize returns the page size used when callers pass a non-positive size.
func (a *Aggregator) PageSize() int {
	return a.defaultPage
}

// LoadFeed loads the newest posts up to pageSize, attaches replies oldest first, and
// derives neighbor stats and badges. A "load more" is a repeat call with a larger size.
func (a *Aggregator) LoadFeed(ctx context.Context, pageSize int) (Feed, error) {
	if a == nil || a.db == nil {
		return Feed{}, fmt.Errorf("%s.missing_database: %w", opLoadFeed, errMissingDatabase)
	}
	limit := a.clampPageSize(pageSize)
	db := a.db.WithContext(ctx)

	var loaded []posts.Post
	if err := db.Order("created_at DESC").Order("id DESC").Limit(limit).Find(&loaded).Error; err != nil {
		a.logError("posts_query_failed", err)
		return Feed{}, fmt.Errorf("%s.posts_query_failed: %w", opLoadFeed, err)
	}

	repliesByPost := make(map[string][]posts.Reply, len(loaded))
	if len(loaded) > 0 {
		postIDs := make([]string, 0, len(loaded))
		for _, post := range loaded {
			postIDs = append(postIDs, post.ID)
		}
		var replies []posts.Reply
		if err := db.Where("post_id IN ?", postIDs).
			Order("created_at ASC").Order("id ASC").
			Find(&replies).Error; err != nil {
			a.logError("replies_query_failed", err)
			return Feed{}, fmt.Errorf("%s.replies_query_failed: %w", opLoadFeed, err)
		}
		for _, reply := range replies {
			repliesByPost[reply.PostID] = append(repliesByPost[reply.PostID], reply)
		}
	}

	entries := make([]Entry, 0, len(loaded))
	for _, post := range loaded {
		replies := repliesByPost[post.ID]
		if replies == nil {
			replies = []posts.Reply{}
		}
		actual := int64(len(replies))
		if post.ReplyCount != actual {
			a.reconcileCounter(db, post, actual)
			post.ReplyCount = actual
		}
		entries = append(entries, Entry{
			Post:      post,
			Replies:   replies,
			AvatarURL: AvatarURL(post.Nickname),
		})
	}

	stats, scope := a.loadStats(ctx, entries)
	for index := range entries {
		entries[index].Badges = BadgesFor(stats[entries[index].OwnerKey()])
	}

	return Feed{
		Posts:         entries,
		Stats:         stats,
		StatsScope:    scope,
		Neighborhoods: Neighborhoods(entries),
		PageSize:      limit,
	}, nil
}

func (a *Aggregator) clampPageSize(pageSize int) int {
	if pageSize <= 0 {
		return a.defaultPage
	}
	if pageSize > a.maxPage {
		return a.maxPage
	}
	return pageSize
}

func (a *Aggregator) loadStats(ctx context.Context, entries []Entry) (map[string]posts.UserStats, StatsScope) {
	if a.statsSource == StatsSourceView {
		stats, err := readStatsView(ctx, a.db, ownerKeys(entries))
		if err == nil {
			return stats, StatsScopeGlobal
		}
		a.logger.Warn("user stats view unavailable, tallying loaded page",
			zap.String("operation", opLoadFeed),
			zap.Error(err))
	}
	return ScanStats(entries), StatsScopePage
}

// reconcileCounter rewrites a drifted reply_count from the replies table.
func (a *Aggregator) reconcileCounter(db *gorm.DB, post posts.Post, attached int64) {
	a.logger.Info("reply counter drift detected",
		zap.String("operation", opLoadFeed),
		zap.String(fieldPostID, post.ID),
		zap.Int64("stored", post.ReplyCount),
		zap.Int64("attached", attached))
	if !a.repairCounters {
		return
	}
	recount := db.Model(&posts.Reply{}).Select("COUNT(*)").Where("replies.post_id = posts.id")
	if err := db.Model(&posts.Post{ID: post.ID}).UpdateColumn("reply_count", recount).Error; err != nil {
		a.logger.Warn("reply counter repair failed",
			zap.String("operation", opLoadFeed),
			zap.String(fieldPostID, post.ID),
			zap.Error(err))
	}
}

func (a *Aggregator) logError(reason string, err error) {
	a.logger.Error("feed aggregator error",
		zap.String("operation", opLoadFeed),
		zap.String("reason", reason),
		zap.Error(err))
}

// Neighborhoods lists the distinct neighborhoods of the entries, sorted and capped for display.
func Neighborhoods(entries []Entry) []string {
	seen := make(map[string]struct{}, len(entries))
	unique := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.Neighborhood == "" {
			continue
		}
		if _, ok := seen[entry.Neighborhood]; ok {
			continue
		}
		seen[entry.Neighborhood] = struct{}{}
		unique = append(unique, entry.Neighborhood)
	}
	sort.Strings(unique)
	if len(unique) > maxNeighborhoodOptions {
		unique = unique[:maxNeighborhoodOptions]
	}
	return unique
}
