package feed

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/MarcoPoloResearchLab/neighborly/backend/internal/posts"
	"gorm.io/gorm"
)

// StatsScope tells callers how far the stats reach.
type StatsScope string

const (
	// StatsScopeGlobal stats come from the precomputed aggregate over all rows.
	StatsScopeGlobal StatsScope = "global"
	// StatsScopePage stats were tallied from the loaded page only.
	StatsScopePage StatsScope = "page"
)

// StatsSource selects where neighbor stats are read from.
type StatsSource string

const (
	StatsSourceView StatsSource = "view"
	StatsSourceScan StatsSource = "scan"
)

var errUnknownStatsSource = errors.New("unknown stats source")

// ParseStatsSource validates a configured stats source.
func ParseStatsSource(value string) (StatsSource, error) {
	switch StatsSource(strings.ToLower(strings.TrimSpace(value))) {
	case StatsSourceView, "":
		return StatsSourceView, nil
	case StatsSourceScan:
		return StatsSourceScan, nil
	default:
		return "", fmt.Errorf("%w: %q", errUnknownStatsSource, value)
	}
}

// ScanStats tallies posts and replies per owner key over the given entries.
func ScanStats(entries []Entry) map[string]posts.UserStats {
	stats := make(map[string]posts.UserStats)
	for _, entry := range entries {
		owner := entry.OwnerKey()
		tally := stats[owner]
		tally.Owner = owner
		tally.PostCount++
		stats[owner] = tally
		for _, reply := range entry.Replies {
			replyOwner := reply.OwnerKey()
			replyTally := stats[replyOwner]
			replyTally.Owner = replyOwner
			replyTally.ReplyCount++
			stats[replyOwner] = replyTally
		}
	}
	return stats
}

func ownerKeys(entries []Entry) []string {
	seen := make(map[string]struct{})
	keys := make([]string, 0, len(entries))
	add := func(key string) {
		if _, ok := seen[key]; ok {
			return
		}
		seen[key] = struct{}{}
		keys = append(keys, key)
	}
	for _, entry := range entries {
		add(entry.OwnerKey())
		for _, reply := range entry.Replies {
			add(reply.OwnerKey())
		}
	}
	return keys
}

func readStatsView(ctx context.Context, db *gorm.DB, owners []string) (map[string]posts.UserStats, error) {
	stats := make(map[string]posts.UserStats, len(owners))
	if len(owners) == 0 {
		return stats, nil
	}
	var rows []posts.UserStats
	if err := db.WithContext(ctx).
		Table(posts.UserStatsView).
		Select("owner", "post_count", "reply_count").
		Where("owner IN ?", owners).
		Find(&rows).Error; err != nil {
		return nil, err
	}
	for _, row := range rows {
		stats[row.Owner] = row
	}
	return stats, nil
}
