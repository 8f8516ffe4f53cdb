package feed

import (
	"crypto/md5"
	"encoding/hex"
	"strings"

	"github.com/MarcoPoloResearchLab/neighborly/backend/internal/posts"
)

const (
	activePostThreshold   = 2
	swappedReplyThreshold = 1

	BadgeActive     = "Active"
	BadgeHasSwapped = "Has Swapped"

	gravatarBaseURL = "https://www.gravatar.com/avatar/"
	gravatarQuery   = "?d=identicon&s=150"
)

// Badges are display hints derived from neighbor stats on every load.
type Badges struct {
	Active     bool `json:"active"`
	HasSwapped bool `json:"hasSwapped"`
}

// BadgesFor derives badges from one neighbor's stats.
func BadgesFor(stats posts.UserStats) Badges {
	return Badges{
		Active:     stats.PostCount >= activePostThreshold,
		HasSwapped: stats.ReplyCount >= swappedReplyThreshold,
	}
}

// Labels lists the earned badge names in display order.
func (b Badges) Labels() []string {
	labels := make([]string, 0, 2)
	if b.Active {
		labels = append(labels, BadgeActive)
	}
	if b.HasSwapped {
		labels = append(labels, BadgeHasSwapped)
	}
	return labels
}

// AvatarURL returns the Gravatar identicon for a nickname.
func AvatarURL(nickname string) string {
	sum := md5.Sum([]byte(strings.ToLower(strings.TrimSpace(nickname))))
	return gravatarBaseURL + hex.EncodeToString(sum[:]) + gravatarQuery
}
