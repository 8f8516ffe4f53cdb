package posts

import (
	"fmt"
	"strings"
	"time"
	"unicode/utf8"
)

const (
	// MaxSwapTextLength bounds the offer and need fields, counted in characters.
	MaxSwapTextLength   = 120
	maxIdentifierLength = 190
	maxLabelLength      = 190
)

// Collection names shared by the store tables and the change feed.
const (
	CollectionPosts   = "posts"
	CollectionReplies = "replies"
)

// UserStatsView names the read-only (owner, post_count, reply_count) aggregate view.
const UserStatsView = "user_stats"

// Post is a neighbor's offer/need pair. ReplyCount caches the number of replies referencing the post.
type Post struct {
	ID           string    `gorm:"column:id;primaryKey;size:190;not null" json:"id"`
	NeighborID   string    `gorm:"column:neighbor_id;size:190;not null;default:'';index" json:"neighborId"`
	Nickname     string    `gorm:"column:nickname;size:190;not null" json:"nickname"`
	Neighborhood string    `gorm:"column:neighborhood;size:190;not null;index" json:"neighborhood"`
	Offer        string    `gorm:"column:offer;size:480;not null" json:"offer"`
	Need         string    `gorm:"column:need;size:480;not null" json:"need"`
	CreatedAt    time.Time `gorm:"column:created_at;not null;index:idx_posts_created" json:"createdAt"`
	ReplyCount   int64     `gorm:"column:reply_count;not null;default:0" json:"replyCount"`
}

// TableName provides the explicit table binding for GORM.
func (Post) TableName() string {
	return CollectionPosts
}

// OwnerKey returns the key used to attribute the post in neighbor stats.
func (p Post) OwnerKey() string {
	return OwnerKey(p.NeighborID, p.Nickname)
}

// Reply is an immutable response to a post.
type Reply struct {
	ID           string    `gorm:"column:id;primaryKey;size:190;not null" json:"id"`
	PostID       string    `gorm:"column:post_id;size:190;not null;index:idx_replies_post_created,priority:1" json:"postId"`
	NeighborID   string    `gorm:"column:neighbor_id;size:190;not null;default:'';index" json:"neighborId,omitempty"`
	Nickname     string    `gorm:"column:nickname;size:190;not null" json:"nickname"`
	Neighborhood string    `gorm:"column:neighborhood;size:190;not null" json:"neighborhood"`
	Content      string    `gorm:"column:content;type:text;not null" json:"content"`
	CreatedAt    time.Time `gorm:"column:created_at;not null;index:idx_replies_post_created,priority:2" json:"createdAt"`
}

// TableName provides the explicit table binding for GORM.
func (Reply) TableName() string {
	return CollectionReplies
}

// OwnerKey returns the key used to attribute the reply in neighbor stats.
func (r Reply) OwnerKey() string {
	return OwnerKey(r.NeighborID, r.Nickname)
}

// UserStats tallies authored posts and replies for one owner key. It is derived data.
type UserStats struct {
	Owner      string `gorm:"column:owner" json:"owner"`
	PostCount  int64  `gorm:"column:post_count" json:"postCount"`
	ReplyCount int64  `gorm:"column:reply_count" json:"replyCount"`
}

// OwnerKey prefers the neighbor id and falls back to the nickname for identity-less records.
func OwnerKey(neighborID, nickname string) string {
	if trimmed := strings.TrimSpace(neighborID); trimmed != "" {
		return trimmed
	}
	return strings.TrimSpace(nickname)
}

// PostInput carries the fields required to create a post.
type PostInput struct {
	NeighborID   string
	Nickname     string
	Neighborhood string
	Offer        string
	Need         string
}

// ReplyInput carries the fields required to create a reply.
type ReplyInput struct {
	PostID       string
	NeighborID   string
	Nickname     string
	Neighborhood string
	Content      string
}

// Submission is the single submission payload. A non-empty PostID selects reply mode.
type Submission struct {
	PostID       string
	NeighborID   string
	Nickname     string
	Neighborhood string
	Offer        string
	Need         string
	Content      string
}

// IsReply reports whether the submission targets an existing post.
func (s Submission) IsReply() bool {
	return strings.TrimSpace(s.PostID) != ""
}

// PostInput projects the submission onto post fields.
func (s Submission) PostInput() PostInput {
	return PostInput{
		NeighborID:   s.NeighborID,
		Nickname:     s.Nickname,
		Neighborhood: s.Neighborhood,
		Offer:        s.Offer,
		Need:         s.Need,
	}
}

// ReplyInput projects the submission onto reply fields.
func (s Submission) ReplyInput() ReplyInput {
	return ReplyInput{
		PostID:       s.PostID,
		NeighborID:   s.NeighborID,
		Nickname:     s.Nickname,
		Neighborhood: s.Neighborhood,
		Content:      s.Content,
	}
}

// SubmissionResult holds exactly one of Post or Reply.
type SubmissionResult struct {
	Post  *Post
	Reply *Reply
}

// FieldError names the offending input field.
type FieldError struct {
	Field   string
	Problem string
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("%s %s", e.Field, e.Problem)
}

func requireText(field, value string, maxLength int) (string, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return "", &FieldError{Field: field, Problem: "is required"}
	}
	if utf8.RuneCountInString(trimmed) > maxLength {
		return "", &FieldError{Field: field, Problem: fmt.Sprintf("must be at most %d characters", maxLength)}
	}
	return trimmed, nil
}

func optionalIdentifier(field, value string) (string, error) {
	trimmed := strings.TrimSpace(value)
	if len(trimmed) > maxIdentifierLength {
		return "", &FieldError{Field: field, Problem: fmt.Sprintf("must be at most %d characters", maxIdentifierLength)}
	}
	return trimmed, nil
}

func (in PostInput) normalize() (PostInput, error) {
	var err error
	out := PostInput{}
	if out.NeighborID, err = optionalIdentifier("neighborId", in.NeighborID); err != nil {
		return PostInput{}, err
	}
	if out.Nickname, err = requireText("nickname", in.Nickname, maxLabelLength); err != nil {
		return PostInput{}, err
	}
	if out.Neighborhood, err = requireText("neighborhood", in.Neighborhood, maxLabelLength); err != nil {
		return PostInput{}, err
	}
	if out.Offer, err = requireText("offer", in.Offer, MaxSwapTextLength); err != nil {
		return PostInput{}, err
	}
	if out.Need, err = requireText("need", in.Need, MaxSwapTextLength); err != nil {
		return PostInput{}, err
	}
	return out, nil
}

func (in ReplyInput) normalize() (ReplyInput, error) {
	var err error
	out := ReplyInput{}
	if out.PostID, err = requireText("postId", in.PostID, maxIdentifierLength); err != nil {
		return ReplyInput{}, err
	}
	if out.NeighborID, err = optionalIdentifier("neighborId", in.NeighborID); err != nil {
		return ReplyInput{}, err
	}
	if out.Nickname, err = requireText("nickname", in.Nickname, maxLabelLength); err != nil {
		return ReplyInput{}, err
	}
	if out.Neighborhood, err = requireText("neighborhood", in.Neighborhood, maxLabelLength); err != nil {
		return ReplyInput{}, err
	}
	out.Content = strings.TrimSpace(in.Content)
	if out.Content == "" {
		return ReplyInput{}, &FieldError{Field: "content", Problem: "is required"}
	}
	return out, nil
}
