package insights

import (
	"strings"
	"time"
)

// PostType is the media format of a competitor post.
type PostType string

const (
	PostTypeImage    PostType = "image"
	PostTypeCarousel PostType = "carousel"
	PostTypeReel     PostType = "reel"
)

// ParsePostType lowercases raw. Values outside the known set are kept as-is
// and score like images.
func ParsePostType(raw string) PostType {
	return PostType(strings.ToLower(strings.TrimSpace(raw)))
}

func (t PostType) Known() bool {
	switch t {
	case PostTypeImage, PostTypeCarousel, PostTypeReel:
		return true
	}
	return false
}

// Post is a scraped competitor post. The engine only reads it.
type Post struct {
	ID            string
	CompetitorID  string
	PostType      PostType
	Caption       string
	MediaURL      string
	LikesCount    int64
	CommentsCount int64
	ViewsCount    int64
	// PostedAt is zero when the source row had no usable timestamp.
	PostedAt time.Time
}

// TermKind tags a RankedTerm as a hashtag or a keyword.
type TermKind string

const (
	KindHashtag TermKind = "hashtag"
	KindKeyword TermKind = "keyword"
)

type RankedTerm struct {
	Kind      TermKind `json:"kind"`
	Term      string   `json:"term"`
	Frequency int      `json:"frequency"`
}

// ScoredPost pairs a post with its engagement score while creatives are chosen.
type ScoredPost struct {
	Post
	EngagementScore int64
}

// Creative is a top-performing post as stored on a snapshot.
type Creative struct {
	CompetitorID string   `json:"competitor_id"`
	PostID       string   `json:"post_id"`
	PostType     PostType `json:"post_type"`
	Caption      string   `json:"caption"`
	MediaURL     string   `json:"media_url"`
}

// Snapshot is one weekly summary for a user. Rows are only ever inserted.
type Snapshot struct {
	ID           string       `json:"id,omitempty"`
	UserID       string       `json:"user_id"`
	PeriodStart  time.Time    `json:"period_start"`
	PeriodEnd    time.Time    `json:"period_end"`
	TopHashtags  []RankedTerm `json:"top_hashtags"`
	TopKeywords  []RankedTerm `json:"top_keywords"`
	TopCreatives []Creative   `json:"top_creatives"`
	CreatedAt    time.Time    `json:"created_at,omitempty"`

	Stats BuildStats `json:"-"`
}

// BuildStats describes the input of a build. It is not persisted.
type BuildStats struct {
	Competitors   int
	PostsAnalyzed int
	PostsSkipped  int
	// UnknownTypes counts analyzed posts whose type is not image, carousel
	// or reel. They are scored like images.
	UnknownTypes int
}

// Empty reports whether the snapshot carries no ranked terms.
func (s *Snapshot) Empty() bool {
	return len(s.TopHashtags) == 0 && len(s.TopKeywords) == 0
}
