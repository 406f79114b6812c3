package insights

import (
	"context"
	"fmt"
	"strings"
	"time"

	"lance/pkg/logging"
)

// Builder produces and stores weekly snapshots. It keeps no state between
// calls, so one Builder is safe for concurrent builds.
type Builder struct {
	store  Store
	logger logging.Logger
	now    func() time.Time
}

type BuilderConfig struct {
	Store  Store
	Logger logging.Logger
	// Now defaults to time.Now.
	Now func() time.Time
}

func NewBuilder(cfg BuilderConfig) *Builder {
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.NewDiscardLogger()
	}
	return &Builder{store: cfg.Store, logger: logger, now: now}
}

// Window returns the window a build anchored on periodEnd would cover.
func (b *Builder) Window(periodEnd time.Time) Window {
	return WeeklyWindow(periodEnd, b.now())
}

// Build generates the weekly snapshot for userID ending at periodEnd (zero
// means today) and inserts it exactly once. Nothing is written when any
// step fails or ctx is cancelled before the insert.
func (b *Builder) Build(ctx context.Context, userID string, periodEnd time.Time) (*Snapshot, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, ErrEmptyUserID
	}

	window := b.Window(periodEnd)
	posts, stats, err := b.SelectPosts(ctx, userID, window)
	if err != nil {
		return nil, err
	}

	snapshot := Assemble(userID, window, posts)
	snapshot.Stats = stats

	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("build snapshot: %w", err)
	}
	saved, err := b.store.InsertSnapshot(ctx, snapshot)
	if err != nil {
		return nil, &PersistenceWriteError{Err: err}
	}
	if saved == nil {
		saved = snapshot
	}
	saved.Stats = stats

	b.logger.WithFields(logging.Fields{
		"user_id":        userID,
		"snapshot_id":    saved.ID,
		"period_start":   window.Start.Format(time.DateOnly),
		"period_end":     window.End.Format(time.DateOnly),
		"competitors":    stats.Competitors,
		"posts_analyzed": stats.PostsAnalyzed,
		"posts_skipped":  stats.PostsSkipped,
		"unknown_types":  stats.UnknownTypes,
		"hashtags":       len(saved.TopHashtags),
		"keywords":       len(saved.TopKeywords),
		"creatives":      len(saved.TopCreatives),
	}).Info("Snapshot built")

	return saved, nil
}

// SelectPosts resolves the user's competitors and returns their posts inside
// window. Posts without a timestamp are skipped with a warning.
func (b *Builder) SelectPosts(ctx context.Context, userID string, window Window) ([]Post, BuildStats, error) {
	var stats BuildStats

	competitorIDs, err := b.store.CompetitorIDsForUser(ctx, userID)
	if err != nil {
		return nil, stats, &PersistenceReadError{Op: "competitors", Err: err}
	}
	if len(competitorIDs) == 0 {
		return nil, stats, &NoCompetitorsError{UserID: userID}
	}
	stats.Competitors = len(competitorIDs)

	fetched, err := b.store.PostsForCompetitorsInWindow(ctx, competitorIDs, window.Start, window.End)
	if err != nil {
		return nil, stats, &PersistenceReadError{Op: "posts", Err: err}
	}

	posts := make([]Post, 0, len(fetched))
	for _, p := range fetched {
		if p.PostedAt.IsZero() {
			stats.PostsSkipped++
			b.logger.WithFields(logging.Fields{
				"user_id":       userID,
				"post_id":       p.ID,
				"competitor_id": p.CompetitorID,
			}).Warn("Skipping post without posted_at")
			continue
		}
		if !window.Contains(p.PostedAt) {
			continue
		}
		if !p.PostType.Known() {
			stats.UnknownTypes++
			b.logger.WithFields(logging.Fields{
				"user_id":      userID,
				"post_id":      p.ID,
				"unknown_type": string(p.PostType),
			}).Debug("Scoring post of unknown type as image")
		}
		posts = append(posts, p)
	}
	stats.PostsAnalyzed = len(posts)
	return posts, stats, nil
}

// Assemble computes the snapshot for posts without touching the store.
func Assemble(userID string, window Window, posts []Post) *Snapshot {
	var hashtags, keywords []string
	for _, p := range posts {
		hashtags = append(hashtags, ExtractHashtags(p.Caption)...)
		keywords = append(keywords, ExtractKeywords(p.Caption)...)
	}

	return &Snapshot{
		UserID:       userID,
		PeriodStart:  window.Start,
		PeriodEnd:    window.End,
		TopHashtags:  Top(Rank(KindHashtag, hashtags), MaxHashtags),
		TopKeywords:  Top(Rank(KindKeyword, keywords), MaxKeywords),
		TopCreatives: TopCreatives(posts, MaxCreatives),
	}
}
