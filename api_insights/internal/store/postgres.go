package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"lance/api_insights/internal/insights"
	"lance/pkg/pagination"
)

// ErrNotFound is returned when a user has no matching snapshot.
var ErrNotFound = errors.New("snapshot not found")

var errUnavailable = errors.New("insight store unavailable")

// PostgresStore implements insights.Store plus the read side used by the API.
type PostgresStore struct {
	db *sql.DB
}

var _ insights.Store = (*PostgresStore)(nil)

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) CompetitorIDsForUser(ctx context.Context, userID string) ([]string, error) {
	if s == nil || s.db == nil {
		return nil, errUnavailable
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id
		FROM competitors
		WHERE user_id = $1
		ORDER BY created_at, id
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("list competitors: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan competitor: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate competitors: %w", err)
	}
	return ids, nil
}

// PostsForCompetitorsInWindow returns posts with posted_at in [start, end).
// Rows missing posted_at that were scraped inside the window are returned
// too, so the caller can report them.
func (s *PostgresStore) PostsForCompetitorsInWindow(ctx context.Context, competitorIDs []string, start, end time.Time) ([]insights.Post, error) {
	if s == nil || s.db == nil {
		return nil, errUnavailable
	}
	if len(competitorIDs) == 0 {
		return nil, nil
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id,
			competitor_id,
			post_type,
			caption,
			media_url,
			likes_count,
			comments_count,
			views_count,
			posted_at
		FROM competitor_posts
		WHERE competitor_id = ANY($1)
		AND (
			(posted_at >= $2 AND posted_at < $3)
			OR (posted_at IS NULL AND scraped_at >= $2 AND scraped_at < $3)
		)
		ORDER BY posted_at DESC NULLS LAST, id
	`, pq.Array(competitorIDs), start, end)
	if err != nil {
		return nil, fmt.Errorf("list posts: %w", err)
	}
	defer rows.Close()

	var posts []insights.Post
	for rows.Next() {
		p, err := scanPost(rows)
		if err != nil {
			return nil, err
		}
		posts = append(posts, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate posts: %w", err)
	}
	return posts, nil
}

func (s *PostgresStore) InsertSnapshot(ctx context.Context, snap *insights.Snapshot) (*insights.Snapshot, error) {
	if s == nil || s.db == nil {
		return nil, errUnavailable
	}

	hashtags, err := encodeList(snap.TopHashtags)
	if err != nil {
		return nil, fmt.Errorf("encode hashtags: %w", err)
	}
	keywords, err := encodeList(snap.TopKeywords)
	if err != nil {
		return nil, fmt.Errorf("encode keywords: %w", err)
	}
	creatives, err := encodeList(snap.TopCreatives)
	if err != nil {
		return nil, fmt.Errorf("encode creatives: %w", err)
	}

	saved := *snap
	err = s.db.QueryRowContext(ctx, `
		INSERT INTO insight_snapshots (
			user_id,
			period_start,
			period_end,
			top_hashtags,
			top_keywords,
			top_creatives
		)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, created_at
	`,
		snap.UserID,
		snap.PeriodStart.Format(time.DateOnly),
		snap.PeriodEnd.Format(time.DateOnly),
		hashtags,
		keywords,
		creatives,
	).Scan(&saved.ID, &saved.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("insert snapshot: %w", err)
	}
	return &saved, nil
}

// LatestSnapshot returns the newest snapshot for userID that has at least
// one ranked term.
func (s *PostgresStore) LatestSnapshot(ctx context.Context, userID string) (*insights.Snapshot, error) {
	if s == nil || s.db == nil {
		return nil, errUnavailable
	}

	row := s.db.QueryRowContext(ctx, `
		SELECT `+snapshotColumns+`
		FROM insight_snapshots
		WHERE user_id = $1
		AND (jsonb_array_length(top_hashtags) > 0 OR jsonb_array_length(top_keywords) > 0)
		ORDER BY created_at DESC, id DESC
		LIMIT 1
	`, userID)
	snap, err := scanSnapshot(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return snap, nil
}

// SnapshotPage is one page of a user's snapshot history, newest first.
type SnapshotPage struct {
	Snapshots  []insights.Snapshot `json:"snapshots"`
	NextCursor string              `json:"next_cursor,omitempty"`
}

var snapshotKeyset = pagination.KeysetBuilder{TimestampColumn: "created_at", IDColumn: "id"}

// ListSnapshots returns the history for userID, empty snapshots included.
// after continues from a previous page's NextCursor; nil starts at the newest.
func (s *PostgresStore) ListSnapshots(ctx context.Context, userID string, limit int, after *pagination.Cursor) (*SnapshotPage, error) {
	if s == nil || s.db == nil {
		return nil, errUnavailable
	}
	limit = pagination.ClampLimit(limit)

	query := `
		SELECT ` + snapshotColumns + `
		FROM insight_snapshots
		WHERE user_id = $1`
	args := []any{userID, limit + 1}
	if cond, condArgs := snapshotKeyset.Condition(after, 3); cond != "" {
		query += " AND " + cond
		args = append(args, condArgs...)
	}
	query += "\n\t\t" + snapshotKeyset.OrderBy() + "\n\t\tLIMIT $2"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list snapshots: %w", err)
	}
	defer rows.Close()

	page := &SnapshotPage{Snapshots: []insights.Snapshot{}}
	for rows.Next() {
		snap, err := scanSnapshot(rows)
		if err != nil {
			return nil, err
		}
		page.Snapshots = append(page.Snapshots, *snap)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate snapshots: %w", err)
	}

	if len(page.Snapshots) > limit {
		last := page.Snapshots[limit-1]
		page.NextCursor = pagination.NextCursor(len(page.Snapshots), limit, pagination.Cursor{Timestamp: last.CreatedAt, ID: last.ID})
		page.Snapshots = page.Snapshots[:limit]
	}
	return page, nil
}

// UserIDsWithCompetitors lists every user a batch run should build for.
func (s *PostgresStore) UserIDsWithCompetitors(ctx context.Context) ([]string, error) {
	if s == nil || s.db == nil {
		return nil, errUnavailable
	}

	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT user_id FROM competitors ORDER BY user_id`)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()

	var users []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		users = append(users, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate users: %w", err)
	}
	return users, nil
}

const snapshotColumns = `id, user_id, period_start, period_end, top_hashtags, top_keywords, top_creatives, created_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPost(s rowScanner) (insights.Post, error) {
	var (
		p                      insights.Post
		postType               string
		caption, mediaURL      sql.NullString
		likes, comments, views sql.NullInt64
		postedAt               sql.NullTime
	)
	if err := s.Scan(&p.ID, &p.CompetitorID, &postType, &caption, &mediaURL, &likes, &comments, &views, &postedAt); err != nil {
		return insights.Post{}, fmt.Errorf("scan post: %w", err)
	}
	p.PostType = insights.ParsePostType(postType)
	p.Caption = caption.String
	p.MediaURL = mediaURL.String
	p.LikesCount = likes.Int64
	p.CommentsCount = comments.Int64
	p.ViewsCount = views.Int64
	if postedAt.Valid {
		p.PostedAt = postedAt.Time.UTC()
	}
	return p, nil
}

func scanSnapshot(s rowScanner) (*insights.Snapshot, error) {
	var (
		snap                          insights.Snapshot
		hashtags, keywords, creatives []byte
	)
	if err := s.Scan(&snap.ID, &snap.UserID, &snap.PeriodStart, &snap.PeriodEnd, &hashtags, &keywords, &creatives, &snap.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan snapshot: %w", err)
	}
	snap.PeriodStart = asDate(snap.PeriodStart)
	snap.PeriodEnd = asDate(snap.PeriodEnd)

	snap.TopHashtags = []insights.RankedTerm{}
	snap.TopKeywords = []insights.RankedTerm{}
	snap.TopCreatives = []insights.Creative{}
	if err := decodeList(hashtags, &snap.TopHashtags); err != nil {
		return nil, fmt.Errorf("decode hashtags: %w", err)
	}
	if err := decodeList(keywords, &snap.TopKeywords); err != nil {
		return nil, fmt.Errorf("decode keywords: %w", err)
	}
	if err := decodeList(creatives, &snap.TopCreatives); err != nil {
		return nil, fmt.Errorf("decode creatives: %w", err)
	}
	return &snap, nil
}

// encodeList writes nil slices as [] so the column never holds null.
func encodeList[T any](items []T) ([]byte, error) {
	if items == nil {
		items = []T{}
	}
	return json.Marshal(items)
}

func decodeList[T any](raw []byte, dest *[]T) error {
	if len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, dest); err != nil {
		return err
	}
	if *dest == nil {
		*dest = []T{}
	}
	return nil
}

func asDate(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
