package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lance/api_insights/internal/insights"
	"lance/pkg/pagination"
)

func setupMockStore(t *testing.T) (*PostgresStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewPostgresStore(db), mock
}

var snapshotRowColumns = []string{
	"id", "user_id", "period_start", "period_end",
	"top_hashtags", "top_keywords", "top_creatives", "created_at",
}

func TestCompetitorIDsForUser(t *testing.T) {
	store, mock := setupMockStore(t)

	mock.ExpectQuery(`SELECT id\s+FROM competitors\s+WHERE user_id = \$1`).
		WithArgs("user-1").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("c-1").AddRow("c-2"))

	ids, err := store.CompetitorIDsForUser(context.Background(), "user-1")
	require.NoError(t, err)
	assert.Equal(t, []string{"c-1", "c-2"}, ids)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCompetitorIDsForUser_QueryError(t *testing.T) {
	store, mock := setupMockStore(t)

	mock.ExpectQuery(`FROM competitors`).WillReturnError(errors.New("connection lost"))

	_, err := store.CompetitorIDsForUser(context.Background(), "user-1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "list competitors")
	assert.Contains(t, err.Error(), "connection lost")
}

func TestPostsForCompetitorsInWindow_NullColumns(t *testing.T) {
	store, mock := setupMockStore(t)

	start := time.Date(2024, 6, 3, 0, 0, 0, 0, time.UTC)
	end := start.AddDate(0, 0, 7)
	posted := start.Add(36 * time.Hour)

	rows := sqlmock.NewRows([]string{
		"id", "competitor_id", "post_type", "caption", "media_url",
		"likes_count", "comments_count", "views_count", "posted_at",
	}).
		AddRow("p-1", "c-1", "Reel", "new drop #gold", "https://cdn/p1.mp4", 10, 5, 100, posted).
		AddRow("p-2", "c-2", "image", nil, nil, nil, nil, nil, nil)

	mock.ExpectQuery(`FROM competitor_posts\s+WHERE competitor_id = ANY\(\$1\)`).
		WithArgs(sqlmock.AnyArg(), start, end).
		WillReturnRows(rows)

	posts, err := store.PostsForCompetitorsInWindow(context.Background(), []string{"c-1", "c-2"}, start, end)
	require.NoError(t, err)
	require.Len(t, posts, 2)

	assert.Equal(t, insights.PostTypeReel, posts[0].PostType)
	assert.Equal(t, int64(100), posts[0].ViewsCount)
	assert.True(t, posts[0].PostedAt.Equal(posted))

	assert.Equal(t, "", posts[1].Caption)
	assert.Equal(t, int64(0), posts[1].LikesCount)
	assert.Equal(t, int64(0), posts[1].CommentsCount)
	assert.True(t, posts[1].PostedAt.IsZero())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostsForCompetitorsInWindow_NoCompetitorsSkipsQuery(t *testing.T) {
	store, mock := setupMockStore(t)

	posts, err := store.PostsForCompetitorsInWindow(context.Background(), nil, time.Now(), time.Now())
	require.NoError(t, err)
	assert.Empty(t, posts)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestInsertSnapshot(t *testing.T) {
	store, mock := setupMockStore(t)

	created := time.Date(2024, 6, 10, 3, 0, 0, 0, time.UTC)
	snap := &insights.Snapshot{
		UserID:      "user-1",
		PeriodStart: time.Date(2024, 6, 3, 0, 0, 0, 0, time.UTC),
		PeriodEnd:   time.Date(2024, 6, 10, 0, 0, 0, 0, time.UTC),
		TopHashtags: []insights.RankedTerm{{Kind: insights.KindHashtag, Term: "#gold", Frequency: 3}},
	}

	mock.ExpectQuery(`INSERT INTO insight_snapshots`).
		WithArgs(
			"user-1",
			"2024-06-03",
			"2024-06-10",
			[]byte(`[{"kind":"hashtag","term":"#gold","frequency":3}]`),
			[]byte(`[]`),
			[]byte(`[]`),
		).
		WillReturnRows(sqlmock.NewRows([]string{"id", "created_at"}).AddRow("snap-1", created))

	saved, err := store.InsertSnapshot(context.Background(), snap)
	require.NoError(t, err)
	assert.Equal(t, "snap-1", saved.ID)
	assert.Equal(t, created, saved.CreatedAt)
	assert.Empty(t, snap.ID, "input snapshot is not mutated")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestInsertSnapshot_Error(t *testing.T) {
	store, mock := setupMockStore(t)

	mock.ExpectQuery(`INSERT INTO insight_snapshots`).WillReturnError(errors.New("disk full"))

	_, err := store.InsertSnapshot(context.Background(), &insights.Snapshot{UserID: "user-1"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "insert snapshot")
}

func TestLatestSnapshot(t *testing.T) {
	store, mock := setupMockStore(t)

	created := time.Date(2024, 6, 10, 3, 0, 0, 0, time.UTC)
	rows := sqlmock.NewRows(snapshotRowColumns).AddRow(
		"snap-2", "user-1",
		time.Date(2024, 6, 3, 0, 0, 0, 0, time.UTC),
		time.Date(2024, 6, 10, 0, 0, 0, 0, time.UTC),
		[]byte(`[{"kind":"hashtag","term":"#gold","frequency":3}]`),
		[]byte(`[{"kind":"keyword","term":"ring","frequency":2}]`),
		[]byte(`[{"competitor_id":"c-1","post_id":"p-1","post_type":"reel","caption":"x","media_url":"u"}]`),
		created,
	)
	mock.ExpectQuery(`FROM insight_snapshots\s+WHERE user_id = \$1\s+AND \(jsonb_array_length`).
		WithArgs("user-1").
		WillReturnRows(rows)

	snap, err := store.LatestSnapshot(context.Background(), "user-1")
	require.NoError(t, err)
	assert.Equal(t, "snap-2", snap.ID)
	require.Len(t, snap.TopHashtags, 1)
	assert.Equal(t, "#gold", snap.TopHashtags[0].Term)
	require.Len(t, snap.TopKeywords, 1)
	assert.Equal(t, insights.KindKeyword, snap.TopKeywords[0].Kind)
	require.Len(t, snap.TopCreatives, 1)
	assert.Equal(t, insights.PostTypeReel, snap.TopCreatives[0].PostType)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLatestSnapshot_NotFound(t *testing.T) {
	store, mock := setupMockStore(t)

	mock.ExpectQuery(`FROM insight_snapshots`).WillReturnRows(sqlmock.NewRows(snapshotRowColumns))

	_, err := store.LatestSnapshot(context.Background(), "user-1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestListSnapshots_ClampsLimit(t *testing.T) {
	tests := []struct {
		name  string
		limit int
		want  int
	}{
		{name: "default", limit: 0, want: pagination.DefaultLimit},
		{name: "within range", limit: 25, want: 25},
		{name: "capped", limit: 5000, want: pagination.MaxLimit},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store, mock := setupMockStore(t)

			rows := sqlmock.NewRows(snapshotRowColumns).AddRow(
				"snap-1", "user-1",
				time.Date(2024, 6, 3, 0, 0, 0, 0, time.UTC),
				time.Date(2024, 6, 10, 0, 0, 0, 0, time.UTC),
				[]byte(`[]`), []byte(`[]`), []byte(`[]`),
				time.Now(),
			)
			mock.ExpectQuery(`ORDER BY created_at DESC, id DESC\s+LIMIT \$2`).
				WithArgs("user-1", tt.want+1).
				WillReturnRows(rows)

			page, err := store.ListSnapshots(context.Background(), "user-1", tt.limit, nil)
			require.NoError(t, err)
			require.Len(t, page.Snapshots, 1)
			assert.Empty(t, page.NextCursor)
			assert.NotNil(t, page.Snapshots[0].TopHashtags)
			assert.Empty(t, page.Snapshots[0].TopHashtags)
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestListSnapshots_Pages(t *testing.T) {
	store, mock := setupMockStore(t)

	newest := time.Date(2024, 6, 17, 1, 0, 0, 0, time.UTC)
	rows := sqlmock.NewRows(snapshotRowColumns)
	for i := range 3 {
		created := newest.AddDate(0, 0, -7*i)
		rows.AddRow(
			fmt.Sprintf("snap-%d", i), "user-1",
			created.AddDate(0, 0, -7), created,
			[]byte(`[]`), []byte(`[]`), []byte(`[]`),
			created,
		)
	}
	mock.ExpectQuery(`WHERE user_id = \$1\s+ORDER BY`).
		WithArgs("user-1", 3).
		WillReturnRows(rows)

	page, err := store.ListSnapshots(context.Background(), "user-1", 2, nil)
	require.NoError(t, err)
	require.Len(t, page.Snapshots, 2)
	require.NotEmpty(t, page.NextCursor)

	cursor, err := pagination.DecodeCursor(page.NextCursor)
	require.NoError(t, err)
	assert.Equal(t, "snap-1", cursor.ID)
	assert.True(t, cursor.Timestamp.Equal(newest.AddDate(0, 0, -7)))

	mock.ExpectQuery(`AND \(created_at, id\) < \(\$3, \$4\)`).
		WithArgs("user-1", 3, cursor.Timestamp, "snap-1").
		WillReturnRows(sqlmock.NewRows(snapshotRowColumns))

	next, err := store.ListSnapshots(context.Background(), "user-1", 2, cursor)
	require.NoError(t, err)
	assert.Empty(t, next.Snapshots)
	assert.Empty(t, next.NextCursor)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUserIDsWithCompetitors(t *testing.T) {
	store, mock := setupMockStore(t)

	mock.ExpectQuery(`SELECT DISTINCT user_id FROM competitors`).
		WillReturnRows(sqlmock.NewRows([]string{"user_id"}).AddRow("user-1").AddRow("user-2"))

	users, err := store.UserIDsWithCompetitors(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"user-1", "user-2"}, users)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestNilStoreIsUnavailable(t *testing.T) {
	var store *PostgresStore

	_, err := store.CompetitorIDsForUser(context.Background(), "user-1")
	assert.Error(t, err)
	_, err = store.LatestSnapshot(context.Background(), "user-1")
	assert.Error(t, err)

	empty := NewPostgresStore((*sql.DB)(nil))
	_, err = empty.UserIDsWithCompetitors(context.Background())
	assert.Error(t, err)
}

func TestMigrationsEmbedded(t *testing.T) {
	entries, err := fs.ReadDir(Migrations(), ".")
	require.NoError(t, err)
	require.NotEmpty(t, entries)
	assert.Equal(t, "00001_create_insights_schema.sql", entries[0].Name())
}
