package handlers

import (
	"context"
	"time"

	"lance/api_insights/internal/insights"
	"lance/api_insights/internal/scheduler"
	"lance/api_insights/internal/store"
	"lance/pkg/pagination"
)

type SnapshotRefresher interface {
	Refresh(ctx context.Context, userID string, periodEnd time.Time) (*insights.Snapshot, error)
}

type SnapshotReader interface {
	LatestSnapshot(ctx context.Context, userID string) (*insights.Snapshot, error)
	ListSnapshots(ctx context.Context, userID string, limit int, after *pagination.Cursor) (*store.SnapshotPage, error)
}

type BatchRunner interface {
	RunOnce(ctx context.Context, periodEnd time.Time) (*scheduler.RunSummary, error)
}

type Narrator interface {
	Enabled() bool
	Summarize(ctx context.Context, snap *insights.Snapshot) (string, error)
}
