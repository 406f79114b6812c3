package insights

import (
	"context"
	"time"
)

// Store is the persistence the builder needs. Implementations must honor ctx.
type Store interface {
	CompetitorIDsForUser(ctx context.Context, userID string) ([]string, error)
	PostsForCompetitorsInWindow(ctx context.Context, competitorIDs []string, start, end time.Time) ([]Post, error)
	// InsertSnapshot stores s and returns it with ID and CreatedAt assigned.
	InsertSnapshot(ctx context.Context, s *Snapshot) (*Snapshot, error)
}
