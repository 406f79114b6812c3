package refresh

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/failsafe-go/failsafe-go"
	"github.com/failsafe-go/failsafe-go/retrypolicy"
	"golang.org/x/sync/singleflight"

	"lance/api_insights/internal/events"
	"lance/api_insights/internal/insights"
	"lance/api_insights/internal/metrics"
	"lance/pkg/logging"
)

const (
	defaultTimeout    = 2 * time.Minute
	defaultRetryDelay = 500 * time.Millisecond
	publishTimeout    = 5 * time.Second
)

// ErrClosed is returned by Refresh after Close.
var ErrClosed = errors.New("refresher closed")

// SnapshotBuilder is implemented by *insights.Builder.
type SnapshotBuilder interface {
	Window(periodEnd time.Time) insights.Window
	Build(ctx context.Context, userID string, periodEnd time.Time) (*insights.Snapshot, error)
}

type Config struct {
	Builder   SnapshotBuilder
	Publisher events.Publisher
	Metrics   *metrics.Metrics
	Logger    logging.Logger
	// Timeout bounds one build including retries.
	Timeout    time.Duration
	MaxRetries int
	RetryDelay time.Duration
}

// Refresher runs snapshot builds on behalf of the API, CLI and scheduler.
// Concurrent requests for the same user and period share one build, and
// transient read failures are retried.
type Refresher struct {
	builder    SnapshotBuilder
	publisher  events.Publisher
	metrics    *metrics.Metrics
	logger     logging.Logger
	timeout    time.Duration
	maxRetries int
	retryDelay time.Duration

	inflight singleflight.Group

	lifetime context.Context
	stop     context.CancelFunc

	mu      sync.Mutex
	flights map[string]*flight
	closed  bool
	builds  sync.WaitGroup
}

// flight is the shared build context for one key. It is cancelled once the
// last caller waiting on it has left.
type flight struct {
	ctx     context.Context
	cancel  context.CancelFunc
	waiters int
}

func New(cfg Config) *Refresher {
	r := &Refresher{
		builder:    cfg.Builder,
		publisher:  cfg.Publisher,
		metrics:    cfg.Metrics,
		logger:     cfg.Logger,
		timeout:    cfg.Timeout,
		maxRetries: cfg.MaxRetries,
		retryDelay: cfg.RetryDelay,
		flights:    make(map[string]*flight),
	}
	r.lifetime, r.stop = context.WithCancel(context.Background())
	if r.publisher == nil {
		r.publisher = events.NopPublisher{}
	}
	if r.logger == nil {
		r.logger = logging.NewDiscardLogger()
	}
	if r.timeout <= 0 {
		r.timeout = defaultTimeout
	}
	if r.maxRetries < 0 {
		r.maxRetries = 0
	}
	if r.retryDelay <= 0 {
		r.retryDelay = defaultRetryDelay
	}
	return r
}

// Refresh builds and stores the snapshot for userID ending at periodEnd
// (zero means today). If a build for the same user and period is already
// running the caller waits for its result instead of starting another.
//
// The shared build outlives any single caller but not all of them: when the
// last waiting caller gives up its build is cancelled.
func (r *Refresher) Refresh(ctx context.Context, userID string, periodEnd time.Time) (*insights.Snapshot, error) {
	if userID == "" {
		return nil, insights.ErrEmptyUserID
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	window := r.builder.Window(periodEnd)
	key := userID + "|" + window.End.Format(time.DateOnly)

	f, err := r.join(key)
	if err != nil {
		return nil, err
	}
	defer r.leave(key, f)

	led := false
	ch := r.inflight.DoChan(key, func() (any, error) {
		led = true
		return r.lead(key, f, userID, window.End)
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if !led && r.metrics != nil {
			r.metrics.CoalescedBuilds.WithLabelValues().Inc()
		}
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*insights.Snapshot), nil
	}
}

// Close cancels running builds and waits for them to return. Refresh fails
// with ErrClosed afterwards.
func (r *Refresher) Close() {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()

	r.stop()
	r.builds.Wait()
}

func (r *Refresher) join(key string) (*flight, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, ErrClosed
	}
	f, ok := r.flights[key]
	if !ok {
		ctx, cancel := context.WithTimeout(r.lifetime, r.timeout)
		f = &flight{ctx: ctx, cancel: cancel}
		r.flights[key] = f
	}
	f.waiters++
	return f, nil
}

func (r *Refresher) leave(key string, f *flight) {
	r.mu.Lock()
	defer r.mu.Unlock()
	f.waiters--
	if f.waiters > 0 {
		return
	}
	f.cancel()
	if r.flights[key] == f {
		// nobody is waiting; the next caller starts a fresh build
		delete(r.flights, key)
		r.inflight.Forget(key)
	}
}

func (r *Refresher) lead(key string, f *flight, userID string, periodEnd time.Time) (*insights.Snapshot, error) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil, ErrClosed
	}
	r.builds.Add(1)
	r.mu.Unlock()
	defer r.builds.Done()

	defer func() {
		r.mu.Lock()
		if r.flights[key] == f {
			delete(r.flights, key)
		}
		r.mu.Unlock()
	}()
	return r.run(f.ctx, userID, periodEnd)
}

func (r *Refresher) run(ctx context.Context, userID string, periodEnd time.Time) (*insights.Snapshot, error) {
	start := time.Now()
	log := r.logger.WithField("user_id", userID)

	policy := retrypolicy.NewBuilder[*insights.Snapshot]().
		HandleIf(func(_ *insights.Snapshot, err error) bool {
			return err != nil && insights.IsRetryable(err)
		}).
		WithMaxRetries(r.maxRetries).
		WithBackoff(r.retryDelay, 8*r.retryDelay).
		ReturnLastFailure().
		OnRetry(func(e failsafe.ExecutionEvent[*insights.Snapshot]) {
			log.WithError(e.LastError()).WithField("attempt", e.Attempts()).Warn("Retrying snapshot build")
		}).
		Build()

	snapshot, err := failsafe.With[*insights.Snapshot](policy).WithContext(ctx).Get(func() (*insights.Snapshot, error) {
		return r.builder.Build(ctx, userID, periodEnd)
	})

	status := buildStatus(err)
	r.observe(status, time.Since(start), snapshot)

	if err != nil {
		entry := log.WithError(err).WithField("status", status)
		if insights.IsUserError(err) {
			entry.Info("Snapshot build rejected")
		} else if status == "cancelled" {
			entry.Info("Snapshot build abandoned")
		} else {
			entry.Error("Snapshot build failed")
		}
		return nil, err
	}

	r.publish(ctx, snapshot)
	return snapshot, nil
}

func (r *Refresher) observe(status string, elapsed time.Duration, snapshot *insights.Snapshot) {
	if r.metrics == nil {
		return
	}
	r.metrics.SnapshotBuilds.WithLabelValues(status).Inc()
	r.metrics.BuildDuration.WithLabelValues(status).Observe(elapsed.Seconds())
	if snapshot != nil {
		r.metrics.PostsAggregated.WithLabelValues("analyzed").Add(float64(snapshot.Stats.PostsAnalyzed))
		r.metrics.PostsAggregated.WithLabelValues("skipped").Add(float64(snapshot.Stats.PostsSkipped))
	}
}

// publish never fails the build; the snapshot is already stored.
func (r *Refresher) publish(ctx context.Context, snapshot *insights.Snapshot) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()

	if err := r.publisher.Publish(ctx, events.NewSnapshotEvent(snapshot)); err != nil {
		r.logger.WithError(err).WithFields(logging.Fields{
			"user_id":     snapshot.UserID,
			"snapshot_id": snapshot.ID,
		}).Warn("Failed to publish snapshot event")
	}
}

func buildStatus(err error) string {
	var noCompetitors *insights.NoCompetitorsError
	var writeErr *insights.PersistenceWriteError
	var readErr *insights.PersistenceReadError
	switch {
	case err == nil:
		return "success"
	case errors.As(err, &noCompetitors):
		return "no_competitors"
	case errors.Is(err, insights.ErrEmptyUserID):
		return "invalid"
	case errors.Is(err, context.Canceled):
		return "cancelled"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.As(err, &readErr):
		return "read_error"
	case errors.As(err, &writeErr):
		return "write_error"
	default:
		return "error"
	}
}
