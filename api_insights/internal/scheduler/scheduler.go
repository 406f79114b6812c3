package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"lance/api_insights/internal/insights"
	"lance/api_insights/internal/metrics"
	"lance/pkg/logging"
)

const (
	defaultInterval    = 7 * 24 * time.Hour
	defaultConcurrency = 4
	runTimeout         = 30 * time.Minute
)

// UserLister returns every user that tracks at least one competitor.
type UserLister interface {
	UserIDsWithCompetitors(ctx context.Context) ([]string, error)
}

// Refresher builds one user's snapshot.
type Refresher interface {
	Refresh(ctx context.Context, userID string, periodEnd time.Time) (*insights.Snapshot, error)
}

type Config struct {
	Users       UserLister
	Refresher   Refresher
	Metrics     *metrics.Metrics
	Logger      logging.Logger
	Interval    time.Duration
	Concurrency int
	RunOnStart  bool
}

// RunSummary reports the outcome of one batch run.
type RunSummary struct {
	PeriodEnd     time.Time         `json:"period_end"`
	Users         int               `json:"users"`
	Succeeded     int               `json:"succeeded"`
	NoCompetitors int               `json:"no_competitors"`
	Failed        int               `json:"failed"`
	// Skipped counts users not built because the run was cancelled.
	Skipped       int               `json:"skipped"`
	Failures      map[string]string `json:"failures,omitempty"`
	Duration      time.Duration     `json:"duration_ns"`
}

// Scheduler runs weekly snapshot builds for all users
type Scheduler struct {
	users       UserLister
	refresher   Refresher
	metrics     *metrics.Metrics
	logger      logging.Logger
	interval    time.Duration
	concurrency int
	runOnStart  bool

	ticker   *time.Ticker
	stopChan chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

func NewScheduler(cfg Config) *Scheduler {
	s := &Scheduler{
		users:       cfg.Users,
		refresher:   cfg.Refresher,
		metrics:     cfg.Metrics,
		logger:      cfg.Logger,
		interval:    cfg.Interval,
		concurrency: cfg.Concurrency,
		runOnStart:  cfg.RunOnStart,
		stopChan:    make(chan struct{}),
	}
	if s.logger == nil {
		s.logger = logging.NewDiscardLogger()
	}
	if s.interval <= 0 {
		s.interval = defaultInterval
	}
	if s.concurrency <= 0 {
		s.concurrency = defaultConcurrency
	}
	return s
}

// Start begins the periodic batch runs
func (s *Scheduler) Start() {
	s.logger.WithFields(logging.Fields{
		"interval":     s.interval,
		"concurrency":  s.concurrency,
		"run_on_start": s.runOnStart,
	}).Info("Starting snapshot scheduler")

	s.ticker = time.NewTicker(s.interval)
	s.wg.Add(1)
	go s.loop()
}

// Stop stops the ticker and waits for an in-progress run to finish.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() {
		s.logger.Info("Stopping snapshot scheduler")
		if s.ticker != nil {
			s.ticker.Stop()
		}
		close(s.stopChan)
	})
	s.wg.Wait()
}

func (s *Scheduler) loop() {
	defer s.wg.Done()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		<-s.stopChan
		cancel()
	}()

	if s.runOnStart {
		s.runScheduled(ctx)
	}
	for {
		select {
		case <-s.ticker.C:
			s.runScheduled(ctx)
		case <-s.stopChan:
			return
		}
	}
}

func (s *Scheduler) runScheduled(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, runTimeout)
	defer cancel()
	if _, err := s.RunOnce(ctx, time.Time{}); err != nil {
		s.logger.WithError(err).Error("Scheduled snapshot run failed")
	}
}

// RunOnce builds a snapshot for every user with competitors, anchored on
// periodEnd (zero means today). Users are processed in parallel up to the
// configured concurrency; a failure for one user never stops the others.
// Once ctx is done no further builds start and the remaining users are
// reported as skipped. The returned error is only set when the user list
// could not be loaded.
func (s *Scheduler) RunOnce(ctx context.Context, periodEnd time.Time) (*RunSummary, error) {
	start := time.Now()
	summary := &RunSummary{PeriodEnd: periodEnd, Failures: map[string]string{}}

	userIDs, err := s.users.UserIDsWithCompetitors(ctx)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	summary.Users = len(userIDs)
	s.logger.WithField("users", len(userIDs)).Info("Running snapshot batch")

	var mu sync.Mutex
	g := new(errgroup.Group)
	g.SetLimit(s.concurrency)
	for i, userID := range userIDs {
		if ctx.Err() != nil {
			mu.Lock()
			summary.Skipped += len(userIDs) - i
			mu.Unlock()
			break
		}
		g.Go(func() error {
			snap, err := s.refresher.Refresh(ctx, userID, periodEnd)

			mu.Lock()
			defer mu.Unlock()
			var noCompetitors *insights.NoCompetitorsError
			switch {
			case ctx.Err() != nil && errors.Is(err, ctx.Err()):
				summary.Skipped++
			case err == nil:
				summary.Succeeded++
				if summary.PeriodEnd.IsZero() {
					summary.PeriodEnd = snap.PeriodEnd
				}
			case errors.As(err, &noCompetitors):
				// competitors removed since the user list was read
				summary.NoCompetitors++
			default:
				summary.Failed++
				summary.Failures[userID] = err.Error()
			}
			return nil
		})
	}
	_ = g.Wait()

	summary.Duration = time.Since(start)
	s.record(summary)
	s.logger.WithFields(logging.Fields{
		"users":          summary.Users,
		"succeeded":      summary.Succeeded,
		"no_competitors": summary.NoCompetitors,
		"failed":         summary.Failed,
		"skipped":        summary.Skipped,
		"duration":       summary.Duration,
	}).Info("Snapshot batch finished")
	return summary, nil
}

func (s *Scheduler) record(summary *RunSummary) {
	if s.metrics == nil {
		return
	}
	s.metrics.LastBatchUsers.WithLabelValues("succeeded").Set(float64(summary.Succeeded))
	s.metrics.LastBatchUsers.WithLabelValues("no_competitors").Set(float64(summary.NoCompetitors))
	s.metrics.LastBatchUsers.WithLabelValues("failed").Set(float64(summary.Failed))
	s.metrics.LastBatchUsers.WithLabelValues("skipped").Set(float64(summary.Skipped))
}
