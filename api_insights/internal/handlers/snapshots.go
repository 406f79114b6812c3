package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"lance/api_insights/internal/insights"
	"lance/api_insights/internal/store"
	"lance/pkg/logging"
	"lance/pkg/middleware"
	"lance/pkg/pagination"
)

const (
	msgAddCompetitors = "add competitors first"
	msgTryAgain       = "try again later"
	analysisTimeout   = 60 * time.Second
)

type Config struct {
	Refresher    SnapshotRefresher
	Reader       SnapshotReader
	Batch        BatchRunner
	Narrator     Narrator
	Logger       logging.Logger
	ServiceToken string
}

type SnapshotHandler struct {
	refresher    SnapshotRefresher
	reader       SnapshotReader
	batch        BatchRunner
	narrator     Narrator
	logger       logging.Logger
	serviceToken string
}

func NewSnapshotHandler(cfg Config) *SnapshotHandler {
	logger := cfg.Logger
	if logger == nil {
		logger = logging.NewDiscardLogger()
	}
	return &SnapshotHandler{
		refresher:    cfg.Refresher,
		reader:       cfg.Reader,
		batch:        cfg.Batch,
		narrator:     cfg.Narrator,
		logger:       logger,
		serviceToken: cfg.ServiceToken,
	}
}

// RegisterRoutes mounts the API under /api/v1. Admin routes require the
// service token.
func (h *SnapshotHandler) RegisterRoutes(router gin.IRouter) {
	v1 := router.Group("/api/v1")

	users := v1.Group("/users/:user_id")
	users.POST("/snapshots", h.CreateSnapshot)
	users.GET("/snapshots", h.ListSnapshots)
	users.GET("/snapshots/latest", h.LatestSnapshot)
	users.GET("/analysis", h.Analysis)

	admin := v1.Group("/admin", middleware.ServiceAuthMiddleware(h.serviceToken))
	admin.POST("/snapshots/run", h.RunBatch)
}

// CreateSnapshot builds and stores the weekly snapshot for a user.
func (h *SnapshotHandler) CreateSnapshot(c *gin.Context) {
	userID := strings.TrimSpace(c.Param("user_id"))
	periodEnd, ok := parsePeriodEnd(c)
	if !ok {
		return
	}

	snap, err := h.refresher.Refresh(c.Request.Context(), userID, periodEnd)
	if err != nil {
		h.respondBuildError(c, userID, err)
		return
	}
	c.JSON(http.StatusCreated, snap)
}

func (h *SnapshotHandler) LatestSnapshot(c *gin.Context) {
	userID := strings.TrimSpace(c.Param("user_id"))

	snap, err := h.reader.LatestSnapshot(c.Request.Context(), userID)
	if errors.Is(err, store.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "no snapshot yet"})
		return
	}
	if err != nil {
		h.respondReadError(c, userID, err)
		return
	}
	c.JSON(http.StatusOK, snap)
}

// ListSnapshots pages through a user's history, newest first. Pass the
// returned next_cursor as ?cursor= to continue.
func (h *SnapshotHandler) ListSnapshots(c *gin.Context) {
	userID := strings.TrimSpace(c.Param("user_id"))

	limit := pagination.DefaultLimit
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
			return
		}
		limit = pagination.ClampLimit(parsed)
	}
	after, err := pagination.DecodeCursor(c.Query("cursor"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid cursor"})
		return
	}

	page, err := h.reader.ListSnapshots(c.Request.Context(), userID, limit, after)
	if err != nil {
		h.respondReadError(c, userID, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"snapshots":   page.Snapshots,
		"count":       len(page.Snapshots),
		"next_cursor": page.NextCursor,
	})
}

// Analysis returns the latest snapshot with a written strategy summary.
// The snapshot is still returned when the summary cannot be produced.
func (h *SnapshotHandler) Analysis(c *gin.Context) {
	userID := strings.TrimSpace(c.Param("user_id"))

	snap, err := h.reader.LatestSnapshot(c.Request.Context(), userID)
	if errors.Is(err, store.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "no snapshot yet"})
		return
	}
	if err != nil {
		h.respondReadError(c, userID, err)
		return
	}

	resp := gin.H{"snapshot": snap, "narrative_status": "disabled"}
	if h.narrator != nil && h.narrator.Enabled() {
		ctx, cancel := context.WithTimeout(c.Request.Context(), analysisTimeout)
		defer cancel()
		text, err := h.narrator.Summarize(ctx, snap)
		if err != nil {
			middleware.GetContextLogger(c, h.logger).WithError(err).Warn("Narrative unavailable")
			resp["narrative_status"] = "unavailable"
		} else {
			resp["narrative"] = text
			resp["narrative_status"] = "ok"
		}
	}
	c.JSON(http.StatusOK, resp)
}

// RunBatch triggers a snapshot run for every user.
func (h *SnapshotHandler) RunBatch(c *gin.Context) {
	periodEnd, ok := parsePeriodEnd(c)
	if !ok {
		return
	}

	summary, err := h.batch.RunOnce(c.Request.Context(), periodEnd)
	if err != nil {
		middleware.GetContextLogger(c, h.logger).WithError(err).Error("Batch snapshot run failed")
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": msgTryAgain})
		return
	}
	c.JSON(http.StatusOK, summary)
}

func (h *SnapshotHandler) respondBuildError(c *gin.Context, userID string, err error) {
	log := middleware.GetContextLogger(c, h.logger).WithError(err).WithField("user_id", userID)

	var noCompetitors *insights.NoCompetitorsError
	switch {
	case errors.As(err, &noCompetitors):
		log.Info("Snapshot requested without competitors")
		c.JSON(http.StatusBadRequest, gin.H{"error": msgAddCompetitors})
	case errors.Is(err, insights.ErrEmptyUserID):
		c.JSON(http.StatusBadRequest, gin.H{"error": "user id is required"})
	default:
		log.Error("Snapshot build failed")
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": msgTryAgain})
	}
}

func (h *SnapshotHandler) respondReadError(c *gin.Context, userID string, err error) {
	middleware.GetContextLogger(c, h.logger).WithError(err).WithField("user_id", userID).Error("Snapshot read failed")
	c.JSON(http.StatusServiceUnavailable, gin.H{"error": msgTryAgain})
}

// parsePeriodEnd reads the optional period_end=YYYY-MM-DD query parameter.
// It writes a 400 response and returns false when the value is malformed.
func parsePeriodEnd(c *gin.Context) (time.Time, bool) {
	raw := strings.TrimSpace(c.Query("period_end"))
	if raw == "" {
		return time.Time{}, true
	}
	parsed, err := time.Parse(time.DateOnly, raw)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "period_end must be YYYY-MM-DD"})
		return time.Time{}, false
	}
	return parsed, true
}
