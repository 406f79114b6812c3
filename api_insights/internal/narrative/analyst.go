package narrative

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"lance/api_insights/internal/insights"
	"lance/api_insights/internal/metrics"
	"lance/pkg/cache"
	"lance/pkg/llm"
	"lance/pkg/logging"
)

const (
	defaultCacheTTL  = time.Hour
	summarizeTimeout = 45 * time.Second
	maxCaptionChars  = 280
	maxCachedEntries = 1000
)

// ErrNotConfigured is returned when no LLM provider is set up.
var ErrNotConfigured = errors.New("narrative analysis is not configured")

const analystSystemPrompt = `You are a social media strategist reviewing a week of competitor activity for a small business.
You receive the competitors' most used hashtags, most used caption keywords and best performing posts.
Write three to five short bullet points the business can act on this week: which themes to post about,
which formats perform, and which hashtags are worth testing. Be concrete and do not invent numbers.
Respond with ONLY the bullet points.`

type Config struct {
	LLM      llm.Provider
	Metrics  *metrics.Metrics
	Logger   logging.Logger
	CacheTTL time.Duration
}

// Analyst turns a snapshot into a short written strategy summary.
// Snapshots never change, so summaries are cached by snapshot ID.
type Analyst struct {
	llm     llm.Provider
	metrics *metrics.Metrics
	logger  logging.Logger
	cache   *cache.Cache[string]
}

func NewAnalyst(cfg Config) *Analyst {
	ttl := cfg.CacheTTL
	if ttl <= 0 {
		ttl = defaultCacheTTL
	}
	a := &Analyst{
		llm:     cfg.LLM,
		metrics: cfg.Metrics,
		logger:  cfg.Logger,
	}
	if a.logger == nil {
		a.logger = logging.NewDiscardLogger()
	}
	a.cache = cache.New[string](cache.Options{TTL: ttl, MaxEntries: maxCachedEntries, LoadTimeout: summarizeTimeout}, cache.Hooks{
		OnHit:   func(string) { a.count("cache_hit") },
		OnMiss:  func(string) { a.count("cache_miss") },
		OnError: func(string) { a.count("error") },
	})
	return a
}

// Enabled reports whether a provider is configured.
func (a *Analyst) Enabled() bool {
	return a != nil && a.llm != nil
}

// Summarize returns the strategy summary for snap. Concurrent calls for the
// same snapshot share a single LLM request.
func (a *Analyst) Summarize(ctx context.Context, snap *insights.Snapshot) (string, error) {
	if !a.Enabled() {
		return "", ErrNotConfigured
	}
	if snap == nil || snap.Empty() {
		return "", nil
	}

	key := snap.ID
	if key == "" {
		key = snap.UserID + "|" + snap.PeriodEnd.Format(time.DateOnly)
	}
	return a.cache.Get(ctx, key, func(ctx context.Context, _ string) (string, error) {
		return a.generate(ctx, snap)
	})
}

func (a *Analyst) generate(ctx context.Context, snap *insights.Snapshot) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, summarizeTimeout)
	defer cancel()

	resp, err := a.llm.Generate(ctx, llm.Prompt(analystSystemPrompt, BuildPrompt(snap)))
	if err != nil {
		a.logger.WithError(err).WithFields(logging.Fields{
			"user_id":     snap.UserID,
			"snapshot_id": snap.ID,
		}).Warn("Narrative generation failed")
		return "", fmt.Errorf("generate narrative: %w", err)
	}
	text := strings.TrimSpace(resp.Text)
	if text == "" {
		return "", llm.ErrEmptyCompletion
	}
	return text, nil
}

func (a *Analyst) count(status string) {
	if a.metrics != nil {
		a.metrics.NarrativeRequests.WithLabelValues(status).Inc()
	}
}

// BuildPrompt renders the snapshot as the user turn of the analysis prompt.
func BuildPrompt(snap *insights.Snapshot) string {
	var b strings.Builder

	fmt.Fprintf(&b, "Period: %s to %s\n\n",
		snap.PeriodStart.Format(time.DateOnly),
		snap.PeriodEnd.AddDate(0, 0, -1).Format(time.DateOnly))

	if len(snap.TopHashtags) > 0 {
		b.WriteString("Top hashtags:\n")
		for _, term := range snap.TopHashtags {
			fmt.Fprintf(&b, "- %s (%d)\n", term.Term, term.Frequency)
		}
		b.WriteString("\n")
	}

	if len(snap.TopKeywords) > 0 {
		b.WriteString("Top caption keywords:\n")
		for _, term := range snap.TopKeywords {
			fmt.Fprintf(&b, "- %s (%d)\n", term.Term, term.Frequency)
		}
		b.WriteString("\n")
	}

	if len(snap.TopCreatives) > 0 {
		b.WriteString("Best performing posts:\n")
		for i, c := range snap.TopCreatives {
			fmt.Fprintf(&b, "%d. [%s] %s\n", i+1, c.PostType, truncateAtWord(oneLine(c.Caption), maxCaptionChars))
		}
	}

	return b.String()
}

func oneLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func truncateAtWord(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	cut := maxLen
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	truncated := s[:cut]
	lastSpace := strings.LastIndex(truncated, " ")
	if lastSpace > maxLen/2 {
		return truncated[:lastSpace] + "…"
	}
	return truncated + "…"
}
