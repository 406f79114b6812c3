package insights

import "sort"

// Score is likes plus comments, plus views for reels only. Negative counts
// are treated as zero.
func Score(p Post) int64 {
	score := max(p.LikesCount, 0) + max(p.CommentsCount, 0)
	if p.PostType == PostTypeReel {
		score += max(p.ViewsCount, 0)
	}
	return score
}

// ScorePosts scores posts and orders them by descending score. Ties keep input order.
func ScorePosts(posts []Post) []ScoredPost {
	scored := make([]ScoredPost, len(posts))
	for i, p := range posts {
		scored[i] = ScoredPost{Post: p, EngagementScore: Score(p)}
	}
	sort.SliceStable(scored, func(i, j int) bool {
		return scored[i].EngagementScore > scored[j].EngagementScore
	})
	return scored
}

// TopCreatives returns the n highest scoring posts as creatives.
func TopCreatives(posts []Post, n int) []Creative {
	scored := ScorePosts(posts)
	if len(scored) > n {
		scored = scored[:n]
	}
	out := make([]Creative, len(scored))
	for i, sp := range scored {
		out[i] = Creative{
			CompetitorID: sp.CompetitorID,
			PostID:       sp.ID,
			PostType:     sp.PostType,
			Caption:      sp.Caption,
			MediaURL:     sp.MediaURL,
		}
	}
	return out
}
