package insights

import "sort"

const (
	MaxHashtags  = 10
	MaxKeywords  = 20
	MaxCreatives = 5
)

// Rank counts items and orders them by descending frequency. Equal
// frequencies keep the order in which the items first appeared.
func Rank(kind TermKind, items []string) []RankedTerm {
	counts := make(map[string]int, len(items))
	order := make([]string, 0, len(items))
	for _, item := range items {
		if _, seen := counts[item]; !seen {
			order = append(order, item)
		}
		counts[item]++
	}

	ranked := make([]RankedTerm, len(order))
	for i, term := range order {
		ranked[i] = RankedTerm{Kind: kind, Term: term, Frequency: counts[term]}
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].Frequency > ranked[j].Frequency
	})
	return ranked
}

// Top truncates terms to at most n entries.
func Top(terms []RankedTerm, n int) []RankedTerm {
	if len(terms) <= n {
		return terms
	}
	return terms[:n]
}
