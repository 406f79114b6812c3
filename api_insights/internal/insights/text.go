package insights

import (
	"regexp"
	"strings"
)

// MaxKeywordTokens bounds the keyword output of a single caption.
const MaxKeywordTokens = 1000

const minKeywordLength = 3

var (
	hashtagPattern = regexp.MustCompile(`#[A-Za-z0-9_]+`)
	urlPattern     = regexp.MustCompile(`https?://\S+`)
	nonWordPattern = regexp.MustCompile(`[^A-Za-z0-9\s]+`)
)

var stopwords = newStopwordSet(
	"a", "about", "above", "after", "again", "against", "all", "am", "an", "and",
	"any", "are", "as", "at", "be", "because", "been", "before", "being", "below",
	"between", "both", "but", "by", "can", "could", "did", "do", "does", "doing",
	"down", "during", "each", "few", "for", "from", "further", "had", "has", "have",
	"having", "he", "her", "here", "hers", "herself", "him", "himself", "his", "how",
	"i", "if", "in", "into", "is", "it", "its", "itself", "just", "me",
	"more", "most", "my", "myself", "no", "nor", "not", "now", "of", "off",
	"on", "once", "only", "or", "other", "our", "ours", "ourselves", "out", "over",
	"own", "same", "she", "should", "so", "some", "such", "than", "that", "the",
	"their", "theirs", "them", "themselves", "then", "there", "these", "they", "this", "those",
	"through", "to", "too", "under", "until", "up", "very", "was", "we", "were",
	"what", "when", "where", "which", "while", "who", "whom", "why", "will", "with",
	"would", "you", "your", "yours", "yourself", "yourselves", "also", "get", "got", "via",
)

func newStopwordSet(words ...string) map[string]struct{} {
	set := make(map[string]struct{}, len(words))
	for _, w := range words {
		set[w] = struct{}{}
	}
	return set
}

// IsStopword reports whether word (already lowercased) is filtered from keywords.
func IsStopword(word string) bool {
	_, ok := stopwords[word]
	return ok
}

// ExtractHashtags returns every hashtag in caption, lowercased, in order,
// duplicates included.
func ExtractHashtags(caption string) []string {
	matches := hashtagPattern.FindAllString(caption, -1)
	if len(matches) == 0 {
		return []string{}
	}
	out := make([]string, len(matches))
	for i, m := range matches {
		out[i] = strings.ToLower(m)
	}
	return out
}

// ExtractKeywords returns the content words of caption with hashtags, URLs,
// punctuation, stopwords and tokens of two characters or fewer removed.
func ExtractKeywords(caption string) []string {
	if caption == "" {
		return []string{}
	}
	text := hashtagPattern.ReplaceAllString(caption, " ")
	text = urlPattern.ReplaceAllString(text, " ")
	text = nonWordPattern.ReplaceAllString(text, "")
	text = strings.ToLower(text)

	out := []string{}
	for _, token := range strings.Fields(text) {
		if len(token) < minKeywordLength || IsStopword(token) {
			continue
		}
		out = append(out, token)
		if len(out) == MaxKeywordTokens {
			break
		}
	}
	return out
}
