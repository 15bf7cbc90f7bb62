package memory

import "strings"

// relevance computes a keyword-overlap score in [0,1]: the fraction of query
// terms that occur in content (case insensitive). An empty query matches
// everything with full score so recency-ordered retrieval still works.
func relevance(query, content string) float64 {
	terms := tokenize(query)
	if len(terms) == 0 {
		return 1.0
	}
	lc := strings.ToLower(content)
	matched := 0
	for _, t := range terms {
		if strings.Contains(lc, t) {
			matched++
		}
	}
	return float64(matched) / float64(len(terms))
}

func tokenize(s string) []string {
	fields := strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !('a' <= r && r <= 'z' || '0' <= r && r <= '9')
	})
	out := fields[:0]
	for _, f := range fields {
		if len(f) > 1 { // drop single-letter noise
			out = append(out, f)
		}
	}
	return out
}
