package search

import "strings"

// Query is a keyword list split into plain terms and quoted phrases.
type Query struct {
	Terms   []string
	Phrases []string
}

// ParseQuery lowercases and trims every keyword, drops empty ones, and treats a
// keyword wrapped in one pair of double quotes as a phrase. Plain terms keep
// their order, so Terms[0] is the phrase search anchor.
func ParseQuery(keywords []string) Query {
	var q Query
	for _, raw := range keywords {
		kw := strings.ToLower(strings.TrimSpace(raw))
		if kw == "" {
			continue
		}
		if phrase, ok := unquote(kw); ok {
			if phrase != "" {
				q.Phrases = append(q.Phrases, phrase)
			}
			continue
		}
		q.Terms = append(q.Terms, kw)
	}
	return q
}

// Empty reports whether nothing searchable is left.
func (q Query) Empty() bool {
	return len(q.Terms) == 0 && len(q.Phrases) == 0
}

func unquote(kw string) (string, bool) {
	if len(kw) < 2 || kw[0] != '"' || kw[len(kw)-1] != '"' {
		return "", false
	}
	inner := kw[1 : len(kw)-1]
	if strings.Contains(inner, `"`) {
		return "", false
	}
	return strings.TrimSpace(inner), true
}
