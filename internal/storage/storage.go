// Package storage holds helpers shared by the SQL-backed frontier and index stores.
package storage

import (
	"strings"

	"github.com/JakeFAU/sitesearch-crawler/internal/crawler"
)

// LikeEscape is the escape character used with ContainsPattern.
const LikeEscape = `\`

var likeReplacer = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// ContainsPattern builds a LIKE pattern matching term literally anywhere in the column.
func ContainsPattern(term string) string {
	return "%" + likeReplacer.Replace(term) + "%"
}

// DedupeKeywords drops repeated keywords, keeping the last rank seen for each.
// Order follows the first occurrence.
func DedupeKeywords(keywords []crawler.KeywordRank) []crawler.KeywordRank {
	index := make(map[string]int, len(keywords))
	out := make([]crawler.KeywordRank, 0, len(keywords))
	for _, kw := range keywords {
		if kw.Keyword == "" {
			continue
		}
		if i, ok := index[kw.Keyword]; ok {
			out[i].Rank = kw.Rank
			continue
		}
		index[kw.Keyword] = len(out)
		out = append(out, kw)
	}
	return out
}

// KeywordPredicate joins one "<column> LIKE <placeholder> ESCAPE '\'" clause per term
// with OR or AND. placeholder receives the zero-based term index.
func KeywordPredicate(column string, terms int, mode crawler.SearchMode, placeholder func(i int) string) string {
	joiner := " OR "
	if mode == crawler.SearchAll {
		joiner = " AND "
	}
	clauses := make([]string, 0, terms)
	for i := range terms {
		clauses = append(clauses, column+" LIKE "+placeholder(i)+" ESCAPE '"+LikeEscape+"'")
	}
	return strings.Join(clauses, joiner)
}
