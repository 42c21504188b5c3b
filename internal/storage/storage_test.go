package storage

import (
	"strconv"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/sitesearch-crawler/internal/crawler"
)

func TestContainsPattern(t *testing.T) {
	t.Parallel()
	require.Equal(t, "%golang%", ContainsPattern("golang"))
	require.Equal(t, `%50\% off\_now\\%`, ContainsPattern(`50% off_now\`))
}

func TestDedupeKeywords(t *testing.T) {
	t.Parallel()
	got := DedupeKeywords([]crawler.KeywordRank{
		{Keyword: "alpha", Rank: 1},
		{Keyword: "beta", Rank: 2},
		{Keyword: "alpha", Rank: 5},
		{Keyword: "", Rank: 9},
	})
	require.Equal(t, []crawler.KeywordRank{{Keyword: "alpha", Rank: 5}, {Keyword: "beta", Rank: 2}}, got)
}

func TestKeywordPredicate(t *testing.T) {
	t.Parallel()
	dollar := func(i int) string { return "$" + strconv.Itoa(i+1) }
	require.Equal(t,
		`k.keyword LIKE $1 ESCAPE '\' OR k.keyword LIKE $2 ESCAPE '\'`,
		KeywordPredicate("k.keyword", 2, crawler.SearchAny, dollar))
	require.Equal(t,
		`keyword LIKE ? ESCAPE '\' AND keyword LIKE ? ESCAPE '\'`,
		KeywordPredicate("keyword", 2, crawler.SearchAll, func(int) string { return "?" }))
}
