package analyzer

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/sitesearch-crawler/internal/crawler"
)

func mustParse(t *testing.T, html string) *Page {
	t.Helper()
	page, err := Parse(html, "https://example.com/dir/page.html")
	require.NoError(t, err)
	return page
}

func TestKeywords_MetaTagWinsWhenItFillsTheLimit(t *testing.T) {
	t.Parallel()

	page := mustParse(t, `<html><head>
		<title>Ignored Title Words</title>
		<meta name="keywords" content="alpha, beta, gamma, delta, ab, epsilon">
		</head><body><h1>Heading Words Here</h1></body></html>`)

	require.Equal(t, []string{"alpha", "beta", "gamma", "delta"}, page.Keywords(4))
}

func TestKeywords_FallsBackThroughTitleAndHeadings(t *testing.T) {
	t.Parallel()

	page := mustParse(t, `<html><head>
		<meta name="Keywords" content="news">
		<title>Daily in World</title>
		</head><body>
		<h2>Second level</h2>
		<h1>First level news</h1>
		</body></html>`)

	// meta first, then title, then h1 before h2 regardless of document order; "in" is too short.
	require.Equal(t,
		[]string{"news", "daily", "world", "first", "level", "second"},
		page.Keywords(10))
}

func TestKeywords_ZeroLimit(t *testing.T) {
	t.Parallel()
	page := mustParse(t, `<html><head><title>Something</title></head></html>`)
	require.Empty(t, page.Keywords(0))
}

func TestAnalyze_HeadingOnlyPage(t *testing.T) {
	t.Parallel()

	html := `<html><head><title></title></head><body>
		<h1>Welcome Home Page</h1>
		<p>Welcome to our home. Home sweet home!</p>
		<a href="/about#team">About</a>
		</body></html>`

	res, err := Analyze(html, "https://example.com/", Options{KeywordLimit: 2, DescriptionMaxLength: 200, MaxLinks: 10})
	require.NoError(t, err)
	require.Equal(t, []string{"welcome", "home"}, res.KeywordList())
	require.Equal(t, []crawler.KeywordRank{
		{Keyword: "welcome", Rank: 2},
		{Keyword: "home", Rank: 4},
	}, res.Keywords)
	require.Equal(t, []string{"https://example.com/about"}, res.Links)
	require.Equal(t, "Welcome Home Page", res.Description)
}

func TestRank_IncludesMetaKeywordOccurrences(t *testing.T) {
	t.Parallel()

	page := mustParse(t, `<html><head><meta name="keywords" content="cats, cat food"></head>
		<body><p>cat cat dog</p></body></html>`)

	ranks := page.Rank([]string{"cat", "dog"})
	require.Equal(t, []crawler.KeywordRank{
		{Keyword: "cat", Rank: 3},
		{Keyword: "dog", Rank: 1},
	}, ranks)
}

func TestCountWholeWord(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		text string
		term string
		want int
	}{
		{name: "simple", text: "cat cat dog", term: "cat", want: 2},
		{name: "case insensitive", text: "Cat CAT cAt", term: "cat", want: 3},
		{name: "not inside words", text: "concat category cat_food cats", term: "cat", want: 0},
		{name: "punctuation is a boundary", text: "(cat), cat.", term: "cat", want: 2},
		{name: "metacharacters are literal", text: "a.b*+? axb*+? a.b*+?", term: "a.b*+?", want: 2},
		{name: "no wildcard expansion", text: "aXXXb", term: "a.*b", want: 0},
		{name: "phrase", text: "the quick brown fox, the Quick Brown fox", term: "quick brown", want: 2},
		{name: "empty term", text: "anything", term: "  ", want: 0},
		{name: "overlap after rejected candidate", text: "xa-a-a", term: "a-a", want: 1},
		{name: "overlap across multibyte rune", text: "éa-a-a ok a-a", term: "a-a", want: 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			require.NotPanics(t, func() {
				require.Equal(t, tt.want, CountWholeWord(tt.text, tt.term))
			})
		})
	}
}

func TestVisibleText_SkipsScriptsAndSeparatesNodes(t *testing.T) {
	t.Parallel()

	page := mustParse(t, `<html><head><title>hidden title</title><style>.cat{}</style></head>
		<body><p>cat</p><p>cat</p><script>var cat = 1;</script><noscript>cat</noscript></body></html>`)

	require.Equal(t, "cat cat", page.VisibleText())
	require.Equal(t, 2, CountWholeWord(page.VisibleText(), "cat"))
}

func TestLinks(t *testing.T) {
	t.Parallel()

	page := mustParse(t, `<html><body>
		<a href="other.html#section">relative</a>
		<a href="/root">root</a>
		<a href="https://example.com/root#again">duplicate after fragment strip</a>
		<a href="#top">fragment only</a>
		<a href="mailto:someone@example.com">mail</a>
		<a href="javascript:void(0)">js</a>
		<a href="//cdn.example.org/lib">protocol relative</a>
		<a href="http://other.test/x">absolute</a>
		</body></html>`)

	require.Equal(t, []string{
		"https://example.com/dir/other.html",
		"https://example.com/root",
		"https://cdn.example.org/lib",
		"http://other.test/x",
	}, page.Links(0))

	require.Equal(t, []string{
		"https://example.com/dir/other.html",
		"https://example.com/root",
	}, page.Links(2))
}

func TestDescription(t *testing.T) {
	t.Parallel()

	t.Run("meta within limit", func(t *testing.T) {
		t.Parallel()
		page := mustParse(t, `<html><head><meta name="description" content="  A short   summary. ">
			<title>Title</title></head></html>`)
		require.Equal(t, "A short summary.", page.Description(50))
	})

	t.Run("meta too long falls back to headings", func(t *testing.T) {
		t.Parallel()
		page := mustParse(t, `<html><head><meta name="description" content="`+strings.Repeat("x", 60)+`">
			<title>Title</title></head><body><h1>Main</h1><h3>Sub</h3></body></html>`)
		require.Equal(t, "Title Main Sub", page.Description(50))
	})

	t.Run("headings truncated at limit", func(t *testing.T) {
		t.Parallel()
		page := mustParse(t, `<html><head><title>Hello World</title></head><body><h1>Second Part</h1></body></html>`)
		require.Equal(t, "Hello World Sec", page.Description(15))
	})

	t.Run("only long meta available", func(t *testing.T) {
		t.Parallel()
		page := mustParse(t, `<html><head><meta name="description" content="abcdefghij"></head></html>`)
		require.Equal(t, "abcde", page.Description(5))
	})

	t.Run("nothing available", func(t *testing.T) {
		t.Parallel()
		page := mustParse(t, `<html><body><p>just text</p></body></html>`)
		require.Empty(t, page.Description(20))
	})
}

func TestParse_Errors(t *testing.T) {
	t.Parallel()

	_, err := Parse("   ", "https://example.com")
	require.ErrorIs(t, err, crawler.ErrParse)

	_, err = Analyze("<p>x</p>", "://bad", DefaultOptions())
	require.ErrorIs(t, err, crawler.ErrParse)
}
