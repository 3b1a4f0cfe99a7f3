package pipeline

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const articleHTML = `<!DOCTYPE html>
<html>
<head>
  <title>  Model Benchmarks Shift  </title>
  <meta name="description" content="A new leaderboard appears.">
  <style>body { color: red; }</style>
</head>
<body>
  <nav><a href="/">Home</a></nav>
  <script>var tracking = true;</script>
  <article>
    <h1>Benchmarks   shift</h1>
    <p>Open models now lead on <b>three</b> tasks.</p>
    <!-- comment -->
    <ul><li>Reasoning</li><li>Coding</li></ul>
    <svg><text>chart</text></svg>
  </article>
</body>
</html>`

func TestExtractText(t *testing.T) {
	page, err := ExtractText(articleHTML, 0)
	require.NoError(t, err)

	assert.Equal(t, "Model Benchmarks Shift", page.Title)
	assert.Equal(t, "A new leaderboard appears.", page.Description)
	assert.False(t, page.Truncated)
	assert.Equal(t, strings.Join([]string{
		"Home",
		"Benchmarks shift",
		"Open models now lead on three tasks.",
		"Reasoning",
		"Coding",
	}, "\n"), page.Text)

	assert.NotContains(t, page.Text, "tracking")
	assert.NotContains(t, page.Text, "color")
	assert.NotContains(t, page.Text, "chart")
}

func TestExtractText_Truncates(t *testing.T) {
	page, err := ExtractText("<p>"+strings.Repeat("é", 20)+"</p>", 9)
	require.NoError(t, err)

	assert.True(t, page.Truncated)
	// 9 bytes lands inside a two byte rune, so the cut backs off to 8.
	assert.Equal(t, strings.Repeat("é", 4)+"...", page.Text)
}

func TestFetcher_Fetch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/article":
			w.Header().Set("Content-Type", "text/html; charset=utf-8")
			_, _ = w.Write([]byte(articleHTML))
		case "/notes.txt":
			w.Header().Set("Content-Type", "text/plain")
			_, _ = w.Write([]byte("  plain <b>notes</b>  \n"))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	f := NewFetcher()
	ctx := context.Background()

	page, err := f.Fetch(ctx, srv.URL+"/article")
	require.NoError(t, err)
	assert.Equal(t, srv.URL+"/article", page.URL)
	assert.Equal(t, "Model Benchmarks Shift", page.Title)
	assert.Contains(t, page.Text, "Open models now lead")

	page, err = f.Fetch(ctx, srv.URL+"/notes.txt")
	require.NoError(t, err)
	assert.Equal(t, "plain <b>notes</b>", page.Text)

	_, err = f.Fetch(ctx, srv.URL+"/missing")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 404")
}

func TestFetcher_ReadsAtMostMaxBytes(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		_, _ = w.Write([]byte(strings.Repeat("x", 1000)))
	}))
	defer srv.Close()

	f := &Fetcher{Client: srv.Client(), MaxBytes: 100}
	page, err := f.Fetch(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.Len(t, page.Text, 100)
	assert.False(t, page.Truncated)
}
