package search

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const ddgPage = `<html><body>
<div class="results">
  <div class="result">
    <h2 class="result__title"><a href="/l/?kh=-1&uddg=https%3A%2F%2Fexample.com%2Fsip">SIP trunking explained</a></h2>
    <a class="result__snippet">SIP trunks carry voice over IP networks.</a>
  </div>
  <div class="result">
    <h2 class="result__title"><a href="https://voip.example.org/guide">VoIP migration guide</a></h2>
    <a class="result__snippet">A practical guide to VoIP migrations.</a>
  </div>
  <div class="result">
    <h2 class="result__title"><a href="https://example.net/three">Third result</a></h2>
  </div>
</div>
</body></html>`

const rssPage = `<?xml version="1.0"?>
<rss version="2.0"><channel>
<item><title>News one</title><link>https://news.example.com/1</link><description>&lt;b&gt;Bold&lt;/b&gt; summary one</description></item>
<item><title>News two</title><link>https://news.example.com/2</link><description>summary two</description></item>
</channel></rss>`

func newTestClient(t *testing.T, ddgHandler, rssHandler http.HandlerFunc) *Client {
	t.Helper()
	ddg := httptest.NewServer(ddgHandler)
	t.Cleanup(ddg.Close)
	rss := httptest.NewServer(rssHandler)
	t.Cleanup(rss.Close)
	return NewClient(100, 10, 5*time.Second, zap.NewNop(), WithEndpoints(ddg.URL+"/html/", rss.URL+"/rss/search"))
}

func TestSearchParsesDuckDuckGoResults(t *testing.T) {
	c := newTestClient(t,
		func(w http.ResponseWriter, r *http.Request) {
			assert.NotEmpty(t, r.URL.Query().Get("q"))
			io.WriteString(w, ddgPage)
		},
		func(w http.ResponseWriter, r *http.Request) {
			t.Fatal("fallback must not be hit when ddg succeeds")
		},
	)

	results, err := c.Search(context.Background(), "sip trunking", 5)
	require.NoError(t, err)
	require.Len(t, results, 3)

	assert.Equal(t, "SIP trunking explained", results[0].Title)
	// Redirect wrapper is unwrapped to the target URL.
	assert.Equal(t, "https://example.com/sip", results[0].URL)
	assert.Equal(t, "SIP trunks carry voice over IP networks.", results[0].Snippet)

	assert.Equal(t, "https://voip.example.org/guide", results[1].URL)
	assert.Empty(t, results[2].Snippet)
}

func TestSearchHonorsMaxResults(t *testing.T) {
	c := newTestClient(t,
		func(w http.ResponseWriter, r *http.Request) { io.WriteString(w, ddgPage) },
		func(w http.ResponseWriter, r *http.Request) { t.Fatal("unexpected fallback") },
	)

	results, err := c.Search(context.Background(), "q query", 2)
	require.NoError(t, err)
	assert.Len(t, results, 2)
}

func TestSearchFallsBackToRSS(t *testing.T) {
	c := newTestClient(t,
		func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "blocked", http.StatusForbidden)
		},
		func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/rss+xml")
			io.WriteString(w, rssPage)
		},
	)

	results, err := c.Search(context.Background(), "breaking news", 5)
	require.NoError(t, err)
	require.Len(t, results, 2)

	assert.Equal(t, "News one", results[0].Title)
	assert.Equal(t, "https://news.example.com/1", results[0].URL)
	// Embedded markup is stripped from descriptions.
	assert.Equal(t, "Bold summary one", results[0].Snippet)
}

func TestSearchAllEnginesFail(t *testing.T) {
	c := newTestClient(t,
		func(w http.ResponseWriter, r *http.Request) { http.Error(w, "nope", http.StatusInternalServerError) },
		func(w http.ResponseWriter, r *http.Request) { http.Error(w, "nope", http.StatusInternalServerError) },
	)

	_, err := c.Search(context.Background(), "anything", 5)
	assert.Error(t, err)
}

func TestCleanDDGURL(t *testing.T) {
	cases := map[string]string{
		"/l/?kh=-1&uddg=https%3A%2F%2Fa.example%2Fpath%3Fx%3D1&rut=abc": "https://a.example/path?x=1",
		"https://plain.example/doc": "https://plain.example/doc",
	}
	for in, want := range cases {
		assert.Equal(t, want, cleanDDGURL(in))
	}
}
