package extract

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/net/html"
)

func newTestExtractor() *Extractor {
	return New(5*time.Second, zap.NewNop())
}

const articlePage = `<html><head>
<script>var tracking = "evil";</script>
<style>.x { color: red }</style>
</head><body>
<nav>Home | About | Contact and other navigation links</nav>
<article>
  <h1>Understanding SIP trunking in modern contact centers</h1>
  <p>SIP trunking replaces legacy PRI circuits with IP-based voice delivery over the public internet or private links.</p>
  <p>Most providers charge per concurrent call path rather than per physical line, which changes capacity planning.</p>
  <p>short</p>
</article>
<footer>Copyright statement and a pile of legal boilerplate text</footer>
</body></html>`

func TestExtractPrefersArticleAndStripsNoise(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		fmt.Fprint(w, articlePage)
	}))
	defer srv.Close()

	text, err := newTestExtractor().Extract(context.Background(), srv.URL, 5000)
	require.NoError(t, err)

	assert.Contains(t, text, "Understanding SIP trunking")
	assert.Contains(t, text, "concurrent call path")
	assert.NotContains(t, text, "tracking")
	assert.NotContains(t, text, "navigation links")
	assert.NotContains(t, text, "legal boilerplate")
	// Fragments under the length floor are dropped.
	assert.NotContains(t, text, "short")
}

func TestExtractCapsLength(t *testing.T) {
	var sb strings.Builder
	sb.WriteString("<html><body><article>")
	for i := 0; i < 100; i++ {
		fmt.Fprintf(&sb, "<p>Paragraph %03d with enough words to pass the length filter easily.</p>", i)
	}
	sb.WriteString("</article></body></html>")

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, sb.String())
	}))
	defer srv.Close()

	text, err := newTestExtractor().Extract(context.Background(), srv.URL, 500)
	require.NoError(t, err)
	assert.LessOrEqual(t, len(text), 500)
	assert.NotEmpty(t, text)
}

func TestExtractSkipsNonHTML(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/pdf")
		w.Write([]byte("%PDF-1.4 binary"))
	}))
	defer srv.Close()

	text, err := newTestExtractor().Extract(context.Background(), srv.URL, 1000)
	require.NoError(t, err)
	assert.Empty(t, text)
}

func TestExtractSkipsBadURLs(t *testing.T) {
	e := newTestExtractor()

	for _, u := range []string{"ftp://example.com/x", "not-a-url", "https://duckduckgo.com/?q=x"} {
		text, err := e.Extract(context.Background(), u, 1000)
		require.NoError(t, err, u)
		assert.Empty(t, text, u)
	}
}

func TestExtractReportsFetchErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "go away", http.StatusForbidden)
	}))
	defer srv.Close()

	_, err := newTestExtractor().Extract(context.Background(), srv.URL, 1000)
	assert.ErrorContains(t, err, "status 403")
}

func TestExtractMultipleSkipsFailures(t *testing.T) {
	good := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, articlePage)
	}))
	defer good.Close()
	bad := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "blocked", http.StatusForbidden)
	}))
	defer bad.Close()

	out := newTestExtractor().ExtractMultiple(context.Background(), []string{good.URL, bad.URL}, 2000)
	require.Len(t, out, 1)
	assert.Contains(t, out[good.URL], "SIP trunking")
}

func TestFromDocumentFallsBackToBody(t *testing.T) {
	// No paragraph-level tags at all: extraction falls back to body text.
	doc, err := html.Parse(strings.NewReader(
		"<html><body><div>A block of text that lives outside any paragraph tag but is long enough to matter for analysis.</div></body></html>"))
	require.NoError(t, err)

	text := FromDocument(doc, 0)
	assert.Contains(t, text, "outside any paragraph tag")
}
