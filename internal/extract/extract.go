// Package extract pulls readable text out of web pages for analysis.
// It is deliberately forgiving: a blocked or malformed page yields an
// empty result, never an aborted research batch.
package extract

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/net/html"

	"github.com/kestrellabs/kestrel/internal/htmlutil"
	"github.com/kestrellabs/kestrel/internal/metrics"
)

const userAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) " +
	"AppleWebKit/537.36 (KHTML, like Gecko) " +
	"Chrome/120.0.0.0 Safari/537.36"

// Tags stripped wholesale before text extraction.
var noiseTags = map[string]bool{
	"script": true, "style": true, "nav": true, "footer": true,
	"header": true, "aside": true, "form": true, "iframe": true,
	"noscript": true, "svg": true, "button": true, "input": true,
	"select": true,
}

// Tags whose text is worth keeping when paragraph-level extraction is used.
var contentTags = map[string]bool{
	"p": true, "h1": true, "h2": true, "h3": true, "h4": true,
	"li": true, "td": true,
}

// Extractor fetches pages and reduces them to clean text.
type Extractor struct {
	client *http.Client
	logger *zap.Logger
}

// New builds an Extractor with the given per-page timeout.
func New(timeout time.Duration, logger *zap.Logger) *Extractor {
	return &Extractor{
		client: &http.Client{Timeout: timeout},
		logger: logger,
	}
}

// Extract returns readable text from url, capped at maxChars. An empty
// string with nil error means the page had nothing extractable; errors are
// reserved for fetch/parse failures the caller may want to log.
func (e *Extractor) Extract(ctx context.Context, pageURL string, maxChars int) (string, error) {
	// Skip obviously useless targets.
	if !strings.HasPrefix(pageURL, "http") || strings.Contains(pageURL, "duckduckgo.com") {
		return "", nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return "", fmt.Errorf("build extract request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := e.client.Do(req)
	if err != nil {
		metrics.PagesExtracted.WithLabelValues("error").Inc()
		return "", fmt.Errorf("fetch %s: %w", pageURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		metrics.PagesExtracted.WithLabelValues("error").Inc()
		return "", fmt.Errorf("fetch %s: status %d", pageURL, resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "" && !strings.Contains(ct, "text") {
		metrics.PagesExtracted.WithLabelValues("empty").Inc()
		return "", nil
	}

	doc, err := html.Parse(resp.Body)
	if err != nil {
		metrics.PagesExtracted.WithLabelValues("error").Inc()
		return "", fmt.Errorf("parse %s: %w", pageURL, err)
	}

	text := FromDocument(doc, maxChars)
	if text == "" {
		metrics.PagesExtracted.WithLabelValues("empty").Inc()
	} else {
		metrics.PagesExtracted.WithLabelValues("ok").Inc()
	}
	return text, nil
}

// ExtractMultiple fetches several pages sequentially, returning url→text for
// the ones that produced content. Failures are logged and skipped.
func (e *Extractor) ExtractMultiple(ctx context.Context, urls []string, maxCharsEach int) map[string]string {
	out := make(map[string]string, len(urls))
	for _, u := range urls {
		if ctx.Err() != nil {
			break
		}
		text, err := e.Extract(ctx, u, maxCharsEach)
		if err != nil {
			e.logger.Debug("Page extraction failed", zap.String("url", u), zap.Error(err))
			continue
		}
		if text != "" {
			out[u] = text
		}
	}
	return out
}

// FromDocument reduces a parsed document to clean text. Exported so tests
// and offline tooling can run the reduction without a fetch.
func FromDocument(doc *html.Node, maxChars int) string {
	stripNoise(doc)

	root := mainContent(doc)

	// Prefer paragraph-level text for cleaner output.
	var parts []string
	collectContentText(root, &parts)
	text := strings.Join(parts, "\n")

	// Paragraph extraction came up nearly empty; fall back to the whole body.
	if len(text) < 100 {
		if body := htmlutil.FindElement(doc, "body"); body != nil {
			text = htmlutil.TextContent(body)
		} else {
			text = htmlutil.TextContent(doc)
		}
	}

	text = cleanLines(text)
	if maxChars > 0 && len(text) > maxChars {
		text = text[:maxChars]
	}
	return text
}

// stripNoise removes script/style/nav-style subtrees in place.
func stripNoise(n *html.Node) {
	var child *html.Node
	for c := n.FirstChild; c != nil; c = child {
		child = c.NextSibling
		if c.Type == html.ElementNode && noiseTags[c.Data] {
			n.RemoveChild(c)
			continue
		}
		stripNoise(c)
	}
}

// mainContent locates the likeliest content root: main, article, then any
// div whose id or class mentions "content", then the whole document.
func mainContent(doc *html.Node) *html.Node {
	if n := htmlutil.FindElement(doc, "main"); n != nil {
		return n
	}
	if n := htmlutil.FindElement(doc, "article"); n != nil {
		return n
	}
	if n := findContentDiv(doc); n != nil {
		return n
	}
	if body := htmlutil.FindElement(doc, "body"); body != nil {
		return body
	}
	return doc
}

func findContentDiv(n *html.Node) *html.Node {
	if n.Type == html.ElementNode && n.Data == "div" {
		id := strings.ToLower(htmlutil.Attr(n, "id"))
		class := strings.ToLower(htmlutil.Attr(n, "class"))
		if strings.Contains(id, "content") || strings.Contains(class, "content") {
			return n
		}
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if found := findContentDiv(c); found != nil {
			return found
		}
	}
	return nil
}

// collectContentText gathers text from paragraph-level elements, skipping
// fragments too short to carry meaning.
func collectContentText(n *html.Node, parts *[]string) {
	if n.Type == html.ElementNode && contentTags[n.Data] {
		if t := strings.TrimSpace(htmlutil.TextContent(n)); len(t) > 20 {
			*parts = append(*parts, t)
		}
		return
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		collectContentText(c, parts)
	}
}

// cleanLines trims whitespace and drops lines too short to be prose.
func cleanLines(text string) string {
	var keep []string
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if len(line) > 10 {
			keep = append(keep, line)
		}
	}
	return strings.Join(keep, "\n")
}
