// Package search provides the web search capability: DuckDuckGo's HTML
// endpoint first, Google News RSS as a fallback. No API keys required.
package search

import (
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/net/html"
	"golang.org/x/time/rate"

	"github.com/kestrellabs/kestrel/internal/htmlutil"
	"github.com/kestrellabs/kestrel/internal/metrics"
)

const userAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) " +
	"AppleWebKit/537.36 (KHTML, like Gecko) " +
	"Chrome/120.0.0.0 Safari/537.36"

// Result is one search hit.
type Result struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Snippet string `json:"snippet"`
}

// Client searches the web. Safe for concurrent use; the rate limiter is
// shared across all runs in the process so scraping stays polite.
type Client struct {
	httpClient *http.Client
	limiter    *rate.Limiter
	logger     *zap.Logger

	ddgURL string // overridable for tests
	rssURL string
}

// Option configures a Client.
type Option func(*Client)

// WithEndpoints overrides the upstream URLs, used by tests.
func WithEndpoints(ddg, rss string) Option {
	return func(c *Client) {
		c.ddgURL = ddg
		c.rssURL = rss
	}
}

// NewClient builds a search client with the given request rate and timeout.
func NewClient(perSecond float64, burst int, timeout time.Duration, logger *zap.Logger, opts ...Option) *Client {
	if perSecond <= 0 {
		perSecond = 1
	}
	if burst < 1 {
		burst = 1
	}
	c := &Client{
		httpClient: &http.Client{Timeout: timeout},
		limiter:    rate.NewLimiter(rate.Limit(perSecond), burst),
		logger:     logger,
		ddgURL:     "https://html.duckduckgo.com/html/",
		rssURL:     "https://news.google.com/rss/search",
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Search returns up to maxResults hits for query, in engine order.
func (c *Client) Search(ctx context.Context, query string, maxResults int) ([]Result, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("search rate limiter: %w", err)
	}

	results, err := c.searchDuckDuckGo(ctx, query, maxResults)
	if err == nil && len(results) > 0 {
		metrics.SearchRequests.WithLabelValues("duckduckgo", "ok").Inc()
		return results, nil
	}
	if err != nil {
		metrics.SearchRequests.WithLabelValues("duckduckgo", "error").Inc()
		c.logger.Warn("DuckDuckGo search failed, trying news RSS",
			zap.String("query", query), zap.Error(err))
	} else {
		metrics.SearchRequests.WithLabelValues("duckduckgo", "empty").Inc()
	}

	results, err = c.searchNewsRSS(ctx, query, maxResults)
	if err != nil {
		metrics.SearchRequests.WithLabelValues("news_rss", "error").Inc()
		return nil, fmt.Errorf("all search engines failed: %w", err)
	}
	metrics.SearchRequests.WithLabelValues("news_rss", "ok").Inc()
	return results, nil
}

func (c *Client) searchDuckDuckGo(ctx context.Context, query string, maxResults int) ([]Result, error) {
	u := c.ddgURL + "?q=" + url.QueryEscape(query)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("ddg request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("ddg returned status %d", resp.StatusCode)
	}

	doc, err := html.Parse(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("parse ddg html: %w", err)
	}
	return parseDDGResults(doc, maxResults), nil
}

// parseDDGResults walks the result blocks of the DuckDuckGo HTML page.
// Layout: div.result > .result__title > a (title + href), .result__snippet.
func parseDDGResults(doc *html.Node, maxResults int) []Result {
	var results []Result

	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if len(results) >= maxResults {
			return
		}
		if n.Type == html.ElementNode && htmlutil.HasClass(n, "result") {
			if r, ok := parseDDGResult(n); ok {
				results = append(results, r)
			}
			// Result blocks do not nest; skip the subtree.
			return
		}
		for child := n.FirstChild; child != nil; child = child.NextSibling {
			walk(child)
		}
	}
	walk(doc)
	return results
}

func parseDDGResult(n *html.Node) (Result, bool) {
	var r Result

	if title := htmlutil.FindByClass(n, "result__title"); title != nil {
		if a := htmlutil.FindElement(title, "a"); a != nil {
			r.Title = strings.TrimSpace(htmlutil.TextContent(a))
			r.URL = cleanDDGURL(htmlutil.Attr(a, "href"))
		}
	}
	if snippet := htmlutil.FindByClass(n, "result__snippet"); snippet != nil {
		r.Snippet = strings.TrimSpace(htmlutil.TextContent(snippet))
	}

	if r.Title == "" || r.URL == "" {
		return Result{}, false
	}
	return r, true
}

// cleanDDGURL unwraps DuckDuckGo's redirect links (…uddg=<encoded target>).
func cleanDDGURL(href string) string {
	if !strings.Contains(href, "uddg=") {
		return href
	}
	idx := strings.Index(href, "uddg=")
	target := href[idx+len("uddg="):]
	if amp := strings.Index(target, "&"); amp >= 0 {
		target = target[:amp]
	}
	if decoded, err := url.QueryUnescape(target); err == nil {
		return decoded
	}
	return href
}

// Google News RSS fallback.

type rssFeed struct {
	Channel struct {
		Items []rssItem `xml:"item"`
	} `xml:"channel"`
}

type rssItem struct {
	Title       string `xml:"title"`
	Link        string `xml:"link"`
	Description string `xml:"description"`
}

func (c *Client) searchNewsRSS(ctx context.Context, query string, maxResults int) ([]Result, error) {
	u := fmt.Sprintf("%s?q=%s&hl=en-US&gl=US&ceid=US:en", c.rssURL, url.QueryEscape(query))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("rss request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("rss returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, fmt.Errorf("read rss body: %w", err)
	}

	var feed rssFeed
	if err := xml.Unmarshal(body, &feed); err != nil {
		return nil, fmt.Errorf("decode rss: %w", err)
	}

	var results []Result
	for _, item := range feed.Channel.Items {
		if len(results) >= maxResults {
			break
		}
		results = append(results, Result{
			Title:   item.Title,
			URL:     item.Link,
			Snippet: stripTags(item.Description),
		})
	}
	return results, nil
}

// stripTags removes markup from RSS descriptions, which embed HTML.
func stripTags(s string) string {
	doc, err := html.Parse(strings.NewReader(s))
	if err != nil {
		return s
	}
	return strings.TrimSpace(htmlutil.TextContent(doc))
}
