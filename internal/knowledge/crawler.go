package knowledge

import (
	"bytes"
	"context"
	"encoding/xml"
	"fmt"
	"strings"
	"sync"

	"github.com/hyperjump/tsunagu/internal/models"
	"go.uber.org/zap"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
	"golang.org/x/sync/errgroup"
)

// DefaultExcludedSuffixes are help URLs that are indexes or generated listings rather than articles.
var DefaultExcludedSuffixes = []string{"/help/", "/api/", "/tutors/", "/help-videos/", "/pdf-guides/"}

// PageFetcher returns the body of a site page. path may be absolute.
type PageFetcher interface {
	GetRaw(ctx context.Context, path string) ([]byte, error)
}

// CrawlerConfig configures which pages are crawled and how they are read.
type CrawlerConfig struct {
	Origin           string
	SitemapPath      string
	Segment          string
	ExcludedSuffixes []string
	ContentClass     string
	TitleSuffix      string
	Concurrency      int
}

// Crawler reads the help pages listed in the site's sitemap.
type Crawler struct {
	site   PageFetcher
	cfg    CrawlerConfig
	logger *zap.Logger
}

// NewCrawler creates a crawler. Empty config fields fall back to the defaults of the help site.
func NewCrawler(site PageFetcher, cfg CrawlerConfig, logger *zap.Logger) *Crawler {
	if cfg.SitemapPath == "" {
		cfg.SitemapPath = "/sitemap.xml"
	}
	if cfg.Segment == "" {
		cfg.Segment = "/help/"
	}
	if cfg.ExcludedSuffixes == nil {
		cfg.ExcludedSuffixes = DefaultExcludedSuffixes
	}
	if cfg.ContentClass == "" {
		cfg.ContentClass = "help-content"
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Crawler{site: site, cfg: cfg, logger: logger}
}

type urlset struct {
	URLs []struct {
		Loc string `xml:"loc"`
	} `xml:"url"`
}

// HelpURLs returns the article URLs listed in the sitemap, in sitemap order.
func (c *Crawler) HelpURLs(ctx context.Context) ([]string, error) {
	raw, err := c.site.GetRaw(ctx, c.cfg.SitemapPath)
	if err != nil {
		return nil, fmt.Errorf("fetch sitemap: %w", err)
	}
	var set urlset
	if err := xml.Unmarshal(raw, &set); err != nil {
		return nil, fmt.Errorf("parse sitemap: %w", err)
	}
	var urls []string
	for _, u := range set.URLs {
		loc := strings.TrimSpace(u.Loc)
		if c.isArticle(loc) {
			urls = append(urls, loc)
		}
	}
	return urls, nil
}

func (c *Crawler) isArticle(loc string) bool {
	if !strings.Contains(loc, c.cfg.Segment) {
		return false
	}
	for _, suffix := range c.cfg.ExcludedSuffixes {
		if strings.HasSuffix(loc, suffix) {
			return false
		}
	}
	return true
}

// Crawl fetches every help article and returns the documents keyed by URL.
// Pages without a content region are skipped. Any fetch error aborts the crawl.
func (c *Crawler) Crawl(ctx context.Context) (map[string]models.SourceDocument, error) {
	urls, err := c.HelpURLs(ctx)
	if err != nil {
		return nil, err
	}
	var mu sync.Mutex
	docs := make(map[string]models.SourceDocument, len(urls))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.cfg.Concurrency)
	for _, u := range urls {
		u := u
		g.Go(func() error {
			raw, err := c.site.GetRaw(gctx, u)
			if err != nil {
				return fmt.Errorf("fetch page: %w", err)
			}
			doc, ok, err := c.parsePage(u, raw)
			if err != nil {
				return fmt.Errorf("parse %s: %w", u, err)
			}
			if !ok {
				c.logger.Debug("page has no help content", zap.String("url", u))
				return nil
			}
			mu.Lock()
			docs[u] = doc
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	c.logger.Info("crawled help pages", zap.Int("listed", len(urls)), zap.Int("documents", len(docs)))
	return docs, nil
}

func (c *Crawler) parsePage(pageURL string, raw []byte) (models.SourceDocument, bool, error) {
	root, err := html.Parse(bytes.NewReader(raw))
	if err != nil {
		return models.SourceDocument{}, false, err
	}
	region := findFirst(root, func(n *html.Node) bool {
		return n.DataAtom == atom.Div && hasClass(n, c.cfg.ContentClass)
	})
	if region == nil {
		return models.SourceDocument{}, false, nil
	}
	var buf bytes.Buffer
	for child := region.FirstChild; child != nil; child = child.NextSibling {
		if err := html.Render(&buf, child); err != nil {
			return models.SourceDocument{}, false, err
		}
	}

	title := ""
	if t := findFirst(root, func(n *html.Node) bool { return n.DataAtom == atom.Title }); t != nil {
		title = strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(textOf(t)), c.cfg.TitleSuffix))
	}
	if title == "" {
		title = "Content from " + strings.TrimPrefix(pageURL, strings.TrimRight(c.cfg.Origin, "/"))
	}
	return models.SourceDocument{
		URL:     pageURL,
		Title:   title,
		Content: Normalize(buf.String(), c.cfg.Origin),
	}, true, nil
}

func findFirst(n *html.Node, match func(*html.Node) bool) *html.Node {
	if n.Type == html.ElementNode && match(n) {
		return n
	}
	for child := n.FirstChild; child != nil; child = child.NextSibling {
		if found := findFirst(child, match); found != nil {
			return found
		}
	}
	return nil
}

func hasClass(n *html.Node, class string) bool {
	for _, a := range n.Attr {
		if a.Key != "class" {
			continue
		}
		for _, c := range strings.Fields(a.Val) {
			if c == class {
				return true
			}
		}
	}
	return false
}

func textOf(n *html.Node) string {
	var sb strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			sb.WriteString(n.Data)
		}
		for child := n.FirstChild; child != nil; child = child.NextSibling {
			walk(child)
		}
	}
	walk(n)
	return sb.String()
}

// PlainText returns the text of an HTML fragment with tags removed and whitespace collapsed.
func PlainText(fragment string) string {
	nodes, err := html.ParseFragment(strings.NewReader(fragment), &html.Node{
		Type:     html.ElementNode,
		Data:     "body",
		DataAtom: atom.Body,
	})
	if err != nil {
		return fragment
	}
	parts := make([]string, 0, len(nodes))
	for _, n := range nodes {
		parts = append(parts, textOf(n))
	}
	return strings.Join(strings.Fields(strings.Join(parts, " ")), " ")
}
