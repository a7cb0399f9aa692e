// Package kare is a client for the Kare knowledge base API.
package kare

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"sync"

	"github.com/hyperjump/tsunagu/internal/models"
	"github.com/hyperjump/tsunagu/internal/rest"
)

const (
	apiPrefix       = "/v2.2"
	defaultPageSize = 50
	defaultLocale   = "en-GB"
)

// Credentials are the OAuth client credentials for the API.
type Credentials struct {
	ClientID     string
	ClientSecret string
}

// Client talks to the Kare API.
type Client struct {
	api      *rest.Client
	auth     *rest.Client
	creds    Credentials
	pageSize int

	mu    sync.Mutex
	token string
}

// Option configures a Client.
type Option func(*clientOptions)

type clientOptions struct {
	locale   string
	pageSize int
	rest     []rest.Option
}

// WithLocale sets the Kare-Content-Locale header.
func WithLocale(locale string) Option {
	return func(o *clientOptions) {
		if locale != "" {
			o.locale = locale
		}
	}
}

// WithPageSize sets how many nodes are requested per listing page.
func WithPageSize(n int) Option {
	return func(o *clientOptions) {
		if n > 0 {
			o.pageSize = n
		}
	}
}

// WithRESTOptions passes options to the underlying rest clients.
func WithRESTOptions(opts ...rest.Option) Option {
	return func(o *clientOptions) { o.rest = append(o.rest, opts...) }
}

// NewClient creates a client for baseURL (e.g. https://api.eu.karehq.com).
func NewClient(baseURL string, creds Credentials, opts ...Option) *Client {
	o := clientOptions{locale: defaultLocale, pageSize: defaultPageSize}
	for _, opt := range opts {
		opt(&o)
	}
	c := &Client{creds: creds, pageSize: o.pageSize}
	c.auth = rest.NewClient(baseURL, o.rest...)
	apiOpts := append([]rest.Option{}, o.rest...)
	apiOpts = append(apiOpts, rest.WithHeader("Kare-Content-Locale", o.locale), rest.WithAuth(c.authorization))
	c.api = rest.NewClient(baseURL+apiPrefix, apiOpts...)
	return c
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
}

func (c *Client) authorization(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.token == "" {
		req := map[string]string{
			"client_id":     c.creds.ClientID,
			"client_secret": c.creds.ClientSecret,
			"grant_type":    "client_credentials",
		}
		var resp tokenResponse
		if err := c.auth.Do(ctx, http.MethodPost, "/oauth/token", req, &resp); err != nil {
			return "", fmt.Errorf("fetch token: %w", err)
		}
		if resp.AccessToken == "" {
			return "", errors.New("fetch token: empty access_token")
		}
		c.token = resp.AccessToken
	}
	return "Bearer " + c.token, nil
}

type nodeJSON struct {
	ID      string `json:"id"`
	Title   string `json:"title"`
	Content struct {
		URL    string `json:"url"`
		Source string `json:"source"`
	} `json:"content"`
}

func (n nodeJSON) toModel() models.KnowledgeEntry {
	src := n.Content.URL
	if src == "" {
		src = n.Content.Source
	}
	return models.KnowledgeEntry{ID: n.ID, Title: n.Title, SourceURL: src}
}

type nodeList struct {
	Entries    []nodeJSON `json:"entries"`
	NextCursor string     `json:"next_cursor"`
}

// ListEntries returns every published content node, following the listing cursor.
func (c *Client) ListEntries(ctx context.Context) ([]models.KnowledgeEntry, error) {
	var out []models.KnowledgeEntry
	cursor := ""
	for {
		q := url.Values{}
		q.Set("type", "content")
		q.Set("status", "published")
		q.Set("limit", strconv.Itoa(c.pageSize))
		if cursor != "" {
			q.Set("cursor", cursor)
		}
		var page nodeList
		if err := c.api.Get(ctx, "/kbm/nodes?"+q.Encode(), &page); err != nil {
			return nil, fmt.Errorf("list knowledge nodes: %w", err)
		}
		for _, n := range page.Entries {
			out = append(out, n.toModel())
		}
		if page.NextCursor == "" || page.NextCursor == cursor {
			return out, nil
		}
		cursor = page.NextCursor
	}
}

// GetContent returns the raw content of node id.
func (c *Client) GetContent(ctx context.Context, id string) (string, error) {
	raw, err := c.api.GetRaw(ctx, "/kbm/nodes/"+url.PathEscape(id)+"/content/raw")
	if err != nil {
		return "", fmt.Errorf("get content of %s: %w", id, err)
	}
	return string(raw), nil
}

// UpdateContent replaces the content of node id.
func (c *Client) UpdateContent(ctx context.Context, id, content string) error {
	path := "/kbm/nodes/" + url.PathEscape(id) + "/content"
	if err := c.api.Upload(ctx, path, "content", "content.html", []byte(content), nil); err != nil {
		return fmt.Errorf("upload content of %s: %w", id, err)
	}
	return nil
}

type createNode struct {
	Status  string `json:"status"`
	Type    string `json:"type"`
	Title   string `json:"title"`
	Content struct {
		Source     string `json:"source"`
		ExternalID string `json:"external_id"`
		MimeType   string `json:"mime_type"`
	} `json:"content"`
}

// CreateEntry creates a published node for doc and uploads its content. It returns the node id.
func (c *Client) CreateEntry(ctx context.Context, doc models.SourceDocument) (string, error) {
	req := createNode{Status: "published", Type: "content", Title: doc.Title}
	req.Content.Source = doc.URL
	req.Content.ExternalID = doc.Title
	req.Content.MimeType = "text/html"

	var created struct {
		ID string `json:"id"`
	}
	if err := c.api.Do(ctx, http.MethodPost, "/kbm/nodes", req, &created); err != nil {
		return "", fmt.Errorf("create node for %s: %w", doc.URL, err)
	}
	if created.ID == "" {
		return "", fmt.Errorf("create node for %s: response has no id", doc.URL)
	}
	if err := c.UpdateContent(ctx, created.ID, doc.Content); err != nil {
		return created.ID, err
	}
	return created.ID, nil
}
