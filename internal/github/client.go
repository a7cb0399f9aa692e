// Package github is a minimal GitHub issues client.
package github

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/hyperjump/tsunagu/internal/rest"
)

// DefaultBaseURL is the public GitHub API.
const DefaultBaseURL = "https://api.github.com"

const listPageSize = 100

// ErrNoToken is returned by every call when the client has no token.
var ErrNoToken = errors.New("github token not configured")

// Client talks to the GitHub API.
type Client struct {
	api     *rest.Client
	enabled bool
}

// NewClient creates a client. An empty token yields a disabled client.
func NewClient(baseURL, token string, opts ...rest.Option) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	all := append([]rest.Option{
		rest.WithBearer(token),
		rest.WithHeader("Accept", "application/vnd.github+json"),
		rest.WithHeader("X-GitHub-Api-Version", "2022-11-28"),
	}, opts...)
	return &Client{api: rest.NewClient(baseURL, all...), enabled: token != ""}
}

// Enabled reports whether a token is configured.
func (c *Client) Enabled() bool {
	return c.enabled
}

// Repo returns a handle on the issues of repository fullName ("owner/name").
func (c *Client) Repo(fullName string) *Repo {
	return &Repo{client: c, path: "/repos/" + fullName}
}

// Label is an issue label.
type Label struct {
	Name string `json:"name"`
}

// Issue is the subset of issue fields the service reads.
type Issue struct {
	Number  int     `json:"number"`
	Title   string  `json:"title"`
	Body    string  `json:"body"`
	HTMLURL string  `json:"html_url"`
	Labels  []Label `json:"labels"`
}

// NewIssue is the body of an issue create call.
type NewIssue struct {
	Title  string   `json:"title"`
	Body   string   `json:"body"`
	Labels []string `json:"labels,omitempty"`
}

// Repo groups the issue calls of one repository.
type Repo struct {
	client *Client
	path   string
}

func (r *Repo) do(ctx context.Context, method, path string, body, out interface{}) error {
	if !r.client.enabled {
		return ErrNoToken
	}
	return r.client.api.Do(ctx, method, r.path+path, body, out)
}

// CreateIssue opens an issue.
func (r *Repo) CreateIssue(ctx context.Context, issue NewIssue) (*Issue, error) {
	var out Issue
	if err := r.do(ctx, http.MethodPost, "/issues", issue, &out); err != nil {
		return nil, fmt.Errorf("create issue %q: %w", issue.Title, err)
	}
	return &out, nil
}

// ListIssues returns every open issue carrying label.
func (r *Repo) ListIssues(ctx context.Context, label string) ([]Issue, error) {
	var all []Issue
	for page := 1; ; page++ {
		q := url.Values{}
		q.Set("state", "open")
		q.Set("per_page", strconv.Itoa(listPageSize))
		q.Set("page", strconv.Itoa(page))
		if label != "" {
			q.Set("labels", label)
		}
		var batch []Issue
		if err := r.do(ctx, http.MethodGet, "/issues?"+q.Encode(), nil, &batch); err != nil {
			return nil, fmt.Errorf("list issues: %w", err)
		}
		all = append(all, batch...)
		if len(batch) < listPageSize {
			return all, nil
		}
	}
}

// EditIssueBody replaces the body of issue number.
func (r *Repo) EditIssueBody(ctx context.Context, number int, body string) error {
	path := "/issues/" + strconv.Itoa(number)
	if err := r.do(ctx, http.MethodPatch, path, map[string]string{"body": body}, nil); err != nil {
		return fmt.Errorf("edit issue #%d: %w", number, err)
	}
	return nil
}

// CreateComment comments on issue number.
func (r *Repo) CreateComment(ctx context.Context, number int, body string) error {
	path := "/issues/" + strconv.Itoa(number) + "/comments"
	if err := r.do(ctx, http.MethodPost, path, map[string]string{"body": body}, nil); err != nil {
		return fmt.Errorf("comment on issue #%d: %w", number, err)
	}
	return nil
}
