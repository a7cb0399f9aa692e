// Package feedback turns help page ratings into GitHub issues, one issue per page.
package feedback

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/hyperjump/tsunagu/internal/github"
	"go.uber.org/zap"
)

const (
	Like    = "like"
	Dislike = "dislike"
)

// Feedback is a rating submitted from a help page.
type Feedback struct {
	PageTitle    string `json:"page_title"`
	PageURL      string `json:"page_url"`
	PageCategory string `json:"page_category"`
	Type         string `json:"type"`
	Message      string `json:"message"`
}

// ValidationError describes an invalid submission.
type ValidationError struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

func (e *ValidationError) Error() string {
	return e.Message
}

// IsLike reports whether the feedback is positive.
func (f Feedback) IsLike() bool {
	return f.Type == Like
}

// Validate checks required fields, the type value and that dislikes carry a message.
func (f Feedback) Validate() error {
	var missing []string
	for _, field := range []struct{ name, value string }{
		{"page_title", f.PageTitle},
		{"page_url", f.PageURL},
		{"page_category", f.PageCategory},
		{"type", f.Type},
	} {
		if strings.TrimSpace(field.value) == "" {
			missing = append(missing, field.name)
		}
	}
	if len(missing) > 0 {
		return &ValidationError{Kind: "missing_fields", Message: strings.Join(missing, ", ") + " was missing in the data."}
	}
	if f.Type != Like && f.Type != Dislike {
		return &ValidationError{Kind: "incorrect_value", Message: `type value was not "like" or "dislike".`}
	}
	if !f.IsLike() && strings.TrimSpace(f.Message) == "" {
		return &ValidationError{Kind: "missing_fields", Message: "message was missing in the data."}
	}
	return nil
}

// Counts are the rating totals kept in an issue body.
type Counts struct {
	Likes    int
	Dislikes int
}

var (
	likesLine    = regexp.MustCompile(`_Likes_:(.*)`)
	dislikesLine = regexp.MustCompile(`_Dislikes_:(.*)`)
)

// RenderBody formats the issue body for a page.
func RenderBody(pageURL string, c Counts) string {
	return fmt.Sprintf("_Link_: %s\n_Likes_: %d\n_Dislikes_: %d\n", pageURL, c.Likes, c.Dislikes)
}

// ParseBody reads the counts from an issue body written by RenderBody.
func ParseBody(body string) (Counts, error) {
	likes, err := counter(likesLine, "_Likes_", body)
	if err != nil {
		return Counts{}, err
	}
	dislikes, err := counter(dislikesLine, "_Dislikes_", body)
	if err != nil {
		return Counts{}, err
	}
	return Counts{Likes: likes, Dislikes: dislikes}, nil
}

func counter(re *regexp.Regexp, term, body string) (int, error) {
	m := re.FindStringSubmatch(body)
	if m == nil {
		return 0, fmt.Errorf("cannot find %s in issue body", term)
	}
	n, err := strconv.Atoi(strings.TrimSpace(m[1]))
	if err != nil {
		return 0, fmt.Errorf("cannot parse %s in issue body: %w", term, err)
	}
	return n, nil
}

func comment(message string) string {
	return "_Message_: " + message
}

// IssueTracker is the issue store feedback is written to.
type IssueTracker interface {
	ListIssues(ctx context.Context, label string) ([]github.Issue, error)
	CreateIssue(ctx context.Context, issue github.NewIssue) (*github.Issue, error)
	EditIssueBody(ctx context.Context, number int, body string) error
	CreateComment(ctx context.Context, number int, body string) error
}

// Processor records feedback on the issue tracker.
type Processor struct {
	issues IssueTracker
	logger *zap.Logger
}

// NewProcessor creates a processor.
func NewProcessor(issues IssueTracker, logger *zap.Logger) *Processor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Processor{issues: issues, logger: logger}
}

// Process validates f and adds it to the issue for its page, creating the issue when the
// page has none yet. Issues are matched by category label and exact title.
func (p *Processor) Process(ctx context.Context, f Feedback) (string, error) {
	if err := f.Validate(); err != nil {
		p.logger.Error("feedback data validation error", zap.Error(err))
		return "", err
	}
	issues, err := p.issues.ListIssues(ctx, f.PageCategory)
	if err != nil {
		return "", err
	}
	for _, issue := range issues {
		if issue.Title == f.PageTitle {
			return p.update(ctx, f, issue)
		}
	}
	return p.create(ctx, f)
}

func (p *Processor) create(ctx context.Context, f Feedback) (string, error) {
	counts := Counts{Likes: 1}
	if !f.IsLike() {
		counts = Counts{Dislikes: 1}
	}
	issue, err := p.issues.CreateIssue(ctx, github.NewIssue{
		Title:  f.PageTitle,
		Body:   RenderBody(f.PageURL, counts),
		Labels: []string{f.PageCategory},
	})
	if err != nil {
		return "", err
	}
	if !f.IsLike() {
		if err := p.issues.CreateComment(ctx, issue.Number, comment(f.Message)); err != nil {
			return "", err
		}
	}
	msg := fmt.Sprintf("Created issue (#%d) with feedback", issue.Number)
	p.logger.Info(msg, zap.String("page", f.PageURL))
	return msg, nil
}

func (p *Processor) update(ctx context.Context, f Feedback, issue github.Issue) (string, error) {
	counts, err := ParseBody(issue.Body)
	if err != nil {
		return "", fmt.Errorf("issue #%d: %w", issue.Number, err)
	}
	if f.IsLike() {
		counts.Likes++
	} else {
		counts.Dislikes++
		if err := p.issues.CreateComment(ctx, issue.Number, comment(f.Message)); err != nil {
			return "", err
		}
	}
	if err := p.issues.EditIssueBody(ctx, issue.Number, RenderBody(f.PageURL, counts)); err != nil {
		return "", err
	}
	msg := fmt.Sprintf("Updated issue (#%d) with feedback", issue.Number)
	p.logger.Info(msg, zap.String("page", f.PageURL))
	return msg, nil
}
