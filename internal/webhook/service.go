// Package webhook handles Intercom notifications, blog subscriptions and deploy hooks.
package webhook

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/hyperjump/tsunagu/internal/dedupe"
	"github.com/hyperjump/tsunagu/internal/github"
	"github.com/hyperjump/tsunagu/internal/intercom"
	"github.com/hyperjump/tsunagu/internal/jobs"
	"github.com/hyperjump/tsunagu/internal/models"
	"go.uber.org/zap"
)

// Outcome messages returned to the caller and recorded as webhook events.
const (
	MsgNoAction           = "No action required"
	MsgNoCompanies        = "User has no companies"
	MsgReplyPosted        = "Reply successfully posted"
	MsgHasSupport         = "Company has support"
	MsgIssueCreated       = "Issue created with tags"
	MsgIssueSkipped       = "Issue not created, no GitHub token"
	MsgNoEmail            = "No email provided."
	MsgDuplicate          = "Email is a duplicate."
	MsgNotDuplicate       = "Email is not a duplicate."
	MsgBlogExisting       = "Blog subscription added to existing user"
	MsgBlogNew            = "Blog subscription added to a new user"
	MsgSyncStarted        = "Knowledge sync started"
	MsgSyncAlreadyRunning = "Knowledge sync already running"
)

// ErrEmailRequired is returned by BlogSubscribe without an email.
var ErrEmailRequired = errors.New("email address is required")

// BlogAttribute is the custom attribute set on blog subscribers.
const BlogAttribute = "blog-subscribe"

// Contacts is the part of the contact directory the handlers use.
type Contacts interface {
	GetContact(ctx context.Context, id string) (*intercom.ContactDetail, error)
	GetCompany(ctx context.Context, path string) (*intercom.Company, error)
	ReplyToConversation(ctx context.Context, id string, reply intercom.Reply) error
	SearchContactsByEmail(ctx context.Context, email string) ([]models.Contact, error)
	UpdateContact(ctx context.Context, id string, update intercom.ContactUpdate) error
	CreateContact(ctx context.Context, contact intercom.ContactUpdate) error
	MarkDuplicate(ctx context.Context, contact models.Contact, duplicate bool) error
}

// IssueCreator opens issues on the site repository.
type IssueCreator interface {
	CreateIssue(ctx context.Context, issue github.NewIssue) (*github.Issue, error)
}

// EventRecorder stores handled webhooks.
type EventRecorder interface {
	RecordEvent(ctx context.Context, ev *models.WebhookEvent) error
}

// SyncTrigger starts a knowledge sync in the background.
type SyncTrigger func(ctx context.Context) (*models.Run, error)

// Service handles incoming webhooks.
type Service struct {
	contacts    Contacts
	issues      IssueCreator
	events      EventRecorder
	triggerSync SyncTrigger
	botID       string
	logger      *zap.Logger
	now         func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithIssues sets the issue tracker used for help article tags.
func WithIssues(issues IssueCreator) Option {
	return func(s *Service) { s.issues = issues }
}

// WithEvents records every handled webhook.
func WithEvents(events EventRecorder) Option {
	return func(s *Service) { s.events = events }
}

// WithSyncTrigger sets what the deploy hook starts.
func WithSyncTrigger(fn SyncTrigger) Option {
	return func(s *Service) { s.triggerSync = fn }
}

// WithBotID sets the admin the support reply is posted as.
func WithBotID(id string) Option {
	return func(s *Service) { s.botID = id }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// NewService creates the webhook service.
func NewService(contacts Contacts, opts ...Option) *Service {
	s := &Service{
		contacts: contacts,
		logger:   zap.NewNop(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// HandleIntercom dispatches a notification by topic and returns the outcome message.
func (s *Service) HandleIntercom(ctx context.Context, n Notification) (string, error) {
	item := n.Data.Item
	var msg string
	var err error
	switch n.Topic {
	case TopicConversationCreated:
		msg, err = s.supportReply(ctx, item)
	case TopicTagCreated:
		msg, err = s.tagIssue(ctx, item)
	case TopicUserCreated, TopicContactCreated:
		msg, err = s.checkDuplicate(ctx, item)
	default:
		msg = MsgNoAction
	}
	s.record(ctx, "intercom", n.Topic, string(item.ID), msg, err)
	if err != nil {
		return "", err
	}
	s.logger.Info("intercom callback handled",
		zap.String("topic", n.Topic), zap.String("item", string(item.ID)), zap.String("message", msg))
	return msg, nil
}

func (s *Service) supportReply(ctx context.Context, item Item) (string, error) {
	userID := item.UserID()
	if userID == "" {
		return MsgNoAction, nil
	}
	user, err := s.contacts.GetContact(ctx, userID)
	if err != nil {
		return "", err
	}
	if len(user.Companies) == 0 {
		return MsgNoCompanies, nil
	}
	company, err := s.contacts.GetCompany(ctx, user.Companies[0].URL)
	if err != nil {
		return "", err
	}
	if company.SupportPlan() != NoSupportPlan {
		return MsgHasSupport, nil
	}
	reply := intercom.Reply{
		Type:        "admin",
		MessageType: "comment",
		AdminID:     s.botID,
		Body:        SupportTemplate,
		Assignee:    s.botID,
	}
	if err := s.contacts.ReplyToConversation(ctx, string(item.ID), reply); err != nil {
		return "", err
	}
	return MsgReplyPosted, nil
}

func (s *Service) tagIssue(ctx context.Context, item Item) (string, error) {
	tags := item.TagNames()
	if !hasHelpArticleTag(tags) {
		return MsgNoAction, nil
	}
	if s.issues == nil {
		return MsgIssueSkipped, nil
	}
	_, err := s.issues.CreateIssue(ctx, github.NewIssue{
		Title:  "From IC: " + strings.Join(tags, ","),
		Body:   "**Created from intercom**\n\n" + item.FirstPartBody(),
		Labels: tags,
	})
	if errors.Is(err, github.ErrNoToken) {
		s.logger.Warn("skipping help article issue", zap.Error(err))
		return MsgIssueSkipped, nil
	}
	if err != nil {
		return "", err
	}
	return MsgIssueCreated, nil
}

// checkDuplicate reconciles the duplicate flags of every contact sharing the new contact's email.
func (s *Service) checkDuplicate(ctx context.Context, item Item) (string, error) {
	if item.Email == "" {
		return MsgNoEmail, nil
	}
	group, err := s.contacts.SearchContactsByEmail(ctx, item.Email)
	if err != nil {
		return "", err
	}
	found := false
	for _, c := range group {
		if c.ID == string(item.ID) {
			found = true
			break
		}
	}
	if !found {
		group = append(group, models.Contact{ID: string(item.ID), Email: item.Email, Role: item.Role, CreatedAt: s.now()})
	}
	if len(group) < 2 {
		return MsgNotDuplicate, nil
	}

	res := dedupe.Resolve(group)
	writes, err := dedupe.Apply(ctx, res, s.contacts)
	if err != nil {
		return "", fmt.Errorf("mark duplicates for %s: %w", item.Email, err)
	}
	s.logger.Debug("reconciled new contact", zap.String("email", item.Email), zap.Int("writes", writes))
	for _, c := range res.Duplicates {
		if c.ID == string(item.ID) {
			return MsgDuplicate, nil
		}
	}
	return MsgNotDuplicate, nil
}

// BlogSubscribe flags the contact with email as a blog subscriber, creating a user if none exists.
func (s *Service) BlogSubscribe(ctx context.Context, email string) (string, error) {
	email = strings.TrimSpace(email)
	if email == "" {
		return "", ErrEmailRequired
	}
	update := intercom.ContactUpdate{
		Role:             "user",
		Email:            email,
		CustomAttributes: map[string]interface{}{BlogAttribute: true},
	}
	found, err := s.contacts.SearchContactsByEmail(ctx, email)
	var msg string
	switch {
	case err != nil:
	case len(found) > 0:
		err = s.contacts.UpdateContact(ctx, found[0].ID, update)
		msg = MsgBlogExisting
	default:
		err = s.contacts.CreateContact(ctx, update)
		msg = MsgBlogNew
	}
	s.record(ctx, "blog", "subscribe", email, msg, err)
	if err != nil {
		return "", err
	}
	s.logger.Info("blog subscription", zap.String("message", msg))
	return msg, nil
}

// Deploy starts a knowledge sync after the help site has been deployed.
func (s *Service) Deploy(ctx context.Context) (string, *models.Run, error) {
	if s.triggerSync == nil {
		return MsgNoAction, nil, nil
	}
	run, err := s.triggerSync(ctx)
	msg := MsgSyncStarted
	if errors.Is(err, jobs.ErrAlreadyRunning) {
		msg, err = MsgSyncAlreadyRunning, nil
	}
	runID := ""
	if run != nil {
		runID = run.ID
	}
	s.record(ctx, "deploy", "deploy", runID, msg, err)
	if err != nil {
		return "", nil, err
	}
	return msg, run, nil
}

func (s *Service) record(ctx context.Context, source, topic, itemID, msg string, err error) {
	if s.events == nil {
		return
	}
	if err != nil {
		msg = "error: " + err.Error()
	}
	ev := &models.WebhookEvent{Source: source, Topic: topic, ItemID: itemID, Message: msg, ReceivedAt: s.now().UTC()}
	if rerr := s.events.RecordEvent(ctx, ev); rerr != nil {
		s.logger.Warn("failed to record webhook event", zap.String("topic", topic), zap.Error(rerr))
	}
}
