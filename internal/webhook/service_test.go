package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/hyperjump/tsunagu/internal/github"
	"github.com/hyperjump/tsunagu/internal/intercom"
	"github.com/hyperjump/tsunagu/internal/jobs"
	"github.com/hyperjump/tsunagu/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeContacts struct {
	detail   *intercom.ContactDetail
	company  *intercom.Company
	replies  map[string]intercom.Reply
	search   []models.Contact
	updates  map[string]intercom.ContactUpdate
	creates  []intercom.ContactUpdate
	marks    map[string]bool
	getErr   error
	searched []string
}

func newFakeContacts() *fakeContacts {
	return &fakeContacts{
		replies: map[string]intercom.Reply{},
		updates: map[string]intercom.ContactUpdate{},
		marks:   map[string]bool{},
	}
}

func (f *fakeContacts) GetContact(_ context.Context, id string) (*intercom.ContactDetail, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	return f.detail, nil
}

func (f *fakeContacts) GetCompany(_ context.Context, path string) (*intercom.Company, error) {
	return f.company, nil
}

func (f *fakeContacts) ReplyToConversation(_ context.Context, id string, reply intercom.Reply) error {
	f.replies[id] = reply
	return nil
}

func (f *fakeContacts) SearchContactsByEmail(_ context.Context, email string) ([]models.Contact, error) {
	f.searched = append(f.searched, email)
	return f.search, nil
}

func (f *fakeContacts) UpdateContact(_ context.Context, id string, update intercom.ContactUpdate) error {
	f.updates[id] = update
	return nil
}

func (f *fakeContacts) CreateContact(_ context.Context, contact intercom.ContactUpdate) error {
	f.creates = append(f.creates, contact)
	return nil
}

func (f *fakeContacts) MarkDuplicate(_ context.Context, c models.Contact, duplicate bool) error {
	f.marks[c.ID] = duplicate
	return nil
}

type fakeIssues struct {
	created []github.NewIssue
	err     error
}

func (f *fakeIssues) CreateIssue(_ context.Context, issue github.NewIssue) (*github.Issue, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.created = append(f.created, issue)
	return &github.Issue{Number: len(f.created)}, nil
}

type fakeEvents struct {
	events []models.WebhookEvent
}

func (f *fakeEvents) RecordEvent(_ context.Context, ev *models.WebhookEvent) error {
	f.events = append(f.events, *ev)
	return nil
}

func notification(t *testing.T, raw string) Notification {
	t.Helper()
	var n Notification
	require.NoError(t, json.Unmarshal([]byte(raw), &n))
	return n
}

func withCompany(plan string) *fakeContacts {
	c := newFakeContacts()
	c.detail = &intercom.ContactDetail{Companies: []intercom.CompanyRef{{ID: "123", Name: "Foo company", URL: "/companies/123"}}}
	c.company = &intercom.Company{ID: "123", CustomAttributes: map[string]interface{}{"support_plan": plan}}
	return c
}

func TestHandleIntercom_NoTopic(t *testing.T) {
	events := &fakeEvents{}
	s := NewService(newFakeContacts(), WithEvents(events))
	msg, err := s.HandleIntercom(context.Background(), notification(t, `{"data": {"item": {"id": 500}}}`))
	require.NoError(t, err)
	assert.Equal(t, MsgNoAction, msg)
	require.Len(t, events.events, 1)
	assert.Equal(t, "500", events.events[0].ItemID)
}

func TestHandleIntercom_NoSupportPostsReply(t *testing.T) {
	contacts := withCompany(NoSupportPlan)
	s := NewService(contacts, WithBotID("2693259"))
	msg, err := s.HandleIntercom(context.Background(), notification(t,
		`{"topic": "conversation.user.created", "data": {"item": {"user": {"id": 123}, "id": 456}}}`))
	require.NoError(t, err)
	assert.Equal(t, MsgReplyPosted, msg)
	reply, ok := contacts.replies["456"]
	require.True(t, ok)
	assert.Equal(t, "2693259", reply.AdminID)
	assert.Equal(t, "2693259", reply.Assignee)
	assert.Equal(t, SupportTemplate, reply.Body)
}

func TestHandleIntercom_ContactsShapeAndSupportPlan(t *testing.T) {
	contacts := withCompany("Chat Support")
	s := NewService(contacts)
	msg, err := s.HandleIntercom(context.Background(), notification(t,
		`{"topic": "conversation.user.created", "data": {"item": {"contacts": {"contacts": [{"id": "abc"}]}, "id": "9"}}}`))
	require.NoError(t, err)
	assert.Equal(t, MsgHasSupport, msg)
	assert.Empty(t, contacts.replies)
}

func TestHandleIntercom_UserWithoutCompanies(t *testing.T) {
	contacts := newFakeContacts()
	contacts.detail = &intercom.ContactDetail{}
	msg, err := NewService(contacts).HandleIntercom(context.Background(), notification(t,
		`{"topic": "conversation.user.created", "data": {"item": {"user": {"id": 123}, "id": 123}}}`))
	require.NoError(t, err)
	assert.Equal(t, MsgNoCompanies, msg)
}

func TestHandleIntercom_DirectoryErrorIsRecorded(t *testing.T) {
	contacts := newFakeContacts()
	contacts.getErr = errors.New("intercom down")
	events := &fakeEvents{}
	_, err := NewService(contacts, WithEvents(events)).HandleIntercom(context.Background(), notification(t,
		`{"topic": "conversation.user.created", "data": {"item": {"user": {"id": 1}, "id": 2}}}`))
	require.Error(t, err)
	require.Len(t, events.events, 1)
	assert.Equal(t, "error: intercom down", events.events[0].Message)
}

func TestHandleIntercom_HelpArticleTagOpensIssue(t *testing.T) {
	issues := &fakeIssues{}
	s := NewService(newFakeContacts(), WithIssues(issues))
	msg, err := s.HandleIntercom(context.Background(), notification(t,
		`{"topic": "conversation_part.tag.created", "data": {"item": {"id": 123,
		"tags_added": {"tags": [{"name": "Update help article"}]},
		"conversation_parts": {"conversation_parts": [{"body": "A new issue please"}]}}}}`))
	require.NoError(t, err)
	assert.Equal(t, MsgIssueCreated, msg)
	require.Len(t, issues.created, 1)
	assert.Equal(t, "From IC: Update help article", issues.created[0].Title)
	assert.Equal(t, "**Created from intercom**\n\nA new issue please", issues.created[0].Body)
	assert.Equal(t, []string{"Update help article"}, issues.created[0].Labels)
}

func TestHandleIntercom_OtherTagIgnored(t *testing.T) {
	issues := &fakeIssues{}
	s := NewService(newFakeContacts(), WithIssues(issues))
	msg, err := s.HandleIntercom(context.Background(), notification(t,
		`{"topic": "conversation_part.tag.created", "data": {"item": {"id": 123,
		"tags_added": {"tags": [{"name": "Wrong tag"}]}}}}`))
	require.NoError(t, err)
	assert.Equal(t, MsgNoAction, msg)
	assert.Empty(t, issues.created)
}

func TestHandleIntercom_IssueWithoutToken(t *testing.T) {
	s := NewService(newFakeContacts(), WithIssues(&fakeIssues{err: github.ErrNoToken}))
	msg, err := s.HandleIntercom(context.Background(), notification(t,
		`{"topic": "conversation_part.tag.created", "data": {"item": {"id": 1,
		"tags_added": {"tags": [{"name": "New help article"}]}}}}`))
	require.NoError(t, err)
	assert.Equal(t, MsgIssueSkipped, msg)
}

func TestHandleIntercom_NewUserWithoutEmail(t *testing.T) {
	msg, err := NewService(newFakeContacts()).HandleIntercom(context.Background(), notification(t,
		`{"topic": "user.created", "data": {"item": {"role": "user", "id": 123, "email": null}}}`))
	require.NoError(t, err)
	assert.Equal(t, MsgNoEmail, msg)
}

func TestHandleIntercom_NewUserUniqueEmail(t *testing.T) {
	contacts := newFakeContacts()
	contacts.search = []models.Contact{{ID: "123", Email: "test1@test", Role: "user"}}
	msg, err := NewService(contacts).HandleIntercom(context.Background(), notification(t,
		`{"topic": "user.created", "data": {"item": {"role": "user", "id": 123, "email": "test1@test"}}}`))
	require.NoError(t, err)
	assert.Equal(t, MsgNotDuplicate, msg)
	assert.Empty(t, contacts.marks)
}

func TestHandleIntercom_NewUserDuplicateEmail(t *testing.T) {
	seen := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	sessions := 12
	contacts := newFakeContacts()
	contacts.search = []models.Contact{
		{ID: "old", Email: "test@test", Role: "user", CreatedAt: seen.AddDate(-1, 0, 0), LastSeenAt: &seen, SessionCount: &sessions},
	}
	now := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	msg, err := NewService(contacts, WithClock(func() time.Time { return now })).HandleIntercom(context.Background(), notification(t,
		`{"topic": "user.created", "data": {"item": {"role": "user", "id": 123, "email": "test@test"}}}`))
	require.NoError(t, err)
	assert.Equal(t, MsgDuplicate, msg)
	assert.Equal(t, map[string]bool{"123": true, "old": false}, contacts.marks)
}

func TestBlogSubscribe(t *testing.T) {
	t.Run("missing email", func(t *testing.T) {
		_, err := NewService(newFakeContacts()).BlogSubscribe(context.Background(), " ")
		assert.ErrorIs(t, err, ErrEmailRequired)
	})
	t.Run("existing user", func(t *testing.T) {
		contacts := newFakeContacts()
		contacts.search = []models.Contact{{ID: "9", Email: "a@b.c"}}
		msg, err := NewService(contacts).BlogSubscribe(context.Background(), "a@b.c")
		require.NoError(t, err)
		assert.Equal(t, MsgBlogExisting, msg)
		assert.Equal(t, true, contacts.updates["9"].CustomAttributes[BlogAttribute])
		assert.Equal(t, "user", contacts.updates["9"].Role)
	})
	t.Run("new user", func(t *testing.T) {
		contacts := newFakeContacts()
		events := &fakeEvents{}
		msg, err := NewService(contacts, WithEvents(events)).BlogSubscribe(context.Background(), "new@b.c")
		require.NoError(t, err)
		assert.Equal(t, MsgBlogNew, msg)
		require.Len(t, contacts.creates, 1)
		assert.Equal(t, "new@b.c", contacts.creates[0].Email)
		assert.Equal(t, "blog", events.events[0].Source)
	})
}

func TestDeploy(t *testing.T) {
	t.Run("starts sync", func(t *testing.T) {
		s := NewService(newFakeContacts(), WithSyncTrigger(func(context.Context) (*models.Run, error) {
			return &models.Run{ID: "r1", Kind: models.RunSync}, nil
		}))
		msg, run, err := s.Deploy(context.Background())
		require.NoError(t, err)
		assert.Equal(t, MsgSyncStarted, msg)
		assert.Equal(t, "r1", run.ID)
	})
	t.Run("already running", func(t *testing.T) {
		s := NewService(newFakeContacts(), WithSyncTrigger(func(context.Context) (*models.Run, error) {
			return nil, jobs.ErrAlreadyRunning
		}))
		msg, run, err := s.Deploy(context.Background())
		require.NoError(t, err)
		assert.Equal(t, MsgSyncAlreadyRunning, msg)
		assert.Nil(t, run)
	})
}
