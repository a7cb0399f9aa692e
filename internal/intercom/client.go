// Package intercom is a client for the parts of the Intercom REST API the service touches.
package intercom

import (
	"context"
	"fmt"
	"math"
	"net/http"
	"net/url"
	"time"

	"github.com/hyperjump/tsunagu/internal/models"
	"github.com/hyperjump/tsunagu/internal/rest"
)

// DuplicateAttribute is the custom attribute holding the duplicate flag.
const DuplicateAttribute = "is_duplicate"

// Client talks to the Intercom API.
type Client struct {
	api *rest.Client
}

// NewClient creates a client. opts are passed to the underlying rest.Client after the token.
func NewClient(baseURL, token string, opts ...rest.Option) *Client {
	all := append([]rest.Option{rest.WithBearer(token)}, opts...)
	return &Client{api: rest.NewClient(baseURL, all...)}
}

type contactJSON struct {
	ID               string                 `json:"id"`
	Role             string                 `json:"role"`
	Email            string                 `json:"email"`
	CreatedAt        float64                `json:"created_at"`
	LastSeenAt       *float64               `json:"last_seen_at"`
	SessionCount     *int                   `json:"session_count"`
	CustomAttributes map[string]interface{} `json:"custom_attributes"`
	Companies        struct {
		Data []CompanyRef `json:"data"`
	} `json:"companies"`
}

func (c contactJSON) toModel() models.Contact {
	out := models.Contact{
		ID:           c.ID,
		Role:         c.Role,
		Email:        c.Email,
		CreatedAt:    unixTime(c.CreatedAt),
		SessionCount: c.SessionCount,
	}
	if c.LastSeenAt != nil && *c.LastSeenAt != 0 {
		seen := unixTime(*c.LastSeenAt)
		out.LastSeenAt = &seen
	}
	if v, ok := c.CustomAttributes[DuplicateAttribute].(bool); ok {
		out.Duplicate = models.FlagOf(v)
	}
	return out
}

func unixTime(ts float64) time.Time {
	sec, frac := math.Modf(ts)
	return time.Unix(int64(sec), int64(frac*1e9)).UTC()
}

type contactList struct {
	Data  []contactJSON `json:"data"`
	Pages *struct {
		Next *struct {
			StartingAfter string `json:"starting_after"`
		} `json:"next"`
		TotalPages int `json:"total_pages"`
	} `json:"pages"`
}

// ListContacts returns one page of contacts. startingAfter is the cursor from the previous page.
func (c *Client) ListContacts(ctx context.Context, perPage int, startingAfter string) (*models.ContactPage, error) {
	q := url.Values{}
	q.Set("per_page", fmt.Sprint(perPage))
	if startingAfter != "" {
		q.Set("starting_after", startingAfter)
	}
	var resp contactList
	if err := c.api.Get(ctx, "/contacts?"+q.Encode(), &resp); err != nil {
		return nil, fmt.Errorf("list contacts: %w", err)
	}
	page := &models.ContactPage{Contacts: make([]models.Contact, 0, len(resp.Data))}
	for _, raw := range resp.Data {
		page.Contacts = append(page.Contacts, raw.toModel())
	}
	if resp.Pages != nil && resp.Pages.Next != nil {
		page.Next = resp.Pages.Next.StartingAfter
	}
	return page, nil
}

// ContactUpdate is the body of a contact create or update.
type ContactUpdate struct {
	Role             string                 `json:"role"`
	Email            string                 `json:"email"`
	CustomAttributes map[string]interface{} `json:"custom_attributes,omitempty"`
}

// UpdateContact replaces the given fields of contact id.
func (c *Client) UpdateContact(ctx context.Context, id string, update ContactUpdate) error {
	if err := c.api.Do(ctx, http.MethodPut, "/contacts/"+url.PathEscape(id), update, nil); err != nil {
		return fmt.Errorf("update contact %s: %w", id, err)
	}
	return nil
}

// CreateContact creates a new contact.
func (c *Client) CreateContact(ctx context.Context, contact ContactUpdate) error {
	if err := c.api.Do(ctx, http.MethodPost, "/contacts", contact, nil); err != nil {
		return fmt.Errorf("create contact %s: %w", contact.Email, err)
	}
	return nil
}

// MarkDuplicate sets the duplicate flag of contact, keeping its role and email.
func (c *Client) MarkDuplicate(ctx context.Context, contact models.Contact, duplicate bool) error {
	return c.UpdateContact(ctx, contact.ID, ContactUpdate{
		Role:             contact.Role,
		Email:            contact.Email,
		CustomAttributes: map[string]interface{}{DuplicateAttribute: duplicate},
	})
}

// CompanyRef is a company reference embedded in a contact.
type CompanyRef struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	URL  string `json:"url"`
}

// ContactDetail is a single contact with its companies.
type ContactDetail struct {
	models.Contact
	Companies []CompanyRef
}

// GetContact fetches one contact by id.
func (c *Client) GetContact(ctx context.Context, id string) (*ContactDetail, error) {
	var raw contactJSON
	if err := c.api.Get(ctx, "/contacts/"+url.PathEscape(id), &raw); err != nil {
		return nil, fmt.Errorf("get contact %s: %w", id, err)
	}
	return &ContactDetail{Contact: raw.toModel(), Companies: raw.Companies.Data}, nil
}

// Company is the subset of company fields the service reads.
type Company struct {
	ID               string                 `json:"id"`
	Name             string                 `json:"name"`
	CustomAttributes map[string]interface{} `json:"custom_attributes"`
}

// SupportPlan returns the support_plan custom attribute, or "".
func (co *Company) SupportPlan() string {
	s, _ := co.CustomAttributes["support_plan"].(string)
	return s
}

// GetCompany fetches a company by its API path (as given in CompanyRef.URL).
func (c *Client) GetCompany(ctx context.Context, path string) (*Company, error) {
	var co Company
	if err := c.api.Get(ctx, path, &co); err != nil {
		return nil, fmt.Errorf("get company %s: %w", path, err)
	}
	return &co, nil
}

// Reply is an admin reply to a conversation.
type Reply struct {
	Type        string `json:"type"`
	MessageType string `json:"message_type"`
	AdminID     string `json:"admin_id"`
	Body        string `json:"body"`
	Assignee    string `json:"assignee,omitempty"`
}

// ReplyToConversation posts reply on conversation id.
func (c *Client) ReplyToConversation(ctx context.Context, id string, reply Reply) error {
	if err := c.api.Do(ctx, http.MethodPost, "/conversations/"+url.PathEscape(id)+"/reply", reply, nil); err != nil {
		return fmt.Errorf("reply to conversation %s: %w", id, err)
	}
	return nil
}

// SearchContactsByEmail returns contacts whose email equals email.
func (c *Client) SearchContactsByEmail(ctx context.Context, email string) ([]models.Contact, error) {
	q := map[string]interface{}{
		"query": map[string]string{"field": "email", "operator": "=", "value": email},
	}
	var resp contactList
	if err := c.api.Do(ctx, http.MethodPost, "/contacts/search", q, &resp); err != nil {
		return nil, fmt.Errorf("search contacts: %w", err)
	}
	out := make([]models.Contact, 0, len(resp.Data))
	for _, raw := range resp.Data {
		out = append(out, raw.toModel())
	}
	return out, nil
}
