package webhook

import (
	"bytes"
	"encoding/json"
)

// Intercom notification topics handled by the service.
const (
	TopicConversationCreated = "conversation.user.created"
	TopicTagCreated          = "conversation_part.tag.created"
	TopicUserCreated         = "user.created"
	TopicContactCreated      = "contact.user.created"
)

// flexID accepts ids sent as either JSON strings or numbers.
type flexID string

func (f *flexID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		*f = ""
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = flexID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*f = flexID(n.String())
	return nil
}

// Notification is an Intercom webhook body.
type Notification struct {
	Topic string `json:"topic"`
	Data  struct {
		Item Item `json:"item"`
	} `json:"data"`
}

type idRef struct {
	ID flexID `json:"id"`
}

// Item is the union of the item shapes of the handled topics.
type Item struct {
	ID    flexID `json:"id"`
	Email string `json:"email"`
	Role  string `json:"role"`
	User  *idRef `json:"user"`

	Contacts *struct {
		Contacts []idRef `json:"contacts"`
	} `json:"contacts"`

	TagsAdded struct {
		Tags []struct {
			Name string `json:"name"`
		} `json:"tags"`
	} `json:"tags_added"`

	ConversationParts struct {
		ConversationParts []struct {
			Body string `json:"body"`
		} `json:"conversation_parts"`
	} `json:"conversation_parts"`
}

// UserID returns the author of a conversation, from the legacy user field or the first contact.
func (it Item) UserID() string {
	if it.User != nil && it.User.ID != "" {
		return string(it.User.ID)
	}
	if it.Contacts != nil && len(it.Contacts.Contacts) > 0 {
		return string(it.Contacts.Contacts[0].ID)
	}
	return ""
}

// TagNames returns the names of the tags added.
func (it Item) TagNames() []string {
	names := make([]string, 0, len(it.TagsAdded.Tags))
	for _, t := range it.TagsAdded.Tags {
		names = append(names, t.Name)
	}
	return names
}

// FirstPartBody returns the body of the first conversation part, or "".
func (it Item) FirstPartBody() string {
	if parts := it.ConversationParts.ConversationParts; len(parts) > 0 {
		return parts[0].Body
	}
	return ""
}

func hasHelpArticleTag(tags []string) bool {
	for _, t := range tags {
		for _, want := range HelpArticleTags {
			if t == want {
				return true
			}
		}
	}
	return false
}
